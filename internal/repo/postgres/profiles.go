package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sgc-labs/sgc-go/internal/domain"
)

const selectProfilesQuery = `SELECT role, unit_id
	 FROM unit_profiles
	 WHERE login = $1
	 ORDER BY role, unit_id`

// ProfileStore resolves role assignments replicated from the personnel registry.
type ProfileStore struct {
	db DB
}

func NewProfileStore(db DB) *ProfileStore {
	if db == nil {
		return nil
	}
	return &ProfileStore{db: db}
}

func (s *ProfileStore) ProfilesFor(ctx context.Context, login string) ([]domain.Profile, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("profile store not initialized")
	}
	login = strings.TrimSpace(login)
	if login == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, selectProfilesQuery, login)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()
	var out []domain.Profile
	for rows.Next() {
		var p domain.Profile
		var unitID sql.NullInt64
		if err := rows.Scan(&p.Role, &unitID); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		if unitID.Valid {
			p.UnitID = domain.UnitIDPtr(domain.UnitID(unitID.Int64))
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return out, nil
}
