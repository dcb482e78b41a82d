package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sgc-labs/sgc-go/internal/domain"
)

const (
	unitColumns = `unit_id, sigla, name, unit_type, parent_id`

	selectUnitQuery = `SELECT ` + unitColumns + ` FROM units WHERE unit_id = $1`

	selectUnitsByIDsQuery = `SELECT ` + unitColumns + `
		 FROM units
		 WHERE unit_id = ANY($1::bigint[])
		 ORDER BY unit_id`

	selectAllUnitsQuery = `SELECT ` + unitColumns + ` FROM units ORDER BY unit_id`

	selectSiglasQuery = `SELECT sigla
		 FROM units
		 WHERE unit_id = ANY($1::bigint[])
		 ORDER BY sigla`

	hasCurrentMapQuery = `SELECT EXISTS (SELECT 1 FROM unit_current_maps WHERE unit_id = $1)`

	upsertCurrentMapQuery = `INSERT INTO unit_current_maps (unit_id, map_id, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (unit_id) DO UPDATE SET
			map_id = EXCLUDED.map_id,
			updated_at = EXCLUDED.updated_at`
)

// UnitStore reads the organization registry. Units themselves are maintained
// elsewhere; only the current map association is written here.
type UnitStore struct {
	db DB
}

func NewUnitStore(db DB) *UnitStore {
	if db == nil {
		return nil
	}
	return &UnitStore{db: db}
}

func (s *UnitStore) FindByID(ctx context.Context, id domain.UnitID) (domain.Unit, error) {
	if s == nil || s.db == nil {
		return domain.Unit{}, fmt.Errorf("unit store not initialized")
	}
	u, err := scanUnit(s.db.QueryRowContext(ctx, selectUnitQuery, int64(id)))
	if err != nil {
		return domain.Unit{}, handleNotFound(err)
	}
	return u, nil
}

func (s *UnitStore) FindByIDs(ctx context.Context, ids []domain.UnitID) ([]domain.Unit, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("unit store not initialized")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.list(ctx, selectUnitsByIDsQuery, unitIDArgs(ids))
}

func (s *UnitStore) FindAllWithHierarchy(ctx context.Context) ([]domain.Unit, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("unit store not initialized")
	}
	return s.list(ctx, selectAllUnitsQuery)
}

func (s *UnitStore) FindSiglasByIDs(ctx context.Context, ids []domain.UnitID) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("unit store not initialized")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, selectSiglasQuery, unitIDArgs(ids))
	if err != nil {
		return nil, fmt.Errorf("query siglas: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var sigla string
		if err := rows.Scan(&sigla); err != nil {
			return nil, fmt.Errorf("scan sigla: %w", err)
		}
		out = append(out, sigla)
	}
	return out, rows.Err()
}

func (s *UnitStore) HasCurrentMap(ctx context.Context, id domain.UnitID) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("unit store not initialized")
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, hasCurrentMapQuery, int64(id)).Scan(&exists); err != nil {
		return false, fmt.Errorf("query current map: %w", err)
	}
	return exists, nil
}

func (s *UnitStore) SetCurrentMap(ctx context.Context, id domain.UnitID, mapID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("unit store not initialized")
	}
	mapID = strings.TrimSpace(mapID)
	if mapID == "" {
		return fmt.Errorf("map id is required")
	}
	_, err := s.db.ExecContext(ctx, upsertCurrentMapQuery, int64(id), mapID)
	return classify("upsert current map", err)
}

func (s *UnitStore) list(ctx context.Context, query string, args ...any) ([]domain.Unit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()
	var out []domain.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate units: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (domain.Unit, error) {
	var u domain.Unit
	var id int64
	var parent sql.NullInt64
	if err := row.Scan(&id, &u.Sigla, &u.Name, &u.Type, &parent); err != nil {
		return domain.Unit{}, err
	}
	u.ID = domain.UnitID(id)
	if parent.Valid {
		u.ParentID = domain.UnitIDPtr(domain.UnitID(parent.Int64))
	}
	return u, nil
}
