package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sgc-labs/sgc-go/internal/domain"
)

const (
	subprocessColumns = `subprocess_id, process_id, unit_id, map_id, situation, deadline, created_at, updated_at`

	selectSubprocessesByUnitsQuery = `SELECT ` + subprocessColumns + `
		 FROM subprocesses
		 WHERE process_id = $1 AND unit_id = ANY($2::bigint[])
		 ORDER BY unit_id`

	selectSubprocessesByProcessQuery = `SELECT ` + subprocessColumns + `
		 FROM subprocesses
		 WHERE process_id = $1
		 ORDER BY unit_id`

	upsertSubprocessQuery = `INSERT INTO subprocesses (` + subprocessColumns + `)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (subprocess_id) DO UPDATE SET
			map_id = EXCLUDED.map_id,
			situation = EXCLUDED.situation,
			deadline = EXCLUDED.deadline,
			updated_at = EXCLUDED.updated_at`

	insertMovementQuery = `INSERT INTO subprocess_movements (
			movement_id,
			subprocess_id,
			action,
			from_situation,
			to_situation,
			actor,
			note,
			occurred_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	listMovementsQuery = `SELECT movement_id, subprocess_id, action, from_situation, to_situation, actor, note, occurred_at
		 FROM subprocess_movements
		 WHERE subprocess_id = $1
		 ORDER BY occurred_at ASC, movement_id ASC`
)

type SubprocessStore struct {
	db DB
}

func NewSubprocessStore(db DB) *SubprocessStore {
	if db == nil {
		return nil
	}
	return &SubprocessStore{db: db}
}

func (s *SubprocessStore) FindByProcessAndUnits(ctx context.Context, processID string, unitIDs []domain.UnitID) ([]domain.Subprocess, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("subprocess store not initialized")
	}
	if len(unitIDs) == 0 {
		return nil, nil
	}
	return s.query(ctx, selectSubprocessesByUnitsQuery, strings.TrimSpace(processID), unitIDArgs(unitIDs))
}

func (s *SubprocessStore) FindByProcess(ctx context.Context, processID string) ([]domain.Subprocess, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("subprocess store not initialized")
	}
	return s.query(ctx, selectSubprocessesByProcessQuery, strings.TrimSpace(processID))
}

func (s *SubprocessStore) query(ctx context.Context, query string, args ...any) ([]domain.Subprocess, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subprocesses: %w", err)
	}
	defer rows.Close()

	var out []domain.Subprocess
	for rows.Next() {
		var sp domain.Subprocess
		var unitID int64
		var mapID sql.NullString
		var deadline sql.NullTime
		if err := rows.Scan(&sp.ID, &sp.ProcessID, &unitID, &mapID, &sp.Situation, &deadline, &sp.CreatedAt, &sp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan subprocess: %w", err)
		}
		sp.UnitID = domain.UnitID(unitID)
		sp.MapID = stringPtr(mapID)
		sp.Deadline = timePtr(deadline)
		out = append(out, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subprocesses: %w", err)
	}
	return out, nil
}

func (s *SubprocessStore) Save(ctx context.Context, sp domain.Subprocess) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("subprocess store not initialized")
	}
	if err := sp.Validate(); err != nil {
		return err
	}
	updatedAt := sp.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		upsertSubprocessQuery,
		sp.ID,
		sp.ProcessID,
		int64(sp.UnitID),
		nullString(sp.MapID),
		string(sp.Situation),
		nullTime(sp.Deadline),
		normalizeTime(sp.CreatedAt),
		updatedAt.UTC(),
	)
	return classify("upsert subprocess", err)
}

func (s *SubprocessStore) SaveAll(ctx context.Context, subprocesses []domain.Subprocess) error {
	for _, sp := range subprocesses {
		if err := s.Save(ctx, sp); err != nil {
			return err
		}
	}
	return nil
}

func (s *SubprocessStore) AppendMovements(ctx context.Context, movements []domain.Movement) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("subprocess store not initialized")
	}
	for _, m := range movements {
		id := strings.TrimSpace(m.ID)
		if id == "" {
			id = uuid.NewString()
		}
		_, err := s.db.ExecContext(
			ctx,
			insertMovementQuery,
			id,
			m.SubprocessID,
			string(m.Action),
			string(m.From),
			string(m.To),
			strings.TrimSpace(m.Actor),
			m.Note,
			normalizeTime(m.OccurredAt),
		)
		if err != nil {
			return classify("insert movement", err)
		}
	}
	return nil
}

func (s *SubprocessStore) ListMovements(ctx context.Context, subprocessID string) ([]domain.Movement, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("subprocess store not initialized")
	}
	rows, err := s.db.QueryContext(ctx, listMovementsQuery, strings.TrimSpace(subprocessID))
	if err != nil {
		return nil, fmt.Errorf("query movements: %w", err)
	}
	defer rows.Close()

	var out []domain.Movement
	for rows.Next() {
		var m domain.Movement
		if err := rows.Scan(&m.ID, &m.SubprocessID, &m.Action, &m.From, &m.To, &m.Actor, &m.Note, &m.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate movements: %w", err)
	}
	return out, nil
}
