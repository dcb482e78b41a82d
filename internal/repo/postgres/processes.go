package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sgc-labs/sgc-go/internal/domain"
)

const (
	selectProcessQuery = `SELECT process_id, description, process_type, situation, deadline, created_at, finalized_at
		 FROM processes
		 WHERE process_id = $1`

	lockProcessQuery = selectProcessQuery + ` FOR UPDATE`

	selectParticipantsQuery = `SELECT unit_id
		 FROM process_participants
		 WHERE process_id = $1
		 ORDER BY unit_id`

	upsertProcessQuery = `INSERT INTO processes (
			process_id,
			description,
			process_type,
			situation,
			deadline,
			created_at,
			finalized_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (process_id) DO UPDATE SET
			description = EXCLUDED.description,
			situation = EXCLUDED.situation,
			deadline = EXCLUDED.deadline,
			finalized_at = EXCLUDED.finalized_at`

	deleteParticipantsQuery = `DELETE FROM process_participants WHERE process_id = $1`

	insertParticipantsQuery = `INSERT INTO process_participants (process_id, unit_id)
		 SELECT $1, unnest($2::bigint[])`

	unitsInOtherActiveProcessesQuery = `SELECT DISTINCT pp.unit_id
		 FROM process_participants pp
		 JOIN processes p ON p.process_id = pp.process_id
		 WHERE p.situation IN ('CREATED', 'IN_PROGRESS')
		   AND pp.process_id <> $1
		   AND pp.unit_id = ANY($2::bigint[])
		 ORDER BY pp.unit_id`
)

type ProcessStore struct {
	db DB
}

func NewProcessStore(db DB) *ProcessStore {
	if db == nil {
		return nil
	}
	return &ProcessStore{db: db}
}

func (s *ProcessStore) FindByID(ctx context.Context, id string) (domain.Process, error) {
	return s.load(ctx, selectProcessQuery, id)
}

// LockByID only holds the row lock when the store is bound to a transaction.
func (s *ProcessStore) LockByID(ctx context.Context, id string) (domain.Process, error) {
	return s.load(ctx, lockProcessQuery, id)
}

func (s *ProcessStore) load(ctx context.Context, query, id string) (domain.Process, error) {
	if s == nil || s.db == nil {
		return domain.Process{}, fmt.Errorf("process store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Process{}, fmt.Errorf("process id is required")
	}

	var p domain.Process
	var deadline, finalizedAt sql.NullTime
	row := s.db.QueryRowContext(ctx, query, id)
	if err := row.Scan(&p.ID, &p.Description, &p.Type, &p.Situation, &deadline, &p.CreatedAt, &finalizedAt); err != nil {
		return domain.Process{}, handleNotFound(err)
	}
	p.Deadline = timePtr(deadline)
	p.FinalizedAt = timePtr(finalizedAt)

	rows, err := s.db.QueryContext(ctx, selectParticipantsQuery, id)
	if err != nil {
		return domain.Process{}, fmt.Errorf("query participants: %w", err)
	}
	participants, err := scanUnitIDs(rows)
	if err != nil {
		return domain.Process{}, fmt.Errorf("scan participants: %w", err)
	}
	p.Participants = participants
	return p, nil
}

func (s *ProcessStore) Save(ctx context.Context, p domain.Process) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("process store not initialized")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(
		ctx,
		upsertProcessQuery,
		strings.TrimSpace(p.ID),
		strings.TrimSpace(p.Description),
		string(p.Type),
		string(p.Situation),
		nullTime(p.Deadline),
		normalizeTime(p.CreatedAt),
		nullTime(p.FinalizedAt),
	)
	if err != nil {
		return classify("upsert process", err)
	}
	if _, err := s.db.ExecContext(ctx, deleteParticipantsQuery, p.ID); err != nil {
		return classify("delete participants", err)
	}
	if len(p.Participants) == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, insertParticipantsQuery, p.ID, unitIDArgs(p.Participants)); err != nil {
		return classify("insert participants", err)
	}
	return nil
}

func (s *ProcessStore) FindUnitIDsInActiveProcessesExcluding(ctx context.Context, processID string, unitIDs []domain.UnitID) ([]domain.UnitID, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("process store not initialized")
	}
	if len(unitIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, unitsInOtherActiveProcessesQuery, strings.TrimSpace(processID), unitIDArgs(unitIDs))
	if err != nil {
		return nil, fmt.Errorf("query active participants: %w", err)
	}
	ids, err := scanUnitIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("scan active participants: %w", err)
	}
	return ids, nil
}
