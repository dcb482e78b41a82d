// Package subprocesses drives batches of per-unit subprocesses through the
// transition table of their process type.
package subprocesses

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sgc-labs/sgc-go/internal/domain"
	"github.com/sgc-labs/sgc-go/internal/platform/auth"
	"github.com/sgc-labs/sgc-go/internal/repo"
)

type DisponibilizeRequest struct {
	Deadline *time.Time
	Note     string
}

type Service struct {
	tx     repo.Transactor
	logger *slog.Logger
	now    func() time.Time
}

func New(tx repo.Transactor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Service{tx: tx, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Disponibilize submits the cadastro or the map of each unit for analysis and
// records the analysis deadline.
func (s *Service) Disponibilize(ctx context.Context, processID string, unitIDs []domain.UnitID, req DisponibilizeRequest) error {
	return s.apply(ctx, processID, unitIDs, domain.ActionDisponibilize, req.Note, func(sp *domain.Subprocess) error {
		if req.Deadline != nil {
			deadline := req.Deadline.UTC()
			sp.Deadline = &deadline
		}
		return nil
	})
}

func (s *Service) StartCadastro(ctx context.Context, processID string, unitIDs []domain.UnitID) error {
	return s.apply(ctx, processID, unitIDs, domain.ActionStartCadastro, "", nil)
}

func (s *Service) ReturnForCorrection(ctx context.Context, processID string, unitIDs []domain.UnitID, note string) error {
	if strings.TrimSpace(note) == "" {
		return domain.NewValidation("a justification is required to return for correction")
	}
	return s.apply(ctx, processID, unitIDs, domain.ActionReturnForCorrection, note, nil)
}

func (s *Service) AcceptCadastro(ctx context.Context, processID string, unitIDs []domain.UnitID) error {
	return s.apply(ctx, processID, unitIDs, domain.ActionAcceptCadastro, "", nil)
}

func (s *Service) HomologateCadastro(ctx context.Context, processID string, unitIDs []domain.UnitID) error {
	return s.apply(ctx, processID, unitIDs, domain.ActionHomologateCadastro, "", nil)
}

func (s *Service) ValidateMap(ctx context.Context, processID string, unitIDs []domain.UnitID) error {
	return s.apply(ctx, processID, unitIDs, domain.ActionValidateMap, "", nil)
}

func (s *Service) AcceptValidation(ctx context.Context, processID string, unitIDs []domain.UnitID) error {
	return s.apply(ctx, processID, unitIDs, domain.ActionAcceptValidation, "", nil)
}

func (s *Service) HomologateValidation(ctx context.Context, processID string, unitIDs []domain.UnitID) error {
	return s.apply(ctx, processID, unitIDs, domain.ActionHomologateValidation, "", nil)
}

// CreateMap attaches mapID to the subprocess of unitID.
func (s *Service) CreateMap(ctx context.Context, processID string, unitID domain.UnitID, mapID string) error {
	mapID = strings.TrimSpace(mapID)
	if mapID == "" {
		return domain.NewValidation("map id is required")
	}
	return s.apply(ctx, processID, []domain.UnitID{unitID}, domain.ActionCreateMap, "", func(sp *domain.Subprocess) error {
		sp.MapID = &mapID
		return nil
	})
}

// apply validates every target before writing anything. The first ineligible
// subprocess fails the whole batch.
func (s *Service) apply(ctx context.Context, processID string, unitIDs []domain.UnitID, action domain.Action, note string, mutate func(*domain.Subprocess) error) error {
	unitIDs = domain.UniqueUnitIDs(unitIDs)
	if len(unitIDs) == 0 {
		return domain.NewValidation("at least one unit is required")
	}
	actor := auth.ActorFromContext(ctx)

	err := s.tx.InTx(ctx, func(ctx context.Context, stores repo.Stores) error {
		process, err := stores.Processes.FindByID(ctx, processID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.NewNotFound("process", processID)
			}
			return fmt.Errorf("load process: %w", err)
		}
		if process.Situation != domain.ProcessInProgress {
			return &domain.TransitionError{
				Entity:    "process",
				ID:        process.ID,
				Situation: string(process.Situation),
				Operation: string(action),
			}
		}

		found, err := stores.Subprocesses.FindByProcessAndUnits(ctx, processID, unitIDs)
		if err != nil {
			return fmt.Errorf("load subprocesses: %w", err)
		}
		byUnit := make(map[domain.UnitID]domain.Subprocess, len(found))
		for _, sp := range found {
			byUnit[sp.UnitID] = sp
		}

		now := s.now()
		updated := make([]domain.Subprocess, 0, len(unitIDs))
		movements := make([]domain.Movement, 0, len(unitIDs))
		for _, unitID := range unitIDs {
			sp, ok := byUnit[unitID]
			if !ok {
				return domain.NewNotFound("subprocess", processID+"/"+unitID.String())
			}
			from, err := domain.ApplyTransition(process.Type, action, &sp)
			if err != nil {
				return err
			}
			if mutate != nil {
				if err := mutate(&sp); err != nil {
					return err
				}
			}
			sp.UpdatedAt = now
			updated = append(updated, sp)
			movements = append(movements, domain.Movement{
				ID:           uuid.NewString(),
				SubprocessID: sp.ID,
				Action:       action,
				From:         from,
				To:           sp.Situation,
				Actor:        actor,
				Note:         note,
				OccurredAt:   now,
			})
		}

		if err := stores.Subprocesses.SaveAll(ctx, updated); err != nil {
			return fmt.Errorf("save subprocesses: %w", err)
		}
		if err := stores.Subprocesses.AppendMovements(ctx, movements); err != nil {
			return fmt.Errorf("append movements: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("subprocess transition",
		"process_id", processID,
		"action", string(action),
		"units", unitIDs,
		"actor", actor,
	)
	return nil
}
