// Package processes creates, starts and finalizes competency mapping
// processes.
package processes

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sgc-labs/sgc-go/internal/domain"
	"github.com/sgc-labs/sgc-go/internal/platform/auditlog"
	"github.com/sgc-labs/sgc-go/internal/platform/auth"
	"github.com/sgc-labs/sgc-go/internal/repo"
)

type Service struct {
	tx        repo.Transactor
	notifier  repo.Notifier
	validator Validator
	logger    *slog.Logger
	now       func() time.Time
}

func New(tx repo.Transactor, notifier repo.Notifier, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = repo.NopNotifier{}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Service{
		tx:       tx,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (domain.Process, error) {
	if err := s.validator.CheckRequest(req); err != nil {
		return domain.Process{}, err
	}
	ids := domain.UniqueUnitIDs(req.UnitIDs)

	var created domain.Process
	err := s.tx.InTx(ctx, func(ctx context.Context, stores repo.Stores) error {
		members, err := s.validator.LoadUnits(ctx, stores.Units, ids)
		if err != nil {
			return err
		}
		var v domain.Violations
		if err := s.validator.CheckParticipants(ctx, stores.Units, req.Type, members, &v); err != nil {
			return err
		}
		if err := v.Err(); err != nil {
			return err
		}

		now := s.now()
		p := domain.Process{
			ID:           uuid.NewString(),
			Description:  strings.TrimSpace(req.Description),
			Type:         req.Type,
			Situation:    domain.ProcessCreated,
			Deadline:     req.Deadline,
			CreatedAt:    now,
			Participants: ids,
		}
		if err := stores.Processes.Save(ctx, p); err != nil {
			return fmt.Errorf("save process: %w", err)
		}
		created = p
		return appendAudit(ctx, stores, auditlog.ActionProcessCreated, p, map[string]any{
			"type":  string(p.Type),
			"units": ids,
		})
	})
	if err != nil {
		return domain.Process{}, err
	}

	s.logger.Info("process created", "process_id", created.ID, "type", string(created.Type), "units", ids)
	return created, nil
}

// Start fans the process out into one subprocess per target unit. Rule
// violations come back as messages with a nil error, in which case nothing
// was written.
func (s *Service) Start(ctx context.Context, processID string, unitIDs []domain.UnitID) ([]string, error) {
	var started domain.Process
	var targets []domain.UnitID
	var violations []string

	err := s.tx.InTx(ctx, func(ctx context.Context, stores repo.Stores) error {
		p, err := stores.Processes.LockByID(ctx, processID)
		if err != nil {
			return notFoundOr(err, "process", processID)
		}
		if p.Situation != domain.ProcessCreated {
			return &domain.TransitionError{
				Entity:    "process",
				ID:        p.ID,
				Situation: string(p.Situation),
				Operation: "start",
			}
		}

		var v domain.Violations
		targets = p.Participants
		if p.Type == domain.ProcessTypeRevision {
			targets = domain.UniqueUnitIDs(unitIDs)
			if len(targets) == 0 {
				v.Add("at least one unit is required to start a revision")
			}
			var outsiders []domain.UnitID
			for _, id := range targets {
				if !p.HasParticipant(id) {
					outsiders = append(outsiders, id)
				}
			}
			if len(outsiders) > 0 {
				labels, err := unitLabels(ctx, stores.Units, outsiders)
				if err != nil {
					return err
				}
				v.AddList(msgNotParticipants, labels)
			}
		}

		if err := s.validator.CheckConflicts(ctx, stores, p.ID, targets, &v); err != nil {
			return err
		}
		if p.Type == domain.ProcessTypeRevision && len(targets) > 0 {
			members, err := stores.Units.FindByIDs(ctx, targets)
			if err != nil {
				return fmt.Errorf("load units: %w", err)
			}
			if err := s.validator.CheckCurrentMaps(ctx, stores.Units, members, &v); err != nil {
				return err
			}
		}
		if len(v) > 0 {
			violations = v
			return nil
		}

		now := s.now()
		initial := domain.InitialSituation(p.Type)
		actor := auth.ActorFromContext(ctx)
		subs := make([]domain.Subprocess, 0, len(targets))
		movements := make([]domain.Movement, 0, len(targets))
		for _, unitID := range targets {
			sp := domain.Subprocess{
				ID:        uuid.NewString(),
				ProcessID: p.ID,
				UnitID:    unitID,
				Situation: initial,
				Deadline:  p.Deadline,
				CreatedAt: now,
				UpdatedAt: now,
			}
			subs = append(subs, sp)
			movements = append(movements, domain.Movement{
				ID:           uuid.NewString(),
				SubprocessID: sp.ID,
				Action:       domain.ActionProcessStarted,
				From:         initial,
				To:           initial,
				Actor:        actor,
				Note:         "Processo iniciado",
				OccurredAt:   now,
			})
		}
		if err := stores.Subprocesses.SaveAll(ctx, subs); err != nil {
			return fmt.Errorf("save subprocesses: %w", err)
		}
		if err := stores.Subprocesses.AppendMovements(ctx, movements); err != nil {
			return fmt.Errorf("append movements: %w", err)
		}

		if err := p.TransitionTo(domain.ProcessInProgress, now); err != nil {
			return err
		}
		if err := stores.Processes.Save(ctx, p); err != nil {
			return fmt.Errorf("save process: %w", err)
		}
		started = p
		return appendAudit(ctx, stores, auditlog.ActionProcessStarted, p, map[string]any{"units": targets})
	})
	if err != nil {
		return nil, err
	}
	if len(violations) > 0 {
		s.logger.Info("process start rejected", "process_id", processID, "violations", violations)
		return violations, nil
	}

	s.logger.Info("process started", "process_id", started.ID, "type", string(started.Type), "units", targets)
	if err := s.notifier.OnProcessStarted(ctx, started, targets); err != nil {
		s.logger.Warn("process started notification failed", "process_id", started.ID, "error", err)
	}
	return nil, nil
}

func appendAudit(ctx context.Context, stores repo.Stores, action string, p domain.Process, payload map[string]any) error {
	err := stores.Audit.Append(ctx, auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        auth.ActorFromContext(ctx),
		Action:       action,
		ResourceType: auditlog.ResourceProcess,
		ResourceID:   p.ID,
		Payload:      payload,
	})
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// unitLabels prefers siglas and falls back to the raw id for unknown units.
func unitLabels(ctx context.Context, units repo.UnitRepository, ids []domain.UnitID) ([]string, error) {
	found, err := units.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load units: %w", err)
	}
	bySigla := make(map[domain.UnitID]string, len(found))
	for _, u := range found {
		bySigla[u.ID] = u.Sigla
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if sigla, ok := bySigla[id]; ok {
			out = append(out, sigla)
			continue
		}
		out = append(out, id.String())
	}
	return out, nil
}
