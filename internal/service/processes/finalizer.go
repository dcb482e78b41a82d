package processes

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sgc-labs/sgc-go/internal/domain"
	"github.com/sgc-labs/sgc-go/internal/platform/auditlog"
	"github.com/sgc-labs/sgc-go/internal/repo"
)

// Finalizer closes a process and promotes each subprocess map to the current
// map of its unit.
type Finalizer struct {
	tx       repo.Transactor
	notifier repo.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewFinalizer(tx repo.Transactor, notifier repo.Notifier, logger *slog.Logger) *Finalizer {
	if notifier == nil {
		notifier = repo.NopNotifier{}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Finalizer{
		tx:       tx,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (f *Finalizer) Finalize(ctx context.Context, processID string) error {
	var finalized domain.Process
	var promoted int

	err := f.tx.InTx(ctx, func(ctx context.Context, stores repo.Stores) error {
		p, err := stores.Processes.LockByID(ctx, processID)
		if err != nil {
			return notFoundOr(err, "process", processID)
		}
		if p.Situation != domain.ProcessInProgress {
			return &domain.TransitionError{
				Entity:    "process",
				ID:        p.ID,
				Situation: string(p.Situation),
				Operation: "finalize (only IN_PROGRESS processes can be finalized)",
			}
		}

		if p.Type.HasMapPhase() {
			subs, err := stores.Subprocesses.FindByProcess(ctx, p.ID)
			if err != nil {
				return fmt.Errorf("load subprocesses: %w", err)
			}
			if err := checkHomologated(ctx, stores.Units, subs); err != nil {
				return err
			}
			for _, sp := range subs {
				if sp.HasMap() {
					continue
				}
				label, err := unitLabels(ctx, stores.Units, []domain.UnitID{sp.UnitID})
				if err != nil {
					return err
				}
				return domain.NewValidation(fmt.Sprintf("subprocess %s of unit %s has no map", sp.ID, label[0]))
			}
			for _, sp := range subs {
				if err := stores.Units.SetCurrentMap(ctx, sp.UnitID, *sp.MapID); err != nil {
					return fmt.Errorf("set current map of unit %s: %w", sp.UnitID, err)
				}
			}
			promoted = len(subs)
		}

		if err := p.TransitionTo(domain.ProcessFinalized, f.now()); err != nil {
			return err
		}
		if err := stores.Processes.Save(ctx, p); err != nil {
			return fmt.Errorf("save process: %w", err)
		}
		finalized = p
		return appendAudit(ctx, stores, auditlog.ActionProcessFinalized, p, map[string]any{
			"type":            string(p.Type),
			"maps_promoted":   promoted,
			"finalized_at_ms": p.FinalizedAt.UnixMilli(),
		})
	})
	if err != nil {
		return err
	}

	f.logger.Info("process finalized", "process_id", finalized.ID, "type", string(finalized.Type), "maps_promoted", promoted)
	if err := f.notifier.OnProcessFinalized(ctx, finalized); err != nil {
		f.logger.Warn("process finalized notification failed", "process_id", finalized.ID, "error", err)
	}
	return nil
}

func checkHomologated(ctx context.Context, units repo.UnitRepository, subs []domain.Subprocess) error {
	var pending []domain.UnitID
	for _, sp := range subs {
		if sp.Situation != domain.MapHomologated {
			pending = append(pending, sp.UnitID)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	labels, err := unitLabels(ctx, units, pending)
	if err != nil {
		return err
	}
	var v domain.Violations
	v.AddList(msgNotHomologated, labels)
	return v.Err()
}
