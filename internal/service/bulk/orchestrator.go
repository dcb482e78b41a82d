// Package bulk routes a block action over many units to the cadastro or the
// validation variant of the transition, depending on each unit's situation.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sgc-labs/sgc-go/internal/domain"
	"github.com/sgc-labs/sgc-go/internal/platform/auditlog"
	"github.com/sgc-labs/sgc-go/internal/platform/auth"
	"github.com/sgc-labs/sgc-go/internal/repo"
	"github.com/sgc-labs/sgc-go/internal/service/subprocesses"
)

type BulkAction string

const (
	ActionNone          BulkAction = ""
	ActionDisponibilize BulkAction = "DISPONIBILIZE"
	ActionAccept        BulkAction = "ACCEPT"
	ActionHomologate    BulkAction = "HOMOLOGATE"
)

// BlockNote is recorded on every movement produced by a block submission.
const BlockNote = "Disponibilização em bloco"

func ParseBulkAction(value string) BulkAction {
	return BulkAction(strings.ToUpper(strings.TrimSpace(value)))
}

// Transitions is the subset of the subprocess lifecycle the orchestrator drives.
type Transitions interface {
	Disponibilize(ctx context.Context, processID string, unitIDs []domain.UnitID, req subprocesses.DisponibilizeRequest) error
	AcceptCadastro(ctx context.Context, processID string, unitIDs []domain.UnitID) error
	AcceptValidation(ctx context.Context, processID string, unitIDs []domain.UnitID) error
	HomologateCadastro(ctx context.Context, processID string, unitIDs []domain.UnitID) error
	HomologateValidation(ctx context.Context, processID string, unitIDs []domain.UnitID) error
}

type Orchestrator struct {
	tx          repo.Transactor
	transitions Transitions
	logger      *slog.Logger
}

func New(tx repo.Transactor, transitions Transitions, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Orchestrator{tx: tx, transitions: transitions, logger: logger}
}

// ExecuteBulkAction runs action over unitIDs as one unit of work. The
// transitions it dispatches join that unit of work through the context.
func (o *Orchestrator) ExecuteBulkAction(ctx context.Context, processID string, unitIDs []domain.UnitID, action BulkAction, deadline *time.Time) error {
	switch action {
	case ActionNone:
		return nil
	case ActionDisponibilize, ActionAccept, ActionHomologate:
	default:
		return domain.NewValidation(fmt.Sprintf("unsupported bulk action %q", string(action)))
	}
	unitIDs = domain.UniqueUnitIDs(unitIDs)
	if len(unitIDs) == 0 {
		return domain.NewValidation("at least one unit is required")
	}

	var cadastro, validation []domain.UnitID
	err := o.tx.InTx(ctx, func(ctx context.Context, stores repo.Stores) error {
		if action == ActionDisponibilize {
			if err := o.transitions.Disponibilize(ctx, processID, unitIDs, subprocesses.DisponibilizeRequest{
				Deadline: deadline,
				Note:     BlockNote,
			}); err != nil {
				return err
			}
			return o.audit(ctx, stores, processID, action, unitIDs, nil, nil)
		}

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
		cadastro, validation = Classify(found)
		if missing := len(unitIDs) - len(cadastro) - len(validation); missing > 0 {
			return domain.NewNotFound("subprocess", fmt.Sprintf("%s (%d of %d units)", processID, missing, len(unitIDs)))
		}

		cadastroFn, validationFn := o.transitions.AcceptCadastro, o.transitions.AcceptValidation
		if action == ActionHomologate {
			cadastroFn, validationFn = o.transitions.HomologateCadastro, o.transitions.HomologateValidation
		}
		if len(cadastro) > 0 {
			if err := cadastroFn(ctx, processID, cadastro); err != nil {
				return err
			}
		}
		if len(validation) > 0 {
			if err := validationFn(ctx, processID, validation); err != nil {
				return err
			}
		}
		return o.audit(ctx, stores, processID, action, unitIDs, cadastro, validation)
	})
	if err != nil {
		return err
	}

	o.logger.Info("bulk action executed",
		"process_id", processID,
		"action", string(action),
		"units", unitIDs,
		"cadastro_units", cadastro,
		"validation_units", validation,
	)
	return nil
}

// Classify splits subprocesses into the cadastro and validation buckets.
func Classify(found []domain.Subprocess) (cadastro, validation []domain.UnitID) {
	for _, sp := range found {
		if domain.IsCadastroPhase(sp.Situation) {
			cadastro = append(cadastro, sp.UnitID)
			continue
		}
		validation = append(validation, sp.UnitID)
	}
	return cadastro, validation
}

func (o *Orchestrator) audit(ctx context.Context, stores repo.Stores, processID string, action BulkAction, units, cadastro, validation []domain.UnitID) error {
	err := stores.Audit.Append(ctx, auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        auth.ActorFromContext(ctx),
		Action:       auditlog.ActionBulkExecuted,
		ResourceType: auditlog.ResourceProcess,
		ResourceID:   processID,
		Payload: map[string]any{
			"action":           string(action),
			"units":            units,
			"cadastro_units":   cadastro,
			"validation_units": validation,
		},
	})
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}
