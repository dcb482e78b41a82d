package repo

import (
	"context"
	"errors"

	"github.com/sgc-labs/sgc-go/internal/domain"
	"github.com/sgc-labs/sgc-go/internal/platform/auditlog"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// UnitRepository reads the organization registry and maintains the
// unit -> current map association.
type UnitRepository interface {
	FindByID(ctx context.Context, id domain.UnitID) (domain.Unit, error)
	FindByIDs(ctx context.Context, ids []domain.UnitID) ([]domain.Unit, error)
	FindAllWithHierarchy(ctx context.Context) ([]domain.Unit, error)
	FindSiglasByIDs(ctx context.Context, ids []domain.UnitID) ([]string, error)
	HasCurrentMap(ctx context.Context, id domain.UnitID) (bool, error)
	SetCurrentMap(ctx context.Context, id domain.UnitID, mapID string) error
}

// SubprocessRepository manages subprocesses and their movement trail.
type SubprocessRepository interface {
	FindByProcessAndUnits(ctx context.Context, processID string, unitIDs []domain.UnitID) ([]domain.Subprocess, error)
	FindByProcess(ctx context.Context, processID string) ([]domain.Subprocess, error)
	Save(ctx context.Context, subprocess domain.Subprocess) error
	SaveAll(ctx context.Context, subprocesses []domain.Subprocess) error
	AppendMovements(ctx context.Context, movements []domain.Movement) error
	ListMovements(ctx context.Context, subprocessID string) ([]domain.Movement, error)
}

// ProcessRepository manages processes and their participants.
type ProcessRepository interface {
	FindByID(ctx context.Context, id string) (domain.Process, error)
	// LockByID loads the process and holds it until the unit of work ends.
	LockByID(ctx context.Context, id string) (domain.Process, error)
	Save(ctx context.Context, process domain.Process) error
	FindUnitIDsInActiveProcessesExcluding(ctx context.Context, processID string, unitIDs []domain.UnitID) ([]domain.UnitID, error)
}

// AuditAppender ensures append-only audit writes.
type AuditAppender interface {
	Append(ctx context.Context, event auditlog.Event) error
}

// ProfileSource resolves the role assignments of a login.
type ProfileSource interface {
	ProfilesFor(ctx context.Context, login string) ([]domain.Profile, error)
}

// Notifier receives lifecycle notifications after the unit of work commits.
type Notifier interface {
	OnProcessStarted(ctx context.Context, process domain.Process, unitIDs []domain.UnitID) error
	OnProcessFinalized(ctx context.Context, process domain.Process) error
}

// Stores bundles repositories bound to one unit of work.
type Stores struct {
	Processes    ProcessRepository
	Subprocesses SubprocessRepository
	Units        UnitRepository
	Audit        AuditAppender
}

// Transactor runs fn as a single atomic unit of work. Calls nested inside fn
// with the context it receives join the same unit of work.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) OnProcessStarted(context.Context, domain.Process, []domain.UnitID) error {
	return nil
}

func (NopNotifier) OnProcessFinalized(context.Context, domain.Process) error {
	return nil
}
