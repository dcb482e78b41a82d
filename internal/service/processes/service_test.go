package processes

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sgc-labs/sgc-go/internal/domain"
	"github.com/sgc-labs/sgc-go/internal/platform/auth"
	"github.com/sgc-labs/sgc-go/internal/repo"
	"github.com/sgc-labs/sgc-go/internal/repo/memory"
	"github.com/sgc-labs/sgc-go/internal/service/bulk"
	"github.com/sgc-labs/sgc-go/internal/service/subprocesses"
)

// Registry used across tests:
//
//	1 ROOT (S1) -> 2 INTERMEDIATE (S2) -> 3 (S3), 4 (S4); 1 -> 5 (S5)
func newStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	store.AddUnits(
		domain.Unit{ID: 1, Sigla: "S1", Type: domain.UnitTypeRoot},
		domain.Unit{ID: 2, Sigla: "S2", Type: domain.UnitTypeIntermediate, ParentID: domain.UnitIDPtr(1)},
		domain.Unit{ID: 3, Sigla: "S3", Type: domain.UnitTypeOperational, ParentID: domain.UnitIDPtr(2)},
		domain.Unit{ID: 4, Sigla: "S4", Type: domain.UnitTypeOperational, ParentID: domain.UnitIDPtr(2)},
		domain.Unit{ID: 5, Sigla: "S5", Type: domain.UnitTypeOperational, ParentID: domain.UnitIDPtr(1)},
	)
	return store
}

func setCurrentMap(t *testing.T, store *memory.Store, unit domain.UnitID, mapID string) {
	t.Helper()
	if err := store.Stores().Units.SetCurrentMap(context.Background(), unit, mapID); err != nil {
		t.Fatalf("SetCurrentMap() err=%v", err)
	}
}

type recordingNotifier struct {
	started   []domain.UnitID
	finalized []string
	err       error
}

func (n *recordingNotifier) OnProcessStarted(ctx context.Context, p domain.Process, units []domain.UnitID) error {
	n.started = append(n.started, units...)
	return n.err
}

func (n *recordingNotifier) OnProcessFinalized(ctx context.Context, p domain.Process) error {
	n.finalized = append(n.finalized, p.ID)
	return n.err
}

func mustCreate(t *testing.T, svc *Service, typ domain.ProcessType, units ...domain.UnitID) domain.Process {
	t.Helper()
	p, err := svc.Create(context.Background(), CreateRequest{Description: "Ciclo 2025", Type: typ, UnitIDs: units})
	if err != nil {
		t.Fatalf("Create() err=%v", err)
	}
	return p
}

func TestCreateValidatesRequest(t *testing.T) {
	svc := New(newStore(t), nil, nil)
	_, err := svc.Create(context.Background(), CreateRequest{Type: "OTHER"})
	if !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("err=%v, want validation", err)
	}
	if got := domain.ViolationsOf(err); len(got) != 3 {
		t.Fatalf("violations=%v, want description, type and units", got)
	}
}

func TestCreateRejectsIntermediateAndUnknownUnits(t *testing.T) {
	svc := New(newStore(t), nil, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{Description: "x", Type: domain.ProcessTypeMapping, UnitIDs: []domain.UnitID{2, 3}})
	if got := domain.ViolationsOf(err); len(got) != 1 || got[0] != msgIntermediateUnits+": S2" {
		t.Fatalf("violations=%v", got)
	}

	_, err = svc.Create(ctx, CreateRequest{Description: "x", Type: domain.ProcessTypeMapping, UnitIDs: []domain.UnitID{3, 99}})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err=%v, want not found", err)
	}
}

func TestCreateRevisionListsUnitsWithoutMap(t *testing.T) {
	store := newStore(t)
	setCurrentMap(t, store, 3, "map-3")
	svc := New(store, nil, nil)

	_, err := svc.Create(context.Background(), CreateRequest{Description: "x", Type: domain.ProcessTypeRevision, UnitIDs: []domain.UnitID{3, 4}})
	got := domain.ViolationsOf(err)
	if len(got) != 1 || got[0] != msgMissingCurrentMap+": S4" {
		t.Fatalf("violations=%v", got)
	}
}

func TestCreatePersistsAndAudits(t *testing.T) {
	store := newStore(t)
	svc := New(store, nil, nil)
	ctx := auth.ContextWithIdentity(context.Background(), auth.Identity{Subject: "gestor"})

	p, err := svc.Create(ctx, CreateRequest{Description: " Ciclo ", Type: domain.ProcessTypeMapping, UnitIDs: []domain.UnitID{3, 3, 5}})
	if err != nil {
		t.Fatalf("Create() err=%v", err)
	}
	if p.ID == "" || p.Situation != domain.ProcessCreated || p.Description != "Ciclo" || len(p.Participants) != 2 {
		t.Fatalf("unexpected process %+v", p)
	}
	events := store.AuditEvents()
	if len(events) != 1 || events[0].Actor != "gestor" || events[0].ResourceID != p.ID {
		t.Fatalf("unexpected audit %+v", events)
	}
}

func TestStartMappingCreatesSubprocesses(t *testing.T) {
	store := newStore(t)
	notifier := &recordingNotifier{}
	svc := New(store, notifier, nil)
	p := mustCreate(t, svc, domain.ProcessTypeMapping, 3, 5)

	violations, err := svc.Start(context.Background(), p.ID, nil)
	if err != nil || len(violations) != 0 {
		t.Fatalf("Start()=(%v, %v)", violations, err)
	}
	subs, err := store.Stores().Subprocesses.FindByProcess(context.Background(), p.ID)
	if err != nil || len(subs) != 2 {
		t.Fatalf("FindByProcess()=(%v, %v)", subs, err)
	}
	for _, sp := range subs {
		if sp.Situation != domain.CadastroNotStarted {
			t.Fatalf("unit %d situation=%s", sp.UnitID, sp.Situation)
		}
		moves, _ := store.Stores().Subprocesses.ListMovements(context.Background(), sp.ID)
		if len(moves) != 1 || moves[0].Action != domain.ActionProcessStarted {
			t.Fatalf("unit %d movements=%+v", sp.UnitID, moves)
		}
	}
	got, _ := store.Stores().Processes.FindByID(context.Background(), p.ID)
	if got.Situation != domain.ProcessInProgress {
		t.Fatalf("situation=%s", got.Situation)
	}
	if len(notifier.started) != 2 {
		t.Fatalf("notifier saw %v", notifier.started)
	}

	if _, err := svc.Start(context.Background(), p.ID, nil); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("second start err=%v", err)
	}
}

func TestStartReportsConflictsWithoutWriting(t *testing.T) {
	store := newStore(t)
	svc := New(store, nil, nil)
	first := mustCreate(t, svc, domain.ProcessTypeMapping, 3)
	if _, err := svc.Start(context.Background(), first.ID, nil); err != nil {
		t.Fatalf("Start(first) err=%v", err)
	}
	second := mustCreate(t, svc, domain.ProcessTypeMapping, 3, 4)

	violations, err := svc.Start(context.Background(), second.ID, nil)
	if err != nil {
		t.Fatalf("Start() err=%v", err)
	}
	if len(violations) != 1 || violations[0] != msgActiveElsewhere+": S3" {
		t.Fatalf("violations=%v", violations)
	}
	subs, _ := store.Stores().Subprocesses.FindByProcess(context.Background(), second.ID)
	if len(subs) != 0 {
		t.Fatalf("rejected start wrote %d subprocesses", len(subs))
	}
	got, _ := store.Stores().Processes.FindByID(context.Background(), second.ID)
	if got.Situation != domain.ProcessCreated {
		t.Fatalf("situation=%s", got.Situation)
	}
}

func TestStartRevisionTargetsChosenParticipants(t *testing.T) {
	store := newStore(t)
	for _, unit := range []domain.UnitID{3, 4, 5} {
		setCurrentMap(t, store, unit, "map-"+unit.String())
	}
	svc := New(store, nil, nil)
	p := mustCreate(t, svc, domain.ProcessTypeRevision, 3, 4)

	violations, err := svc.Start(context.Background(), p.ID, nil)
	if err != nil || len(violations) != 1 {
		t.Fatalf("empty targets: (%v, %v)", violations, err)
	}
	violations, err = svc.Start(context.Background(), p.ID, []domain.UnitID{3, 5})
	if err != nil || len(violations) != 1 || violations[0] != msgNotParticipants+": S5" {
		t.Fatalf("outsider: (%v, %v)", violations, err)
	}

	violations, err = svc.Start(context.Background(), p.ID, []domain.UnitID{4})
	if err != nil || len(violations) != 0 {
		t.Fatalf("Start()=(%v, %v)", violations, err)
	}
	subs, _ := store.Stores().Subprocesses.FindByProcess(context.Background(), p.ID)
	if len(subs) != 1 || subs[0].UnitID != 4 {
		t.Fatalf("subprocesses=%+v", subs)
	}
}

func TestNotifierFailureDoesNotFailStart(t *testing.T) {
	store := newStore(t)
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	svc := New(store, notifier, nil)
	p := mustCreate(t, svc, domain.ProcessTypeMapping, 3)

	if _, err := svc.Start(context.Background(), p.ID, nil); err != nil {
		t.Fatalf("Start() err=%v", err)
	}
	got, _ := store.Stores().Processes.FindByID(context.Background(), p.ID)
	if got.Situation != domain.ProcessInProgress {
		t.Fatalf("start must stay committed, situation=%s", got.Situation)
	}
}

// guardedTransactor fails any subprocess read made through its units of work.
type guardedTransactor struct {
	inner repo.Transactor
	reads int
}

type countingSubprocesses struct {
	repo.SubprocessRepository
	tx *guardedTransactor
}

func (c countingSubprocesses) FindByProcess(ctx context.Context, processID string) ([]domain.Subprocess, error) {
	c.tx.reads++
	return c.SubprocessRepository.FindByProcess(ctx, processID)
}

func (g *guardedTransactor) InTx(ctx context.Context, fn func(ctx context.Context, stores repo.Stores) error) error {
	return g.inner.InTx(ctx, func(ctx context.Context, stores repo.Stores) error {
		stores.Subprocesses = countingSubprocesses{SubprocessRepository: stores.Subprocesses, tx: g}
		return fn(ctx, stores)
	})
}

func seedInProgress(t *testing.T, store *memory.Store, typ domain.ProcessType, subs ...domain.Subprocess) {
	t.Helper()
	ctx := context.Background()
	p := domain.Process{ID: "p-1", Description: "Ciclo", Type: typ, Situation: domain.ProcessInProgress}
	for i := range subs {
		subs[i].ProcessID = p.ID
		p.Participants = append(p.Participants, subs[i].UnitID)
	}
	if err := store.Stores().Processes.Save(ctx, p); err != nil {
		t.Fatalf("Save() err=%v", err)
	}
	if err := store.Stores().Subprocesses.SaveAll(ctx, subs); err != nil {
		t.Fatalf("SaveAll() err=%v", err)
	}
}

func TestFinalizeDiagnosisSkipsSubprocesses(t *testing.T) {
	store := newStore(t)
	seedInProgress(t, store, domain.ProcessTypeDiagnosis,
		domain.Subprocess{ID: "sp-3", UnitID: 3, Situation: domain.DiagnosisCadastroInProgress})
	tx := &guardedTransactor{inner: store}
	notifier := &recordingNotifier{}

	if err := NewFinalizer(tx, notifier, nil).Finalize(context.Background(), "p-1"); err != nil {
		t.Fatalf("Finalize() err=%v", err)
	}
	if tx.reads != 0 {
		t.Fatalf("diagnosis finalize read subprocesses %d times", tx.reads)
	}
	got, _ := store.Stores().Processes.FindByID(context.Background(), "p-1")
	if got.Situation != domain.ProcessFinalized || got.FinalizedAt == nil {
		t.Fatalf("process=%+v", got)
	}
	if len(notifier.finalized) != 1 {
		t.Fatalf("notifier saw %v", notifier.finalized)
	}
}

func TestFinalizeRequiresMaps(t *testing.T) {
	store := newStore(t)
	seedInProgress(t, store, domain.ProcessTypeMapping,
		domain.Subprocess{ID: "sp-3", UnitID: 3, Situation: domain.MapHomologated})

	err := NewFinalizer(store, nil, nil).Finalize(context.Background(), "p-1")
	if !errors.Is(err, domain.ErrValidationFailed) || !strings.Contains(err.Error(), "sp-3") {
		t.Fatalf("err=%v, want validation naming sp-3", err)
	}
	got, _ := store.Stores().Processes.FindByID(context.Background(), "p-1")
	if got.Situation != domain.ProcessInProgress {
		t.Fatalf("situation=%s", got.Situation)
	}
}

func TestFinalizePromotesCurrentMaps(t *testing.T) {
	store := newStore(t)
	setCurrentMap(t, store, 3, "old-3")
	mapID := "map-3"
	seedInProgress(t, store, domain.ProcessTypeMapping,
		domain.Subprocess{ID: "sp-3", UnitID: 3, Situation: domain.MapHomologated, MapID: &mapID})
	finalizer := NewFinalizer(store, nil, nil)

	if err := finalizer.Finalize(context.Background(), "p-1"); err != nil {
		t.Fatalf("Finalize() err=%v", err)
	}
	if got, ok := store.CurrentMap(3); !ok || got != "map-3" {
		t.Fatalf("CurrentMap(3)=(%q, %v)", got, ok)
	}
	if err := finalizer.Finalize(context.Background(), "p-1"); !errors.Is(err, domain.ErrInvalidStateTransition) {
		t.Fatalf("second finalize err=%v", err)
	}
	if err := finalizer.Finalize(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing process err=%v", err)
	}
}

func TestMappingCycleStopsAtUnhomologatedFinalize(t *testing.T) {
	store := newStore(t)
	ctx := auth.ContextWithIdentity(context.Background(), auth.Identity{Subject: "gestor"})
	svc := New(store, nil, nil)
	orchestrator := bulk.New(store, subprocesses.New(store, nil), nil)

	p := mustCreate(t, svc, domain.ProcessTypeMapping, 3, 4)
	if violations, err := svc.Start(ctx, p.ID, nil); err != nil || len(violations) != 0 {
		t.Fatalf("Start()=(%v, %v)", violations, err)
	}

	deadline := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	if err := orchestrator.ExecuteBulkAction(ctx, p.ID, []domain.UnitID{3, 4}, bulk.ActionDisponibilize, &deadline); err != nil {
		t.Fatalf("bulk disponibilize err=%v", err)
	}
	subs, _ := store.Stores().Subprocesses.FindByProcess(ctx, p.ID)
	for _, sp := range subs {
		if sp.Situation != domain.CadastroDisponibilized {
			t.Fatalf("unit %d situation=%s", sp.UnitID, sp.Situation)
		}
	}

	if err := orchestrator.ExecuteBulkAction(ctx, p.ID, []domain.UnitID{3, 4}, bulk.ActionAccept, nil); err != nil {
		t.Fatalf("bulk accept err=%v", err)
	}

	err := NewFinalizer(store, nil, nil).Finalize(ctx, p.ID)
	if !errors.Is(err, domain.ErrValidationFailed) {
		t.Fatalf("Finalize() err=%v, want validation", err)
	}
	if got := domain.ViolationsOf(err); len(got) != 1 || got[0] != msgNotHomologated+": S3, S4" {
		t.Fatalf("violations=%v", got)
	}
}
