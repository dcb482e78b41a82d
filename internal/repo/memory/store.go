// Package memory is a transactional in-memory implementation of the
// repository contracts, used by dev mode and the engine tests.
//
// A unit of work holds the store mutex for its whole duration and runs on the
// live state; the state is cloned up front and restored when the work fails.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/sgc-labs/sgc-go/internal/domain"
	"github.com/sgc-labs/sgc-go/internal/platform/auditlog"
	"github.com/sgc-labs/sgc-go/internal/repo"
)

type state struct {
	units        map[domain.UnitID]domain.Unit
	currentMaps  map[domain.UnitID]string
	processes    map[string]domain.Process
	subprocesses map[string]domain.Subprocess
	movements    []domain.Movement
	audit        []auditlog.Event
	profiles     map[string][]domain.Profile
}

func newState() state {
	return state{
		units:        map[domain.UnitID]domain.Unit{},
		currentMaps:  map[domain.UnitID]string{},
		processes:    map[string]domain.Process{},
		subprocesses: map[string]domain.Subprocess{},
		profiles:     map[string][]domain.Profile{},
	}
}

func (s state) clone() state {
	out := newState()
	for k, v := range s.units {
		out.units[k] = v
	}
	for k, v := range s.currentMaps {
		out.currentMaps[k] = v
	}
	for k, v := range s.processes {
		out.processes[k] = cloneProcess(v)
	}
	for k, v := range s.subprocesses {
		out.subprocesses[k] = v
	}
	for k, v := range s.profiles {
		out.profiles[k] = append([]domain.Profile(nil), v...)
	}
	out.movements = append([]domain.Movement(nil), s.movements...)
	out.audit = append([]auditlog.Event(nil), s.audit...)
	return out
}

func cloneProcess(p domain.Process) domain.Process {
	p.Participants = append([]domain.UnitID(nil), p.Participants...)
	return p
}

type Store struct {
	mu    sync.Mutex
	state state
}

func New() *Store {
	return &Store{state: newState()}
}

type txKey struct {
	store *Store
}

func (s *Store) inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{store: s}).(bool)
	return v
}

// with runs fn against the state, taking the lock unless ctx already belongs
// to a unit of work on this store.
func (s *Store) with(ctx context.Context, fn func(st *state) error) error {
	if !s.inTx(ctx) {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(&s.state)
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, stores repo.Stores) error) error {
	if s.inTx(ctx) {
		return fn(ctx, s.Stores())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(context.WithValue(ctx, txKey{store: s}, true), s.Stores()); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// Stores returns repositories backed by this store. Outside a unit of work each
// call is individually atomic.
func (s *Store) Stores() repo.Stores {
	return repo.Stores{
		Processes:    &ProcessRepo{store: s},
		Subprocesses: &SubprocessRepo{store: s},
		Units:        &UnitRepo{store: s},
		Audit:        &AuditRepo{store: s},
	}
}

// AddUnits seeds the organization registry.
func (s *Store) AddUnits(units ...domain.Unit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range units {
		s.state.units[u.ID] = u
	}
}

// AddProfiles seeds role assignments for login.
func (s *Store) AddProfiles(login string, profiles ...domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.profiles[login] = append(s.state.profiles[login], profiles...)
}

func (s *Store) ProfilesFor(ctx context.Context, login string) ([]domain.Profile, error) {
	var out []domain.Profile
	err := s.with(ctx, func(st *state) error {
		out = append(out, st.profiles[login]...)
		return nil
	})
	return out, err
}

// AuditEvents returns a copy of every appended audit event.
func (s *Store) AuditEvents() []auditlog.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]auditlog.Event(nil), s.state.audit...)
}

// CurrentMap returns the map a unit currently operates under.
func (s *Store) CurrentMap(id domain.UnitID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.state.currentMaps[id]
	return m, ok
}

func sortUnitIDs(ids []domain.UnitID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func unitSet(ids []domain.UnitID) map[domain.UnitID]struct{} {
	set := make(map[domain.UnitID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
