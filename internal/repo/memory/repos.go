package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sgc-labs/sgc-go/internal/domain"
	"github.com/sgc-labs/sgc-go/internal/platform/auditlog"
	"github.com/sgc-labs/sgc-go/internal/repo"
)

type ProcessRepo struct {
	store *Store
}

func (r *ProcessRepo) FindByID(ctx context.Context, id string) (domain.Process, error) {
	var out domain.Process
	err := r.store.with(ctx, func(st *state) error {
		p, ok := st.processes[strings.TrimSpace(id)]
		if !ok {
			return repo.ErrNotFound
		}
		out = cloneProcess(p)
		return nil
	})
	return out, err
}

// LockByID relies on the unit of work holding the store mutex.
func (r *ProcessRepo) LockByID(ctx context.Context, id string) (domain.Process, error) {
	return r.FindByID(ctx, id)
}

func (r *ProcessRepo) Save(ctx context.Context, p domain.Process) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return r.store.with(ctx, func(st *state) error {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		if existing, ok := st.processes[p.ID]; ok && existing.Type != p.Type {
			return fmt.Errorf("process %s: type is immutable", p.ID)
		}
		st.processes[p.ID] = cloneProcess(p)
		return nil
	})
}

func (r *ProcessRepo) FindUnitIDsInActiveProcessesExcluding(ctx context.Context, processID string, unitIDs []domain.UnitID) ([]domain.UnitID, error) {
	wanted := unitSet(unitIDs)
	var out []domain.UnitID
	err := r.store.with(ctx, func(st *state) error {
		found := map[domain.UnitID]struct{}{}
		for id, p := range st.processes {
			if id == processID || !p.Situation.Active() {
				continue
			}
			for _, unit := range p.Participants {
				if _, ok := wanted[unit]; ok {
					found[unit] = struct{}{}
				}
			}
		}
		for id := range found {
			out = append(out, id)
		}
		sortUnitIDs(out)
		return nil
	})
	return out, err
}

type SubprocessRepo struct {
	store *Store
}

func (r *SubprocessRepo) FindByProcessAndUnits(ctx context.Context, processID string, unitIDs []domain.UnitID) ([]domain.Subprocess, error) {
	wanted := unitSet(unitIDs)
	return r.find(ctx, func(sp domain.Subprocess) bool {
		_, ok := wanted[sp.UnitID]
		return sp.ProcessID == processID && ok
	})
}

func (r *SubprocessRepo) FindByProcess(ctx context.Context, processID string) ([]domain.Subprocess, error) {
	return r.find(ctx, func(sp domain.Subprocess) bool { return sp.ProcessID == processID })
}

func (r *SubprocessRepo) find(ctx context.Context, match func(domain.Subprocess) bool) ([]domain.Subprocess, error) {
	var out []domain.Subprocess
	err := r.store.with(ctx, func(st *state) error {
		for _, sp := range st.subprocesses {
			if match(sp) {
				out = append(out, sp)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out, err
}

func (r *SubprocessRepo) Save(ctx context.Context, sp domain.Subprocess) error {
	return r.SaveAll(ctx, []domain.Subprocess{sp})
}

// SaveAll enforces one subprocess per (process, unit) like the SQL unique key.
func (r *SubprocessRepo) SaveAll(ctx context.Context, subprocesses []domain.Subprocess) error {
	for _, sp := range subprocesses {
		if err := sp.Validate(); err != nil {
			return err
		}
	}
	type key struct {
		processID string
		unitID    domain.UnitID
	}
	return r.store.with(ctx, func(st *state) error {
		owners := make(map[key]string, len(st.subprocesses)+len(subprocesses))
		for id, existing := range st.subprocesses {
			owners[key{existing.ProcessID, existing.UnitID}] = id
		}
		// Every item is checked before any is written.
		for _, sp := range subprocesses {
			k := key{sp.ProcessID, sp.UnitID}
			if id, ok := owners[k]; ok && id != sp.ID {
				return fmt.Errorf("subprocess for process %s unit %s: %w", sp.ProcessID, sp.UnitID, repo.ErrConflict)
			}
			owners[k] = sp.ID
		}
		for _, sp := range subprocesses {
			now := time.Now().UTC()
			if sp.CreatedAt.IsZero() {
				sp.CreatedAt = now
			}
			if sp.UpdatedAt.IsZero() {
				sp.UpdatedAt = now
			}
			st.subprocesses[sp.ID] = sp
		}
		return nil
	})
}

func (r *SubprocessRepo) AppendMovements(ctx context.Context, movements []domain.Movement) error {
	return r.store.with(ctx, func(st *state) error {
		for _, m := range movements {
			if _, ok := st.subprocesses[m.SubprocessID]; !ok {
				return fmt.Errorf("movement for unknown subprocess %s", m.SubprocessID)
			}
			if strings.TrimSpace(m.ID) == "" {
				m.ID = uuid.NewString()
			}
			if m.OccurredAt.IsZero() {
				m.OccurredAt = time.Now().UTC()
			}
			st.movements = append(st.movements, m)
		}
		return nil
	})
}

func (r *SubprocessRepo) ListMovements(ctx context.Context, subprocessID string) ([]domain.Movement, error) {
	var out []domain.Movement
	err := r.store.with(ctx, func(st *state) error {
		for _, m := range st.movements {
			if m.SubprocessID == subprocessID {
				out = append(out, m)
			}
		}
		return nil
	})
	return out, err
}

type UnitRepo struct {
	store *Store
}

func (r *UnitRepo) FindByID(ctx context.Context, id domain.UnitID) (domain.Unit, error) {
	var out domain.Unit
	err := r.store.with(ctx, func(st *state) error {
		u, ok := st.units[id]
		if !ok {
			return repo.ErrNotFound
		}
		out = u
		return nil
	})
	return out, err
}

// FindByIDs skips unknown ids; callers compare lengths to detect them.
func (r *UnitRepo) FindByIDs(ctx context.Context, ids []domain.UnitID) ([]domain.Unit, error) {
	var out []domain.Unit
	err := r.store.with(ctx, func(st *state) error {
		for _, id := range domain.UniqueUnitIDs(ids) {
			if u, ok := st.units[id]; ok {
				out = append(out, u)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *UnitRepo) FindAllWithHierarchy(ctx context.Context) ([]domain.Unit, error) {
	var out []domain.Unit
	err := r.store.with(ctx, func(st *state) error {
		for _, u := range st.units {
			out = append(out, u)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *UnitRepo) FindSiglasByIDs(ctx context.Context, ids []domain.UnitID) ([]string, error) {
	units, err := r.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(units))
	for _, u := range units {
		out = append(out, u.Sigla)
	}
	sort.Strings(out)
	return out, nil
}

func (r *UnitRepo) HasCurrentMap(ctx context.Context, id domain.UnitID) (bool, error) {
	var ok bool
	err := r.store.with(ctx, func(st *state) error {
		_, ok = st.currentMaps[id]
		return nil
	})
	return ok, err
}

func (r *UnitRepo) SetCurrentMap(ctx context.Context, id domain.UnitID, mapID string) error {
	mapID = strings.TrimSpace(mapID)
	if mapID == "" {
		return errors.New("map id is required")
	}
	return r.store.with(ctx, func(st *state) error {
		if _, ok := st.units[id]; !ok {
			return fmt.Errorf("unit %s: %w", id, repo.ErrNotFound)
		}
		st.currentMaps[id] = mapID
		return nil
	})
}

type AuditRepo struct {
	store *Store
}

func (r *AuditRepo) Append(ctx context.Context, event auditlog.Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return err
	}
	return r.store.with(ctx, func(st *state) error {
		st.audit = append(st.audit, event)
		return nil
	})
}
