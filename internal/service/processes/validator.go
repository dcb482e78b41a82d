package processes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sgc-labs/sgc-go/internal/domain"
	"github.com/sgc-labs/sgc-go/internal/repo"
)

type CreateRequest struct {
	Description string
	Type        domain.ProcessType
	Deadline    *time.Time
	UnitIDs     []domain.UnitID
}

const (
	msgIntermediateUnits = "intermediate units cannot participate"
	msgMissingCurrentMap = "units without current map"
	msgActiveElsewhere   = "units already in another active process"
	msgNotParticipants   = "units not participating in the process"
	msgNotHomologated    = "subprocesses not homologated"
)

// Validator holds the participation rules shared by create and start.
type Validator struct{}

func (Validator) CheckRequest(req CreateRequest) error {
	var v domain.Violations
	if strings.TrimSpace(req.Description) == "" {
		v.Add("description is required")
	}
	if !req.Type.Valid() {
		v.Add("invalid process type %q", string(req.Type))
	}
	if len(domain.UniqueUnitIDs(req.UnitIDs)) == 0 {
		v.Add("at least one unit is required")
	}
	return v.Err()
}

// LoadUnits returns the units for ids, failing with NotFound on the first
// unknown id.
func (Validator) LoadUnits(ctx context.Context, units repo.UnitRepository, ids []domain.UnitID) ([]domain.Unit, error) {
	found, err := units.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load units: %w", err)
	}
	byID := make(map[domain.UnitID]domain.Unit, len(found))
	for _, u := range found {
		byID[u.ID] = u
	}
	out := make([]domain.Unit, 0, len(ids))
	for _, id := range ids {
		u, ok := byID[id]
		if !ok {
			return nil, domain.NewNotFound("unit", id)
		}
		out = append(out, u)
	}
	return out, nil
}

// CheckParticipants records units that may not own a subprocess of type t.
func (val Validator) CheckParticipants(ctx context.Context, units repo.UnitRepository, t domain.ProcessType, members []domain.Unit, v *domain.Violations) error {
	var intermediate []string
	for _, u := range members {
		if !u.Type.CanParticipate() {
			intermediate = append(intermediate, u.Sigla)
		}
	}
	v.AddList(msgIntermediateUnits, intermediate)

	if t.RequiresCurrentMap() {
		return val.CheckCurrentMaps(ctx, units, members, v)
	}
	return nil
}

func (Validator) CheckCurrentMaps(ctx context.Context, units repo.UnitRepository, members []domain.Unit, v *domain.Violations) error {
	var missing []string
	for _, u := range members {
		ok, err := units.HasCurrentMap(ctx, u.ID)
		if err != nil {
			return fmt.Errorf("check current map of %s: %w", u.Sigla, err)
		}
		if !ok {
			missing = append(missing, u.Sigla)
		}
	}
	v.AddList(msgMissingCurrentMap, missing)
	return nil
}

// CheckConflicts records units already held by another active process.
func (Validator) CheckConflicts(ctx context.Context, stores repo.Stores, processID string, ids []domain.UnitID, v *domain.Violations) error {
	busy, err := stores.Processes.FindUnitIDsInActiveProcessesExcluding(ctx, processID, ids)
	if err != nil {
		return fmt.Errorf("find active participants: %w", err)
	}
	if len(busy) == 0 {
		return nil
	}
	siglas, err := stores.Units.FindSiglasByIDs(ctx, busy)
	if err != nil {
		return fmt.Errorf("load siglas: %w", err)
	}
	v.AddList(msgActiveElsewhere, siglas)
	return nil
}

func notFoundOr(err error, entity, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return domain.NewNotFound(entity, id)
	}
	return fmt.Errorf("load %s: %w", entity, err)
}
