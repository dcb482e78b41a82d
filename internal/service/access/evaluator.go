// Package access decides whether a principal may act on a process.
//
// Access is derived from the profile assignments of the principal: each
// profile unit and all units below it form the principal's reach, and the
// process is visible when any of its subprocesses belongs to that reach.
// Every check fails closed.
package access

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/sgc-labs/sgc-go/internal/domain"
	"github.com/sgc-labs/sgc-go/internal/hierarchy"
	"github.com/sgc-labs/sgc-go/internal/platform/auth"
	"github.com/sgc-labs/sgc-go/internal/repo"
)

const (
	ReasonNoPrincipal          = "no_principal"
	ReasonUnauthenticated      = "unauthenticated"
	ReasonRoleNotGranted       = "role_not_granted"
	ReasonNoProfiles           = "no_profiles"
	ReasonNoProfileUnit        = "no_profile_unit"
	ReasonNoParticipantOverlap = "no_participant_overlap"
	ReasonGranted              = "granted"
)

type Decision struct {
	Allowed bool
	Reason  string
}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

type Evaluator struct {
	profiles     repo.ProfileSource
	units        repo.UnitRepository
	subprocesses repo.SubprocessRepository
	aliases      auth.RoleAliases
	logger       *slog.Logger
}

func New(profiles repo.ProfileSource, units repo.UnitRepository, subprocesses repo.SubprocessRepository, aliases auth.RoleAliases, logger *slog.Logger) *Evaluator {
	if aliases == nil {
		aliases = auth.DefaultRoleAliases()
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Evaluator{
		profiles:     profiles,
		units:        units,
		subprocesses: subprocesses,
		aliases:      aliases,
		logger:       logger,
	}
}

func (e *Evaluator) HasAccess(ctx context.Context, principal *auth.Identity, processID string) (bool, error) {
	decision, err := e.Evaluate(ctx, principal, processID)
	if err != nil {
		return false, err
	}
	return decision.Allowed, nil
}

// Evaluate returns a denial with a nil error when access is simply absent and
// an error only when a collaborator fails.
func (e *Evaluator) Evaluate(ctx context.Context, principal *auth.Identity, processID string) (Decision, error) {
	if principal == nil {
		return deny(ReasonNoPrincipal), nil
	}
	if !principal.Authenticated() {
		return deny(ReasonUnauthenticated), nil
	}
	if !auth.HasAnyRole(e.aliases.Canonical(principal.Roles), auth.ProcessRoles...) {
		return deny(ReasonRoleNotGranted), nil
	}

	profiles, err := e.profiles.ProfilesFor(ctx, principal.Login())
	if err != nil {
		return Decision{}, fmt.Errorf("load profiles: %w", err)
	}
	if len(profiles) == 0 {
		return deny(ReasonNoProfiles), nil
	}
	var roots []domain.UnitID
	for _, p := range profiles {
		if p.UnitID != nil {
			roots = append(roots, *p.UnitID)
		}
	}
	if len(roots) == 0 {
		return deny(ReasonNoProfileUnit), nil
	}

	all, err := e.units.FindAllWithHierarchy(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("load hierarchy: %w", err)
	}
	reach := hierarchy.New(all).Expand(roots)

	found, err := e.subprocesses.FindByProcessAndUnits(ctx, processID, reach)
	if err != nil {
		return Decision{}, fmt.Errorf("load subprocesses: %w", err)
	}
	if len(found) == 0 {
		e.logger.Debug("access denied", "process_id", processID, "subject", principal.Login(), "reach", len(reach))
		return deny(ReasonNoParticipantOverlap), nil
	}
	return Decision{Allowed: true, Reason: ReasonGranted}, nil
}
