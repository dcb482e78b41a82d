package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sgc-labs/sgc-go/internal/domain"
	"github.com/sgc-labs/sgc-go/internal/platform/auth"
	"github.com/sgc-labs/sgc-go/internal/platform/httpserver"
	"github.com/sgc-labs/sgc-go/internal/repo"
	"github.com/sgc-labs/sgc-go/internal/service/access"
	"github.com/sgc-labs/sgc-go/internal/service/bulk"
	"github.com/sgc-labs/sgc-go/internal/service/processes"
	"github.com/sgc-labs/sgc-go/internal/service/subprocesses"
)

type processAPI struct {
	logger       *slog.Logger
	stores       repo.Stores
	processes    *processes.Service
	finalizer    *processes.Finalizer
	subprocesses *subprocesses.Service
	bulk         *bulk.Orchestrator
	access       *access.Evaluator
	audit        auth.AuditFunc
}

type apiDeps struct {
	Transactor repo.Transactor
	Stores     repo.Stores
	Profiles   repo.ProfileSource
	Notifier   repo.Notifier
	Aliases    auth.RoleAliases
	Audit      auth.AuditFunc
}

func newProcessAPI(logger *slog.Logger, deps apiDeps) *processAPI {
	transitions := subprocesses.New(deps.Transactor, logger)
	return &processAPI{
		logger:       logger,
		stores:       deps.Stores,
		processes:    processes.New(deps.Transactor, deps.Notifier, logger),
		finalizer:    processes.NewFinalizer(deps.Transactor, deps.Notifier, logger),
		subprocesses: transitions,
		bulk:         bulk.New(deps.Transactor, transitions, logger),
		access:       access.New(deps.Profiles, deps.Stores.Units, deps.Stores.Subprocesses, deps.Aliases, logger),
		audit:        deps.Audit,
	}
}

func (api *processAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /processes", api.handleCreate)
	mux.HandleFunc("GET /processes/{process_id}", api.handleGet)
	mux.HandleFunc("GET /processes/{process_id}/access", api.handleAccess)
	mux.HandleFunc("POST /processes/{process_id}/start", api.handleStart)
	mux.HandleFunc("POST /processes/{process_id}/bulk", api.handleBulk)
	mux.HandleFunc("POST /processes/{process_id}/finalize", api.handleFinalize)
	mux.HandleFunc("GET /processes/{process_id}/subprocesses/{unit_id}/movements", api.handleListMovements)
	mux.HandleFunc("POST /processes/{process_id}/subprocesses/{unit_id}/{op}", api.handleSubprocessOp)
}

type createProcessRequest struct {
	Description string  `json:"description"`
	Type        string  `json:"type"`
	Deadline    string  `json:"deadline,omitempty"`
	Units       []int64 `json:"units"`
}

type startProcessRequest struct {
	Units []int64 `json:"units,omitempty"`
}

type bulkRequest struct {
	Action   string  `json:"action"`
	Units    []int64 `json:"units"`
	Deadline string  `json:"deadline,omitempty"`
}

type subprocessOpRequest struct {
	Deadline string `json:"deadline,omitempty"`
	Note     string `json:"note,omitempty"`
	MapID    string `json:"map_id,omitempty"`
}

type processResponse struct {
	ProcessID    string               `json:"process_id"`
	Description  string               `json:"description"`
	Type         string               `json:"type"`
	Situation    string               `json:"situation"`
	Deadline     *time.Time           `json:"deadline,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	FinalizedAt  *time.Time           `json:"finalized_at,omitempty"`
	Participants []int64              `json:"participants"`
	Subprocesses []subprocessResponse `json:"subprocesses,omitempty"`
}

type subprocessResponse struct {
	SubprocessID string     `json:"subprocess_id"`
	UnitID       int64      `json:"unit_id"`
	Situation    string     `json:"situation"`
	MapID        *string    `json:"map_id,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type movementResponse struct {
	MovementID string    `json:"movement_id"`
	Action     string    `json:"action"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Actor      string    `json:"actor"`
	Note       string    `json:"note,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (api *processAPI) handleCreate(w http.ResponseWriter, r *http.Request) {
	// Participants hold their units until the process is finalized, so only
	// administrators may open one.
	if principal := principalFrom(r.Context()); principal == nil || !auth.HasAnyRole(principal.Roles, auth.RoleAdmin) {
		api.deny(w, r, principal, "", "admin_required")
		return
	}
	var req createProcessRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	deadline, err := parseDeadline(req.Deadline)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_deadline")
		return
	}

	p, err := api.processes.Create(r.Context(), processes.CreateRequest{
		Description: req.Description,
		Type:        domain.ParseProcessType(req.Type),
		Deadline:    deadline,
		UnitIDs:     toUnitIDs(req.Units),
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusCreated, toProcessResponse(p, nil))
}

func (api *processAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	processID := strings.TrimSpace(r.PathValue("process_id"))
	if !api.authorizeProcess(w, r, processID) {
		return
	}
	p, err := api.stores.Processes.FindByID(r.Context(), processID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			err = domain.NewNotFound("process", processID)
		}
		api.writeServiceError(w, r, err)
		return
	}
	subs, err := api.stores.Subprocesses.FindByProcess(r.Context(), p.ID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, toProcessResponse(p, subs))
}

func (api *processAPI) handleAccess(w http.ResponseWriter, r *http.Request) {
	processID := strings.TrimSpace(r.PathValue("process_id"))
	decision, err := api.access.Evaluate(r.Context(), principalFrom(r.Context()), processID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"process_id": processID,
		"allowed":    decision.Allowed,
		"reason":     decision.Reason,
	})
}

func (api *processAPI) handleStart(w http.ResponseWriter, r *http.Request) {
	processID := strings.TrimSpace(r.PathValue("process_id"))
	if !api.authorizeProcess(w, r, processID) {
		return
	}
	var req startProcessRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
	}

	violations, err := api.processes.Start(r.Context(), processID, toUnitIDs(req.Units))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	if len(violations) > 0 {
		api.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "start_rejected",
			"violations": violations,
			"request_id": r.Header.Get("X-Request-Id"),
		})
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"process_id": processID, "situation": string(domain.ProcessInProgress)})
}

func (api *processAPI) handleBulk(w http.ResponseWriter, r *http.Request) {
	processID := strings.TrimSpace(r.PathValue("process_id"))
	if !api.authorizeProcess(w, r, processID) {
		return
	}
	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}
	deadline, err := parseDeadline(req.Deadline)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_deadline")
		return
	}

	action := bulk.ParseBulkAction(req.Action)
	if err := api.bulk.ExecuteBulkAction(r.Context(), processID, toUnitIDs(req.Units), action, deadline); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"process_id": processID, "action": string(action)})
}

func (api *processAPI) handleFinalize(w http.ResponseWriter, r *http.Request) {
	processID := strings.TrimSpace(r.PathValue("process_id"))
	if !api.authorizeProcess(w, r, processID) {
		return
	}
	if err := api.finalizer.Finalize(r.Context(), processID); err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"process_id": processID, "situation": string(domain.ProcessFinalized)})
}

func (api *processAPI) handleListMovements(w http.ResponseWriter, r *http.Request) {
	processID := strings.TrimSpace(r.PathValue("process_id"))
	unitID, ok := parseUnitID(r.PathValue("unit_id"))
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_unit_id")
		return
	}
	if !api.authorizeProcess(w, r, processID) {
		return
	}
	found, err := api.stores.Subprocesses.FindByProcessAndUnits(r.Context(), processID, []domain.UnitID{unitID})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	if len(found) == 0 {
		api.writeServiceError(w, r, domain.NewNotFound("subprocess", processID+"/"+unitID.String()))
		return
	}
	moves, err := api.stores.Subprocesses.ListMovements(r.Context(), found[0].ID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]movementResponse, 0, len(moves))
	for _, m := range moves {
		out = append(out, movementResponse{
			MovementID: m.ID,
			Action:     string(m.Action),
			From:       string(m.From),
			To:         string(m.To),
			Actor:      m.Actor,
			Note:       m.Note,
			OccurredAt: m.OccurredAt,
		})
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"subprocess_id": found[0].ID, "movements": out})
}

func (api *processAPI) handleSubprocessOp(w http.ResponseWriter, r *http.Request) {
	processID := strings.TrimSpace(r.PathValue("process_id"))
	unitID, ok := parseUnitID(r.PathValue("unit_id"))
	if !ok {
		api.writeError(w, r, http.StatusBadRequest, "invalid_unit_id")
		return
	}
	if !api.authorizeProcess(w, r, processID) {
		return
	}
	var req subprocessOpRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}
	}

	ctx := r.Context()
	units := []domain.UnitID{unitID}
	var err error
	switch r.PathValue("op") {
	case "start-cadastro":
		err = api.subprocesses.StartCadastro(ctx, processID, units)
	case "disponibilize":
		var deadline *time.Time
		if deadline, err = parseDeadline(req.Deadline); err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_deadline")
			return
		}
		err = api.subprocesses.Disponibilize(ctx, processID, units, subprocesses.DisponibilizeRequest{Deadline: deadline, Note: req.Note})
	case "return":
		err = api.subprocesses.ReturnForCorrection(ctx, processID, units, req.Note)
	case "accept-cadastro":
		err = api.subprocesses.AcceptCadastro(ctx, processID, units)
	case "homologate-cadastro":
		err = api.subprocesses.HomologateCadastro(ctx, processID, units)
	case "create-map":
		err = api.subprocesses.CreateMap(ctx, processID, unitID, req.MapID)
	case "validate-map":
		err = api.subprocesses.ValidateMap(ctx, processID, units)
	case "accept-validation":
		err = api.subprocesses.AcceptValidation(ctx, processID, units)
	case "homologate-validation":
		err = api.subprocesses.HomologateValidation(ctx, processID, units)
	default:
		api.writeError(w, r, http.StatusNotFound, "unknown_operation")
		return
	}
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	found, err := api.stores.Subprocesses.FindByProcessAndUnits(ctx, processID, units)
	if err != nil || len(found) == 0 {
		api.writeJSON(w, http.StatusOK, map[string]any{"process_id": processID, "unit_id": int64(unitID)})
		return
	}
	api.writeJSON(w, http.StatusOK, toSubprocessResponse(found[0]))
}

// authorizeProcess lets administrators through and otherwise requires the
// caller's units to reach a participant of the process.
func (api *processAPI) authorizeProcess(w http.ResponseWriter, r *http.Request, processID string) bool {
	principal := principalFrom(r.Context())
	if principal != nil && auth.HasAnyRole(principal.Roles, auth.RoleAdmin) {
		return true
	}
	decision, err := api.access.Evaluate(r.Context(), principal, processID)
	if err != nil {
		api.logger.Error("access evaluation failed", "process_id", processID, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return false
	}
	if decision.Allowed {
		return true
	}
	api.deny(w, r, principal, processID, decision.Reason)
	return false
}

// deny answers 403 and records the refusal in the audit trail.
func (api *processAPI) deny(w http.ResponseWriter, r *http.Request, principal *auth.Identity, processID, reason string) {
	var identity auth.Identity
	if principal != nil {
		identity = *principal
	}
	event := auth.NewDenyEvent(r, identity, http.StatusForbidden, "forbidden", errors.New(reason))
	event.ProcessID = processID
	api.logger.Warn("process access denied", "process_id", processID, "subject", identity.Subject, "reason", reason)
	if api.audit != nil {
		if err := api.audit(r.Context(), event); err != nil {
			api.logger.Warn("audit deny failed", "request_id", event.RequestID, "error", err)
		}
	}
	api.writeError(w, r, http.StatusForbidden, "forbidden")
}

func (api *processAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		api.writeJSON(w, http.StatusNotFound, map[string]any{
			"error":      "not_found",
			"message":    err.Error(),
			"request_id": r.Header.Get("X-Request-Id"),
		})
	case errors.Is(err, domain.ErrInvalidStateTransition):
		api.writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "invalid_state_transition",
			"message":    err.Error(),
			"request_id": r.Header.Get("X-Request-Id"),
		})
	case errors.Is(err, domain.ErrValidationFailed):
		api.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      "validation_failed",
			"violations": domain.ViolationsOf(err),
			"request_id": r.Header.Get("X-Request-Id"),
		})
	case errors.Is(err, domain.ErrAccessDenied):
		api.writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, repo.ErrConflict):
		api.writeError(w, r, http.StatusConflict, "conflict")
	default:
		api.logger.Error("request failed", "request_id", r.Header.Get("X-Request-Id"), "path", r.URL.Path, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func principalFrom(ctx context.Context) *auth.Identity {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return nil
	}
	return &identity
}

func toProcessResponse(p domain.Process, subs []domain.Subprocess) processResponse {
	out := processResponse{
		ProcessID:    p.ID,
		Description:  p.Description,
		Type:         string(p.Type),
		Situation:    string(p.Situation),
		Deadline:     p.Deadline,
		CreatedAt:    p.CreatedAt,
		FinalizedAt:  p.FinalizedAt,
		Participants: make([]int64, 0, len(p.Participants)),
	}
	for _, id := range p.Participants {
		out.Participants = append(out.Participants, int64(id))
	}
	for _, sp := range subs {
		out.Subprocesses = append(out.Subprocesses, toSubprocessResponse(sp))
	}
	return out
}

func toSubprocessResponse(sp domain.Subprocess) subprocessResponse {
	return subprocessResponse{
		SubprocessID: sp.ID,
		UnitID:       int64(sp.UnitID),
		Situation:    string(sp.Situation),
		MapID:        sp.MapID,
		Deadline:     sp.Deadline,
		UpdatedAt:    sp.UpdatedAt,
	}
}

func toUnitIDs(ids []int64) []domain.UnitID {
	out := make([]domain.UnitID, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.UnitID(id))
	}
	return out
}

func parseUnitID(raw string) (domain.UnitID, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return domain.UnitID(v), true
}

// parseDeadline accepts an RFC 3339 timestamp or a plain date.
func parseDeadline(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *processAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	httpserver.WriteJSON(w, status, body)
}

func (api *processAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}
