package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

type testAuthenticator struct {
	identity Identity
	err      error
	calls    int
}

func (a *testAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	a.calls++
	return a.identity, a.err
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return body
}

func TestMiddleware_Unauthorized(t *testing.T) {
	var audited []DenyEvent
	called := false
	h := Middleware{
		Authenticator: &testAuthenticator{err: ErrUnauthenticated},
		Audit: func(ctx context.Context, event DenyEvent) error {
			audited = append(audited, event)
			return nil
		},
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "http://example.test/processes", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if called {
		t.Fatalf("handler should not be called")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "unauthorized" || body["request_id"] != "rid-1" {
		t.Fatalf("unexpected body %v", body)
	}
	if len(audited) != 1 || audited[0].Status != http.StatusUnauthorized {
		t.Fatalf("expected one audited deny, got %+v", audited)
	}
}

func TestMiddleware_InvalidToken(t *testing.T) {
	h := Middleware{
		Authenticator: &testAuthenticator{err: errors.New("bad token")},
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/processes/p-1/access", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "invalid_token" {
		t.Fatalf("error=%v, want invalid_token", body["error"])
	}
}

func TestMiddleware_CanonicalizesRolesAndAuthorizes(t *testing.T) {
	var seen Identity
	h := Middleware{
		Authenticator: &testAuthenticator{identity: Identity{Subject: "alice", Roles: []string{"gestor", "unknown"}}},
		Aliases:       DefaultRoleAliases(),
		Authorize:     RoleAuthorizer(ProcessRoles...),
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "http://example.test/processes", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d, want 204", rec.Code)
	}
	if len(seen.Roles) != 1 || seen.Roles[0] != RoleManager {
		t.Fatalf("roles=%v, want [MANAGER]", seen.Roles)
	}
}

func TestMiddleware_ForbidsMutationWithoutRole(t *testing.T) {
	authn := &testAuthenticator{identity: Identity{Subject: "bob", Roles: []string{"SERVIDOR"}}}
	h := Middleware{
		Authenticator: authn,
		Aliases:       DefaultRoleAliases(),
		Authorize:     RoleAuthorizer(ProcessRoles...),
		SkipPrefixes:  []string{"/healthz"},
	}.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "http://example.test/processes/p-1/start", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status=%d, want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("skipped prefix status=%d, want 200", rec.Code)
	}
	if authn.calls != 1 {
		t.Fatalf("authenticator calls=%d, want 1", authn.calls)
	}
}

func TestActorFromContext(t *testing.T) {
	if got := ActorFromContext(context.Background()); got != "system" {
		t.Fatalf("actor=%q, want system", got)
	}
	ctx := ContextWithIdentity(context.Background(), Identity{Subject: " alice "})
	if got := ActorFromContext(ctx); got != "alice" {
		t.Fatalf("actor=%q, want alice", got)
	}
}

func TestParseRoleAliases(t *testing.T) {
	aliases, err := ParseRoleAliases([]byte("aliases:\n  MANAGER: [gestor_unidade]\n  SUPERVISOR: [chefe_substituto]\n"))
	if err != nil {
		t.Fatalf("ParseRoleAliases() err=%v", err)
	}
	got := aliases.Canonical([]string{"GESTOR_UNIDADE", "chefe_substituto", "CHEFE"})
	if len(got) != 2 || got[0] != RoleManager || got[1] != RoleSupervisor {
		t.Fatalf("Canonical=%v, want [MANAGER SUPERVISOR]", got)
	}
	if _, err := ParseRoleAliases([]byte("aliases:\n  OWNER: [x]\n")); err == nil {
		t.Fatalf("expected unknown canonical role to be rejected")
	}
}

func TestInternalAuthSignature_Verify(t *testing.T) {
	sig, err := ComputeInternalAuthSignature("secret", "1700000000", "POST", "/processes", "rid-1", "alice", "alice@example.test", "GESTOR")
	if err != nil {
		t.Fatalf("ComputeInternalAuthSignature() err=%v", err)
	}
	if err := VerifyInternalAuthSignature("secret", "1700000000", "POST", "/processes", "rid-1", "alice", "alice@example.test", "GESTOR", sig); err != nil {
		t.Fatalf("VerifyInternalAuthSignature() err=%v", err)
	}
	if err := VerifyInternalAuthSignature("secret", "1700000000", "GET", "/processes", "rid-1", "alice", "alice@example.test", "GESTOR", sig); err == nil {
		t.Fatalf("expected verification to fail when method changes")
	}
	now := time.Unix(1700000000, 0).UTC()
	if err := VerifyInternalAuthTimestamp("1690000000", now, 5*time.Minute); err == nil {
		t.Fatalf("expected stale timestamp to be rejected")
	}
}

func TestGatewayHeadersAuthenticator(t *testing.T) {
	authn, err := NewGatewayHeadersAuthenticator("secret")
	if err != nil {
		t.Fatalf("NewGatewayHeadersAuthenticator() err=%v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "http://example.test/processes/p-1/bulk", nil)
	req.Header.Set("X-Request-Id", "rid-2")
	req.Header.Set(HeaderSubject, "alice")
	req.Header.Set(HeaderRoles, "GESTOR,CHEFE")
	ts := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	sig, err := ComputeInternalAuthSignature("secret", ts, req.Method, req.URL.Path, "rid-2", "alice", "", "GESTOR,CHEFE")
	if err != nil {
		t.Fatalf("ComputeInternalAuthSignature() err=%v", err)
	}
	req.Header.Set(HeaderInternalAuthTimestamp, ts)
	req.Header.Set(HeaderInternalAuthSignature, sig)

	identity, err := authn.Authenticate(req.Context(), req)
	if err != nil {
		t.Fatalf("Authenticate() err=%v", err)
	}
	if identity.Subject != "alice" || len(identity.Roles) != 2 {
		t.Fatalf("unexpected identity %+v", identity)
	}

	req.Header.Del(HeaderInternalAuthSignature)
	if _, err := authn.Authenticate(req.Context(), req); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("missing signature err=%v, want unauthenticated", err)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("AUTH_MODE", "dev")
	t.Setenv("DEV_AUTH_ROLES", "GESTOR")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Mode != ModeDev || len(cfg.DevRoles) != 1 {
		t.Fatalf("unexpected config %+v", cfg)
	}

	t.Setenv("AUTH_MODE", "headers")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected headers mode without secret to fail")
	}

	t.Setenv("AUTH_MODE", "saml")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected unknown mode to fail")
	}
}

func TestIdentityFromClaims(t *testing.T) {
	cfg := Config{LoginClaim: "preferred_username", EmailClaim: "email", RolesClaim: "roles"}
	identity := identityFromClaims(map[string]any{
		"sub":   "abc",
		"email": "a@example.test",
		"roles": []any{"GESTOR", " ", 7},
	}, cfg)
	if identity.Subject != "abc" {
		t.Fatalf("subject should fall back to sub, got %q", identity.Subject)
	}
	if len(identity.Roles) != 1 || identity.Roles[0] != "GESTOR" {
		t.Fatalf("roles=%v", identity.Roles)
	}
	if safeReturnTo("https://evil.test/x") != "/" || safeReturnTo("//evil") != "/" || safeReturnTo("/processes") != "/processes" {
		t.Fatalf("safeReturnTo should only allow local paths")
	}
}
