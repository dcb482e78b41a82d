package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sgc-labs/sgc-go/internal/platform/auth"
)

const testSecret = "gateway-test-secret"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSigningProxyForwardsVerifiableIdentity(t *testing.T) {
	verifier, err := auth.NewGatewayHeadersAuthenticator(testSecret)
	if err != nil {
		t.Fatalf("NewGatewayHeadersAuthenticator: %v", err)
	}
	var (
		got     auth.Identity
		authErr error
		path    string
	)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		got, authErr = verifier.Authenticate(r.Context(), r)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	proxy, err := newSigningProxy(discardLogger(), testSecret, upstream.URL)
	if err != nil {
		t.Fatalf("newSigningProxy: %v", err)
	}
	handler := http.StripPrefix("/api", proxy)

	req := httptest.NewRequest(http.MethodPost, "/api/processes/p-1/start", nil)
	req.Header.Set("X-Request-Id", "req-1")
	req = req.WithContext(auth.ContextWithIdentity(req.Context(), auth.Identity{
		Subject: "maria",
		Email:   "maria@example.org",
		Roles:   []string{auth.RoleManager},
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusNoContent)
	}
	if path != "/processes/p-1/start" {
		t.Fatalf("upstream path=%q", path)
	}
	if authErr != nil {
		t.Fatalf("upstream rejected signed headers: %v", authErr)
	}
	if got.Subject != "maria" || got.Email != "maria@example.org" || len(got.Roles) != 1 || got.Roles[0] != auth.RoleManager {
		t.Fatalf("unexpected identity upstream: %+v", got)
	}
}

func TestSigningProxyDropsSpoofedHeaders(t *testing.T) {
	var subject, sig string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = r.Header.Get(auth.HeaderSubject)
		sig = r.Header.Get(auth.HeaderInternalAuthSignature)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	proxy, err := newSigningProxy(discardLogger(), testSecret, upstream.URL)
	if err != nil {
		t.Fatalf("newSigningProxy: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/processes/p-1", nil)
	req.Header.Set(auth.HeaderSubject, "admin")
	req.Header.Set(auth.HeaderRoles, auth.RoleAdmin)
	req.Header.Set(auth.HeaderInternalAuthSignature, "forged")
	proxy.ServeHTTP(httptest.NewRecorder(), req)

	if subject != "" || sig != "" {
		t.Fatalf("spoofed headers reached upstream: subject=%q sig=%q", subject, sig)
	}
}

func TestSigningProxyBadGateway(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	target := upstream.URL
	upstream.Close()

	proxy, err := newSigningProxy(discardLogger(), testSecret, target)
	if err != nil {
		t.Fatalf("newSigningProxy: %v", err)
	}
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/processes/p-1", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status=%d, want %d", rec.Code, http.StatusBadGateway)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "bad_gateway" {
		t.Fatalf("error=%q", body["error"])
	}
}

func TestNewSigningProxyValidatesInput(t *testing.T) {
	if _, err := newSigningProxy(discardLogger(), "", "http://localhost:8081"); err == nil {
		t.Fatalf("expected error for empty secret")
	}
	if _, err := newSigningProxy(discardLogger(), testSecret, "localhost:8081"); err == nil {
		t.Fatalf("expected error for url without scheme")
	}
}

func TestSessionHandlerEchoesIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req = req.WithContext(auth.ContextWithIdentity(context.Background(), auth.Identity{Subject: "joao", Roles: []string{auth.RoleSupervisor}}))
	rec := httptest.NewRecorder()
	sessionHandler(rec, req)

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["login"] != "joao" {
		t.Fatalf("login=%v", body["login"])
	}
}
