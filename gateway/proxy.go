package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sgc-labs/sgc-go/internal/platform/auth"
	"github.com/sgc-labs/sgc-go/internal/platform/httpserver"
)

// signingProxy forwards authenticated requests upstream with the caller's
// identity in signed X-SGC-* headers. Client-supplied identity headers are
// always dropped.
type signingProxy struct {
	logger *slog.Logger
	secret string
	now    func() time.Time
}

func newSigningProxy(logger *slog.Logger, secret string, target string) (http.Handler, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("SGC_INTERNAL_AUTH_SECRET is required")
	}
	upstream, err := url.Parse(target)
	if err != nil {
		return nil, err
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream url: %q", target)
	}

	s := signingProxy{logger: logger, secret: secret, now: time.Now}
	proxy := httputil.NewSingleHostReverseProxy(upstream)
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		s.sign(r)
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("proxy error", "request_id", r.Header.Get("X-Request-Id"), "upstream", upstream.Host, "error", err)
		httpserver.WriteJSON(w, http.StatusBadGateway, map[string]string{"error": "bad_gateway"})
	}
	return proxy, nil
}

func (s signingProxy) sign(r *http.Request) {
	r.Header.Del(auth.HeaderSubject)
	r.Header.Del(auth.HeaderEmail)
	r.Header.Del(auth.HeaderRoles)
	r.Header.Del(auth.HeaderInternalAuthTimestamp)
	r.Header.Del(auth.HeaderInternalAuthSignature)

	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return
	}
	r.Header.Set(auth.HeaderSubject, identity.Subject)
	if identity.Email != "" {
		r.Header.Set(auth.HeaderEmail, identity.Email)
	}
	roles := strings.Join(identity.Roles, ",")
	if roles != "" {
		r.Header.Set(auth.HeaderRoles, roles)
	}
	ts := strconv.FormatInt(s.now().UTC().Unix(), 10)
	sig, err := auth.ComputeInternalAuthSignature(s.secret, ts, r.Method, r.URL.Path, r.Header.Get("X-Request-Id"), identity.Subject, identity.Email, roles)
	if err != nil {
		s.logger.Warn("sign upstream request failed", "request_id", r.Header.Get("X-Request-Id"), "error", err)
		return
	}
	r.Header.Set(auth.HeaderInternalAuthTimestamp, ts)
	r.Header.Set(auth.HeaderInternalAuthSignature, sig)
}

func sessionHandler(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"subject": identity.Subject,
		"email":   identity.Email,
		"login":   identity.Login(),
		"roles":   identity.Roles,
	})
}

func loginNotConfigured(w http.ResponseWriter, r *http.Request) {
	httpserver.WriteJSON(w, http.StatusNotImplemented, map[string]string{"error": "login_not_configured"})
}
