package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sgc-labs/sgc-go/internal/platform/auditlog"
	"github.com/sgc-labs/sgc-go/internal/platform/auth"
	"github.com/sgc-labs/sgc-go/internal/platform/env"
	"github.com/sgc-labs/sgc-go/internal/platform/httpserver"
	"github.com/sgc-labs/sgc-go/internal/platform/postgres"
)

const serviceName = "sgc-gateway"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpCfg, err := httpserver.ConfigFromEnv(serviceName)
	if err != nil {
		logger.Error("invalid http config", "error", err)
		os.Exit(2)
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	if authCfg.Mode == auth.ModeHeaders {
		logger.Error("unsupported auth mode", "mode", authCfg.Mode, "error", "the gateway issues identity headers and cannot trust them")
		os.Exit(2)
	}
	authenticator, oidcSvc, err := auth.NewAuthenticator(ctx, authCfg)
	if err != nil {
		logger.Error("auth init failed", "error", err)
		os.Exit(1)
	}

	var (
		audit  auth.AuditFunc
		checks []httpserver.ReadinessCheck
	)
	auditEnabled, err := env.Bool("SGC_GATEWAY_AUDIT_ENABLED", true)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	if auditEnabled {
		dbCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid database config", "error", err)
			os.Exit(2)
		}
		db, err := postgres.Open(ctx, dbCfg)
		if err != nil {
			logger.Error("database unavailable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()

		deny := auditlog.AuthDenyFunc(auditlog.NewSQLAppender(db), serviceName)
		audit = func(ctx context.Context, event auth.DenyEvent) error {
			auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return deny(auditCtx, event)
		}
		checks = append(checks, httpserver.ReadinessCheck{
			Name:  "postgres",
			Check: httpserver.WithTimeout(750*time.Millisecond, postgres.Ping(db)),
		})
	}

	processesProxy, err := newSigningProxy(logger, authCfg.InternalAuthSecret, env.String("SGC_PROCESSES_BASE_URL", "http://localhost:8081"))
	if err != nil {
		logger.Error("proxy init failed", "service", "processes", "error", err)
		os.Exit(2)
	}

	authenticated := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Aliases:       authCfg.RoleAliases,
		Audit:         audit,
	}
	protected := authenticated
	protected.Authorize = auth.RoleAuthorizer(auth.ProcessRoles...)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks(serviceName, checks...))
	mux.Handle("GET /auth/session", authenticated.Wrap(http.HandlerFunc(sessionHandler)))

	switch {
	case oidcSvc == nil:
		mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
			httpserver.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	case authCfg.ValidateForLogin() == nil:
		login, err := oidcSvc.LoginHandler()
		if err != nil {
			logger.Error("oidc login handler init failed", "error", err)
			os.Exit(2)
		}
		callback, err := oidcSvc.CallbackHandler()
		if err != nil {
			logger.Error("oidc callback handler init failed", "error", err)
			os.Exit(2)
		}
		mux.HandleFunc("GET /auth/login", login)
		mux.HandleFunc("GET /auth/callback", callback)
		mux.HandleFunc("POST /auth/logout", oidcSvc.LogoutHandler())
	default:
		mux.HandleFunc("GET /auth/login", loginNotConfigured)
		mux.HandleFunc("GET /auth/callback", loginNotConfigured)
		mux.HandleFunc("POST /auth/logout", oidcSvc.LogoutHandler())
	}

	mux.Handle("/api/processes/", protected.Wrap(http.StripPrefix("/api", processesProxy)))
	mux.Handle("/api/processes", protected.Wrap(http.StripPrefix("/api", processesProxy)))

	if err := httpserver.Run(ctx, logger, httpCfg, httpserver.Wrap(logger, serviceName, mux)); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
