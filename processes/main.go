package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sgc-labs/sgc-go/internal/notify"
	"github.com/sgc-labs/sgc-go/internal/platform/auditlog"
	"github.com/sgc-labs/sgc-go/internal/platform/auth"
	"github.com/sgc-labs/sgc-go/internal/platform/env"
	"github.com/sgc-labs/sgc-go/internal/platform/httpserver"
	"github.com/sgc-labs/sgc-go/internal/platform/objectstore"
	"github.com/sgc-labs/sgc-go/internal/platform/postgres"
	"github.com/sgc-labs/sgc-go/internal/repo"
	"github.com/sgc-labs/sgc-go/internal/repo/memory"
	pgrepo "github.com/sgc-labs/sgc-go/internal/repo/postgres"
)

const serviceName = "sgc-processes"

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

	var (
		tx       repo.Transactor
		stores   repo.Stores
		profiles repo.ProfileSource
		checks   []httpserver.ReadinessCheck
	)
	switch kind := strings.ToLower(env.String("SGC_STORE", "postgres")); kind {
	case "postgres":
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

		tx = pgrepo.NewTransactor(db)
		stores = pgrepo.StoresFor(db)
		profiles = pgrepo.NewProfileStore(db)
		checks = append(checks, httpserver.ReadinessCheck{
			Name:  "postgres",
			Check: httpserver.WithTimeout(750*time.Millisecond, postgres.Ping(db)),
		})
	case "memory":
		store := memory.New()
		if err := loadSeedFile(ctx, env.String("SGC_MEMORY_SEED_FILE", ""), store); err != nil {
			logger.Error("invalid seed file", "error", err)
			os.Exit(2)
		}
		tx = store
		stores = store.Stores()
		profiles = store
		logger.Warn("using in-memory store; state is lost on restart")
	default:
		logger.Error("invalid env", "error", "SGC_STORE must be postgres or memory", "value", kind)
		os.Exit(2)
	}

	sinks := []notify.Sink{
		notify.LogSink{Logger: logger},
		notify.AuditSink{Audit: stores.Audit},
	}
	archiveEnabled, err := env.Bool("SGC_ARCHIVE_ENABLED", false)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	if archiveEnabled {
		storeCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid object store config", "error", err)
			os.Exit(2)
		}
		client, err := objectstore.NewMinIOClient(storeCfg)
		if err != nil {
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		if err := objectstore.EnsureBucket(ctx, client, storeCfg); err != nil {
			logger.Error("object store bucket unavailable", "error", err)
			os.Exit(1)
		}
		archive, err := objectstore.NewMinioStore(client)
		if err != nil {
			logger.Error("object store unavailable", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, notify.ArchiveSink{Store: archive, Bucket: storeCfg.BucketArchive})
		checks = append(checks, httpserver.ReadinessCheck{
			Name:  "minio",
			Check: httpserver.WithTimeout(750*time.Millisecond, objectstore.CheckBucket(client, storeCfg)),
		})
	}
	notifier, err := notify.NewDispatcher(stores.Units, logger, sinks...)
	if err != nil {
		logger.Error("invalid notifier config", "error", err)
		os.Exit(2)
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	authenticator, oidcSvc, err := auth.NewAuthenticator(ctx, authCfg)
	if err != nil {
		logger.Error("auth init failed", "error", err)
		os.Exit(1)
	}
	audit := auditlog.AuthDenyFunc(stores.Audit, serviceName)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks(serviceName, checks...))
	if oidcSvc != nil {
		login, err := oidcSvc.LoginHandler()
		if err != nil {
			logger.Error("invalid oidc login config", "error", err)
			os.Exit(2)
		}
		callback, err := oidcSvc.CallbackHandler()
		if err != nil {
			logger.Error("invalid oidc login config", "error", err)
			os.Exit(2)
		}
		mux.HandleFunc("GET /auth/login", login)
		mux.HandleFunc("GET /auth/callback", callback)
		mux.HandleFunc("POST /auth/logout", oidcSvc.LogoutHandler())
	}

	api := newProcessAPI(logger, apiDeps{
		Transactor: tx,
		Stores:     stores,
		Profiles:   profiles,
		Notifier:   notifier,
		Aliases:    authCfg.RoleAliases,
		Audit:      audit,
	})
	api.register(mux)

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Authorize:     auth.RoleAuthorizer(auth.ProcessRoles...),
		Aliases:       authCfg.RoleAliases,
		Audit: func(ctx context.Context, event auth.DenyEvent) error {
			auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return audit(auditCtx, event)
		},
		SkipPrefixes: []string{"/healthz", "/readyz", "/auth/"},
	}.Wrap(mux)

	if err := httpserver.Run(ctx, logger, httpCfg, httpserver.Wrap(logger, serviceName, handler)); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
