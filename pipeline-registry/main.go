// Command pipeline-registry serves the feedline control plane: pipeline
// and dataset registration plus run execution over HTTP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/feedline-labs/feedline-go/internal/platform/auditlog"
	"github.com/feedline-labs/feedline-go/internal/platform/auth"
	"github.com/feedline-labs/feedline-go/internal/platform/env"
	"github.com/feedline-labs/feedline-go/internal/platform/httpserver"
	platformstore "github.com/feedline-labs/feedline-go/internal/platform/objectstore"
	"github.com/feedline-labs/feedline-go/internal/platform/postgres"
	repopg "github.com/feedline-labs/feedline-go/internal/repo/postgres"
	runsvc "github.com/feedline-labs/feedline-go/internal/service/runs"
	"github.com/feedline-labs/feedline-go/internal/storage/objectstore"
)

const serviceName = "pipeline-registry"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("service exited", "service", serviceName, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	addr := env.String("PIPELINE_REGISTRY_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("PIPELINE_REGISTRY_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return err
	}
	runTimeout, err := env.Duration("FEEDLINE_RUN_TIMEOUT", 5*time.Minute)
	if err != nil {
		return err
	}
	cacheDir := env.String("FEEDLINE_DATASET_CACHE_DIR", filepath.Join(os.TempDir(), "feedline-datasets"))
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("create dataset cache dir: %w", err)
	}

	pgCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return err
	}
	db, err := postgres.Open(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repopg.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	storeCfg, err := platformstore.ConfigFromEnv()
	if err != nil {
		return err
	}
	minioClient, err := platformstore.NewMinIOClient(storeCfg)
	if err != nil {
		return err
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = platformstore.EnsureBuckets(startupCtx, minioClient, storeCfg)
	cancel()
	if err != nil {
		return fmt.Errorf("ensure buckets: %w", err)
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		return err
	}
	authenticator, err := buildAuthenticator(ctx, authCfg)
	if err != nil {
		return err
	}

	store, err := objectstore.NewMinioStoreWithClient(minioClient)
	if err != nil {
		return err
	}

	pipelines := repopg.NewPipelineStore(db)
	datasets := repopg.NewDatasetStore(db)
	runs := repopg.NewRunStore(db)

	exec := runsvc.New(pipelines, datasets, runs, store,
		runsvc.Buckets{Datasets: storeCfg.BucketDatasets, Artifacts: storeCfg.BucketArtifacts},
		cacheDir,
		runsvc.WithLogger(logger),
		runsvc.WithTimeout(runTimeout),
	)
	if exec == nil {
		return fmt.Errorf("run executor not initialized")
	}

	svc := newRegistryService(pipelines, datasets, runs, exec, db)
	api := &registryAPI{
		logger:          logger,
		svc:             svc,
		store:           store,
		artifactsBucket: storeCfg.BucketArtifacts,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("GET /readyz", httpserver.ReadyzWithChecks(serviceName,
		httpserver.ReadinessCheck{Name: "postgres", Check: func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return db.PingContext(pingCtx)
		}},
		httpserver.ReadinessCheck{Name: "objectstore", Check: func(ctx context.Context) error {
			checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return platformstore.CheckBuckets(checkCtx, minioClient, storeCfg)
		}},
	))
	api.register(mux)

	skipPrefixes := []string{"/healthz", "/readyz"}
	protected := auth.Middleware{
		Logger:         logger,
		Authenticator:  authenticator,
		Authorize:      auth.MethodRoleAuthorizer(),
		ProjectResolve: auth.RequireProjectIDResolver(skipPrefixes),
		Audit:          authDenyAuditor(logger, db),
		SkipPrefixes:   skipPrefixes,
	}.Wrap(mux)

	return httpserver.Run(ctx, logger, httpserver.Config{
		Service:         serviceName,
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}, httpserver.Wrap(logger, serviceName, protected))
}

func buildAuthenticator(ctx context.Context, cfg auth.Config) (auth.Authenticator, error) {
	switch cfg.Mode {
	case auth.ModeOIDC:
		return auth.NewOIDCVerifier(ctx, cfg)
	case auth.ModeDev:
		return auth.NewDevAuthenticator(cfg), nil
	case auth.ModeDisabled:
		// No verification at all: every request acts as an anonymous admin.
		return auth.NewDevAuthenticator(auth.Config{
			DevSubject: "anonymous",
			DevRoles:   []string{auth.RoleAdmin},
		}), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %q", cfg.Mode)
	}
}

// authDenyAuditor records middleware denials in the audit log. Insert
// failures are logged; the denial response is never blocked on them.
func authDenyAuditor(logger *slog.Logger, db auditlog.QueryRower) auth.AuditFunc {
	return func(ctx context.Context, event auth.DenyEvent) error {
		auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
		defer cancel()
		if err := auditlog.InsertAuthDeny(auditCtx, db, serviceName, event); err != nil {
			logger.Error("audit auth deny failed", "error", err)
		}
		return nil
	}
}
