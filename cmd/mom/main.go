// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Command mom runs the origin: authenticated deploy ingest, the
// derivation dispatcher, identity exchange and the revision subscription
// stream edges consume. Its process skeleton — flag
// handling, .env loading, structured logging upgraded to a durable event
// sink, and graceful shutdown on SIGINT/SIGTERM — follows the teacher's
// cmd/ocms/main.go almost verbatim; only the domain wiring in between
// differs.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/home-cms/home/internal/config"
	"github.com/home-cms/home/internal/derivation"
	"github.com/home-cms/home/internal/logging"
	"github.com/home-cms/home/internal/middleware"
	"github.com/home-cms/home/internal/objectstore"
	"github.com/home-cms/home/internal/originserver"
	"github.com/home-cms/home/internal/revision"
	"github.com/home-cms/home/internal/scheduler"
	"github.com/home-cms/home/internal/session"
	"github.com/home-cms/home/internal/store"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.BoolVar(showVersion, "v", false, "print version and exit (shorthand)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "mom is the home origin server.\n\nEnvironment variables:\n")
		fmt.Fprintf(os.Stderr, "  HOME_DB_PATH                    sqlite database path (default ./data/mom.db)\n")
		fmt.Fprintf(os.Stderr, "  HOME_SESSION_SECRET             visitor session signing key, required, >=32 bytes\n")
		fmt.Fprintf(os.Stderr, "  HOME_SERVER_HOST, HOME_SERVER_PORT\n")
		fmt.Fprintf(os.Stderr, "  HOME_ENV, HOME_LOG_LEVEL\n")
		fmt.Fprintf(os.Stderr, "  HOME_OBJECTSTORE_DIR, HOME_S3_BUCKET, HOME_S3_REGION\n")
		fmt.Fprintf(os.Stderr, "  HOME_REDIS_URL, HOME_CACHE_PREFIX\n")
		fmt.Fprintf(os.Stderr, "  HOME_GEOIP_DB_PATH\n")
		fmt.Fprintf(os.Stderr, "  HOME_MAX_DERIVATION_WORKERS, HOME_DEPLOY_UPLOAD_RATE_BYTES\n")
		fmt.Fprintf(os.Stderr, "  HOME_RETENTION_KEEP_LAST\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println("mom version " + version)
		return
	}

	if err := run(); err != nil {
		slog.Error("mom exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.LoadOrigin()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	baseLogger := logging.New(cfg.LogLevel, cfg.IsDevelopment())
	slog.SetDefault(baseLogger)

	if err := os.MkdirAll(cfg.ObjectStoreDir, 0o755); err != nil {
		return fmt.Errorf("creating object store directory: %w", err)
	}

	dialect := store.DialectSQLite
	db, err := store.Open(dialect, cfg.DBPath, store.DefaultConfig())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	if err := store.Migrate(db, dialect); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	events := store.NewEventStore(db)
	logger := slog.New(logging.NewEventLogHandler(baseLogger.Handler(), events, slog.LevelWarn))
	slog.SetDefault(logger)

	tenants := store.NewTenantStore(db)
	deployKeys := store.NewDeployKeyStore(db)
	credentials := store.NewCredentialStore(db)
	revIndex := store.NewRevisionIndex(db)

	assets, err := buildObjectStore(cfg)
	if err != nil {
		return fmt.Errorf("building object store: %w", err)
	}

	revStore := revision.NewStore(revIndex, assets)

	manifests := originserver.NewManifestIndex()
	producer := originserver.NewDerivationProducer(assets, manifests)
	bounded := originserver.BoundProducer(cfg.MaxDerivationWorkers, producer)
	derivations := derivation.NewCache(assets, bounded)

	keyDeriver := session.NewKeyDeriver([]byte(cfg.SessionSecret))

	providers, err := buildIdentityProviders(context.Background())
	if err != nil {
		return fmt.Errorf("configuring identity providers: %w", err)
	}

	sched := scheduler.New(tenants, revStore, nil, cfg.RetentionKeepLast, logger)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("starting retention scheduler: %w", err)
	}
	defer sched.Stop()

	srv := originserver.New(
		originserver.Config{
			UploadRateBytesPerSec: cfg.DeployUploadRateBytesPerSec,
			DevMode:               cfg.IsDevelopment(),
		},
		tenants, deployKeys, credentials, revStore, derivations, assets, manifests,
		keyDeriver, providers, logger,
	)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders(middleware.DefaultSecurityHeadersConfig(cfg.IsDevelopment())))
	srv.Routes(r)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	httpSrv := &http.Server{
		Addr:              cfg.ServerAddr(),
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		slog.Info("starting origin server", "addr", cfg.ServerAddr(), "env", cfg.Env)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down origin server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	slog.Info("origin server stopped")
	return nil
}

// buildObjectStore assembles the origin's asset/derivation storage:
// local disk always, layered with S3 as a durable
// second tier when HOME_S3_BUCKET is configured, matching
// config.Origin.UseS3.
func buildObjectStore(cfg *config.Origin) (objectstore.Store, error) {
	disk, err := objectstore.NewDiskStore(cfg.ObjectStoreDir)
	if err != nil {
		return nil, fmt.Errorf("opening disk object store: %w", err)
	}
	if !cfg.UseS3() {
		return disk, nil
	}
	s3, err := objectstore.NewS3Store(context.Background(), objectstore.S3Options{
		Bucket: cfg.S3Bucket,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("opening S3 object store: %w", err)
	}
	return objectstore.NewLayered(
		objectstore.NamedLayer{Name: "disk", Store: disk},
		objectstore.NamedLayer{Name: "s3", Store: s3},
	), nil
}

// buildIdentityProviders reads HOME_OIDC_PROVIDERS_JSON, a JSON object of
// provider-name -> originserver.OIDCConfig, and constructs one
// originserver.OIDCProvider per entry. An unset or empty value yields no
// providers, which is a legitimate deployment (visitor identity is a
// spec.md Non-goal-adjacent feature many tenants never turn on).
func buildIdentityProviders(ctx context.Context) (map[string]originserver.IdentityProvider, error) {
	raw := os.Getenv("HOME_OIDC_PROVIDERS_JSON")
	providers := make(map[string]originserver.IdentityProvider)
	if raw == "" {
		return providers, nil
	}

	var cfgs map[string]originserver.OIDCConfig
	if err := json.Unmarshal([]byte(raw), &cfgs); err != nil {
		return nil, fmt.Errorf("parsing HOME_OIDC_PROVIDERS_JSON: %w", err)
	}
	for name, cfg := range cfgs {
		p, err := originserver.NewOIDCProvider(ctx, name, cfg)
		if err != nil {
			return nil, fmt.Errorf("configuring identity provider %q: %w", name, err)
		}
		providers[name] = p
	}
	return providers, nil
}
