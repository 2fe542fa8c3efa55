// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Command cub runs the edge: tenant-scoped revision caching, derivation
// proxying and geo-aware serving in front of an origin. In
// HOME_DEV_MODE it also runs an in-process content watcher/builder and
// live-reload channel against a local content directory instead of a
// remote origin, following the same graceful-shutdown
// process skeleton as cmd/mom.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/home-cms/home/internal/config"
	"github.com/home-cms/home/internal/derivation"
	"github.com/home-cms/home/internal/edgeserver"
	"github.com/home-cms/home/internal/geoip"
	"github.com/home-cms/home/internal/livereload"
	"github.com/home-cms/home/internal/logging"
	"github.com/home-cms/home/internal/middleware"
	"github.com/home-cms/home/internal/model"
	"github.com/home-cms/home/internal/objectstore"
	"github.com/home-cms/home/internal/originserver"
	"github.com/home-cms/home/internal/render"
	"github.com/home-cms/home/internal/revision"
	"github.com/home-cms/home/internal/session"
	"github.com/home-cms/home/internal/store"
)

var version = "dev"

// avgDerivationSizeBytes is the assumed average size of a cached
// derivation, used only to translate the operator-facing byte budget
// (HOME_CACHE_MEMORY_BUDGET_BYTES) into the entry count derivation.
// NewEdgeCache's LRU actually takes. A resized JPEG thumbnail or a
// compressed page fragment both land well under this; it errs toward
// fewer, safely-sized entries rather than over-committing memory.
const avgDerivationSizeBytes = 200 * 1024

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.BoolVar(showVersion, "v", false, "print version and exit (shorthand)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "cub is the home edge server.\n\nEnvironment variables:\n")
		fmt.Fprintf(os.Stderr, "  HOME_ORIGIN_BASE_URL             required unless HOME_DEV_MODE=true\n")
		fmt.Fprintf(os.Stderr, "  HOME_ORIGIN_API_KEY, HOME_EDGE_TENANTS\n")
		fmt.Fprintf(os.Stderr, "  HOME_SERVER_HOST, HOME_SERVER_PORT, HOME_ENV, HOME_LOG_LEVEL\n")
		fmt.Fprintf(os.Stderr, "  HOME_CACHE_MEMORY_BUDGET_BYTES, HOME_CACHE_DISK_BUDGET_BYTES, HOME_CACHE_DISK_DIR\n")
		fmt.Fprintf(os.Stderr, "  HOME_WARMUP_TOP_N, HOME_GEOIP_DB_PATH\n")
		fmt.Fprintf(os.Stderr, "  HOME_DEV_MODE, HOME_DEV_CONTENT_DIR\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println("cub version " + version)
		return
	}

	if err := run(); err != nil {
		slog.Error("cub exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.LoadEdge()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.IsDevelopment())
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.CacheDiskDir, 0o755); err != nil {
		return fmt.Errorf("creating cache disk directory: %w", err)
	}
	edgeStore, err := objectstore.NewDiskStore(cfg.CacheDiskDir)
	if err != nil {
		return fmt.Errorf("opening edge disk cache: %w", err)
	}

	geo := geoip.NewLookup()
	if err := geo.Init(cfg.GeoIPDBPath); err != nil {
		return fmt.Errorf("opening GeoIP database: %w", err)
	}

	var reload *livereload.Hub
	if cfg.DevMode {
		reload = livereload.NewHub(logger)
	}

	tenantCfgs, resolver, originBaseURL, err := resolveTenants(cfg)
	if err != nil {
		return err
	}

	client := edgeserver.NewOriginClient(originBaseURL, logger)
	memoryEntries := int(cfg.CacheMemoryBudgetBytes / avgDerivationSizeBytes)
	if memoryEntries < 1 {
		memoryEntries = 1
	}
	edgeCache, err := derivation.NewEdgeCache(memoryEntries, edgeStore, client.FetchDerivation)
	if err != nil {
		return fmt.Errorf("building edge derivation cache: %w", err)
	}

	srv := edgeserver.New(edgeserver.Config{WarmupTopN: cfg.WarmupTopN}, resolver, client, edgeCache, geo, reload, logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders(middleware.DefaultSecurityHeadersConfig(cfg.IsDevelopment())))
	srv.Routes(r)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	ctx, cancelWatchers := context.WithCancel(context.Background())
	defer cancelWatchers()

	if cfg.DevMode {
		if err := startDevOrigin(ctx, cfg, reload, logger); err != nil {
			return fmt.Errorf("starting dev origin: %w", err)
		}
	}
	for _, tenant := range tenantCfgs {
		go srv.WatchTenant(ctx, model.Tenant{Label: tenant.Label, Domain: tenant.Domain})
	}

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
		slog.Info("starting edge server", "addr", cfg.ServerAddr(), "env", cfg.Env, "dev_mode", cfg.DevMode)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down edge server...")
	cancelWatchers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	slog.Info("edge server stopped")
	return nil
}

// resolveTenants builds the edge's tenant resolver either from
// HOME_EDGE_TENANTS (production) or, in dev mode with no tenants
// configured, a single synthetic "dev" tenant pointed at the in-process
// origin this same process is about to start.
func resolveTenants(cfg *config.Edge) ([]edgeserver.TenantConfig, *edgeserver.StaticTenantResolver, string, error) {
	cfgs, err := edgeserver.ParseTenantConfigs(cfg.TenantsJSON)
	if err != nil {
		return nil, nil, "", err
	}

	if len(cfgs) == 0 && cfg.DevMode {
		cfgs = []edgeserver.TenantConfig{{Label: "dev", Domain: "localhost"}}
	}
	if len(cfgs) == 0 {
		return nil, nil, "", fmt.Errorf("no tenants configured: set HOME_EDGE_TENANTS")
	}

	originBaseURL := cfg.OriginBaseURL
	if cfg.DevMode && originBaseURL == "" {
		originBaseURL = "http://" + devOriginAddr
	}
	if originBaseURL == "" {
		return nil, nil, "", fmt.Errorf("HOME_ORIGIN_BASE_URL is required outside dev mode")
	}

	resolver, err := edgeserver.NewStaticTenantResolver(cfgs, cfg.OriginAPIKey)
	if err != nil {
		return nil, nil, "", err
	}
	return cfgs, resolver, originBaseURL, nil
}

// devOriginAddr is the loopback address the embedded dev-mode origin
// listens on; resolveTenants and startDevOrigin must agree on it.
const devOriginAddr = "127.0.0.1:8091"

// startDevOrigin runs a minimal in-process originserver against
// cfg.DevContentDir, backed by a throwaway sqlite database and disk
// object store under the edge's own cache directory. It exists so
// HOME_DEV_MODE can drive the edge's normal WatchTenant/Subscribe path
// unchanged instead of the edge needing a second, bespoke
// "local content" code path.
func startDevOrigin(ctx context.Context, cfg *config.Edge, reload *livereload.Hub, logger *slog.Logger) error {
	dbPath := filepath.Join(cfg.CacheDiskDir, "dev-origin.db")
	os.Remove(dbPath)
	db, err := store.Open(store.DialectSQLite, dbPath, store.DefaultConfig())
	if err != nil {
		return fmt.Errorf("opening dev origin database: %w", err)
	}
	if err := store.Migrate(db, store.DialectSQLite); err != nil {
		return fmt.Errorf("migrating dev origin database: %w", err)
	}

	tenants := store.NewTenantStore(db)
	if err := tenants.Create(ctx, model.Tenant{Label: "dev", Domain: "localhost"}); err != nil {
		return fmt.Errorf("creating dev tenant: %w", err)
	}

	assetsDir := filepath.Join(cfg.CacheDiskDir, "dev-origin-assets")
	if err := os.MkdirAll(assetsDir, 0o755); err != nil {
		return err
	}
	assets, err := objectstore.NewDiskStore(assetsDir)
	if err != nil {
		return fmt.Errorf("opening dev origin object store: %w", err)
	}

	revStore := revision.NewStore(store.NewRevisionIndex(db), assets)
	manifests := originserver.NewManifestIndex()
	producer := originserver.NewDerivationProducer(assets, manifests)
	derivations := derivation.NewCache(assets, originserver.BoundProducer(4, producer))

	origin := originserver.New(
		originserver.Config{DevMode: true},
		tenants, store.NewDeployKeyStore(db), store.NewCredentialStore(db),
		revStore, derivations, assets, manifests,
		session.NewKeyDeriver([]byte("dev-mode-session-secret-dev-mode")),
		map[string]originserver.IdentityProvider{},
		logger,
	)

	r := chi.NewRouter()
	origin.Routes(r)

	listener, err := net.Listen("tcp", devOriginAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", devOriginAddr, err)
	}
	devSrv := &http.Server{Handler: r}
	go func() {
		if err := devSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("dev origin server error", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = devSrv.Shutdown(shutdownCtx)
		db.Close()
	}()

	builder := &devBuilder{
		tenant:    "dev",
		dir:       cfg.DevContentDir,
		renderer:  render.NewMarkdownRenderer(),
		assets:    assets,
		revisions: revStore,
		manifests: manifests,
		reload:    reload,
		logger:    logger,
	}
	go func() {
		if err := runDevWatcher(ctx, builder); err != nil {
			logger.Error("dev content watcher stopped", "error", err)
		}
	}()

	return nil
}
