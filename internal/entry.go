// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/ansuz/internal/api"
	"github.com/starford/ansuz/internal/importer"
	"github.com/starford/ansuz/internal/mcpserver"
	"github.com/starford/ansuz/internal/merge"
	"github.com/starford/ansuz/internal/metrics"
	"github.com/starford/ansuz/internal/objectstore"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/store"
	"github.com/starford/ansuz/internal/syncer"
	"github.com/starford/ansuz/internal/transport"
	"github.com/starford/ansuz/internal/tree"
)

// components holds the wired service graph shared by the HTTP and MCP
// entrypoints.
type components struct {
	db       *store.DB
	trees    *tree.Service
	resolver *merge.Resolver
	engine   *syncer.Engine
	importer *importer.Importer
	remotes  map[string]syncer.Remote
	metrics  *metrics.Collector
	broker   *sse.Broker
}

func (c *components) close() {
	if c.broker != nil {
		c.broker.Close()
	}
	if c.db != nil {
		_ = c.db.Close()
	}
}

// build wires the full service graph from configuration. withEvents
// controls whether an SSE broker is attached (the MCP entrypoint has no
// event consumers).
func build(cfg *Config, logger *slog.Logger, withEvents bool) (*components, error) {
	db, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	payloads, err := storage.NewFS(cfg.Payloads.Path)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init payload store: %w", err)
	}

	var targets objectstore.Store
	switch cfg.Targets.Mode {
	case TargetsModeGit:
		targets, err = objectstore.OpenGit(cfg.Targets.GitPath)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("init target store: %w", err)
		}
	default:
		targets = objectstore.AllowAll{}
	}

	c := &components{db: db, metrics: metrics.NewCollector()}

	// Every head change flows through the tree callback, so writes are
	// counted in one place no matter which path commits them.
	collector := c.metrics
	cb := tree.EventCallback(func(kind, namespace, target string) {
		collector.RecordWrite(namespace, kind)
	})
	if withEvents {
		c.broker = sse.NewBroker()
		broker := c.broker
		cb = func(kind, namespace, target string) {
			collector.RecordWrite(namespace, kind)
			broker.PublishNoteEvent(kind, namespace, target)
		}
	}

	c.trees = tree.NewService(db, payloads, targets, cb)
	c.resolver = merge.NewResolver(db, payloads, targets)
	c.engine = syncer.NewEngine(c.trees, c.resolver, c.metrics, logger)
	c.importer = importer.New(c.trees)

	c.remotes = make(map[string]syncer.Remote, len(cfg.Remotes))
	for _, rc := range cfg.Remotes {
		c.remotes[rc.Name] = transport.NewHTTPRemote(rc.Name, rc.URL, rc.Token)
	}

	return c, nil
}

// Run starts the replica HTTP service with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("payloads_path", cfg.Payloads.Path),
		slog.String("targets_mode", cfg.Targets.Mode),
		slog.Int("remotes", len(cfg.Remotes)),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c, err := build(cfg, logger, true)
	if err != nil {
		return err
	}
	defer c.close()

	logger.Info("Replica ready", slog.String("replica_id", c.db.ReplicaID()))

	// Build API handlers and router.
	peer := api.NewPeerHandler(c.trees, c.resolver)
	h := api.NewHandler(c.trees, c.importer, c.engine, c.remotes, peer)
	apiRouter := api.NewRouter(h, cfg.Auth.AuthEnabled(), cfg.Auth.Token, http.HandlerFunc(c.broker.ServeHTTP))

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Prometheus metrics (unauthenticated).
	r.Get("/metrics", promhttp.HandlerFor(c.metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP)

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start the import drop-directory watcher when configured.
	if cfg.Import.WatchDir != "" {
		if err := os.MkdirAll(cfg.Import.WatchDir, 0o755); err != nil {
			return fmt.Errorf("create import watch dir: %w", err)
		}
		g.Go(func() error {
			if err := c.importer.Watch(gCtx, cfg.Import.WatchDir, logger); err != nil {
				return fmt.Errorf("import watcher error: %w", err)
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the stdio MCP server with the given options.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// MCP speaks on stdout; keep logs on stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	c, err := build(cfg, logger, false)
	if err != nil {
		return err
	}
	defer c.close()

	srv := mcpserver.New(c.trees, c.engine, c.remotes)
	logger.Info("MCP server starting on stdio", slog.String("replica_id", c.db.ReplicaID()))
	return srv.ServeStdio()
}
