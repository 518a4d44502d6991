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
	"golang.org/x/sync/errgroup"

	"github.com/starford/magic/internal/api"
	"github.com/starford/magic/internal/graph"
	"github.com/starford/magic/internal/magic"
	"github.com/starford/magic/internal/mcpserver"
	"github.com/starford/magic/internal/provider"
	"github.com/starford/magic/internal/settings"
	"github.com/starford/magic/internal/sse"
)

// runtime holds the components shared by every entry point.
type runtime struct {
	cfg      *Config
	logger   *slog.Logger
	store    *graph.Store
	graph    *graph.Graph
	settings *settings.Manager
	tagger   *magic.Tagger
}

func newRuntime(ctx context.Context, opts ...Option) (*runtime, *application, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("provider", cfg.Provider.Provider),
		slog.String("model", cfg.Provider.Model),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, err := graph.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("init graph store: %w", err)
	}

	tagger := magic.NewTagger(store, cfg.Template.Alias, logger)
	if _, err := tagger.Ensure(ctx, false); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("init tag: %w", err)
	}

	mgr := settings.NewManager(app.configPath, cfg.Provider.Settings, DecodeSettings,
		settings.WithLogger(logger))
	mgr.Subscribe(tagger.OnSettingsChanged)

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		graph:    graph.New(store),
		settings: mgr,
		tagger:   tagger,
	}, app, nil
}

// command builds the generate command with the given notifiers after the log sink.
func (rt *runtime) command(notifiers ...magic.Notifier) *magic.Command {
	dispatcher := provider.NewDispatcher(
		provider.WithHTTPClient(&http.Client{Timeout: rt.cfg.Provider.Timeout}),
		provider.WithLogger(rt.logger),
	)
	return magic.NewCommand(magic.Config{
		Graph:        rt.graph,
		Generator:    dispatcher,
		Settings:     rt.settings,
		Notifier:     append(magic.Fanout{magic.LogNotifier{Logger: rt.logger}}, notifiers...),
		Logger:       rt.logger,
		LinkProperty: rt.cfg.Template.LinkProperty,
	})
}

func (rt *runtime) watchSettings(ctx context.Context, configPath string) (stop func()) {
	if configPath == "" {
		return func() {}
	}
	if err := rt.settings.Start(ctx); err != nil {
		rt.logger.Warn("settings watcher disabled", slog.String("error", err.Error()))
		return func() {}
	}
	return rt.settings.Stop
}

func (rt *runtime) close() {
	if err := rt.store.Close(); err != nil {
		rt.logger.Error("close graph store", slog.String("error", err.Error()))
	}
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	rt, app, err := newRuntime(ctx, opts...)
	if err != nil {
		return err
	}
	defer rt.close()
	cfg, logger := rt.cfg, rt.logger

	// SSE broker.
	broker := sse.NewBroker()
	defer broker.Close()
	rt.settings.Subscribe(func(_ context.Context, s provider.Settings) {
		broker.Publish(sse.Event{Type: sse.EventSettingsUpdated, Data: s})
	})

	cmd := rt.command(broker)

	// Build API service and router.
	svc := api.NewService(rt.graph, cmd)
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, ok, err := rt.graph.RootIDByAlias(req.Context(), cfg.Template.Alias); err != nil || !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not ready"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	stopSettings := rt.watchSettings(gCtx, app.configPath)
	defer stopSettings()

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
		defer signal.Stop(quit)

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

// Generate runs the generate command once and returns its outcome.
func Generate(ctx context.Context, inv magic.Invocation, opts ...Option) (magic.Outcome, error) {
	rt, _, err := newRuntime(ctx, opts...)
	if err != nil {
		return magic.Outcome{}, err
	}
	defer rt.close()

	return rt.command().Execute(ctx, inv), nil
}

// Seed loads a YAML graph fixture into the store.
func Seed(ctx context.Context, path string, opts ...Option) error {
	seed, err := graph.LoadSeedFile(path)
	if err != nil {
		return err
	}
	rt, _, err := newRuntime(ctx, opts...)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.graph.ApplySeed(ctx, seed); err != nil {
		return fmt.Errorf("apply seed: %w", err)
	}
	rt.logger.Info("seed applied",
		slog.String("path", path),
		slog.Int("blocks", len(seed.Blocks)),
		slog.Int("aliases", len(seed.Aliases)),
		slog.Int("mirrors", len(seed.Mirrors)))
	return nil
}

// ServeMCP serves the MCP tools on stdin/stdout until the client disconnects.
func ServeMCP(ctx context.Context, opts ...Option) error {
	// Stdout carries the protocol; logs go to stderr.
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	rt, app, err := newRuntime(ctx, opts...)
	if err != nil {
		return err
	}
	defer rt.close()

	stopSettings := rt.watchSettings(ctx, app.configPath)
	defer stopSettings()

	rt.logger.Info("MCP server starting on stdio")
	return mcpserver.New(rt.graph, rt.command(),
		mcpserver.WithTemplateNames(rt.cfg.Template.Alias, rt.cfg.Template.LinkProperty),
	).ServeStdio()
}
