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

	"github.com/starford/markpad/internal/api"
	"github.com/starford/markpad/internal/docservice"
	"github.com/starford/markpad/internal/kv"
	"github.com/starford/markpad/internal/mcpserver"
	"github.com/starford/markpad/internal/render"
	"github.com/starford/markpad/internal/sse"
	"github.com/starford/markpad/internal/storage"
	"github.com/starford/markpad/internal/tabs"
	"github.com/starford/markpad/internal/tabsync"
)

// Version is reported by the MCP server.
const Version = "1.0.0"

// Stack is the set of long-lived components built from a Config.
type Stack struct {
	Config   *Config
	Logger   *slog.Logger
	Store    *kv.SQLite
	Registry *tabs.Registry
	Service  *docservice.Service
	Broker   *sse.Broker
}

// Close closes every open tab, then the durable store.
func (s *Stack) Close() error {
	s.Registry.CloseAll()
	if s.Broker != nil {
		s.Broker.Close()
	}
	return s.Store.Close()
}

// Open builds the components shared by the server, the MCP server and the
// CLI commands.
func Open(opts ...Option) (*Stack, error) {
	app := &application{logOutput: os.Stdout}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Debug("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.Storage.SQLitePath),
		slog.String("export_dir", cfg.Storage.ExportDir),
		slog.Int("max_entries", cfg.History.MaxEntries),
		slog.String("restore_policy", cfg.History.RestorePolicy),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure export directory exists.
	if err := os.MkdirAll(cfg.Storage.ExportDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	exports, err := storage.NewFS(cfg.Storage.ExportDir)
	if err != nil {
		return nil, fmt.Errorf("init exports: %w", err)
	}

	store, err := kv.OpenSQLite(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	broker := sse.NewBroker(time.Second)

	registry := tabs.NewRegistry(store, cfg.Codec(logger), cfg.TabSettings(),
		tabs.WithLogger(logger),
		tabs.WithOnHistoryChange(func() {
			broker.PublishHistoryChange(sse.OriginLocal)
		}),
	)

	renderer := render.New(
		render.WithCache(render.NewDiagramCache(render.DefaultCacheSize)),
		render.WithLogger(logger),
	)

	svc := docservice.NewService(registry, renderer,
		docservice.WithExports(exports),
		docservice.WithNotifier(broker),
	)

	return &Stack{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Registry: registry,
		Service:  svc,
		Broker:   broker,
	}, nil
}

// RunMCP serves the MCP tools on stdin/stdout until the client disconnects.
func RunMCP(_ context.Context, opts ...Option) error {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	stack, err := Open(opts...)
	if err != nil {
		return err
	}
	defer stack.Close()

	stack.Logger.Info("MCP server starting on stdio")
	return mcpserver.New(stack.Service, Version).ServeStdio()
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	stack, err := Open(opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			stack.Logger.Error("close store", slog.String("error", err.Error()))
		}
	}()

	cfg := stack.Config
	logger := stack.Logger
	broker := stack.Broker

	apiRouter := api.NewRouter(stack.Service, api.Options{
		AuthEnabled: cfg.Auth.AuthEnabled(),
		Token:       cfg.Auth.Token,
		Events:      broker,
		CORSOrigins: cfg.App.HTTP.CORSOrigins,
	})

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
		if err := stack.Store.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Other processes writing the same store show up as external history changes.
	g.Go(func() error {
		err := tabsync.Watch(gCtx, stack.Store.Path(), tabsync.Options{Logger: logger}, func() {
			broker.PublishHistoryChange(sse.OriginExternal)
		})
		if err != nil {
			logger.Warn("store watcher disabled", slog.String("error", err.Error()))
		}
		return nil
	})

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

		// Closing the broker ends open SSE streams so Shutdown need not wait for them.
		broker.Close()

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
