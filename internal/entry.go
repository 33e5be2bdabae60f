// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/obiverse/nine-s/internal/api"
	"github.com/obiverse/nine-s/internal/filens"
	"github.com/obiverse/nine-s/internal/kernel"
	"github.com/obiverse/nine-s/internal/memns"
	"github.com/obiverse/nine-s/internal/ns"
	"github.com/obiverse/nine-s/internal/sqlitens"
	"github.com/obiverse/nine-s/internal/sse"
	storepkg "github.com/obiverse/nine-s/internal/store"
	"github.com/obiverse/nine-s/internal/wire"
)

// Run starts the daemon with the given options.
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
		slog.String("wire_address", cfg.Wire.Address()),
		slog.Int("mounts", len(cfg.Mounts)),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Build the kernel from the configured mount table.
	k := kernel.New()
	var fileMounts []*filens.Namespace
	for _, m := range cfg.Mounts {
		target, fileNS, err := buildMount(m)
		if err != nil {
			return fmt.Errorf("build mount %q: %w", m.Path, err)
		}
		if err := k.Mount(m.Path, target); err != nil {
			return fmt.Errorf("mount %q: %w", m.Path, err)
		}
		if fileNS != nil && m.Mirror {
			fileMounts = append(fileMounts, fileNS)
		}
		logger.Info("Mounted namespace",
			slog.String("path", m.Path),
			slog.String("backend", m.Backend))
	}
	defer k.Close()

	// SSE broker fed by a recursive kernel watch. The watch spans the
	// root mount; without one there is nothing to aggregate.
	broker := sse.NewBroker()
	defer broker.Close()
	events, err := k.Watch("/**")
	if err != nil {
		logger.Warn("event feed disabled: no root mount to watch",
			slog.String("error", err.Error()))
	}

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

	// Mount gateway routes under /api.
	r.Mount("/api", api.NewRouter(k, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	wireListener, err := net.Listen("tcp", cfg.Wire.Address())
	if err != nil {
		return fmt.Errorf("wire listen: %w", err)
	}

	logger.Info("Server starting...",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("wire_address", cfg.Wire.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Pump kernel watch events into the SSE broker.
	if events != nil {
		g.Go(func() error {
			for {
				select {
				case sc, ok := <-events.Scrolls():
					if !ok {
						return nil
					}
					broker.PublishScroll(sc)
				case <-gCtx.Done():
					events.Cancel()
					return nil
				}
			}
		})
	}

	// Start fsnotify mirrors for file mounts that asked for one.
	for _, fileNS := range fileMounts {
		g.Go(func() error {
			if err := filens.Mirror(gCtx, fileNS, logger); err != nil {
				logger.Warn("mirror failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Accept wire protocol connections.
	g.Go(func() error {
		for {
			conn, err := wireListener.Accept()
			if err != nil {
				select {
				case <-gCtx.Done():
					return nil
				default:
				}
				return fmt.Errorf("wire accept: %w", err)
			}
			session := wire.NewSession(conn, k, logger)
			go func() {
				if err := session.Serve(); err != nil {
					logger.Debug("session ended", slog.String("error", err.Error()))
				}
			}()
		}
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

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		_ = wireListener.Close()

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

// buildMount constructs the namespace for one mount table entry. The
// second return is non-nil when the backend is file-based, so the caller
// can attach a mirror.
func buildMount(m MountConfig) (ns.Namespace, *filens.Namespace, error) {
	var backend ns.Namespace
	var fileNS *filens.Namespace

	switch m.Backend {
	case BackendMemory:
		backend = memns.New()
	case BackendFile:
		if err := os.MkdirAll(m.Root, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create root: %w", err)
		}
		f, err := filens.New(m.Root)
		if err != nil {
			return nil, nil, err
		}
		backend, fileNS = f, f
	case BackendSQLite:
		s, err := sqlitens.Open(m.DSN)
		if err != nil {
			return nil, nil, err
		}
		backend = s
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", m.Backend)
	}

	if !m.Encrypted && !m.History {
		return backend, fileNS, nil
	}

	var opts []storepkg.Option
	if m.Encrypted {
		key, err := m.Key()
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, storepkg.WithEncryption(key))
	}
	if m.History {
		opts = append(opts, storepkg.WithHistory())
	}
	if m.MaxPatches > 0 {
		opts = append(opts, storepkg.WithMaxPatches(m.MaxPatches))
	}
	if m.MaxAnchors > 0 {
		opts = append(opts, storepkg.WithMaxAnchors(m.MaxAnchors))
	}
	wrapped, err := storepkg.New(backend, opts...)
	if err != nil {
		return nil, nil, err
	}
	return wrapped, fileNS, nil
}
