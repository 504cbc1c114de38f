package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	dlhttp "github.com/tidewater-labs/driftline/internal/adapter/http"
	"github.com/tidewater-labs/driftline/internal/adapter/membus"
	dlnats "github.com/tidewater-labs/driftline/internal/adapter/nats"
	dlotel "github.com/tidewater-labs/driftline/internal/adapter/otel"
	"github.com/tidewater-labs/driftline/internal/adapter/postgres"
	"github.com/tidewater-labs/driftline/internal/adapter/ristretto"
	"github.com/tidewater-labs/driftline/internal/adapter/ws"
	"github.com/tidewater-labs/driftline/internal/config"
	"github.com/tidewater-labs/driftline/internal/domain/decider"
	"github.com/tidewater-labs/driftline/internal/domain/todo"
	"github.com/tidewater-labs/driftline/internal/logger"
	"github.com/tidewater-labs/driftline/internal/port/eventbus"
	"github.com/tidewater-labs/driftline/internal/port/eventstore"
	"github.com/tidewater-labs/driftline/internal/projection"
	"github.com/tidewater-labs/driftline/internal/resilience"
	"github.com/tidewater-labs/driftline/internal/service"
	"github.com/tidewater-labs/driftline/internal/upcast"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"bus_driver", cfg.Bus.Driver,
		"log_level", cfg.Logging.Level,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	otelShutdown, err := dlotel.Setup(ctx, cfg.Logging.Service, cfg.Telemetry.Endpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Error("otel shutdown failed", "error", err)
		}
	}()

	metrics, err := dlotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	bus, err := newBus(cfg.Bus)
	if err != nil {
		return fmt.Errorf("bus: %w", err)
	}
	defer func() { _ = bus.Close() }()

	snapshotCache, err := ristretto.New(cfg.Cache.MaxBytes)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer snapshotCache.Close()

	// --- Schema evolution ---
	chain := upcast.NewChain()
	todo.RegisterUpcasters(chain)

	store := eventstore.WithRetry(
		eventstore.WithUpcasting(postgres.NewEventStore(pool), chain),
		resilience.DefaultRetry,
	)

	// --- Services ---
	registry := decider.NewRegistry(todo.NewDecider())

	commands := service.NewCommandService(store, bus, registry)
	commands.SetMaxAttempts(cfg.Command.MaxAttempts)
	commands.SetMetrics(metrics)

	streamer := service.NewStreamer(store, bus, cfg.Stream.KeepAlive)
	streamer.SetMetrics(metrics)

	todoList := projection.New(projection.NewTodoListView(), store, bus, eventbus.PatternAll())
	if err := todoList.Start(ctx); err != nil {
		return fmt.Errorf("todolist projection: %w", err)
	}
	defer todoList.Stop()

	hub := ws.NewHub()
	hubSub, err := bus.Subscribe(ctx, eventbus.PatternAll())
	if err != nil {
		return fmt.Errorf("websocket subscription: %w", err)
	}

	// --- HTTP ---
	handlers := &dlhttp.Handlers{
		Commands: commands,
		Streamer: streamer,
		Store:    store,
		TodoList: todoList,
		Cache:    snapshotCache,
		CacheTTL: cfg.Cache.TTL,
	}

	r := chi.NewRouter()
	r.Use(dlotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(dlhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(dlhttp.Logger)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", healthHandler(cfg, todoList))
	r.Get("/ws", hub.HandleWS)
	dlhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// WriteTimeout stays zero: SSE responses are long-lived by design.
		IdleTimeout: 120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx, hubSub)
		return nil
	})

	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newBus selects the bus adapter from config.
func newBus(cfg config.Bus) (eventbus.Bus, error) {
	switch cfg.Driver {
	case "nats":
		return dlnats.Connect(cfg.URL)
	default:
		return membus.New(), nil
	}
}

// healthHandler reports service health and projection readiness.
func healthHandler(cfg *config.Config, todoList *projection.MaterializedView) http.HandlerFunc {
	type healthStatus struct {
		Status     string `json:"status"`
		Bus        string `json:"bus"`
		Projection string `json:"projection"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{
			Status:     "ok",
			Bus:        cfg.Bus.Driver,
			Projection: todoList.Status().String(),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
