package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/realmhist/internal/adapters/http/api"
	"github.com/okian/realmhist/internal/adapters/http/swagger"
	"github.com/okian/realmhist/internal/adapters/repository"
	app "github.com/okian/realmhist/internal/app"
	"github.com/okian/realmhist/internal/config"
	"github.com/okian/realmhist/internal/domain/cleanse"
	"github.com/okian/realmhist/internal/domain/ingest"
	"github.com/okian/realmhist/internal/domain/snapshot"
	"github.com/okian/realmhist/internal/domain/temporal"
	"github.com/okian/realmhist/pkg/logger"
	"github.com/okian/realmhist/pkg/metrics"
)

// HTTP server timeout constants. Writes stay open long enough for sync
// imports, which are bounded by their own budget.
const (
	readTimeout            = 5 * time.Minute
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	serviceMetricsInterval = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		// Use stderr since the logger may not be available
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	a, err := newApplication(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.handler(ctx),
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		startServiceMetricsUpdater(gctx, a.svc)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(ctx, "shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown failed: %w", err))
		}
		if err := a.svc.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("service shutdown failed: %w", err))
		}
		return errors.Join(errs...)
	})

	err = g.Wait()
	log.Info(ctx, "server stopped")
	return err
}

// application bundles the long lived components of the server.
type application struct {
	world    *repository.SQLiteStore
	sessions *repository.SessionStore
	svc      *app.Service
}

// newApplication opens both databases, ensures the configured realms and
// builds the import service.
func newApplication(ctx context.Context, cfg *config.Config, log logger.Logger) (*application, error) {
	world, err := repository.Open(ctx, cfg.WorldDBPath, repository.WithLogger(log.Named("world")))
	if err != nil {
		return nil, fmt.Errorf("failed to open world database: %w", err)
	}
	sessions, err := repository.OpenSessions(ctx, cfg.SessionDBPath, repository.WithLogger(log.Named("sessions")))
	if err != nil {
		_ = world.Close()
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	a := &application{world: world, sessions: sessions}

	for _, realm := range cfg.Realms {
		if err := world.EnsureRealm(ctx, realm); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to ensure realm %s: %w", realm, err)
		}
	}

	parser := snapshot.NewParser(
		snapshot.WithMapSize(cfg.MapWidth, cfg.MapHeight),
		snapshot.WithMaxNameLength(cfg.MaxNameLength),
		snapshot.WithLogger(log.Named("snapshot")),
	)
	cleanser := cleanse.New(
		cleanse.WithLimits(cleanse.Limits{
			MaxTiles:     cfg.MaxTiles,
			MaxPlayers:   cfg.MaxPlayers,
			MaxAlliances: cfg.MaxAlliances,
		}),
		cleanse.WithLogger(log.Named("cleanse")),
	)
	applier := temporal.New(
		temporal.WithBatchSize(cfg.BatchSize),
		temporal.WithLogger(log.Named("temporal")),
	)

	a.svc = app.New(world, sessions,
		app.WithLogger(log.Named("service")),
		app.WithQueueSize(cfg.JobQueueSize),
		app.WithMaxSnapshotBytes(cfg.MaxSnapshotBytes),
		app.WithSyncTimeout(cfg.SyncImportTimeout),
		app.WithBackgroundTimeout(cfg.BackgroundImportTimeout),
		app.WithIngestOptions(
			ingest.WithParser(parser),
			ingest.WithCleanser(cleanser),
			ingest.WithApplier(applier),
		),
	)
	return a, nil
}

// handler registers the API and docs routes.
func (a *application) handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(a.svc, a.svc, 0).Register(ctx, mux)
	return mux
}

func (a *application) close() {
	if a.sessions != nil {
		_ = a.sessions.Close()
	}
	if a.world != nil {
		_ = a.world.Close()
	}
}

// startServiceMetricsUpdater refreshes runtime and queue gauges until ctx ends.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateServiceMetrics updates service-level metrics. GetStats refreshes
// the runtime gauges itself.
func updateServiceMetrics(svc *app.Service) {
	stats := svc.GetStats()
	if queueLen, ok := stats["queueLength"].(int); ok {
		metrics.UpdateQueueSize(queueLen)
	}
	if active, ok := stats["activeImports"].([]string); ok {
		metrics.UpdateActiveImports(len(active))
	}
}
