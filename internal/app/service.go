// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/realmhist/internal/adapters/mq/queue"
	"github.com/okian/realmhist/internal/adapters/mq/worker"
	"github.com/okian/realmhist/internal/adapters/repository"
	"github.com/okian/realmhist/internal/domain/importerr"
	"github.com/okian/realmhist/internal/domain/ingest"
	"github.com/okian/realmhist/internal/domain/model"
	"github.com/okian/realmhist/internal/domain/progress"
	"github.com/okian/realmhist/pkg/logger"
	"github.com/okian/realmhist/pkg/metrics"
)

const (
	defaultQueueSize         = 16
	defaultMaxSnapshotBytes  = 100 << 20
	defaultSyncTimeout       = 5 * time.Minute
	defaultBackgroundTimeout = 30 * time.Minute
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Service implements the API dependencies for import and history reads.
type Service struct {
	mu sync.RWMutex

	// Core components
	world    repository.Store
	sessions repository.SessionRepository
	orch     *ingest.Orchestrator
	jobs     *queue.InMemoryQueue
	pool     *worker.Pool

	// Configuration
	queueSize         int
	maxSnapshotBytes  int64
	syncTimeout       time.Duration
	backgroundTimeout time.Duration
	ingestOpts        []ingest.Option
	now               func() time.Time

	// State
	started   bool
	startedAt time.Time

	logger logger.Logger
}

// New constructs a Service over the world and session stores.
func New(world repository.Store, sessions repository.SessionRepository, opts ...Option) *Service {
	s := &Service{
		world:             world,
		sessions:          sessions,
		queueSize:         defaultQueueSize,
		maxSnapshotBytes:  defaultMaxSnapshotBytes,
		syncTimeout:       defaultSyncTimeout,
		backgroundTimeout: defaultBackgroundTimeout,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	ingestOpts := append([]ingest.Option{
		ingest.WithLogger(s.logger.Named("ingest")),
		ingest.WithTimeout(s.syncTimeout),
	}, s.ingestOpts...)
	s.orch = ingest.New(world, sessions, ingestOpts...)
	return s
}

// Start fails sessions left processing by a previous process and starts the
// background worker.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting import service...")

	n, err := s.sessions.FailInterrupted(ctx, "import interrupted by a service restart")
	if err != nil {
		return fmt.Errorf("fail interrupted imports: %w", err)
	}
	if n > 0 {
		s.logger.Warn(ctx, "failed imports interrupted by a restart", logger.Int("sessions", n))
	}

	s.jobs = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pool = worker.NewPool(1, s.jobs, worker.HandlerFunc(s.handle), worker.WithLogger(s.logger.Named("worker")))
	// the worker outlives the start request
	s.pool.Start(context.WithoutCancel(ctx))

	s.started = true
	s.startedAt = s.now()
	s.logger.Info(ctx, "import service started",
		logger.Int("queueSize", s.queueSize),
		logger.Int64("maxSnapshotBytes", s.maxSnapshotBytes),
		logger.Duration("syncTimeout", s.syncTimeout),
		logger.Duration("backgroundTimeout", s.backgroundTimeout),
	)
	return nil
}

// Stop shuts the worker down. A running import is cancelled when ctx ends;
// imports still queued are failed.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping import service...")

	err := s.pool.Shutdown(ctx)
	for _, job := range s.jobs.Drain() {
		s.abandon(ctx, job.SessionID, "import not started before the service stopped")
	}

	s.started = false
	s.logger.Info(ctx, "import service stopped")
	return err
}

// StartImport validates the request, opens a session and queues the import.
// It returns as soon as the session exists.
func (s *Service) StartImport(ctx context.Context, realmID string, date time.Time, body io.Reader) (model.ImportSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return model.ImportSession{}, ErrNotStarted
	}

	session, payload, err := s.open(ctx, realmID, date, body)
	if err != nil {
		return model.ImportSession{}, err
	}

	err = s.jobs.Enqueue(ctx, queue.Job{
		SessionID:  session.ID,
		RealmID:    session.RealmID,
		ImportDate: session.ImportDate,
		Payload:    payload,
	})
	if err != nil {
		s.abandon(ctx, session.ID, "import could not be queued: "+err.Error())
		if errors.Is(err, queue.ErrFull) {
			return model.ImportSession{}, ErrQueueFull
		}
		return model.ImportSession{}, fmt.Errorf("queue import: %w", err)
	}

	s.logger.Info(ctx, "import queued",
		logger.String("session_id", session.ID),
		logger.String("realm_id", realmID),
		logger.Int("bytes", len(payload)),
	)
	return session, nil
}

// Import runs an import within the request and returns its final session.
func (s *Service) Import(ctx context.Context, realmID string, date time.Time, body io.Reader) (model.ImportSession, error) {
	session, payload, err := s.open(ctx, realmID, date, body)
	if err != nil {
		return model.ImportSession{}, err
	}

	if _, err := s.orch.Run(ctx, ingest.Request{
		SessionID:  session.ID,
		RealmID:    session.RealmID,
		ImportDate: session.ImportDate,
		Payload:    payload,
		Timeout:    s.syncTimeout,
	}); err != nil {
		s.abandon(ctx, session.ID, err.Error())
		return model.ImportSession{}, err
	}
	s.refreshActiveRows(ctx, realmID)
	return s.ImportStatus(ctx, session.ID)
}

// open claims the gate and creates the processing session.
func (s *Service) open(ctx context.Context, realmID string, date time.Time, body io.Reader) (model.ImportSession, []byte, error) {
	if err := s.checkRealm(ctx, realmID); err != nil {
		return model.ImportSession{}, nil, err
	}
	payload, err := s.readSnapshot(body)
	if err != nil {
		return model.ImportSession{}, nil, err
	}
	if date.IsZero() {
		date = s.now()
	}

	session := model.ImportSession{
		ID:         uuid.NewString(),
		RealmID:    realmID,
		ImportDate: model.ImportDay(date),
		Status:     model.StatusProcessing,
		Progress:   model.Progress{TotalPhases: progress.TotalPhases},
	}
	if err := s.orch.Registry().Register(session.ID); err != nil {
		return model.ImportSession{}, nil, err
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		s.orch.Registry().Unregister(session.ID)
		return model.ImportSession{}, nil, fmt.Errorf("create import session: %w", err)
	}
	return session, payload, nil
}

// readSnapshot enforces the size cap and a superficial shape check; the
// full parse happens in the import.
func (s *Service) readSnapshot(body io.Reader) ([]byte, error) {
	if body == nil {
		return nil, ErrEmptySnapshot
	}
	payload, err := io.ReadAll(io.LimitReader(body, s.maxSnapshotBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if int64(len(payload)) > s.maxSnapshotBytes {
		return nil, ErrSnapshotTooLarge
	}
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(payload, utf8BOM))
	if len(trimmed) == 0 {
		return nil, ErrEmptySnapshot
	}
	if trimmed[0] != '{' {
		return nil, ErrMalformedSnapshot
	}
	return payload, nil
}

// handle runs one queued import.
func (s *Service) handle(ctx context.Context, job queue.Job) error {
	out, err := s.orch.Run(ctx, ingest.Request{
		SessionID:  job.SessionID,
		RealmID:    job.RealmID,
		ImportDate: job.ImportDate,
		Payload:    job.Payload,
		Timeout:    s.backgroundTimeout,
	})
	if err != nil {
		s.abandon(ctx, job.SessionID, err.Error())
		return err
	}
	if out.Status == model.StatusCompleted {
		s.refreshActiveRows(ctx, job.RealmID)
	}
	return nil
}

// abandon fails a session that never reached the orchestrator and releases
// its gate.
func (s *Service) abandon(ctx context.Context, sessionID, reason string) {
	defer s.orch.Registry().Unregister(sessionID)
	err := s.sessions.FinishSession(context.WithoutCancel(ctx), sessionID, repository.Finish{
		Status:        model.StatusFailed,
		ErrorCategory: string(importerr.Unknown),
		ErrorMessage:  reason,
	})
	if err != nil && !errors.Is(err, repository.ErrSessionFinished) {
		s.logger.Error(ctx, "failed to fail abandoned import session",
			logger.String("session_id", sessionID),
			logger.Error(err),
		)
	}
}

func (s *Service) checkRealm(ctx context.Context, realmID string) error {
	if _, err := s.world.GetRealm(ctx, realmID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRealmNotFound
		}
		return fmt.Errorf("get realm %s: %w", realmID, err)
	}
	return nil
}

func (s *Service) refreshActiveRows(ctx context.Context, realmID string) {
	for _, kind := range model.Kinds {
		n, err := s.world.CountActive(ctx, kind, realmID)
		if err != nil {
			s.logger.Warn(ctx, "failed to count active rows", logger.String("kind", string(kind)), logger.Error(err))
			continue
		}
		metrics.UpdateActiveRows(realmID, string(kind), n)
	}
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":           s.started,
		"queueCapacity":     s.queueSize,
		"maxSnapshotBytes":  s.maxSnapshotBytes,
		"syncTimeout":       s.syncTimeout.String(),
		"backgroundTimeout": s.backgroundTimeout.String(),
		"activeImports":     s.orch.Registry().Active(),
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	goroutines := runtime.NumGoroutine()
	stats["goroutines"] = goroutines
	stats["heapBytes"] = mem.HeapAlloc
	metrics.UpdateSystemMemoryUsage(mem.HeapAlloc)
	metrics.UpdateSystemGoroutineCount(goroutines)
	if mem.NumGC > 0 {
		metrics.RecordSystemGCPauseTime(float64(mem.PauseNs[(mem.NumGC+255)%256]) / float64(time.Millisecond))
	}

	if s.started {
		queueLen := s.jobs.Len()
		stats["queueLength"] = queueLen
		stats["uptime"] = s.now().Sub(s.startedAt).Round(time.Second).String()
	}
	return stats
}
