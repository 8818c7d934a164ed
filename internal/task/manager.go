package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Sentinel errors for the manager.
var (
	// ErrQueueFull is returned when the task queue is at capacity.
	ErrQueueFull = errors.New("task queue is full")

	// ErrCancelled is returned by jobs that stopped because cancellation
	// was requested.
	ErrCancelled = errors.New("task cancelled")

	// ErrNotStarted is returned when submitting to a manager that is not
	// running.
	ErrNotStarted = errors.New("task manager is not started")
)

// Records is the persistence surface the manager drives. *Store implements
// it; tests substitute a fake.
type Records interface {
	Allocate(ctx context.Context, t *Task) error
	MarkEnqueued(ctx context.Context, token string) error
	MarkRunning(ctx context.Context, token string) error
	MarkTerminal(ctx context.Context, token string, status Status, summary string) error
	Heartbeat(ctx context.Context, token string) error
	CancelRequested(ctx context.Context, token string) (bool, error)
	DropStale(ctx context.Context, maxSilence time.Duration) (int64, error)
	DropLive(ctx context.Context) (int64, error)
}

// Job is the body of a background task. It must poll beat.Cancelled at
// convenient safepoints and return ErrCancelled when it obeys a cancel
// request. The returned summary is persisted on completion.
type Job func(ctx context.Context, beat *Beat) (string, error)

// Beat is the handle a running job uses to interact with its record.
// Heartbeats are sent automatically while the job runs.
type Beat struct {
	token   string
	records Records
	logger  *slog.Logger
}

// Token returns the task token of the running job.
func (b *Beat) Token() string {
	return b.token
}

// Cancelled reports whether cancellation has been requested. Lookup
// failures are logged and read as not-cancelled so a flaky config database
// cannot abort long work.
func (b *Beat) Cancelled(ctx context.Context) bool {
	flag, err := b.records.CancelRequested(ctx, b.token)
	if err != nil {
		b.logger.Warn("Failed to read cancel flag",
			slog.String("token", b.token),
			slog.String("error", err.Error()),
		)

		return false
	}

	return flag
}

// Config tunes the manager. Zero values pick the defaults.
type Config struct {
	Workers           int
	QueueSize         int
	HeartbeatInterval time.Duration
	ReapInterval      time.Duration
	MaxSilence        time.Duration
}

const (
	defaultWorkers           = 4
	defaultQueueSize         = 64
	defaultHeartbeatInterval = 30 * time.Second
	defaultReapInterval      = 30 * time.Second
	defaultMaxSilence        = 120 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}

	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}

	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}

	if c.ReapInterval <= 0 {
		c.ReapInterval = defaultReapInterval
	}

	if c.MaxSilence <= 0 {
		c.MaxSilence = defaultMaxSilence
	}

	return c
}

type queued struct {
	token string
	job   Job
}

// Manager owns the bounded FIFO queue and the worker pool. One instance
// serves the whole process.
type Manager struct {
	records Records
	config  Config
	logger  *slog.Logger

	mu      sync.Mutex
	queue   chan queued
	group   *errgroup.Group
	cancel  context.CancelFunc
	started bool
}

// NewManager creates a manager over the given record store.
func NewManager(records Records, config Config, logger *slog.Logger) *Manager {
	return &Manager{
		records: records,
		config:  config.withDefaults(),
		logger:  logger,
	}
}

// Start drops records left over from a previous process, then launches the
// worker pool and the heartbeat reaper.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}

	dropped, err := m.records.DropLive(ctx)
	if err != nil {
		return err
	}

	if dropped > 0 {
		m.logger.Warn("Dropped tasks from previous process", slog.Int64("count", dropped))
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group, groupCtx := errgroup.WithContext(runCtx)

	m.queue = make(chan queued, m.config.QueueSize)
	m.group = group
	m.cancel = cancel
	m.started = true

	for i := 0; i < m.config.Workers; i++ {
		group.Go(func() error {
			m.worker(groupCtx)

			return nil
		})
	}

	group.Go(func() error {
		m.reaper(groupCtx)

		return nil
	})

	m.logger.Info("Task manager started",
		slog.Int("workers", m.config.Workers),
		slog.Int("queue_size", m.config.QueueSize),
	)

	return nil
}

// Close stops accepting work, cancels the workers and waits for them.
func (m *Manager) Close() error {
	m.mu.Lock()

	if !m.started {
		m.mu.Unlock()

		return nil
	}

	m.started = false
	cancel := m.cancel
	group := m.group
	m.mu.Unlock()

	cancel()

	return group.Wait()
}

// Submit allocates a record, enqueues the job and returns its token.
// A full queue rejects with ErrQueueFull and fails the record.
func (m *Manager) Submit(ctx context.Context, t *Task, job Job) (string, error) {
	m.mu.Lock()
	started := m.started
	queue := m.queue
	m.mu.Unlock()

	if !started {
		return "", ErrNotStarted
	}

	t.Token = uuid.NewString()
	t.Status = StatusAllocated

	if err := m.records.Allocate(ctx, t); err != nil {
		return "", err
	}

	if err := m.records.MarkEnqueued(ctx, t.Token); err != nil {
		return "", err
	}

	select {
	case queue <- queued{token: t.Token, job: job}:
	default:
		_ = m.records.MarkTerminal(ctx, t.Token, StatusFailed, "rejected: queue full")

		return "", ErrQueueFull
	}

	m.logger.Info("Task enqueued",
		slog.String("token", t.Token),
		slog.String("kind", t.Kind),
		slog.String("actor", t.Actor),
	)

	return t.Token, nil
}

func (m *Manager) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-m.queue:
			m.run(ctx, q)
		}
	}
}

// run executes one job with automatic heartbeats.
func (m *Manager) run(ctx context.Context, q queued) {
	startTime := time.Now()

	if err := m.records.MarkRunning(ctx, q.token); err != nil {
		m.logger.Error("Failed to mark task running",
			slog.String("token", q.token),
			slog.String("error", err.Error()),
		)

		return
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()

	go m.heartbeat(heartbeatCtx, q.token)

	beat := &Beat{token: q.token, records: m.records, logger: m.logger}

	summary, err := q.job(ctx, beat)
	stopHeartbeat()

	status := StatusCompleted

	switch {
	case errors.Is(err, ErrCancelled):
		status = StatusCancelled
		summary = "cancelled"
	case err != nil:
		status = StatusFailed
		summary = err.Error()
	}

	// Terminal writes use a fresh context so shutdown cannot lose them.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := m.records.MarkTerminal(finishCtx, q.token, status, summary); err != nil {
		m.logger.Error("Failed to finish task record",
			slog.String("token", q.token),
			slog.String("error", err.Error()),
		)
	}

	m.logger.Info("Task finished",
		slog.String("token", q.token),
		slog.String("status", status.API()),
		slog.Int64("duration_ms", time.Since(startTime).Milliseconds()),
	)
}

func (m *Manager) heartbeat(ctx context.Context, token string) {
	ticker := time.NewTicker(m.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.records.Heartbeat(ctx, token); err != nil {
				m.logger.Warn("Heartbeat failed",
					slog.String("token", token),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (m *Manager) reaper(ctx context.Context) {
	ticker := time.NewTicker(m.config.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := m.records.DropStale(ctx, m.config.MaxSilence)
			if err != nil {
				m.logger.Warn("Reaper sweep failed", slog.String("error", err.Error()))

				continue
			}

			if reaped > 0 {
				m.logger.Warn("Dropped tasks with lost heartbeats", slog.Int64("count", reaped))
			}
		}
	}
}
