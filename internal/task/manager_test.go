package task

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRecords is an in-memory Records implementation for manager tests.
type fakeRecords struct {
	mu         sync.Mutex
	statuses   map[string]Status
	summaries  map[string]string
	cancel     map[string]bool
	heartbeats map[string]int
	dropLive   int
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{
		statuses:   make(map[string]Status),
		summaries:  make(map[string]string),
		cancel:     make(map[string]bool),
		heartbeats: make(map[string]int),
	}
}

func (f *fakeRecords) Allocate(_ context.Context, t *Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[t.Token] = StatusAllocated

	return nil
}

func (f *fakeRecords) MarkEnqueued(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[token] = StatusEnqueued

	return nil
}

func (f *fakeRecords) MarkRunning(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[token] = StatusRunning

	return nil
}

func (f *fakeRecords) MarkTerminal(_ context.Context, token string, status Status, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[token] = status
	f.summaries[token] = summary

	return nil
}

func (f *fakeRecords) Heartbeat(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats[token]++

	return nil
}

func (f *fakeRecords) CancelRequested(_ context.Context, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.cancel[token], nil
}

func (f *fakeRecords) DropStale(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeRecords) DropLive(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dropLive++

	return 0, nil
}

func (f *fakeRecords) status(token string) Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.statuses[token]
}

func (f *fakeRecords) summary(token string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.summaries[token]
}

func (f *fakeRecords) requestCancel(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancel[token] = true
}

func waitForStatus(t *testing.T, records *fakeRecords, token string, want Status) {
	t.Helper()

	require.Eventually(t, func() bool {
		return records.status(token) == want
	}, 5*time.Second, 5*time.Millisecond, "task %s never reached %s", token, want)
}

func startManager(t *testing.T, records Records, cfg Config) *Manager {
	t.Helper()

	m := NewManager(records, cfg, discardLogger())
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() {
		_ = m.Close()
	})

	return m
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled, StatusDropped} {
		assert.True(t, s.Terminal(), s)
	}

	for _, s := range []Status{StatusAllocated, StatusEnqueued, StatusRunning} {
		assert.False(t, s.Terminal(), s)
	}
}

func TestStatusAPI(t *testing.T) {
	assert.Equal(t, "RUNNING", StatusRunning.API())
	assert.Equal(t, "DROPPED", StatusDropped.API())
}

func TestSubmitRunsToCompletion(t *testing.T) {
	records := newFakeRecords()
	m := startManager(t, records, Config{Workers: 2})

	token, err := m.Submit(context.Background(), &Task{Kind: "store", Actor: "dev"},
		func(_ context.Context, _ *Beat) (string, error) {
			return "stored run 42", nil
		})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	waitForStatus(t, records, token, StatusCompleted)
	assert.Equal(t, "stored run 42", records.summary(token))
	assert.Equal(t, 1, records.dropLive, "startup drops leftover records once")
}

func TestSubmitFailedJob(t *testing.T) {
	records := newFakeRecords()
	m := startManager(t, records, Config{Workers: 1})

	token, err := m.Submit(context.Background(), &Task{Kind: "store", Actor: "dev"},
		func(_ context.Context, _ *Beat) (string, error) {
			return "", errors.New("bundle is not a zip archive")
		})
	require.NoError(t, err)

	waitForStatus(t, records, token, StatusFailed)
	assert.Equal(t, "bundle is not a zip archive", records.summary(token))
}

func TestSubmitCancelledJob(t *testing.T) {
	records := newFakeRecords()
	m := startManager(t, records, Config{Workers: 1})

	release := make(chan struct{})

	token, err := m.Submit(context.Background(), &Task{Kind: "store", Actor: "dev"},
		func(ctx context.Context, beat *Beat) (string, error) {
			<-release

			if beat.Cancelled(ctx) {
				return "", ErrCancelled
			}

			return "finished", nil
		})
	require.NoError(t, err)

	records.requestCancel(token)
	close(release)

	waitForStatus(t, records, token, StatusCancelled)
	assert.Equal(t, "cancelled", records.summary(token))
}

func TestSubmitQueueFull(t *testing.T) {
	records := newFakeRecords()
	m := startManager(t, records, Config{Workers: 1, QueueSize: 1})

	running := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	blocking := func(_ context.Context, _ *Beat) (string, error) {
		close(running)
		<-release

		return "", nil
	}

	idle := func(_ context.Context, _ *Beat) (string, error) { return "", nil }

	_, err := m.Submit(context.Background(), &Task{Kind: "store"}, blocking)
	require.NoError(t, err)

	// Wait until the single worker holds the first job, then fill the queue.
	select {
	case <-running:
	case <-time.After(5 * time.Second):
		t.Fatal("first job never started")
	}

	_, err = m.Submit(context.Background(), &Task{Kind: "store"}, idle)
	require.NoError(t, err)

	rejectedToken, err := m.Submit(context.Background(), &Task{Kind: "store"}, idle)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Empty(t, rejectedToken)
}

func TestSubmitBeforeStart(t *testing.T) {
	m := NewManager(newFakeRecords(), Config{}, discardLogger())

	_, err := m.Submit(context.Background(), &Task{Kind: "store"},
		func(_ context.Context, _ *Beat) (string, error) { return "", nil })
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestHeartbeatWhileRunning(t *testing.T) {
	records := newFakeRecords()
	m := startManager(t, records, Config{Workers: 1, HeartbeatInterval: 5 * time.Millisecond})

	release := make(chan struct{})

	token, err := m.Submit(context.Background(), &Task{Kind: "store"},
		func(_ context.Context, _ *Beat) (string, error) {
			<-release

			return "", nil
		})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		records.mu.Lock()
		defer records.mu.Unlock()

		return records.heartbeats[token] >= 2
	}, 5*time.Second, 5*time.Millisecond)

	close(release)
	waitForStatus(t, records, token, StatusCompleted)
}
