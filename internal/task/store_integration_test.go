package task

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/triage-io/triage/internal/schema"
	"github.com/triage-io/triage/internal/storage"
)

func TestTaskStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	testDB := storage.SetupTestDatabase(ctx, t, schema.ConfigDB)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	store, err := NewStore(storage.Wrap(testDB.Connection), discardLogger())
	require.NoError(t, err)

	newTask := func(actor string) string {
		token := uuid.NewString()
		require.NoError(t, store.Allocate(ctx, &Task{
			Token: token,
			Kind:  "store",
			Actor: actor,
		}))

		return token
	}

	t.Run("lifecycle transitions", func(t *testing.T) {
		token := newTask("dev")

		require.NoError(t, store.MarkEnqueued(ctx, token))
		require.NoError(t, store.MarkRunning(ctx, token))
		require.NoError(t, store.Heartbeat(ctx, token))
		require.NoError(t, store.MarkTerminal(ctx, token, StatusCompleted, "done"))

		got, err := store.Get(ctx, token, "dev", false)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.Equal(t, "done", got.Summary)
		assert.NotNil(t, got.EnqueuedAt)
		assert.NotNil(t, got.StartedAt)
		assert.NotNil(t, got.CompletedAt)
		assert.NotNil(t, got.LastHeartbeat)
	})

	t.Run("skipping a state is rejected", func(t *testing.T) {
		token := newTask("dev")

		// Running requires an enqueued record.
		assert.ErrorIs(t, store.MarkRunning(ctx, token), ErrTaskNotFound)
	})

	t.Run("terminal read consumes for the owner", func(t *testing.T) {
		token := newTask("owner")
		require.NoError(t, store.MarkEnqueued(ctx, token))
		require.NoError(t, store.MarkTerminal(ctx, token, StatusFailed, "boom"))

		got, err := store.Get(ctx, token, "owner", false)
		require.NoError(t, err)
		assert.True(t, got.ConsumedFlag)

		// Admin reads never consume, and bypass ownership.
		adminToken := newTask("owner")
		require.NoError(t, store.MarkEnqueued(ctx, adminToken))
		require.NoError(t, store.MarkTerminal(ctx, adminToken, StatusFailed, "boom"))

		got, err = store.Get(ctx, adminToken, "someone-else", true)
		require.NoError(t, err)
		assert.False(t, got.ConsumedFlag)

		_, err = store.Get(ctx, adminToken, "someone-else", false)
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("peek never consumes", func(t *testing.T) {
		token := newTask("owner")
		require.NoError(t, store.MarkEnqueued(ctx, token))
		require.NoError(t, store.MarkTerminal(ctx, token, StatusCompleted, "done"))

		// An owner checking a finished task, as the cancel endpoint does,
		// must not burn the one consuming read.
		got, err := store.Peek(ctx, token, "owner", false)
		require.NoError(t, err)
		assert.False(t, got.ConsumedFlag)

		_, err = store.Peek(ctx, token, "someone-else", false)
		assert.ErrorIs(t, err, ErrNotOwner)

		got, err = store.Get(ctx, token, "owner", false)
		require.NoError(t, err)
		assert.True(t, got.ConsumedFlag)
	})

	t.Run("cancel is a single CAS transition", func(t *testing.T) {
		token := newTask("dev")
		require.NoError(t, store.MarkEnqueued(ctx, token))

		first, err := store.RequestCancel(ctx, token)
		require.NoError(t, err)
		assert.True(t, first)

		second, err := store.RequestCancel(ctx, token)
		require.NoError(t, err)
		assert.False(t, second)

		flagged, err := store.CancelRequested(ctx, token)
		require.NoError(t, err)
		assert.True(t, flagged)
	})

	t.Run("cancel on terminal task is a no-op", func(t *testing.T) {
		token := newTask("dev")
		require.NoError(t, store.MarkEnqueued(ctx, token))
		require.NoError(t, store.MarkTerminal(ctx, token, StatusCompleted, ""))

		ok, err := store.RequestCancel(ctx, token)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("list filters by status and actor", func(t *testing.T) {
		token := newTask("filter-actor")
		require.NoError(t, store.MarkEnqueued(ctx, token))

		tasks, err := store.List(ctx, Filter{
			Actors:   []string{"filter-actor"},
			Statuses: []Status{StatusEnqueued},
		})
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, token, tasks[0].Token)

		tasks, err = store.List(ctx, Filter{Actors: []string{"nobody"}})
		require.NoError(t, err)
		assert.Empty(t, tasks)
	})

	t.Run("startup drop marks live records", func(t *testing.T) {
		token := newTask("dev")
		require.NoError(t, store.MarkEnqueued(ctx, token))
		require.NoError(t, store.MarkRunning(ctx, token))

		dropped, err := store.DropLive(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, dropped, int64(1))

		got, err := store.Get(ctx, token, "dev", true)
		require.NoError(t, err)
		assert.Equal(t, StatusDropped, got.Status)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := store.Get(ctx, uuid.NewString(), "dev", false)
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})
}
