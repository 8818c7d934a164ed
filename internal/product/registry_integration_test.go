package product

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/triage-io/triage/internal/config"
	"github.com/triage-io/triage/internal/schema"
	"github.com/triage-io/triage/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProductStoreIntegration(t *testing.T) {
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

	created, err := store.Create(ctx, &Product{
		Endpoint:      "toolchain",
		DisplayedName: "Toolchain",
		DatabaseURL:   "postgres://localhost/toolchain",
		RunLimit:      50,
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, 8, created.PoolSize, "pool size defaults to 8")

	t.Run("duplicate endpoint", func(t *testing.T) {
		_, err := store.Create(ctx, &Product{
			Endpoint:    "toolchain",
			DatabaseURL: "postgres://localhost/other",
		})
		assert.ErrorIs(t, err, ErrEndpointTaken)
	})

	t.Run("invalid endpoint", func(t *testing.T) {
		_, err := store.Create(ctx, &Product{Endpoint: "not a slug"})
		assert.ErrorIs(t, err, ErrInvalidEndpoint)
	})

	t.Run("lookup", func(t *testing.T) {
		got, err := store.GetByEndpoint(ctx, "toolchain")
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)

		_, err = store.GetByEndpoint(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update", func(t *testing.T) {
		created.Description = "compiler warnings"
		created.ReviewStatusChangeDisabled = true
		require.NoError(t, store.Update(ctx, created))

		got, err := store.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "compiler warnings", got.Description)
		assert.True(t, got.ReviewStatusChangeDisabled)
	})

	t.Run("retire hides from default listing", func(t *testing.T) {
		require.NoError(t, store.Retire(ctx, created.ID))

		active, err := store.List(ctx, false)
		require.NoError(t, err)
		assert.Empty(t, active)

		all, err := store.List(ctx, true)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.True(t, all[0].Retired())

		// Retiring twice is an error.
		assert.ErrorIs(t, store.Retire(ctx, created.ID), ErrNotFound)
	})
}

func TestRegistryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	configDB := storage.SetupTestDatabase(ctx, t, schema.ConfigDB)
	t.Cleanup(func() {
		_ = configDB.Connection.Close()
		_ = testcontainers.TerminateContainer(configDB.Container)
	})

	productDB := storage.SetupTestDatabase(ctx, t, schema.ProductDB)
	t.Cleanup(func() {
		_ = productDB.Connection.Close()
		_ = testcontainers.TerminateContainer(productDB.Container)
	})

	store, err := NewStore(storage.Wrap(configDB.Connection), discardLogger())
	require.NoError(t, err)

	registry, err := NewRegistry(store, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = registry.Close()
	})

	require.NoError(t, registry.Seed(ctx, []config.ProductSeed{
		{Endpoint: "main", DisplayedName: "Main", DatabaseURL: productDB.URL},
	}))

	// Seeding again must not duplicate.
	require.NoError(t, registry.Seed(ctx, []config.ProductSeed{
		{Endpoint: "main", DatabaseURL: productDB.URL},
	}))

	products, err := store.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, products, 1)

	t.Run("open serveable product", func(t *testing.T) {
		handle, err := registry.Open(ctx, "main")
		require.NoError(t, err)
		assert.Equal(t, schema.StatusOK, handle.Status)
		require.NotNil(t, handle.Conn)
		require.NoError(t, handle.Conn.HealthCheck(ctx))
	})

	t.Run("unknown endpoint", func(t *testing.T) {
		_, err := registry.Open(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unmigrated database is not accessible until upgraded", func(t *testing.T) {
		_, err := productDB.Connection.ExecContext(ctx, "CREATE DATABASE fresh")
		require.NoError(t, err)

		freshURL := strings.Replace(productDB.URL, "/triage_test?", "/fresh?", 1)
		require.NotEqual(t, productDB.URL, freshURL)

		_, err = store.Create(ctx, &Product{Endpoint: "fresh", DatabaseURL: freshURL})
		require.NoError(t, err)

		_, err = registry.Open(ctx, "fresh")
		assert.ErrorIs(t, err, ErrNotAccessible)

		status, err := registry.Status(ctx, "fresh")
		require.NoError(t, err)
		assert.Equal(t, schema.StatusSchemaMissing, status)

		status, err = registry.Upgrade(ctx, "fresh")
		require.NoError(t, err)
		assert.Equal(t, schema.StatusOK, status)

		handle, err := registry.Open(ctx, "fresh")
		require.NoError(t, err)
		assert.Equal(t, schema.StatusOK, handle.Status)
	})

	t.Run("retired product is rejected", func(t *testing.T) {
		p, err := store.GetByEndpoint(ctx, "main")
		require.NoError(t, err)
		require.NoError(t, registry.Retire(ctx, p.ID))

		_, err = registry.Open(ctx, "main")
		assert.ErrorIs(t, err, ErrRetired)
	})
}
