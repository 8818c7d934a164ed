package schema

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEmbeddedSets(t *testing.T) {
	require.NoError(t, Validate(ConfigDB))
	require.NoError(t, Validate(ProductDB))
}

func TestLatestRevision(t *testing.T) {
	for _, set := range []Set{ConfigDB, ProductDB} {
		latest, err := Latest(set)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, latest, uint(1), "set %q must have at least one revision", set)
	}
}

func TestFSUnknownSet(t *testing.T) {
	_, err := FS(Set("nope"))
	assert.ErrorIs(t, err, ErrUnknownSet)
}

func TestEmbeddedFilesReadable(t *testing.T) {
	for _, set := range []Set{ConfigDB, ProductDB} {
		sub, err := FS(set)
		require.NoError(t, err)

		entries, err := fs.ReadDir(sub, ".")
		require.NoError(t, err)
		assert.NotEmpty(t, entries)

		for _, e := range entries {
			content, err := fs.ReadFile(sub, e.Name())
			require.NoError(t, err)
			assert.NotEmpty(t, content, e.Name())
		}
	}
}

func TestMigrationNamePattern(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"000001_initial_schema.up.sql", true},
		{"000001_initial_schema.down.sql", true},
		{"000002_add_blame.up.sql", true},
		{"1_short.up.sql", false},
		{"000001_Initial.up.sql", false},
		{"000001_initial_schema.sql", false},
		{"000001_initial_schema.up.txt", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.valid, migrationNamePattern.MatchString(tt.name), tt.name)
	}
}

func TestDBStatusString(t *testing.T) {
	tests := []struct {
		status DBStatus
		want   string
	}{
		{StatusOK, "OK"},
		{StatusMissing, "MISSING"},
		{StatusMismatchOK, "SCHEMA_MISMATCH_OK"},
		{StatusMismatchNo, "SCHEMA_MISMATCH_NO"},
		{StatusSchemaMissing, "SCHEMA_MISSING"},
		{StatusInitError, "SCHEMA_INIT_ERROR"},
		{StatusUpgradeFailed, "SCHEMA_UPGRADE_FAILED"},
		{StatusFailedToConnect, "FAILED_TO_CONNECT"},
		{DBStatus(42), "UNKNOWN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestDBStatusServeable(t *testing.T) {
	assert.True(t, StatusOK.Serveable())
	assert.False(t, StatusMismatchOK.Serveable())
	assert.True(t, StatusMismatchOK.Upgradeable())
	assert.True(t, StatusSchemaMissing.Upgradeable())
	assert.False(t, StatusMismatchNo.Upgradeable())
}
