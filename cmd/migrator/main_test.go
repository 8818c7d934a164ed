package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triage-io/triage/internal/schema"
)

func TestExecuteRejectsUnknownCommand(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	runner, err := schema.NewRunner(schema.ConfigDB, logger)
	require.NoError(t, err)

	err = execute("sideways", runner, nil, schema.ConfigDB, "")
	assert.ErrorContains(t, err, "unknown command")
}

func TestRunnerRejectsUnknownSet(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := schema.NewRunner(schema.Set("nope"), logger)
	assert.Error(t, err)
}
