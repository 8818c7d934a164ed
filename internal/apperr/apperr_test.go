package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindGeneral, "GENERAL"},
		{KindDatabase, "DATABASE"},
		{KindIO, "IOERROR"},
		{KindSourceFile, "SOURCE_FILE"},
		{KindReportFormat, "REPORT_FORMAT"},
		{KindAuthDenied, "AUTH_DENIED"},
		{KindUnauthorized, "UNAUTHORIZED"},
		{KindAPIMismatch, "API_MISMATCH"},
		{Kind(99), "GENERAL"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindDatabase, cause, "opening pool for product %q", "default")

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindDatabase, KindOf(err))
	assert.Contains(t, err.Error(), "DATABASE")
	assert.Contains(t, err.Error(), "default")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(KindIO, nil, "ignored"))
}

func TestKindOfSurvivesWrapping(t *testing.T) {
	inner := New(KindReportFormat, "missing checker id")
	outer := fmt.Errorf("record 12: %w", inner)

	assert.Equal(t, KindReportFormat, KindOf(outer))
	assert.True(t, IsKind(outer, KindReportFormat))
	assert.False(t, IsKind(outer, KindIO))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindGeneral, KindOf(errors.New("plain")))
}
