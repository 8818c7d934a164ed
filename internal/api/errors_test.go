package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triage-io/triage/internal/apperr"
	"github.com/triage-io/triage/internal/ingest"
	"github.com/triage-io/triage/internal/product"
	"github.com/triage-io/triage/internal/query"
	"github.com/triage-io/triage/internal/task"
	"github.com/triage-io/triage/internal/triage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProblemFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "run not found",
			err:        fmt.Errorf("%w: id 7", query.ErrRunNotFound),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "product not found",
			err:        product.ErrNotFound,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "plan name conflict",
			err:        triage.ErrPlanExists,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "run limit",
			err:        apperr.Wrap(apperr.KindGeneral, ingest.ErrRunLimit, "limit 5"),
			wantStatus: http.StatusConflict,
		},
		{
			name:       "task ownership",
			err:        task.ErrNotOwner,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "review change locked",
			err:        triage.ErrChangeDisabled,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "queue full",
			err:        task.ErrQueueFull,
			wantStatus: http.StatusTooManyRequests,
			wantCode:   "QUEUE_FULL",
		},
		{
			name:       "invalid review status",
			err:        fmt.Errorf("%w: %q", triage.ErrInvalidReviewStatus, "bogus"),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "product unavailable",
			err:        fmt.Errorf("%w: %q", product.ErrNotAccessible, "foo"),
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "auth denied kind",
			err:        apperr.New(apperr.KindAuthDenied, "no identity"),
			wantStatus: http.StatusUnauthorized,
			wantCode:   "AUTH_DENIED",
		},
		{
			name:       "unauthorized kind",
			err:        apperr.New(apperr.KindUnauthorized, "missing permission"),
			wantStatus: http.StatusForbidden,
			wantCode:   "UNAUTHORIZED",
		},
		{
			name:       "report format kind",
			err:        apperr.New(apperr.KindReportFormat, "bad finding"),
			wantStatus: http.StatusBadRequest,
			wantCode:   "REPORT_FORMAT",
		},
		{
			name:       "database kind",
			err:        apperr.Wrap(apperr.KindDatabase, errors.New("connection reset"), "query"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "DATABASE",
		},
		{
			name:       "unclassified",
			err:        errors.New("something odd"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "GENERAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			problem := ProblemFromError(tt.err)

			assert.Equal(t, tt.wantStatus, problem.Status)

			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, problem.Code)
			}
		})
	}
}

func TestWriteErrorResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/foo", nil)

	WriteErrorResponse(rec, req, discardLogger(),
		NewProblemDetail(http.StatusNotFound, "Not Found", "product missing"))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"instance":"/api/v1/products/foo"`)
	assert.Contains(t, rec.Body.String(), `"type":"https://triage.io/problems/404"`)
}
