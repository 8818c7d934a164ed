package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/triage-io/triage/internal/api/middleware"
	"github.com/triage-io/triage/internal/apperr"
	"github.com/triage-io/triage/internal/bundle"
	"github.com/triage-io/triage/internal/ingest"
	"github.com/triage-io/triage/internal/product"
	"github.com/triage-io/triage/internal/query"
	"github.com/triage-io/triage/internal/task"
	"github.com/triage-io/triage/internal/triage"
)

// ProblemDetail is an RFC 7807 problem response. The Code field carries
// the error taxonomy kind for API clients.
type ProblemDetail struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail,omitempty"`
	Instance      string `json:"instance,omitempty"`
	Code          string `json:"code,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"` //nolint: tagliatelle
}

// NewProblemDetail creates a problem response.
func NewProblemDetail(status int, title, detail string) *ProblemDetail {
	return &ProblemDetail{
		Type:   fmt.Sprintf("https://triage.io/problems/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// WriteErrorResponse writes an RFC 7807 error response.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, problem *ProblemDetail) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if problem.CorrelationID == "" {
		problem.CorrelationID = correlationID
	}

	if problem.Instance == "" {
		problem.Instance = r.URL.Path
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		logger.Error("Failed to encode error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.Int("status", problem.Status),
			slog.Any("encode_error", err),
		)

		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// notFoundSentinels map to 404 regardless of their kind.
var notFoundSentinels = []error{ //nolint: gochecknoglobals
	product.ErrNotFound,
	query.ErrRunNotFound,
	query.ErrReportNotFound,
	query.ErrFileNotFound,
	query.ErrUnknownComponent,
	task.ErrTaskNotFound,
	triage.ErrReportNotFound,
	triage.ErrRuleNotFound,
	triage.ErrCommentNotFound,
	triage.ErrPlanNotFound,
	ErrKeyNotFound,
}

// conflictSentinels map to 409.
var conflictSentinels = []error{ //nolint: gochecknoglobals
	product.ErrEndpointTaken,
	product.ErrNotUpgradeable,
	triage.ErrPlanExists,
	ErrKeyExists,
	ingest.ErrAlreadyRunning,
	ingest.ErrRunLimit,
}

// badRequestSentinels map to 400.
var badRequestSentinels = []error{ //nolint: gochecknoglobals
	product.ErrInvalidEndpoint,
	ingest.ErrEmptyRunName,
	triage.ErrInvalidReviewStatus,
	triage.ErrEmptyComment,
	bundle.ErrBundleTooLarge,
}

// forbiddenSentinels map to 403.
var forbiddenSentinels = []error{ //nolint: gochecknoglobals
	task.ErrNotOwner,
	triage.ErrChangeDisabled,
	triage.ErrNotCommentAuthor,
	triage.ErrSystemComment,
	product.ErrRetired,
}

// ProblemFromError maps a service error to its transport representation:
// well-known sentinels first, then the error taxonomy kind.
func ProblemFromError(err error) *ProblemDetail {
	for _, sentinel := range notFoundSentinels {
		if errors.Is(err, sentinel) {
			return withKind(NewProblemDetail(http.StatusNotFound, "Not Found", err.Error()), err)
		}
	}

	for _, sentinel := range conflictSentinels {
		if errors.Is(err, sentinel) {
			return withKind(NewProblemDetail(http.StatusConflict, "Conflict", err.Error()), err)
		}
	}

	for _, sentinel := range badRequestSentinels {
		if errors.Is(err, sentinel) {
			return withKind(NewProblemDetail(http.StatusBadRequest, "Bad Request", err.Error()), err)
		}
	}

	for _, sentinel := range forbiddenSentinels {
		if errors.Is(err, sentinel) {
			return withKind(NewProblemDetail(http.StatusForbidden, "Forbidden", err.Error()), err)
		}
	}

	if errors.Is(err, task.ErrQueueFull) {
		problem := NewProblemDetail(http.StatusTooManyRequests, "Queue Full", err.Error())
		problem.Code = "QUEUE_FULL"

		return problem
	}

	if errors.Is(err, product.ErrNotAccessible) {
		return withKind(NewProblemDetail(http.StatusServiceUnavailable,
			"Product Not Accessible", err.Error()), err)
	}

	switch kind := apperr.KindOf(err); kind {
	case apperr.KindAuthDenied:
		return withKind(NewProblemDetail(http.StatusUnauthorized, "Unauthorized", err.Error()), err)
	case apperr.KindUnauthorized:
		return withKind(NewProblemDetail(http.StatusForbidden, "Forbidden", err.Error()), err)
	case apperr.KindAPIMismatch:
		return withKind(NewProblemDetail(http.StatusBadRequest, "API Version Mismatch", err.Error()), err)
	case apperr.KindIO, apperr.KindSourceFile, apperr.KindReportFormat:
		return withKind(NewProblemDetail(http.StatusBadRequest, "Bad Request", err.Error()), err)
	case apperr.KindDatabase, apperr.KindGeneral:
		return withKind(NewProblemDetail(http.StatusInternalServerError,
			"Internal Server Error", err.Error()), err)
	default:
		return withKind(NewProblemDetail(http.StatusInternalServerError,
			"Internal Server Error", err.Error()), err)
	}
}

func withKind(problem *ProblemDetail, err error) *ProblemDetail {
	problem.Code = apperr.KindOf(err).String()

	return problem
}

// unauthorizedProblem is the response for a failed permission check.
func unauthorizedProblem(identity middleware.Identity) *ProblemDetail {
	if identity.Anonymous() {
		problem := NewProblemDetail(http.StatusUnauthorized, "Unauthorized",
			"No usable identity was presented")
		problem.Code = apperr.KindAuthDenied.String()

		return problem
	}

	problem := NewProblemDetail(http.StatusForbidden, "Forbidden",
		"The identity lacks the required permission")
	problem.Code = apperr.KindUnauthorized.String()

	return problem
}
