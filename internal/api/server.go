// Package api exposes the report management service over HTTP: product
// administration, bundle storage, report queries, triage operations and
// background task tracking, guarded by API-key authentication and
// per-product permissions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/triage-io/triage/internal/api/middleware"
	"github.com/triage-io/triage/internal/ingest"
	"github.com/triage-io/triage/internal/product"
	"github.com/triage-io/triage/internal/query"
	"github.com/triage-io/triage/internal/task"
	"github.com/triage-io/triage/internal/triage"
)

// maxRequestBody bounds JSON request bodies outside the store path. Store
// uploads are bounded separately by the engine's bundle size limit.
const maxRequestBody = 4 << 20

// Server is the HTTP front of the service.
type Server struct {
	config     *ServerConfig
	logger     *slog.Logger
	httpServer *http.Server

	registry *product.Registry
	engine   *ingest.Engine
	tasks    *task.Store
	keys     *KeyStore
	checker  PermissionChecker

	startTime time.Time
}

// Deps are the service dependencies of the server.
type Deps struct {
	Registry *product.Registry
	Engine   *ingest.Engine
	Tasks    *task.Store
	Keys     *KeyStore

	// Auth resolves API keys; nil disables authentication entirely.
	Auth middleware.Authenticator

	// Limiter throttles requests; nil disables rate limiting.
	Limiter middleware.Limiter
}

// NewServer creates the HTTP server and wires its routes and middleware.
func NewServer(config *ServerConfig, deps Deps, logger *slog.Logger) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}

	s := &Server{
		config:    config,
		logger:    logger,
		registry:  deps.Registry,
		engine:    deps.Engine,
		tasks:     deps.Tasks,
		keys:      deps.Keys,
		checker:   StaticChecker{},
		startTime: time.Now(),
	}

	auth := deps.Auth
	if !config.AuthEnabled {
		auth = nil
	}

	var limiter middleware.Limiter
	if config.RateLimit.Enabled {
		limiter = deps.Limiter
	}

	handler := middleware.Apply(s.routes(),
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(&config.CORS),
		middleware.WithRateLimit(limiter, logger),
		middleware.WithAuth(auth, logger),
	)

	s.httpServer = &http.Server{
		Addr:         config.Address(),
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s, nil
}

// routes builds the method-aware mux.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	for _, path := range []string{"/ping", "/health", "/version"} {
		middleware.RegisterPublicEndpoint(path)
	}

	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)

	mux.HandleFunc("GET /api/v1/products", s.handleListProducts)
	mux.HandleFunc("POST /api/v1/products", s.handleCreateProduct)
	mux.HandleFunc("GET /api/v1/products/{endpoint}", s.handleGetProduct)
	mux.HandleFunc("PUT /api/v1/products/{endpoint}", s.handleUpdateProduct)
	mux.HandleFunc("DELETE /api/v1/products/{endpoint}", s.handleRetireProduct)
	mux.HandleFunc("GET /api/v1/products/{endpoint}/status", s.handleProductStatus)
	mux.HandleFunc("POST /api/v1/products/{endpoint}/upgrade", s.handleProductUpgrade)

	mux.HandleFunc("POST /api/v1/products/{endpoint}/store", s.handleStore)
	mux.HandleFunc("POST /api/v1/products/{endpoint}/store/missing-content", s.handleMissingContent)
	mux.HandleFunc("POST /api/v1/products/{endpoint}/store/missing-blame", s.handleMissingBlame)
	mux.HandleFunc("POST /api/v1/products/{endpoint}/store/content", s.handlePutContent)
	mux.HandleFunc("POST /api/v1/products/{endpoint}/store/blame", s.handlePutBlame)

	mux.HandleFunc("GET /api/v1/products/{endpoint}/runs", s.handleListRuns)
	mux.HandleFunc("DELETE /api/v1/products/{endpoint}/runs/{runID}", s.handleRemoveRun)
	mux.HandleFunc("POST /api/v1/products/{endpoint}/results", s.handleResults)
	mux.HandleFunc("POST /api/v1/products/{endpoint}/results/count", s.handleResultCount)
	mux.HandleFunc("POST /api/v1/products/{endpoint}/results/count/{dimension}", s.handleCountBy)
	mux.HandleFunc("POST /api/v1/products/{endpoint}/results/remove", s.handleRemoveResults)
	mux.HandleFunc("POST /api/v1/products/{endpoint}/diff", s.handleHashDiff)

	mux.HandleFunc("GET /api/v1/products/{endpoint}/reports/{reportID}", s.handleReportDetails)
	mux.HandleFunc("GET /api/v1/products/{endpoint}/files/{fileID}", s.handleSourceFile)

	mux.HandleFunc("PUT /api/v1/products/{endpoint}/reports/{reportID}/review-status",
		s.handleChangeReviewStatus)
	mux.HandleFunc("POST /api/v1/products/{endpoint}/review-rules/query", s.handleRuleQuery)
	mux.HandleFunc("POST /api/v1/products/{endpoint}/review-rules/count", s.handleRuleCount)
	mux.HandleFunc("POST /api/v1/products/{endpoint}/review-rules/remove", s.handleRuleRemove)

	mux.HandleFunc("GET /api/v1/products/{endpoint}/reports/{reportID}/comments", s.handleListComments)
	mux.HandleFunc("POST /api/v1/products/{endpoint}/reports/{reportID}/comments", s.handleAddComment)
	mux.HandleFunc("PUT /api/v1/products/{endpoint}/comments/{commentID}", s.handleUpdateComment)
	mux.HandleFunc("DELETE /api/v1/products/{endpoint}/comments/{commentID}", s.handleRemoveComment)

	mux.HandleFunc("GET /api/v1/products/{endpoint}/cleanup-plans", s.handleListPlans)
	mux.HandleFunc("POST /api/v1/products/{endpoint}/cleanup-plans", s.handleCreatePlan)
	mux.HandleFunc("GET /api/v1/products/{endpoint}/cleanup-plans/{planID}", s.handleGetPlan)
	mux.HandleFunc("PUT /api/v1/products/{endpoint}/cleanup-plans/{planID}", s.handleUpdatePlan)
	mux.HandleFunc("DELETE /api/v1/products/{endpoint}/cleanup-plans/{planID}", s.handleRemovePlan)
	mux.HandleFunc("POST /api/v1/products/{endpoint}/cleanup-plans/{planID}/close", s.handleClosePlan)
	mux.HandleFunc("POST /api/v1/products/{endpoint}/cleanup-plans/{planID}/reopen", s.handleReopenPlan)
	mux.HandleFunc("POST /api/v1/products/{endpoint}/cleanup-plans/{planID}/hashes", s.handleSetPlanHashes)
	mux.HandleFunc("DELETE /api/v1/products/{endpoint}/cleanup-plans/{planID}/hashes",
		s.handleUnsetPlanHashes)

	mux.HandleFunc("GET /api/v1/products/{endpoint}/components", s.handleListComponents)
	mux.HandleFunc("GET /api/v1/products/{endpoint}/components/{name}", s.handleGetComponent)
	mux.HandleFunc("PUT /api/v1/products/{endpoint}/components/{name}", s.handleSaveComponent)
	mux.HandleFunc("DELETE /api/v1/products/{endpoint}/components/{name}", s.handleRemoveComponent)

	mux.HandleFunc("GET /api/v1/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/v1/tasks/{token}", s.handleGetTask)
	mux.HandleFunc("POST /api/v1/tasks/{token}/cancel", s.handleCancelTask)

	mux.HandleFunc("GET /api/v1/apikeys", s.handleListKeys)
	mux.HandleFunc("POST /api/v1/apikeys", s.handleCreateKey)
	mux.HandleFunc("DELETE /api/v1/apikeys/{keyID}", s.handleRevokeKey)

	return s.checkAPIVersion(mux)
}

// Start runs the server until the context is cancelled, then shuts down
// gracefully within the configured timeout.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP server starting", slog.String("address", s.config.Address()))

		if err := s.httpServer.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("HTTP server shutting down",
		slog.Duration("timeout", s.config.ShutdownTimeout))

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}

// writeJSON encodes the response body with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("path", r.URL.Path),
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.Any("error", err),
		)
	}
}

// decode parses a JSON request body with a size cap.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}

	return nil
}

// fail maps a service error onto the wire.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	problem := ProblemFromError(err)

	if problem.Status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			slog.String("path", r.URL.Path),
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
	}

	WriteErrorResponse(w, r, s.logger, problem)
}

// badRequest rejects a malformed request.
func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, detail string) {
	WriteErrorResponse(w, r, s.logger,
		NewProblemDetail(http.StatusBadRequest, "Bad Request", detail))
}

// require enforces a permission scope. With authentication disabled every
// request passes.
func (s *Server) require(w http.ResponseWriter, r *http.Request, scope Scope, endpoint string) bool {
	if !s.config.AuthEnabled {
		return true
	}

	identity := middleware.GetIdentity(r.Context())
	if s.checker.Has(identity, scope, endpoint) {
		return true
	}

	WriteErrorResponse(w, r, s.logger, unauthorizedProblem(identity))

	return false
}

// hasScope checks a permission without writing a response.
func (s *Server) hasScope(r *http.Request, scope Scope, endpoint string) bool {
	if !s.config.AuthEnabled {
		return true
	}

	return s.checker.Has(middleware.GetIdentity(r.Context()), scope, endpoint)
}

// principal names the caller for audit fields.
func (s *Server) principal(r *http.Request) string {
	identity := middleware.GetIdentity(r.Context())
	if identity.Anonymous() {
		return "anonymous"
	}

	return identity.Principal
}

// actorFor builds the triage actor of the request.
func (s *Server) actorFor(r *http.Request, endpoint string) triage.Actor {
	return triage.Actor{
		Name:  s.principal(r),
		Admin: s.hasScope(r, ScopeProductAdmin, endpoint),
	}
}

// openProduct resolves the {endpoint} path segment to a serveable handle.
func (s *Server) openProduct(w http.ResponseWriter, r *http.Request) (*product.Handle, bool) {
	handle, err := s.registry.Open(r.Context(), r.PathValue("endpoint"))
	if err != nil {
		s.fail(w, r, err)

		return nil, false
	}

	return handle, true
}

// queryStore opens the query engine over a product handle.
func (s *Server) queryStore(w http.ResponseWriter, r *http.Request, handle *product.Handle) (*query.Store, bool) {
	store, err := query.NewStore(handle.Conn, s.logger)
	if err != nil {
		s.fail(w, r, err)

		return nil, false
	}

	return store, true
}

// triageManager opens the triage engine over a product handle.
func (s *Server) triageManager(w http.ResponseWriter, r *http.Request, handle *product.Handle) (*triage.Manager, bool) {
	manager, err := triage.NewManager(handle.Conn, s.logger,
		handle.Product.ReviewStatusChangeDisabled)
	if err != nil {
		s.fail(w, r, err)

		return nil, false
	}

	return manager, true
}

// pathID parses a numeric path segment.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, r.PathValue(name))
	}

	return id, nil
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, fallback int) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil {
			return value
		}
	}

	return fallback
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("pong"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}
