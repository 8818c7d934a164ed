package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triage-io/triage/internal/api/middleware"
)

func testConfig() *ServerConfig {
	return &ServerConfig{
		Host:            "127.0.0.1",
		Port:            8001,
		ReadTimeout:     time.Minute,
		WriteTimeout:    time.Minute,
		IdleTimeout:     time.Minute,
		ShutdownTimeout: 10 * time.Second,
		AuthEnabled:     true,
	}
}

func testServer() *Server {
	return &Server{
		config:    testConfig(),
		logger:    discardLogger(),
		checker:   StaticChecker{},
		startTime: time.Now(),
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	bad := testConfig()
	bad.Port = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidPort)

	bad = testConfig()
	bad.WriteTimeout = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidTimeout)

	bad = testConfig()
	bad.ShutdownTimeout = -time.Second
	assert.ErrorIs(t, bad.Validate(), ErrInvalidShutdownTimeout)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("TRIAGE_PORT", "9000")
	t.Setenv("TRIAGE_AUTH_ENABLED", "false")
	t.Setenv("TRIAGE_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg := NewServerConfigFromEnv()

	assert.Equal(t, 9000, cfg.Port)
	assert.False(t, cfg.AuthEnabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"},
		cfg.CORS.AllowedOrigins)
	require.NoError(t, cfg.Validate())
}

func TestHandleHealth(t *testing.T) {
	s := testServer()

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHandleVersion(t *testing.T) {
	s := testServer()

	rec := httptest.NewRecorder()
	s.handleVersion(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"api_version":"1.0"`)
}

func TestCheckAPIVersion(t *testing.T) {
	s := testServer()

	handler := s.checkAPIVersion(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name     string
		declared string
		want     int
	}{
		{name: "no header passes", declared: "", want: http.StatusOK},
		{name: "matching major passes", declared: "1.0", want: http.StatusOK},
		{name: "newer minor passes", declared: "1.9", want: http.StatusOK},
		{name: "major mismatch rejected", declared: "2.0", want: http.StatusBadRequest},
		{name: "garbage rejected", declared: "latest", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
			if tt.declared != "" {
				req.Header.Set("X-Api-Version", tt.declared)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)

			if tt.want == http.StatusBadRequest {
				assert.Contains(t, rec.Body.String(), "API_MISMATCH")
			}
		})
	}
}

func TestRequireDeniesAnonymous(t *testing.T) {
	s := testServer()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/foo", nil)

	ok := s.require(rec, req, ScopeProductView, "foo")

	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireDeniesMissingScope(t *testing.T) {
	s := testServer()

	identity := middleware.Identity{Principal: "alice", Permissions: []string{"PRODUCT_VIEW:foo"}}
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/products/foo", nil)
	req = req.WithContext(middleware.SetIdentity(req.Context(), identity))

	rec := httptest.NewRecorder()
	ok := s.require(rec, req, ScopeProductAdmin, "foo")

	assert.False(t, ok)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireGrantsScope(t *testing.T) {
	s := testServer()

	identity := middleware.Identity{Principal: "alice", Permissions: []string{"PRODUCT_ADMIN:foo"}}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/foo", nil)
	req = req.WithContext(middleware.SetIdentity(req.Context(), identity))

	rec := httptest.NewRecorder()
	assert.True(t, s.require(rec, req, ScopeProductStore, "foo"))
}

func TestRequireSkippedWhenAuthDisabled(t *testing.T) {
	s := testServer()
	s.config.AuthEnabled = false

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/products/foo", nil)

	assert.True(t, s.require(rec, req, ScopeSuperuser, ""))
}

func TestActorForCarriesAdminFlag(t *testing.T) {
	s := testServer()

	identity := middleware.Identity{Principal: "alice", Permissions: []string{"PRODUCT_ADMIN:foo"}}
	req := httptest.NewRequest(http.MethodPut, "/", nil)
	req = req.WithContext(middleware.SetIdentity(req.Context(), identity))

	actor := s.actorFor(req, "foo")
	assert.Equal(t, "alice", actor.Name)
	assert.True(t, actor.Admin)

	actor = s.actorFor(req, "bar")
	assert.False(t, actor.Admin)
}

func TestPrincipalFallsBackToAnonymous(t *testing.T) {
	s := testServer()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "anonymous", s.principal(req))
}
