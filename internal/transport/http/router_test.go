package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformmetrics "auditflow/internal/platform/metrics"
	dErrors "auditflow/pkg/domain-errors"
	authmw "auditflow/pkg/platform/middleware/auth"
	"auditflow/pkg/requestcontext"
	"auditflow/pkg/testutil"
)

type stubValidator struct {
	userID string
}

func (v stubValidator) ValidateToken(token string) (*authmw.JWTClaims, error) {
	if token != "good" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	return &authmw.JWTClaims{UserID: v.userID, Roles: []string{"manager"}}, nil
}

type whoami struct{}

func (whoami) Register(r chi.Router) {
	r.Get("/approvals/whoami", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(requestcontext.UserID(r.Context()).String()))
	})
}

func newTestRouter(t *testing.T, health func(context.Context) error) (http.Handler, string) {
	t.Helper()
	reg := prometheus.NewRegistry()
	userID := uuid.NewString()
	router := NewRouter(Deps{
		Approvals: whoami{},
		Validator: stubValidator{userID: userID},
		Metrics:   platformmetrics.NewWithRegisterer(reg),
		Gatherer:  reg,
		Health:    health,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return router, userID
}

func serve(t *testing.T, router http.Handler, method, path, token string) *httptest.ResponseRecorder {
	return testutil.DoRequest(router, testutil.WithBearer(testutil.NewRequest(t, method, path), token))
}

func TestRouter_Health(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		router, _ := newTestRouter(t, func(context.Context) error { return nil })
		rec := serve(t, router, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("dependency down", func(t *testing.T) {
		router, _ := newTestRouter(t, func(context.Context) error { return errors.New("postgres: connection refused") })
		rec := serve(t, router, http.MethodGet, "/health", "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "unavailable")
	})
}

func TestRouter_Metrics(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	_ = serve(t, router, http.MethodGet, "/health", "")

	rec := serve(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "auditflow_http_requests_total")
}

func TestRouter_ModuleRoutesRequireAuth(t *testing.T) {
	router, userID := newTestRouter(t, nil)

	rec := serve(t, router, http.MethodGet, "/approvals/whoami", "")
	testutil.AssertStatusAndError(t, rec, http.StatusUnauthorized, "unauthorized")

	rec = serve(t, router, http.MethodGet, "/approvals/whoami", "bad")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(t, router, http.MethodGet, "/approvals/whoami", "good")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
