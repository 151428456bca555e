package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/smartpark/sp-park/internal/middleware"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyRejectsMissingKey(t *testing.T) {
	h := middleware.NewAPIKeyAuth([]string{"secret-1"}).Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/event", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid or missing API key")
}

func TestAPIKeyAcceptsListedKey(t *testing.T) {
	h := middleware.NewAPIKeyAuth([]string{"secret-1", "secret-2"}).Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/event", nil)
	req.Header.Set("X-API-Key", "secret-2")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAPIKeyPublicPathsExempt(t *testing.T) {
	h := middleware.NewAPIKeyAuth([]string{"secret-1"}).Middleware(okHandler())

	for _, path := range []string{"/", "/health", "/health/live", "/health/ready", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code, "path %s should be public", path)
	}
}

func TestAPIKeyOpenWhenUnconfigured(t *testing.T) {
	h := middleware.NewAPIKeyAuth(nil).Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/event", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequestLoggerSetsRequestID(t *testing.T) {
	h := middleware.RequestLogger(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/floors", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}
