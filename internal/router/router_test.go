package router

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vigil-backend/internal/handlers"
	"vigil-backend/internal/middleware"
	"vigil-backend/internal/models"
)

func testRouter(t *testing.T) (http.Handler, *middleware.JWTAuth) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	auth := middleware.NewJWTAuth("router-secret")
	limiter := middleware.NewRateLimiter(100, time.Minute)
	t.Cleanup(limiter.Close)

	h := Handlers{
		Sessions: handlers.NewSessionHandler(nil, nil, logger),
		Progress: handlers.NewProgressHandler(nil, nil, logger),
		Alerts:   handlers.NewAlertHandler(nil, logger),
		Admin:    handlers.NewAdminHandler(nil, nil, logger),
		WS:       func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) },
	}
	return New(auth, limiter, h, []string{"http://localhost:5173"}), auth
}

func TestRouter_Health(t *testing.T) {
	r, _ := testRouter(t)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get(middleware.RequestIDHeader) == "" {
		t.Fatalf("expected a request id on every response")
	}
}

func TestRouter_APIRequiresToken(t *testing.T) {
	r, _ := testRouter(t)
	for _, path := range []string{"/api/v1/progress", "/api/v1/grades", "/api/v1/alerts"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rr.Code)
		}
	}
}

func TestRouter_ReviewerRoutesRejectLearners(t *testing.T) {
	r, auth := testRouter(t)
	token, err := auth.GenerateAccessToken(models.Principal{UserID: uuid.New(), Role: models.RoleStudent})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/v1/alerts"},
		{http.MethodPut, "/api/v1/alerts/" + uuid.NewString() + "/status"},
		{http.MethodPut, "/api/v1/lessons/" + uuid.NewString() + "/grade-config"},
		{http.MethodPost, "/api/v1/admin/maintenance/run"},
		{http.MethodGet, "/api/v1/admin/grades/export"},
	}
	for _, rt := range routes {
		req := httptest.NewRequest(rt.method, rt.path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403, got %d", rt.method, rt.path, rr.Code)
		}
	}
}

func TestRouter_WebSocketIsOutsideBearerAuth(t *testing.T) {
	r, _ := testRouter(t)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws?token=x", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected the websocket handler to run, got %d", rr.Code)
	}
}
