package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"vigil-backend/internal/handlers"
	"vigil-backend/internal/middleware"
	"vigil-backend/internal/models"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Sessions *handlers.SessionHandler
	Progress *handlers.ProgressHandler
	Alerts   *handlers.AlertHandler
	Admin    *handlers.AdminHandler
	WS       http.HandlerFunc
}

func New(
	jwtAuth *middleware.JWTAuth,
	ingestLimiter *middleware.RateLimiter,
	h Handlers,
	frontendURLs []string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.CORS(frontendURLs))
	r.Use(middleware.MaxBodySize(middleware.DefaultMaxBody))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(jwtAuth.Middleware)

		// ──── Viewing Sessions ────
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.Sessions.Start)
			r.Post("/{token}/heartbeat", h.Sessions.Heartbeat)
			r.Post("/{token}/end", h.Sessions.End)

			r.Group(func(r chi.Router) {
				r.Use(ingestLimiter.Middleware)
				r.Post("/{token}/events", h.Sessions.SubmitEvent)
				r.Post("/{token}/events/batch", h.Sessions.SubmitBatch)
			})
		})

		// ──── Progress & Grades ────
		r.Get("/progress", h.Progress.GetProgress)
		r.Get("/grades", h.Progress.GetGrade)

		r.Route("/lessons", func(r chi.Router) {
			r.Use(middleware.RequireRole(models.RoleAdmin, models.RoleOrgAdmin))
			r.Put("/{id}/grade-config", h.Progress.UpdateGradeConfig)
		})

		// ──── Alerts ────
		r.Route("/alerts", func(r chi.Router) {
			r.Use(middleware.RequireRole(models.RoleAdmin, models.RoleOrgAdmin))
			r.Get("/", h.Alerts.List)
			r.Put("/{id}/status", h.Alerts.UpdateStatus)
		})

		// ──── Admin ────
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(models.RoleAdmin, models.RoleOrgAdmin))
			r.Post("/maintenance/run", h.Admin.RunMaintenance)
			r.Get("/lessons/attention", h.Admin.LessonsNeedingAttention)
			r.Get("/grades/export", h.Admin.ExportGrades)
		})
	})

	// ──── WebSocket ────
	r.Get("/ws", h.WS)

	return r
}
