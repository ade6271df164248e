package handlers

import (
	"context"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"vigil-backend/internal/models"
)

type sessionManager interface {
	Start(ctx context.Context, p models.Principal, req models.StartSessionRequest, ip string) (*models.StartSessionResponse, error)
	Heartbeat(ctx context.Context, p models.Principal, token string) (*models.ViewingSession, error)
	End(ctx context.Context, p models.Principal, token string) error
}

type eventIngestor interface {
	Submit(ctx context.Context, p models.Principal, token string, in models.EventInput) (*models.IngestResult, error)
	SubmitBatch(ctx context.Context, p models.Principal, token string, req models.EventBatchRequest) (*models.IngestResult, error)
}

type SessionHandler struct {
	sessions sessionManager
	ingest   eventIngestor
	log      *logrus.Entry
}

func NewSessionHandler(sessions sessionManager, ingest eventIngestor, logger *logrus.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		ingest:   ingest,
		log:      logger.WithField("handler", "sessions"),
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req models.StartSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}

	resp, err := h.sessions.Start(r.Context(), p, req, clientIP(r))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *SessionHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	session, err := h.sessions.Heartbeat(r.Context(), p, chi.URLParam(r, "token"))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":        session.ID,
		"is_active":         session.IsActive,
		"last_heartbeat_at": session.LastHeartbeatAt,
	})
}

func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.sessions.End(r.Context(), p, chi.URLParam(r, "token")); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

func (h *SessionHandler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var in models.EventInput
	if !decodeBody(w, r, &in) {
		return
	}

	result, err := h.ingest.Submit(r.Context(), p, chi.URLParam(r, "token"), in)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}

func (h *SessionHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req models.EventBatchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.ingest.SubmitBatch(r.Context(), p, chi.URLParam(r, "token"), req)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}
