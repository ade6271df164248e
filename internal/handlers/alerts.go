package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vigil-backend/internal/models"
	"vigil-backend/internal/services"
)

type alertReviewer interface {
	List(ctx context.Context, p models.Principal, f models.AlertFilter) (*services.AlertPage, error)
	UpdateStatus(ctx context.Context, p models.Principal, id uuid.UUID, req models.UpdateAlertStatusRequest) (*models.SecurityAlert, error)
}

type AlertHandler struct {
	alerts alertReviewer
	log    *logrus.Entry
}

func NewAlertHandler(alerts alertReviewer, logger *logrus.Logger) *AlertHandler {
	return &AlertHandler{alerts: alerts, log: logger.WithField("handler", "alerts")}
}

func alertFilter(r *http.Request) (models.AlertFilter, map[string]string) {
	fields := make(map[string]string)
	q := r.URL.Query()

	f := models.AlertFilter{
		UserID:   optionalUUID(r, "user_id", fields),
		LessonID: optionalUUID(r, "lesson_id", fields),
		Limit:    optionalInt(r, "limit", fields),
		Offset:   optionalInt(r, "offset", fields),
	}
	if v := q.Get("status"); v != "" {
		s := models.AlertStatus(v)
		f.Status = &s
	}
	if v := q.Get("type"); v != "" {
		t := models.AlertType(v)
		f.AlertType = &t
	}
	if v := q.Get("severity"); v != "" {
		s := models.Severity(v)
		f.Severity = &s
	}
	if v := q.Get("organization_id"); v != "" {
		f.OrganizationID = optionalUUID(r, "organization_id", fields)
	}
	return f, fields
}

func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	f, fields := alertFilter(r)
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	page, err := h.alerts.List(r.Context(), p, f)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	if page.Alerts == nil {
		page.Alerts = []*models.SecurityAlert{}
	}

	writeJSON(w, http.StatusOK, page)
}

func (h *AlertHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid alert ID", r))
		return
	}

	var req models.UpdateAlertStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}

	alert, err := h.alerts.UpdateStatus(r.Context(), p, id, req)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, alert)
}
