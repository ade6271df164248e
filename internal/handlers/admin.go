package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"vigil-backend/internal/models"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type maintenanceRunner interface {
	RunOnce(ctx context.Context) (*models.MaintenanceReport, error)
	LessonsNeedingAttention(ctx context.Context, p models.Principal) ([]models.LessonAttention, error)
}

type gradebookExporter interface {
	Export(ctx context.Context, p models.Principal, orgID *uuid.UUID) (*excelize.File, error)
}

type AdminHandler struct {
	maintenance maintenanceRunner
	exporter    gradebookExporter
	log         *logrus.Entry
}

func NewAdminHandler(maintenance maintenanceRunner, exporter gradebookExporter, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		maintenance: maintenance,
		exporter:    exporter,
		log:         logger.WithField("handler", "admin"),
	}
}

// RunMaintenance triggers one maintenance pass. Only admins may run it;
// a pass with failed steps still returns its report.
func (h *AdminHandler) RunMaintenance(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if p.Role != models.RoleAdmin {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Admin role required", r))
		return
	}

	report, err := h.maintenance.RunOnce(r.Context())
	if err != nil {
		h.log.WithError(err).WithField("by", p.UserID).Warn("manual maintenance pass had errors")
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *AdminHandler) LessonsNeedingAttention(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	lessons, err := h.maintenance.LessonsNeedingAttention(r.Context(), p)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	if lessons == nil {
		lessons = []models.LessonAttention{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"lessons": lessons})
}

func (h *AdminHandler) ExportGrades(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	fields := make(map[string]string)
	orgID := optionalUUID(r, "organization_id", fields)
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return
	}

	f, err := h.exporter.Export(r.Context(), p, orgID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	defer f.Close()

	filename := fmt.Sprintf("video-grades-%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if err := f.Write(w); err != nil {
		h.log.WithError(err).Error("failed to stream gradebook")
	}
}
