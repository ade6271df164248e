package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vigil-backend/internal/models"
)

type progressReader interface {
	Get(ctx context.Context, p models.Principal, userID, lessonID uuid.UUID) (*models.VideoProgress, error)
	List(ctx context.Context, p models.Principal, userID uuid.UUID) ([]*models.VideoProgress, error)
}

type gradeService interface {
	GetLessonGrade(ctx context.Context, p models.Principal, userID, lessonID uuid.UUID) (*models.VideoGradeResult, error)
	GetTotalGrade(ctx context.Context, p models.Principal, userID uuid.UUID) (*models.TotalVideoGrade, error)
	UpdateLessonGradeConfig(ctx context.Context, p models.Principal, lessonID uuid.UUID, req models.UpdateGradeConfigRequest) (*models.VideoLesson, error)
}

type ProgressHandler struct {
	progress progressReader
	grades   gradeService
	log      *logrus.Entry
}

func NewProgressHandler(progress progressReader, grades gradeService, logger *logrus.Logger) *ProgressHandler {
	return &ProgressHandler{
		progress: progress,
		grades:   grades,
		log:      logger.WithField("handler", "progress"),
	}
}

// target resolves the user_id and lesson_id query parameters. user_id
// defaults to the caller.
func target(w http.ResponseWriter, r *http.Request, p models.Principal) (uuid.UUID, *uuid.UUID, bool) {
	fields := make(map[string]string)
	userID := optionalUUID(r, "user_id", fields)
	lessonID := optionalUUID(r, "lesson_id", fields)
	if len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed", fields, r))
		return uuid.Nil, nil, false
	}
	if userID == nil {
		return p.UserID, lessonID, true
	}
	return *userID, lessonID, true
}

// GetProgress returns one progress row, or every row of the user when no
// lesson_id is given.
func (h *ProgressHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	userID, lessonID, ok := target(w, r, p)
	if !ok {
		return
	}

	if lessonID == nil {
		rows, err := h.progress.List(r.Context(), p, userID)
		if err != nil {
			handleServiceError(w, r, h.log, err)
			return
		}
		if rows == nil {
			rows = []*models.VideoProgress{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"progress": rows})
		return
	}

	row, err := h.progress.Get(r.Context(), p, userID, *lessonID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// GetGrade returns one lesson grade, or the user's total when no lesson_id
// is given.
func (h *ProgressHandler) GetGrade(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	userID, lessonID, ok := target(w, r, p)
	if !ok {
		return
	}

	if lessonID == nil {
		total, err := h.grades.GetTotalGrade(r.Context(), p, userID)
		if err != nil {
			handleServiceError(w, r, h.log, err)
			return
		}
		writeJSON(w, http.StatusOK, total)
		return
	}

	grade, err := h.grades.GetLessonGrade(r.Context(), p, userID, *lessonID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, grade)
}

func (h *ProgressHandler) UpdateGradeConfig(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	lessonID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid lesson ID", r))
		return
	}

	var req models.UpdateGradeConfigRequest
	if !decodeBody(w, r, &req) {
		return
	}

	lesson, err := h.grades.UpdateLessonGradeConfig(r.Context(), p, lessonID, req)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lesson_id":    lesson.ID,
		"grade_config": lesson.GradeConfig(),
		"updated_at":   lesson.UpdatedAt,
	})
}
