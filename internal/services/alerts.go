package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"vigil-backend/internal/models"
)

const (
	defaultAlertPageSize = 20
	maxAlertPageSize     = 100
)

type alertStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.SecurityAlert, error)
	List(ctx context.Context, f models.AlertFilter) ([]*models.SecurityAlert, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.AlertStatus, reviewer uuid.UUID, notes string) (*models.SecurityAlert, error)
}

type reviewStamper interface {
	StampReview(ctx context.Context, ids []uuid.UUID, verdict map[string]any) error
}

type AlertService struct {
	alerts alertStore
	events reviewStamper
	access accessPolicy
	now    func() time.Time
	log    *logrus.Entry
}

func NewAlertService(alerts alertStore, events reviewStamper, logger *logrus.Logger) *AlertService {
	return &AlertService{
		alerts: alerts,
		events: events,
		now:    time.Now,
		log:    logger.WithField("component", "alerts"),
	}
}

type AlertPage struct {
	Alerts []*models.SecurityAlert `json:"alerts"`
	Total  int                     `json:"total"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

// List returns a page of alerts. Organization admins only ever see their own organization.
func (s *AlertService) List(ctx context.Context, p models.Principal, f models.AlertFilter) (*AlertPage, error) {
	scope, err := orgScope(p)
	if err != nil {
		return nil, err
	}
	if scope != nil {
		f.OrganizationID = scope
	}

	fields := make(map[string]string)
	if f.Status != nil && !f.Status.Valid() {
		fields["status"] = "Unknown alert status"
	}
	if f.AlertType != nil && !f.AlertType.Valid() {
		fields["type"] = "Unknown alert type"
	}
	if f.Severity != nil && !f.Severity.Valid() {
		fields["severity"] = "Unknown severity"
	}
	if f.Offset < 0 {
		fields["offset"] = "Offset must not be negative"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	if f.Limit <= 0 {
		f.Limit = defaultAlertPageSize
	}
	if f.Limit > maxAlertPageSize {
		f.Limit = maxAlertPageSize
	}

	alerts, total, err := s.alerts.List(ctx, f)
	if err != nil {
		return nil, storageError("failed to list alerts", err)
	}
	return &AlertPage{Alerts: alerts, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// UpdateStatus closes an active alert. Closed alerts are final.
func (s *AlertService) UpdateStatus(ctx context.Context, p models.Principal, id uuid.UUID, req models.UpdateAlertStatusRequest) (*models.SecurityAlert, error) {
	if !p.IsReviewer() {
		return nil, &ForbiddenError{Message: "Reviewer role required"}
	}
	if !req.Status.Valid() || !req.Status.Terminal() {
		return nil, &ValidationError{Fields: map[string]string{"status": "Status must be reviewed, dismissed or resolved"}}
	}

	current, err := s.alerts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Message: "Alert not found"}
		}
		return nil, storageError("failed to load alert", err)
	}
	if err := s.access.canReviewAlert(p, current); err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return nil, &ConflictError{Code: CodeAlertClosed, Message: "Alert has already been closed"}
	}

	updated, err := s.alerts.UpdateStatus(ctx, id, req.Status, p.UserID, req.Notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// closed by another reviewer in between
			return nil, &ConflictError{Code: CodeAlertClosed, Message: "Alert has already been closed"}
		}
		return nil, storageError("failed to update alert", err)
	}

	var evidence models.AlertEvidence
	if len(updated.Evidence) > 0 {
		if err := json.Unmarshal(updated.Evidence, &evidence); err != nil {
			s.log.WithError(err).WithField("alert_id", id).Warn("alert evidence is not readable")
		}
	}
	verdict := map[string]any{
		"alert_id":    updated.ID.String(),
		"status":      string(updated.Status),
		"reviewed_by": p.UserID.String(),
		"reviewed_at": s.now().UTC().Format(time.RFC3339),
	}
	if req.Notes != "" {
		verdict["notes"] = req.Notes
	}
	if err := s.events.StampReview(ctx, evidence.EventIDs, verdict); err != nil {
		s.log.WithError(err).WithField("alert_id", id).Warn("failed to stamp review verdict on events")
	}

	s.log.WithFields(logrus.Fields{
		"alert_id": id,
		"status":   updated.Status,
		"by":       p.UserID,
	}).Info("alert reviewed")

	return updated, nil
}
