package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vigil-backend/internal/anomaly"
	"vigil-backend/internal/models"
)

type sessionLister interface {
	ListForPair(ctx context.Context, userID, lessonID uuid.UUID) ([]models.ViewingSession, error)
	ListPairsWithLiveSessions(ctx context.Context, since time.Time) ([]models.PairKey, error)
}

type eventAnnotator interface {
	ListForSession(ctx context.Context, sessionID uuid.UUID) ([]models.ViewingEvent, error)
	AppendFinding(ctx context.Context, ids []uuid.UUID, finding map[string]any) error
	ListSharedFingerprintUses(ctx context.Context, since time.Time) ([]anomaly.FingerprintUse, error)
}

type alertRaiser interface {
	Raise(ctx context.Context, a *models.SecurityAlert) (bool, error)
}

type AnomalyService struct {
	sessions  sessionLister
	events    eventAnnotator
	lessons   lessonReader
	alerts    alertRaiser
	queue     recomputeScheduler
	publisher livePublisher
	cfg       anomaly.Config
	rules     []anomaly.Rule
	now       func() time.Time
	log       *logrus.Entry
}

func NewAnomalyService(
	sessions sessionLister,
	events eventAnnotator,
	lessons lessonReader,
	alerts alertRaiser,
	queue recomputeScheduler,
	publisher livePublisher,
	cfg anomaly.Config,
	logger *logrus.Logger,
) *AnomalyService {
	return &AnomalyService{
		sessions:  sessions,
		events:    events,
		lessons:   lessons,
		alerts:    alerts,
		queue:     queue,
		publisher: publisher,
		cfg:       cfg,
		rules:     anomaly.InlineRules(),
		now:       time.Now,
		log:       logger.WithField("component", "anomaly"),
	}
}

// Inspect runs the inline rules over one session and raises an alert per finding.
func (s *AnomalyService) Inspect(ctx context.Context, session *models.ViewingSession) ([]models.AlertType, error) {
	return s.evaluate(ctx, session, s.rules)
}

// CheckConcurrent evaluates only the concurrent-viewing rule. Ingest calls it
// when a superseded session keeps sending events.
func (s *AnomalyService) CheckConcurrent(ctx context.Context, session *models.ViewingSession) error {
	_, err := s.evaluate(ctx, session, []anomaly.Rule{anomaly.ConcurrentViewing})
	return err
}

func (s *AnomalyService) evaluate(ctx context.Context, session *models.ViewingSession, rules []anomaly.Rule) ([]models.AlertType, error) {
	w, err := s.window(ctx, session)
	if err != nil {
		return nil, err
	}

	var (
		raised []models.AlertType
		errs   []error
	)
	for _, c := range anomaly.Evaluate(w, s.cfg, rules) {
		sessionID := session.ID
		if err := s.raise(ctx, session.UserID, w.Lesson, c, &sessionID); err != nil {
			errs = append(errs, err)
			continue
		}
		raised = append(raised, c.Type)
	}
	return raised, errors.Join(errs...)
}

func (s *AnomalyService) window(ctx context.Context, session *models.ViewingSession) (anomaly.Window, error) {
	lesson, err := s.lessons.GetByID(ctx, session.LessonID)
	if err != nil {
		return anomaly.Window{}, fmt.Errorf("failed to load lesson: %w", err)
	}
	events, err := s.events.ListForSession(ctx, session.ID)
	if err != nil {
		return anomaly.Window{}, fmt.Errorf("failed to load session events: %w", err)
	}
	siblings, err := s.sessions.ListForPair(ctx, session.UserID, session.LessonID)
	if err != nil {
		return anomaly.Window{}, fmt.Errorf("failed to load sibling sessions: %w", err)
	}
	return anomaly.Window{
		Lesson:   lesson,
		Session:  session,
		Events:   events,
		Siblings: siblings,
		Now:      s.now(),
	}, nil
}

// raise upserts the alert, stamps the triggering events and notifies reviewers.
func (s *AnomalyService) raise(ctx context.Context, userID uuid.UUID, lesson *models.VideoLesson, c anomaly.Candidate, sessionID *uuid.UUID) error {
	evidence, err := json.Marshal(models.AlertEvidence{
		SessionID: sessionID,
		EventIDs:  c.EventIDs,
		Details:   c.Details,
	})
	if err != nil {
		return fmt.Errorf("failed to encode evidence: %w", err)
	}

	alert := &models.SecurityAlert{
		UserID:         userID,
		LessonID:       lesson.ID,
		OrganizationID: lesson.OrganizationID,
		AlertType:      c.Type,
		Severity:       c.Severity,
		Description:    c.Description,
		Evidence:       evidence,
	}

	created, err := s.alerts.Raise(ctx, alert)
	if err != nil {
		return fmt.Errorf("failed to raise %s alert: %w", c.Type, err)
	}

	entry := s.log.WithFields(logrus.Fields{
		"user_id":    userID,
		"lesson_id":  lesson.ID,
		"alert_id":   alert.ID,
		"alert_type": c.Type,
		"severity":   alert.Severity,
	})
	if created {
		entry.Info("security alert raised")
	} else {
		entry.WithField("trigger_count", alert.TriggerCount).Debug("security alert re-triggered")
	}

	finding := map[string]any{
		"alert_id":    alert.ID.String(),
		"alert_type":  string(c.Type),
		"severity":    string(c.Severity),
		"detected_at": s.now().UTC().Format(time.RFC3339),
	}
	if err := s.events.AppendFinding(ctx, c.EventIDs, finding); err != nil {
		entry.WithError(err).Warn("failed to stamp finding on events")
	}

	s.publisher.PublishAlert(ctx, alert.OrganizationID, models.WSMessage{
		Type: "alert_raised",
		Payload: models.AlertRaised{
			AlertID:   alert.ID,
			UserID:    alert.UserID,
			LessonID:  alert.LessonID,
			AlertType: alert.AlertType,
			Severity:  alert.Severity,
			Created:   created,
		},
	})

	// A new alert changes the penalty, so the cached grade contribution is stale.
	if created && s.queue != nil {
		pair := models.PairKey{UserID: userID, LessonID: lesson.ID}
		if err := s.queue.Schedule(ctx, pair); err != nil {
			entry.WithError(err).Warn("failed to schedule recompute after alert")
		}
	}
	return nil
}

// SweepConcurrent re-checks every pair with more than one session seen since the cutoff.
func (s *AnomalyService) SweepConcurrent(ctx context.Context, since time.Time) (int, error) {
	pairs, err := s.sessions.ListPairsWithLiveSessions(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("failed to list live pairs: %w", err)
	}

	var (
		raised int
		errs   []error
	)
	for _, pair := range pairs {
		sessions, err := s.sessions.ListForPair(ctx, pair.UserID, pair.LessonID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for i := range sessions {
			if s.now().Sub(sessions[i].LastSeenAt) > s.cfg.HeartbeatTimeout {
				continue
			}
			found, err := s.evaluate(ctx, &sessions[i], []anomaly.Rule{anomaly.ConcurrentViewing})
			if err != nil {
				errs = append(errs, err)
			}
			if len(found) > 0 {
				raised++
				break
			}
		}
	}
	return raised, errors.Join(errs...)
}

// SweepFingerprints raises automation alerts for identical client bags reported
// by different users since the cutoff. It scans the event log and is too costly
// to run inline.
func (s *AnomalyService) SweepFingerprints(ctx context.Context, since time.Time) (int, error) {
	uses, err := s.events.ListSharedFingerprintUses(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("failed to list fingerprint uses: %w", err)
	}

	lessons := make(map[uuid.UUID]*models.VideoLesson)
	var (
		raised int
		errs   []error
	)
	for _, shared := range anomaly.SharedFingerprints(uses, 2) {
		for _, use := range shared.Uses {
			lesson, ok := lessons[use.LessonID]
			if !ok {
				lesson, err = s.lessons.GetByID(ctx, use.LessonID)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				lessons[use.LessonID] = lesson
			}

			sessionID := use.SessionID
			c := anomaly.Candidate{
				Type:        models.AlertAutomationDetected,
				Severity:    models.SeverityCritical,
				Description: fmt.Sprintf("Identical client data reported by %d different users", shared.Users),
				Details: map[string]any{
					"fingerprint": shared.Fingerprint,
					"users":       shared.Users,
					"events":      use.Events,
				},
			}
			if err := s.raise(ctx, use.UserID, lesson, c, &sessionID); err != nil {
				errs = append(errs, err)
				continue
			}
			raised++
		}
	}
	return raised, errors.Join(errs...)
}
