package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vigil-backend/internal/models"
)

const (
	fingerprintLookback = 24 * time.Hour
	maintenanceTimeout  = 2 * time.Minute
	durationLookup      = 10 * time.Second

	ReasonDurationMissing = "duration_missing"
)

type staleReclaimer interface {
	DeactivateStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type anomalySweeper interface {
	SweepConcurrent(ctx context.Context, since time.Time) (int, error)
	SweepFingerprints(ctx context.Context, since time.Time) (int, error)
}

type missingDurationLister interface {
	ListMissingDuration(ctx context.Context, orgID *uuid.UUID) ([]*models.VideoLesson, error)
}

type durationResolver interface {
	Resolve(ctx context.Context, ref string) (float64, error)
}

// MaintenanceService runs the periodic integrity pass: it reclaims stale
// sessions, runs the cross-session sweeps and reports unmeasurable lessons.
type MaintenanceService struct {
	sessions  staleReclaimer
	sweeper   anomalySweeper
	lessons   missingDurationLister
	resolver  durationResolver
	timeout   time.Duration
	scheduler *gocron.Scheduler
	mu        sync.Mutex
	now       func() time.Time
	log       *logrus.Entry
}

func NewMaintenanceService(
	sessions staleReclaimer,
	sweeper anomalySweeper,
	lessons missingDurationLister,
	resolver durationResolver,
	heartbeatTimeout time.Duration,
	logger *logrus.Logger,
) *MaintenanceService {
	return &MaintenanceService{
		sessions: sessions,
		sweeper:  sweeper,
		lessons:  lessons,
		resolver: resolver,
		timeout:  heartbeatTimeout,
		now:      time.Now,
		log:      logger.WithField("component", "maintenance"),
	}
}

// Start schedules RunOnce every interval. A zero interval disables the schedule.
func (s *MaintenanceService) Start(interval time.Duration) error {
	if interval <= 0 {
		s.log.Info("maintenance schedule disabled")
		return nil
	}

	s.scheduler = gocron.NewScheduler(time.UTC)
	s.scheduler.SingletonModeAll()
	if _, err := s.scheduler.Every(interval).Do(s.runScheduled); err != nil {
		return fmt.Errorf("failed to schedule maintenance: %w", err)
	}
	s.scheduler.StartAsync()

	s.log.WithField("interval", interval.String()).Info("maintenance scheduler started")
	return nil
}

func (s *MaintenanceService) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

func (s *MaintenanceService) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()

	report, err := s.RunOnce(ctx)
	entry := s.log.WithFields(logrus.Fields{
		"stale_sessions":     report.StaleSessionsClosed,
		"concurrent_alerts":  report.ConcurrentAlerts,
		"fingerprint_alerts": report.FingerprintAlerts,
		"lessons_attention":  len(report.LessonsNeedingAttention),
	})
	if err != nil {
		entry.WithError(err).Error("maintenance pass finished with errors")
		return
	}
	entry.Info("maintenance pass finished")
}

// RunOnce performs one full pass. Steps are independent: a failing step is
// reported and the rest still run.
func (s *MaintenanceService) RunOnce(ctx context.Context) (*models.MaintenanceReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	report := &models.MaintenanceReport{RanAt: now}
	var errs []error

	closed, err := s.sessions.DeactivateStale(ctx, now.Add(-s.timeout))
	if err != nil {
		errs = append(errs, fmt.Errorf("reclaim stale sessions: %w", err))
	}
	report.StaleSessionsClosed = closed

	concurrent, err := s.sweeper.SweepConcurrent(ctx, now.Add(-s.timeout))
	if err != nil {
		errs = append(errs, fmt.Errorf("concurrent viewing sweep: %w", err))
	}
	report.ConcurrentAlerts = concurrent

	shared, err := s.sweeper.SweepFingerprints(ctx, now.Add(-fingerprintLookback))
	if err != nil {
		errs = append(errs, fmt.Errorf("fingerprint sweep: %w", err))
	}
	report.FingerprintAlerts = shared

	attention, err := s.attention(ctx, nil)
	if err != nil {
		errs = append(errs, fmt.Errorf("lessons needing attention: %w", err))
	}
	report.LessonsNeedingAttention = attention

	for _, e := range errs {
		report.Errors = append(report.Errors, e.Error())
	}
	return report, errors.Join(errs...)
}

// LessonsNeedingAttention lists lessons whose progress cannot be measured,
// scoped to the reviewer's organization.
func (s *MaintenanceService) LessonsNeedingAttention(ctx context.Context, p models.Principal) ([]models.LessonAttention, error) {
	scope, err := orgScope(p)
	if err != nil {
		return nil, err
	}
	out, err := s.attention(ctx, scope)
	if err != nil {
		return nil, storageError("failed to list lessons", err)
	}
	return out, nil
}

func (s *MaintenanceService) attention(ctx context.Context, orgID *uuid.UUID) ([]models.LessonAttention, error) {
	lessons, err := s.lessons.ListMissingDuration(ctx, orgID)
	if err != nil {
		return []models.LessonAttention{}, err
	}

	out := make([]models.LessonAttention, 0, len(lessons))
	for _, l := range lessons {
		out = append(out, attentionFor(l, s.suggestDuration(ctx, l)))
	}
	return out, nil
}

func (s *MaintenanceService) suggestDuration(ctx context.Context, l *models.VideoLesson) *float64 {
	if s.resolver == nil {
		return nil
	}
	if _, ok := ExtractVideoID(l.VideoRef); !ok {
		return nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, durationLookup)
	defer cancel()

	seconds, err := s.resolver.Resolve(lookupCtx, l.VideoRef)
	if err != nil {
		s.log.WithError(err).WithField("lesson_id", l.ID).Debug("duration lookup failed")
		return nil
	}
	return &seconds
}

func attentionFor(l *models.VideoLesson, suggested *float64) models.LessonAttention {
	return models.LessonAttention{
		LessonID:                 l.ID,
		Title:                    l.Title,
		VideoRef:                 l.VideoRef,
		Reason:                   ReasonDurationMissing,
		SuggestedDurationSeconds: suggested,
	}
}
