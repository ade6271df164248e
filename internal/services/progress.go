package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"vigil-backend/internal/grading"
	"vigil-backend/internal/models"
	"vigil-backend/internal/progress"
)

type progressLessonReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.VideoLesson, error)
	ListByOrganization(ctx context.Context, orgID *uuid.UUID) ([]*models.VideoLesson, error)
}

type pairEventReader interface {
	ListForPair(ctx context.Context, userID, lessonID uuid.UUID) ([]models.ViewingEvent, error)
}

type progressStore interface {
	Get(ctx context.Context, userID, lessonID uuid.UUID) (*models.VideoProgress, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.VideoProgress, error)
	ListForLesson(ctx context.Context, lessonID uuid.UUID) ([]*models.VideoProgress, error)
	Recompute(ctx context.Context, userID, lessonID uuid.UUID, fn func(prev models.VideoProgress) (models.VideoProgress, error)) (*models.VideoProgress, error)
	SetGradeContribution(ctx context.Context, userID, lessonID uuid.UUID, contribution float64) error
}

type livePublisher interface {
	PublishToUser(ctx context.Context, userID uuid.UUID, msg models.WSMessage)
	PublishAlert(ctx context.Context, orgID *uuid.UUID, msg models.WSMessage)
}

type ProgressService struct {
	lessons   progressLessonReader
	events    pairEventReader
	store     progressStore
	publisher livePublisher
	access    accessPolicy
	now       func() time.Time
	log       *logrus.Entry
}

func NewProgressService(
	lessons progressLessonReader,
	events pairEventReader,
	store progressStore,
	members membershipChecker,
	publisher livePublisher,
	logger *logrus.Logger,
) *ProgressService {
	return &ProgressService{
		lessons:   lessons,
		events:    events,
		store:     store,
		publisher: publisher,
		access:    accessPolicy{members: members},
		now:       time.Now,
		log:       logger.WithField("component", "progress"),
	}
}

// Recompute rebuilds the pair's progress from its full event log and stores it
// under a row lock. Stored totals never decrease.
func (s *ProgressService) Recompute(ctx context.Context, pair models.PairKey) (*models.VideoProgress, error) {
	lesson, err := s.lessons.GetByID(ctx, pair.LessonID)
	if err != nil {
		return nil, storageError("failed to load lesson", err)
	}

	events, err := s.events.ListForPair(ctx, pair.UserID, pair.LessonID)
	if err != nil {
		return nil, storageError("failed to load events", err)
	}

	snap := progress.Compute(events, lesson)
	entry := s.log.WithFields(logrus.Fields{
		"user_id":   pair.UserID,
		"lesson_id": pair.LessonID,
	})
	if snap.DurationMissing {
		entry.Warn("lesson has no duration, completion stays at 0")
	}

	now := s.now().UTC()
	stored, err := s.store.Recompute(ctx, pair.UserID, pair.LessonID, func(prev models.VideoProgress) (models.VideoProgress, error) {
		next, regressed := progress.Apply(prev, snap, lesson.MinCompletionPercent, now)
		if regressed {
			entry.WithFields(logrus.Fields{
				"stored_seconds":     prev.TotalWatchedSeconds,
				"recomputed_seconds": snap.TotalWatchedSeconds,
				"stored_completion":  prev.CompletionPercentage,
				"recomputed":         snap.CompletionPercentage,
			}).Error("recomputed progress is lower than stored progress, keeping stored values")
		}
		next.GradeContribution = grading.Grade(next, lesson.GradeConfig()).GradeContribution
		return next, nil
	})
	if err != nil {
		return nil, storageError("failed to store progress", err)
	}

	s.publisher.PublishToUser(ctx, pair.UserID, models.WSMessage{
		Type: "progress_updated",
		Payload: models.ProgressUpdated{
			LessonID:             stored.LessonID,
			TotalWatchedSeconds:  stored.TotalWatchedSeconds,
			CompletionPercentage: stored.CompletionPercentage,
			IsCompleted:          stored.IsCompleted,
			GradeContribution:    stored.GradeContribution,
		},
	})

	return stored, nil
}

// Get returns the pair's progress. A learner who never watched gets a zero row.
func (s *ProgressService) Get(ctx context.Context, p models.Principal, userID, lessonID uuid.UUID) (*models.VideoProgress, error) {
	if err := s.access.canViewUser(ctx, p, userID); err != nil {
		return nil, err
	}

	lesson, err := s.lessons.GetByID(ctx, lessonID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Message: "Lesson not found"}
		}
		return nil, storageError("failed to load lesson", err)
	}
	if err := s.access.canViewLesson(p, userID, lesson); err != nil {
		return nil, err
	}

	row, err := s.store.Get(ctx, userID, lessonID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, storageError("failed to load progress", err)
		}
		return &models.VideoProgress{UserID: userID, LessonID: lessonID}, nil
	}
	return row, nil
}

func (s *ProgressService) List(ctx context.Context, p models.Principal, userID uuid.UUID) ([]*models.VideoProgress, error) {
	if err := s.access.canViewUser(ctx, p, userID); err != nil {
		return nil, err
	}
	rows, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, storageError("failed to list progress", err)
	}

	scope := readScope(p, userID)
	if scope == nil {
		return rows, nil
	}
	lessons, err := s.lessons.ListByOrganization(ctx, scope)
	if err != nil {
		return nil, storageError("failed to list organization lessons", err)
	}
	visible := make(map[uuid.UUID]bool, len(lessons))
	for _, l := range lessons {
		visible[l.ID] = true
	}
	out := make([]*models.VideoProgress, 0, len(rows))
	for _, r := range rows {
		if visible[r.LessonID] {
			out = append(out, r)
		}
	}
	return out, nil
}
