package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"vigil-backend/internal/grading"
	"vigil-backend/internal/models"
)

type lessonConfigStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.VideoLesson, error)
	UpdateGradeConfig(ctx context.Context, id uuid.UUID, cfg models.GradeConfig) (*models.VideoLesson, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.VideoLesson, error)
}

type GradingService struct {
	lessons  lessonConfigStore
	progress progressStore
	queue    recomputeScheduler
	access   accessPolicy
	log      *logrus.Entry
}

func NewGradingService(lessons lessonConfigStore, progress progressStore, members membershipChecker, queue recomputeScheduler, logger *logrus.Logger) *GradingService {
	return &GradingService{
		lessons:  lessons,
		progress: progress,
		queue:    queue,
		access:   accessPolicy{members: members},
		log:      logger.WithField("component", "grading"),
	}
}

// gradeFor grades against the lesson's current config, so a changed threshold
// applies before the next recompute rewrites is_completed.
func gradeFor(p models.VideoProgress, lesson *models.VideoLesson) models.VideoGradeResult {
	cfg := lesson.GradeConfig()
	p.IsCompleted = lesson.DurationSeconds > 0 && p.CompletionPercentage >= cfg.MinCompletionPercent
	return grading.Grade(p, cfg)
}

func (s *GradingService) GetLessonGrade(ctx context.Context, p models.Principal, userID, lessonID uuid.UUID) (*models.VideoGradeResult, error) {
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

	row, err := s.progress.Get(ctx, userID, lessonID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, storageError("failed to load progress", err)
		}
		row = &models.VideoProgress{UserID: userID, LessonID: lessonID}
	}

	result := gradeFor(*row, lesson)
	return &result, nil
}

// GetTotalGrade grades every lesson visible to the learner. Lessons without
// progress count as zero toward the total. An org_admin only sees lessons of
// its own organization in the total.
func (s *GradingService) GetTotalGrade(ctx context.Context, p models.Principal, userID uuid.UUID) (*models.TotalVideoGrade, error) {
	if err := s.access.canViewUser(ctx, p, userID); err != nil {
		return nil, err
	}

	lessons, err := s.lessons.ListForUser(ctx, userID)
	if err != nil {
		return nil, storageError("failed to list lessons", err)
	}
	rows, err := s.progress.ListForUser(ctx, userID)
	if err != nil {
		return nil, storageError("failed to list progress", err)
	}

	byLesson := make(map[uuid.UUID]*models.VideoProgress, len(rows))
	for _, r := range rows {
		byLesson[r.LessonID] = r
	}

	results := make([]models.VideoGradeResult, 0, len(lessons))
	for _, lesson := range lessons {
		if s.access.canViewLesson(p, userID, lesson) != nil {
			continue
		}
		row, ok := byLesson[lesson.ID]
		if !ok {
			row = &models.VideoProgress{UserID: userID, LessonID: lesson.ID}
		}
		results = append(results, gradeFor(*row, lesson))
	}

	total := grading.Total(userID, results)
	return &total, nil
}

// UpdateLessonGradeConfig changes a lesson's grading knobs and refreshes the
// cached contribution of every learner of that lesson.
func (s *GradingService) UpdateLessonGradeConfig(ctx context.Context, p models.Principal, lessonID uuid.UUID, req models.UpdateGradeConfigRequest) (*models.VideoLesson, error) {
	lesson, err := s.lessons.GetByID(ctx, lessonID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Message: "Lesson not found"}
		}
		return nil, storageError("failed to load lesson", err)
	}

	if err := s.access.canManageLesson(p, lesson); err != nil {
		return nil, err
	}

	cfg := grading.Merge(lesson.GradeConfig(), req)
	if fields := grading.Validate(cfg); len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	updated, err := s.lessons.UpdateGradeConfig(ctx, lessonID, cfg)
	if err != nil {
		return nil, storageError("failed to update grade config", err)
	}

	rows, err := s.progress.ListForLesson(ctx, lessonID)
	if err != nil {
		s.log.WithError(err).WithField("lesson_id", lessonID).Error("failed to list progress for contribution refresh")
		return updated, nil
	}
	for _, row := range rows {
		contribution := gradeFor(*row, updated).GradeContribution
		if err := s.progress.SetGradeContribution(ctx, row.UserID, lessonID, contribution); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"user_id":   row.UserID,
				"lesson_id": lessonID,
			}).Warn("failed to refresh grade contribution")
		}
		if s.queue != nil {
			if err := s.queue.Schedule(ctx, models.PairKey{UserID: row.UserID, LessonID: lessonID}); err != nil {
				s.log.WithError(err).WithField("lesson_id", lessonID).Debug("failed to schedule recompute after config change")
			}
		}
	}

	s.log.WithFields(logrus.Fields{
		"lesson_id": lessonID,
		"by":        p.UserID,
		"learners":  len(rows),
	}).Info("lesson grade config updated")

	return updated, nil
}
