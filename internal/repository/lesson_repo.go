package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vigil-backend/internal/models"
)

type LessonRepo struct {
	pool *pgxpool.Pool
}

func NewLessonRepo(pool *pgxpool.Pool) *LessonRepo {
	return &LessonRepo{pool: pool}
}

const lessonColumns = `id, organization_id, title, video_ref, duration_seconds, weight,
	min_completion_percent, penalty_rate, bonus_rate, created_at, updated_at`

func scanLesson(row pgx.Row) (*models.VideoLesson, error) {
	l := &models.VideoLesson{}
	err := row.Scan(
		&l.ID, &l.OrganizationID, &l.Title, &l.VideoRef, &l.DurationSeconds, &l.Weight,
		&l.MinCompletionPercent, &l.PenaltyRate, &l.BonusRate, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func collectLessons(rows pgx.Rows) ([]*models.VideoLesson, error) {
	defer rows.Close()

	lessons := make([]*models.VideoLesson, 0)
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, err
		}
		lessons = append(lessons, l)
	}
	return lessons, rows.Err()
}

func (r *LessonRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.VideoLesson, error) {
	return scanLesson(r.pool.QueryRow(ctx, "SELECT "+lessonColumns+" FROM video_lessons WHERE id = $1", id))
}

func (r *LessonRepo) UpdateGradeConfig(ctx context.Context, id uuid.UUID, cfg models.GradeConfig) (*models.VideoLesson, error) {
	return scanLesson(r.pool.QueryRow(ctx, `
		UPDATE video_lessons
		SET weight = $2,
			min_completion_percent = $3,
			penalty_rate = $4,
			bonus_rate = $5,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+lessonColumns,
		id, cfg.Weight, cfg.MinCompletionPercent, cfg.PenaltyRate, cfg.BonusRate,
	))
}

// ListForUser returns lessons of the user's organizations plus any lesson the user has progress on.
func (r *LessonRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.VideoLesson, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+lessonColumns+`
		FROM video_lessons
		WHERE organization_id IN (SELECT organization_id FROM organization_members WHERE user_id = $1)
		   OR id IN (SELECT lesson_id FROM video_progress WHERE user_id = $1)
		ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	return collectLessons(rows)
}

// ListByOrganization lists every lesson when orgID is nil.
func (r *LessonRepo) ListByOrganization(ctx context.Context, orgID *uuid.UUID) ([]*models.VideoLesson, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+lessonColumns+`
		FROM video_lessons
		WHERE $1::uuid IS NULL OR organization_id = $1
		ORDER BY created_at, id`, orgID)
	if err != nil {
		return nil, err
	}
	return collectLessons(rows)
}

func (r *LessonRepo) ListMissingDuration(ctx context.Context, orgID *uuid.UUID) ([]*models.VideoLesson, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+lessonColumns+`
		FROM video_lessons
		WHERE duration_seconds <= 0
		  AND ($1::uuid IS NULL OR organization_id = $1)
		ORDER BY created_at, id`, orgID)
	if err != nil {
		return nil, err
	}
	return collectLessons(rows)
}
