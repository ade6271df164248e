package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vigil-backend/internal/models"
)

type ProgressRepo struct {
	pool *pgxpool.Pool
}

func NewProgressRepo(pool *pgxpool.Pool) *ProgressRepo {
	return &ProgressRepo{pool: pool}
}

const progressColumns = `user_id, lesson_id, total_watched_seconds, completion_percentage, is_completed,
	first_watch_started, last_watch_updated, suspicious_activity_count, grade_contribution`

func scanProgress(row pgx.Row) (*models.VideoProgress, error) {
	p := &models.VideoProgress{}
	err := row.Scan(
		&p.UserID, &p.LessonID, &p.TotalWatchedSeconds, &p.CompletionPercentage, &p.IsCompleted,
		&p.FirstWatchStarted, &p.LastWatchUpdated, &p.SuspiciousActivityCount, &p.GradeContribution,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *ProgressRepo) Get(ctx context.Context, userID, lessonID uuid.UUID) (*models.VideoProgress, error) {
	return scanProgress(r.pool.QueryRow(ctx,
		"SELECT "+progressColumns+" FROM video_progress WHERE user_id = $1 AND lesson_id = $2",
		userID, lessonID,
	))
}

func (r *ProgressRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.VideoProgress, error) {
	return r.list(ctx, "SELECT "+progressColumns+" FROM video_progress WHERE user_id = $1 ORDER BY lesson_id", userID)
}

func (r *ProgressRepo) ListForLesson(ctx context.Context, lessonID uuid.UUID) ([]*models.VideoProgress, error) {
	return r.list(ctx, "SELECT "+progressColumns+" FROM video_progress WHERE lesson_id = $1 ORDER BY user_id", lessonID)
}

func (r *ProgressRepo) list(ctx context.Context, query string, arg uuid.UUID) ([]*models.VideoProgress, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.VideoProgress, 0)
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Recompute locks the pair's row (creating it if needed), hands the current
// values to fn and stores what fn returns. Concurrent recomputes of one pair
// serialize on the row lock.
func (r *ProgressRepo) Recompute(ctx context.Context, userID, lessonID uuid.UUID, fn func(prev models.VideoProgress) (models.VideoProgress, error)) (*models.VideoProgress, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin progress transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO video_progress (user_id, lesson_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, lesson_id) DO NOTHING
	`, userID, lessonID); err != nil {
		return nil, fmt.Errorf("failed to create progress row: %w", err)
	}

	prev, err := scanProgress(tx.QueryRow(ctx,
		"SELECT "+progressColumns+" FROM video_progress WHERE user_id = $1 AND lesson_id = $2 FOR UPDATE",
		userID, lessonID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to lock progress row: %w", err)
	}

	next, err := fn(*prev)
	if err != nil {
		return nil, err
	}

	stored, err := scanProgress(tx.QueryRow(ctx, `
		UPDATE video_progress
		SET total_watched_seconds = $3,
			completion_percentage = $4,
			is_completed = $5,
			first_watch_started = $6,
			last_watch_updated = $7,
			grade_contribution = $8
		WHERE user_id = $1 AND lesson_id = $2
		RETURNING `+progressColumns,
		userID, lessonID, next.TotalWatchedSeconds, next.CompletionPercentage, next.IsCompleted,
		next.FirstWatchStarted, next.LastWatchUpdated, next.GradeContribution,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to store progress: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit progress: %w", err)
	}

	return stored, nil
}

func (r *ProgressRepo) SetGradeContribution(ctx context.Context, userID, lessonID uuid.UUID, contribution float64) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE video_progress SET grade_contribution = $3 WHERE user_id = $1 AND lesson_id = $2",
		userID, lessonID, contribution,
	)
	return err
}
