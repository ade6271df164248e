package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vigil-backend/internal/models"
)

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

const sessionColumns = `id, token, user_id, lesson_id, started_at, last_heartbeat_at, last_seen_at,
	is_active, ended_at, end_reason, tab_id, user_agent, ip_address`

func scanSession(row pgx.Row) (*models.ViewingSession, error) {
	s := &models.ViewingSession{}
	err := row.Scan(
		&s.ID, &s.Token, &s.UserID, &s.LessonID, &s.StartedAt, &s.LastHeartbeatAt, &s.LastSeenAt,
		&s.IsActive, &s.EndedAt, &s.EndReason,
		&s.Fingerprint.TabID, &s.Fingerprint.UserAgent, &s.Fingerprint.IPAddress,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Start supersedes every active session for the pair and inserts s as the only
// active one. Both steps run in one transaction behind a per-pair advisory lock.
func (r *SessionRepo) Start(ctx context.Context, s *models.ViewingSession) (superseded int64, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin session transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	pairKey := s.UserID.String() + ":" + s.LessonID.String()
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", pairKey); err != nil {
		return 0, fmt.Errorf("failed to lock session pair: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE viewing_sessions
		SET is_active = FALSE,
			ended_at = NOW(),
			end_reason = 'superseded'
		WHERE user_id = $1
		  AND lesson_id = $2
		  AND is_active
	`, s.UserID, s.LessonID)
	if err != nil {
		return 0, fmt.Errorf("failed to supersede sessions: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO viewing_sessions (token, user_id, lesson_id, tab_id, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, started_at, last_heartbeat_at, last_seen_at, is_active
	`, s.Token, s.UserID, s.LessonID, s.Fingerprint.TabID, s.Fingerprint.UserAgent, s.Fingerprint.IPAddress).Scan(
		&s.ID,
		&s.StartedAt,
		&s.LastHeartbeatAt,
		&s.LastSeenAt,
		&s.IsActive,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit session: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (r *SessionRepo) GetByToken(ctx context.Context, token string) (*models.ViewingSession, error) {
	return scanSession(r.pool.QueryRow(ctx, "SELECT "+sessionColumns+" FROM viewing_sessions WHERE token = $1", token))
}

// Heartbeat refreshes an active session. pgx.ErrNoRows means it was deactivated meanwhile.
func (r *SessionRepo) Heartbeat(ctx context.Context, sessionID uuid.UUID) (time.Time, error) {
	var at time.Time
	err := r.pool.QueryRow(ctx, `
		UPDATE viewing_sessions
		SET last_heartbeat_at = NOW(),
			last_seen_at = NOW(),
			is_active = TRUE
		WHERE id = $1
		  AND is_active
		RETURNING last_heartbeat_at
	`, sessionID).Scan(&at)
	return at, err
}

// MarkSeen records client activity without reviving the session.
func (r *SessionRepo) MarkSeen(ctx context.Context, sessionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "UPDATE viewing_sessions SET last_seen_at = NOW() WHERE id = $1", sessionID)
	return err
}

// Deactivate is a no-op for sessions that are already inactive.
func (r *SessionRepo) Deactivate(ctx context.Context, sessionID uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE viewing_sessions
		SET is_active = FALSE,
			ended_at = COALESCE(ended_at, NOW()),
			end_reason = COALESCE(end_reason, $2)
		WHERE id = $1
		  AND is_active
	`, sessionID, reason)
	return err
}

func (r *SessionRepo) ListForPair(ctx context.Context, userID, lessonID uuid.UUID) ([]models.ViewingSession, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+sessionColumns+`
		FROM viewing_sessions
		WHERE user_id = $1 AND lesson_id = $2
		ORDER BY started_at`, userID, lessonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.ViewingSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// DeactivateStale times out every active session without a heartbeat since cutoff.
func (r *SessionRepo) DeactivateStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE viewing_sessions
		SET is_active = FALSE,
			ended_at = NOW(),
			end_reason = 'timeout'
		WHERE is_active
		  AND last_heartbeat_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListPairsWithLiveSessions returns pairs with more than one session seen since the cutoff.
func (r *SessionRepo) ListPairsWithLiveSessions(ctx context.Context, since time.Time) ([]models.PairKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, lesson_id
		FROM viewing_sessions
		WHERE last_seen_at >= $1
		GROUP BY user_id, lesson_id
		HAVING COUNT(*) > 1
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []models.PairKey
	for rows.Next() {
		var p models.PairKey
		if err := rows.Scan(&p.UserID, &p.LessonID); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}
