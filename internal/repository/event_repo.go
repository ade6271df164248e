package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vigil-backend/internal/anomaly"
	"vigil-backend/internal/models"
)

type EventRepo struct {
	pool *pgxpool.Pool
}

func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

const (
	eventColumns = `id, seq, session_id, user_id, lesson_id, event_type, timestamp_in_video,
	client_timestamp, received_at, is_tab_visible, playback_rate, volume, additional_data, fingerprint`

	findingsKey = "_findings"
	reviewKey   = "_review"
)

var copyColumns = []string{
	"id", "session_id", "user_id", "lesson_id", "event_type", "timestamp_in_video",
	"client_timestamp", "received_at", "is_tab_visible", "playback_rate", "volume",
	"additional_data", "fingerprint",
}

// AppendBatch writes the whole batch with a single COPY, so it lands all or nothing.
// seq is assigned by the database in row order.
func (r *EventRepo) AppendBatch(ctx context.Context, events []models.ViewingEvent) error {
	rows := make([][]any, 0, len(events))
	for _, ev := range events {
		data := ev.AdditionalData
		if data == nil {
			data = map[string]any{}
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to encode additional_data: %w", err)
		}
		rows = append(rows, []any{
			ev.ID, ev.SessionID, ev.UserID, ev.LessonID, string(ev.EventType), ev.TimestampInVideo,
			ev.ClientTimestamp, ev.ReceivedAt, ev.IsTabVisible, ev.PlaybackRate, ev.Volume,
			raw, ev.Fingerprint,
		})
	}

	n, err := r.pool.CopyFrom(ctx, pgx.Identifier{"viewing_events"}, copyColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to append events: %w", err)
	}
	if int(n) != len(events) {
		return fmt.Errorf("appended %d of %d events", n, len(events))
	}
	return nil
}

func scanEvents(rows pgx.Rows) ([]models.ViewingEvent, error) {
	defer rows.Close()

	var events []models.ViewingEvent
	for rows.Next() {
		var (
			ev  models.ViewingEvent
			typ string
			raw []byte
		)
		if err := rows.Scan(
			&ev.ID, &ev.Seq, &ev.SessionID, &ev.UserID, &ev.LessonID, &typ, &ev.TimestampInVideo,
			&ev.ClientTimestamp, &ev.ReceivedAt, &ev.IsTabVisible, &ev.PlaybackRate, &ev.Volume,
			&raw, &ev.Fingerprint,
		); err != nil {
			return nil, err
		}
		ev.EventType = models.EventType(typ)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &ev.AdditionalData)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListForPair returns every event of the pair in seq order.
func (r *EventRepo) ListForPair(ctx context.Context, userID, lessonID uuid.UUID) ([]models.ViewingEvent, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+eventColumns+`
		FROM viewing_events
		WHERE user_id = $1 AND lesson_id = $2
		ORDER BY seq`, userID, lessonID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (r *EventRepo) ListForSession(ctx context.Context, sessionID uuid.UUID) ([]models.ViewingEvent, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+eventColumns+`
		FROM viewing_events
		WHERE session_id = $1
		ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// AppendFinding adds a finding to the _findings list in each event's annotation bag.
func (r *EventRepo) AppendFinding(ctx context.Context, ids []uuid.UUID, finding map[string]any) error {
	if len(ids) == 0 {
		return nil
	}
	raw, err := json.Marshal([]any{finding})
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE viewing_events
		SET additional_data = jsonb_set(
			additional_data,
			ARRAY[$2::text],
			COALESCE(additional_data->$2, '[]'::jsonb) || $3::jsonb
		)
		WHERE id = ANY($1)
	`, ids, findingsKey, raw)
	return err
}

// StampReview records a reviewer verdict under _review, replacing any earlier one.
func (r *EventRepo) StampReview(ctx context.Context, ids []uuid.UUID, verdict map[string]any) error {
	if len(ids) == 0 {
		return nil
	}
	raw, err := json.Marshal(verdict)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE viewing_events
		SET additional_data = additional_data || jsonb_build_object($2::text, $3::jsonb)
		WHERE id = ANY($1)
	`, ids, reviewKey, raw)
	return err
}

// ListSharedFingerprintUses returns uses of fingerprints reported by more than one user since the cutoff.
func (r *EventRepo) ListSharedFingerprintUses(ctx context.Context, since time.Time) ([]anomaly.FingerprintUse, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT fingerprint, user_id, lesson_id, session_id, COUNT(*)
		FROM viewing_events
		WHERE fingerprint <> ''
		  AND received_at >= $1
		  AND fingerprint IN (
			SELECT fingerprint
			FROM viewing_events
			WHERE fingerprint <> '' AND received_at >= $1
			GROUP BY fingerprint
			HAVING COUNT(DISTINCT user_id) > 1
		  )
		GROUP BY fingerprint, user_id, lesson_id, session_id
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uses []anomaly.FingerprintUse
	for rows.Next() {
		var u anomaly.FingerprintUse
		if err := rows.Scan(&u.Fingerprint, &u.UserID, &u.LessonID, &u.SessionID, &u.Events); err != nil {
			return nil, err
		}
		uses = append(uses, u)
	}
	return uses, rows.Err()
}
