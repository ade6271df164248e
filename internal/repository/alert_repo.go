package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"vigil-backend/internal/models"
)

type AlertRepo struct {
	pool *pgxpool.Pool
}

func NewAlertRepo(pool *pgxpool.Pool) *AlertRepo {
	return &AlertRepo{pool: pool}
}

const alertColumns = `id, user_id, lesson_id, organization_id, alert_type, severity, description, evidence,
	status, trigger_count, reviewed_by, review_notes, reviewed_at, created_at, updated_at`

func scanAlert(row pgx.Row) (*models.SecurityAlert, error) {
	a := &models.SecurityAlert{}
	var typ, severity, status string
	err := row.Scan(
		&a.ID, &a.UserID, &a.LessonID, &a.OrganizationID, &typ, &severity, &a.Description, &a.Evidence,
		&status, &a.TriggerCount, &a.ReviewedBy, &a.ReviewNotes, &a.ReviewedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.AlertType = models.AlertType(typ)
	a.Severity = models.Severity(severity)
	a.Status = models.AlertStatus(status)
	return a, nil
}

// Raise upserts the active alert for (user, lesson, type). A re-trigger refreshes
// evidence on the existing alert and never lowers its severity. A brand-new
// alert also bumps the pair's suspicious activity counter in the same transaction.
func (r *AlertRepo) Raise(ctx context.Context, a *models.SecurityAlert) (created bool, err error) {
	// A concurrent insert of the same active alert loses on the unique index; retry once as an update
	for attempt := 0; attempt < 2; attempt++ {
		created, err = r.raiseOnce(ctx, a)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			continue
		}
		return created, err
	}
	return created, err
}

func (r *AlertRepo) raiseOnce(ctx context.Context, a *models.SecurityAlert) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin alert transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if len(a.Evidence) == 0 {
		a.Evidence = json.RawMessage("{}")
	}

	existing, err := scanAlert(tx.QueryRow(ctx, "SELECT "+alertColumns+`
		FROM security_alerts
		WHERE user_id = $1 AND lesson_id = $2 AND alert_type = $3 AND status = 'active'
		FOR UPDATE`, a.UserID, a.LessonID, string(a.AlertType)))

	created := false
	var stored *models.SecurityAlert

	switch {
	case err == nil:
		existing.Retrigger(a)
		stored, err = scanAlert(tx.QueryRow(ctx, `
			UPDATE security_alerts
			SET severity = $2,
				description = $3,
				evidence = $4,
				trigger_count = $5,
				updated_at = NOW()
			WHERE id = $1
			RETURNING `+alertColumns,
			existing.ID, string(existing.Severity), existing.Description, []byte(existing.Evidence), existing.TriggerCount,
		))
		if err != nil {
			return false, fmt.Errorf("failed to refresh alert: %w", err)
		}
	case errors.Is(err, pgx.ErrNoRows):
		stored, err = scanAlert(tx.QueryRow(ctx, `
			INSERT INTO security_alerts (user_id, lesson_id, organization_id, alert_type, severity, description, evidence)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+alertColumns,
			a.UserID, a.LessonID, a.OrganizationID, string(a.AlertType), string(a.Severity), a.Description, []byte(a.Evidence),
		))
		if err != nil {
			return false, fmt.Errorf("failed to insert alert: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO video_progress (user_id, lesson_id, suspicious_activity_count)
			VALUES ($1, $2, 1)
			ON CONFLICT (user_id, lesson_id)
			DO UPDATE SET suspicious_activity_count = video_progress.suspicious_activity_count + 1
		`, a.UserID, a.LessonID); err != nil {
			return false, fmt.Errorf("failed to bump suspicious activity count: %w", err)
		}
		created = true
	default:
		return false, fmt.Errorf("failed to look up active alert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit alert: %w", err)
	}

	*a = *stored
	return created, nil
}

func (r *AlertRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.SecurityAlert, error) {
	return scanAlert(r.pool.QueryRow(ctx, "SELECT "+alertColumns+" FROM security_alerts WHERE id = $1", id))
}

func (r *AlertRepo) List(ctx context.Context, f models.AlertFilter) ([]*models.SecurityAlert, int, error) {
	var args []interface{}
	argIdx := 1
	where := "WHERE TRUE"

	add := func(clause string, val interface{}) {
		where += fmt.Sprintf(" AND "+clause, argIdx)
		args = append(args, val)
		argIdx++
	}

	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.AlertType != nil {
		add("alert_type = $%d", string(*f.AlertType))
	}
	if f.Severity != nil {
		add("severity = $%d", string(*f.Severity))
	}
	if f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	if f.LessonID != nil {
		add("lesson_id = $%d", *f.LessonID)
	}
	if f.OrganizationID != nil {
		add("organization_id = $%d", *f.OrganizationID)
	}

	// Count total
	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM security_alerts "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT %s FROM security_alerts %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d",
		alertColumns, where, argIdx, argIdx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	alerts := make([]*models.SecurityAlert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		alerts = append(alerts, a)
	}
	return alerts, total, rows.Err()
}

// UpdateStatus moves an active alert to status. pgx.ErrNoRows means the alert is
// missing or already terminal.
func (r *AlertRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.AlertStatus, reviewer uuid.UUID, notes string) (*models.SecurityAlert, error) {
	var notesArg *string
	if notes != "" {
		notesArg = &notes
	}
	return scanAlert(r.pool.QueryRow(ctx, `
		UPDATE security_alerts
		SET status = $2,
			reviewed_by = $3,
			review_notes = $4,
			reviewed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
		  AND status = 'active'
		RETURNING `+alertColumns,
		id, string(status), reviewer, notesArg,
	))
}
