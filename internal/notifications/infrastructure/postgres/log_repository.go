package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	notifications "github.com/CodeFleck/sensorvision-sub010/internal/notifications/domain"
)

// LogRepository is a Postgres repository for the delivery log.
type LogRepository struct {
	db *sql.DB
}

// NewLogRepository constructs a repository.
func NewLogRepository(db *sql.DB) *LogRepository {
	return &LogRepository{db: db}
}

// Create inserts one delivery attempt.
func (r *LogRepository) Create(ctx context.Context, entry *notifications.NotificationLog) error {
	if r == nil || r.db == nil {
		return errors.New("notification log repo: nil db")
	}
	if entry == nil {
		return errors.New("notification log repo: nil entry")
	}
	if entry.ID == "" {
		return errors.New("notification log repo: empty id")
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO notification_logs (
	id, organization_id, user_id, channel, destination, subject, message,
	status, error, alert_id, global_alert_id, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12
)`,
		entry.ID, entry.OrganizationID, entry.UserID, entry.Channel,
		entry.Destination, entry.Subject, entry.Message, entry.Status,
		entry.Error, entry.AlertID, entry.GlobalAlertID, createdAt)
	return err
}

// ListByOrganization returns delivery attempts within a window, newest first.
func (r *LogRepository) ListByOrganization(ctx context.Context, organizationID string, from, to time.Time, limit int) ([]notifications.NotificationLog, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("notification log repo: nil db")
	}
	if organizationID == "" {
		return nil, errors.New("notification log repo: empty organization id")
	}
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, organization_id, user_id, channel, destination, subject, message,
       status, error, alert_id, global_alert_id, created_at
FROM notification_logs
WHERE organization_id = $1 AND created_at >= $2 AND created_at <= $3
ORDER BY created_at DESC
LIMIT $4`, organizationID, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []notifications.NotificationLog
	for rows.Next() {
		var entry notifications.NotificationLog
		if err := rows.Scan(
			&entry.ID,
			&entry.OrganizationID,
			&entry.UserID,
			&entry.Channel,
			&entry.Destination,
			&entry.Subject,
			&entry.Message,
			&entry.Status,
			&entry.Error,
			&entry.AlertID,
			&entry.GlobalAlertID,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
