package postgres

import (
	"context"
	"database/sql"
	"errors"

	notifications "github.com/CodeFleck/sensorvision-sub010/internal/notifications/domain"
)

// PreferenceRepository is a Postgres repository for notification preferences.
type PreferenceRepository struct {
	db *sql.DB
}

// NewPreferenceRepository constructs a repository.
func NewPreferenceRepository(db *sql.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

const preferenceColumns = `
id, user_id, organization_id, channel, enabled, destination, min_severity,
immediate, digest_interval_minutes, created_at, updated_at`

// GetByID loads a preference by id.
func (r *PreferenceRepository) GetByID(ctx context.Context, id string) (*notifications.NotificationPreference, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("preference repo: nil db")
	}
	if id == "" {
		return nil, errors.New("preference repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT`+preferenceColumns+`
FROM notification_preferences
WHERE id = $1
LIMIT 1`, id)
	return scanPreference(row)
}

// ListByUser returns a user's preferences.
func (r *PreferenceRepository) ListByUser(ctx context.Context, userID string) ([]notifications.NotificationPreference, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("preference repo: nil db")
	}
	if userID == "" {
		return nil, errors.New("preference repo: empty user id")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT`+preferenceColumns+`
FROM notification_preferences
WHERE user_id = $1
ORDER BY channel ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []notifications.NotificationPreference
	for rows.Next() {
		pref, err := scanPreference(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *pref)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Save upserts a preference.
func (r *PreferenceRepository) Save(ctx context.Context, pref *notifications.NotificationPreference) error {
	if r == nil || r.db == nil {
		return errors.New("preference repo: nil db")
	}
	if pref == nil {
		return errors.New("preference repo: nil preference")
	}
	if err := pref.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO notification_preferences (
	id, user_id, organization_id, channel, enabled, destination, min_severity,
	immediate, digest_interval_minutes, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11
)
ON CONFLICT (id)
DO UPDATE SET
	channel = EXCLUDED.channel,
	enabled = EXCLUDED.enabled,
	destination = EXCLUDED.destination,
	min_severity = EXCLUDED.min_severity,
	immediate = EXCLUDED.immediate,
	digest_interval_minutes = EXCLUDED.digest_interval_minutes,
	updated_at = EXCLUDED.updated_at`,
		pref.ID, pref.UserID, pref.OrganizationID, pref.Channel, pref.Enabled,
		pref.Destination, pref.MinSeverity, pref.Immediate,
		pref.DigestIntervalMinutes, pref.CreatedAt, pref.UpdatedAt)
	return err
}

// Delete removes a preference.
func (r *PreferenceRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("preference repo: nil db")
	}
	if id == "" {
		return errors.New("preference repo: empty id")
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM notification_preferences WHERE id = $1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPreference(row rowScanner) (*notifications.NotificationPreference, error) {
	var pref notifications.NotificationPreference
	if err := row.Scan(
		&pref.ID,
		&pref.UserID,
		&pref.OrganizationID,
		&pref.Channel,
		&pref.Enabled,
		&pref.Destination,
		&pref.MinSeverity,
		&pref.Immediate,
		&pref.DigestIntervalMinutes,
		&pref.CreatedAt,
		&pref.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &pref, nil
}
