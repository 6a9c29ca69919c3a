package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	rules "github.com/CodeFleck/sensorvision-sub010/internal/rules/domain"
)

// AlertRepository is a Postgres repository for alerts.
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

const alertColumns = `
id, rule_id, organization_id, device_external_id, variable_name, value,
threshold, severity, message, triggered_at, acknowledged, acknowledged_at,
created_at`

// Create inserts an alert.
func (r *AlertRepository) Create(ctx context.Context, alert *rules.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert == nil {
		return errors.New("alert repo: nil alert")
	}
	if alert.ID == "" {
		return errors.New("alert repo: empty alert id")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alerts (
	id, rule_id, organization_id, device_external_id, variable_name, value,
	threshold, severity, message, triggered_at, acknowledged, acknowledged_at,
	created_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10, $11, $12,
	$13
)`,
		alert.ID, alert.RuleID, alert.OrganizationID, alert.DeviceExternalID,
		alert.VariableName, alert.Value, alert.Threshold, alert.Severity,
		alert.Message, alert.TriggeredAt.UTC(), alert.Acknowledged,
		nullTime(alert.AcknowledgedAt), alert.CreatedAt.UTC())
	return err
}

// GetByID loads an alert by id.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*rules.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if id == "" {
		return nil, errors.New("alert repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT`+alertColumns+`
FROM alerts
WHERE id = $1
LIMIT 1`, id)
	return scanAlert(row)
}

// ListByOrganization returns organization alerts within a window, newest
// first.
func (r *AlertRepository) ListByOrganization(ctx context.Context, organizationID string, from, to time.Time, limit int) ([]rules.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if organizationID == "" {
		return nil, errors.New("alert repo: empty organization id")
	}
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT`+alertColumns+`
FROM alerts
WHERE organization_id = $1 AND triggered_at >= $2 AND triggered_at <= $3
ORDER BY triggered_at DESC
LIMIT $4`, organizationID, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []rules.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// FindLatestByRuleDevice returns the most recent alert for (rule, device).
func (r *AlertRepository) FindLatestByRuleDevice(ctx context.Context, ruleID, deviceExternalID string) (*rules.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if ruleID == "" || deviceExternalID == "" {
		return nil, errors.New("alert repo: empty rule id or device external id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT`+alertColumns+`
FROM alerts
WHERE rule_id = $1 AND device_external_id = $2
ORDER BY triggered_at DESC
LIMIT 1`, ruleID, deviceExternalID)
	return scanAlert(row)
}

// MarkAcknowledged records an acknowledgement.
func (r *AlertRepository) MarkAcknowledged(ctx context.Context, id string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if id == "" {
		return errors.New("alert repo: empty id")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE alerts
SET acknowledged = TRUE, acknowledged_at = $1
WHERE id = $2`, at.UTC(), id)
	return err
}

func scanAlert(row rowScanner) (*rules.Alert, error) {
	var alert rules.Alert
	var ackedAt sql.NullTime
	if err := row.Scan(
		&alert.ID,
		&alert.RuleID,
		&alert.OrganizationID,
		&alert.DeviceExternalID,
		&alert.VariableName,
		&alert.Value,
		&alert.Threshold,
		&alert.Severity,
		&alert.Message,
		&alert.TriggeredAt,
		&alert.Acknowledged,
		&ackedAt,
		&alert.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if ackedAt.Valid {
		alert.AcknowledgedAt = ackedAt.Time
	}
	return &alert, nil
}
