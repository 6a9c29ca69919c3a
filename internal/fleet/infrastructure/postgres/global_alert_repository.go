package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	fleet "github.com/CodeFleck/sensorvision-sub010/internal/fleet/domain"
)

// GlobalAlertRepository is a Postgres repository for global alerts.
type GlobalAlertRepository struct {
	db *sql.DB
}

// NewGlobalAlertRepository constructs a repository.
func NewGlobalAlertRepository(db *sql.DB) *GlobalAlertRepository {
	return &GlobalAlertRepository{db: db}
}

// Create inserts a global alert.
func (r *GlobalAlertRepository) Create(ctx context.Context, alert *fleet.GlobalAlert) error {
	if r == nil || r.db == nil {
		return errors.New("global alert repo: nil db")
	}
	if alert == nil {
		return errors.New("global alert repo: nil alert")
	}
	if alert.ID == "" {
		return errors.New("global alert repo: empty alert id")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO global_alerts (
	id, global_rule_id, organization_id, aggregation, variable_name, value,
	threshold, device_count, severity, message, triggered_at, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10, $11, $12
)`,
		alert.ID, alert.GlobalRuleID, alert.OrganizationID,
		string(alert.Aggregation), alert.VariableName, alert.Value,
		alert.Threshold, alert.DeviceCount, alert.Severity, alert.Message,
		alert.TriggeredAt.UTC(), alert.CreatedAt.UTC())
	return err
}

// ListByOrganization returns organization global alerts within a window,
// newest first.
func (r *GlobalAlertRepository) ListByOrganization(ctx context.Context, organizationID string, from, to time.Time, limit int) ([]fleet.GlobalAlert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("global alert repo: nil db")
	}
	if organizationID == "" {
		return nil, errors.New("global alert repo: empty organization id")
	}
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, global_rule_id, organization_id, aggregation, variable_name, value,
       threshold, device_count, severity, message, triggered_at, created_at
FROM global_alerts
WHERE organization_id = $1 AND triggered_at >= $2 AND triggered_at <= $3
ORDER BY triggered_at DESC
LIMIT $4`, organizationID, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []fleet.GlobalAlert
	for rows.Next() {
		var alert fleet.GlobalAlert
		var aggregation string
		if err := rows.Scan(
			&alert.ID,
			&alert.GlobalRuleID,
			&alert.OrganizationID,
			&aggregation,
			&alert.VariableName,
			&alert.Value,
			&alert.Threshold,
			&alert.DeviceCount,
			&alert.Severity,
			&alert.Message,
			&alert.TriggeredAt,
			&alert.CreatedAt,
		); err != nil {
			return nil, err
		}
		alert.Aggregation = fleet.AggregationFunction(aggregation)
		result = append(result, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
