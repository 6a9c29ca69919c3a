package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	fleet "github.com/CodeFleck/sensorvision-sub010/internal/fleet/domain"
)

// GlobalRuleRepository is a Postgres repository for global rules.
type GlobalRuleRepository struct {
	db *sql.DB
}

// NewGlobalRuleRepository constructs a repository.
func NewGlobalRuleRepository(db *sql.DB) *GlobalRuleRepository {
	return &GlobalRuleRepository{db: db}
}

const globalRuleColumns = `
id, organization_id, name, description, selector_type, tag, device_external_ids,
aggregation, variable_name, operator, threshold, enabled, interval_minutes,
cooldown_minutes, send_sms, sms_recipients, last_evaluated_at, last_triggered_at,
created_at, updated_at`

// GetByID loads a global rule by id.
func (r *GlobalRuleRepository) GetByID(ctx context.Context, id string) (*fleet.GlobalRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("global rule repo: nil db")
	}
	if id == "" {
		return nil, errors.New("global rule repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT`+globalRuleColumns+`
FROM global_rules
WHERE id = $1
LIMIT 1`, id)
	return scanGlobalRule(row)
}

// ListEnabled returns all enabled global rules.
func (r *GlobalRuleRepository) ListEnabled(ctx context.Context) ([]fleet.GlobalRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("global rule repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT`+globalRuleColumns+`
FROM global_rules
WHERE enabled
ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGlobalRules(rows)
}

// ListByOrganization returns an organization's global rules.
func (r *GlobalRuleRepository) ListByOrganization(ctx context.Context, organizationID string) ([]fleet.GlobalRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("global rule repo: nil db")
	}
	if organizationID == "" {
		return nil, errors.New("global rule repo: empty organization id")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT`+globalRuleColumns+`
FROM global_rules
WHERE organization_id = $1
ORDER BY created_at ASC`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGlobalRules(rows)
}

// Save upserts a global rule.
func (r *GlobalRuleRepository) Save(ctx context.Context, rule *fleet.GlobalRule) error {
	if r == nil || r.db == nil {
		return errors.New("global rule repo: nil db")
	}
	if rule == nil {
		return errors.New("global rule repo: nil rule")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	deviceIDs, err := json.Marshal(rule.DeviceExternalIDs)
	if err != nil {
		return err
	}
	recipients, err := json.Marshal(rule.SMSRecipients)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO global_rules (
	id, organization_id, name, description, selector_type, tag, device_external_ids,
	aggregation, variable_name, operator, threshold, enabled, interval_minutes,
	cooldown_minutes, send_sms, sms_recipients, last_evaluated_at, last_triggered_at,
	created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12, $13,
	$14, $15, $16, $17, $18,
	$19, $20
)
ON CONFLICT (id)
DO UPDATE SET
	organization_id = EXCLUDED.organization_id,
	name = EXCLUDED.name,
	description = EXCLUDED.description,
	selector_type = EXCLUDED.selector_type,
	tag = EXCLUDED.tag,
	device_external_ids = EXCLUDED.device_external_ids,
	aggregation = EXCLUDED.aggregation,
	variable_name = EXCLUDED.variable_name,
	operator = EXCLUDED.operator,
	threshold = EXCLUDED.threshold,
	enabled = EXCLUDED.enabled,
	interval_minutes = EXCLUDED.interval_minutes,
	cooldown_minutes = EXCLUDED.cooldown_minutes,
	send_sms = EXCLUDED.send_sms,
	sms_recipients = EXCLUDED.sms_recipients,
	updated_at = EXCLUDED.updated_at`,
		rule.ID, rule.OrganizationID, rule.Name, rule.Description,
		rule.SelectorType, rule.Tag, deviceIDs, string(rule.Aggregation),
		rule.VariableName, rule.Operator, rule.Threshold, rule.Enabled,
		rule.IntervalMinutes, rule.CooldownMinutes, rule.SendSMS, recipients,
		nullTime(rule.LastEvaluatedAt), nullTime(rule.LastTriggeredAt),
		rule.CreatedAt, rule.UpdatedAt)
	return err
}

// Delete removes a global rule.
func (r *GlobalRuleRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("global rule repo: nil db")
	}
	if id == "" {
		return errors.New("global rule repo: empty id")
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM global_rules WHERE id = $1`, id)
	return err
}

// MarkEvaluated stamps the last evaluation time.
func (r *GlobalRuleRepository) MarkEvaluated(ctx context.Context, id string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("global rule repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE global_rules SET last_evaluated_at = $1 WHERE id = $2`, at.UTC(), id)
	return err
}

// MarkTriggered stamps the last trigger time.
func (r *GlobalRuleRepository) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("global rule repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE global_rules SET last_triggered_at = $1 WHERE id = $2`, at.UTC(), id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGlobalRule(row rowScanner) (*fleet.GlobalRule, error) {
	var rule fleet.GlobalRule
	var aggregation string
	var deviceIDs, recipients []byte
	var lastEvaluated, lastTriggered sql.NullTime
	if err := row.Scan(
		&rule.ID,
		&rule.OrganizationID,
		&rule.Name,
		&rule.Description,
		&rule.SelectorType,
		&rule.Tag,
		&deviceIDs,
		&aggregation,
		&rule.VariableName,
		&rule.Operator,
		&rule.Threshold,
		&rule.Enabled,
		&rule.IntervalMinutes,
		&rule.CooldownMinutes,
		&rule.SendSMS,
		&recipients,
		&lastEvaluated,
		&lastTriggered,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rule.Aggregation = fleet.AggregationFunction(aggregation)
	if len(deviceIDs) > 0 {
		if err := json.Unmarshal(deviceIDs, &rule.DeviceExternalIDs); err != nil {
			return nil, err
		}
	}
	if len(recipients) > 0 {
		if err := json.Unmarshal(recipients, &rule.SMSRecipients); err != nil {
			return nil, err
		}
	}
	if lastEvaluated.Valid {
		rule.LastEvaluatedAt = lastEvaluated.Time
	}
	if lastTriggered.Valid {
		rule.LastTriggeredAt = lastTriggered.Time
	}
	return &rule, nil
}

func scanGlobalRules(rows *sql.Rows) ([]fleet.GlobalRule, error) {
	var result []fleet.GlobalRule
	for rows.Next() {
		rule, err := scanGlobalRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}
