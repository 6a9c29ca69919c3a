package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	rules "github.com/CodeFleck/sensorvision-sub010/internal/rules/domain"
)

// RuleRepository is a Postgres repository for device rules.
type RuleRepository struct {
	db *sql.DB
}

// NewRuleRepository constructs a repository.
func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `
id, organization_id, device_external_id, variable_name, operator, threshold,
description, enabled, send_sms, sms_recipients, created_at, updated_at`

// GetByID loads a rule by id.
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*rules.Rule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule repo: nil db")
	}
	if id == "" {
		return nil, errors.New("rule repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT`+ruleColumns+`
FROM rules
WHERE id = $1
LIMIT 1`, id)
	return scanRule(row)
}

// ListEnabledByDevice returns enabled rules watching one device.
func (r *RuleRepository) ListEnabledByDevice(ctx context.Context, deviceExternalID string) ([]rules.Rule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule repo: nil db")
	}
	if deviceExternalID == "" {
		return nil, errors.New("rule repo: empty device external id")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT`+ruleColumns+`
FROM rules
WHERE device_external_id = $1 AND enabled
ORDER BY created_at ASC`, deviceExternalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRules(rows)
}

// ListByOrganization returns all rules in an organization.
func (r *RuleRepository) ListByOrganization(ctx context.Context, organizationID string) ([]rules.Rule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule repo: nil db")
	}
	if organizationID == "" {
		return nil, errors.New("rule repo: empty organization id")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT`+ruleColumns+`
FROM rules
WHERE organization_id = $1
ORDER BY created_at ASC`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRules(rows)
}

// Save upserts a rule.
func (r *RuleRepository) Save(ctx context.Context, rule *rules.Rule) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	if rule == nil {
		return errors.New("rule repo: nil rule")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	recipients, err := json.Marshal(rule.SMSRecipients)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO rules (
	id, organization_id, device_external_id, variable_name, operator, threshold,
	description, enabled, send_sms, sms_recipients, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10, $11, $12
)
ON CONFLICT (id)
DO UPDATE SET
	organization_id = EXCLUDED.organization_id,
	device_external_id = EXCLUDED.device_external_id,
	variable_name = EXCLUDED.variable_name,
	operator = EXCLUDED.operator,
	threshold = EXCLUDED.threshold,
	description = EXCLUDED.description,
	enabled = EXCLUDED.enabled,
	send_sms = EXCLUDED.send_sms,
	sms_recipients = EXCLUDED.sms_recipients,
	updated_at = EXCLUDED.updated_at`,
		rule.ID, rule.OrganizationID, rule.DeviceExternalID, rule.VariableName,
		rule.Operator, rule.Threshold, rule.Description, rule.Enabled,
		rule.SendSMS, recipients, rule.CreatedAt, rule.UpdatedAt)
	return err
}

// Delete removes a rule.
func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("rule repo: nil db")
	}
	if id == "" {
		return errors.New("rule repo: empty id")
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*rules.Rule, error) {
	var rule rules.Rule
	var recipients []byte
	if err := row.Scan(
		&rule.ID,
		&rule.OrganizationID,
		&rule.DeviceExternalID,
		&rule.VariableName,
		&rule.Operator,
		&rule.Threshold,
		&rule.Description,
		&rule.Enabled,
		&rule.SendSMS,
		&recipients,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(recipients) > 0 {
		if err := json.Unmarshal(recipients, &rule.SMSRecipients); err != nil {
			return nil, err
		}
	}
	return &rule, nil
}

func scanRules(rows *sql.Rows) ([]rules.Rule, error) {
	var result []rules.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
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
