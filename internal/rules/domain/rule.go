package rules

import (
	"context"
	"errors"
	"time"
)

// Comparison operators. The constant values are the symbols used in alert
// messages and stored rows.
const (
	OperatorGreater        = ">"
	OperatorLess           = "<"
	OperatorEqual          = "="
	OperatorGreaterOrEqual = ">="
	OperatorLessOrEqual    = "<="
)

// ErrNotFound marks a missing rule or alert.
var ErrNotFound = errors.New("rules: not found")

// ErrInvalidOperator rejects an unknown comparison operator.
var ErrInvalidOperator = errors.New("rules: invalid operator")

// ValidOperator reports whether op is one of the supported comparisons.
func ValidOperator(op string) bool {
	switch op {
	case OperatorGreater, OperatorLess, OperatorEqual, OperatorGreaterOrEqual, OperatorLessOrEqual:
		return true
	default:
		return false
	}
}

// Compare applies op to (value, threshold). Unknown operators never match.
func Compare(op string, value, threshold float64) bool {
	switch op {
	case OperatorGreater:
		return value > threshold
	case OperatorLess:
		return value < threshold
	case OperatorEqual:
		return value == threshold
	case OperatorGreaterOrEqual:
		return value >= threshold
	case OperatorLessOrEqual:
		return value <= threshold
	default:
		return false
	}
}

// Rule is a per-device threshold condition over one variable.
type Rule struct {
	ID               string
	OrganizationID   string
	DeviceExternalID string
	VariableName     string
	Operator         string
	Threshold        float64
	Description      string
	Enabled          bool
	SendSMS          bool
	SMSRecipients    []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Validate checks rule invariants.
func (r Rule) Validate() error {
	if r.ID == "" {
		return errors.New("rules: empty rule id")
	}
	if r.OrganizationID == "" {
		return errors.New("rules: empty organization id")
	}
	if r.DeviceExternalID == "" {
		return errors.New("rules: empty device external id")
	}
	if r.VariableName == "" {
		return errors.New("rules: empty variable name")
	}
	if !ValidOperator(r.Operator) {
		return ErrInvalidOperator
	}
	return nil
}

// Alert is a triggered rule condition.
type Alert struct {
	ID               string
	RuleID           string
	OrganizationID   string
	DeviceExternalID string
	VariableName     string
	Value            float64
	Threshold        float64
	Severity         string
	Message          string
	TriggeredAt      time.Time
	Acknowledged     bool
	AcknowledgedAt   time.Time
	CreatedAt        time.Time
}

// RuleRepository manages rule persistence. Reads return (nil, nil) when no
// row matches.
type RuleRepository interface {
	GetByID(ctx context.Context, id string) (*Rule, error)
	ListEnabledByDevice(ctx context.Context, deviceExternalID string) ([]Rule, error)
	ListByOrganization(ctx context.Context, organizationID string) ([]Rule, error)
	Save(ctx context.Context, rule *Rule) error
	Delete(ctx context.Context, id string) error
}

// AlertRepository manages alert persistence.
type AlertRepository interface {
	Create(ctx context.Context, alert *Alert) error
	GetByID(ctx context.Context, id string) (*Alert, error)
	ListByOrganization(ctx context.Context, organizationID string, from, to time.Time, limit int) ([]Alert, error)
	FindLatestByRuleDevice(ctx context.Context, ruleID, deviceExternalID string) (*Alert, error)
	MarkAcknowledged(ctx context.Context, id string, at time.Time) error
}
