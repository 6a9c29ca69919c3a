package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"

	rules "github.com/CodeFleck/sensorvision-sub010/internal/rules/domain"
)

// Selector types decide which devices a global rule watches.
const (
	SelectorOrganization = "ORGANIZATION"
	SelectorTag          = "TAG"
	SelectorDevices      = "DEVICES"
)

// AggregationFunction folds a device selection into one number.
type AggregationFunction string

// Aggregation functions. The COUNT_* functions need no variable; the rest
// aggregate the latest value of one named variable.
const (
	AggCountDevices AggregationFunction = "COUNT_DEVICES"
	AggCountOnline  AggregationFunction = "COUNT_ONLINE"
	AggCountOffline AggregationFunction = "COUNT_OFFLINE"
	AggAvg          AggregationFunction = "AVG"
	AggSum          AggregationFunction = "SUM"
	AggMin          AggregationFunction = "MIN"
	AggMax          AggregationFunction = "MAX"
)

// ErrInvalidAggregation rejects an unknown aggregation function.
var ErrInvalidAggregation = errors.New("fleet: invalid aggregation function")

// ErrInvalidSelector rejects a malformed device selector.
var ErrInvalidSelector = errors.New("fleet: invalid selector")

// ErrNotFound marks a missing global rule.
var ErrNotFound = errors.New("fleet: not found")

// ErrNoData marks a value aggregation with no latest values to fold.
var ErrNoData = errors.New("fleet: no data for aggregation")

// Valid reports whether f is a known aggregation function.
func (f AggregationFunction) Valid() bool {
	switch f {
	case AggCountDevices, AggCountOnline, AggCountOffline, AggAvg, AggSum, AggMin, AggMax:
		return true
	default:
		return false
	}
}

// RequiresVariable reports whether f aggregates variable values rather than
// device counts.
func (f AggregationFunction) RequiresVariable() bool {
	switch f {
	case AggAvg, AggSum, AggMin, AggMax:
		return true
	default:
		return false
	}
}

// ParseAggregationFunction parses a stored or submitted function name.
func ParseAggregationFunction(value string) (AggregationFunction, error) {
	f := AggregationFunction(value)
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAggregation, value)
	}
	return f, nil
}

// GlobalRule is a fleet-wide condition over an aggregate of many devices.
type GlobalRule struct {
	ID                string
	OrganizationID    string
	Name              string
	Description       string
	SelectorType      string
	Tag               string
	DeviceExternalIDs []string
	Aggregation       AggregationFunction
	VariableName      string
	Operator          string
	Threshold         float64
	Enabled           bool
	IntervalMinutes   int
	CooldownMinutes   int
	SendSMS           bool
	SMSRecipients     []string
	LastEvaluatedAt   time.Time
	LastTriggeredAt   time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Validate checks global rule invariants. Value aggregations must name a
// variable; selectors must carry their operand.
func (r GlobalRule) Validate() error {
	if r.ID == "" {
		return errors.New("fleet: empty rule id")
	}
	if r.OrganizationID == "" {
		return errors.New("fleet: empty organization id")
	}
	if r.Name == "" {
		return errors.New("fleet: empty rule name")
	}
	if !rules.ValidOperator(r.Operator) {
		return rules.ErrInvalidOperator
	}
	if !r.Aggregation.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAggregation, r.Aggregation)
	}
	if r.Aggregation.RequiresVariable() && r.VariableName == "" {
		return fmt.Errorf("%w: %s requires a variable", ErrInvalidAggregation, r.Aggregation)
	}
	switch r.SelectorType {
	case SelectorOrganization:
	case SelectorTag:
		if r.Tag == "" {
			return fmt.Errorf("%w: TAG selector requires a tag", ErrInvalidSelector)
		}
	case SelectorDevices:
		if len(r.DeviceExternalIDs) == 0 {
			return fmt.Errorf("%w: DEVICES selector requires device ids", ErrInvalidSelector)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSelector, r.SelectorType)
	}
	return nil
}

// GlobalAlert is a triggered global rule condition.
type GlobalAlert struct {
	ID             string
	GlobalRuleID   string
	OrganizationID string
	Aggregation    AggregationFunction
	VariableName   string
	Value          float64
	Threshold      float64
	DeviceCount    int
	Severity       string
	Message        string
	TriggeredAt    time.Time
	CreatedAt      time.Time
}

// GlobalRuleRepository manages global rule persistence. Reads return
// (nil, nil) when no row matches.
type GlobalRuleRepository interface {
	GetByID(ctx context.Context, id string) (*GlobalRule, error)
	ListEnabled(ctx context.Context) ([]GlobalRule, error)
	ListByOrganization(ctx context.Context, organizationID string) ([]GlobalRule, error)
	Save(ctx context.Context, rule *GlobalRule) error
	Delete(ctx context.Context, id string) error
	MarkEvaluated(ctx context.Context, id string, at time.Time) error
	MarkTriggered(ctx context.Context, id string, at time.Time) error
}

// GlobalAlertRepository manages global alert persistence.
type GlobalAlertRepository interface {
	Create(ctx context.Context, alert *GlobalAlert) error
	ListByOrganization(ctx context.Context, organizationID string, from, to time.Time, limit int) ([]GlobalAlert, error)
}
