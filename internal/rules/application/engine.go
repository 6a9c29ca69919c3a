package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/CodeFleck/sensorvision-sub010/internal/observability/metrics"
	"github.com/CodeFleck/sensorvision-sub010/internal/rules/application/events"
	rules "github.com/CodeFleck/sensorvision-sub010/internal/rules/domain"
	telemetry "github.com/CodeFleck/sensorvision-sub010/internal/telemetry/domain"
)

// alertCooldown suppresses repeat alerts for the same rule and device.
const alertCooldown = 5 * time.Minute

// AlertDispatcher fans a triggered alert out to notification channels. It
// must never propagate delivery failures.
type AlertDispatcher interface {
	DispatchAlert(ctx context.Context, alert rules.Alert, rule rules.Rule)
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Engine evaluates device rules against incoming telemetry records.
type Engine struct {
	rules      rules.RuleRepository
	alerts     rules.AlertRepository
	dispatcher AlertDispatcher
	publisher  EventPublisher
	clock      Clock
	logger     *log.Logger
}

// EngineOption customizes the engine.
type EngineOption func(*Engine)

// WithDispatcher assigns a notification dispatcher.
func WithDispatcher(dispatcher AlertDispatcher) EngineOption {
	return func(e *Engine) {
		e.dispatcher = dispatcher
	}
}

// WithPublisher assigns a domain event publisher.
func WithPublisher(publisher EventPublisher) EngineOption {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) EngineOption {
	return func(e *Engine) {
		e.clock = clock
	}
}

// NewEngine constructs a rule engine.
func NewEngine(ruleRepo rules.RuleRepository, alertRepo rules.AlertRepository, logger *log.Logger, opts ...EngineOption) (*Engine, error) {
	if ruleRepo == nil {
		return nil, errors.New("rules: nil rule repo")
	}
	if alertRepo == nil {
		return nil, errors.New("rules: nil alert repo")
	}
	if logger == nil {
		logger = log.Default()
	}
	engine := &Engine{
		rules:  ruleRepo,
		alerts: alertRepo,
		clock:  systemClock{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// EvaluateRecord checks every enabled rule of the record's device. A
// measurement key that is absent skips the rule; a present-but-null
// measurement evaluates as zero.
func (e *Engine) EvaluateRecord(ctx context.Context, record telemetry.TelemetryRecord) error {
	if e == nil {
		return errors.New("rules: nil engine")
	}
	if record.DeviceExternalID == "" {
		return errors.New("rules: record missing device external id")
	}
	metrics.IncRuleEvaluation()

	deviceRules, err := e.rules.ListEnabledByDevice(ctx, record.DeviceExternalID)
	if err != nil {
		return err
	}
	if len(deviceRules) == 0 {
		return nil
	}

	for _, rule := range deviceRules {
		raw, present := record.Measurements[rule.VariableName]
		if !present {
			continue
		}
		value := 0.0
		if raw != nil {
			value = *raw
		}
		if !rules.Compare(rule.Operator, value, rule.Threshold) {
			continue
		}
		if err := e.trigger(ctx, record, rule, value); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) trigger(ctx context.Context, record telemetry.TelemetryRecord, rule rules.Rule, value float64) error {
	latest, err := e.alerts.FindLatestByRuleDevice(ctx, rule.ID, record.DeviceExternalID)
	if err != nil {
		return err
	}
	now := e.clock.Now().UTC()
	if latest != nil && now.Sub(latest.TriggeredAt) < alertCooldown {
		return nil
	}

	severity := rules.SeverityFromDeviation(value, rule.Threshold)
	alert := &rules.Alert{
		ID:               uuid.NewString(),
		RuleID:           rule.ID,
		OrganizationID:   record.OrganizationID,
		DeviceExternalID: record.DeviceExternalID,
		VariableName:     rule.VariableName,
		Value:            value,
		Threshold:        rule.Threshold,
		Severity:         severity,
		Message: fmt.Sprintf("Device %s: %s %.2f %s %.2f",
			record.DeviceExternalID, rule.VariableName, value, rule.Operator, rule.Threshold),
		TriggeredAt: now,
		CreatedAt:   now,
	}
	if err := e.alerts.Create(ctx, alert); err != nil {
		return err
	}
	metrics.IncAlert(severity)
	e.logger.Printf("rules: alert %s %s for device %s (%s)", alert.ID, severity, alert.DeviceExternalID, alert.Message)

	if e.dispatcher != nil {
		e.dispatcher.DispatchAlert(ctx, *alert, rule)
	}
	if e.publisher != nil && rule.OrganizationID != "" {
		ruleEvent := events.RuleTriggered{
			RuleID:           rule.ID,
			OrganizationID:   rule.OrganizationID,
			DeviceExternalID: alert.DeviceExternalID,
			VariableName:     rule.VariableName,
			Operator:         rule.Operator,
			Value:            value,
			Threshold:        rule.Threshold,
			OccurredAt:       alert.TriggeredAt,
		}
		if err := e.publisher.Publish(ctx, ruleEvent); err != nil {
			e.logger.Printf("rules: publish RuleTriggered: %v", err)
		}
		alertEvent := events.AlertTriggered{
			AlertID:          alert.ID,
			RuleID:           alert.RuleID,
			OrganizationID:   alert.OrganizationID,
			DeviceExternalID: alert.DeviceExternalID,
			VariableName:     alert.VariableName,
			Value:            alert.Value,
			Threshold:        alert.Threshold,
			Severity:         alert.Severity,
			OccurredAt:       alert.TriggeredAt,
		}
		if err := e.publisher.Publish(ctx, alertEvent); err != nil {
			e.logger.Printf("rules: publish AlertTriggered: %v", err)
		}
	}
	return nil
}

// AckAlert acknowledges an alert. Acknowledging twice is a no-op.
func (e *Engine) AckAlert(ctx context.Context, id string) (*rules.Alert, error) {
	if e == nil {
		return nil, errors.New("rules: nil engine")
	}
	if id == "" {
		return nil, errors.New("rules: alert id required")
	}
	alert, err := e.alerts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, rules.ErrNotFound
	}
	if alert.Acknowledged {
		return alert, nil
	}
	ackedAt := e.clock.Now().UTC()
	if err := e.alerts.MarkAcknowledged(ctx, alert.ID, ackedAt); err != nil {
		return nil, err
	}
	alert.Acknowledged = true
	alert.AcknowledgedAt = ackedAt
	return alert, nil
}

// ListAlerts returns organization alerts within a window.
func (e *Engine) ListAlerts(ctx context.Context, organizationID string, from, to time.Time, limit int) ([]rules.Alert, error) {
	if e == nil {
		return nil, errors.New("rules: nil engine")
	}
	if organizationID == "" {
		return nil, errors.New("rules: organization id required")
	}
	if to.IsZero() {
		to = e.clock.Now().UTC()
	}
	return e.alerts.ListByOrganization(ctx, organizationID, from, to, limit)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
