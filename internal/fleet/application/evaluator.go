package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/CodeFleck/sensorvision-sub010/internal/fleet/application/events"
	fleet "github.com/CodeFleck/sensorvision-sub010/internal/fleet/domain"
	"github.com/CodeFleck/sensorvision-sub010/internal/observability/metrics"
	rules "github.com/CodeFleck/sensorvision-sub010/internal/rules/domain"
)

const (
	defaultIntervalMinutes = 1
	defaultCooldownMinutes = 15

	evalResultTriggered = "triggered"
	evalResultPassed    = "passed"
	evalResultSkipped   = "skipped"
	evalResultError     = "error"
)

// GlobalAlertDispatcher fans a global alert out to notification channels. It
// must never propagate delivery failures.
type GlobalAlertDispatcher interface {
	DispatchGlobalAlert(ctx context.Context, alert fleet.GlobalAlert, rule fleet.GlobalRule)
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Evaluator runs global rules on their evaluation intervals.
type Evaluator struct {
	rules      fleet.GlobalRuleRepository
	alerts     fleet.GlobalAlertRepository
	aggregator *Aggregator
	dispatcher GlobalAlertDispatcher
	publisher  EventPublisher
	clock      Clock
	logger     *log.Logger
}

// EvaluatorOption customizes the evaluator.
type EvaluatorOption func(*Evaluator)

// WithDispatcher assigns a notification dispatcher.
func WithDispatcher(dispatcher GlobalAlertDispatcher) EvaluatorOption {
	return func(e *Evaluator) {
		e.dispatcher = dispatcher
	}
}

// WithPublisher assigns a domain event publisher.
func WithPublisher(publisher EventPublisher) EvaluatorOption {
	return func(e *Evaluator) {
		e.publisher = publisher
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) EvaluatorOption {
	return func(e *Evaluator) {
		e.clock = clock
	}
}

// NewEvaluator constructs a global rule evaluator.
func NewEvaluator(ruleRepo fleet.GlobalRuleRepository, alertRepo fleet.GlobalAlertRepository, aggregator *Aggregator, logger *log.Logger, opts ...EvaluatorOption) (*Evaluator, error) {
	if ruleRepo == nil {
		return nil, errors.New("fleet: nil rule repo")
	}
	if alertRepo == nil {
		return nil, errors.New("fleet: nil alert repo")
	}
	if aggregator == nil {
		return nil, errors.New("fleet: nil aggregator")
	}
	if logger == nil {
		logger = log.Default()
	}
	evaluator := &Evaluator{
		rules:      ruleRepo,
		alerts:     alertRepo,
		aggregator: aggregator,
		clock:      systemClock{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(evaluator)
	}
	return evaluator, nil
}

// EvaluateDue evaluates every enabled rule whose interval has elapsed. Rule
// failures are logged and do not stop the pass.
func (e *Evaluator) EvaluateDue(ctx context.Context) error {
	if e == nil {
		return errors.New("fleet: nil evaluator")
	}
	enabled, err := e.rules.ListEnabled(ctx)
	if err != nil {
		return err
	}
	now := e.clock.Now().UTC()
	for _, rule := range enabled {
		if !due(rule, now) {
			continue
		}
		if err := e.evaluate(ctx, rule); err != nil {
			metrics.IncGlobalEvaluation(evalResultError)
			e.logger.Printf("fleet: evaluate rule %s: %v", rule.ID, err)
		}
	}
	return nil
}

// EvaluateRule evaluates one rule immediately, ignoring its interval. The
// trigger cooldown still applies.
func (e *Evaluator) EvaluateRule(ctx context.Context, id string) error {
	if e == nil {
		return errors.New("fleet: nil evaluator")
	}
	if id == "" {
		return errors.New("fleet: rule id required")
	}
	rule, err := e.rules.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rule == nil {
		return fleet.ErrNotFound
	}
	return e.evaluate(ctx, *rule)
}

func (e *Evaluator) evaluate(ctx context.Context, rule fleet.GlobalRule) error {
	now := e.clock.Now().UTC()
	if err := e.rules.MarkEvaluated(ctx, rule.ID, now); err != nil {
		return err
	}

	aggregate, deviceCount, err := e.aggregator.Aggregate(ctx, rule)
	if err != nil {
		if errors.Is(err, fleet.ErrNoData) {
			metrics.IncGlobalEvaluation(evalResultSkipped)
			return nil
		}
		return err
	}

	if !rules.Compare(rule.Operator, aggregate, rule.Threshold) {
		metrics.IncGlobalEvaluation(evalResultPassed)
		return nil
	}

	cooldown := time.Duration(rule.CooldownMinutes) * time.Minute
	if cooldown <= 0 {
		cooldown = defaultCooldownMinutes * time.Minute
	}
	if !rule.LastTriggeredAt.IsZero() && now.Sub(rule.LastTriggeredAt) < cooldown {
		metrics.IncGlobalEvaluation(evalResultSkipped)
		return nil
	}

	severity := rules.SeverityFromDeviation(aggregate, rule.Threshold)
	alert := &fleet.GlobalAlert{
		ID:             uuid.NewString(),
		GlobalRuleID:   rule.ID,
		OrganizationID: rule.OrganizationID,
		Aggregation:    rule.Aggregation,
		VariableName:   rule.VariableName,
		Value:          aggregate,
		Threshold:      rule.Threshold,
		DeviceCount:    deviceCount,
		Severity:       severity,
		Message:        globalAlertMessage(rule, aggregate, deviceCount),
		TriggeredAt:    now,
		CreatedAt:      now,
	}
	if err := e.alerts.Create(ctx, alert); err != nil {
		return err
	}
	if err := e.rules.MarkTriggered(ctx, rule.ID, now); err != nil {
		return err
	}
	metrics.IncGlobalEvaluation(evalResultTriggered)
	metrics.IncGlobalAlert(severity)
	e.logger.Printf("fleet: global alert %s %s for rule %q (%s)", alert.ID, severity, rule.Name, alert.Message)

	if e.dispatcher != nil {
		e.dispatcher.DispatchGlobalAlert(ctx, *alert, rule)
	}
	if e.publisher != nil {
		event := events.GlobalAlertTriggered{
			GlobalAlertID:  alert.ID,
			GlobalRuleID:   alert.GlobalRuleID,
			OrganizationID: alert.OrganizationID,
			Aggregation:    string(alert.Aggregation),
			VariableName:   alert.VariableName,
			Value:          alert.Value,
			Threshold:      alert.Threshold,
			DeviceCount:    alert.DeviceCount,
			Severity:       alert.Severity,
			OccurredAt:     alert.TriggeredAt,
		}
		if err := e.publisher.Publish(ctx, event); err != nil {
			e.logger.Printf("fleet: publish GlobalAlertTriggered: %v", err)
		}
	}
	return nil
}

func due(rule fleet.GlobalRule, now time.Time) bool {
	interval := time.Duration(rule.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = defaultIntervalMinutes * time.Minute
	}
	if rule.LastEvaluatedAt.IsZero() {
		return true
	}
	return now.Sub(rule.LastEvaluatedAt) >= interval
}

func globalAlertMessage(rule fleet.GlobalRule, aggregate float64, deviceCount int) string {
	if rule.Aggregation.RequiresVariable() {
		return fmt.Sprintf("Rule %q: %s(%s) %.2f %s %.2f over %d devices",
			rule.Name, rule.Aggregation, rule.VariableName, aggregate, rule.Operator, rule.Threshold, deviceCount)
	}
	return fmt.Sprintf("Rule %q: %s %.0f %s %.0f over %d devices",
		rule.Name, rule.Aggregation, aggregate, rule.Operator, rule.Threshold, deviceCount)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
