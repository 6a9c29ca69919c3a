package application

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/CodeFleck/sensorvision-sub010/internal/rules/application/events"
	rules "github.com/CodeFleck/sensorvision-sub010/internal/rules/domain"
	telemetry "github.com/CodeFleck/sensorvision-sub010/internal/telemetry/domain"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type stubRuleRepo struct {
	rules []rules.Rule
}

func (r *stubRuleRepo) GetByID(_ context.Context, id string) (*rules.Rule, error) {
	for i := range r.rules {
		if r.rules[i].ID == id {
			rule := r.rules[i]
			return &rule, nil
		}
	}
	return nil, nil
}

func (r *stubRuleRepo) ListEnabledByDevice(_ context.Context, deviceExternalID string) ([]rules.Rule, error) {
	var out []rules.Rule
	for _, rule := range r.rules {
		if rule.Enabled && rule.DeviceExternalID == deviceExternalID {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *stubRuleRepo) ListByOrganization(_ context.Context, organizationID string) ([]rules.Rule, error) {
	var out []rules.Rule
	for _, rule := range r.rules {
		if rule.OrganizationID == organizationID {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *stubRuleRepo) Save(_ context.Context, rule *rules.Rule) error {
	for i := range r.rules {
		if r.rules[i].ID == rule.ID {
			r.rules[i] = *rule
			return nil
		}
	}
	r.rules = append(r.rules, *rule)
	return nil
}

func (r *stubRuleRepo) Delete(_ context.Context, id string) error {
	for i := range r.rules {
		if r.rules[i].ID == id {
			r.rules = append(r.rules[:i], r.rules[i+1:]...)
			return nil
		}
	}
	return nil
}

type stubAlertRepo struct {
	alerts []rules.Alert
}

func (r *stubAlertRepo) Create(_ context.Context, alert *rules.Alert) error {
	r.alerts = append(r.alerts, *alert)
	return nil
}

func (r *stubAlertRepo) GetByID(_ context.Context, id string) (*rules.Alert, error) {
	for i := range r.alerts {
		if r.alerts[i].ID == id {
			alert := r.alerts[i]
			return &alert, nil
		}
	}
	return nil, nil
}

func (r *stubAlertRepo) ListByOrganization(_ context.Context, organizationID string, _, _ time.Time, _ int) ([]rules.Alert, error) {
	var out []rules.Alert
	for _, alert := range r.alerts {
		if alert.OrganizationID == organizationID {
			out = append(out, alert)
		}
	}
	return out, nil
}

func (r *stubAlertRepo) FindLatestByRuleDevice(_ context.Context, ruleID, deviceExternalID string) (*rules.Alert, error) {
	var latest *rules.Alert
	for i := range r.alerts {
		alert := r.alerts[i]
		if alert.RuleID != ruleID || alert.DeviceExternalID != deviceExternalID {
			continue
		}
		if latest == nil || alert.TriggeredAt.After(latest.TriggeredAt) {
			latest = &alert
		}
	}
	return latest, nil
}

func (r *stubAlertRepo) MarkAcknowledged(_ context.Context, id string, at time.Time) error {
	for i := range r.alerts {
		if r.alerts[i].ID == id {
			r.alerts[i].Acknowledged = true
			r.alerts[i].AcknowledgedAt = at
		}
	}
	return nil
}

type captureDispatcher struct {
	alerts []rules.Alert
}

func (d *captureDispatcher) DispatchAlert(_ context.Context, alert rules.Alert, _ rules.Rule) {
	d.alerts = append(d.alerts, alert)
}

type capturePublisher struct {
	events []any
}

func (p *capturePublisher) Publish(_ context.Context, event any) error {
	p.events = append(p.events, event)
	return nil
}

func testLogger() *log.Logger {
	return log.New(os.Stderr, "", 0)
}

func ptr(v float64) *float64 { return &v }

func testRecord(measurements map[string]*float64) telemetry.TelemetryRecord {
	return telemetry.TelemetryRecord{
		ID:               "rec-1",
		DeviceExternalID: "dev-1",
		OrganizationID:   "org-1",
		Timestamp:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Measurements:     measurements,
	}
}

func TestEvaluateRecordTriggersAlert(t *testing.T) {
	ruleRepo := &stubRuleRepo{rules: []rules.Rule{{
		ID:               "rule-1",
		OrganizationID:   "org-1",
		DeviceExternalID: "dev-1",
		VariableName:     "temperature",
		Operator:         rules.OperatorGreater,
		Threshold:        80,
		Enabled:          true,
	}}}
	alertRepo := &stubAlertRepo{}
	dispatched := &captureDispatcher{}
	engine, err := NewEngine(ruleRepo, alertRepo, testLogger(),
		WithDispatcher(dispatched),
		WithClock(fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}))
	if err != nil {
		t.Fatal(err)
	}

	err = engine.EvaluateRecord(context.Background(), testRecord(map[string]*float64{"temperature": ptr(95)}))
	if err != nil {
		t.Fatal(err)
	}
	if len(alertRepo.alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alertRepo.alerts))
	}
	alert := alertRepo.alerts[0]
	if alert.Severity != rules.SeverityLow {
		t.Fatalf("severity = %s, want %s", alert.Severity, rules.SeverityLow)
	}
	if alert.Message != "Device dev-1: temperature 95.00 > 80.00" {
		t.Fatalf("unexpected message %q", alert.Message)
	}
	if len(dispatched.alerts) != 1 {
		t.Fatalf("expected dispatch of 1 alert, got %d", len(dispatched.alerts))
	}
}

func TestTriggerPublishesRuleAndAlertEvents(t *testing.T) {
	ruleRepo := &stubRuleRepo{rules: []rules.Rule{{
		ID:               "rule-1",
		OrganizationID:   "org-1",
		DeviceExternalID: "dev-1",
		VariableName:     "temperature",
		Operator:         rules.OperatorGreater,
		Threshold:        80,
		Enabled:          true,
	}}}
	alertRepo := &stubAlertRepo{}
	published := &capturePublisher{}
	engine, err := NewEngine(ruleRepo, alertRepo, testLogger(),
		WithPublisher(published),
		WithClock(fixedClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}))
	if err != nil {
		t.Fatal(err)
	}

	err = engine.EvaluateRecord(context.Background(), testRecord(map[string]*float64{"temperature": ptr(95)}))
	if err != nil {
		t.Fatal(err)
	}
	if len(published.events) != 2 {
		t.Fatalf("expected RuleTriggered and AlertTriggered, got %d events", len(published.events))
	}
	ruleEvent, ok := published.events[0].(events.RuleTriggered)
	if !ok {
		t.Fatalf("first event = %T, want RuleTriggered", published.events[0])
	}
	if ruleEvent.RuleID != "rule-1" || ruleEvent.OrganizationID != "org-1" || ruleEvent.Value != 95 {
		t.Fatalf("unexpected RuleTriggered %+v", ruleEvent)
	}
	alertEvent, ok := published.events[1].(events.AlertTriggered)
	if !ok {
		t.Fatalf("second event = %T, want AlertTriggered", published.events[1])
	}
	if alertEvent.AlertID != alertRepo.alerts[0].ID || alertEvent.Severity != rules.SeverityLow {
		t.Fatalf("unexpected AlertTriggered %+v", alertEvent)
	}
}

func TestTriggerSkipsEventsForRuleWithoutOrganization(t *testing.T) {
	ruleRepo := &stubRuleRepo{rules: []rules.Rule{{
		ID:               "rule-1",
		DeviceExternalID: "dev-1",
		VariableName:     "temperature",
		Operator:         rules.OperatorGreater,
		Threshold:        80,
		Enabled:          true,
	}}}
	alertRepo := &stubAlertRepo{}
	dispatched := &captureDispatcher{}
	published := &capturePublisher{}
	engine, err := NewEngine(ruleRepo, alertRepo, testLogger(),
		WithDispatcher(dispatched),
		WithPublisher(published))
	if err != nil {
		t.Fatal(err)
	}

	// The record carries its organization, but the rule owns the event scope.
	err = engine.EvaluateRecord(context.Background(), testRecord(map[string]*float64{"temperature": ptr(95)}))
	if err != nil {
		t.Fatal(err)
	}
	if len(alertRepo.alerts) != 1 || len(dispatched.alerts) != 1 {
		t.Fatalf("alert creation and dispatch still happen: %d alerts, %d dispatched",
			len(alertRepo.alerts), len(dispatched.alerts))
	}
	if len(published.events) != 0 {
		t.Fatalf("a rule without an organization publishes no events, got %d", len(published.events))
	}
}

func TestEvaluateRecordSkipsAbsentVariable(t *testing.T) {
	ruleRepo := &stubRuleRepo{rules: []rules.Rule{{
		ID:               "rule-1",
		OrganizationID:   "org-1",
		DeviceExternalID: "dev-1",
		VariableName:     "humidity",
		Operator:         rules.OperatorLess,
		Threshold:        100,
		Enabled:          true,
	}}}
	alertRepo := &stubAlertRepo{}
	engine, err := NewEngine(ruleRepo, alertRepo, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	err = engine.EvaluateRecord(context.Background(), testRecord(map[string]*float64{"temperature": ptr(20)}))
	if err != nil {
		t.Fatal(err)
	}
	if len(alertRepo.alerts) != 0 {
		t.Fatalf("rule over an unreported variable must not fire, got %d alerts", len(alertRepo.alerts))
	}
}

func TestEvaluateRecordTreatsNullAsZero(t *testing.T) {
	ruleRepo := &stubRuleRepo{rules: []rules.Rule{{
		ID:               "rule-1",
		OrganizationID:   "org-1",
		DeviceExternalID: "dev-1",
		VariableName:     "pressure",
		Operator:         rules.OperatorLess,
		Threshold:        10,
		Enabled:          true,
	}}}
	alertRepo := &stubAlertRepo{}
	engine, err := NewEngine(ruleRepo, alertRepo, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	err = engine.EvaluateRecord(context.Background(), testRecord(map[string]*float64{"pressure": nil}))
	if err != nil {
		t.Fatal(err)
	}
	if len(alertRepo.alerts) != 1 {
		t.Fatalf("null measurement evaluates as zero, expected 1 alert got %d", len(alertRepo.alerts))
	}
	if alertRepo.alerts[0].Value != 0 {
		t.Fatalf("alert value = %v, want 0", alertRepo.alerts[0].Value)
	}
}

func TestEvaluateRecordHonorsCooldown(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ruleRepo := &stubRuleRepo{rules: []rules.Rule{{
		ID:               "rule-1",
		OrganizationID:   "org-1",
		DeviceExternalID: "dev-1",
		VariableName:     "temperature",
		Operator:         rules.OperatorGreater,
		Threshold:        80,
		Enabled:          true,
	}}}
	alertRepo := &stubAlertRepo{alerts: []rules.Alert{{
		ID:               "alert-0",
		RuleID:           "rule-1",
		DeviceExternalID: "dev-1",
		TriggeredAt:      now.Add(-2 * time.Minute),
	}}}
	engine, err := NewEngine(ruleRepo, alertRepo, testLogger(), WithClock(fixedClock{now: now}))
	if err != nil {
		t.Fatal(err)
	}

	err = engine.EvaluateRecord(context.Background(), testRecord(map[string]*float64{"temperature": ptr(95)}))
	if err != nil {
		t.Fatal(err)
	}
	if len(alertRepo.alerts) != 1 {
		t.Fatalf("alert inside the cooldown window must be suppressed, got %d alerts", len(alertRepo.alerts))
	}

	// Outside the window the same condition fires again.
	engine, err = NewEngine(ruleRepo, alertRepo, testLogger(), WithClock(fixedClock{now: now.Add(6 * time.Minute)}))
	if err != nil {
		t.Fatal(err)
	}
	err = engine.EvaluateRecord(context.Background(), testRecord(map[string]*float64{"temperature": ptr(95)}))
	if err != nil {
		t.Fatal(err)
	}
	if len(alertRepo.alerts) != 2 {
		t.Fatalf("expected a second alert after the cooldown, got %d", len(alertRepo.alerts))
	}
}

func TestAckAlertIsIdempotent(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	alertRepo := &stubAlertRepo{alerts: []rules.Alert{{ID: "alert-1", OrganizationID: "org-1"}}}
	engine, err := NewEngine(&stubRuleRepo{}, alertRepo, testLogger(), WithClock(fixedClock{now: now}))
	if err != nil {
		t.Fatal(err)
	}

	first, err := engine.AckAlert(context.Background(), "alert-1")
	if err != nil {
		t.Fatal(err)
	}
	if !first.Acknowledged || !first.AcknowledgedAt.Equal(now) {
		t.Fatalf("first ack not applied: %+v", first)
	}

	second, err := engine.AckAlert(context.Background(), "alert-1")
	if err != nil {
		t.Fatal(err)
	}
	if !second.AcknowledgedAt.Equal(now) {
		t.Fatalf("second ack must not move the timestamp: %v", second.AcknowledgedAt)
	}

	if _, err := engine.AckAlert(context.Background(), "missing"); err != rules.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
