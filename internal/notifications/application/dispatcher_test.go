package application

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	fleet "github.com/CodeFleck/sensorvision-sub010/internal/fleet/domain"
	"github.com/CodeFleck/sensorvision-sub010/internal/notifications/application/channels"
	notifications "github.com/CodeFleck/sensorvision-sub010/internal/notifications/domain"
	rules "github.com/CodeFleck/sensorvision-sub010/internal/rules/domain"
)

type stubUserRepo struct {
	users []notifications.User
}

func (r *stubUserRepo) GetByID(_ context.Context, id string) (*notifications.User, error) {
	for i := range r.users {
		if r.users[i].ID == id {
			user := r.users[i]
			return &user, nil
		}
	}
	return nil, nil
}

func (r *stubUserRepo) ListByOrganization(_ context.Context, organizationID string) ([]notifications.User, error) {
	var out []notifications.User
	for _, user := range r.users {
		if user.OrganizationID == organizationID {
			out = append(out, user)
		}
	}
	return out, nil
}

func (r *stubUserRepo) Save(_ context.Context, user *notifications.User) error {
	r.users = append(r.users, *user)
	return nil
}

type stubPrefRepo struct {
	prefs []notifications.NotificationPreference
}

func (r *stubPrefRepo) GetByID(_ context.Context, id string) (*notifications.NotificationPreference, error) {
	for i := range r.prefs {
		if r.prefs[i].ID == id {
			pref := r.prefs[i]
			return &pref, nil
		}
	}
	return nil, nil
}

func (r *stubPrefRepo) ListByUser(_ context.Context, userID string) ([]notifications.NotificationPreference, error) {
	var out []notifications.NotificationPreference
	for _, pref := range r.prefs {
		if pref.UserID == userID {
			out = append(out, pref)
		}
	}
	return out, nil
}

func (r *stubPrefRepo) Save(_ context.Context, pref *notifications.NotificationPreference) error {
	r.prefs = append(r.prefs, *pref)
	return nil
}

func (r *stubPrefRepo) Delete(_ context.Context, _ string) error { return nil }

type stubLogRepo struct {
	entries []notifications.NotificationLog
}

func (r *stubLogRepo) Create(_ context.Context, entry *notifications.NotificationLog) error {
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *stubLogRepo) ListByOrganization(_ context.Context, organizationID string, _, _ time.Time, _ int) ([]notifications.NotificationLog, error) {
	var out []notifications.NotificationLog
	for _, entry := range r.entries {
		if entry.OrganizationID == organizationID {
			out = append(out, entry)
		}
	}
	return out, nil
}

type stubChannel struct {
	name string
	err  error
	sent []channels.Message
}

func (c *stubChannel) Name() string { return c.name }

func (c *stubChannel) Send(_ context.Context, msg channels.Message) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func testAlert() (rules.Alert, rules.Rule) {
	alert := rules.Alert{
		ID:               "alert-1",
		RuleID:           "rule-1",
		OrganizationID:   "org-1",
		DeviceExternalID: "dev-1",
		Severity:         rules.SeverityHigh,
		Message:          "Device dev-1: temperature 95.00 > 80.00",
	}
	return alert, rules.Rule{ID: "rule-1", OrganizationID: "org-1"}
}

func newTestDispatcher(t *testing.T, users *stubUserRepo, prefs *stubPrefRepo, logs *stubLogRepo, opts ...DispatcherOption) *Dispatcher {
	t.Helper()
	dispatcher, err := NewDispatcher(users, prefs, logs, log.New(os.Stderr, "", 0), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return dispatcher
}

func TestDispatchAlertDeliversPerPreference(t *testing.T) {
	users := &stubUserRepo{users: []notifications.User{{ID: "u1", OrganizationID: "org-1", Email: "ops@example.com"}}}
	prefs := &stubPrefRepo{prefs: []notifications.NotificationPreference{{
		ID: "p1", UserID: "u1", OrganizationID: "org-1",
		Channel: notifications.ChannelEmail, Enabled: true, Immediate: true,
	}}}
	logs := &stubLogRepo{}
	email := &stubChannel{name: notifications.ChannelEmail}
	dispatcher := newTestDispatcher(t, users, prefs, logs, WithChannel(email))

	alert, rule := testAlert()
	dispatcher.DispatchAlert(context.Background(), alert, rule)

	if len(email.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(email.sent))
	}
	if email.sent[0].Destination != "ops@example.com" {
		t.Fatalf("destination must fall back to the user's email, got %q", email.sent[0].Destination)
	}
	if len(logs.entries) != 1 || logs.entries[0].Status != notifications.StatusSent {
		t.Fatalf("expected one SENT log row, got %+v", logs.entries)
	}
	if logs.entries[0].AlertID != "alert-1" {
		t.Fatalf("log row must reference the alert, got %q", logs.entries[0].AlertID)
	}
}

func TestDispatchAlertFailureIsolation(t *testing.T) {
	users := &stubUserRepo{users: []notifications.User{{ID: "u1", OrganizationID: "org-1", Email: "ops@example.com", Phone: "+15550001111"}}}
	prefs := &stubPrefRepo{prefs: []notifications.NotificationPreference{
		{ID: "p1", UserID: "u1", OrganizationID: "org-1", Channel: notifications.ChannelEmail, Enabled: true, Immediate: true},
		{ID: "p2", UserID: "u1", OrganizationID: "org-1", Channel: notifications.ChannelSMS, Enabled: true, Immediate: true},
	}}
	logs := &stubLogRepo{}
	email := &stubChannel{name: notifications.ChannelEmail, err: errors.New("smtp down")}
	sms := &stubChannel{name: notifications.ChannelSMS}
	dispatcher := newTestDispatcher(t, users, prefs, logs, WithChannel(email), WithChannel(sms))

	alert, rule := testAlert()
	dispatcher.DispatchAlert(context.Background(), alert, rule)

	if len(sms.sent) != 1 {
		t.Fatalf("a failing channel must not block the others, sms sent %d", len(sms.sent))
	}
	if len(logs.entries) != 2 {
		t.Fatalf("every attempt leaves a row, got %d", len(logs.entries))
	}
	statuses := map[string]string{}
	for _, entry := range logs.entries {
		statuses[entry.Channel] = entry.Status
	}
	if statuses[notifications.ChannelEmail] != notifications.StatusFailed {
		t.Fatalf("email status = %s, want FAILED", statuses[notifications.ChannelEmail])
	}
	if statuses[notifications.ChannelSMS] != notifications.StatusSent {
		t.Fatalf("sms status = %s, want SENT", statuses[notifications.ChannelSMS])
	}
}

func TestDispatchAlertSeverityGate(t *testing.T) {
	users := &stubUserRepo{users: []notifications.User{{ID: "u1", OrganizationID: "org-1", Email: "ops@example.com"}}}
	prefs := &stubPrefRepo{prefs: []notifications.NotificationPreference{{
		ID: "p1", UserID: "u1", OrganizationID: "org-1",
		Channel: notifications.ChannelEmail, Enabled: true, Immediate: true,
		MinSeverity: rules.SeverityCritical,
	}}}
	logs := &stubLogRepo{}
	email := &stubChannel{name: notifications.ChannelEmail}
	dispatcher := newTestDispatcher(t, users, prefs, logs, WithChannel(email))

	alert, rule := testAlert() // HIGH
	dispatcher.DispatchAlert(context.Background(), alert, rule)

	if len(email.sent) != 0 || len(logs.entries) != 0 {
		t.Fatalf("HIGH must not pass a CRITICAL gate: sent=%d rows=%d", len(email.sent), len(logs.entries))
	}
}

func TestDispatchAlertDigestLeavesPendingRow(t *testing.T) {
	users := &stubUserRepo{users: []notifications.User{{ID: "u1", OrganizationID: "org-1", Email: "ops@example.com"}}}
	prefs := &stubPrefRepo{prefs: []notifications.NotificationPreference{{
		ID: "p1", UserID: "u1", OrganizationID: "org-1",
		Channel: notifications.ChannelEmail, Enabled: true, Immediate: false,
		DigestIntervalMinutes: 60,
	}}}
	logs := &stubLogRepo{}
	email := &stubChannel{name: notifications.ChannelEmail}
	dispatcher := newTestDispatcher(t, users, prefs, logs, WithChannel(email))

	alert, rule := testAlert()
	dispatcher.DispatchAlert(context.Background(), alert, rule)

	if len(email.sent) != 0 {
		t.Fatalf("digest preferences must not deliver immediately, sent %d", len(email.sent))
	}
	if len(logs.entries) != 1 || logs.entries[0].Status != notifications.StatusPending {
		t.Fatalf("expected one PENDING row, got %+v", logs.entries)
	}
}

func TestDispatchAlertChatWebhookIsUnconditional(t *testing.T) {
	logs := &stubLogRepo{}
	webhook := &stubChannel{name: notifications.ChannelWebhook}
	dispatcher := newTestDispatcher(t, &stubUserRepo{}, &stubPrefRepo{}, logs,
		WithChannel(webhook),
		WithChatWebhookURL("https://chat.example.com/hook"))

	alert, rule := testAlert()
	dispatcher.DispatchAlert(context.Background(), alert, rule)

	if len(webhook.sent) != 1 {
		t.Fatalf("chat webhook fires without any user preference, sent %d", len(webhook.sent))
	}
	if webhook.sent[0].Destination != "https://chat.example.com/hook" {
		t.Fatalf("unexpected destination %q", webhook.sent[0].Destination)
	}
}

func TestDispatchAlertRuleSMSFanout(t *testing.T) {
	logs := &stubLogRepo{}
	sms := &stubChannel{name: notifications.ChannelSMS}
	dispatcher := newTestDispatcher(t, &stubUserRepo{}, &stubPrefRepo{}, logs, WithChannel(sms))

	alert, rule := testAlert()
	rule.SendSMS = true
	rule.SMSRecipients = []string{"+15550001111", "", "+15550002222"}
	dispatcher.DispatchAlert(context.Background(), alert, rule)

	if len(sms.sent) != 2 {
		t.Fatalf("expected 2 SMS deliveries, got %d", len(sms.sent))
	}
}

func TestDispatchAlertMissingChannelRecordsFailure(t *testing.T) {
	users := &stubUserRepo{users: []notifications.User{{ID: "u1", OrganizationID: "org-1", Email: "ops@example.com"}}}
	prefs := &stubPrefRepo{prefs: []notifications.NotificationPreference{{
		ID: "p1", UserID: "u1", OrganizationID: "org-1",
		Channel: notifications.ChannelEmail, Enabled: true, Immediate: true,
	}}}
	logs := &stubLogRepo{}
	dispatcher := newTestDispatcher(t, users, prefs, logs)

	alert, rule := testAlert()
	dispatcher.DispatchAlert(context.Background(), alert, rule)

	if len(logs.entries) != 1 || logs.entries[0].Status != notifications.StatusFailed {
		t.Fatalf("an unconfigured channel records a FAILED row, got %+v", logs.entries)
	}
}

func TestDispatchGlobalAlertReferencesGlobalAlert(t *testing.T) {
	users := &stubUserRepo{users: []notifications.User{{ID: "u1", OrganizationID: "org-1", Email: "ops@example.com"}}}
	prefs := &stubPrefRepo{prefs: []notifications.NotificationPreference{{
		ID: "p1", UserID: "u1", OrganizationID: "org-1",
		Channel: notifications.ChannelEmail, Enabled: true, Immediate: true,
	}}}
	logs := &stubLogRepo{}
	email := &stubChannel{name: notifications.ChannelEmail}
	dispatcher := newTestDispatcher(t, users, prefs, logs, WithChannel(email))

	alert := fleet.GlobalAlert{ID: "ga-1", OrganizationID: "org-1", Severity: rules.SeverityMedium}
	rule := fleet.GlobalRule{ID: "gr-1", Name: "offline watch", OrganizationID: "org-1"}
	dispatcher.DispatchGlobalAlert(context.Background(), alert, rule)

	if len(logs.entries) != 1 {
		t.Fatalf("expected 1 log row, got %d", len(logs.entries))
	}
	if logs.entries[0].GlobalAlertID != "ga-1" || logs.entries[0].AlertID != "" {
		t.Fatalf("log row must reference the global alert, got %+v", logs.entries[0])
	}
}
