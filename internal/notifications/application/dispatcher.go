package application

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	fleet "github.com/CodeFleck/sensorvision-sub010/internal/fleet/domain"
	"github.com/CodeFleck/sensorvision-sub010/internal/notifications/application/channels"
	notifications "github.com/CodeFleck/sensorvision-sub010/internal/notifications/domain"
	"github.com/CodeFleck/sensorvision-sub010/internal/observability/metrics"
	rules "github.com/CodeFleck/sensorvision-sub010/internal/rules/domain"
)

var errNilRepo = errors.New("notifications: nil repository")

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Dispatcher fans alerts out to notification channels. A failed delivery is
// logged and recorded but never stops the remaining deliveries, and nothing
// here ever propagates an error back into the alerting path.
type Dispatcher struct {
	users          notifications.UserRepository
	prefs          notifications.PreferenceRepository
	logs           notifications.LogRepository
	channels       map[string]channels.Channel
	chatWebhookURL string
	clock          Clock
	logger         *log.Logger
}

// DispatcherOption customizes the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithChannel registers a delivery channel.
func WithChannel(channel channels.Channel) DispatcherOption {
	return func(d *Dispatcher) {
		if channel != nil {
			d.channels[channel.Name()] = channel
		}
	}
}

// WithChatWebhookURL assigns the organization chat webhook, notified on every
// alert regardless of user preferences.
func WithChatWebhookURL(url string) DispatcherOption {
	return func(d *Dispatcher) {
		d.chatWebhookURL = url
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) DispatcherOption {
	return func(d *Dispatcher) {
		d.clock = clock
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(userRepo notifications.UserRepository, prefRepo notifications.PreferenceRepository, logRepo notifications.LogRepository, logger *log.Logger, opts ...DispatcherOption) (*Dispatcher, error) {
	if userRepo == nil || prefRepo == nil || logRepo == nil {
		return nil, errNilRepo
	}
	if logger == nil {
		logger = log.Default()
	}
	dispatcher := &Dispatcher{
		users:    userRepo,
		prefs:    prefRepo,
		logs:     logRepo,
		channels: make(map[string]channels.Channel),
		clock:    systemClock{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(dispatcher)
	}
	return dispatcher, nil
}

// DispatchAlert delivers a device alert.
func (d *Dispatcher) DispatchAlert(ctx context.Context, alert rules.Alert, rule rules.Rule) {
	if d == nil {
		return
	}
	subject := "Alert " + alert.Severity + ": device " + alert.DeviceExternalID
	d.dispatch(ctx, alert.OrganizationID, subject, alert.Message, alert.Severity, alert.ID, "", rule.SendSMS, rule.SMSRecipients)
}

// DispatchGlobalAlert delivers a fleet-wide alert.
func (d *Dispatcher) DispatchGlobalAlert(ctx context.Context, alert fleet.GlobalAlert, rule fleet.GlobalRule) {
	if d == nil {
		return
	}
	subject := "Global alert " + alert.Severity + ": " + rule.Name
	d.dispatch(ctx, alert.OrganizationID, subject, alert.Message, alert.Severity, "", alert.ID, rule.SendSMS, rule.SMSRecipients)
}

func (d *Dispatcher) dispatch(ctx context.Context, organizationID, subject, message, severity, alertID, globalAlertID string, sendSMS bool, smsRecipients []string) {
	if d.chatWebhookURL != "" {
		d.attempt(ctx, attempt{
			organizationID: organizationID,
			channel:        notifications.ChannelWebhook,
			destination:    d.chatWebhookURL,
			subject:        subject,
			message:        message,
			alertID:        alertID,
			globalAlertID:  globalAlertID,
		})
	}

	if sendSMS {
		for _, recipient := range smsRecipients {
			if recipient == "" {
				continue
			}
			d.attempt(ctx, attempt{
				organizationID: organizationID,
				channel:        notifications.ChannelSMS,
				destination:    recipient,
				subject:        subject,
				message:        message,
				alertID:        alertID,
				globalAlertID:  globalAlertID,
			})
		}
	}

	if organizationID == "" {
		return
	}
	users, err := d.users.ListByOrganization(ctx, organizationID)
	if err != nil {
		d.logger.Printf("notifications: list users for %s: %v", organizationID, err)
		return
	}
	for _, user := range users {
		prefs, err := d.prefs.ListByUser(ctx, user.ID)
		if err != nil {
			d.logger.Printf("notifications: list preferences for user %s: %v", user.ID, err)
			continue
		}
		for _, pref := range prefs {
			if !pref.Enabled {
				continue
			}
			if rules.SeverityRank(severity) < rules.SeverityRank(pref.MinSeverity) {
				continue
			}
			destination := resolveDestination(pref, user)
			if destination == "" {
				continue
			}
			if !pref.Immediate {
				// Deferred to the user's digest; leave a pending row so the
				// attempt is visible.
				d.record(ctx, attempt{
					organizationID: organizationID,
					userID:         user.ID,
					channel:        pref.Channel,
					destination:    destination,
					subject:        subject,
					message:        message,
					alertID:        alertID,
					globalAlertID:  globalAlertID,
				}, notifications.StatusPending, "")
				continue
			}
			d.attempt(ctx, attempt{
				organizationID: organizationID,
				userID:         user.ID,
				channel:        pref.Channel,
				destination:    destination,
				subject:        subject,
				message:        message,
				alertID:        alertID,
				globalAlertID:  globalAlertID,
			})
		}
	}
}

type attempt struct {
	organizationID string
	userID         string
	channel        string
	destination    string
	subject        string
	message        string
	alertID        string
	globalAlertID  string
}

func (d *Dispatcher) attempt(ctx context.Context, a attempt) {
	channel, ok := d.channels[a.channel]
	if !ok {
		d.record(ctx, a, notifications.StatusFailed, "channel not configured")
		metrics.IncDispatch(a.channel, notifications.StatusFailed)
		return
	}
	err := channel.Send(ctx, channels.Message{
		OrganizationID: a.organizationID,
		Destination:    a.destination,
		Subject:        a.subject,
		Body:           a.message,
	})
	if err != nil {
		d.logger.Printf("notifications: %s to %s: %v", a.channel, a.destination, err)
		d.record(ctx, a, notifications.StatusFailed, err.Error())
		metrics.IncDispatch(a.channel, notifications.StatusFailed)
		return
	}
	d.record(ctx, a, notifications.StatusSent, "")
	metrics.IncDispatch(a.channel, notifications.StatusSent)
}

func (d *Dispatcher) record(ctx context.Context, a attempt, status, errText string) {
	entry := &notifications.NotificationLog{
		ID:             uuid.NewString(),
		OrganizationID: a.organizationID,
		UserID:         a.userID,
		Channel:        a.channel,
		Destination:    a.destination,
		Subject:        a.subject,
		Message:        a.message,
		Status:         status,
		Error:          errText,
		AlertID:        a.alertID,
		GlobalAlertID:  a.globalAlertID,
		CreatedAt:      d.clock.Now().UTC(),
	}
	if err := d.logs.Create(ctx, entry); err != nil {
		d.logger.Printf("notifications: record log: %v", err)
	}
}

// resolveDestination prefers the preference's override and falls back to the
// user's profile address for the channel.
func resolveDestination(pref notifications.NotificationPreference, user notifications.User) string {
	if pref.Destination != "" {
		return pref.Destination
	}
	switch pref.Channel {
	case notifications.ChannelEmail:
		return user.Email
	case notifications.ChannelSMS:
		return user.Phone
	case notifications.ChannelInApp:
		return user.ID
	default:
		return ""
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
