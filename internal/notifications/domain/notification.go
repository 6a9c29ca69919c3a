package notifications

import (
	"context"
	"errors"
	"time"
)

// Notification channels.
const (
	ChannelEmail   = "EMAIL"
	ChannelSMS     = "SMS"
	ChannelWebhook = "WEBHOOK"
	ChannelInApp   = "IN_APP"
)

// Delivery attempt statuses.
const (
	StatusSent     = "SENT"
	StatusFailed   = "FAILED"
	StatusPending  = "PENDING"
	StatusRetrying = "RETRYING"
)

// ErrNotFound marks a missing user or preference.
var ErrNotFound = errors.New("notifications: not found")

// ValidChannel reports whether name is a known channel.
func ValidChannel(name string) bool {
	switch name {
	case ChannelEmail, ChannelSMS, ChannelWebhook, ChannelInApp:
		return true
	default:
		return false
	}
}

// User is a notification recipient.
type User struct {
	ID             string
	OrganizationID string
	Name           string
	Email          string
	Phone          string
	CreatedAt      time.Time
}

// NotificationPreference is one user's delivery settings for one channel. A
// disabled preference suppresses the channel entirely; a non-immediate one
// defers delivery to a digest.
type NotificationPreference struct {
	ID                    string
	UserID                string
	OrganizationID        string
	Channel               string
	Enabled               bool
	Destination           string
	MinSeverity           string
	Immediate             bool
	DigestIntervalMinutes int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Validate checks preference invariants.
func (p NotificationPreference) Validate() error {
	if p.ID == "" {
		return errors.New("notifications: empty preference id")
	}
	if p.UserID == "" {
		return errors.New("notifications: empty user id")
	}
	if p.OrganizationID == "" {
		return errors.New("notifications: empty organization id")
	}
	if !ValidChannel(p.Channel) {
		return errors.New("notifications: invalid channel " + p.Channel)
	}
	return nil
}

// NotificationLog is one delivery attempt. Every attempt leaves a row,
// successful or not.
type NotificationLog struct {
	ID             string
	OrganizationID string
	UserID         string
	Channel        string
	Destination    string
	Subject        string
	Message        string
	Status         string
	Error          string
	AlertID        string
	GlobalAlertID  string
	CreatedAt      time.Time
}

// UserRepository manages user persistence. Reads return (nil, nil) when no
// row matches.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*User, error)
	ListByOrganization(ctx context.Context, organizationID string) ([]User, error)
	Save(ctx context.Context, user *User) error
}

// PreferenceRepository manages preference persistence.
type PreferenceRepository interface {
	GetByID(ctx context.Context, id string) (*NotificationPreference, error)
	ListByUser(ctx context.Context, userID string) ([]NotificationPreference, error)
	Save(ctx context.Context, pref *NotificationPreference) error
	Delete(ctx context.Context, id string) error
}

// LogRepository records delivery attempts.
type LogRepository interface {
	Create(ctx context.Context, entry *NotificationLog) error
	ListByOrganization(ctx context.Context, organizationID string, from, to time.Time, limit int) ([]NotificationLog, error)
}
