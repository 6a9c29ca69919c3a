package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	notifications "github.com/CodeFleck/sensorvision-sub010/internal/notifications/domain"
)

// Service manages users, preferences and the delivery log.
type Service struct {
	users notifications.UserRepository
	prefs notifications.PreferenceRepository
	logs  notifications.LogRepository
	clock Clock
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithServiceClock assigns a clock.
func WithServiceClock(clock Clock) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// NewService constructs a notifications service.
func NewService(userRepo notifications.UserRepository, prefRepo notifications.PreferenceRepository, logRepo notifications.LogRepository, opts ...ServiceOption) (*Service, error) {
	if userRepo == nil || prefRepo == nil || logRepo == nil {
		return nil, errNilRepo
	}
	service := &Service{users: userRepo, prefs: prefRepo, logs: logRepo, clock: systemClock{}}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// SaveUser upserts a user, assigning an id on first save.
func (s *Service) SaveUser(ctx context.Context, user notifications.User) (*notifications.User, error) {
	if s == nil {
		return nil, errors.New("notifications: nil service")
	}
	if user.OrganizationID == "" {
		return nil, errors.New("notifications: user missing organization id")
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
		user.CreatedAt = s.clock.Now().UTC()
	}
	if err := s.users.Save(ctx, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUsers returns an organization's users.
func (s *Service) ListUsers(ctx context.Context, organizationID string) ([]notifications.User, error) {
	if s == nil {
		return nil, errors.New("notifications: nil service")
	}
	if organizationID == "" {
		return nil, errors.New("notifications: organization id required")
	}
	return s.users.ListByOrganization(ctx, organizationID)
}

// SavePreference validates and upserts a preference, assigning an id on first
// save.
func (s *Service) SavePreference(ctx context.Context, pref notifications.NotificationPreference) (*notifications.NotificationPreference, error) {
	if s == nil {
		return nil, errors.New("notifications: nil service")
	}
	now := s.clock.Now().UTC()
	if pref.ID == "" {
		pref.ID = uuid.NewString()
		pref.CreatedAt = now
	}
	pref.UpdatedAt = now
	if err := pref.Validate(); err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, pref.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, notifications.ErrNotFound
	}
	if err := s.prefs.Save(ctx, &pref); err != nil {
		return nil, err
	}
	return &pref, nil
}

// ListPreferences returns a user's preferences.
func (s *Service) ListPreferences(ctx context.Context, userID string) ([]notifications.NotificationPreference, error) {
	if s == nil {
		return nil, errors.New("notifications: nil service")
	}
	if userID == "" {
		return nil, errors.New("notifications: user id required")
	}
	return s.prefs.ListByUser(ctx, userID)
}

// DeletePreference removes a preference.
func (s *Service) DeletePreference(ctx context.Context, id string) error {
	if s == nil {
		return errors.New("notifications: nil service")
	}
	if id == "" {
		return errors.New("notifications: preference id required")
	}
	existing, err := s.prefs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return notifications.ErrNotFound
	}
	return s.prefs.Delete(ctx, id)
}

// ListLogs returns an organization's delivery log within a window.
func (s *Service) ListLogs(ctx context.Context, organizationID string, from, to time.Time, limit int) ([]notifications.NotificationLog, error) {
	if s == nil {
		return nil, errors.New("notifications: nil service")
	}
	if organizationID == "" {
		return nil, errors.New("notifications: organization id required")
	}
	if to.IsZero() {
		to = s.clock.Now().UTC()
	}
	return s.logs.ListByOrganization(ctx, organizationID, from, to, limit)
}
