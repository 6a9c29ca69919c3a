package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	fleet "github.com/CodeFleck/sensorvision-sub010/internal/fleet/domain"
)

// Service manages the global rule catalog.
type Service struct {
	rules  fleet.GlobalRuleRepository
	alerts fleet.GlobalAlertRepository
	clock  Clock
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithServiceClock assigns a clock.
func WithServiceClock(clock Clock) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// NewService constructs a global rule service.
func NewService(ruleRepo fleet.GlobalRuleRepository, alertRepo fleet.GlobalAlertRepository, opts ...ServiceOption) (*Service, error) {
	if ruleRepo == nil {
		return nil, errors.New("fleet: nil rule repo")
	}
	if alertRepo == nil {
		return nil, errors.New("fleet: nil alert repo")
	}
	service := &Service{rules: ruleRepo, alerts: alertRepo, clock: systemClock{}}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// CreateRule validates and stores a new global rule. Selector and aggregation
// shape problems are rejected here, before the rule ever runs.
func (s *Service) CreateRule(ctx context.Context, rule fleet.GlobalRule) (*fleet.GlobalRule, error) {
	if s == nil {
		return nil, errors.New("fleet: nil service")
	}
	now := s.clock.Now().UTC()
	rule.ID = uuid.NewString()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.LastEvaluatedAt = time.Time{}
	rule.LastTriggeredAt = time.Time{}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.rules.Save(ctx, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// UpdateRule validates and stores changes to an existing global rule.
func (s *Service) UpdateRule(ctx context.Context, rule fleet.GlobalRule) (*fleet.GlobalRule, error) {
	if s == nil {
		return nil, errors.New("fleet: nil service")
	}
	if rule.ID == "" {
		return nil, errors.New("fleet: rule id required")
	}
	existing, err := s.rules.GetByID(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fleet.ErrNotFound
	}
	rule.CreatedAt = existing.CreatedAt
	rule.LastEvaluatedAt = existing.LastEvaluatedAt
	rule.LastTriggeredAt = existing.LastTriggeredAt
	rule.UpdatedAt = s.clock.Now().UTC()
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.rules.Save(ctx, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// DeleteRule removes a global rule.
func (s *Service) DeleteRule(ctx context.Context, id string) error {
	if s == nil {
		return errors.New("fleet: nil service")
	}
	if id == "" {
		return errors.New("fleet: rule id required")
	}
	existing, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return fleet.ErrNotFound
	}
	return s.rules.Delete(ctx, id)
}

// GetRule loads one global rule.
func (s *Service) GetRule(ctx context.Context, id string) (*fleet.GlobalRule, error) {
	if s == nil {
		return nil, errors.New("fleet: nil service")
	}
	if id == "" {
		return nil, errors.New("fleet: rule id required")
	}
	rule, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, fleet.ErrNotFound
	}
	return rule, nil
}

// ListRules returns an organization's global rules.
func (s *Service) ListRules(ctx context.Context, organizationID string) ([]fleet.GlobalRule, error) {
	if s == nil {
		return nil, errors.New("fleet: nil service")
	}
	if organizationID == "" {
		return nil, errors.New("fleet: organization id required")
	}
	return s.rules.ListByOrganization(ctx, organizationID)
}

// ListAlerts returns an organization's global alerts within a window.
func (s *Service) ListAlerts(ctx context.Context, organizationID string, from, to time.Time, limit int) ([]fleet.GlobalAlert, error) {
	if s == nil {
		return nil, errors.New("fleet: nil service")
	}
	if organizationID == "" {
		return nil, errors.New("fleet: organization id required")
	}
	if to.IsZero() {
		to = s.clock.Now().UTC()
	}
	return s.alerts.ListByOrganization(ctx, organizationID, from, to, limit)
}
