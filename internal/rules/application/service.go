package application

import (
	"context"
	"errors"

	"github.com/google/uuid"

	rules "github.com/CodeFleck/sensorvision-sub010/internal/rules/domain"
)

// RuleService manages the rule catalog.
type RuleService struct {
	rules rules.RuleRepository
	clock Clock
}

// NewRuleService constructs a rule service.
func NewRuleService(ruleRepo rules.RuleRepository, opts ...RuleServiceOption) (*RuleService, error) {
	if ruleRepo == nil {
		return nil, errors.New("rules: nil rule repo")
	}
	service := &RuleService{rules: ruleRepo, clock: systemClock{}}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// RuleServiceOption customizes the rule service.
type RuleServiceOption func(*RuleService)

// WithServiceClock assigns a clock.
func WithServiceClock(clock Clock) RuleServiceOption {
	return func(s *RuleService) {
		s.clock = clock
	}
}

// CreateRule validates and stores a new rule.
func (s *RuleService) CreateRule(ctx context.Context, rule rules.Rule) (*rules.Rule, error) {
	if s == nil {
		return nil, errors.New("rules: nil service")
	}
	now := s.clock.Now().UTC()
	rule.ID = uuid.NewString()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.rules.Save(ctx, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// UpdateRule validates and stores changes to an existing rule.
func (s *RuleService) UpdateRule(ctx context.Context, rule rules.Rule) (*rules.Rule, error) {
	if s == nil {
		return nil, errors.New("rules: nil service")
	}
	if rule.ID == "" {
		return nil, errors.New("rules: rule id required")
	}
	existing, err := s.rules.GetByID(ctx, rule.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, rules.ErrNotFound
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = s.clock.Now().UTC()
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.rules.Save(ctx, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// DeleteRule removes a rule.
func (s *RuleService) DeleteRule(ctx context.Context, id string) error {
	if s == nil {
		return errors.New("rules: nil service")
	}
	if id == "" {
		return errors.New("rules: rule id required")
	}
	existing, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return rules.ErrNotFound
	}
	return s.rules.Delete(ctx, id)
}

// GetRule loads one rule.
func (s *RuleService) GetRule(ctx context.Context, id string) (*rules.Rule, error) {
	if s == nil {
		return nil, errors.New("rules: nil service")
	}
	if id == "" {
		return nil, errors.New("rules: rule id required")
	}
	rule, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, rules.ErrNotFound
	}
	return rule, nil
}

// ListRules returns an organization's rules.
func (s *RuleService) ListRules(ctx context.Context, organizationID string) ([]rules.Rule, error) {
	if s == nil {
		return nil, errors.New("rules: nil service")
	}
	if organizationID == "" {
		return nil, errors.New("rules: organization id required")
	}
	return s.rules.ListByOrganization(ctx, organizationID)
}
