package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	devices "github.com/CodeFleck/sensorvision-sub010/internal/devices/domain"
	variables "github.com/CodeFleck/sensorvision-sub010/internal/variables/domain"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// LatestCache mirrors latest values into a fast read path. Failures are not
// fatal to the write path.
type LatestCache interface {
	SetLatest(ctx context.Context, deviceExternalID, name string, value float64, at time.Time) error
}

// Registry maintains the per-device variable catalog and its latest-value
// projection.
type Registry struct {
	variables variables.Repository
	values    variables.ValueRepository
	cache     LatestCache
	clock     Clock
}

// RegistryOption customizes the registry.
type RegistryOption func(*Registry)

// WithLatestCache assigns a latest-value cache.
func WithLatestCache(cache LatestCache) RegistryOption {
	return func(r *Registry) {
		r.cache = cache
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) RegistryOption {
	return func(r *Registry) {
		r.clock = clock
	}
}

// NewRegistry constructs a registry.
func NewRegistry(variableRepo variables.Repository, valueRepo variables.ValueRepository, opts ...RegistryOption) (*Registry, error) {
	if variableRepo == nil {
		return nil, errors.New("variables: nil variable repo")
	}
	if valueRepo == nil {
		return nil, errors.New("variables: nil value repo")
	}
	registry := &Registry{
		variables: variableRepo,
		values:    valueRepo,
		clock:     systemClock{},
	}
	for _, opt := range opts {
		opt(registry)
	}
	return registry, nil
}

// GetOrCreate resolves the variable for (device, name), provisioning it on
// first sight. A uniqueness violation from a concurrent insert triggers one
// re-read; a missing row after that is surfaced as an error rather than
// retried.
func (r *Registry) GetOrCreate(ctx context.Context, device *devices.Device, name string) (*variables.Variable, error) {
	if r == nil {
		return nil, errors.New("variables: nil registry")
	}
	if device == nil {
		return nil, errors.New("variables: nil device")
	}
	if name == "" {
		return nil, errors.New("variables: empty name")
	}

	existing, err := r.variables.FindByDeviceAndName(ctx, device.ExternalID, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := r.clock.Now().UTC()
	variable := &variables.Variable{
		ID:               uuid.NewString(),
		DeviceExternalID: device.ExternalID,
		OrganizationID:   device.OrganizationID,
		Name:             name,
		DisplayName:      variables.HumanizeName(name),
		DataSource:       variables.SourceAuto,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err = r.variables.Create(ctx, variable)
	if err == nil {
		return variable, nil
	}
	if !errors.Is(err, variables.ErrDuplicate) {
		return nil, err
	}

	winner, err := r.variables.FindByDeviceAndName(ctx, device.ExternalID, name)
	if err != nil {
		return nil, err
	}
	if winner == nil {
		return nil, fmt.Errorf("%w: device %s name %s", variables.ErrRaceRecovery, device.ExternalID, name)
	}
	return winner, nil
}

// RecordValue appends a sample and advances the latest-value projection when
// the sample is not strictly older than the stored one.
func (r *Registry) RecordValue(ctx context.Context, variable *variables.Variable, value float64, timestamp time.Time, recordID string) (*variables.VariableValue, error) {
	if r == nil {
		return nil, errors.New("variables: nil registry")
	}
	if variable == nil {
		return nil, errors.New("variables: nil variable")
	}
	if timestamp.IsZero() {
		timestamp = r.clock.Now()
	}
	timestamp = timestamp.UTC()

	sample := &variables.VariableValue{
		ID:         uuid.NewString(),
		VariableID: variable.ID,
		Value:      value,
		Timestamp:  timestamp,
		RecordID:   recordID,
		CreatedAt:  r.clock.Now().UTC(),
	}
	if err := r.values.Append(ctx, sample); err != nil {
		return nil, err
	}

	if variable.LastValueAt.IsZero() || !timestamp.Before(variable.LastValueAt) {
		if err := r.variables.UpdateLatest(ctx, variable.ID, value, timestamp); err != nil {
			return nil, err
		}
		latest := value
		variable.LastValue = &latest
		variable.LastValueAt = timestamp
		if r.cache != nil {
			// Cache writes are best effort; the store already holds the projection.
			_ = r.cache.SetLatest(ctx, variable.DeviceExternalID, variable.Name, value, timestamp)
		}
	}
	return sample, nil
}

// ProcessTelemetry resolves and records every non-null measurement of one
// telemetry record. Null measurements never reach the catalog. An empty
// measurement set returns without touching the store.
func (r *Registry) ProcessTelemetry(ctx context.Context, device *devices.Device, measurements map[string]*float64, timestamp time.Time, recordID string) (map[string]variables.VariableValue, error) {
	if r == nil {
		return nil, errors.New("variables: nil registry")
	}
	if device == nil {
		return nil, errors.New("variables: nil device")
	}
	recorded := make(map[string]variables.VariableValue)
	if len(measurements) == 0 {
		return recorded, nil
	}
	for name, value := range measurements {
		if value == nil {
			continue
		}
		variable, err := r.GetOrCreate(ctx, device, name)
		if err != nil {
			return nil, err
		}
		sample, err := r.RecordValue(ctx, variable, *value, timestamp, recordID)
		if err != nil {
			return nil, err
		}
		recorded[name] = *sample
	}
	return recorded, nil
}

// ListByDevice returns the device's variable catalog.
func (r *Registry) ListByDevice(ctx context.Context, deviceExternalID string) ([]variables.Variable, error) {
	if r == nil {
		return nil, errors.New("variables: nil registry")
	}
	if deviceExternalID == "" {
		return nil, errors.New("variables: empty device external id")
	}
	return r.variables.ListByDevice(ctx, deviceExternalID)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
