package telemetry

import (
	"context"
	"errors"
	"time"
)

// ErrMissingOrganization guards the tenancy invariant: a record is never
// persisted without its organization.
var ErrMissingOrganization = errors.New("telemetry: record missing organization id")

// TelemetryRecord is one ingested payload from one device. Measurement values
// may be null; a null is preserved as-is and left to downstream consumers to
// interpret.
type TelemetryRecord struct {
	ID               string
	DeviceExternalID string
	OrganizationID   string
	Timestamp        time.Time
	Measurements     map[string]*float64
	Metadata         map[string]string
	CreatedAt        time.Time
}

// Validate checks record invariants.
func (r TelemetryRecord) Validate() error {
	if r.ID == "" {
		return errors.New("telemetry: record missing id")
	}
	if r.DeviceExternalID == "" {
		return errors.New("telemetry: record missing device external id")
	}
	if r.OrganizationID == "" {
		return ErrMissingOrganization
	}
	if r.Timestamp.IsZero() {
		return errors.New("telemetry: record missing timestamp")
	}
	return nil
}

// RecordRepository persists telemetry records.
type RecordRepository interface {
	Insert(ctx context.Context, record *TelemetryRecord) error
	ListByDevice(ctx context.Context, deviceExternalID string, from, to time.Time, limit int) ([]TelemetryRecord, error)
}
