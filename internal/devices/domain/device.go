package devices

import (
	"context"
	"errors"
	"time"
)

// Device lifecycle statuses.
const (
	StatusUnknown = "UNKNOWN"
	StatusOnline  = "ONLINE"
	StatusOffline = "OFFLINE"
)

// Device represents a registered field device. The external id is the stable
// identifier supplied by the device itself.
type Device struct {
	ExternalID      string
	OrganizationID  string
	Name            string
	Status          string
	LastSeenAt      time.Time
	Location        string
	SensorType      string
	FirmwareVersion string
	Tags            []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Validate checks device invariants.
func (d Device) Validate() error {
	if d.ExternalID == "" {
		return errors.New("device: empty external id")
	}
	if d.OrganizationID == "" {
		return errors.New("device: empty organization id")
	}
	return nil
}

// Organization is the tenant boundary every device belongs to.
type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Validate checks organization invariants.
func (o Organization) Validate() error {
	if o.ID == "" {
		return errors.New("organization: empty id")
	}
	if o.Name == "" {
		return errors.New("organization: empty name")
	}
	return nil
}

// DeviceRepository manages device persistence. Reads return (nil, nil) when
// no row matches.
type DeviceRepository interface {
	GetByExternalID(ctx context.Context, externalID string) (*Device, error)
	ListByOrganization(ctx context.Context, organizationID string) ([]Device, error)
	ListByTag(ctx context.Context, organizationID, tag string) ([]Device, error)
	ListByExternalIDs(ctx context.Context, externalIDs []string) ([]Device, error)
	Save(ctx context.Context, device *Device) error
	MarkOfflineLastSeenBefore(ctx context.Context, cutoff time.Time) (int, error)
	CountByStatus(ctx context.Context, status string) (int, error)
}

// OrganizationRepository manages organization persistence.
type OrganizationRepository interface {
	Get(ctx context.Context, id string) (*Organization, error)
	Save(ctx context.Context, org *Organization) error
}
