package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	devices "github.com/CodeFleck/sensorvision-sub010/internal/devices/domain"
)

// DeviceRepository is a Postgres repository for devices.
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

const deviceColumns = `
external_id, organization_id, name, status, last_seen_at, location,
sensor_type, firmware_version, tags, created_at, updated_at`

// GetByExternalID loads a device by its external id.
func (r *DeviceRepository) GetByExternalID(ctx context.Context, externalID string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if externalID == "" {
		return nil, errors.New("device repo: empty external id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT`+deviceColumns+`
FROM devices
WHERE external_id = $1
LIMIT 1`, externalID)
	return scanDevice(row)
}

// ListByOrganization returns all devices in an organization.
func (r *DeviceRepository) ListByOrganization(ctx context.Context, organizationID string) ([]devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if organizationID == "" {
		return nil, errors.New("device repo: empty organization id")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT`+deviceColumns+`
FROM devices
WHERE organization_id = $1
ORDER BY external_id ASC`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDevices(rows)
}

// ListByTag returns organization devices carrying a tag.
func (r *DeviceRepository) ListByTag(ctx context.Context, organizationID, tag string) ([]devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if organizationID == "" || tag == "" {
		return nil, errors.New("device repo: empty organization id or tag")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT`+deviceColumns+`
FROM devices
WHERE organization_id = $1 AND tags @> to_jsonb(ARRAY[$2::text])
ORDER BY external_id ASC`, organizationID, tag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDevices(rows)
}

// ListByExternalIDs returns devices for an explicit id set.
func (r *DeviceRepository) ListByExternalIDs(ctx context.Context, externalIDs []string) ([]devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if len(externalIDs) == 0 {
		return nil, nil
	}
	ids, err := json.Marshal(externalIDs)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT`+deviceColumns+`
FROM devices
WHERE external_id IN (SELECT jsonb_array_elements_text($1::jsonb))
ORDER BY external_id ASC`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDevices(rows)
}

// Save upserts a device keyed by external id.
func (r *DeviceRepository) Save(ctx context.Context, device *devices.Device) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil {
		return errors.New("device repo: nil device")
	}
	if err := device.Validate(); err != nil {
		return err
	}
	if device.Status == "" {
		device.Status = devices.StatusUnknown
	}
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	tags, err := json.Marshal(device.Tags)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO devices (
	external_id, organization_id, name, status, last_seen_at, location,
	sensor_type, firmware_version, tags, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10, $11
)
ON CONFLICT (external_id)
DO UPDATE SET
	organization_id = EXCLUDED.organization_id,
	name = EXCLUDED.name,
	status = EXCLUDED.status,
	last_seen_at = EXCLUDED.last_seen_at,
	location = EXCLUDED.location,
	sensor_type = EXCLUDED.sensor_type,
	firmware_version = EXCLUDED.firmware_version,
	tags = EXCLUDED.tags,
	updated_at = EXCLUDED.updated_at`,
		device.ExternalID, device.OrganizationID, device.Name, device.Status,
		nullTime(device.LastSeenAt), device.Location, device.SensorType,
		device.FirmwareVersion, tags, device.CreatedAt, device.UpdatedAt)
	return err
}

// MarkOfflineLastSeenBefore flips ONLINE devices to OFFLINE when stale.
func (r *DeviceRepository) MarkOfflineLastSeenBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("device repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE devices
SET status = $1, updated_at = $2
WHERE status = $3 AND (last_seen_at IS NULL OR last_seen_at < $4)`,
		devices.StatusOffline, time.Now().UTC(), devices.StatusOnline, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// CountByStatus counts devices in a lifecycle status.
func (r *DeviceRepository) CountByStatus(ctx context.Context, status string) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("device repo: nil db")
	}
	var count int
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM devices WHERE status = $1`, status).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*devices.Device, error) {
	var device devices.Device
	var lastSeen sql.NullTime
	var tags []byte
	if err := row.Scan(
		&device.ExternalID,
		&device.OrganizationID,
		&device.Name,
		&device.Status,
		&lastSeen,
		&device.Location,
		&device.SensorType,
		&device.FirmwareVersion,
		&tags,
		&device.CreatedAt,
		&device.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if lastSeen.Valid {
		device.LastSeenAt = lastSeen.Time
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &device.Tags); err != nil {
			return nil, err
		}
	}
	return &device, nil
}

func scanDevices(rows *sql.Rows) ([]devices.Device, error) {
	var result []devices.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}
