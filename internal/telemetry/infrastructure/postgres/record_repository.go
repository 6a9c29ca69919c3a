package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	telemetry "github.com/CodeFleck/sensorvision-sub010/internal/telemetry/domain"
)

// RecordRepository is a Postgres repository for telemetry records.
type RecordRepository struct {
	db *sql.DB
}

// NewRecordRepository constructs a repository.
func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Insert persists one record. Measurements keep their nulls in the stored
// JSON.
func (r *RecordRepository) Insert(ctx context.Context, record *telemetry.TelemetryRecord) error {
	if r == nil || r.db == nil {
		return errors.New("telemetry repo: nil db")
	}
	if record == nil {
		return errors.New("telemetry repo: nil record")
	}
	if err := record.Validate(); err != nil {
		return err
	}
	measurements, err := json.Marshal(record.Measurements)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return err
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO telemetry_records (id, device_external_id, organization_id, ts, measurements, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		record.ID, record.DeviceExternalID, record.OrganizationID,
		record.Timestamp.UTC(), measurements, metadata, createdAt)
	return err
}

// ListByDevice returns records for one device within a window, newest first.
func (r *RecordRepository) ListByDevice(ctx context.Context, deviceExternalID string, from, to time.Time, limit int) ([]telemetry.TelemetryRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("telemetry repo: nil db")
	}
	if deviceExternalID == "" {
		return nil, errors.New("telemetry repo: empty device external id")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, device_external_id, organization_id, ts, measurements, metadata, created_at
FROM telemetry_records
WHERE device_external_id = $1 AND ts >= $2 AND ts <= $3
ORDER BY ts DESC
LIMIT $4`, deviceExternalID, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []telemetry.TelemetryRecord
	for rows.Next() {
		var record telemetry.TelemetryRecord
		var measurements, metadata []byte
		if err := rows.Scan(
			&record.ID,
			&record.DeviceExternalID,
			&record.OrganizationID,
			&record.Timestamp,
			&measurements,
			&metadata,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(measurements) > 0 {
			if err := json.Unmarshal(measurements, &record.Measurements); err != nil {
				return nil, err
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
				return nil, err
			}
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
