package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	variables "github.com/CodeFleck/sensorvision-sub010/internal/variables/domain"
)

const uniqueViolation = "23505"

// VariableRepository is a Postgres repository for the variable catalog.
type VariableRepository struct {
	db *sql.DB
}

// NewVariableRepository constructs a repository.
func NewVariableRepository(db *sql.DB) *VariableRepository {
	return &VariableRepository{db: db}
}

const variableColumns = `
id, device_external_id, organization_id, name, display_name, data_source,
last_value, last_value_at, created_at, updated_at`

// FindByDeviceAndName loads a variable by its natural key.
func (r *VariableRepository) FindByDeviceAndName(ctx context.Context, deviceExternalID, name string) (*variables.Variable, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("variable repo: nil db")
	}
	if deviceExternalID == "" || name == "" {
		return nil, errors.New("variable repo: empty device external id or name")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT`+variableColumns+`
FROM variables
WHERE device_external_id = $1 AND name = $2
LIMIT 1`, deviceExternalID, name)
	return scanVariable(row)
}

// Create inserts a new variable. A uniqueness violation on (device, name)
// surfaces as variables.ErrDuplicate so callers can recover from insert races.
func (r *VariableRepository) Create(ctx context.Context, variable *variables.Variable) error {
	if r == nil || r.db == nil {
		return errors.New("variable repo: nil db")
	}
	if variable == nil {
		return errors.New("variable repo: nil variable")
	}
	if err := variable.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO variables (
	id, device_external_id, organization_id, name, display_name, data_source,
	last_value, last_value_at, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10
)`,
		variable.ID, variable.DeviceExternalID, variable.OrganizationID,
		variable.Name, variable.DisplayName, variable.DataSource,
		nullFloat(variable.LastValue), nullTime(variable.LastValueAt),
		variable.CreatedAt, variable.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return variables.ErrDuplicate
		}
		return err
	}
	return nil
}

// UpdateLatest advances the latest-value projection.
func (r *VariableRepository) UpdateLatest(ctx context.Context, variableID string, value float64, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("variable repo: nil db")
	}
	if variableID == "" {
		return errors.New("variable repo: empty variable id")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE variables
SET last_value = $1, last_value_at = $2, updated_at = $3
WHERE id = $4`,
		value, at.UTC(), time.Now().UTC(), variableID)
	return err
}

// ListByDevice returns a device's variables ordered by name.
func (r *VariableRepository) ListByDevice(ctx context.Context, deviceExternalID string) ([]variables.Variable, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("variable repo: nil db")
	}
	if deviceExternalID == "" {
		return nil, errors.New("variable repo: empty device external id")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT`+variableColumns+`
FROM variables
WHERE device_external_id = $1
ORDER BY name ASC`, deviceExternalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []variables.Variable
	for rows.Next() {
		variable, err := scanVariable(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *variable)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// LatestValuesByDevices returns the latest value of one named variable for
// each listed device. Devices without a recorded value are absent from the
// result.
func (r *VariableRepository) LatestValuesByDevices(ctx context.Context, deviceExternalIDs []string, name string) (map[string]float64, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("variable repo: nil db")
	}
	if name == "" {
		return nil, errors.New("variable repo: empty name")
	}
	result := make(map[string]float64)
	if len(deviceExternalIDs) == 0 {
		return result, nil
	}
	ids, err := marshalIDs(deviceExternalIDs)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT device_external_id, last_value
FROM variables
WHERE name = $1
  AND last_value IS NOT NULL
  AND device_external_id IN (SELECT jsonb_array_elements_text($2::jsonb))`, name, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var deviceID string
		var value float64
		if err := rows.Scan(&deviceID, &value); err != nil {
			return nil, err
		}
		result[deviceID] = value
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func marshalIDs(ids []string) ([]byte, error) {
	return json.Marshal(ids)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVariable(row rowScanner) (*variables.Variable, error) {
	var variable variables.Variable
	var lastValue sql.NullFloat64
	var lastValueAt sql.NullTime
	if err := row.Scan(
		&variable.ID,
		&variable.DeviceExternalID,
		&variable.OrganizationID,
		&variable.Name,
		&variable.DisplayName,
		&variable.DataSource,
		&lastValue,
		&lastValueAt,
		&variable.CreatedAt,
		&variable.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if lastValue.Valid {
		value := lastValue.Float64
		variable.LastValue = &value
	}
	if lastValueAt.Valid {
		variable.LastValueAt = lastValueAt.Time
	}
	return &variable, nil
}

func nullFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}

func nullTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}
