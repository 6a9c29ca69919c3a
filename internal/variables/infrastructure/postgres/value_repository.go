package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	variables "github.com/CodeFleck/sensorvision-sub010/internal/variables/domain"
)

// ValueRepository is a Postgres repository for the append-only sample log.
type ValueRepository struct {
	db *sql.DB
}

// NewValueRepository constructs a repository.
func NewValueRepository(db *sql.DB) *ValueRepository {
	return &ValueRepository{db: db}
}

// Append inserts one sample.
func (r *ValueRepository) Append(ctx context.Context, value *variables.VariableValue) error {
	if r == nil || r.db == nil {
		return errors.New("variable value repo: nil db")
	}
	if value == nil {
		return errors.New("variable value repo: nil value")
	}
	if value.VariableID == "" {
		return errors.New("variable value repo: empty variable id")
	}
	createdAt := value.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO variable_values (id, variable_id, value, ts, record_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		value.ID, value.VariableID, value.Value, value.Timestamp.UTC(),
		nullString(value.RecordID), createdAt)
	return err
}

// ListByVariable returns samples for one variable within a window, newest
// first.
func (r *ValueRepository) ListByVariable(ctx context.Context, variableID string, from, to time.Time, limit int) ([]variables.VariableValue, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("variable value repo: nil db")
	}
	if variableID == "" {
		return nil, errors.New("variable value repo: empty variable id")
	}
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, variable_id, value, ts, COALESCE(record_id, ''), created_at
FROM variable_values
WHERE variable_id = $1 AND ts >= $2 AND ts <= $3
ORDER BY ts DESC
LIMIT $4`, variableID, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []variables.VariableValue
	for rows.Next() {
		var value variables.VariableValue
		if err := rows.Scan(&value.ID, &value.VariableID, &value.Value, &value.Timestamp, &value.RecordID, &value.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
