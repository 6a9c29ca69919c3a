package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	notifications "github.com/CodeFleck/sensorvision-sub010/internal/notifications/domain"
)

// UserRepository is a Postgres repository for notification recipients.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository constructs a repository.
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID loads a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*notifications.User, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("user repo: nil db")
	}
	if id == "" {
		return nil, errors.New("user repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, organization_id, name, email, phone, created_at
FROM users
WHERE id = $1
LIMIT 1`, id)
	var user notifications.User
	if err := row.Scan(&user.ID, &user.OrganizationID, &user.Name, &user.Email, &user.Phone, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// ListByOrganization returns an organization's users.
func (r *UserRepository) ListByOrganization(ctx context.Context, organizationID string) ([]notifications.User, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("user repo: nil db")
	}
	if organizationID == "" {
		return nil, errors.New("user repo: empty organization id")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, organization_id, name, email, phone, created_at
FROM users
WHERE organization_id = $1
ORDER BY name ASC`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []notifications.User
	for rows.Next() {
		var user notifications.User
		if err := rows.Scan(&user.ID, &user.OrganizationID, &user.Name, &user.Email, &user.Phone, &user.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Save upserts a user.
func (r *UserRepository) Save(ctx context.Context, user *notifications.User) error {
	if r == nil || r.db == nil {
		return errors.New("user repo: nil db")
	}
	if user == nil {
		return errors.New("user repo: nil user")
	}
	if user.ID == "" || user.OrganizationID == "" {
		return errors.New("user repo: empty id or organization id")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO users (id, organization_id, name, email, phone, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id)
DO UPDATE SET
	organization_id = EXCLUDED.organization_id,
	name = EXCLUDED.name,
	email = EXCLUDED.email,
	phone = EXCLUDED.phone`,
		user.ID, user.OrganizationID, user.Name, user.Email, user.Phone, user.CreatedAt)
	return err
}
