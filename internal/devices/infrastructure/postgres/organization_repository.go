package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	devices "github.com/CodeFleck/sensorvision-sub010/internal/devices/domain"
)

// OrganizationRepository is a Postgres repository for organizations.
type OrganizationRepository struct {
	db *sql.DB
}

// NewOrganizationRepository constructs a repository.
func NewOrganizationRepository(db *sql.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// Get loads an organization by id.
func (r *OrganizationRepository) Get(ctx context.Context, id string) (*devices.Organization, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("organization repo: nil db")
	}
	if id == "" {
		return nil, errors.New("organization repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, created_at
FROM organizations
WHERE id = $1
LIMIT 1`, id)
	var org devices.Organization
	if err := row.Scan(&org.ID, &org.Name, &org.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &org, nil
}

// Save upserts an organization.
func (r *OrganizationRepository) Save(ctx context.Context, org *devices.Organization) error {
	if r == nil || r.db == nil {
		return errors.New("organization repo: nil db")
	}
	if org == nil {
		return errors.New("organization repo: nil organization")
	}
	if err := org.Validate(); err != nil {
		return err
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO organizations (id, name, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (id)
DO UPDATE SET name = EXCLUDED.name`, org.ID, org.Name, org.CreatedAt)
	return err
}
