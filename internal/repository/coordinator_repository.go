package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/attendnet/attendnet-api/internal/models"
)

// CoordinatorRepository persists coordinator accounts.
type CoordinatorRepository struct {
	db *sqlx.DB
}

// NewCoordinatorRepository constructs the repository.
func NewCoordinatorRepository(db *sqlx.DB) *CoordinatorRepository {
	return &CoordinatorRepository{db: db}
}

// Create inserts a coordinator account. Email is unique.
func (r *CoordinatorRepository) Create(ctx context.Context, coordinator *models.Coordinator) error {
	if coordinator.ID == "" {
		coordinator.ID = uuid.NewString()
	}
	coordinator.CreatedAt = time.Now().UTC()
	query := `INSERT INTO coordinators (id, name, email, password_hash, department, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.ExecContext(ctx, query,
		coordinator.ID, coordinator.Name, coordinator.Email, coordinator.PasswordHash,
		coordinator.Department, coordinator.CreatedAt,
	); err != nil {
		return fmt.Errorf("create coordinator: %w", err)
	}
	return nil
}

// FindByEmail returns a coordinator by login email.
func (r *CoordinatorRepository) FindByEmail(ctx context.Context, email string) (*models.Coordinator, error) {
	query := `SELECT id, name, email, password_hash, department, created_at FROM coordinators WHERE email = $1`
	var coordinator models.Coordinator
	if err := r.db.GetContext(ctx, &coordinator, query, email); err != nil {
		return nil, fmt.Errorf("find coordinator by email: %w", err)
	}
	return &coordinator, nil
}

// FindByID returns a coordinator by id.
func (r *CoordinatorRepository) FindByID(ctx context.Context, id string) (*models.Coordinator, error) {
	query := `SELECT id, name, email, password_hash, department, created_at FROM coordinators WHERE id = $1`
	var coordinator models.Coordinator
	if err := r.db.GetContext(ctx, &coordinator, query, id); err != nil {
		return nil, fmt.Errorf("find coordinator: %w", err)
	}
	return &coordinator, nil
}
