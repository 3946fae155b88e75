package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/attendnet/attendnet-api/internal/models"
)

// ExportRepository persists summary export jobs.
type ExportRepository struct {
	db *sqlx.DB
}

// NewExportRepository constructs the repository.
func NewExportRepository(db *sqlx.DB) *ExportRepository {
	return &ExportRepository{db: db}
}

// Create inserts a queued export job.
func (r *ExportRepository) Create(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.ExportStatusQueued
	}
	job.CreatedAt = time.Now().UTC()
	query := `INSERT INTO export_jobs (id, session_id, format, status, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.ExecContext(ctx, query,
		job.ID, job.SessionID, job.Format, job.Status, job.CreatedBy, job.CreatedAt,
	); err != nil {
		return fmt.Errorf("create export job: %w", err)
	}
	return nil
}

// GetByID returns one export job.
func (r *ExportRepository) GetByID(ctx context.Context, id string) (*models.ExportJob, error) {
	query := `SELECT id, session_id, format, status, file_path, result_url, error_message, created_by, created_at, finished_at
FROM export_jobs WHERE id = $1`
	var job models.ExportJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, fmt.Errorf("find export job: %w", err)
	}
	return &job, nil
}

// UpdateExportJobParams carries the mutable fields of an export job.
type UpdateExportJobParams struct {
	Status       *models.ExportStatus
	FilePath     *string
	ResultURL    *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

// Update applies the provided fields to a job row.
func (r *ExportRepository) Update(ctx context.Context, id string, params UpdateExportJobParams) error {
	query := `UPDATE export_jobs
SET status = COALESCE($2, status),
    file_path = COALESCE($3, file_path),
    result_url = COALESCE($4, result_url),
    error_message = COALESCE($5, error_message),
    finished_at = COALESCE($6, finished_at)
WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, params.Status, params.FilePath, params.ResultURL, params.ErrorMessage, params.FinishedAt)
	if err != nil {
		return fmt.Errorf("update export job: %w", err)
	}
	return requireRowAffected(res, "update export job")
}
