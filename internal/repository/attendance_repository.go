package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/attendnet/attendnet-api/internal/models"
)

// AttendanceRepository persists per-(student, session) attendance rows.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// UpsertScan records one scan pass for a (student, session) pair. The counter
// arithmetic runs inside the statement so concurrent passes cannot lose an
// increment: total_scans always grows by one, present_count grows by one only
// when the pass saw the student present, and status reflects this pass.
func (r *AttendanceRepository) UpsertScan(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.UpdatedAt = now
	presentInc := 0
	if record.Status == models.AttendanceStatusPresent {
		presentInc = 1
	}
	query := `INSERT INTO attendance_records (id, student_id, session_id, department, status, present_count, total_scans, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, 1, $7)
ON CONFLICT (student_id, session_id)
DO UPDATE SET status = EXCLUDED.status,
    department = EXCLUDED.department,
    present_count = attendance_records.present_count + $6,
    total_scans = attendance_records.total_scans + 1,
    updated_at = EXCLUDED.updated_at
RETURNING id, student_id, session_id, department, status, present_count, total_scans, updated_at`
	var stored models.AttendanceRecord
	if err := r.db.GetContext(ctx, &stored, query,
		record.ID, record.StudentID, record.SessionID, record.Department,
		record.Status, presentInc, record.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("upsert attendance: %w", err)
	}
	return &stored, nil
}

// ListBySession returns the final per-student snapshot for a session joined
// with student identity.
func (r *AttendanceRepository) ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRow, error) {
	query := `SELECT ar.id, ar.student_id, ar.session_id, ar.department, ar.status,
        ar.present_count, ar.total_scans, ar.updated_at,
        s.name AS student_name, s.email AS student_email
FROM attendance_records ar
JOIN students s ON s.id = ar.student_id
WHERE ar.session_id = $1
ORDER BY s.name`
	var rows []models.AttendanceRow
	if err := r.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("list attendance by session: %w", err)
	}
	return rows, nil
}

// DeleteBySession removes attendance rows when a session is administratively
// deleted.
func (r *AttendanceRepository) DeleteBySession(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM attendance_records WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete attendance by session: %w", err)
	}
	return nil
}
