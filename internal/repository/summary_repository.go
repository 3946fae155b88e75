package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/attendnet/attendnet-api/internal/models"
)

const summaryColumns = `id, session_id, coordinator_id, course, date, start_time, end_time,
        interval_minutes, departments, total_students, present_students, absent_students,
        attendance_rate, records, total_scans_performed, session_ended_at, created_at`

// SummaryRepository persists immutable session summaries.
type SummaryRepository struct {
	db *sqlx.DB
}

// NewSummaryRepository constructs the repository.
func NewSummaryRepository(db *sqlx.DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

// Create inserts a summary. session_id carries a unique index, so a second
// finalization attempt fails with a unique violation rather than writing a
// duplicate row.
func (r *SummaryRepository) Create(ctx context.Context, summary *models.SessionSummary) error {
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	summary.CreatedAt = time.Now().UTC()
	query := `INSERT INTO session_summaries (id, session_id, coordinator_id, course, date, start_time, end_time,
        interval_minutes, departments, total_students, present_students, absent_students,
        attendance_rate, records, total_scans_performed, session_ended_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	if _, err := r.db.ExecContext(ctx, query,
		summary.ID, summary.SessionID, summary.CoordinatorID, summary.Course, summary.Date,
		summary.StartTime, summary.EndTime, summary.IntervalMinutes, summary.Departments,
		summary.TotalStudents, summary.PresentStudents, summary.AbsentStudents,
		summary.AttendanceRate, summary.Records, summary.TotalScansPerformed,
		summary.SessionEndedAt, summary.CreatedAt,
	); err != nil {
		return fmt.Errorf("create session summary: %w", err)
	}
	return nil
}

// FindBySessionID returns the summary for a session, if finalized.
func (r *SummaryRepository) FindBySessionID(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	query := fmt.Sprintf(`SELECT %s FROM session_summaries WHERE session_id = $1`, summaryColumns)
	var summary models.SessionSummary
	if err := r.db.GetContext(ctx, &summary, query, sessionID); err != nil {
		return nil, fmt.Errorf("find summary by session: %w", err)
	}
	return &summary, nil
}

// FindByID returns a single summary.
func (r *SummaryRepository) FindByID(ctx context.Context, id string) (*models.SessionSummary, error) {
	query := fmt.Sprintf(`SELECT %s FROM session_summaries WHERE id = $1`, summaryColumns)
	var summary models.SessionSummary
	if err := r.db.GetContext(ctx, &summary, query, id); err != nil {
		return nil, fmt.Errorf("find summary: %w", err)
	}
	return &summary, nil
}

func summaryWhere(filter models.SummaryFilter) (string, []interface{}) {
	where := []string{"coordinator_id = $1"}
	args := []interface{}{filter.CoordinatorID}
	if filter.Department != "" {
		where = append(where, fmt.Sprintf("$%d = ANY(departments)", len(args)+1))
		args = append(args, filter.Department)
	}
	if filter.Course != "" {
		where = append(where, fmt.Sprintf("course ILIKE $%d", len(args)+1))
		args = append(args, "%"+filter.Course+"%")
	}
	if filter.DateFrom != nil {
		where = append(where, fmt.Sprintf("date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where = append(where, fmt.Sprintf("date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	return strings.Join(where, " AND "), args
}

// List returns summaries for a coordinator, newest first.
func (r *SummaryRepository) List(ctx context.Context, filter models.SummaryFilter) ([]models.SessionSummary, int, error) {
	whereClause, args := summaryWhere(filter)

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 10
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM session_summaries WHERE %s
        ORDER BY created_at DESC LIMIT %d OFFSET %d`, summaryColumns, whereClause, size, offset)
	var summaries []models.SessionSummary
	if err := r.db.SelectContext(ctx, &summaries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list summaries: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM session_summaries WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count summaries: %w", err)
	}
	return summaries, total, nil
}

// Stats aggregates headline numbers over the matching summaries.
func (r *SummaryRepository) Stats(ctx context.Context, filter models.SummaryFilter) (*models.SummaryStats, error) {
	whereClause, args := summaryWhere(filter)
	query := fmt.Sprintf(`SELECT COUNT(*) AS total_sessions,
        COALESCE(SUM(total_students), 0) AS total_students,
        COALESCE(SUM(present_students), 0) AS total_present,
        COALESCE(SUM(absent_students), 0) AS total_absent,
        COALESCE(AVG(attendance_rate), 0) AS average_attendance_rate,
        COALESCE(SUM(total_scans_performed), 0) AS total_scans
FROM session_summaries WHERE %s`, whereClause)
	var stats models.SummaryStats
	if err := r.db.GetContext(ctx, &stats, query, args...); err != nil {
		return nil, fmt.Errorf("summary stats: %w", err)
	}
	return &stats, nil
}
