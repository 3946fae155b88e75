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

const sessionColumns = `id, course, date, start_time, end_time, departments, coordinator_id,
        interval_minutes, attendance_rate, start_at, end_at, created_at, updated_at`

// SessionRepository persists attendance sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	now := time.Now().UTC()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.CreatedAt = now
	session.UpdatedAt = now
	query := `INSERT INTO sessions (id, course, date, start_time, end_time, departments, coordinator_id,
        interval_minutes, attendance_rate, start_at, end_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	if _, err := r.db.ExecContext(ctx, query,
		session.ID, session.Course, session.Date, session.StartTime, session.EndTime,
		session.Departments, session.CoordinatorID, session.IntervalMinutes,
		session.AttendanceRate, session.StartAt, session.EndAt, session.CreatedAt, session.UpdatedAt,
	); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindByID returns a single session.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE id = $1`, sessionColumns)
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &session, nil
}

// List returns a coordinator's sessions, newest first.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error) {
	where := []string{"coordinator_id = $1"}
	args := []interface{}{filter.CoordinatorID}
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
	whereClause := strings.Join(where, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE %s
        ORDER BY date DESC, start_time DESC LIMIT %d OFFSET %d`, sessionColumns, whereClause, size, offset)
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM sessions WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	return sessions, total, nil
}

// Update rewrites the mutable fields of an upcoming session.
func (r *SessionRepository) Update(ctx context.Context, session *models.Session) error {
	session.UpdatedAt = time.Now().UTC()
	query := `UPDATE sessions
SET course = $2, date = $3, start_time = $4, end_time = $5, departments = $6,
    interval_minutes = $7, start_at = $8, end_at = $9, updated_at = $10
WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query,
		session.ID, session.Course, session.Date, session.StartTime, session.EndTime,
		session.Departments, session.IntervalMinutes, session.StartAt, session.EndAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return requireRowAffected(res, "update session")
}

// UpdateAttendanceRate persists the last-computed per-pass attendance rate.
func (r *SessionRepository) UpdateAttendanceRate(ctx context.Context, id string, rate float64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET attendance_rate = $2, updated_at = $3 WHERE id = $1`,
		id, rate, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update attendance rate: %w", err)
	}
	return requireRowAffected(res, "update attendance rate")
}

// Delete removes a session.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return requireRowAffected(res, "delete session")
}

// FindEndingAfter returns every session whose end instant is after t. Used by
// startup recovery to rebuild schedules.
func (r *SessionRepository) FindEndingAfter(ctx context.Context, t time.Time) ([]models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions WHERE end_at > $1 ORDER BY start_at`, sessionColumns)
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, t); err != nil {
		return nil, fmt.Errorf("find sessions ending after: %w", err)
	}
	return sessions, nil
}

// FindEndedUnsummarized returns sessions whose end instant passed before t
// but which have no summary row yet. These are owed a finalization.
func (r *SessionRepository) FindEndedUnsummarized(ctx context.Context, t time.Time) ([]models.Session, error) {
	query := fmt.Sprintf(`SELECT %s FROM sessions
WHERE end_at <= $1
  AND NOT EXISTS (SELECT 1 FROM session_summaries ss WHERE ss.session_id = sessions.id)
ORDER BY end_at`, sessionColumns)
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, t); err != nil {
		return nil, fmt.Errorf("find ended unsummarized sessions: %w", err)
	}
	return sessions, nil
}

