package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/attendnet/attendnet-api/internal/models"
)

const studentColumns = `id, name, email, department, mac_address, created_at`

// StudentRepository persists registered students.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// Create inserts a student. Email and MAC address carry unique constraints;
// violations surface through IsUniqueViolation.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	student.CreatedAt = time.Now().UTC()
	query := `INSERT INTO students (id, name, email, department, mac_address, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.ExecContext(ctx, query,
		student.ID, student.Name, student.Email, student.Department, student.MACAddress, student.CreatedAt,
	); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// FindByID returns one student.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE id = $1`, studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, fmt.Errorf("find student: %w", err)
	}
	return &student, nil
}

// List returns students matching the filter.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.Department != "" {
		where = append(where, fmt.Sprintf("department = $%d", len(args)+1))
		args = append(args, filter.Department)
	}
	if filter.Search != "" {
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR email ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
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

	query := fmt.Sprintf(`SELECT %s FROM students WHERE %s ORDER BY name LIMIT %d OFFSET %d`,
		studentColumns, whereClause, size, offset)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM students WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByDepartments returns students whose department exactly matches one of
// the given names.
func (r *StudentRepository) FindByDepartments(ctx context.Context, departments []string) ([]models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students WHERE department = ANY($1) ORDER BY name`, studentColumns)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, pq.Array(departments)); err != nil {
		return nil, fmt.Errorf("find students by departments: %w", err)
	}
	return students, nil
}

// FindByDepartmentsFold matches departments case-insensitively. Fallback for
// casing drift between session and student department strings.
func (r *StudentRepository) FindByDepartmentsFold(ctx context.Context, departments []string) ([]models.Student, error) {
	lowered := make([]string, len(departments))
	for i, d := range departments {
		lowered[i] = strings.ToLower(strings.TrimSpace(d))
	}
	query := fmt.Sprintf(`SELECT %s FROM students WHERE LOWER(department) = ANY($1) ORDER BY name`, studentColumns)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, pq.Array(lowered)); err != nil {
		return nil, fmt.Errorf("find students by departments fold: %w", err)
	}
	return students, nil
}
