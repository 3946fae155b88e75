package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attendnet/attendnet-api/internal/models"
)

func newStudentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func studentRows(pairs ...[2]string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "name", "email", "department", "mac_address", "created_at"})
	for _, p := range pairs {
		rows.AddRow(p[0], p[1], p[1]+"@example.com", "CSE", "aabbccddee01", time.Now())
	}
	return rows
}

func TestStudentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newStudentRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("INSERT INTO students").
		WithArgs(sqlmock.AnyArg(), "Asha", "asha@example.com", "CSE", "aabbccddee01", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	student := &models.Student{Name: "Asha", Email: "asha@example.com", Department: "CSE", MACAddress: "aabbccddee01"}
	require.NoError(t, repo.Create(context.Background(), student))
	assert.NotEmpty(t, student.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCreateDuplicateMAC(t *testing.T) {
	db, mock, cleanup := newStudentRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectExec("INSERT INTO students").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "students_mac_address_key"})

	err := repo.Create(context.Background(), &models.Student{Name: "Asha", MACAddress: "aabbccddee01"})
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryList(t *testing.T) {
	db, mock, cleanup := newStudentRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM students WHERE 1=1 AND department = \\$1").
		WithArgs("CSE").
		WillReturnRows(studentRows([2]string{"stu-1", "Asha"}, [2]string{"stu-2", "Bren"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM students WHERE 1=1 AND department = $1")).
		WithArgs("CSE").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	students, total, err := repo.List(context.Background(), models.StudentFilter{Department: "CSE"})
	require.NoError(t, err)
	assert.Len(t, students, 2)
	assert.Equal(t, 2, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryFindByDepartmentsFoldLowersInput(t *testing.T) {
	db, mock, cleanup := newStudentRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM students WHERE LOWER\\(department\\) = ANY\\(\\$1\\)").
		WithArgs(pq.Array([]string{"cse", "ece"})).
		WillReturnRows(studentRows([2]string{"stu-1", "Asha"}))

	students, err := repo.FindByDepartmentsFold(context.Background(), []string{" CSE ", "Ece"})
	require.NoError(t, err)
	assert.Len(t, students, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
