package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/attendnet/attendnet-api/internal/models"
	appErrors "github.com/attendnet/attendnet-api/pkg/errors"
)

type stubStudentRepo struct {
	students map[string]*models.Student
	nextID   int
}

func (m *stubStudentRepo) Create(ctx context.Context, student *models.Student) error {
	if m.students == nil {
		m.students = make(map[string]*models.Student)
	}
	for _, existing := range m.students {
		if existing.Email == student.Email || existing.MACAddress == student.MACAddress {
			return fmt.Errorf("create student: %w", &pq.Error{Code: "23505"})
		}
	}
	if student.ID == "" {
		m.nextID++
		student.ID = fmt.Sprintf("stu-%d", m.nextID)
	}
	m.students[student.ID] = student
	return nil
}

func (m *stubStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("find student: %w", sql.ErrNoRows)
}

func (m *stubStudentRepo) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	out := make([]models.Student, 0, len(m.students))
	for _, s := range m.students {
		if filter.Department != "" && s.Department != filter.Department {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(s.Name), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, *s)
	}
	return out, len(out), nil
}

func TestStudentRegisterNormalizesMAC(t *testing.T) {
	repo := &stubStudentRepo{}
	svc := NewStudentService(repo, nil, zap.NewNop())

	student, err := svc.Register(context.Background(), RegisterStudentRequest{
		Name:       "Asha",
		Email:      "Asha@Example.com",
		Department: "CSE",
		MACAddress: "AA-BB-CC-DD-EE-01",
	})
	require.NoError(t, err)
	assert.Equal(t, "aabbccddee01", student.MACAddress)
	assert.Equal(t, "asha@example.com", student.Email)
}

func TestStudentRegisterRejectsNonHexMAC(t *testing.T) {
	repo := &stubStudentRepo{}
	svc := NewStudentService(repo, nil, zap.NewNop())

	_, err := svc.Register(context.Background(), RegisterStudentRequest{
		Name:       "Asha",
		Email:      "asha@example.com",
		Department: "CSE",
		MACAddress: "zz-zz-zz",
	})
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))
}

func TestStudentRegisterDuplicateMACConflicts(t *testing.T) {
	repo := &stubStudentRepo{}
	svc := NewStudentService(repo, nil, zap.NewNop())

	_, err := svc.Register(context.Background(), RegisterStudentRequest{
		Name:       "Asha",
		Email:      "asha@example.com",
		Department: "CSE",
		MACAddress: "aa:bb:cc:dd:ee:01",
	})
	require.NoError(t, err)

	// Same address in a different notation normalizes to the same value.
	_, err = svc.Register(context.Background(), RegisterStudentRequest{
		Name:       "Bren",
		Email:      "bren@example.com",
		Department: "CSE",
		MACAddress: "AA-BB-CC-DD-EE-01",
	})
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrConflict.Code))
}

func TestStudentListFilters(t *testing.T) {
	repo := &stubStudentRepo{}
	svc := NewStudentService(repo, nil, zap.NewNop())

	for i, dept := range []string{"CSE", "CSE", "ECE"} {
		_, err := svc.Register(context.Background(), RegisterStudentRequest{
			Name:       fmt.Sprintf("Student %d", i),
			Email:      fmt.Sprintf("s%d@example.com", i),
			Department: dept,
			MACAddress: fmt.Sprintf("aa:bb:cc:dd:ee:%02d", i),
		})
		require.NoError(t, err)
	}

	students, pagination, err := svc.List(context.Background(), StudentListRequest{Department: "CSE"})
	require.NoError(t, err)
	assert.Len(t, students, 2)
	assert.Equal(t, 2, pagination.TotalCount)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
}
