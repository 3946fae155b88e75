package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/attendnet/attendnet-api/internal/models"
	"github.com/attendnet/attendnet-api/internal/notifier"
	appErrors "github.com/attendnet/attendnet-api/pkg/errors"
)

type stubAttendanceStore struct {
	records map[string]*models.AttendanceRecord
	err     error
}

func recordKey(studentID, sessionID string) string {
	return studentID + "/" + sessionID
}

// UpsertScan mirrors the SQL upsert: first scan inserts, later scans bump
// total_scans by one and present_count by the pass outcome.
func (m *stubAttendanceStore) UpsertScan(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.records == nil {
		m.records = make(map[string]*models.AttendanceRecord)
	}
	inc := 0
	if record.Status == models.AttendanceStatusPresent {
		inc = 1
	}
	key := recordKey(record.StudentID, record.SessionID)
	existing, ok := m.records[key]
	if !ok {
		stored := *record
		stored.ID = key
		stored.PresentCount = inc
		stored.TotalScans = 1
		m.records[key] = &stored
	} else {
		existing.Status = record.Status
		existing.Department = record.Department
		existing.PresentCount += inc
		existing.TotalScans++
	}
	copied := *m.records[key]
	return &copied, nil
}

func (m *stubAttendanceStore) ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRow, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]models.AttendanceRow, 0, len(m.records))
	for _, r := range m.records {
		if r.SessionID == sessionID {
			out = append(out, models.AttendanceRow{AttendanceRecord: *r})
		}
	}
	return out, nil
}

type stubStudentFinder struct {
	students []models.Student
	foldOnly bool
	err      error
}

func (m *stubStudentFinder) FindByDepartments(ctx context.Context, departments []string) ([]models.Student, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.foldOnly {
		return nil, nil
	}
	return m.matching(departments, false), nil
}

func (m *stubStudentFinder) FindByDepartmentsFold(ctx context.Context, departments []string) ([]models.Student, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.matching(departments, true), nil
}

func (m *stubStudentFinder) matching(departments []string, fold bool) []models.Student {
	out := make([]models.Student, 0, len(m.students))
	for _, s := range m.students {
		for _, d := range departments {
			if s.Department == d || (fold && strings.EqualFold(s.Department, d)) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

type stubRateUpdater struct {
	rates map[string]float64
	err   error
}

func (m *stubRateUpdater) UpdateAttendanceRate(ctx context.Context, id string, rate float64) error {
	if m.err != nil {
		return m.err
	}
	if m.rates == nil {
		m.rates = make(map[string]float64)
	}
	m.rates[id] = rate
	return nil
}

type attendanceFixture struct {
	store    *stubAttendanceStore
	students *stubStudentFinder
	rates    *stubRateUpdater
	events   *stubEvents
	clock    *fakeClock
	service  *AttendanceService
}

func newAttendanceFixture(now time.Time) *attendanceFixture {
	f := &attendanceFixture{
		store:    &stubAttendanceStore{},
		students: &stubStudentFinder{},
		rates:    &stubRateUpdater{},
		events:   &stubEvents{},
		clock:    newFakeClock(now),
	}
	f.service = NewAttendanceService(f.store, f.students, f.rates, f.events, nil, f.clock, zap.NewNop())
	return f
}

func enrolledStudent(id, name, department, mac string) models.Student {
	return models.Student{ID: id, Name: name, Email: id + "@example.com", Department: department, MACAddress: mac}
}

func TestScanMarksPresentAndAbsent(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newAttendanceFixture(now)
	f.students.students = []models.Student{
		enrolledStudent("stu-1", "Asha", "CSE", "aabbccddee01"),
		enrolledStudent("stu-2", "Bren", "CSE", "aabbccddee02"),
		enrolledStudent("stu-3", "Cleo", "CSE", "aabbccddee03"),
	}
	session := scheduledSession("sess-1", now, -10*time.Minute, 50*time.Minute, 10)

	// Observed addresses arrive in whatever notation the agent produces.
	result, err := f.service.Scan(context.Background(), session, []string{
		"AA-BB-CC-DD-EE-01",
		"aa:bb:cc:dd:ee:03",
		"ff:ff:ff:ff:ff:ff",
	})
	require.NoError(t, err)

	assert.Equal(t, ScanCounts{Total: 3, Present: 2, Absent: 1}, result.Counts)
	require.Len(t, result.Present, 2)
	require.Len(t, result.Absent, 1)
	assert.Equal(t, "Bren", result.Absent[0].Name)
	assert.Equal(t, now, result.Timestamp)

	rate, ok := f.rates.rates[session.ID]
	require.True(t, ok)
	assert.InDelta(t, 66.67, rate, 0.01)
}

func TestScanEmptyObservedMarksAllAbsent(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newAttendanceFixture(now)
	f.students.students = []models.Student{
		enrolledStudent("stu-1", "Asha", "CSE", "aabbccddee01"),
		enrolledStudent("stu-2", "Bren", "CSE", "aabbccddee02"),
	}
	session := scheduledSession("sess-1", now, -10*time.Minute, 50*time.Minute, 10)

	result, err := f.service.Scan(context.Background(), session, nil)
	require.NoError(t, err)

	assert.Equal(t, ScanCounts{Total: 2, Present: 0, Absent: 2}, result.Counts)
	// Absence still advances every student's scan counter.
	for _, r := range f.store.records {
		assert.Equal(t, 1, r.TotalScans)
		assert.Equal(t, 0, r.PresentCount)
	}
	assert.Zero(t, f.rates.rates[session.ID])
}

func TestScanEmptyEligibleSetIsNotAnError(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newAttendanceFixture(now)
	session := scheduledSession("sess-1", now, -10*time.Minute, 50*time.Minute, 10)

	result, err := f.service.Scan(context.Background(), session, []string{"aa:bb:cc:dd:ee:01"})
	require.NoError(t, err)
	assert.Equal(t, ScanCounts{}, result.Counts)
	assert.Empty(t, f.store.records)
}

func TestScanRejectsEndedSession(t *testing.T) {
	now := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	f := newAttendanceFixture(now)
	session := scheduledSession("sess-1", now, -2*time.Hour, -time.Hour, 10)

	_, err := f.service.Scan(context.Background(), session, []string{"aa:bb:cc:dd:ee:01"})
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrInvalidState.Code))
	assert.Empty(t, f.store.records)
}

func TestScanFallsBackToCaseInsensitiveDepartments(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newAttendanceFixture(now)
	f.students.students = []models.Student{
		enrolledStudent("stu-1", "Asha", "cse", "aabbccddee01"),
	}
	f.students.foldOnly = true
	session := scheduledSession("sess-1", now, -10*time.Minute, 50*time.Minute, 10)

	result, err := f.service.Scan(context.Background(), session, []string{"aa:bb:cc:dd:ee:01"})
	require.NoError(t, err)
	assert.Equal(t, ScanCounts{Total: 1, Present: 1, Absent: 0}, result.Counts)
}

func TestScanAccumulatesCountersAcrossPasses(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newAttendanceFixture(now)
	f.students.students = []models.Student{
		enrolledStudent("stu-1", "Asha", "CSE", "aabbccddee01"),
	}
	session := scheduledSession("sess-1", now, -10*time.Minute, 50*time.Minute, 10)

	_, err := f.service.Scan(context.Background(), session, []string{"aa:bb:cc:dd:ee:01"})
	require.NoError(t, err)
	_, err = f.service.Scan(context.Background(), session, nil)
	require.NoError(t, err)
	result, err := f.service.Scan(context.Background(), session, []string{"aa:bb:cc:dd:ee:01"})
	require.NoError(t, err)

	require.Len(t, result.Present, 1)
	detail := result.Present[0]
	assert.Equal(t, 2, detail.PresentCount)
	assert.Equal(t, 3, detail.TotalScans)
	assert.InDelta(t, 66.67, detail.ScanAverage, 0.01)

	// Status reflects the most recent pass.
	record := f.store.records[recordKey("stu-1", session.ID)]
	assert.Equal(t, models.AttendanceStatusPresent, record.Status)
}

func TestScanSurvivesRateUpdateFailure(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newAttendanceFixture(now)
	f.students.students = []models.Student{
		enrolledStudent("stu-1", "Asha", "CSE", "aabbccddee01"),
	}
	f.rates.err = fmt.Errorf("connection refused")
	session := scheduledSession("sess-1", now, -10*time.Minute, 50*time.Minute, 10)

	result, err := f.service.Scan(context.Background(), session, []string{"aa:bb:cc:dd:ee:01"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Counts.Present)
}

func TestScanStoreFailureIsTransient(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newAttendanceFixture(now)
	f.students.students = []models.Student{
		enrolledStudent("stu-1", "Asha", "CSE", "aabbccddee01"),
	}
	f.store.err = fmt.Errorf("connection refused")
	session := scheduledSession("sess-1", now, -10*time.Minute, 50*time.Minute, 10)

	_, err := f.service.Scan(context.Background(), session, nil)
	require.Error(t, err)
	assert.True(t, appErrors.IsTransient(err))
}

func TestManualScanPublishesResult(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := newAttendanceFixture(now)
	f.students.students = []models.Student{
		enrolledStudent("stu-1", "Asha", "CSE", "aabbccddee01"),
	}
	session := scheduledSession("sess-1", now, -10*time.Minute, 50*time.Minute, 10)

	result, err := f.service.ManualScan(context.Background(), session, []string{"AA:BB:CC:DD:EE:01"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Counts.Present)
	assert.Equal(t, []string{notifier.TopicScanResult}, f.events.topics())
}
