package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/attendnet/attendnet-api/internal/models"
	"github.com/attendnet/attendnet-api/internal/notifier"
	appErrors "github.com/attendnet/attendnet-api/pkg/errors"
	"github.com/attendnet/attendnet-api/pkg/jobs"
)

type stubSummaryStore struct {
	bySession map[string]*models.SessionSummary
	byID      map[string]*models.SessionSummary
	created   []*models.SessionSummary
	createErr error
	stats     *models.SummaryStats
}

func (m *stubSummaryStore) Create(ctx context.Context, summary *models.SessionSummary) error {
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.bySession[summary.SessionID]; ok {
		return fmt.Errorf("create session summary: %w", &pq.Error{Code: "23505"})
	}
	if summary.ID == "" {
		summary.ID = "summary-" + summary.SessionID
	}
	if m.bySession == nil {
		m.bySession = make(map[string]*models.SessionSummary)
	}
	if m.byID == nil {
		m.byID = make(map[string]*models.SessionSummary)
	}
	m.bySession[summary.SessionID] = summary
	m.byID[summary.ID] = summary
	m.created = append(m.created, summary)
	return nil
}

func (m *stubSummaryStore) FindBySessionID(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	if s, ok := m.bySession[sessionID]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("find summary by session: %w", sql.ErrNoRows)
}

func (m *stubSummaryStore) FindByID(ctx context.Context, id string) (*models.SessionSummary, error) {
	if s, ok := m.byID[id]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("find summary: %w", sql.ErrNoRows)
}

func (m *stubSummaryStore) List(ctx context.Context, filter models.SummaryFilter) ([]models.SessionSummary, int, error) {
	out := make([]models.SessionSummary, 0, len(m.bySession))
	for _, s := range m.bySession {
		out = append(out, *s)
	}
	return out, len(out), nil
}

func (m *stubSummaryStore) Stats(ctx context.Context, filter models.SummaryFilter) (*models.SummaryStats, error) {
	if m.stats != nil {
		return m.stats, nil
	}
	return &models.SummaryStats{}, nil
}

type stubRecordSource struct {
	rows map[string][]models.AttendanceRow
	err  error
}

func (m *stubRecordSource) ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRow, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.rows[sessionID], nil
}

func attendanceRow(studentID, name, department string, status models.AttendanceStatus, presentCount, totalScans int) models.AttendanceRow {
	return models.AttendanceRow{
		AttendanceRecord: models.AttendanceRecord{
			StudentID:    studentID,
			Department:   department,
			Status:       status,
			PresentCount: presentCount,
			TotalScans:   totalScans,
		},
		StudentName: name,
	}
}

type summaryFixture struct {
	store    *stubSummaryStore
	sessions *stubSchedulerStore
	records  *stubRecordSource
	events   *stubEvents
	service  *SummaryService
}

func newSummaryFixture() *summaryFixture {
	f := &summaryFixture{
		store:    &stubSummaryStore{bySession: map[string]*models.SessionSummary{}, byID: map[string]*models.SessionSummary{}},
		sessions: &stubSchedulerStore{sessions: map[string]*models.Session{}},
		records:  &stubRecordSource{rows: map[string][]models.AttendanceRow{}},
		events:   &stubEvents{},
	}
	f.service = NewSummaryService(f.store, f.sessions, f.records, f.events, nil, zap.NewNop())
	return f
}

func TestSummaryFinalizeComputesRollup(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	f := newSummaryFixture()
	session := scheduledSession("sess-1", now, -time.Hour, -10*time.Minute, 10)
	f.sessions.sessions[session.ID] = session
	f.records.rows[session.ID] = []models.AttendanceRow{
		attendanceRow("stu-1", "Asha", "CSE", models.AttendanceStatusPresent, 4, 4),
		attendanceRow("stu-2", "Bren", "CSE", models.AttendanceStatusPresent, 2, 4),
		attendanceRow("stu-3", "Cleo", "ECE", models.AttendanceStatusAbsent, 1, 4),
	}

	summary, err := f.service.Finalize(context.Background(), session.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalStudents)
	assert.Equal(t, 2, summary.PresentStudents)
	assert.Equal(t, 1, summary.AbsentStudents)
	assert.InDelta(t, 66.67, summary.AttendanceRate, 0.01)
	assert.Equal(t, 12, summary.TotalScansPerformed)
	assert.Equal(t, session.EndAt, summary.SessionEndedAt)
	assert.Equal(t, "coord-1", summary.CoordinatorID)

	require.Len(t, summary.Records, 3)
	assert.Equal(t, "Asha", summary.Records[0].Name)
	assert.InDelta(t, 100.0, summary.Records[0].AttendancePercentage, 0.01)
	assert.InDelta(t, 50.0, summary.Records[1].AttendancePercentage, 0.01)
	assert.InDelta(t, 25.0, summary.Records[2].AttendancePercentage, 0.01)

	require.Len(t, f.store.created, 1)
	require.Len(t, f.events.published, 1)
	assert.Equal(t, notifier.TopicSummaryCreated, f.events.published[0].topic)
	assert.Equal(t, "coord-1", f.events.published[0].coordinatorID)
}

func TestSummaryFinalizeEmptyRecords(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	f := newSummaryFixture()
	session := scheduledSession("sess-1", now, -time.Hour, -10*time.Minute, 10)
	f.sessions.sessions[session.ID] = session

	summary, err := f.service.Finalize(context.Background(), session.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, summary.TotalStudents)
	assert.Zero(t, summary.AttendanceRate)
	assert.Empty(t, summary.Records)
}

func TestSummaryFinalizeIdempotentOnConflict(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	f := newSummaryFixture()
	session := scheduledSession("sess-1", now, -time.Hour, -10*time.Minute, 10)
	f.sessions.sessions[session.ID] = session

	first, err := f.service.Finalize(context.Background(), session.ID)
	require.NoError(t, err)

	second, err := f.service.Finalize(context.Background(), session.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.store.created, 1)
	// The duplicate attempt does not replay the created event.
	assert.Len(t, f.events.published, 1)
}

func TestSummaryFinalizeSessionNotFound(t *testing.T) {
	f := newSummaryFixture()

	_, err := f.service.Finalize(context.Background(), "missing")

	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))
}

func TestSummaryFinalizeTransientRecordFailure(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	f := newSummaryFixture()
	session := scheduledSession("sess-1", now, -time.Hour, -10*time.Minute, 10)
	f.sessions.sessions[session.ID] = session
	f.records.err = fmt.Errorf("connection refused")

	_, err := f.service.Finalize(context.Background(), session.ID)

	require.Error(t, err)
	assert.True(t, appErrors.IsTransient(err))
}

func TestSummaryFinalizeJobHandlerErrorClasses(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	f := newSummaryFixture()
	session := scheduledSession("sess-1", now, -time.Hour, -10*time.Minute, 10)
	f.sessions.sessions[session.ID] = session
	handler := f.service.FinalizeJobHandler()

	// Missing session is permanent: retrying cannot help.
	err := handler(context.Background(), jobs.Job{ID: "missing", Type: FinalizeJobType, Payload: "missing"})
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))

	// Transient store failure propagates unmarked so the queue retries.
	f.records.err = fmt.Errorf("connection refused")
	err = handler(context.Background(), jobs.Job{ID: session.ID, Type: FinalizeJobType, Payload: session.ID})
	require.Error(t, err)
	assert.False(t, jobs.IsPermanent(err))

	f.records.err = nil
	require.NoError(t, handler(context.Background(), jobs.Job{ID: session.ID, Type: FinalizeJobType, Payload: session.ID}))
}

func TestSummaryGetScopedToCoordinator(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	f := newSummaryFixture()
	session := scheduledSession("sess-1", now, -time.Hour, -10*time.Minute, 10)
	f.sessions.sessions[session.ID] = session

	summary, err := f.service.Finalize(context.Background(), session.ID)
	require.NoError(t, err)

	got, err := f.service.Get(context.Background(), "coord-1", summary.ID)
	require.NoError(t, err)
	assert.Equal(t, summary.ID, got.ID)

	_, err = f.service.Get(context.Background(), "coord-2", summary.ID)
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrForbidden.Code))

	_, err = f.service.Get(context.Background(), "coord-1", "missing")
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))
}

func TestSummaryGetBySession(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	f := newSummaryFixture()
	session := scheduledSession("sess-1", now, -time.Hour, -10*time.Minute, 10)
	f.sessions.sessions[session.ID] = session

	_, err := f.service.GetBySession(context.Background(), "coord-1", session.ID)
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))

	_, err = f.service.Finalize(context.Background(), session.ID)
	require.NoError(t, err)

	got, err := f.service.GetBySession(context.Background(), "coord-1", session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.SessionID)
}
