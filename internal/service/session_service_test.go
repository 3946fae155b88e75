package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/attendnet/attendnet-api/internal/models"
	appErrors "github.com/attendnet/attendnet-api/pkg/errors"
)

type stubSessionRepo struct {
	sessions map[string]*models.Session
	nextID   int
	listErr  error
}

func (m *stubSessionRepo) Create(ctx context.Context, session *models.Session) error {
	if m.sessions == nil {
		m.sessions = make(map[string]*models.Session)
	}
	if session.ID == "" {
		m.nextID++
		session.ID = fmt.Sprintf("sess-%d", m.nextID)
	}
	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *stubSessionRepo) FindByID(ctx context.Context, id string) (*models.Session, error) {
	if s, ok := m.sessions[id]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, fmt.Errorf("find session: %w", sql.ErrNoRows)
}

func (m *stubSessionRepo) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error) {
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	out := make([]models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if filter.CoordinatorID != "" && s.CoordinatorID != filter.CoordinatorID {
			continue
		}
		out = append(out, *s)
	}
	return out, len(out), nil
}

func (m *stubSessionRepo) Update(ctx context.Context, session *models.Session) error {
	if _, ok := m.sessions[session.ID]; !ok {
		return fmt.Errorf("update session: %w", sql.ErrNoRows)
	}
	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *stubSessionRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("delete session: %w", sql.ErrNoRows)
	}
	delete(m.sessions, id)
	return nil
}

type recordingScheduler struct {
	scheduled []string
	cancelled []string
}

func (m *recordingScheduler) Schedule(session *models.Session) {
	m.scheduled = append(m.scheduled, session.ID)
}

func (m *recordingScheduler) Cancel(sessionID string) {
	m.cancelled = append(m.cancelled, sessionID)
}

type recordingCleaner struct {
	cleared []string
}

func (m *recordingCleaner) Clear(ctx context.Context, sessionID string) error {
	m.cleared = append(m.cleared, sessionID)
	return nil
}

type sessionFixture struct {
	repo      *stubSessionRepo
	scheduler *recordingScheduler
	cleaner   *recordingCleaner
	clock     *fakeClock
	service   *SessionService
}

func newSessionFixture(now time.Time) *sessionFixture {
	f := &sessionFixture{
		repo:      &stubSessionRepo{sessions: map[string]*models.Session{}},
		scheduler: &recordingScheduler{},
		cleaner:   &recordingCleaner{},
		clock:     newFakeClock(now),
	}
	f.service = NewSessionService(f.repo, f.scheduler, f.cleaner, nil, f.clock, time.UTC, 5, zap.NewNop())
	return f
}

func intPtr(v int) *int { return &v }

func TestSessionCreateRegistersSchedule(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	f := newSessionFixture(now)

	session, err := f.service.Create(context.Background(), "coord-1", CreateSessionRequest{
		Course:      "Computer Networks",
		Date:        time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		StartTime:   "09:00",
		EndTime:     "10:30",
		Departments: []string{" CSE ", "", "ECE"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusUpcoming, session.Status)
	assert.Equal(t, []string{"CSE", "ECE"}, []string(session.Departments))
	// Omitted interval falls back to the configured default.
	assert.Equal(t, 5, session.IntervalMinutes)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), session.StartAt)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC), session.EndAt)
	assert.Equal(t, []string{session.ID}, f.scheduler.scheduled)
}

func TestSessionCreateRejectsInvertedWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	f := newSessionFixture(now)

	_, err := f.service.Create(context.Background(), "coord-1", CreateSessionRequest{
		Course:      "Computer Networks",
		Date:        time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		StartTime:   "11:00",
		EndTime:     "09:00",
		Departments: []string{"CSE"},
	})
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))
	assert.Empty(t, f.scheduler.scheduled)
}

func TestSessionCreateRejectsBlankDepartments(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	f := newSessionFixture(now)

	_, err := f.service.Create(context.Background(), "coord-1", CreateSessionRequest{
		Course:      "Computer Networks",
		Date:        time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		StartTime:   "09:00",
		EndTime:     "10:00",
		Departments: []string{"  ", ""},
	})
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))
}

func TestSessionUpdateOnlyWhileUpcoming(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	f := newSessionFixture(now)

	session, err := f.service.Create(context.Background(), "coord-1", CreateSessionRequest{
		Course:          "Computer Networks",
		Date:            time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		StartTime:       "09:00",
		EndTime:         "10:00",
		Departments:     []string{"CSE"},
		IntervalMinutes: intPtr(10),
	})
	require.NoError(t, err)

	update := UpdateSessionRequest{
		Course:      "Computer Networks II",
		Date:        time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		StartTime:   "09:30",
		EndTime:     "10:30",
		Departments: []string{"CSE"},
	}

	updated, err := f.service.Update(context.Background(), "coord-1", session.ID, update)
	require.NoError(t, err)
	assert.Equal(t, "Computer Networks II", updated.Course)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC), updated.StartAt)
	// Stale timers are dropped before the new window is registered.
	assert.Equal(t, []string{session.ID}, f.scheduler.cancelled)
	assert.Equal(t, []string{session.ID, session.ID}, f.scheduler.scheduled)

	// Session becomes active; further edits are rejected.
	f.clock.Advance(3 * time.Hour)
	_, err = f.service.Update(context.Background(), "coord-1", session.ID, update)
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrInvalidState.Code))
}

func TestSessionUpdateForbiddenForOtherCoordinator(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	f := newSessionFixture(now)

	session, err := f.service.Create(context.Background(), "coord-1", CreateSessionRequest{
		Course:      "Computer Networks",
		Date:        time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		StartTime:   "09:00",
		EndTime:     "10:00",
		Departments: []string{"CSE"},
	})
	require.NoError(t, err)

	_, err = f.service.Update(context.Background(), "coord-2", session.ID, UpdateSessionRequest{
		Course:      "Hijacked",
		Date:        session.Date,
		StartTime:   "09:00",
		EndTime:     "10:00",
		Departments: []string{"CSE"},
	})
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrForbidden.Code))
}

func TestSessionDeleteCancelsScheduleAndObservations(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	f := newSessionFixture(now)

	session, err := f.service.Create(context.Background(), "coord-1", CreateSessionRequest{
		Course:      "Computer Networks",
		Date:        time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		StartTime:   "09:00",
		EndTime:     "10:00",
		Departments: []string{"CSE"},
	})
	require.NoError(t, err)

	require.NoError(t, f.service.Delete(context.Background(), "coord-1", session.ID))
	assert.Equal(t, []string{session.ID}, f.scheduler.cancelled)
	assert.Equal(t, []string{session.ID}, f.cleaner.cleared)

	err = f.service.Delete(context.Background(), "coord-1", session.ID)
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))
}

func TestSessionListDerivesStatusAndReRegisters(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	f := newSessionFixture(now)
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	upcoming := &models.Session{ID: "sess-up", CoordinatorID: "coord-1", Course: "A",
		Date: date, StartAt: now.Add(time.Hour), EndAt: now.Add(2 * time.Hour)}
	active := &models.Session{ID: "sess-act", CoordinatorID: "coord-1", Course: "B",
		Date: date, StartAt: now.Add(-time.Hour), EndAt: now.Add(time.Hour)}
	ended := &models.Session{ID: "sess-end", CoordinatorID: "coord-1", Course: "C",
		Date: date, StartAt: now.Add(-3 * time.Hour), EndAt: now.Add(-2 * time.Hour)}
	for _, s := range []*models.Session{upcoming, active, ended} {
		f.repo.sessions[s.ID] = s
	}

	sessions, pagination, err := f.service.List(context.Background(), "coord-1", SessionListRequest{})
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, 3, pagination.TotalCount)

	statuses := map[string]models.SessionStatus{}
	for _, s := range sessions {
		statuses[s.ID] = s.Status
	}
	assert.Equal(t, models.SessionStatusUpcoming, statuses["sess-up"])
	assert.Equal(t, models.SessionStatusActive, statuses["sess-act"])
	assert.Equal(t, models.SessionStatusEnded, statuses["sess-end"])

	// Open sessions are re-offered to the scheduler, ended ones are not.
	assert.ElementsMatch(t, []string{"sess-up", "sess-act"}, f.scheduler.scheduled)
}
