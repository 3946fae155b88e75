package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/attendnet/attendnet-api/internal/models"
	appErrors "github.com/attendnet/attendnet-api/pkg/errors"
)

type sessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error)
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, id string) error
}

type sessionScheduler interface {
	Schedule(session *models.Session)
	Cancel(sessionID string)
}

type observationCleaner interface {
	Clear(ctx context.Context, sessionID string) error
}

// CreateSessionRequest describes the create payload.
type CreateSessionRequest struct {
	Course          string    `json:"course" validate:"required"`
	Date            time.Time `json:"date" validate:"required"`
	StartTime       string    `json:"start_time" validate:"required"`
	EndTime         string    `json:"end_time" validate:"required"`
	Departments     []string  `json:"departments" validate:"required,min=1"`
	IntervalMinutes *int      `json:"interval_minutes" validate:"omitempty,min=0"`
}

// UpdateSessionRequest describes the update payload. Only upcoming sessions
// may be updated.
type UpdateSessionRequest struct {
	Course          string    `json:"course" validate:"required"`
	Date            time.Time `json:"date" validate:"required"`
	StartTime       string    `json:"start_time" validate:"required"`
	EndTime         string    `json:"end_time" validate:"required"`
	Departments     []string  `json:"departments" validate:"required,min=1"`
	IntervalMinutes *int      `json:"interval_minutes" validate:"omitempty,min=0"`
}

// SessionListRequest describes list filters.
type SessionListRequest struct {
	Course   string     `json:"course"`
	DateFrom *time.Time `json:"date_from"`
	DateTo   *time.Time `json:"date_to"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

// SessionService manages declared attendance sessions and keeps the
// scheduler in sync with their lifecycle.
type SessionService struct {
	repo            sessionStore
	scheduler       sessionScheduler
	observations    observationCleaner
	validator       *validator.Validate
	clock           Clock
	loc             *time.Location
	defaultInterval int
	logger          *zap.Logger
}

// NewSessionService constructs the service. loc is the zone used to resolve
// session windows; defaultInterval applies when a create request omits the
// scan interval.
func NewSessionService(
	repo sessionStore,
	scheduler sessionScheduler,
	observations observationCleaner,
	validate *validator.Validate,
	clock Clock,
	loc *time.Location,
	defaultInterval int,
	logger *zap.Logger,
) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if clock == nil {
		clock = NewClock()
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		repo:            repo,
		scheduler:       scheduler,
		observations:    observations,
		validator:       validate,
		clock:           clock,
		loc:             loc,
		defaultInterval: defaultInterval,
		logger:          logger,
	}
}

// Create declares a new session and registers its scan schedule.
func (s *SessionService) Create(ctx context.Context, coordinatorID string, req CreateSessionRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	departments := cleanDepartments(req.Departments)
	if len(departments) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one department is required")
	}

	start, end, err := ResolveWindow(req.Date, req.StartTime, req.EndTime, s.loc)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session times")
	}
	if !start.Before(end) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start time must be before end time")
	}

	interval := s.defaultInterval
	if req.IntervalMinutes != nil {
		interval = *req.IntervalMinutes
	}

	session := &models.Session{
		Course:          strings.TrimSpace(req.Course),
		Date:            req.Date,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		Departments:     pq.StringArray(departments),
		CoordinatorID:   coordinatorID,
		IntervalMinutes: interval,
		StartAt:         start,
		EndAt:           end,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}

	s.scheduler.Schedule(session)
	session.Status = s.statusOf(session)
	s.logger.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("course", session.Course),
		zap.Time("start_at", session.StartAt))
	return session, nil
}

// List returns a coordinator's sessions with derived status. Every open
// session is offered to the scheduler again; the duplicate-registration
// guard makes redundant offers harmless, so a schedule lost to an edge case
// heals on the next listing.
func (s *SessionService) List(ctx context.Context, coordinatorID string, req SessionListRequest) ([]models.Session, *models.Pagination, error) {
	filter := models.SessionFilter{
		CoordinatorID: coordinatorID,
		Course:        req.Course,
		DateFrom:      req.DateFrom,
		DateTo:        req.DateTo,
		Page:          req.Page,
		PageSize:      req.PageSize,
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	sessions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}

	now := s.clock.Now()
	for i := range sessions {
		sessions[i].Status = statusAt(&sessions[i], now)
		if sessions[i].EndAt.After(now) {
			s.scheduler.Schedule(&sessions[i])
		}
	}

	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return sessions, pagination, nil
}

// Get returns one session, scoped to the requesting coordinator.
func (s *SessionService) Get(ctx context.Context, coordinatorID, id string) (*models.Session, error) {
	session, err := s.findOwned(ctx, coordinatorID, id)
	if err != nil {
		return nil, err
	}
	session.Status = s.statusOf(session)
	return session, nil
}

// Update replaces an upcoming session's declaration and re-registers its
// schedule. Active and ended sessions are immutable.
func (s *SessionService) Update(ctx context.Context, coordinatorID, id string, req UpdateSessionRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}

	session, err := s.findOwned(ctx, coordinatorID, id)
	if err != nil {
		return nil, err
	}
	if s.statusOf(session) != models.SessionStatusUpcoming {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "only upcoming sessions can be updated")
	}

	departments := cleanDepartments(req.Departments)
	if len(departments) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one department is required")
	}
	start, end, err := ResolveWindow(req.Date, req.StartTime, req.EndTime, s.loc)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session times")
	}
	if !start.Before(end) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start time must be before end time")
	}

	session.Course = strings.TrimSpace(req.Course)
	session.Date = req.Date
	session.StartTime = req.StartTime
	session.EndTime = req.EndTime
	session.Departments = pq.StringArray(departments)
	session.StartAt = start
	session.EndAt = end
	if req.IntervalMinutes != nil {
		session.IntervalMinutes = *req.IntervalMinutes
	}

	if err := s.repo.Update(ctx, session); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update session")
	}

	// The old timer chain may point at stale instants.
	s.scheduler.Cancel(session.ID)
	s.scheduler.Schedule(session)
	session.Status = s.statusOf(session)
	return session, nil
}

// Delete removes a session, cancels its schedule and drops any pending
// observations.
func (s *SessionService) Delete(ctx context.Context, coordinatorID, id string) error {
	session, err := s.findOwned(ctx, coordinatorID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, session.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete session")
	}

	s.scheduler.Cancel(session.ID)
	if s.observations != nil {
		if err := s.observations.Clear(ctx, session.ID); err != nil {
			s.logger.Warn("failed to clear observations", zap.String("session_id", session.ID), zap.Error(err))
		}
	}
	s.logger.Info("session deleted", zap.String("session_id", session.ID))
	return nil
}

func (s *SessionService) findOwned(ctx context.Context, coordinatorID, id string) (*models.Session, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if session.CoordinatorID != coordinatorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "session belongs to another coordinator")
	}
	return session, nil
}

func (s *SessionService) statusOf(session *models.Session) models.SessionStatus {
	return statusAt(session, s.clock.Now())
}

// statusAt derives the lifecycle state from the resolved window.
func statusAt(session *models.Session, now time.Time) models.SessionStatus {
	switch {
	case now.Before(session.StartAt):
		return models.SessionStatusUpcoming
	case now.Before(session.EndAt):
		return models.SessionStatusActive
	default:
		return models.SessionStatusEnded
	}
}
