package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/attendnet/attendnet-api/internal/models"
	"github.com/attendnet/attendnet-api/internal/notifier"
	"github.com/attendnet/attendnet-api/internal/repository"
	appErrors "github.com/attendnet/attendnet-api/pkg/errors"
	"github.com/attendnet/attendnet-api/pkg/jobs"
)

type summaryStore interface {
	Create(ctx context.Context, summary *models.SessionSummary) error
	FindBySessionID(ctx context.Context, sessionID string) (*models.SessionSummary, error)
	FindByID(ctx context.Context, id string) (*models.SessionSummary, error)
	List(ctx context.Context, filter models.SummaryFilter) ([]models.SessionSummary, int, error)
	Stats(ctx context.Context, filter models.SummaryFilter) (*models.SummaryStats, error)
}

type summarySessionFinder interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
}

type summaryRecordSource interface {
	ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRow, error)
}

// SummaryCreatedEvent is the headline payload broadcast when a session is
// finalized.
type SummaryCreatedEvent struct {
	SummaryID       string    `json:"summary_id"`
	SessionID       string    `json:"session_id"`
	Course          string    `json:"course"`
	Date            time.Time `json:"date"`
	TotalStudents   int       `json:"total_students"`
	PresentStudents int       `json:"present_students"`
	AbsentStudents  int       `json:"absent_students"`
	AttendanceRate  float64   `json:"attendance_rate"`
}

// SummaryService rolls a finished session's attendance records up into the
// single immutable summary and serves summary queries.
type SummaryService struct {
	summaries summaryStore
	sessions  summarySessionFinder
	records   summaryRecordSource
	events    eventPublisher
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewSummaryService constructs the service.
func NewSummaryService(summaries summaryStore, sessions summarySessionFinder, records summaryRecordSource, events eventPublisher, metrics *MetricsService, logger *zap.Logger) *SummaryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryService{
		summaries: summaries,
		sessions:  sessions,
		records:   records,
		events:    events,
		metrics:   metrics,
		logger:    logger,
	}
}

// Finalize creates the session's summary from the final attendance snapshot.
// The session_id unique index makes finalization exactly-once: a concurrent
// or repeated attempt observes the unique violation, fetches the existing
// summary and returns it as a success.
func (s *SummaryService) Finalize(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	summary, err := s.finalize(ctx, sessionID)
	s.metrics.ObserveFinalization(err)
	return summary, err
}

func (s *SummaryService) finalize(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to load session")
	}

	rows, err := s.records.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to load attendance records")
	}

	summary := buildSummary(session, rows)
	if err := s.summaries.Create(ctx, summary); err != nil {
		if repository.IsUniqueViolation(err) {
			existing, ferr := s.summaries.FindBySessionID(ctx, sessionID)
			if ferr != nil {
				return nil, appErrors.Wrap(ferr, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to load existing summary")
			}
			s.logger.Info("session already finalized", zap.String("session_id", sessionID))
			return existing, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to persist summary")
	}

	s.logger.Info("session finalized",
		zap.String("session_id", sessionID),
		zap.Int("total_students", summary.TotalStudents),
		zap.Int("present_students", summary.PresentStudents),
		zap.Float64("attendance_rate", summary.AttendanceRate))

	event := SummaryCreatedEvent{
		SummaryID:       summary.ID,
		SessionID:       summary.SessionID,
		Course:          summary.Course,
		Date:            summary.Date,
		TotalStudents:   summary.TotalStudents,
		PresentStudents: summary.PresentStudents,
		AbsentStudents:  summary.AbsentStudents,
		AttendanceRate:  summary.AttendanceRate,
	}
	if err := s.events.Publish(ctx, summary.CoordinatorID, notifier.TopicSummaryCreated, event); err != nil {
		s.logger.Warn("failed to publish summary created",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	return summary, nil
}

// buildSummary derives the rollup from the final per-student counter
// snapshot. Status reflects each student's most recent scan.
func buildSummary(session *models.Session, rows []models.AttendanceRow) *models.SessionSummary {
	detail := make(models.SummaryRecordList, 0, len(rows))
	present := 0
	totalScans := 0
	for _, row := range rows {
		if row.Status == models.AttendanceStatusPresent {
			present++
		}
		totalScans += row.TotalScans
		percentage := 0.0
		if row.TotalScans > 0 {
			percentage = float64(row.PresentCount) / float64(row.TotalScans) * 100
		}
		detail = append(detail, models.SummaryRecord{
			StudentID:            row.StudentID,
			Name:                 row.StudentName,
			Department:           row.Department,
			Status:               row.Status,
			PresentCount:         row.PresentCount,
			TotalScans:           row.TotalScans,
			AttendancePercentage: percentage,
		})
	}

	rate := 0.0
	if len(rows) > 0 {
		rate = float64(present) / float64(len(rows)) * 100
	}

	return &models.SessionSummary{
		SessionID:           session.ID,
		CoordinatorID:       session.CoordinatorID,
		Course:              session.Course,
		Date:                session.Date,
		StartTime:           session.StartTime,
		EndTime:             session.EndTime,
		IntervalMinutes:     session.IntervalMinutes,
		Departments:         session.Departments,
		TotalStudents:       len(rows),
		PresentStudents:     present,
		AbsentStudents:      len(rows) - present,
		AttendanceRate:      rate,
		Records:             detail,
		TotalScansPerformed: totalScans,
		SessionEndedAt:      session.EndAt,
	}
}

// FinalizeJobHandler adapts Finalize to the job queue. Transient failures
// propagate so the queue retries; anything else is permanent.
func (s *SummaryService) FinalizeJobHandler() jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		sessionID, _ := job.Payload.(string)
		if sessionID == "" {
			sessionID = job.ID
		}
		if _, err := s.Finalize(ctx, sessionID); err != nil {
			if appErrors.IsTransient(err) {
				return err
			}
			return jobs.Permanent(err)
		}
		return nil
	}
}

// List returns a coordinator's summaries with filters and pagination.
func (s *SummaryService) List(ctx context.Context, filter models.SummaryFilter) ([]models.SessionSummary, *models.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	summaries, total, err := s.summaries.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list summaries")
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return summaries, pagination, nil
}

// Get returns one summary, scoped to the requesting coordinator.
func (s *SummaryService) Get(ctx context.Context, coordinatorID, id string) (*models.SessionSummary, error) {
	summary, err := s.summaries.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "summary not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load summary")
	}
	if summary.CoordinatorID != coordinatorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "summary belongs to another coordinator")
	}
	return summary, nil
}

// GetBySession returns the summary for a session, scoped to the coordinator.
func (s *SummaryService) GetBySession(ctx context.Context, coordinatorID, sessionID string) (*models.SessionSummary, error) {
	summary, err := s.summaries.FindBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session has no summary yet")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load summary")
	}
	if summary.CoordinatorID != coordinatorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "summary belongs to another coordinator")
	}
	return summary, nil
}

// Stats aggregates headline numbers across a coordinator's summaries.
func (s *SummaryService) Stats(ctx context.Context, filter models.SummaryFilter) (*models.SummaryStats, error) {
	stats, err := s.summaries.Stats(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute summary stats")
	}
	return stats, nil
}
