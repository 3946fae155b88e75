package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/attendnet/attendnet-api/internal/models"
	"github.com/attendnet/attendnet-api/internal/notifier"
	appErrors "github.com/attendnet/attendnet-api/pkg/errors"
	"github.com/attendnet/attendnet-api/pkg/macaddr"
)

type attendanceStore interface {
	UpsertScan(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRow, error)
}

type studentFinder interface {
	FindByDepartments(ctx context.Context, departments []string) ([]models.Student, error)
	FindByDepartmentsFold(ctx context.Context, departments []string) ([]models.Student, error)
}

type attendanceRateUpdater interface {
	UpdateAttendanceRate(ctx context.Context, id string, rate float64) error
}

// ScanCounts summarises one scan pass.
type ScanCounts struct {
	Total   int `json:"total"`
	Present int `json:"present"`
	Absent  int `json:"absent"`
}

// ScanStudentDetail is the per-student outcome of a scan pass.
type ScanStudentDetail struct {
	StudentID    string                  `json:"student_id"`
	Name         string                  `json:"name"`
	Department   string                  `json:"department"`
	Course       string                  `json:"course"`
	Status       models.AttendanceStatus `json:"status"`
	PresentCount int                     `json:"present_count"`
	TotalScans   int                     `json:"total_scans"`
	// ScanAverage is presentCount/totalScans as a percentage across the
	// session's scan series so far.
	ScanAverage float64 `json:"scan_average"`
}

// ScanResult is the structured outcome of a single scan pass.
type ScanResult struct {
	SessionID string              `json:"session_id"`
	Course    string              `json:"course"`
	Timestamp time.Time           `json:"timestamp"`
	Counts    ScanCounts          `json:"counts"`
	Present   []ScanStudentDetail `json:"present"`
	Absent    []ScanStudentDetail `json:"absent"`
}

// AttendanceService reconciles observed network addresses against a
// session's eligible students and persists per-student counters.
type AttendanceService struct {
	records  attendanceStore
	students studentFinder
	sessions attendanceRateUpdater
	events   eventPublisher
	metrics  *MetricsService
	clock    Clock
	logger   *zap.Logger
}

// NewAttendanceService constructs the reconciler. events and metrics may be
// nil in contexts that only need the bare scan algorithm.
func NewAttendanceService(records attendanceStore, students studentFinder, sessions attendanceRateUpdater, events eventPublisher, metrics *MetricsService, clock Clock, logger *zap.Logger) *AttendanceService {
	if clock == nil {
		clock = NewClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceService{records: records, students: students, sessions: sessions, events: events, metrics: metrics, clock: clock, logger: logger}
}

// ManualScan runs one coordinator-triggered pass with an explicitly supplied
// address list and broadcasts the result. It shares the scan path with the
// scheduler so both affect counters identically.
func (s *AttendanceService) ManualScan(ctx context.Context, session *models.Session, observed []string) (*ScanResult, error) {
	started := s.clock.Now()
	result, err := s.Scan(ctx, session, observed)
	s.metrics.ObserveScan(ScanTriggerManual, err, s.clock.Now().Sub(started))
	if err != nil {
		return nil, err
	}
	if s.events != nil {
		if err := s.events.Publish(ctx, session.CoordinatorID, notifier.TopicScanResult, result); err != nil {
			s.logger.Warn("failed to publish scan result",
				zap.String("session_id", session.ID), zap.Error(err))
		}
	}
	return result, nil
}

// Scan performs one reconciliation pass for the session: every eligible
// student is marked present or absent against the observed address set and
// their counters are advanced. An empty observed set marks everyone absent;
// an empty eligible population yields zero counts without error. Manual and
// timer-driven scans share this path so their effect on counters is
// identical.
func (s *AttendanceService) Scan(ctx context.Context, session *models.Session, observed []string) (*ScanResult, error) {
	now := s.clock.Now()
	if !session.EndAt.IsZero() && now.After(session.EndAt) {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "session has already ended")
	}

	departments := cleanDepartments(session.Departments)
	if len(departments) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session has no departments")
	}

	observedSet := macaddr.NewSet(observed)

	students, err := s.eligibleStudents(ctx, departments)
	if err != nil {
		return nil, err
	}

	result := &ScanResult{
		SessionID: session.ID,
		Course:    session.Course,
		Timestamp: now,
	}

	for i := range students {
		student := &students[i]
		status := models.AttendanceStatusAbsent
		if observedSet.Contains(student.MACAddress) {
			status = models.AttendanceStatusPresent
		}
		stored, err := s.records.UpsertScan(ctx, &models.AttendanceRecord{
			StudentID:  student.ID,
			SessionID:  session.ID,
			Department: student.Department,
			Status:     status,
		})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to record attendance")
		}
		detail := ScanStudentDetail{
			StudentID:    student.ID,
			Name:         student.Name,
			Department:   student.Department,
			Course:       session.Course,
			Status:       stored.Status,
			PresentCount: stored.PresentCount,
			TotalScans:   stored.TotalScans,
		}
		if stored.TotalScans > 0 {
			detail.ScanAverage = float64(stored.PresentCount) / float64(stored.TotalScans) * 100
		}
		if status == models.AttendanceStatusPresent {
			result.Present = append(result.Present, detail)
		} else {
			result.Absent = append(result.Absent, detail)
		}
	}

	result.Counts = ScanCounts{
		Total:   len(students),
		Present: len(result.Present),
		Absent:  len(result.Absent),
	}

	rate := 0.0
	if result.Counts.Total > 0 {
		rate = float64(result.Counts.Present) / float64(result.Counts.Total) * 100
	}
	if err := s.sessions.UpdateAttendanceRate(ctx, session.ID, rate); err != nil {
		// Counters are the source of truth; a failed rate write is not worth
		// failing the pass over.
		s.logger.Warn("failed to persist attendance rate",
			zap.String("session_id", session.ID), zap.Error(err))
	}

	return result, nil
}

// Records returns the current per-student snapshot for a session.
func (s *AttendanceService) Records(ctx context.Context, sessionID string) ([]models.AttendanceRow, error) {
	rows, err := s.records.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to load attendance records")
	}
	return rows, nil
}

// eligibleStudents resolves the scan population: exact department match
// first, then a case-insensitive retry so casing drift between session and
// student records does not silently scan nobody.
func (s *AttendanceService) eligibleStudents(ctx context.Context, departments []string) ([]models.Student, error) {
	students, err := s.students.FindByDepartments(ctx, departments)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to load eligible students")
	}
	if len(students) > 0 {
		return students, nil
	}
	students, err = s.students.FindByDepartmentsFold(ctx, departments)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to load eligible students")
	}
	return students, nil
}

func cleanDepartments(raw []string) []string {
	cleaned := make([]string, 0, len(raw))
	for _, d := range raw {
		if trimmed := strings.TrimSpace(d); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}
