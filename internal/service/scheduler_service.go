package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/attendnet/attendnet-api/internal/models"
	"github.com/attendnet/attendnet-api/internal/notifier"
	appErrors "github.com/attendnet/attendnet-api/pkg/errors"
	"github.com/attendnet/attendnet-api/pkg/jobs"
)

// ScanTriggerScheduled labels scans fired by the scheduler, as opposed to
// manual scans submitted over the API.
const (
	ScanTriggerScheduled = "scheduled"
	ScanTriggerManual    = "manual"
)

type schedulerSessionStore interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
	FindEndingAfter(ctx context.Context, t time.Time) ([]models.Session, error)
	FindEndedUnsummarized(ctx context.Context, t time.Time) ([]models.Session, error)
}

// PresenceSource supplies the currently observed network addresses for a
// session. Acquisition mechanics live behind this interface.
type PresenceSource interface {
	Observed(ctx context.Context, sessionID string) ([]string, error)
}

type scanRunner interface {
	Scan(ctx context.Context, session *models.Session, observed []string) (*ScanResult, error)
}

// Finalizer hands a finished session off for summary creation.
type Finalizer interface {
	Dispatch(sessionID string) error
}

type eventPublisher interface {
	Publish(ctx context.Context, coordinatorID, topic string, payload interface{}) error
}

type scheduleState int

const (
	statePending scheduleState = iota
	stateActive
	stateFinalizing
	stateCancelled
)

// scheduleEntry tracks one registered session. Identity fields are set once
// at creation; state and timers are guarded by the scheduler mutex.
type scheduleEntry struct {
	sessionID     string
	coordinatorID string
	start         time.Time
	end           time.Time
	interval      time.Duration
	announce      bool

	state     scheduleState
	scanTimer Timer
	endTimer  Timer
}

// SchedulerService drives timer-based attendance scans over the lifetime of
// each registered session. A session moves through pending, active and
// finalizing; the final scan-and-summarise handoff happens exactly once per
// registration even when individual scans fail.
type SchedulerService struct {
	sessions  schedulerSessionStore
	presence  PresenceSource
	scanner   scanRunner
	finalizer Finalizer
	events    eventPublisher
	metrics   *MetricsService
	clock     Clock
	logger    *zap.Logger

	finalizeOnRecovery bool

	mu      sync.Mutex
	entries map[string]*scheduleEntry
}

// NewSchedulerService constructs the scheduler. finalizeOnRecovery controls
// whether RecoverAll also dispatches summaries for sessions that ended while
// the process was down.
func NewSchedulerService(
	sessions schedulerSessionStore,
	presence PresenceSource,
	scanner scanRunner,
	finalizer Finalizer,
	events eventPublisher,
	metrics *MetricsService,
	clock Clock,
	logger *zap.Logger,
	finalizeOnRecovery bool,
) *SchedulerService {
	if clock == nil {
		clock = NewClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchedulerService{
		sessions:           sessions,
		presence:           presence,
		scanner:            scanner,
		finalizer:          finalizer,
		events:             events,
		metrics:            metrics,
		clock:              clock,
		logger:             logger,
		finalizeOnRecovery: finalizeOnRecovery,
		entries:            make(map[string]*scheduleEntry),
	}
}

// Schedule registers a session for timer-driven scans. Registering a session
// that is already tracked is a no-op, as is registering one whose end has
// already passed.
func (s *SchedulerService) Schedule(session *models.Session) {
	s.schedule(session, true)
}

func (s *SchedulerService) schedule(session *models.Session, announce bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[session.ID]; ok {
		s.logger.Debug("session already scheduled", zap.String("session_id", session.ID))
		return
	}
	now := s.clock.Now()
	if !session.EndAt.After(now) {
		s.logger.Debug("refusing to schedule ended session", zap.String("session_id", session.ID))
		return
	}

	entry := &scheduleEntry{
		sessionID:     session.ID,
		coordinatorID: session.CoordinatorID,
		start:         session.StartAt,
		end:           session.EndAt,
		interval:      time.Duration(session.IntervalMinutes) * time.Minute,
		announce:      announce,
		state:         statePending,
	}

	id := session.ID
	startDelay := entry.start.Sub(now)
	if startDelay < 0 {
		startDelay = 0
	}
	entry.scanTimer = s.clock.AfterFunc(startDelay, func() { s.onStart(id) })
	entry.endTimer = s.clock.AfterFunc(entry.end.Sub(now), func() { s.finish(id) })
	s.entries[id] = entry
	s.metrics.SetActiveSchedules(len(s.entries))

	s.logger.Info("session scheduled",
		zap.String("session_id", id),
		zap.Time("start_at", entry.start),
		zap.Time("end_at", entry.end),
		zap.Duration("interval", entry.interval))
}

// Cancel removes a session's schedule and stops its timers. Cancelling an
// unknown session is a no-op.
func (s *SchedulerService) Cancel(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[sessionID]
	if !ok {
		return
	}
	entry.state = stateCancelled
	stopTimers(entry)
	delete(s.entries, sessionID)
	s.metrics.SetActiveSchedules(len(s.entries))
	s.logger.Info("session schedule cancelled", zap.String("session_id", sessionID))
}

// CancelAll stops every tracked schedule. Used during shutdown.
func (s *SchedulerService) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entry := range s.entries {
		entry.state = stateCancelled
		stopTimers(entry)
		delete(s.entries, id)
	}
	s.metrics.SetActiveSchedules(0)
	s.logger.Info("all session schedules cancelled")
}

// IsScheduled reports whether the session is currently tracked.
func (s *SchedulerService) IsScheduled(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[sessionID]
	return ok
}

// RecoverAll rebuilds schedules after a restart. Sessions still inside or
// ahead of their window are re-registered; a session already mid-window gets
// an immediate catch-up scan without a start announcement. Sessions that
// ended without a summary are handed to the finalizer directly.
func (s *SchedulerService) RecoverAll(ctx context.Context) error {
	now := s.clock.Now()

	if s.finalizeOnRecovery {
		ended, err := s.sessions.FindEndedUnsummarized(ctx, now)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to load unsummarized sessions")
		}
		for i := range ended {
			s.dispatchFinalize(ended[i].ID)
		}
		if len(ended) > 0 {
			s.logger.Info("dispatched summaries for sessions ended while down", zap.Int("count", len(ended)))
		}
	}

	open, err := s.sessions.FindEndingAfter(ctx, now)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to load open sessions")
	}
	for i := range open {
		session := &open[i]
		// A session already past its start was announced before the
		// restart; recovery must not announce it again.
		s.schedule(session, now.Before(session.StartAt))
	}
	s.logger.Info("schedules recovered", zap.Int("count", len(open)))
	return nil
}

// onStart fires when a session's start instant arrives. It activates the
// entry, announces the session if this registration owns the announcement,
// and runs the first scan.
func (s *SchedulerService) onStart(sessionID string) {
	s.mu.Lock()
	entry, ok := s.entries[sessionID]
	if !ok || entry.state != statePending {
		s.mu.Unlock()
		return
	}
	entry.state = stateActive
	announce := entry.announce
	coordinatorID := entry.coordinatorID
	s.mu.Unlock()

	ctx := context.Background()
	if announce {
		session, err := s.sessions.FindByID(ctx, sessionID)
		if err != nil {
			s.logger.Warn("failed to load session for start announcement",
				zap.String("session_id", sessionID), zap.Error(err))
		} else if err := s.events.Publish(ctx, coordinatorID, notifier.TopicSessionStarted, session); err != nil {
			s.logger.Warn("failed to publish session start",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	s.tick(sessionID)
}

// tick runs one scheduled scan pass and re-arms the interval timer. A tick
// landing at or past the session end finalizes instead of scanning.
func (s *SchedulerService) tick(sessionID string) {
	s.mu.Lock()
	entry, ok := s.entries[sessionID]
	if !ok || entry.state != stateActive {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	if !now.Before(entry.end) {
		s.mu.Unlock()
		s.finish(sessionID)
		return
	}
	interval := entry.interval
	s.mu.Unlock()

	s.runScan(context.Background(), sessionID)

	if interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok = s.entries[sessionID]
	if !ok || entry.state != stateActive {
		return
	}
	id := sessionID
	entry.scanTimer = s.clock.AfterFunc(interval, func() { s.tick(id) })
}

// runScan performs one reconciliation pass. A vanished session cancels its
// schedule; transient failures are logged and the schedule is kept so the
// next tick retries.
func (s *SchedulerService) runScan(ctx context.Context, sessionID string) {
	started := s.clock.Now()

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("scheduled session no longer exists, cancelling",
				zap.String("session_id", sessionID))
			s.Cancel(sessionID)
			return
		}
		s.logger.Warn("failed to load session for scan, keeping schedule",
			zap.String("session_id", sessionID), zap.Error(err))
		s.metrics.ObserveScan(ScanTriggerScheduled, err, s.clock.Now().Sub(started))
		return
	}

	observed, err := s.presence.Observed(ctx, sessionID)
	if err != nil {
		s.logger.Warn("failed to read observed addresses, keeping schedule",
			zap.String("session_id", sessionID), zap.Error(err))
		s.metrics.ObserveScan(ScanTriggerScheduled, err, s.clock.Now().Sub(started))
		return
	}

	result, err := s.scanner.Scan(ctx, session, observed)
	s.metrics.ObserveScan(ScanTriggerScheduled, err, s.clock.Now().Sub(started))
	if err != nil {
		if appErrors.IsCode(err, appErrors.ErrInvalidState.Code) {
			// Session ended between the tick check and the scan; the
			// end timer owns finalization.
			return
		}
		s.logger.Warn("scheduled scan failed, keeping schedule",
			zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	if err := s.events.Publish(ctx, session.CoordinatorID, notifier.TopicScanResult, result); err != nil {
		s.logger.Warn("failed to publish scan result",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

// finish ends a session's schedule and dispatches summary creation. Only the
// first caller per registration reaches the finalizer.
func (s *SchedulerService) finish(sessionID string) {
	s.mu.Lock()
	entry, ok := s.entries[sessionID]
	if !ok || entry.state == stateFinalizing || entry.state == stateCancelled {
		s.mu.Unlock()
		return
	}
	entry.state = stateFinalizing
	stopTimers(entry)
	delete(s.entries, sessionID)
	s.metrics.SetActiveSchedules(len(s.entries))
	s.mu.Unlock()

	s.dispatchFinalize(sessionID)
}

func (s *SchedulerService) dispatchFinalize(sessionID string) {
	if err := s.finalizer.Dispatch(sessionID); err != nil {
		s.logger.Error("failed to dispatch session finalization",
			zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	s.logger.Info("session finalization dispatched", zap.String("session_id", sessionID))
}

func stopTimers(entry *scheduleEntry) {
	if entry.scanTimer != nil {
		entry.scanTimer.Stop()
	}
	if entry.endTimer != nil {
		entry.endTimer.Stop()
	}
}

// FinalizeJobType is the queue job type carrying a session finalization.
const FinalizeJobType = "session.finalize"

// QueueFinalizer dispatches finalization through a job queue so transient
// store failures are retried with backoff.
type QueueFinalizer struct {
	queue *jobs.Queue
}

// NewQueueFinalizer wraps a started queue as a Finalizer.
func NewQueueFinalizer(queue *jobs.Queue) *QueueFinalizer {
	return &QueueFinalizer{queue: queue}
}

// Dispatch enqueues a finalization job keyed by session id.
func (f *QueueFinalizer) Dispatch(sessionID string) error {
	return f.queue.Enqueue(jobs.Job{
		ID:      sessionID,
		Type:    FinalizeJobType,
		Payload: sessionID,
	})
}
