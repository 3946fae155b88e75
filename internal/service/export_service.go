package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/attendnet/attendnet-api/internal/models"
	"github.com/attendnet/attendnet-api/internal/repository"
	appErrors "github.com/attendnet/attendnet-api/pkg/errors"
	"github.com/attendnet/attendnet-api/pkg/export"
	"github.com/attendnet/attendnet-api/pkg/jobs"
	"github.com/attendnet/attendnet-api/pkg/storage"
)

// ExportJobType is the queue job type carrying a summary export.
const ExportJobType = "summary.export"

type exportJobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	GetByID(ctx context.Context, id string) (*models.ExportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error
}

type exportSummarySource interface {
	FindBySessionID(ctx context.Context, sessionID string) (*models.SessionSummary, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportService renders finalized session summaries to downloadable CSV or
// PDF files. Jobs run on the export queue; downloads go through HMAC-signed
// tokens so stored files are never addressed directly.
type ExportService struct {
	jobs      exportJobStore
	summaries exportSummarySource
	storage   fileStorage
	csv       csvRenderer
	pdf       pdfRenderer
	signer    *storage.SignedURLSigner
	queue     jobEnqueuer
	logger    *zap.Logger
	cfg       ExportConfig
}

// NewExportService constructs the service. The queue is wired afterwards via
// SetQueue because the queue's handler closes over this service.
func NewExportService(
	jobStore exportJobStore,
	summaries exportSummarySource,
	fileStore fileStorage,
	signer *storage.SignedURLSigner,
	cfg ExportConfig,
	logger *zap.Logger,
	csv csvRenderer,
	pdf pdfRenderer,
) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		jobs:      jobStore,
		summaries: summaries,
		storage:   fileStore,
		csv:       csv,
		pdf:       pdf,
		signer:    signer,
		logger:    logger,
		cfg:       cfg,
	}
}

// SetQueue wires the export queue.
func (s *ExportService) SetQueue(queue jobEnqueuer) {
	s.queue = queue
}

// CreateJob queues an export of a session's summary. The summary must exist
// and belong to the requesting coordinator.
func (s *ExportService) CreateJob(ctx context.Context, coordinatorID, sessionID string, format models.ExportFormat) (*models.ExportJob, error) {
	if !format.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	summary, err := s.loadSummary(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if summary.CoordinatorID != coordinatorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "summary belongs to another coordinator")
	}

	job := &models.ExportJob{
		SessionID: sessionID,
		Format:    format,
		Status:    models.ExportStatusQueued,
		CreatedBy: coordinatorID,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}

	if s.queue != nil {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: ExportJobType, Payload: job.ID}); err != nil {
			s.failJob(context.Background(), job.ID, "export queue unavailable")
			return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to enqueue export")
		}
	}
	return job, nil
}

// Process renders one queued export job.
func (s *ExportService) Process(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to load export job")
	}

	processing := models.ExportStatusProcessing
	if err := s.jobs.Update(ctx, job.ID, repository.UpdateExportJobParams{Status: &processing}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to mark export processing")
	}

	summary, err := s.loadSummary(ctx, job.SessionID)
	if err != nil {
		s.failJob(ctx, job.ID, "summary not available")
		return err
	}

	payload, err := s.render(summary, job.Format)
	if err != nil {
		s.failJob(ctx, job.ID, err.Error())
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	filename := exportFilename(summary, job.Format)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		s.failJob(ctx, job.ID, "failed to store export file")
		return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to store export file")
	}

	token, _, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		s.failJob(ctx, job.ID, "failed to sign download url")
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download url")
	}
	resultURL := fmt.Sprintf("%s/exports/download/%s", strings.TrimRight(s.cfg.APIPrefix, "/"), token)

	finished := models.ExportStatusFinished
	now := time.Now().UTC()
	if err := s.jobs.Update(ctx, job.ID, repository.UpdateExportJobParams{
		Status:     &finished,
		FilePath:   &relPath,
		ResultURL:  &resultURL,
		FinishedAt: &now,
	}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to finish export job")
	}

	s.logger.Info("summary export finished",
		zap.String("job_id", job.ID),
		zap.String("session_id", job.SessionID),
		zap.String("format", string(job.Format)))
	return nil
}

// ExportJobHandler adapts Process to the job queue.
func (s *ExportService) ExportJobHandler() jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		jobID, _ := job.Payload.(string)
		if jobID == "" {
			jobID = job.ID
		}
		if err := s.Process(ctx, jobID); err != nil {
			if appErrors.IsTransient(err) {
				return err
			}
			return jobs.Permanent(err)
		}
		return nil
	}
}

// GetStatus returns a job's state, scoped to the requesting coordinator.
func (s *ExportService) GetStatus(ctx context.Context, coordinatorID, jobID string) (*models.ExportJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if job.CreatedBy != coordinatorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "export job belongs to another coordinator")
	}
	return job, nil
}

// ResolveDownload validates a signed token and opens the exported file.
func (s *ExportService) ResolveDownload(token string) (*os.File, error) {
	_, relPath, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export file no longer available")
	}
	return file, nil
}

// Cleanup removes export files older than ttl, defaulting to the configured
// result TTL.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) loadSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	summary, err := s.summaries.FindBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session has no summary")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "failed to load summary")
	}
	return summary, nil
}

func (s *ExportService) render(summary *models.SessionSummary, format models.ExportFormat) ([]byte, error) {
	dataset := summaryDataset(summary)
	switch format {
	case models.ExportFormatCSV:
		return s.csv.Render(dataset)
	case models.ExportFormatPDF:
		return s.pdf.Render(dataset)
	default:
		return nil, fmt.Errorf("unsupported format %s", format)
	}
}

func (s *ExportService) failJob(ctx context.Context, jobID, message string) {
	failed := models.ExportStatusFailed
	now := time.Now().UTC()
	if err := s.jobs.Update(ctx, jobID, repository.UpdateExportJobParams{
		Status:       &failed,
		ErrorMessage: &message,
		FinishedAt:   &now,
	}); err != nil {
		s.logger.Warn("failed to mark export job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func summaryDataset(summary *models.SessionSummary) export.Dataset {
	rows := make([]map[string]string, 0, len(summary.Records))
	for _, record := range summary.Records {
		rows = append(rows, map[string]string{
			"Student":        record.Name,
			"Department":     record.Department,
			"Status":         string(record.Status),
			"Present Count":  fmt.Sprintf("%d", record.PresentCount),
			"Total Scans":    fmt.Sprintf("%d", record.TotalScans),
			"Attendance (%)": fmt.Sprintf("%.2f", record.AttendancePercentage),
		})
	}
	return export.Dataset{
		Title: fmt.Sprintf("Attendance Summary: %s", summary.Course),
		Meta: []export.MetaLine{
			{Key: "Date", Value: summary.Date.Format("2006-01-02")},
			{Key: "Window", Value: fmt.Sprintf("%s - %s", summary.StartTime, summary.EndTime)},
			{Key: "Departments", Value: strings.Join([]string(summary.Departments), ", ")},
			{Key: "Present", Value: fmt.Sprintf("%d of %d", summary.PresentStudents, summary.TotalStudents)},
			{Key: "Attendance Rate", Value: fmt.Sprintf("%.2f%%", summary.AttendanceRate)},
			{Key: "Scans Performed", Value: fmt.Sprintf("%d", summary.TotalScansPerformed)},
		},
		Headers: []string{"Student", "Department", "Status", "Present Count", "Total Scans", "Attendance (%)"},
		Rows:    rows,
	}
}

func exportFilename(summary *models.SessionSummary, format models.ExportFormat) string {
	course := sanitizeFilename(summary.Course)
	timestamp := time.Now().UTC().Format("20060102_150405")
	return fmt.Sprintf("summary_%s_%s_%s.%s", course, summary.Date.Format("20060102"), timestamp, format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := strings.ToLower(replacer.Replace(raw))
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
