package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/academic-records-api/internal/dto"
	"github.com/noah-isme/academic-records-api/internal/models"
	"github.com/noah-isme/academic-records-api/internal/repository"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
	"github.com/noah-isme/academic-records-api/pkg/jobs"
	"github.com/noah-isme/academic-records-api/pkg/storage"
	"github.com/noah-isme/academic-records-api/pkg/validation"
)

const (
	recoverBatch = 50
	cleanupBatch = 100
)

type reportJobStore interface {
	Create(ctx context.Context, job *models.ReportJob) error
	FindByID(ctx context.Context, id string) (*models.ReportJob, error)
	Update(ctx context.Context, id string, changes repository.ReportJobUpdate) error
	ListPending(ctx context.Context, limit int) ([]models.ReportJob, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error)
}

type jobDispatcher interface {
	TryEnqueue(job jobs.Job) error
}

type exportFiles interface {
	ParseToken(token string, allowExpired bool) (storage.DownloadClaims, error)
	Open(relPath string) (*os.File, error)
	Delete(relPath string) error
	Cleanup(ttl time.Duration) ([]string, error)
	ResultTTL() time.Duration
}

// ReportJobConfig tunes job housekeeping.
type ReportJobConfig struct {
	CleanupInterval time.Duration
}

// ReportDownload is an opened export file ready to stream.
type ReportDownload struct {
	File      *os.File
	Filename  string
	Format    models.ReportFormat
	ExpiresAt time.Time
}

// ReportJobService queues report exports and serves their downloads.
type ReportJobService struct {
	repo     reportJobStore
	sections reportSectionReader
	queue    jobDispatcher
	files    exportFiles
	broker   *ProgressBroker
	metrics  *MetricsService
	validate *validator.Validate
	logger   *zap.Logger
	cfg      ReportJobConfig
	now      func() time.Time
}

// NewReportJobService constructs the export job service.
func NewReportJobService(repo reportJobStore, sections reportSectionReader, queue jobDispatcher, files exportFiles, broker *ProgressBroker, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg ReportJobConfig) *ReportJobService {
	if validate == nil {
		validate = validation.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportJobService{
		repo:     repo,
		sections: sections,
		queue:    queue,
		files:    files,
		broker:   broker,
		metrics:  metrics,
		validate: validate,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// CreateExport validates the request, persists a QUEUED job and hands it to the worker queue.
func (s *ReportJobService) CreateExport(ctx context.Context, req models.ReportExportRequest, actor *models.JWTClaims) (*models.ReportJob, error) {
	req.SectionID = strings.TrimSpace(req.SectionID)
	req.Period = models.NormalizePeriod(req.Period)
	if err := s.validate.Struct(req); err != nil {
		return nil, validation.Error(err, "invalid export payload")
	}
	if req.Type == models.ReportTypeSection {
		if req.SectionID == "" {
			return nil, appErrors.WithDetails(appErrors.ErrValidation, "invalid export payload", map[string]string{"section_id": "section_id is required for section reports"})
		}
		if _, err := s.sections.FindByID(ctx, req.SectionID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
		}
	}

	job := &models.ReportJob{
		Type: req.Type,
		Params: models.ReportJobParams{
			Format:    req.Format,
			SectionID: req.SectionID,
			Period:    req.Period,
			Limit:     req.Limit,
		},
		Status:    models.ReportStatusQueued,
		CreatedAt: s.now().UTC(),
	}
	if actor != nil {
		job.CreatedBy = actor.UserID
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create report job")
	}

	if err := s.queue.TryEnqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
		msg := "report queue unavailable"
		failed := models.ReportStatusFailed
		finished := s.now().UTC()
		if updateErr := s.repo.Update(ctx, job.ID, repository.ReportJobUpdate{Status: &failed, ErrorMessage: &msg, FinishedAt: &finished}); updateErr != nil {
			s.logger.Warn("failed to mark unqueued job", zap.String("job_id", job.ID), zap.Error(updateErr))
		}
		s.metrics.RecordReportJob(string(job.Type), string(failed))
		if errors.Is(err, jobs.ErrQueueFull) {
			return nil, appErrors.Clone(appErrors.ErrTooManyRequests, "report queue is full, try again later")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, msg)
	}
	s.metrics.RecordReportJob(string(job.Type), string(job.Status))
	s.logger.Info("report export queued", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.String("format", string(job.Params.Format)))
	return job, nil
}

// GetJob returns the current state of an export job.
func (s *ReportJobService) GetJob(ctx context.Context, id string) (*models.ReportJob, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report job")
	}
	return job, nil
}

// Subscribe streams progress events for a job until the returned cancel func is called.
func (s *ReportJobService) Subscribe(jobID string) (<-chan dto.ReportProgressEvent, func()) {
	return s.broker.Subscribe(jobID)
}

// ResolveDownload validates a signed token and opens the stored file.
func (s *ReportJobService) ResolveDownload(ctx context.Context, token string) (*ReportDownload, error) {
	claims, err := s.files.ParseToken(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download token")
	}
	job, err := s.GetJob(ctx, claims.JobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.ReportStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "report not ready")
	}
	if job.ResultURL == nil || extractToken(*job.ResultURL) != token {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token does not match report")
	}
	file, err := s.files.Open(claims.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report file no longer available")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ReportDownload{
		File:      file,
		Filename:  filepath.Base(claims.Path),
		Format:    job.Params.Format,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// RecoverPendingJobs requeues jobs left QUEUED or PROCESSING by a previous process.
func (s *ReportJobService) RecoverPendingJobs(ctx context.Context) int {
	pending, err := s.repo.ListPending(ctx, recoverBatch)
	if err != nil {
		s.logger.Warn("failed to list pending report jobs", zap.Error(err))
		return 0
	}
	requeued := 0
	for _, job := range pending {
		if err := s.queue.TryEnqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
			s.logger.Warn("failed to requeue report job", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		requeued++
	}
	if requeued > 0 {
		s.logger.Info("report jobs recovered", zap.Int("count", requeued))
	}
	return requeued
}

// StartCleanup purges expired export files every CleanupInterval until ctx ends.
func (s *ReportJobService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CleanupExpired(ctx)
			}
		}
	}()
}

// CleanupExpired deletes files of jobs finished before the result TTL, then sweeps stray files.
func (s *ReportJobService) CleanupExpired(ctx context.Context) int {
	ttl := s.files.ResultTTL()
	cutoff := s.now().Add(-ttl)
	removed := 0
	for {
		expired, err := s.repo.ListFinishedBefore(ctx, cutoff, cleanupBatch)
		if err != nil {
			s.logger.Warn("report cleanup listing failed", zap.Error(err))
			break
		}
		for _, job := range expired {
			if job.ResultURL != nil {
				if claims, err := s.files.ParseToken(extractToken(*job.ResultURL), true); err == nil {
					if err := s.files.Delete(claims.Path); err != nil {
						s.logger.Warn("report cleanup delete failed", zap.String("job_id", job.ID), zap.Error(err))
						continue
					}
				}
			}
			empty := ""
			if err := s.repo.Update(ctx, job.ID, repository.ReportJobUpdate{ResultURL: &empty}); err != nil {
				s.logger.Warn("report cleanup update failed", zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
			removed++
		}
		if len(expired) < cleanupBatch {
			break
		}
	}
	if stray, err := s.files.Cleanup(ttl); err != nil {
		s.logger.Warn("report filesystem cleanup failed", zap.Error(err))
	} else if len(stray) > 0 {
		s.logger.Info("stray report files removed", zap.Int("count", len(stray)))
	}
	return removed
}

func extractToken(url string) string {
	if url == "" {
		return ""
	}
	return url[strings.LastIndex(url, "/")+1:]
}

type exportGenerator interface {
	Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error)
}

// ReportWorker runs queued export jobs and publishes their progress.
type ReportWorker struct {
	repo       reportJobStore
	exporter   exportGenerator
	broker     *ProgressBroker
	metrics    *MetricsService
	logger     *zap.Logger
	maxRetries int
	now        func() time.Time
}

// NewReportWorker constructs a worker. maxRetries must match the queue's.
func NewReportWorker(repo reportJobStore, exporter exportGenerator, broker *ProgressBroker, metrics *MetricsService, maxRetries int, logger *zap.Logger) *ReportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &ReportWorker{
		repo:       repo,
		exporter:   exporter,
		broker:     broker,
		metrics:    metrics,
		logger:     logger,
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// Handle processes one queue job. Client errors fail the job without retry.
func (w *ReportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.FindByID(ctx, job.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return jobs.Permanent(fmt.Errorf("report job %s not found", job.ID))
		}
		return err
	}
	if record.Status.Terminal() {
		return nil
	}

	if err := w.update(ctx, record, models.ReportStatusProcessing, 10, nil, nil, nil); err != nil {
		return err
	}
	w.metrics.RecordReportJob(string(record.Type), string(models.ReportStatusProcessing))

	result, err := w.exporter.Generate(ctx, record)
	if err != nil {
		msg := err.Error()
		permanent := isClientError(err)
		if permanent || job.Attempt >= w.maxRetries {
			finished := w.now().UTC()
			if updateErr := w.update(ctx, record, models.ReportStatusFailed, 100, nil, &msg, &finished); updateErr != nil {
				w.logger.Warn("failed to mark report job failed", zap.String("job_id", job.ID), zap.Error(updateErr))
			}
			w.metrics.RecordReportJob(string(record.Type), string(models.ReportStatusFailed))
			w.logger.Error("report job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if permanent {
				return jobs.Permanent(err)
			}
			return err
		}
		if updateErr := w.update(ctx, record, models.ReportStatusQueued, 0, nil, &msg, nil); updateErr != nil {
			w.logger.Warn("failed to requeue report job", zap.String("job_id", job.ID), zap.Error(updateErr))
		}
		return err
	}

	finished := w.now().UTC()
	url := result.URL
	cleared := ""
	if err := w.update(ctx, record, models.ReportStatusFinished, 100, &url, &cleared, &finished); err != nil {
		w.logger.Warn("failed to mark report job finished", zap.String("job_id", job.ID), zap.Error(err))
		return err
	}
	w.metrics.RecordReportJob(string(record.Type), string(models.ReportStatusFinished))
	w.logger.Info("report job finished", zap.String("job_id", job.ID), zap.Duration("elapsed", finished.Sub(record.CreatedAt)))
	return nil
}

func (w *ReportWorker) update(ctx context.Context, record *models.ReportJob, status models.ReportStatus, progress int, url, errMsg *string, finishedAt *time.Time) error {
	if err := w.repo.Update(ctx, record.ID, repository.ReportJobUpdate{
		Status:       &status,
		Progress:     &progress,
		ResultURL:    url,
		ErrorMessage: errMsg,
		FinishedAt:   finishedAt,
	}); err != nil {
		return err
	}
	event := dto.ReportProgressEvent{JobID: record.ID, Status: status, Progress: progress}
	if status == models.ReportStatusFinished {
		event.ResultURL = url
	}
	if status == models.ReportStatusFailed {
		event.Error = errMsg
	}
	w.broker.Publish(event)
	return nil
}

func isClientError(err error) bool {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr.Status >= 400 && appErr.Status < 500
	}
	return false
}
