package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/academic-records-api/internal/dto"
	"github.com/noah-isme/academic-records-api/internal/models"
	"github.com/noah-isme/academic-records-api/internal/repository"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
	"github.com/noah-isme/academic-records-api/pkg/jobs"
)

type reportJobRepoStub struct {
	jobs    map[string]*models.ReportJob
	seq     int
	updates int
}

func newReportJobRepoStub(seed ...*models.ReportJob) *reportJobRepoStub {
	r := &reportJobRepoStub{jobs: map[string]*models.ReportJob{}}
	for _, job := range seed {
		r.jobs[job.ID] = job
	}
	return r
}

func (r *reportJobRepoStub) Create(ctx context.Context, job *models.ReportJob) error {
	r.seq++
	job.ID = fmt.Sprintf("job-%d", r.seq)
	stored := *job
	r.jobs[job.ID] = &stored
	return nil
}

func (r *reportJobRepoStub) FindByID(ctx context.Context, id string) (*models.ReportJob, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *job
	return &copied, nil
}

func (r *reportJobRepoStub) Update(ctx context.Context, id string, changes repository.ReportJobUpdate) error {
	job, ok := r.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	r.updates++
	if changes.Status != nil {
		job.Status = *changes.Status
	}
	if changes.Progress != nil {
		job.Progress = *changes.Progress
	}
	if changes.ResultURL != nil {
		job.ResultURL = changes.ResultURL
	}
	if changes.ErrorMessage != nil {
		job.ErrorMessage = changes.ErrorMessage
	}
	if changes.FinishedAt != nil {
		job.FinishedAt = changes.FinishedAt
	}
	return nil
}

func (r *reportJobRepoStub) ListPending(ctx context.Context, limit int) ([]models.ReportJob, error) {
	pending := make([]models.ReportJob, 0)
	for _, job := range r.jobs {
		if !job.Status.Terminal() {
			pending = append(pending, *job)
		}
	}
	return pending, nil
}

func (r *reportJobRepoStub) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	expired := make([]models.ReportJob, 0)
	for _, job := range r.jobs {
		if job.Status == models.ReportStatusFinished && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) &&
			job.ResultURL != nil && *job.ResultURL != "" {
			expired = append(expired, *job)
		}
	}
	return expired, nil
}

type dispatcherStub struct {
	jobs []jobs.Job
	err  error
}

func (d *dispatcherStub) TryEnqueue(job jobs.Job) error {
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

type jobFixture struct {
	svc     *ReportJobService
	repo    *reportJobRepoStub
	queue   *dispatcherStub
	exports *ExportService
	broker  *ProgressBroker
	metrics *MetricsService
}

func newJobFixture(t *testing.T, seed ...*models.ReportJob) *jobFixture {
	t.Helper()
	repo := newReportJobRepoStub(seed...)
	queue := &dispatcherStub{}
	exports, _ := newExportServiceForTest(t, rankingStub())
	broker := NewProgressBroker()
	metrics := NewMetricsService()
	sections := &reportSectionsStub{sections: map[string]models.Section{
		"S1": testSection("S1", "MAT101", 10, 0, map[string]string{"seg": "08:00-10:00"}),
	}}
	svc := NewReportJobService(repo, sections, queue, exports, broker, metrics, nil, zap.NewNop(), ReportJobConfig{CleanupInterval: time.Minute})
	return &jobFixture{svc: svc, repo: repo, queue: queue, exports: exports, broker: broker, metrics: metrics}
}

func TestReportJobServiceCreateExport(t *testing.T) {
	f := newJobFixture(t)
	actor := &models.JWTClaims{UserID: "user-1", Role: models.RoleRegistrar}

	job, err := f.svc.CreateExport(context.Background(), models.ReportExportRequest{
		Type:      models.ReportTypeSection,
		Format:    models.ReportFormatPDF,
		SectionID: " S1 ",
	}, actor)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusQueued, job.Status)
	assert.Equal(t, "S1", job.Params.SectionID)
	assert.Equal(t, "user-1", job.CreatedBy)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, job.ID, f.queue.jobs[0].ID)
	assert.Equal(t, "section", f.queue.jobs[0].Type)
}

func TestReportJobServiceCreateExportValidation(t *testing.T) {
	f := newJobFixture(t)

	_, err := f.svc.CreateExport(context.Background(), models.ReportExportRequest{Type: "grades", Format: models.ReportFormatCSV}, nil)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.CreateExport(context.Background(), models.ReportExportRequest{Type: models.ReportTypeRanking, Format: "xlsx"}, nil)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = f.svc.CreateExport(context.Background(), models.ReportExportRequest{Type: models.ReportTypeSection, Format: models.ReportFormatCSV}, nil)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Contains(t, appErr.Details, "section_id")

	_, err = f.svc.CreateExport(context.Background(), models.ReportExportRequest{Type: models.ReportTypeSection, Format: models.ReportFormatCSV, SectionID: "nope"}, nil)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.Empty(t, f.queue.jobs)
	assert.Empty(t, f.repo.jobs)
}

func TestReportJobServiceCreateExportQueueFull(t *testing.T) {
	f := newJobFixture(t)
	f.queue.err = fmt.Errorf("queue reports: %w", jobs.ErrQueueFull)

	_, err := f.svc.CreateExport(context.Background(), models.ReportExportRequest{Type: models.ReportTypeAtRisk, Format: models.ReportFormatCSV}, nil)
	assert.ErrorIs(t, err, appErrors.ErrTooManyRequests)
	require.Len(t, f.repo.jobs, 1)
	assert.Equal(t, models.ReportStatusFailed, f.repo.jobs["job-1"].Status)
}

func TestReportJobServiceGetJob(t *testing.T) {
	f := newJobFixture(t, &models.ReportJob{ID: "job-9", Type: models.ReportTypeRanking, Status: models.ReportStatusProcessing, Progress: 10})

	job, err := f.svc.GetJob(context.Background(), "job-9")
	require.NoError(t, err)
	assert.Equal(t, 10, job.Progress)

	_, err = f.svc.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestReportJobServiceResolveDownload(t *testing.T) {
	f := newJobFixture(t)
	job := &models.ReportJob{ID: "job-7", Type: models.ReportTypeRanking, Params: models.ReportJobParams{Format: models.ReportFormatCSV}, Status: models.ReportStatusQueued}
	f.repo.jobs[job.ID] = job

	result, err := f.exports.Generate(context.Background(), job)
	require.NoError(t, err)

	_, err = f.svc.ResolveDownload(context.Background(), result.Token)
	assert.ErrorIs(t, err, appErrors.ErrPreconditionFailed)

	job.Status = models.ReportStatusFinished
	job.ResultURL = &result.URL
	download, err := f.svc.ResolveDownload(context.Background(), result.Token)
	require.NoError(t, err)
	defer download.File.Close() //nolint:errcheck
	assert.Equal(t, "ranking_all_20250601_093000.csv", download.Filename)
	assert.Equal(t, models.ReportFormatCSV, download.Format)
	data, err := io.ReadAll(download.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Carla")

	_, err = f.svc.ResolveDownload(context.Background(), "bogus.token")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestReportJobServiceRecoverPendingJobs(t *testing.T) {
	f := newJobFixture(t,
		&models.ReportJob{ID: "a", Type: models.ReportTypeRanking, Status: models.ReportStatusQueued},
		&models.ReportJob{ID: "b", Type: models.ReportTypeAtRisk, Status: models.ReportStatusProcessing},
		&models.ReportJob{ID: "c", Type: models.ReportTypeAtRisk, Status: models.ReportStatusFinished},
	)
	assert.Equal(t, 2, f.svc.RecoverPendingJobs(context.Background()))
	assert.Len(t, f.queue.jobs, 2)
}

func TestReportJobServiceCleanupExpired(t *testing.T) {
	f := newJobFixture(t)
	job := &models.ReportJob{ID: "old", Type: models.ReportTypeRanking, Params: models.ReportJobParams{Format: models.ReportFormatCSV}}
	result, err := f.exports.Generate(context.Background(), job)
	require.NoError(t, err)

	finished := time.Now().Add(-2 * time.Hour)
	job.Status = models.ReportStatusFinished
	job.FinishedAt = &finished
	job.ResultURL = &result.URL
	f.repo.jobs[job.ID] = job

	assert.Equal(t, 1, f.svc.CleanupExpired(context.Background()))
	_, err = f.exports.Open(result.RelativePath)
	assert.Error(t, err)
	assert.Equal(t, "", *f.repo.jobs["old"].ResultURL)
	assert.Equal(t, 0, f.svc.CleanupExpired(context.Background()))
}

type exportStub struct {
	result *ExportResult
	err    error
}

func (e exportStub) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

func queuedJob() *models.ReportJob {
	return &models.ReportJob{
		ID:        "job-1",
		Type:      models.ReportTypeRanking,
		Params:    models.ReportJobParams{Format: models.ReportFormatCSV},
		Status:    models.ReportStatusQueued,
		CreatedAt: time.Now().Add(-time.Second),
	}
}

func TestReportWorkerHandleSuccess(t *testing.T) {
	repo := newReportJobRepoStub(queuedJob())
	broker := NewProgressBroker()
	events, cancel := broker.Subscribe("job-1")
	defer cancel()
	worker := NewReportWorker(repo, exportStub{result: &ExportResult{URL: "/api/v1/export/token"}}, broker, nil, 3, zap.NewNop())

	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: "job-1"}))
	stored := repo.jobs["job-1"]
	assert.Equal(t, models.ReportStatusFinished, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	require.NotNil(t, stored.ResultURL)
	assert.Equal(t, "/api/v1/export/token", *stored.ResultURL)
	assert.NotNil(t, stored.FinishedAt)

	first := <-events
	assert.Equal(t, dto.ReportProgressEvent{JobID: "job-1", Status: models.ReportStatusProcessing, Progress: 10}, first)
	last := <-events
	assert.Equal(t, models.ReportStatusFinished, last.Status)
	require.NotNil(t, last.ResultURL)
}

func TestReportWorkerHandleRetryThenFail(t *testing.T) {
	repo := newReportJobRepoStub(queuedJob())
	worker := NewReportWorker(repo, exportStub{err: errors.New("boom")}, NewProgressBroker(), nil, 2, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 1})
	require.Error(t, err)
	assert.False(t, jobs.IsPermanent(err))
	assert.Equal(t, models.ReportStatusQueued, repo.jobs["job-1"].Status)
	assert.Equal(t, 0, repo.jobs["job-1"].Progress)

	err = worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 2})
	require.Error(t, err)
	assert.Equal(t, models.ReportStatusFailed, repo.jobs["job-1"].Status)
	require.NotNil(t, repo.jobs["job-1"].ErrorMessage)
	assert.Equal(t, "boom", *repo.jobs["job-1"].ErrorMessage)
}

func TestReportWorkerHandleClientErrorIsPermanent(t *testing.T) {
	repo := newReportJobRepoStub(queuedJob())
	worker := NewReportWorker(repo, exportStub{err: appErrors.Clone(appErrors.ErrNotFound, "section not found")}, NewProgressBroker(), nil, 5, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1"})
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))
	assert.Equal(t, models.ReportStatusFailed, repo.jobs["job-1"].Status)
}

func TestReportWorkerSkipsTerminalAndMissingJobs(t *testing.T) {
	done := queuedJob()
	done.Status = models.ReportStatusFinished
	repo := newReportJobRepoStub(done)
	worker := NewReportWorker(repo, exportStub{err: errors.New("should not run")}, nil, nil, 1, zap.NewNop())

	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: "job-1"}))
	assert.Equal(t, 0, repo.updates)

	err := worker.Handle(context.Background(), jobs.Job{ID: "ghost"})
	assert.True(t, jobs.IsPermanent(err))
}
