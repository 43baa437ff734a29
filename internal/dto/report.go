package dto

import (
	"time"

	"github.com/noah-isme/academic-records-api/internal/models"
)

// ReportJobResponse exposes export job progress metadata.
type ReportJobResponse struct {
	ID         string              `json:"id"`
	Type       models.ReportType   `json:"type"`
	Format     models.ReportFormat `json:"format"`
	Status     models.ReportStatus `json:"status"`
	Progress   int                 `json:"progress"`
	ResultURL  *string             `json:"result_url,omitempty"`
	Error      *string             `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
}

// NewReportJobResponse maps a stored job to its API shape.
func NewReportJobResponse(job *models.ReportJob) *ReportJobResponse {
	resp := &ReportJobResponse{
		ID:         job.ID,
		Type:       job.Type,
		Format:     job.Params.Format,
		Status:     job.Status,
		Progress:   job.Progress,
		CreatedAt:  job.CreatedAt,
		FinishedAt: job.FinishedAt,
	}
	if job.Status == models.ReportStatusFinished {
		resp.ResultURL = job.ResultURL
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		resp.Error = job.ErrorMessage
	}
	return resp
}

// ReportProgressEvent is pushed to websocket subscribers of an export job.
type ReportProgressEvent struct {
	JobID     string              `json:"job_id"`
	Status    models.ReportStatus `json:"status"`
	Progress  int                 `json:"progress"`
	ResultURL *string             `json:"result_url,omitempty"`
	Error     *string             `json:"error,omitempty"`
}

// NewReportProgressEvent snapshots a job as a progress event.
func NewReportProgressEvent(job *models.ReportJob) ReportProgressEvent {
	resp := NewReportJobResponse(job)
	return ReportProgressEvent{
		JobID:     resp.ID,
		Status:    resp.Status,
		Progress:  resp.Progress,
		ResultURL: resp.ResultURL,
		Error:     resp.Error,
	}
}
