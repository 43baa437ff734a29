package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academic-records-api/internal/dto"
	"github.com/noah-isme/academic-records-api/internal/middleware"
	"github.com/noah-isme/academic-records-api/internal/models"
	"github.com/noah-isme/academic-records-api/internal/service"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
)

type exportJobServiceMock struct {
	mu          sync.Mutex
	job         *models.ReportJob
	createErr   error
	createReq   models.ReportExportRequest
	events      chan dto.ReportProgressEvent
	subscribed  chan struct{}
	download    *service.ReportDownload
	downloadErr error
}

func (m *exportJobServiceMock) CreateExport(ctx context.Context, req models.ReportExportRequest, actor *models.JWTClaims) (*models.ReportJob, error) {
	m.createReq = req
	if m.createErr != nil {
		return nil, m.createErr
	}
	return m.job, nil
}

func (m *exportJobServiceMock) GetJob(ctx context.Context, id string) (*models.ReportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.job == nil || m.job.ID != id {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "report job not found")
	}
	copied := *m.job
	return &copied, nil
}

func (m *exportJobServiceMock) Subscribe(jobID string) (<-chan dto.ReportProgressEvent, func()) {
	if m.subscribed != nil {
		close(m.subscribed)
	}
	if m.events == nil {
		m.events = make(chan dto.ReportProgressEvent)
	}
	return m.events, func() {}
}

func (m *exportJobServiceMock) ResolveDownload(ctx context.Context, token string) (*service.ReportDownload, error) {
	return m.download, m.downloadErr
}

func queuedReportJob(id string) *models.ReportJob {
	return &models.ReportJob{
		ID:     id,
		Type:   models.ReportTypeRanking,
		Status: models.ReportStatusQueued,
		Params: models.ReportJobParams{Format: models.ReportFormatCSV},
	}
}

func TestExportHandlerCreate(t *testing.T) {
	mock := &exportJobServiceMock{job: queuedReportJob("job-1")}
	handler := NewExportHandler(mock, nil, nil)
	c, w := newGinContext(http.MethodPost, "/reports/exports", []byte(`{"type":"ranking","format":"csv"}`))
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})

	handler.Create(c)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, models.ReportTypeRanking, mock.createReq.Type)
	assert.Contains(t, w.Body.String(), `"status":"QUEUED"`)
}

func TestExportHandlerCreateQueueFull(t *testing.T) {
	mock := &exportJobServiceMock{createErr: appErrors.Clone(appErrors.ErrTooManyRequests, "export queue is full")}
	handler := NewExportHandler(mock, nil, nil)
	c, w := newGinContext(http.MethodPost, "/reports/exports", []byte(`{"type":"ranking","format":"pdf"}`))

	handler.Create(c)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestExportHandlerStatusHidesURLUntilFinished(t *testing.T) {
	job := queuedReportJob("job-1")
	url := "/api/v1/export/token"
	job.ResultURL = &url
	handler := NewExportHandler(&exportJobServiceMock{job: job}, nil, nil)
	c, w := newGinContext(http.MethodGet, "/reports/exports/job-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "job-1"}}

	handler.Status(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "result_url")
}

func TestExportHandlerDownload(t *testing.T) {
	file, err := os.CreateTemp(t.TempDir(), "report*.csv")
	require.NoError(t, err)
	_, _ = file.WriteString("Position,Registration\n1,R1\n")
	_, _ = file.Seek(0, 0)

	mock := &exportJobServiceMock{download: &service.ReportDownload{
		File:      file,
		Filename:  "ranking_all.csv",
		Format:    models.ReportFormatCSV,
		ExpiresAt: time.Now().Add(time.Hour),
	}}
	handler := NewExportHandler(mock, nil, nil)
	c, w := newGinContext(http.MethodGet, "/export/token", nil)
	c.Params = gin.Params{{Key: "token", Value: "token"}}

	handler.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "ranking_all.csv")
	assert.Equal(t, "Position,Registration\n1,R1\n", w.Body.String())
}

func TestExportHandlerDownloadExpired(t *testing.T) {
	handler := NewExportHandler(&exportJobServiceMock{downloadErr: appErrors.Clone(appErrors.ErrForbidden, "download link expired")}, nil, nil)
	c, w := newGinContext(http.MethodGet, "/export/token", nil)
	c.Params = gin.Params{{Key: "token", Value: "token"}}

	handler.Download(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestExportHandlerStreamUnknownJob(t *testing.T) {
	handler := NewExportHandler(&exportJobServiceMock{}, nil, nil)
	c, w := newGinContext(http.MethodGet, "/reports/exports/nope/stream", nil)
	c.Params = gin.Params{{Key: "id", Value: "nope"}}

	handler.Stream(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportHandlerStreamSendsProgressUntilTerminal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &exportJobServiceMock{
		job:        queuedReportJob("job-1"),
		events:     make(chan dto.ReportProgressEvent, 2),
		subscribed: make(chan struct{}),
	}
	handler := NewExportHandler(mock, []string{"http://portal.test"}, nil)
	r := gin.New()
	r.GET("/reports/exports/:id/stream", handler.Stream)
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/reports/exports/job-1/stream"
	header := http.Header{"Origin": []string{"http://portal.test"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	<-mock.subscribed
	var first dto.ReportProgressEvent
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, models.ReportStatusQueued, first.Status)

	url := "/api/v1/export/abc"
	mock.events <- dto.ReportProgressEvent{JobID: "job-1", Status: models.ReportStatusProcessing, Progress: 10}
	mock.events <- dto.ReportProgressEvent{JobID: "job-1", Status: models.ReportStatusFinished, Progress: 100, ResultURL: &url}

	var second, third dto.ReportProgressEvent
	require.NoError(t, conn.ReadJSON(&second))
	require.NoError(t, conn.ReadJSON(&third))
	assert.Equal(t, 10, second.Progress)
	assert.Equal(t, models.ReportStatusFinished, third.Status)
	require.NotNil(t, third.ResultURL)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestExportHandlerStreamRejectsForeignOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewExportHandler(&exportJobServiceMock{job: queuedReportJob("job-1")}, []string{"http://portal.test"}, nil)
	r := gin.New()
	r.GET("/reports/exports/:id/stream", handler.Stream)
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/reports/exports/job-1/stream"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"http://evil.test"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
