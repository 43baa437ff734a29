package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academic-records-api/internal/models"
	"github.com/noah-isme/academic-records-api/internal/service"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
)

type sectionServiceMock struct {
	lastFilter models.SectionFilter
	slotDay    string
	slotReq    service.SetSlotRequest
	removeErr  error
	clashReq   service.ScheduleClashRequest
}

func (m *sectionServiceMock) List(ctx context.Context, filter models.SectionFilter) ([]models.Section, *models.Pagination, error) {
	m.lastFilter = filter
	return []models.Section{}, &models.Pagination{Page: 1, PageSize: 20}, nil
}

func (m *sectionServiceMock) Get(ctx context.Context, id string) (*models.Section, error) {
	return &models.Section{Offering: models.Offering{ID: id}}, nil
}

func (m *sectionServiceMock) Create(ctx context.Context, req service.CreateSectionRequest) (*models.Section, error) {
	return &models.Section{Offering: models.Offering{ID: "S1", Period: req.Period, Seats: req.Seats}, CourseCode: req.CourseCode}, nil
}

func (m *sectionServiceMock) Update(ctx context.Context, id string, req service.UpdateSectionRequest) (*models.Section, error) {
	return &models.Section{Offering: models.Offering{ID: id}}, nil
}

func (m *sectionServiceMock) Delete(ctx context.Context, id string) error {
	return nil
}

func (m *sectionServiceMock) Open(ctx context.Context, id string) (*models.Section, error) {
	return &models.Section{Offering: models.Offering{ID: id}, Status: models.SectionStatusOpen}, nil
}

func (m *sectionServiceMock) Close(ctx context.Context, id string) (*models.Section, error) {
	return &models.Section{Offering: models.Offering{ID: id}, Status: models.SectionStatusClosed}, nil
}

func (m *sectionServiceMock) SetSlot(ctx context.Context, id, day string, req service.SetSlotRequest) (*models.Section, error) {
	m.slotDay = day
	m.slotReq = req
	return &models.Section{Offering: models.Offering{ID: id}}, nil
}

func (m *sectionServiceMock) RemoveSlot(ctx context.Context, id, day string) (*models.Section, error) {
	if m.removeErr != nil {
		return nil, m.removeErr
	}
	return &models.Section{Offering: models.Offering{ID: id}}, nil
}

func (m *sectionServiceMock) ScheduleClash(ctx context.Context, id string, req service.ScheduleClashRequest) (*service.ScheduleClashResult, error) {
	m.clashReq = req
	return &service.ScheduleClashResult{SectionID: id, Clash: true}, nil
}

func (m *sectionServiceMock) Vacancies(ctx context.Context, id string) (*models.SectionVacancies, error) {
	return &models.SectionVacancies{}, nil
}

func (m *sectionServiceMock) PeriodStats(ctx context.Context, period string) (*models.PeriodStats, error) {
	return &models.PeriodStats{}, nil
}

func TestSectionHandlerListFilters(t *testing.T) {
	mock := &sectionServiceMock{}
	handler := NewSectionHandler(mock)
	c, w := newGinContext(http.MethodGet, "/sections?period=2025.1&course=MAT101&status=open&open_only=true", nil)

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2025.1", mock.lastFilter.Period)
	assert.Equal(t, "MAT101", mock.lastFilter.CourseCode)
	assert.Equal(t, models.SectionStatusOpen, mock.lastFilter.Status)
	assert.True(t, mock.lastFilter.OpenOnly)
}

func TestSectionHandlerSetSlot(t *testing.T) {
	mock := &sectionServiceMock{}
	handler := NewSectionHandler(mock)
	c, w := newGinContext(http.MethodPut, "/sections/S1/schedule/seg", []byte(`{"time_range":"08:00-10:00"}`))
	c.Params = gin.Params{{Key: "id", Value: "S1"}, {Key: "day", Value: "seg"}}

	handler.SetSlot(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "seg", mock.slotDay)
	assert.Equal(t, "08:00-10:00", mock.slotReq.TimeRange)
}

func TestSectionHandlerRemoveLastSlot(t *testing.T) {
	handler := NewSectionHandler(&sectionServiceMock{removeErr: appErrors.Clone(appErrors.ErrValidation, "cannot remove the last slot")})
	c, w := newGinContext(http.MethodDelete, "/sections/S1/schedule/seg", nil)
	c.Params = gin.Params{{Key: "id", Value: "S1"}, {Key: "day", Value: "seg"}}

	handler.RemoveSlot(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSectionHandlerScheduleClash(t *testing.T) {
	mock := &sectionServiceMock{}
	handler := NewSectionHandler(mock)
	c, w := newGinContext(http.MethodPost, "/sections/S1/schedule-clash", []byte(`{"schedule":{"seg":"09:00-11:00"}}`))
	c.Params = gin.Params{{Key: "id", Value: "S1"}}

	handler.ScheduleClash(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "09:00-11:00", mock.clashReq.Schedule["seg"])
	assert.Contains(t, w.Body.String(), `"clash":true`)
}

func TestSectionHandlerInvalidBody(t *testing.T) {
	handler := NewSectionHandler(&sectionServiceMock{})
	c, w := newGinContext(http.MethodPost, "/sections", []byte(`{`))

	handler.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
