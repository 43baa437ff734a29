package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academic-records-api/internal/models"
	"github.com/noah-isme/academic-records-api/internal/service"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
	"github.com/noah-isme/academic-records-api/pkg/response"
)

type sectionService interface {
	List(ctx context.Context, filter models.SectionFilter) ([]models.Section, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Section, error)
	Create(ctx context.Context, req service.CreateSectionRequest) (*models.Section, error)
	Update(ctx context.Context, id string, req service.UpdateSectionRequest) (*models.Section, error)
	Delete(ctx context.Context, id string) error
	Open(ctx context.Context, id string) (*models.Section, error)
	Close(ctx context.Context, id string) (*models.Section, error)
	SetSlot(ctx context.Context, id, day string, req service.SetSlotRequest) (*models.Section, error)
	RemoveSlot(ctx context.Context, id, day string) (*models.Section, error)
	ScheduleClash(ctx context.Context, id string, req service.ScheduleClashRequest) (*service.ScheduleClashResult, error)
	Vacancies(ctx context.Context, id string) (*models.SectionVacancies, error)
	PeriodStats(ctx context.Context, period string) (*models.PeriodStats, error)
}

// SectionHandler exposes class section endpoints.
type SectionHandler struct {
	sections sectionService
}

// NewSectionHandler constructs SectionHandler.
func NewSectionHandler(sections sectionService) *SectionHandler {
	return &SectionHandler{sections: sections}
}

// List godoc
// @Summary List sections
// @Tags Sections
// @Produce json
// @Param period query string false "Period"
// @Param course query string false "Course code"
// @Param status query string false "OPEN, CLOSED or FULL"
// @Param open_only query bool false "Only sections accepting enrollments"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sections [get]
func (h *SectionHandler) List(c *gin.Context) {
	var filter models.SectionFilter
	filter.Period = strings.TrimSpace(c.Query("period"))
	filter.CourseCode = strings.TrimSpace(c.Query("course"))
	filter.Status = models.SectionStatus(strings.ToUpper(c.Query("status")))
	if openOnly := queryBool(c, "open_only"); openOnly != nil {
		filter.OpenOnly = *openOnly
	}
	filter.Page, filter.PageSize = pageParams(c)
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	sections, pagination, err := h.sections.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sections, pagination)
}

// Get godoc
// @Summary Get section with schedule and occupancy
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id} [get]
func (h *SectionHandler) Get(c *gin.Context) {
	section, err := h.sections.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, section, nil)
}

// Create godoc
// @Summary Create section
// @Tags Sections
// @Accept json
// @Produce json
// @Param payload body service.CreateSectionRequest true "Section payload"
// @Success 201 {object} response.Envelope
// @Router /sections [post]
func (h *SectionHandler) Create(c *gin.Context) {
	var req service.CreateSectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	section, err := h.sections.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, section)
}

// Update godoc
// @Summary Update section
// @Tags Sections
// @Accept json
// @Produce json
// @Param id path string true "Section ID"
// @Param payload body service.UpdateSectionRequest true "Section payload"
// @Success 200 {object} response.Envelope
// @Router /sections/{id} [put]
func (h *SectionHandler) Update(c *gin.Context) {
	var req service.UpdateSectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	section, err := h.sections.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, section, nil)
}

// Delete godoc
// @Summary Delete section
// @Tags Sections
// @Param id path string true "Section ID"
// @Success 204
// @Failure 412 {object} response.Envelope
// @Router /sections/{id} [delete]
func (h *SectionHandler) Delete(c *gin.Context) {
	if err := h.sections.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Open godoc
// @Summary Open section for enrollment
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/open [post]
func (h *SectionHandler) Open(c *gin.Context) {
	section, err := h.sections.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, section, nil)
}

// Close godoc
// @Summary Close section
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/close [post]
func (h *SectionHandler) Close(c *gin.Context) {
	section, err := h.sections.Close(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, section, nil)
}

// SetSlot godoc
// @Summary Add or replace the slot for a day
// @Tags Sections
// @Accept json
// @Produce json
// @Param id path string true "Section ID"
// @Param day path string true "seg, ter, qua, qui, sex, sab or dom"
// @Param payload body service.SetSlotRequest true "Time range HH:MM-HH:MM"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/schedule/{day} [put]
func (h *SectionHandler) SetSlot(c *gin.Context) {
	var req service.SetSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	section, err := h.sections.SetSlot(c.Request.Context(), c.Param("id"), c.Param("day"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, section, nil)
}

// RemoveSlot godoc
// @Summary Remove the slot for a day
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Param day path string true "Day"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/schedule/{day} [delete]
func (h *SectionHandler) RemoveSlot(c *gin.Context) {
	section, err := h.sections.RemoveSlot(c.Request.Context(), c.Param("id"), c.Param("day"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, section, nil)
}

// ScheduleClash godoc
// @Summary Check a schedule against the section's slots
// @Tags Sections
// @Accept json
// @Produce json
// @Param id path string true "Section ID"
// @Param payload body service.ScheduleClashRequest true "Schedule map"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/schedule-clash [post]
func (h *SectionHandler) ScheduleClash(c *gin.Context) {
	var req service.ScheduleClashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.sections.ScheduleClash(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Vacancies godoc
// @Summary Seat availability of a section
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/vacancies [get]
func (h *SectionHandler) Vacancies(c *gin.Context) {
	vacancies, err := h.sections.Vacancies(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, vacancies, nil)
}

// PeriodStats godoc
// @Summary Section and seat statistics for a period
// @Tags Sections
// @Produce json
// @Param period path string true "Period"
// @Success 200 {object} response.Envelope
// @Router /sections/periods/{period}/stats [get]
func (h *SectionHandler) PeriodStats(c *gin.Context) {
	stats, err := h.sections.PeriodStats(c.Request.Context(), c.Param("period"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}
