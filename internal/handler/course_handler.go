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

type courseService interface {
	List(ctx context.Context, filter models.CourseFilter, includePrerequisites bool) ([]models.Course, *models.Pagination, error)
	Search(ctx context.Context, name string) ([]models.Course, error)
	Get(ctx context.Context, code string) (*models.Course, error)
	Create(ctx context.Context, req service.CreateCourseRequest) (*models.Course, error)
	Update(ctx context.Context, code string, req service.UpdateCourseRequest) (*models.Course, error)
	Delete(ctx context.Context, code string) error
	Prerequisites(ctx context.Context, code string) ([]string, error)
	AddPrerequisite(ctx context.Context, req service.AddPrerequisiteRequest) (*models.Course, error)
	RemovePrerequisite(ctx context.Context, code, prerequisite string) error
	Dependents(ctx context.Context, code string) ([]models.Course, error)
	ValidateEnrollment(ctx context.Context, code, registration string) (*service.EnrollmentEligibility, error)
}

// CourseHandler exposes the course catalogue and prerequisite graph.
type CourseHandler struct {
	courses courseService
}

// NewCourseHandler constructs CourseHandler.
func NewCourseHandler(courses courseService) *CourseHandler {
	return &CourseHandler{courses: courses}
}

// List godoc
// @Summary List courses
// @Tags Courses
// @Produce json
// @Param search query string false "Search by code or name"
// @Param include_prerequisites query bool false "Attach prerequisite codes"
// @Param sort query string false "Sort column"
// @Param order query string false "asc or desc"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /courses [get]
func (h *CourseHandler) List(c *gin.Context) {
	var filter models.CourseFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	filter.Page, filter.PageSize = pageParams(c)
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")
	include := queryBool(c, "include_prerequisites")

	courses, pagination, err := h.courses.List(c.Request.Context(), filter, include != nil && *include)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, pagination)
}

// Search godoc
// @Summary Search courses by name
// @Tags Courses
// @Produce json
// @Param name query string true "Partial name, case-insensitive"
// @Success 200 {object} response.Envelope
// @Router /courses/search [get]
func (h *CourseHandler) Search(c *gin.Context) {
	courses, err := h.courses.Search(c.Request.Context(), c.Query("name"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, nil)
}

// Get godoc
// @Summary Get course
// @Tags Courses
// @Produce json
// @Param code path string true "Course code"
// @Success 200 {object} response.Envelope
// @Router /courses/{code} [get]
func (h *CourseHandler) Get(c *gin.Context) {
	course, err := h.courses.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Create godoc
// @Summary Create course
// @Tags Courses
// @Accept json
// @Produce json
// @Param payload body service.CreateCourseRequest true "Course payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses [post]
func (h *CourseHandler) Create(c *gin.Context) {
	var req service.CreateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	course, err := h.courses.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// Update godoc
// @Summary Update course
// @Tags Courses
// @Accept json
// @Produce json
// @Param code path string true "Course code"
// @Param payload body service.UpdateCourseRequest true "Course payload"
// @Success 200 {object} response.Envelope
// @Router /courses/{code} [put]
func (h *CourseHandler) Update(c *gin.Context) {
	var req service.UpdateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	course, err := h.courses.Update(c.Request.Context(), c.Param("code"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Delete godoc
// @Summary Delete course
// @Tags Courses
// @Param code path string true "Course code"
// @Success 204
// @Failure 412 {object} response.Envelope
// @Router /courses/{code} [delete]
func (h *CourseHandler) Delete(c *gin.Context) {
	if err := h.courses.Delete(c.Request.Context(), c.Param("code")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Prerequisites godoc
// @Summary List prerequisites of a course
// @Tags Courses
// @Produce json
// @Param code path string true "Course code"
// @Success 200 {object} response.Envelope
// @Router /courses/{code}/prerequisites [get]
func (h *CourseHandler) Prerequisites(c *gin.Context) {
	codes, err := h.courses.Prerequisites(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, codes, nil)
}

// AddPrerequisite godoc
// @Summary Add a prerequisite edge
// @Tags Courses
// @Accept json
// @Produce json
// @Param payload body service.AddPrerequisiteRequest true "Prerequisite edge"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /courses/prerequisites [post]
func (h *CourseHandler) AddPrerequisite(c *gin.Context) {
	var req service.AddPrerequisiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	course, err := h.courses.AddPrerequisite(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// RemovePrerequisite godoc
// @Summary Remove a prerequisite edge
// @Tags Courses
// @Param code path string true "Course code"
// @Param prerequisite path string true "Prerequisite code"
// @Success 204
// @Router /courses/{code}/prerequisites/{prerequisite} [delete]
func (h *CourseHandler) RemovePrerequisite(c *gin.Context) {
	if err := h.courses.RemovePrerequisite(c.Request.Context(), c.Param("code"), c.Param("prerequisite")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Dependents godoc
// @Summary List courses that require this course
// @Tags Courses
// @Produce json
// @Param code path string true "Course code"
// @Success 200 {object} response.Envelope
// @Router /courses/{code}/dependents [get]
func (h *CourseHandler) Dependents(c *gin.Context) {
	courses, err := h.courses.Dependents(c.Request.Context(), c.Param("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, nil)
}

// ValidateEnrollment godoc
// @Summary Check whether a student meets a course's prerequisites
// @Tags Courses
// @Produce json
// @Param code path string true "Course code"
// @Param registration path string true "Registration"
// @Success 200 {object} response.Envelope
// @Router /courses/{code}/validate-enrollment/{registration} [get]
func (h *CourseHandler) ValidateEnrollment(c *gin.Context) {
	result, err := h.courses.ValidateEnrollment(c.Request.Context(), c.Param("code"), c.Param("registration"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
