package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academic-records-api/internal/models"
	"github.com/noah-isme/academic-records-api/internal/service"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
	"github.com/noah-isme/academic-records-api/pkg/response"
)

type studentService interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error)
	Get(ctx context.Context, registration string) (*models.StudentDetail, error)
	Create(ctx context.Context, req service.CreateStudentRequest) (*models.Student, error)
	Update(ctx context.Context, registration string, req service.UpdateStudentRequest) (*models.Student, error)
	Delete(ctx context.Context, registration string) error
	History(ctx context.Context, registration string) ([]models.HistoryEntry, error)
	RecomputeCR(ctx context.Context, registration string) (float64, error)
	CheckPrerequisites(ctx context.Context, registration string, courseCodes []string) ([]service.PrerequisiteStatus, error)
	Ranking(ctx context.Context, n int) ([]models.RankedStudent, error)
}

// StudentHandler exposes student endpoints.
type StudentHandler struct {
	students studentService
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(students studentService) *StudentHandler {
	return &StudentHandler{students: students}
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Param search query string false "Search by name, email or registration"
// @Param sort query string false "Sort by name, registration or cr"
// @Param order query string false "asc or desc"
// @Param order_by_cr query bool false "Sort by CR descending, then name"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	var filter models.StudentFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	filter.Page, filter.PageSize = pageParams(c)
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")
	if c.Query("order_by_cr") == "true" {
		filter.SortBy = "cr"
		filter.SortOrder = "desc"
	}

	students, pagination, err := h.students.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, pagination)
}

// Get godoc
// @Summary Get student with academic history
// @Tags Students
// @Produce json
// @Param registration path string true "Registration"
// @Success 200 {object} response.Envelope
// @Router /students/{registration} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.students.Get(c.Request.Context(), c.Param("registration"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Create godoc
// @Summary Create student
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body service.CreateStudentRequest true "Student payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Create(c *gin.Context) {
	var req service.CreateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.students.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// Update godoc
// @Summary Update student name or email
// @Tags Students
// @Accept json
// @Produce json
// @Param registration path string true "Registration"
// @Param payload body service.UpdateStudentRequest true "Student payload"
// @Success 200 {object} response.Envelope
// @Router /students/{registration} [patch]
func (h *StudentHandler) Update(c *gin.Context) {
	var req service.UpdateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.students.Update(c.Request.Context(), c.Param("registration"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Delete godoc
// @Summary Delete student and their enrollments
// @Tags Students
// @Param registration path string true "Registration"
// @Success 204
// @Router /students/{registration} [delete]
func (h *StudentHandler) Delete(c *gin.Context) {
	if err := h.students.Delete(c.Request.Context(), c.Param("registration")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CR godoc
// @Summary Recompute and persist the student's CR
// @Tags Students
// @Produce json
// @Param registration path string true "Registration"
// @Success 200 {object} response.Envelope
// @Router /students/{registration}/cr [get]
func (h *StudentHandler) CR(c *gin.Context) {
	registration := c.Param("registration")
	cr, err := h.students.RecomputeCR(c.Request.Context(), registration)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"registration": registration, "cr": cr}, nil)
}

// History godoc
// @Summary List concluded enrollments of a student
// @Tags Students
// @Produce json
// @Param registration path string true "Registration"
// @Success 200 {object} response.Envelope
// @Router /students/{registration}/history [get]
func (h *StudentHandler) History(c *gin.Context) {
	history, err := h.students.History(c.Request.Context(), c.Param("registration"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// Prerequisites godoc
// @Summary Check prerequisite completion per course
// @Tags Students
// @Produce json
// @Param registration path string true "Registration"
// @Param courses query string true "Comma separated course codes"
// @Success 200 {object} response.Envelope
// @Router /students/{registration}/prerequisites [get]
func (h *StudentHandler) Prerequisites(c *gin.Context) {
	codes := splitCSV(c.Query("courses"))
	if len(codes) == 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "courses query parameter is required"))
		return
	}
	statuses, err := h.students.CheckPrerequisites(c.Request.Context(), c.Param("registration"), codes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, statuses, nil)
}

// Ranking godoc
// @Summary Top students by CR
// @Tags Students
// @Produce json
// @Param n path int true "Number of students"
// @Success 200 {object} response.Envelope
// @Router /students/ranking/top/{n} [get]
func (h *StudentHandler) Ranking(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil || n <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "n must be a positive integer"))
		return
	}
	ranking, err := h.students.Ranking(c.Request.Context(), n)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, ranking, nil)
}
