package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/academic-records-api/internal/middleware"
	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
	"github.com/noah-isme/academic-records-api/pkg/response"
)

type reportService interface {
	Section(ctx context.Context, sectionID string) (*models.SectionReport, bool, error)
	Ranking(ctx context.Context, n int) ([]models.RankedStudent, bool, error)
	AtRisk(ctx context.Context) ([]models.AtRiskStudent, bool, error)
	Enrollments(ctx context.Context, period string) (*models.EnrollmentSummary, bool, error)
}

// ReportHandler exposes the synchronous, cached reports.
type ReportHandler struct {
	reports reportService
}

// NewReportHandler constructs handler.
func NewReportHandler(reports reportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// Section godoc
// @Summary Section statistics
// @Tags Reports
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /reports/sections/{id} [get]
func (h *ReportHandler) Section(c *gin.Context) {
	start := time.Now()
	report, hit, err := h.reports.Section(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	respondCached(c, start, report, hit)
}

// Ranking godoc
// @Summary Students ranked by CR
// @Tags Reports
// @Produce json
// @Param n query int false "Number of students, defaults to ranking_top_n"
// @Success 200 {object} response.Envelope
// @Router /reports/ranking [get]
func (h *ReportHandler) Ranking(c *gin.Context) {
	start := time.Now()
	n := 0
	if raw := strings.TrimSpace(c.Query("n")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "n must be a positive integer"))
			return
		}
		n = parsed
	}
	ranking, hit, err := h.reports.Ranking(c.Request.Context(), n)
	if err != nil {
		response.Error(c, err)
		return
	}
	respondCached(c, start, ranking, hit)
}

// AtRisk godoc
// @Summary Students at academic risk
// @Tags Reports
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /reports/at-risk [get]
func (h *ReportHandler) AtRisk(c *gin.Context) {
	start := time.Now()
	students, hit, err := h.reports.AtRisk(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	respondCached(c, start, students, hit)
}

// Enrollments godoc
// @Summary Enrollment summary
// @Tags Reports
// @Produce json
// @Param period query string false "Period, all periods when empty"
// @Success 200 {object} response.Envelope
// @Router /reports/enrollments [get]
func (h *ReportHandler) Enrollments(c *gin.Context) {
	start := time.Now()
	summary, hit, err := h.reports.Enrollments(c.Request.Context(), c.Query("period"))
	if err != nil {
		response.Error(c, err)
		return
	}
	respondCached(c, start, summary, hit)
}

func respondCached(c *gin.Context, start time.Time, data interface{}, hit bool) {
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, data, nil, middleware.ExtractMeta(c, start))
}
