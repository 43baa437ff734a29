package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
	"github.com/noah-isme/academic-records-api/pkg/export"
)

// reportCachePattern matches every cached report key.
const reportCachePattern = "reports:*"

const summaryTopCourses = 5

type reportSectionReader interface {
	FindByID(ctx context.Context, id string) (*models.Section, error)
}

type reportEnrollmentReader interface {
	ListBySection(ctx context.Context, sectionID string) ([]models.EnrollmentDetail, error)
	ListByPeriod(ctx context.Context, period string) ([]models.Enrollment, error)
	TopCourses(ctx context.Context, period string, limit int) ([]models.CourseEnrollmentCount, error)
}

type reportAssessmentReader interface {
	ListGrades(ctx context.Context, enrollmentID string) ([]models.AssessmentGrade, error)
	ListAttendance(ctx context.Context, enrollmentID string) ([]models.AttendanceRecord, error)
}

type reportStudentReader interface {
	ListAll(ctx context.Context) ([]models.Student, error)
	Top(ctx context.Context, n int) ([]models.Student, error)
}

type reportCache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
}

// ReportService aggregates section, ranking, at-risk and enrollment reports.
// Every read returns whether it was served from the cache.
type ReportService struct {
	sections    reportSectionReader
	enrollments reportEnrollmentReader
	assessments reportAssessmentReader
	students    reportStudentReader
	settings    settingsProvider
	cache       reportCache
	metrics     *MetricsService
	logger      *zap.Logger
	now         func() time.Time
}

// NewReportService wires the report aggregation service.
func NewReportService(sections reportSectionReader, enrollments reportEnrollmentReader, assessments reportAssessmentReader, students reportStudentReader, settings settingsProvider, cache reportCache, metrics *MetricsService, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{
		sections:    sections,
		enrollments: enrollments,
		assessments: assessments,
		students:    students,
		settings:    settings,
		cache:       cache,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// Section returns statistics for one class section.
func (s *ReportService) Section(ctx context.Context, sectionID string) (*models.SectionReport, bool, error) {
	key := CacheKey("reports", "section", sectionID)
	var cached models.SectionReport
	if s.cacheGet(ctx, key, &cached) {
		return &cached, true, nil
	}

	section, err := s.sections.FindByID(ctx, sectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	rule, err := s.rule(ctx)
	if err != nil {
		return nil, false, err
	}
	start := time.Now()
	enrollments, err := s.enrollments.ListBySection(ctx, sectionID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section enrollments")
	}
	if err := s.fillInterim(ctx, enrollments); err != nil {
		return nil, false, err
	}
	s.metrics.ObserveDBQuery("report_section", time.Since(start))

	report := models.BuildSectionReport(*section, enrollments, rule, s.now().UTC())
	s.cacheSet(ctx, key, report)
	return &report, false, nil
}

// Ranking returns the top n students by CR. n <= 0 uses the configured default.
func (s *ReportService) Ranking(ctx context.Context, n int) ([]models.RankedStudent, bool, error) {
	if n <= 0 {
		cfg, err := s.settings.Current(ctx)
		if err != nil {
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load configuration")
		}
		n = cfg.RankingTopN
	}
	key := CacheKey("reports", "ranking", strconv.Itoa(n))
	var cached []models.RankedStudent
	if s.cacheGet(ctx, key, &cached) {
		return cached, true, nil
	}

	start := time.Now()
	students, err := s.students.Top(ctx, n)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load ranking")
	}
	s.metrics.ObserveDBQuery("report_ranking", time.Since(start))

	rows := models.RankingRows(models.Ranking(students, n))
	s.cacheSet(ctx, key, rows)
	return rows, false, nil
}

// AtRisk lists students with a CR below the minimum grade or repeated failures.
func (s *ReportService) AtRisk(ctx context.Context) ([]models.AtRiskStudent, bool, error) {
	key := CacheKey("reports", "at_risk")
	var cached []models.AtRiskStudent
	if s.cacheGet(ctx, key, &cached) {
		return cached, true, nil
	}

	rule, err := s.rule(ctx)
	if err != nil {
		return nil, false, err
	}
	start := time.Now()
	students, err := s.students.ListAll(ctx)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load students")
	}
	enrollments, err := s.enrollments.ListByPeriod(ctx, "")
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}
	s.metrics.ObserveDBQuery("report_at_risk", time.Since(start))

	history := make(map[string][]models.HistoryEntry)
	for _, e := range enrollments {
		if e.Active {
			continue
		}
		history[e.StudentRegistration] = append(history[e.StudentRegistration], models.HistoryEntry{
			EnrollmentID: e.ID,
			SectionID:    e.SectionID,
			Grade:        e.Grade,
			Attendance:   e.Attendance,
			Status:       e.Status,
		})
	}

	flagged := make([]models.AtRiskStudent, 0)
	for _, student := range students {
		entries := history[student.Registration]
		if !rule.AtRisk(student, entries) {
			continue
		}
		flagged = append(flagged, models.AtRiskStudent{
			Registration: student.Registration,
			Name:         student.Name,
			CR:           student.CR,
			Failures:     models.FailureCount(entries),
		})
	}
	sort.SliceStable(flagged, func(i, j int) bool {
		if flagged[i].CR != flagged[j].CR {
			return flagged[i].CR < flagged[j].CR
		}
		return flagged[i].Name < flagged[j].Name
	})

	s.cacheSet(ctx, key, flagged)
	return flagged, false, nil
}

// Enrollments summarises enrollments, optionally restricted to one period.
func (s *ReportService) Enrollments(ctx context.Context, period string) (*models.EnrollmentSummary, bool, error) {
	period = models.NormalizePeriod(period)
	scope := period
	if scope == "" {
		scope = "all"
	}
	key := CacheKey("reports", "enrollments", scope)
	var cached models.EnrollmentSummary
	if s.cacheGet(ctx, key, &cached) {
		return &cached, true, nil
	}

	start := time.Now()
	enrollments, err := s.enrollments.ListByPeriod(ctx, period)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}
	top, err := s.enrollments.TopCourses(ctx, period, summaryTopCourses)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course totals")
	}
	s.metrics.ObserveDBQuery("report_enrollments", time.Since(start))

	summary := models.BuildEnrollmentSummary(period, enrollments, top)
	s.cacheSet(ctx, key, summary)
	return &summary, false, nil
}

// Dataset flattens a report into rows for file export.
func (s *ReportService) Dataset(ctx context.Context, reportType models.ReportType, params models.ReportJobParams) (export.Dataset, error) {
	switch reportType {
	case models.ReportTypeSection:
		report, _, err := s.Section(ctx, params.SectionID)
		if err != nil {
			return export.Dataset{}, err
		}
		return sectionDataset(report), nil
	case models.ReportTypeRanking:
		rows, _, err := s.Ranking(ctx, params.Limit)
		if err != nil {
			return export.Dataset{}, err
		}
		return rankingDataset(rows), nil
	case models.ReportTypeAtRisk:
		rows, _, err := s.AtRisk(ctx)
		if err != nil {
			return export.Dataset{}, err
		}
		return atRiskDataset(rows), nil
	case models.ReportTypeEnrollments:
		summary, _, err := s.Enrollments(ctx, params.Period)
		if err != nil {
			return export.Dataset{}, err
		}
		return enrollmentsDataset(summary), nil
	}
	return export.Dataset{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported report type %q", reportType))
}

// fillInterim derives partial grade and attendance for active enrollments
// from the assessments recorded so far.
func (s *ReportService) fillInterim(ctx context.Context, enrollments []models.EnrollmentDetail) error {
	if s.assessments == nil {
		return nil
	}
	for i := range enrollments {
		e := &enrollments[i]
		if !e.Active {
			continue
		}
		if e.Grade == nil {
			grades, err := s.assessments.ListGrades(ctx, e.ID)
			if err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assessment grades")
			}
			if grade, err := models.FinalGrade(grades); err == nil {
				e.Grade = &grade
			}
		}
		if e.Attendance == nil {
			records, err := s.assessments.ListAttendance(ctx, e.ID)
			if err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
			}
			if attendance, err := models.AttendancePercentage(records); err == nil {
				e.Attendance = &attendance
			}
		}
	}
	return nil
}

// invalidateReportCache drops every cached report after a write that changes their inputs.
func invalidateReportCache(ctx context.Context, cache cacheInvalidator, logger *zap.Logger) {
	if cache == nil {
		return
	}
	if err := cache.Invalidate(ctx, reportCachePattern); err != nil {
		logger.Warn("failed to invalidate report cache", zap.Error(err))
	}
}

func (s *ReportService) rule(ctx context.Context) (models.ApprovalRule, error) {
	cfg, err := s.settings.Current(ctx)
	if err != nil {
		return models.ApprovalRule{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load configuration")
	}
	return models.NewApprovalRule(cfg), nil
}

func (s *ReportService) cacheGet(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}
	return s.cache.Get(ctx, key, dest)
}

func (s *ReportService) cacheSet(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	s.cache.Set(ctx, key, value, 0)
}

func sectionDataset(report *models.SectionReport) export.Dataset {
	ds := export.Dataset{
		Title:   fmt.Sprintf("Section %s - %s (%s)", report.SectionID, report.CourseName, report.Period),
		Headers: []string{"Metric", "Value"},
	}
	ds.Rows = append(ds.Rows,
		[]string{"Course", report.CourseCode},
		[]string{"Total enrollments", strconv.Itoa(report.TotalEnrollments)},
		[]string{"Active", strconv.Itoa(report.Active)},
		[]string{"Concluded", strconv.Itoa(report.Concluded)},
		[]string{"Approval rate (%)", formatDecimal(report.ApprovalRate)},
		[]string{"Average grade", formatOptional(report.AverageGrade)},
		[]string{"Average attendance (%)", formatOptional(report.AverageAttendance)},
	)
	for _, status := range models.ConcludedStatuses {
		ds.Rows = append(ds.Rows, []string{string(status), strconv.Itoa(report.StatusCounts[status])})
	}
	for _, risk := range report.AtRisk {
		ds.Rows = append(ds.Rows, []string{
			"At risk: " + risk.StudentRegistration,
			fmt.Sprintf("%s grade=%s attendance=%s", risk.StudentName, formatOptional(risk.Grade), formatOptional(risk.Attendance)),
		})
	}
	return ds
}

func rankingDataset(rows []models.RankedStudent) export.Dataset {
	ds := export.Dataset{Title: "Student ranking", Headers: []string{"Position", "Registration", "Name", "Email", "CR"}}
	for _, r := range rows {
		ds.Rows = append(ds.Rows, []string{strconv.Itoa(r.Position), r.Registration, r.Name, r.Email, formatDecimal(r.CR)})
	}
	return ds
}

func atRiskDataset(rows []models.AtRiskStudent) export.Dataset {
	ds := export.Dataset{Title: "Students at risk", Headers: []string{"Registration", "Name", "CR", "Failures"}}
	for _, r := range rows {
		ds.Rows = append(ds.Rows, []string{r.Registration, r.Name, formatDecimal(r.CR), strconv.Itoa(r.Failures)})
	}
	return ds
}

func enrollmentsDataset(summary *models.EnrollmentSummary) export.Dataset {
	title := "Enrollment summary"
	if summary.Period != "" {
		title += " " + summary.Period
	}
	ds := export.Dataset{Title: title, Headers: []string{"Metric", "Value"}}
	ds.Rows = append(ds.Rows,
		[]string{"Total", strconv.Itoa(summary.Total)},
		[]string{"Active", strconv.Itoa(summary.Active)},
		[]string{"Concluded", strconv.Itoa(summary.Concluded)},
		[]string{"Completion rate (%)", formatDecimal(summary.CompletionRate)},
		[]string{"Approval rate (%)", formatDecimal(summary.ApprovalRate)},
	)
	for _, status := range models.ConcludedStatuses {
		ds.Rows = append(ds.Rows, []string{string(status), strconv.Itoa(summary.Distribution[status])})
	}
	for i, course := range summary.TopCourses {
		ds.Rows = append(ds.Rows, []string{
			fmt.Sprintf("Top course #%d", i+1),
			fmt.Sprintf("%s %s (%d)", course.CourseCode, course.CourseName, course.Enrollments),
		})
	}
	return ds
}

func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return "-"
	}
	return formatDecimal(*v)
}
