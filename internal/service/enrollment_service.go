package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/academic-records-api/internal/models"
	"github.com/noah-isme/academic-records-api/internal/repository"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
	"github.com/noah-isme/academic-records-api/pkg/validation"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	ExistsForSection(ctx context.Context, registration, sectionID string) (bool, error)
	ListByStudent(ctx context.Context, registration string) ([]models.EnrollmentDetail, error)
	ListActiveInPeriod(ctx context.Context, registration, period string) ([]models.EnrollmentDetail, error)
	CountWithdrawals(ctx context.Context, registration, period string) (int, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	Save(ctx context.Context, enrollment *models.Enrollment) error
	Delete(ctx context.Context, id, sectionID string) error
}

type enrollmentSectionReader interface {
	FindByID(ctx context.Context, id string) (*models.Section, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Section, error)
}

type assessmentRepository interface {
	AddGrade(ctx context.Context, grade *models.AssessmentGrade) error
	ListGrades(ctx context.Context, enrollmentID string) ([]models.AssessmentGrade, error)
	UpsertAttendance(ctx context.Context, record *models.AttendanceRecord) error
	ListAttendance(ctx context.Context, enrollmentID string) ([]models.AttendanceRecord, error)
}

type settingsProvider interface {
	Current(ctx context.Context) (models.SystemConfiguration, error)
}

type crRecomputer interface {
	RecomputeCR(ctx context.Context, registration string) (float64, error)
}

// EnrollRequest is the payload of POST /enrollments and /enrollments/validate.
type EnrollRequest struct {
	StudentRegistration string `json:"student_registration" validate:"required"`
	SectionID           string `json:"section_id" validate:"required"`
}

// EvaluateEnrollmentRequest carries the final grade and attendance.
type EvaluateEnrollmentRequest struct {
	Grade      *float64 `json:"grade" validate:"required,min=0,max=10"`
	Attendance *float64 `json:"attendance" validate:"required,min=0,max=100"`
}

// PatchEnrollmentRequest corrects a concluded enrollment. Nil fields are kept.
type PatchEnrollmentRequest struct {
	Grade      *float64 `json:"grade" validate:"omitempty,min=0,max=10"`
	Attendance *float64 `json:"attendance" validate:"omitempty,min=0,max=100"`
}

// AddGradeRequest records a single assessment score.
type AddGradeRequest struct {
	Assessment string   `json:"assessment" validate:"required,max=60"`
	Score      *float64 `json:"score" validate:"required,min=0,max=10"`
}

// RecordAttendanceRequest records presence on a class date.
type RecordAttendanceRequest struct {
	Date    string `json:"date" validate:"required,datetime=2006-01-02"`
	Present *bool  `json:"present" validate:"required"`
}

// EnrollmentService orchestrates enrollment workflows.
type EnrollmentService struct {
	repo        enrollmentRepository
	students    studentLookup
	sections    enrollmentSectionReader
	courses     prerequisiteReader
	assessments assessmentRepository
	settings    settingsProvider
	records     crRecomputer
	audit       auditRecorder
	cache       cacheInvalidator
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// EnrollmentServiceDeps groups the collaborators of EnrollmentService.
type EnrollmentServiceDeps struct {
	Students    studentLookup
	Sections    enrollmentSectionReader
	Courses     prerequisiteReader
	Assessments assessmentRepository
	Settings    settingsProvider
	Records     crRecomputer
	Audit       auditRecorder
	Cache       cacheInvalidator
	Metrics     *MetricsService
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, deps EnrollmentServiceDeps, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validation.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:        repo,
		students:    deps.Students,
		sections:    deps.Sections,
		courses:     deps.Courses,
		assessments: deps.Assessments,
		settings:    deps.Settings,
		records:     deps.Records,
		audit:       deps.Audit,
		cache:       deps.Cache,
		metrics:     deps.Metrics,
		validator:   validate,
		logger:      logger,
		now:         time.Now,
	}
}

// List returns enrollments with pagination metadata.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid enrollment status")
	}
	filter.Period = models.NormalizePeriod(filter.Period)
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns an enrollment with course and period info.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}

// Validate runs the enrollment rule chain without persisting anything.
// Missing student or section and a repeated section fail with an error;
// every other rule is reported in the returned validation.
func (s *EnrollmentService) Validate(ctx context.Context, req EnrollRequest) (*models.EnrollmentValidation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.Error(err, "invalid enrollment payload")
	}
	registration := strings.TrimSpace(req.StudentRegistration)

	found, err := s.students.Exists(ctx, registration)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify student")
	}
	if !found {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	section, err := s.sections.FindByID(ctx, strings.TrimSpace(req.SectionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	already, err := s.repo.ExistsForSection(ctx, registration, section.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if already {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student already enrolled in this section")
	}

	cfg, err := s.settings.Current(ctx)
	if err != nil {
		return nil, err
	}

	result := &models.EnrollmentValidation{CanEnroll: true, Errors: []string{}, MissingPrerequisites: []string{}}
	if section.Status != models.SectionStatusOpen {
		result.Reject(fmt.Sprintf("section is %s", strings.ToLower(string(section.Status))))
	}
	if section.Available() <= 0 {
		result.Reject("section has no seats available")
	}

	missing, err := s.missingPrerequisites(ctx, registration, section.CourseCode)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		result.MissingPrerequisites = missing
		result.Reject("missing prerequisites: " + strings.Join(missing, ", "))
	}

	active, err := s.repo.ListActiveInPeriod(ctx, registration, section.Period)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active enrollments")
	}
	clashes, err := s.scheduleClashes(ctx, section, active)
	if err != nil {
		return nil, err
	}
	if len(clashes) > 0 {
		result.Clashes = clashes
		result.Reject("schedule clashes with an active enrollment")
	}
	for _, e := range active {
		if e.CourseCode == section.CourseCode {
			result.Reject(fmt.Sprintf("already enrolled in %s this period", section.CourseCode))
			break
		}
	}
	if cfg.MaxSectionsPerStudent > 0 && len(active) >= cfg.MaxSectionsPerStudent {
		result.Reject(fmt.Sprintf("limit of %d sections per period reached", cfg.MaxSectionsPerStudent))
	}
	return result, nil
}

// Create enrolls a student after the rule chain passes.
func (s *EnrollmentService) Create(ctx context.Context, req EnrollRequest) (*models.EnrollmentDetail, error) {
	check, err := s.Validate(ctx, req)
	if err != nil {
		return nil, err
	}
	if !check.CanEnroll {
		s.metrics.RecordEnrollment(false)
		return nil, appErrors.WithDetails(appErrors.ErrEnrollmentRejected, check.Errors[0], check)
	}

	enrollment := &models.Enrollment{
		StudentRegistration: strings.TrimSpace(req.StudentRegistration),
		SectionID:           strings.TrimSpace(req.SectionID),
	}
	if err := s.repo.Create(ctx, enrollment); err != nil {
		if errors.Is(err, repository.ErrNoSeats) {
			s.metrics.RecordEnrollment(false)
			check.Reject(err.Error())
			return nil, appErrors.WithDetails(appErrors.ErrEnrollmentRejected, err.Error(), check)
		}
		if errors.Is(err, repository.ErrDuplicateEnrollment) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student already enrolled in this section")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	s.metrics.RecordEnrollment(true)
	s.invalidateReports(ctx)
	s.logger.Info("student enrolled",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("registration", enrollment.StudentRegistration),
		zap.String("section_id", enrollment.SectionID),
	)
	return s.Get(ctx, enrollment.ID)
}

// Patch corrects grade or attendance of a concluded enrollment and re-evaluates it.
func (s *EnrollmentService) Patch(ctx context.Context, id string, req PatchEnrollmentRequest, actor *models.JWTClaims) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.Error(err, "invalid enrollment payload")
	}
	detail, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if detail.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment is in progress, use the evaluation endpoint")
	}
	if detail.Status == models.EnrollmentStatusWithdrawn {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "withdrawn enrollments cannot be corrected")
	}
	if req.Grade == nil && req.Attendance == nil {
		return detail, nil
	}
	grade, attendance := valueOr(detail.Grade), valueOr(detail.Attendance)
	if req.Grade != nil {
		grade = *req.Grade
	}
	if req.Attendance != nil {
		attendance = *req.Attendance
	}
	return s.conclude(ctx, detail, grade, attendance, actor)
}

// Delete removes an enrollment and frees its seat.
func (s *EnrollmentService) Delete(ctx context.Context, id string) error {
	detail, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, detail.ID, detail.SectionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enrollment")
	}
	if !detail.Active && detail.Status.CountsTowardsCR() {
		if _, err := s.records.RecomputeCR(ctx, detail.StudentRegistration); err != nil {
			return err
		}
	}
	s.invalidateReports(ctx)
	return nil
}

// Evaluate concludes an active enrollment with the given grade and attendance.
func (s *EnrollmentService) Evaluate(ctx context.Context, id string, req EvaluateEnrollmentRequest, actor *models.JWTClaims) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.Error(err, "invalid evaluation payload")
	}
	detail, err := s.activeEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.conclude(ctx, detail, *req.Grade, *req.Attendance, actor)
}

// Finalize evaluates an enrollment from its recorded assessments and attendance.
func (s *EnrollmentService) Finalize(ctx context.Context, id string, actor *models.JWTClaims) (*models.EnrollmentDetail, error) {
	detail, err := s.activeEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	grades, err := s.assessments.ListGrades(ctx, detail.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grades")
	}
	records, err := s.assessments.ListAttendance(ctx, detail.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
	}
	grade, err := models.FinalGrade(grades)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, err.Error())
	}
	attendance, err := models.AttendancePercentage(records)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, err.Error())
	}
	return s.conclude(ctx, detail, grade, attendance, actor)
}

// Withdraw marks an active enrollment as TRANCADA.
func (s *EnrollmentService) Withdraw(ctx context.Context, id string, actor *models.JWTClaims) (*models.EnrollmentDetail, error) {
	detail, err := s.activeEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	cfg, err := s.settings.Current(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if !cfg.CanWithdraw(now) {
		return nil, appErrors.Clone(appErrors.ErrWithdrawalClosed, "withdrawal deadline has passed")
	}
	count, err := s.repo.CountWithdrawals(ctx, detail.StudentRegistration, detail.Period)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count withdrawals")
	}
	if count >= cfg.WithdrawalLimit {
		return nil, appErrors.Clone(appErrors.ErrWithdrawalClosed, fmt.Sprintf("withdrawal limit of %d per period reached", cfg.WithdrawalLimit))
	}

	before := detail.Enrollment
	detail.Withdraw(now)
	if err := s.repo.Save(ctx, &detail.Enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to withdraw enrollment")
	}
	s.emitAudit(ctx, actor, models.AuditActionEnrollmentWithdraw, before, detail.Enrollment)
	s.invalidateReports(ctx)
	return s.Get(ctx, detail.ID)
}

// AddGrade records an assessment score on an active enrollment.
func (s *EnrollmentService) AddGrade(ctx context.Context, id string, req AddGradeRequest) (*models.AssessmentGrade, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.Error(err, "invalid grade payload")
	}
	detail, err := s.activeEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	grade := &models.AssessmentGrade{
		EnrollmentID: detail.ID,
		Assessment:   strings.TrimSpace(req.Assessment),
		Score:        *req.Score,
	}
	if err := s.assessments.AddGrade(ctx, grade); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record grade")
	}
	return grade, nil
}

// ListGrades returns the assessment scores of an enrollment.
func (s *EnrollmentService) ListGrades(ctx context.Context, id string) ([]models.AssessmentGrade, error) {
	detail, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	grades, err := s.assessments.ListGrades(ctx, detail.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grades")
	}
	if grades == nil {
		grades = []models.AssessmentGrade{}
	}
	return grades, nil
}

// RecordAttendance stores presence for a class date, replacing a previous record.
func (s *EnrollmentService) RecordAttendance(ctx context.Context, id string, req RecordAttendanceRequest) (*models.AttendanceRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.Error(err, "invalid attendance payload")
	}
	detail, err := s.activeEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	date, err := time.Parse(models.DateLayout, req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date must use YYYY-MM-DD format")
	}
	record := &models.AttendanceRecord{
		EnrollmentID: detail.ID,
		ClassDate:    date,
		Present:      *req.Present,
	}
	if err := s.assessments.UpsertAttendance(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attendance")
	}
	return record, nil
}

// ListAttendance returns the attendance records of an enrollment.
func (s *EnrollmentService) ListAttendance(ctx context.Context, id string) ([]models.AttendanceRecord, error) {
	detail, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	records, err := s.assessments.ListAttendance(ctx, detail.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
	}
	if records == nil {
		records = []models.AttendanceRecord{}
	}
	return records, nil
}

func (s *EnrollmentService) activeEnrollment(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !detail.Active {
		return nil, appErrors.Clone(appErrors.ErrEnrollmentClosed, fmt.Sprintf("enrollment is %s", detail.Status))
	}
	return detail, nil
}

func (s *EnrollmentService) conclude(ctx context.Context, detail *models.EnrollmentDetail, grade, attendance float64, actor *models.JWTClaims) (*models.EnrollmentDetail, error) {
	cfg, err := s.settings.Current(ctx)
	if err != nil {
		return nil, err
	}
	status, err := models.NewApprovalRule(cfg).Evaluate(grade, attendance)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	before := detail.Enrollment
	detail.Conclude(grade, attendance, status)
	if err := s.repo.Save(ctx, &detail.Enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save evaluation")
	}
	if _, err := s.records.RecomputeCR(ctx, detail.StudentRegistration); err != nil {
		return nil, err
	}
	s.metrics.RecordEvaluation(string(status))
	s.emitAudit(ctx, actor, models.AuditActionEnrollmentEvaluate, before, detail.Enrollment)
	s.invalidateReports(ctx)
	s.logger.Info("enrollment evaluated",
		zap.String("enrollment_id", detail.ID),
		zap.String("status", string(status)),
		zap.Float64("grade", grade),
		zap.Float64("attendance", attendance),
	)
	return s.Get(ctx, detail.ID)
}

func (s *EnrollmentService) missingPrerequisites(ctx context.Context, registration, courseCode string) ([]string, error) {
	graph, err := s.courses.PrerequisitesFor(ctx, []string{courseCode})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
	}
	if len(graph[courseCode]) == 0 {
		return nil, nil
	}
	details, err := s.repo.ListByStudent(ctx, registration)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic history")
	}
	history := make([]models.HistoryEntry, 0, len(details))
	for _, d := range details {
		if !d.Active {
			history = append(history, d.HistoryEntry())
		}
	}
	course := models.Course{Code: courseCode, Prerequisites: graph[courseCode]}
	return course.MissingPrerequisites(models.ApprovedCourses(history)), nil
}

func (s *EnrollmentService) scheduleClashes(ctx context.Context, section *models.Section, active []models.EnrollmentDetail) ([]models.ScheduleClash, error) {
	if len(active) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(active))
	for _, e := range active {
		ids = append(ids, e.SectionID)
	}
	others, err := s.sections.FindByIDs(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolled sections")
	}
	var clashes []models.ScheduleClash
	for _, other := range others {
		if other.ID == section.ID {
			continue
		}
		clashes = append(clashes, section.Schedule.Clashes(other.Schedule)...)
	}
	return clashes, nil
}

func (s *EnrollmentService) emitAudit(ctx context.Context, actor *models.JWTClaims, action string, before, after models.Enrollment) {
	if s.audit == nil {
		return
	}
	oldBytes, _ := json.Marshal(before)
	newBytes, _ := json.Marshal(after)
	id := after.ID
	entry := &models.AuditLog{
		UserID:     userIDPtr(actor),
		Action:     action,
		Resource:   "enrollment",
		ResourceID: &id,
		OldValues:  oldBytes,
		NewValues:  newBytes,
		IPAddress:  "system",
		UserAgent:  "enrollment-service",
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to record enrollment audit", zap.Error(err))
	}
}

func (s *EnrollmentService) invalidateReports(ctx context.Context) {
	invalidateReportCache(ctx, s.cache, s.logger)
}

func valueOr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
