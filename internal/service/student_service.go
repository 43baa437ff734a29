package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
	"github.com/noah-isme/academic-records-api/pkg/validation"
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	Top(ctx context.Context, n int) ([]models.Student, error)
	FindByRegistration(ctx context.Context, registration string) (*models.Student, error)
	Exists(ctx context.Context, registration string) (bool, error)
	Create(ctx context.Context, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	UpdateCR(ctx context.Context, registration string, cr float64) error
	Delete(ctx context.Context, registration string) error
}

type studentHistoryReader interface {
	ListByStudent(ctx context.Context, registration string) ([]models.EnrollmentDetail, error)
}

type prerequisiteReader interface {
	Exists(ctx context.Context, code string) (bool, error)
	PrerequisitesFor(ctx context.Context, codes []string) (map[string][]string, error)
}

// CreateStudentRequest holds payload for creating students.
type CreateStudentRequest struct {
	Registration string `json:"registration" validate:"required,max=32"`
	Name         string `json:"name" validate:"required,max=120"`
	Email        string `json:"email" validate:"required,email"`
}

// UpdateStudentRequest holds the mutable student fields. Nil fields are kept.
type UpdateStudentRequest struct {
	Name  *string `json:"name" validate:"omitempty,min=1,max=120"`
	Email *string `json:"email" validate:"omitempty,email"`
}

// PrerequisiteStatus tells whether a student may take a course.
type PrerequisiteStatus struct {
	CourseCode           string   `json:"course_code"`
	CourseFound          bool     `json:"course_found"`
	Satisfied            bool     `json:"satisfied"`
	MissingPrerequisites []string `json:"missing_prerequisites"`
}

// StudentService handles student use-cases.
type StudentService struct {
	repo        studentRepository
	enrollments studentHistoryReader
	courses     prerequisiteReader
	cache       cacheInvalidator
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, history studentHistoryReader, courses prerequisiteReader, cache cacheInvalidator, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validation.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, enrollments: history, courses: courses, cache: cache, validator: validate, logger: logger}
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	return students, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a student with their academic history.
func (s *StudentService) Get(ctx context.Context, registration string) (*models.StudentDetail, error) {
	student, err := s.find(ctx, registration)
	if err != nil {
		return nil, err
	}
	history, err := s.history(ctx, student.Registration)
	if err != nil {
		return nil, err
	}
	return &models.StudentDetail{Student: *student, History: history}, nil
}

// Create registers a new student.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.Error(err, "invalid student payload")
	}
	student := &models.Student{
		Registration: strings.TrimSpace(req.Registration),
		Person:       models.Person{Name: req.Name, Email: req.Email},
	}
	student.Person.Normalize()
	if err := student.Validate(); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	exists, err := s.repo.Exists(ctx, student.Registration)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate registration")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "registration already used")
	}
	if err := s.repo.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}
	invalidateReportCache(ctx, s.cache, s.logger)
	return student, nil
}

// Update modifies name and email.
func (s *StudentService) Update(ctx context.Context, registration string, req UpdateStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.Error(err, "invalid student payload")
	}
	student, err := s.find(ctx, registration)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		student.Name = *req.Name
	}
	if req.Email != nil {
		student.Email = *req.Email
	}
	student.Person.Normalize()
	if err := student.Validate(); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if err := s.repo.Update(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	invalidateReportCache(ctx, s.cache, s.logger)
	return student, nil
}

// Delete removes a student together with their enrollments.
func (s *StudentService) Delete(ctx context.Context, registration string) error {
	if err := s.repo.Delete(ctx, registration); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	invalidateReportCache(ctx, s.cache, s.logger)
	return nil
}

// History returns the concluded enrollments of a student.
func (s *StudentService) History(ctx context.Context, registration string) ([]models.HistoryEntry, error) {
	student, err := s.find(ctx, registration)
	if err != nil {
		return nil, err
	}
	return s.history(ctx, student.Registration)
}

func (s *StudentService) history(ctx context.Context, registration string) ([]models.HistoryEntry, error) {
	details, err := s.enrollments.ListByStudent(ctx, registration)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic history")
	}
	history := make([]models.HistoryEntry, 0, len(details))
	for _, d := range details {
		if d.Active {
			continue
		}
		history = append(history, d.HistoryEntry())
	}
	return history, nil
}

// RecomputeCR recalculates the coefficient from the history and persists it.
func (s *StudentService) RecomputeCR(ctx context.Context, registration string) (float64, error) {
	student, err := s.find(ctx, registration)
	if err != nil {
		return 0, err
	}
	history, err := s.history(ctx, student.Registration)
	if err != nil {
		return 0, err
	}
	cr := models.ComputeCR(history)
	if err := s.repo.UpdateCR(ctx, student.Registration, cr); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store cr")
	}
	invalidateReportCache(ctx, s.cache, s.logger)
	s.logger.Debug("cr recomputed", zap.String("registration", student.Registration), zap.Float64("cr", cr))
	return cr, nil
}

// CheckPrerequisites reports, per course, whether the student passed every prerequisite.
func (s *StudentService) CheckPrerequisites(ctx context.Context, registration string, courseCodes []string) ([]PrerequisiteStatus, error) {
	student, err := s.find(ctx, registration)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(courseCodes))
	seen := make(map[string]struct{}, len(courseCodes))
	for _, raw := range courseCodes {
		code := models.NormalizeCourseCode(raw)
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	if len(codes) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one course code is required")
	}

	history, err := s.history(ctx, student.Registration)
	if err != nil {
		return nil, err
	}
	approved := models.ApprovedCourses(history)
	graph, err := s.courses.PrerequisitesFor(ctx, codes)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
	}

	result := make([]PrerequisiteStatus, 0, len(codes))
	for _, code := range codes {
		found, err := s.courses.Exists(ctx, code)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify course")
		}
		status := PrerequisiteStatus{CourseCode: code, CourseFound: found, MissingPrerequisites: []string{}}
		if found {
			course := models.Course{Code: code, Prerequisites: graph[code]}
			status.MissingPrerequisites = course.MissingPrerequisites(approved)
			status.Satisfied = len(status.MissingPrerequisites) == 0
		}
		result = append(result, status)
	}
	return result, nil
}

// Ranking returns the top n students by CR.
func (s *StudentService) Ranking(ctx context.Context, n int) ([]models.RankedStudent, error) {
	if n <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "n must be greater than zero")
	}
	students, err := s.repo.Top(ctx, n)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rank students")
	}
	return models.RankingRows(models.Ranking(students, n)), nil
}

func (s *StudentService) find(ctx context.Context, registration string) (*models.Student, error) {
	student, err := s.repo.FindByRegistration(ctx, strings.TrimSpace(registration))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}
