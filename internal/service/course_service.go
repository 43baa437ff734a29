package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
	"github.com/noah-isme/academic-records-api/pkg/validation"
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	SearchByName(ctx context.Context, name string) ([]models.Course, error)
	FindByCode(ctx context.Context, code string) (*models.Course, error)
	Exists(ctx context.Context, code string) (bool, error)
	Create(ctx context.Context, course *models.Course) error
	Update(ctx context.Context, course *models.Course) error
	Delete(ctx context.Context, code string) error
	Prerequisites(ctx context.Context, code string) ([]string, error)
	PrerequisitesFor(ctx context.Context, codes []string) (map[string][]string, error)
	Edges(ctx context.Context) ([]models.PrerequisiteEdge, error)
	HasPrerequisite(ctx context.Context, course, prerequisite string) (bool, error)
	AddPrerequisite(ctx context.Context, course, prerequisite string) error
	RemovePrerequisite(ctx context.Context, course, prerequisite string) error
	Dependents(ctx context.Context, code string) ([]models.Course, error)
	CountSections(ctx context.Context, code string) (int, error)
}

type studentLookup interface {
	Exists(ctx context.Context, registration string) (bool, error)
}

// CreateCourseRequest holds payload for creating courses.
type CreateCourseRequest struct {
	Code          string   `json:"code" validate:"required,max=20"`
	Name          string   `json:"name" validate:"required,max=100"`
	CreditHours   int      `json:"credit_hours" validate:"required,gt=0"`
	Syllabus      string   `json:"syllabus" validate:"max=1000"`
	Prerequisites []string `json:"prerequisites" validate:"omitempty,dive,required"`
}

// UpdateCourseRequest holds the mutable course fields. Nil fields are kept.
type UpdateCourseRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=100"`
	CreditHours *int    `json:"credit_hours" validate:"omitempty,gt=0"`
	Syllabus    *string `json:"syllabus" validate:"omitempty,max=1000"`
}

// AddPrerequisiteRequest links a course to one of its prerequisites.
type AddPrerequisiteRequest struct {
	CourseCode       string `json:"course_code" validate:"required"`
	PrerequisiteCode string `json:"prerequisite_code" validate:"required"`
}

// EnrollmentEligibility answers whether a student meets a course's prerequisites.
type EnrollmentEligibility struct {
	CanEnroll            bool     `json:"can_enroll"`
	Message              string   `json:"message"`
	MissingPrerequisites []string `json:"missing_prerequisites"`
	CourseFound          bool     `json:"course_found"`
}

// CourseService handles the catalogue and prerequisite graph.
type CourseService struct {
	repo      courseRepository
	students  studentLookup
	history   studentHistoryReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCourseService constructs the course service.
func NewCourseService(repo courseRepository, students studentLookup, history studentHistoryReader, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validation.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{repo: repo, students: students, history: history, validator: validate, logger: logger}
}

// List returns courses, optionally with their prerequisites.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter, includePrerequisites bool) ([]models.Course, *models.Pagination, error) {
	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	if includePrerequisites {
		if err := s.attachPrerequisites(ctx, courses); err != nil {
			return nil, nil, err
		}
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	return courses, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Search matches course names case-insensitively.
func (s *CourseService) Search(ctx context.Context, name string) ([]models.Course, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "name is required")
	}
	courses, err := s.repo.SearchByName(ctx, name)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to search courses")
	}
	if err := s.attachPrerequisites(ctx, courses); err != nil {
		return nil, err
	}
	return courses, nil
}

// Get returns a course with its prerequisites.
func (s *CourseService) Get(ctx context.Context, code string) (*models.Course, error) {
	course, err := s.find(ctx, code)
	if err != nil {
		return nil, err
	}
	prereqs, err := s.repo.Prerequisites(ctx, course.Code)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
	}
	course.Prerequisites = nonNilStrings(prereqs)
	return course, nil
}

// Create adds a course and its initial prerequisites.
func (s *CourseService) Create(ctx context.Context, req CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.Error(err, "invalid course payload")
	}
	course := &models.Course{
		Code:        models.NormalizeCourseCode(req.Code),
		Name:        strings.TrimSpace(req.Name),
		CreditHours: req.CreditHours,
		Syllabus:    strings.TrimSpace(req.Syllabus),
	}
	if err := course.Validate(); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	exists, err := s.repo.Exists(ctx, course.Code)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate course code")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "course code already used")
	}

	prereqs := make([]string, 0, len(req.Prerequisites))
	seen := make(map[string]struct{}, len(req.Prerequisites))
	for _, raw := range req.Prerequisites {
		code := models.NormalizeCourseCode(raw)
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		if code == course.Code {
			return nil, appErrors.Clone(appErrors.ErrPrerequisiteCycle, "a course cannot require itself")
		}
		if err := s.requireCourse(ctx, code, "prerequisite course not found"); err != nil {
			return nil, err
		}
		prereqs = append(prereqs, code)
	}

	course.Prerequisites = prereqs
	if err := s.repo.Create(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}
	return course, nil
}

// Update modifies name, credit hours and syllabus.
func (s *CourseService) Update(ctx context.Context, code string, req UpdateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.Error(err, "invalid course payload")
	}
	course, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		course.Name = strings.TrimSpace(*req.Name)
	}
	if req.CreditHours != nil {
		course.CreditHours = *req.CreditHours
	}
	if req.Syllabus != nil {
		course.Syllabus = strings.TrimSpace(*req.Syllabus)
	}
	if err := course.Validate(); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if err := s.repo.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	return course, nil
}

// Delete removes a course unless it is still referenced.
func (s *CourseService) Delete(ctx context.Context, code string) error {
	course, err := s.find(ctx, code)
	if err != nil {
		return err
	}
	dependents, err := s.repo.Dependents(ctx, course.Code)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check dependents")
	}
	if len(dependents) > 0 {
		codes := make([]string, 0, len(dependents))
		for _, d := range dependents {
			codes = append(codes, d.Code)
		}
		return appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("course is a prerequisite of %s", strings.Join(codes, ", ")))
	}
	sections, err := s.repo.CountSections(ctx, course.Code)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check sections")
	}
	if sections > 0 {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "course has sections")
	}
	if err := s.repo.Delete(ctx, course.Code); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	return nil
}

// Prerequisites lists the codes a course requires.
func (s *CourseService) Prerequisites(ctx context.Context, code string) ([]string, error) {
	course, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	return course.Prerequisites, nil
}

// AddPrerequisite adds an edge after checking both ends, duplicates and cycles.
func (s *CourseService) AddPrerequisite(ctx context.Context, req AddPrerequisiteRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.Error(err, "invalid prerequisite payload")
	}
	course := models.NormalizeCourseCode(req.CourseCode)
	prereq := models.NormalizeCourseCode(req.PrerequisiteCode)
	if course == prereq {
		return nil, appErrors.Clone(appErrors.ErrPrerequisiteCycle, "a course cannot require itself")
	}
	if err := s.requireCourse(ctx, course, "course not found"); err != nil {
		return nil, err
	}
	if err := s.requireCourse(ctx, prereq, "prerequisite course not found"); err != nil {
		return nil, err
	}
	exists, err := s.repo.HasPrerequisite(ctx, course, prereq)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check prerequisite")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "prerequisite already registered")
	}
	edges, err := s.repo.Edges(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisite graph")
	}
	if models.NewPrerequisiteGraph(edges).WouldCycle(course, prereq) {
		return nil, appErrors.Clone(appErrors.ErrPrerequisiteCycle, fmt.Sprintf("%s already depends on %s", prereq, course))
	}
	if err := s.repo.AddPrerequisite(ctx, course, prereq); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add prerequisite")
	}
	s.logger.Info("prerequisite added", zap.String("course", course), zap.String("prerequisite", prereq))
	return s.Get(ctx, course)
}

// RemovePrerequisite deletes an edge.
func (s *CourseService) RemovePrerequisite(ctx context.Context, code, prerequisite string) error {
	course := models.NormalizeCourseCode(code)
	prereq := models.NormalizeCourseCode(prerequisite)
	if err := s.repo.RemovePrerequisite(ctx, course, prereq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "prerequisite not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove prerequisite")
	}
	return nil
}

// Dependents lists courses that require code.
func (s *CourseService) Dependents(ctx context.Context, code string) ([]models.Course, error) {
	course, err := s.find(ctx, code)
	if err != nil {
		return nil, err
	}
	dependents, err := s.repo.Dependents(ctx, course.Code)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list dependents")
	}
	if dependents == nil {
		dependents = make([]models.Course, 0)
	}
	return dependents, nil
}

// ValidateEnrollment checks whether a student passed every prerequisite of a course.
func (s *CourseService) ValidateEnrollment(ctx context.Context, code, registration string) (*EnrollmentEligibility, error) {
	result := &EnrollmentEligibility{MissingPrerequisites: []string{}}
	course, err := s.Get(ctx, code)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			result.Message = "course not found"
			return result, nil
		}
		return nil, err
	}
	result.CourseFound = true

	exists, err := s.students.Exists(ctx, strings.TrimSpace(registration))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify student")
	}
	if !exists {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	details, err := s.history.ListByStudent(ctx, strings.TrimSpace(registration))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load academic history")
	}
	history := make([]models.HistoryEntry, 0, len(details))
	for _, d := range details {
		history = append(history, d.HistoryEntry())
	}
	result.MissingPrerequisites = course.MissingPrerequisites(models.ApprovedCourses(history))
	result.CanEnroll = len(result.MissingPrerequisites) == 0
	if result.CanEnroll {
		result.Message = "all prerequisites satisfied"
	} else {
		result.Message = "missing prerequisites: " + strings.Join(result.MissingPrerequisites, ", ")
	}
	return result, nil
}

func (s *CourseService) attachPrerequisites(ctx context.Context, courses []models.Course) error {
	if len(courses) == 0 {
		return nil
	}
	codes := make([]string, 0, len(courses))
	for _, c := range courses {
		codes = append(codes, c.Code)
	}
	graph, err := s.repo.PrerequisitesFor(ctx, codes)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
	}
	for i := range courses {
		courses[i].Prerequisites = nonNilStrings(graph[courses[i].Code])
	}
	return nil
}

func (s *CourseService) requireCourse(ctx context.Context, code, message string) error {
	exists, err := s.repo.Exists(ctx, code)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify course")
	}
	if !exists {
		return appErrors.Clone(appErrors.ErrNotFound, message)
	}
	return nil
}

func (s *CourseService) find(ctx context.Context, code string) (*models.Course, error) {
	course, err := s.repo.FindByCode(ctx, models.NormalizeCourseCode(code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
