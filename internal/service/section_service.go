package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
	"github.com/noah-isme/academic-records-api/pkg/validation"
)

type sectionRepository interface {
	List(ctx context.Context, filter models.SectionFilter) ([]models.Section, int, error)
	FindByID(ctx context.Context, id string) (*models.Section, error)
	Exists(ctx context.Context, id string) (bool, error)
	Create(ctx context.Context, section *models.Section) error
	Update(ctx context.Context, section *models.Section) error
	ReplaceSchedule(ctx context.Context, exec sqlx.ExtContext, sectionID string, schedule models.Schedule) error
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.SectionStatus) error
	SyncStatus(ctx context.Context, exec sqlx.ExtContext, id string) error
	Delete(ctx context.Context, id string) error
	CountEnrollments(ctx context.Context, id string) (int, error)
	PeriodStats(ctx context.Context, period string) (*models.PeriodStats, error)
}

type courseLookup interface {
	Exists(ctx context.Context, code string) (bool, error)
}

// CreateSectionRequest holds payload for opening a section.
type CreateSectionRequest struct {
	ID         string            `json:"id" validate:"omitempty,max=64"`
	CourseCode string            `json:"course_code" validate:"required"`
	Period     string            `json:"period" validate:"required,max=20"`
	Seats      int               `json:"seats" validate:"required,gt=0"`
	Location   *string           `json:"location" validate:"omitempty,max=120"`
	Schedule   map[string]string `json:"schedule" validate:"required,min=1"`
}

// UpdateSectionRequest holds the mutable section fields. Nil fields are kept.
type UpdateSectionRequest struct {
	Period   *string           `json:"period" validate:"omitempty,min=1,max=20"`
	Seats    *int              `json:"seats" validate:"omitempty,gt=0"`
	Location *string           `json:"location" validate:"omitempty,max=120"`
	Schedule map[string]string `json:"schedule" validate:"omitempty,min=1"`
}

// SetSlotRequest is the body of PUT /sections/{id}/schedule/{day}.
type SetSlotRequest struct {
	TimeRange string `json:"time_range" validate:"required"`
}

// ScheduleClashRequest is the body of POST /sections/{id}/schedule-clash.
type ScheduleClashRequest struct {
	Schedule map[string]string `json:"schedule" validate:"required,min=1"`
}

// ScheduleClashResult reports overlaps between a section and a candidate schedule.
type ScheduleClashResult struct {
	SectionID string                 `json:"section_id"`
	Clash     bool                   `json:"clash"`
	Clashes   []models.ScheduleClash `json:"clashes"`
}

// SectionService manages class sections and their schedules.
type SectionService struct {
	repo      sectionRepository
	courses   courseLookup
	cache     cacheInvalidator
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSectionService constructs the section service.
func NewSectionService(repo sectionRepository, courses courseLookup, cache cacheInvalidator, validate *validator.Validate, logger *zap.Logger) *SectionService {
	if validate == nil {
		validate = validation.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SectionService{repo: repo, courses: courses, cache: cache, validator: validate, logger: logger}
}

// List returns sections and pagination metadata.
func (s *SectionService) List(ctx context.Context, filter models.SectionFilter) ([]models.Section, *models.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid section status")
	}
	filter.CourseCode = models.NormalizeCourseCode(filter.CourseCode)
	filter.Period = models.NormalizePeriod(filter.Period)
	sections, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sections")
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	return sections, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a section with schedule and occupancy.
func (s *SectionService) Get(ctx context.Context, id string) (*models.Section, error) {
	section, err := s.repo.FindByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	return section, nil
}

// Create opens a new section for an existing course.
func (s *SectionService) Create(ctx context.Context, req CreateSectionRequest) (*models.Section, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.Error(err, "invalid section payload")
	}
	schedule, err := models.ScheduleFromMap(req.Schedule)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	section := &models.Section{
		Offering: models.Offering{
			ID:       strings.TrimSpace(req.ID),
			Period:   models.NormalizePeriod(req.Period),
			Seats:    req.Seats,
			Schedule: schedule,
		},
		CourseCode: models.NormalizeCourseCode(req.CourseCode),
		Location:   trimmedPtr(req.Location),
		Status:     models.SectionStatusOpen,
	}
	if err := section.Validate(); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	found, err := s.courses.Exists(ctx, section.CourseCode)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify course")
	}
	if !found {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
	}
	if section.ID != "" {
		taken, err := s.repo.Exists(ctx, section.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate section id")
		}
		if taken {
			return nil, appErrors.Clone(appErrors.ErrConflict, "section id already used")
		}
	}

	if err := s.repo.Create(ctx, section); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create section")
	}
	return s.Get(ctx, section.ID)
}

// Update changes period, seats, location or schedule.
func (s *SectionService) Update(ctx context.Context, id string, req UpdateSectionRequest) (*models.Section, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.Error(err, "invalid section payload")
	}
	section, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Period != nil {
		section.Period = models.NormalizePeriod(*req.Period)
	}
	if req.Seats != nil {
		if *req.Seats < section.Occupied {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "seats cannot be lower than the enrolled students")
		}
		section.Seats = *req.Seats
	}
	if req.Location != nil {
		section.Location = trimmedPtr(req.Location)
	}
	if req.Schedule != nil {
		schedule, err := models.ScheduleFromMap(req.Schedule)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
		}
		section.Schedule = schedule
	}
	if err := section.Validate(); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if err := s.repo.Update(ctx, section); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update section")
	}
	if err := s.repo.SyncStatus(ctx, nil, section.ID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sync section status")
	}
	invalidateReportCache(ctx, s.cache, s.logger)
	return s.Get(ctx, section.ID)
}

// Delete removes a section without enrollments.
func (s *SectionService) Delete(ctx context.Context, id string) error {
	section, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	total, err := s.repo.CountEnrollments(ctx, section.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollments")
	}
	if total > 0 {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "section has enrollments")
	}
	if err := s.repo.Delete(ctx, section.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete section")
	}
	invalidateReportCache(ctx, s.cache, s.logger)
	return nil
}

// Open re-opens a section; it lands on FULL when no seat is free.
func (s *SectionService) Open(ctx context.Context, id string) (*models.Section, error) {
	section, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	status := models.SectionStatusOpen
	if section.Occupied >= section.Seats {
		status = models.SectionStatusFull
	}
	return s.setStatus(ctx, section, status)
}

// Close stops new enrollments.
func (s *SectionService) Close(ctx context.Context, id string) (*models.Section, error) {
	section, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.setStatus(ctx, section, models.SectionStatusClosed)
}

// SetSlot adds or replaces the slot for day.
func (s *SectionService) SetSlot(ctx context.Context, id, day string, req SetSlotRequest) (*models.Section, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.Error(err, "invalid schedule payload")
	}
	section, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	slot, err := models.NewSlot(day, req.TimeRange)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	section.Schedule = section.Schedule.Set(slot)
	if err := s.repo.ReplaceSchedule(ctx, nil, section.ID, section.Schedule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update schedule")
	}
	return section, nil
}

// RemoveSlot drops the slot for day; the last slot stays.
func (s *SectionService) RemoveSlot(ctx context.Context, id, day string) (*models.Section, error) {
	section, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	weekday, err := models.ParseWeekday(day)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	schedule, err := section.Schedule.Remove(weekday)
	switch {
	case errors.Is(err, models.ErrSlotNotFound):
		return nil, appErrors.Clone(appErrors.ErrNotFound, err.Error())
	case err != nil:
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	section.Schedule = schedule
	if err := s.repo.ReplaceSchedule(ctx, nil, section.ID, section.Schedule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update schedule")
	}
	return section, nil
}

// ScheduleClash compares the section schedule with a candidate one.
func (s *SectionService) ScheduleClash(ctx context.Context, id string, req ScheduleClashRequest) (*ScheduleClashResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.Error(err, "invalid schedule payload")
	}
	section, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	other, err := models.ScheduleFromMap(req.Schedule)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	clashes := section.Schedule.Clashes(other)
	return &ScheduleClashResult{SectionID: section.ID, Clash: len(clashes) > 0, Clashes: clashes}, nil
}

// Vacancies summarises seat usage.
func (s *SectionService) Vacancies(ctx context.Context, id string) (*models.SectionVacancies, error) {
	section, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.SectionVacancies{
		SectionID: section.ID,
		Seats:     section.Seats,
		Occupied:  section.Occupied,
		Available: section.Available(),
		Status:    section.Status,
	}, nil
}

// PeriodStats aggregates the sections of a period.
func (s *SectionService) PeriodStats(ctx context.Context, period string) (*models.PeriodStats, error) {
	period = models.NormalizePeriod(period)
	if period == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "period is required")
	}
	stats, err := s.repo.PeriodStats(ctx, period)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute period stats")
	}
	return stats, nil
}

func (s *SectionService) setStatus(ctx context.Context, section *models.Section, status models.SectionStatus) (*models.Section, error) {
	if section.Status == status {
		return section, nil
	}
	if err := s.repo.UpdateStatus(ctx, nil, section.ID, status); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update section status")
	}
	s.logger.Info("section status changed", zap.String("section_id", section.ID), zap.String("from", string(section.Status)), zap.String("to", string(status)))
	section.Status = status
	return section, nil
}

func trimmedPtr(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
