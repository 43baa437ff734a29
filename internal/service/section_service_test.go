package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academic-records-api/internal/models"
	appErrors "github.com/noah-isme/academic-records-api/pkg/errors"
)

type mockSectionRepo struct {
	sections    map[string]models.Section
	enrollments map[string]int
	stats       *models.PeriodStats
	seq         int
	err         error
}

func newMockSectionRepo(sections ...models.Section) *mockSectionRepo {
	repo := &mockSectionRepo{sections: make(map[string]models.Section), enrollments: make(map[string]int)}
	for _, s := range sections {
		repo.sections[s.ID] = s
	}
	return repo
}

func (m *mockSectionRepo) List(ctx context.Context, filter models.SectionFilter) ([]models.Section, int, error) {
	if m.err != nil {
		return nil, 0, m.err
	}
	result := make([]models.Section, 0)
	for _, s := range m.sections {
		if filter.Period != "" && s.Period != filter.Period {
			continue
		}
		result = append(result, s)
	}
	return result, len(result), nil
}

func (m *mockSectionRepo) FindByID(ctx context.Context, id string) (*models.Section, error) {
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.sections[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	s.Schedule = append(models.Schedule(nil), s.Schedule...)
	return &s, nil
}

func (m *mockSectionRepo) FindByIDs(ctx context.Context, ids []string) ([]models.Section, error) {
	result := make([]models.Section, 0, len(ids))
	for _, id := range ids {
		if s, ok := m.sections[id]; ok {
			result = append(result, s)
		}
	}
	return result, nil
}

func (m *mockSectionRepo) Exists(ctx context.Context, id string) (bool, error) {
	_, ok := m.sections[id]
	return ok, nil
}

func (m *mockSectionRepo) Create(ctx context.Context, section *models.Section) error {
	if section.ID == "" {
		m.seq++
		section.ID = fmt.Sprintf("sec-%d", m.seq)
	}
	m.sections[section.ID] = *section
	return nil
}

func (m *mockSectionRepo) Update(ctx context.Context, section *models.Section) error {
	m.sections[section.ID] = *section
	return nil
}

func (m *mockSectionRepo) ReplaceSchedule(ctx context.Context, exec sqlx.ExtContext, sectionID string, schedule models.Schedule) error {
	s := m.sections[sectionID]
	s.Schedule = schedule
	m.sections[sectionID] = s
	return nil
}

func (m *mockSectionRepo) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.SectionStatus) error {
	s := m.sections[id]
	s.Status = status
	m.sections[id] = s
	return nil
}

func (m *mockSectionRepo) SyncStatus(ctx context.Context, exec sqlx.ExtContext, id string) error {
	s := m.sections[id]
	s.Status = s.NextStatus()
	m.sections[id] = s
	return nil
}

func (m *mockSectionRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.sections[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.sections, id)
	return nil
}

func (m *mockSectionRepo) CountEnrollments(ctx context.Context, id string) (int, error) {
	return m.enrollments[id], nil
}

func (m *mockSectionRepo) PeriodStats(ctx context.Context, period string) (*models.PeriodStats, error) {
	if m.stats != nil {
		return m.stats, nil
	}
	stats := &models.PeriodStats{Period: period}
	for _, s := range m.sections {
		if s.Period != period {
			continue
		}
		stats.TotalSections++
		stats.TotalSeats += s.Seats
		stats.OccupiedSeats += s.Occupied
	}
	stats.Finalize()
	return stats, nil
}

func testSection(id, course string, seats, occupied int, schedule map[string]string) models.Section {
	sch, err := models.ScheduleFromMap(schedule)
	if err != nil {
		panic(err)
	}
	s := models.Section{
		Offering:   models.Offering{ID: id, Period: "2024.1", Seats: seats, Schedule: sch},
		CourseCode: course,
		Status:     models.SectionStatusOpen,
		Occupied:   occupied,
	}
	s.Status = s.NextStatus()
	return s
}

func TestSectionServiceCreate(t *testing.T) {
	repo := newMockSectionRepo()
	courses := newMockCourseRepo(models.Course{Code: "MAT101", Name: "Calculo", CreditHours: 60})
	svc := NewSectionService(repo, courses, nil, nil, nil)

	location := "  Sala 12 "
	section, err := svc.Create(context.Background(), CreateSectionRequest{
		ID:         "T01",
		CourseCode: "mat101",
		Period:     " 2024.1 ",
		Seats:      30,
		Location:   &location,
		Schedule:   map[string]string{"SEG": "08:00-10:00", "qua": "08:00-10:00"},
	})
	require.NoError(t, err)
	assert.Equal(t, "T01", section.ID)
	assert.Equal(t, "MAT101", section.CourseCode)
	assert.Equal(t, "2024.1", section.Period)
	assert.Equal(t, models.SectionStatusOpen, section.Status)
	require.NotNil(t, section.Location)
	assert.Equal(t, "Sala 12", *section.Location)
	require.Len(t, section.Schedule, 2)
	assert.Equal(t, models.WeekdayMonday, section.Schedule[0].Day)

	_, err = svc.Create(context.Background(), CreateSectionRequest{
		ID: "T01", CourseCode: "MAT101", Period: "2024.1", Seats: 10,
		Schedule: map[string]string{"ter": "10:00-12:00"},
	})
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
}

func TestSectionServiceCreateValidation(t *testing.T) {
	courses := newMockCourseRepo(models.Course{Code: "MAT101", Name: "Calculo", CreditHours: 60})
	svc := NewSectionService(newMockSectionRepo(), courses, nil, nil, nil)

	_, err := svc.Create(context.Background(), CreateSectionRequest{CourseCode: "MAT101", Period: "2024.1", Seats: 0, Schedule: map[string]string{"seg": "08:00-10:00"}})
	require.Error(t, err)
	assert.Contains(t, appErrors.FromError(err).Details, "seats")

	_, err = svc.Create(context.Background(), CreateSectionRequest{CourseCode: "MAT101", Period: "2024.1", Seats: 10, Schedule: map[string]string{"xyz": "08:00-10:00"}})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.Create(context.Background(), CreateSectionRequest{CourseCode: "MAT101", Period: "2024.1", Seats: 10, Schedule: map[string]string{"seg": "23:00-23:30"}})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.Create(context.Background(), CreateSectionRequest{CourseCode: "FIS101", Period: "2024.1", Seats: 10, Schedule: map[string]string{"seg": "08:00-10:00"}})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestSectionServiceUpdateSeatsBelowOccupied(t *testing.T) {
	repo := newMockSectionRepo(testSection("T01", "MAT101", 10, 8, map[string]string{"seg": "08:00-10:00"}))
	svc := NewSectionService(repo, newMockCourseRepo(), nil, nil, nil)

	seats := 5
	_, err := svc.Update(context.Background(), "T01", UpdateSectionRequest{Seats: &seats})
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))

	seats = 8
	updated, err := svc.Update(context.Background(), "T01", UpdateSectionRequest{Seats: &seats})
	require.NoError(t, err)
	assert.Equal(t, models.SectionStatusFull, updated.Status)

	seats = 12
	updated, err = svc.Update(context.Background(), "T01", UpdateSectionRequest{Seats: &seats})
	require.NoError(t, err)
	assert.Equal(t, models.SectionStatusOpen, updated.Status)
	assert.Equal(t, 4, updated.Available())
}

func TestSectionServiceOpenClose(t *testing.T) {
	repo := newMockSectionRepo(testSection("T01", "MAT101", 2, 2, map[string]string{"seg": "08:00-10:00"}))
	svc := NewSectionService(repo, newMockCourseRepo(), nil, nil, nil)

	closed, err := svc.Close(context.Background(), "T01")
	require.NoError(t, err)
	assert.Equal(t, models.SectionStatusClosed, closed.Status)

	opened, err := svc.Open(context.Background(), "T01")
	require.NoError(t, err)
	assert.Equal(t, models.SectionStatusFull, opened.Status)

	_, err = svc.Close(context.Background(), "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestSectionServiceSlots(t *testing.T) {
	repo := newMockSectionRepo(testSection("T01", "MAT101", 10, 0, map[string]string{"seg": "08:00-10:00"}))
	svc := NewSectionService(repo, newMockCourseRepo(), nil, nil, nil)
	ctx := context.Background()

	section, err := svc.SetSlot(ctx, "T01", "QUA", SetSlotRequest{TimeRange: "14:00-16:00"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"seg": "08:00-10:00", "qua": "14:00-16:00"}, section.Schedule.Map())

	section, err = svc.SetSlot(ctx, "T01", "seg", SetSlotRequest{TimeRange: "10:00-12:00"})
	require.NoError(t, err)
	assert.Equal(t, "10:00-12:00", section.Schedule.Map()["seg"])

	section, err = svc.RemoveSlot(ctx, "T01", "qua")
	require.NoError(t, err)
	assert.Len(t, section.Schedule, 1)

	_, err = svc.RemoveSlot(ctx, "T01", "sex")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = svc.RemoveSlot(ctx, "T01", "seg")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.SetSlot(ctx, "T01", "ter", SetSlotRequest{TimeRange: "10-12"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestSectionServiceScheduleClash(t *testing.T) {
	repo := newMockSectionRepo(testSection("T01", "MAT101", 10, 0, map[string]string{"seg": "08:00-10:00", "qua": "08:00-10:00"}))
	svc := NewSectionService(repo, newMockCourseRepo(), nil, nil, nil)

	result, err := svc.ScheduleClash(context.Background(), "T01", ScheduleClashRequest{Schedule: map[string]string{"seg": "09:00-11:00", "qua": "10:00-12:00"}})
	require.NoError(t, err)
	assert.True(t, result.Clash)
	require.Len(t, result.Clashes, 1)
	assert.Equal(t, models.WeekdayMonday, result.Clashes[0].Day)

	result, err = svc.ScheduleClash(context.Background(), "T01", ScheduleClashRequest{Schedule: map[string]string{"ter": "08:00-10:00"}})
	require.NoError(t, err)
	assert.False(t, result.Clash)
	assert.Empty(t, result.Clashes)
}

func TestSectionServiceVacanciesAndStats(t *testing.T) {
	repo := newMockSectionRepo(
		testSection("T01", "MAT101", 10, 4, map[string]string{"seg": "08:00-10:00"}),
		testSection("T02", "FIS101", 10, 10, map[string]string{"ter": "08:00-10:00"}),
	)
	svc := NewSectionService(repo, newMockCourseRepo(), nil, nil, nil)

	vac, err := svc.Vacancies(context.Background(), "T02")
	require.NoError(t, err)
	assert.Equal(t, 0, vac.Available)
	assert.Equal(t, models.SectionStatusFull, vac.Status)

	stats, err := svc.PeriodStats(context.Background(), "2024.1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalSections)
	assert.Equal(t, 6, stats.AvailableSeats)
	assert.Equal(t, 70.0, stats.OccupancyRate)

	_, err = svc.PeriodStats(context.Background(), " ")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestSectionServiceDeleteWithEnrollments(t *testing.T) {
	repo := newMockSectionRepo(testSection("T01", "MAT101", 10, 1, map[string]string{"seg": "08:00-10:00"}))
	repo.enrollments["T01"] = 1
	svc := NewSectionService(repo, newMockCourseRepo(), nil, nil, nil)

	err := svc.Delete(context.Background(), "T01")
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))

	repo.enrollments["T01"] = 0
	require.NoError(t, svc.Delete(context.Background(), "T01"))
	assert.Empty(t, repo.sections)
}

func TestSectionServiceListRejectsUnknownStatus(t *testing.T) {
	svc := NewSectionService(newMockSectionRepo(), newMockCourseRepo(), nil, nil, nil)
	_, _, err := svc.List(context.Background(), models.SectionFilter{Status: "PAUSED"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestSectionServiceUpdateDeleteInvalidateReports(t *testing.T) {
	ctx := context.Background()
	repo := newMockSectionRepo(
		testSection("T01", "MAT101", 10, 2, map[string]string{"seg": "08:00-10:00"}),
		testSection("T02", "MAT102", 10, 0, map[string]string{"ter": "08:00-10:00"}),
	)
	repo.enrollments["T01"] = 2
	cache := &cacheInvalidatorStub{}
	svc := NewSectionService(repo, newMockCourseRepo(), cache, nil, nil)

	period := "2024.2"
	updated, err := svc.Update(ctx, "T01", UpdateSectionRequest{Period: &period})
	require.NoError(t, err)
	assert.Equal(t, "2024.2", updated.Period)
	assert.Equal(t, []string{reportCachePattern}, cache.patterns)

	err = svc.Delete(ctx, "T01")
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))
	assert.Len(t, cache.patterns, 1)

	require.NoError(t, svc.Delete(ctx, "T02"))
	assert.Equal(t, []string{reportCachePattern, reportCachePattern}, cache.patterns)
}
