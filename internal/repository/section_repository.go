package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/academic-records-api/internal/models"
)

const sectionSelect = `SELECT s.id, s.course_code, c.name AS course_name, s.period, s.seats, s.location, s.status, s.created_at, s.updated_at,
        (SELECT COUNT(*) FROM enrollments e WHERE e.section_id = s.id AND e.status = 'CURSANDO') AS occupied
        FROM sections s JOIN courses c ON c.code = s.course_code`

type sectionScheduleRow struct {
	SectionID string         `db:"section_id"`
	Day       models.Weekday `db:"day"`
	TimeRange string         `db:"time_range"`
}

// SectionRepository persists class sections and their weekly schedules.
type SectionRepository struct {
	db *sqlx.DB
}

// NewSectionRepository constructs a SectionRepository.
func NewSectionRepository(db *sqlx.DB) *SectionRepository {
	return &SectionRepository{db: db}
}

func (r *SectionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// List returns sections matching the provided filters.
func (r *SectionRepository) List(ctx context.Context, filter models.SectionFilter) ([]models.Section, int, error) {
	args := []interface{}{}
	conditions := []string{"1=1"}
	if filter.Period != "" {
		conditions = append(conditions, fmt.Sprintf("s.period = $%d", len(args)+1))
		args = append(args, filter.Period)
	}
	if filter.CourseCode != "" {
		conditions = append(conditions, fmt.Sprintf("s.course_code = $%d", len(args)+1))
		args = append(args, filter.CourseCode)
	}
	if filter.OpenOnly {
		conditions = append(conditions, fmt.Sprintf("s.status = $%d", len(args)+1))
		args = append(args, models.SectionStatusOpen)
	} else if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("s.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	where := "WHERE " + strings.Join(conditions, " AND ")

	allowedSorts := map[string]string{
		"id":          "s.id",
		"period":      "s.period",
		"course_code": "s.course_code",
		"created_at":  "s.created_at",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "s.period"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	offset := (page - 1) * size

	query := fmt.Sprintf("%s %s ORDER BY %s %s, s.id ASC LIMIT %d OFFSET %d", sectionSelect, where, column, order, size, offset)
	var sections []models.Section
	if err := r.db.SelectContext(ctx, &sections, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sections: %w", err)
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM sections s %s", where)
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sections: %w", err)
	}

	if err := r.attachSchedules(ctx, sections); err != nil {
		return nil, 0, err
	}
	return sections, total, nil
}

// FindByID fetches a section with schedule and occupancy.
func (r *SectionRepository) FindByID(ctx context.Context, id string) (*models.Section, error) {
	var section models.Section
	if err := r.db.GetContext(ctx, &section, sectionSelect+" WHERE s.id = $1", id); err != nil {
		return nil, err
	}
	sections := []models.Section{section}
	if err := r.attachSchedules(ctx, sections); err != nil {
		return nil, err
	}
	return &sections[0], nil
}

// FindByIDs fetches several sections with their schedules.
func (r *SectionRepository) FindByIDs(ctx context.Context, ids []string) ([]models.Section, error) {
	if len(ids) == 0 {
		return []models.Section{}, nil
	}
	var sections []models.Section
	if err := r.db.SelectContext(ctx, &sections, sectionSelect+" WHERE s.id = ANY($1)", pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find sections: %w", err)
	}
	if err := r.attachSchedules(ctx, sections); err != nil {
		return nil, err
	}
	return sections, nil
}

// Exists reports whether a section id is taken.
func (r *SectionRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists int
	if err := r.db.GetContext(ctx, &exists, "SELECT 1 FROM sections WHERE id = $1 LIMIT 1", id); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check section id: %w", err)
	}
	return true, nil
}

// Create inserts a section and its schedule atomically.
func (r *SectionRepository) Create(ctx context.Context, section *models.Section) (err error) {
	if section.ID == "" {
		section.ID = uuid.NewString()
	}
	if section.Status == "" {
		section.Status = models.SectionStatusOpen
	}
	now := time.Now().UTC()
	section.CreatedAt = now
	section.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create section: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `INSERT INTO sections (id, course_code, period, seats, location, status, created_at, updated_at)
        VALUES (:id, :course_code, :period, :seats, :location, :status, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, query, section); err != nil {
		return fmt.Errorf("create section: %w", err)
	}
	if err = r.ReplaceSchedule(ctx, tx, section.ID, section.Schedule); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create section: %w", err)
	}
	return nil
}

// Update modifies a section and replaces its schedule atomically.
func (r *SectionRepository) Update(ctx context.Context, section *models.Section) (err error) {
	section.UpdatedAt = time.Now().UTC()
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update section: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `UPDATE sections SET period = :period, seats = :seats, location = :location, status = :status, updated_at = :updated_at WHERE id = :id`
	if _, err = tx.NamedExecContext(ctx, query, section); err != nil {
		return fmt.Errorf("update section: %w", err)
	}
	if err = r.ReplaceSchedule(ctx, tx, section.ID, section.Schedule); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit update section: %w", err)
	}
	return nil
}

// ReplaceSchedule rewrites every slot of a section.
func (r *SectionRepository) ReplaceSchedule(ctx context.Context, exec sqlx.ExtContext, sectionID string, schedule models.Schedule) error {
	target := r.exec(exec)
	if _, err := target.ExecContext(ctx, `DELETE FROM section_schedules WHERE section_id = $1`, sectionID); err != nil {
		return fmt.Errorf("clear section schedule: %w", err)
	}
	for _, slot := range schedule {
		if _, err := target.ExecContext(ctx, `INSERT INTO section_schedules (section_id, day, time_range) VALUES ($1, $2, $3)`, sectionID, slot.Day, slot.TimeRange); err != nil {
			return fmt.Errorf("insert section schedule: %w", err)
		}
	}
	return nil
}

// UpdateStatus sets the section status.
func (r *SectionRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.SectionStatus) error {
	const query = `UPDATE sections SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.exec(exec).ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update section status: %w", err)
	}
	return nil
}

// SyncStatus moves an OPEN section to FULL when no seat is left and a FULL one back to OPEN.
func (r *SectionRepository) SyncStatus(ctx context.Context, exec sqlx.ExtContext, id string) error {
	return syncSectionStatus(ctx, r.exec(exec), id)
}

func syncSectionStatus(ctx context.Context, exec sqlx.ExtContext, id string) error {
	const query = `UPDATE sections s SET status = CASE
            WHEN s.status = 'OPEN' AND occ.n >= s.seats THEN 'FULL'
            WHEN s.status = 'FULL' AND occ.n < s.seats THEN 'OPEN'
            ELSE s.status END,
            updated_at = $2
        FROM (SELECT COUNT(*) AS n FROM enrollments WHERE section_id = $1 AND status = 'CURSANDO') occ
        WHERE s.id = $1`
	if _, err := exec.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("sync section status: %w", err)
	}
	return nil
}

// Delete removes a section; its schedule cascades.
func (r *SectionRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete section: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete section rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountEnrollments returns every enrollment attached to the section.
func (r *SectionRepository) CountEnrollments(ctx context.Context, id string) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM enrollments WHERE section_id = $1`, id); err != nil {
		return 0, fmt.Errorf("count section enrollments: %w", err)
	}
	return total, nil
}

// PeriodStats aggregates seat usage over the sections of a period.
func (r *SectionRepository) PeriodStats(ctx context.Context, period string) (*models.PeriodStats, error) {
	const query = `SELECT $1::text AS period,
            COUNT(*) AS total_sections,
            COUNT(*) FILTER (WHERE s.status = 'OPEN') AS open_sections,
            COUNT(*) FILTER (WHERE s.status = 'CLOSED') AS closed_sections,
            COUNT(*) FILTER (WHERE s.status = 'FULL') AS full_sections,
            COALESCE(SUM(s.seats), 0) AS total_seats,
            COALESCE(SUM((SELECT COUNT(*) FROM enrollments e WHERE e.section_id = s.id AND e.status = 'CURSANDO')), 0) AS occupied_seats,
            0 AS available_seats
        FROM sections s WHERE s.period = $1`
	var stats models.PeriodStats
	if err := r.db.GetContext(ctx, &stats, query, period); err != nil {
		return nil, fmt.Errorf("period stats: %w", err)
	}
	stats.Finalize()
	return &stats, nil
}

func (r *SectionRepository) attachSchedules(ctx context.Context, sections []models.Section) error {
	if len(sections) == 0 {
		return nil
	}
	ids := make([]string, 0, len(sections))
	for _, s := range sections {
		ids = append(ids, s.ID)
	}
	var rows []sectionScheduleRow
	const query = `SELECT section_id, day, time_range FROM section_schedules WHERE section_id = ANY($1)`
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("list section schedules: %w", err)
	}
	bySection := make(map[string]models.Schedule, len(sections))
	for _, row := range rows {
		bySection[row.SectionID] = bySection[row.SectionID].Set(models.ScheduleSlot{Day: row.Day, TimeRange: row.TimeRange})
	}
	for i := range sections {
		sections[i].Schedule = bySection[sections[i].ID]
		if sections[i].Schedule == nil {
			sections[i].Schedule = models.Schedule{}
		}
	}
	return nil
}
