package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/academic-records-api/internal/models"
)

var (
	// ErrNoSeats is returned when a section has no free seat at insert time.
	ErrNoSeats = errors.New("section has no seats available")
	// ErrDuplicateEnrollment is returned when the student already holds an enrollment in the section.
	ErrDuplicateEnrollment = errors.New("student already enrolled in this section")
)

const uniqueViolation = "23505"

const enrollmentDetailSelect = `SELECT e.id, e.student_registration, e.section_id, e.grade, e.attendance, e.status, e.active, e.withdrawn_at, e.created_at, e.updated_at,
        st.name AS student_name, sec.course_code, c.name AS course_name, sec.period, c.credit_hours
        FROM enrollments e
        JOIN students st ON st.registration = e.student_registration
        JOIN sections sec ON sec.id = e.section_id
        JOIN courses c ON c.code = sec.course_code`

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var conditions []string
	var args []interface{}

	if filter.StudentRegistration != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_registration = $%d", len(args)+1))
		args = append(args, filter.StudentRegistration)
	}
	if filter.SectionID != "" {
		conditions = append(conditions, fmt.Sprintf("e.section_id = $%d", len(args)+1))
		args = append(args, filter.SectionID)
	}
	if filter.Period != "" {
		conditions = append(conditions, fmt.Sprintf("sec.period = $%d", len(args)+1))
		args = append(args, filter.Period)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("e.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":   "e.created_at",
		"student_name": "st.name",
		"course_code":  "sec.course_code",
		"period":       "sec.period",
	}
	orderBy, ok := allowedSorts[filter.SortBy]
	if !ok {
		orderBy = "e.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	offset := (page - 1) * size

	query := fmt.Sprintf("%s%s ORDER BY %s %s LIMIT %d OFFSET %d", enrollmentDetailSelect, clause, orderBy, order, size, offset)
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := `SELECT COUNT(*) FROM enrollments e
        JOIN students st ON st.registration = e.student_registration
        JOIN sections sec ON sec.id = e.section_id` + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment with course and period info.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, enrollmentDetailSelect+" WHERE e.id = $1", id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ExistsForSection reports whether a student already has an enrollment in the section.
func (r *EnrollmentRepository) ExistsForSection(ctx context.Context, registration, sectionID string) (bool, error) {
	var exists int
	const query = `SELECT 1 FROM enrollments WHERE student_registration = $1 AND section_id = $2 LIMIT 1`
	if err := r.db.GetContext(ctx, &exists, query, registration, sectionID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return true, nil
}

// ListByStudent returns every enrollment of a student ordered by period.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, registration string) ([]models.EnrollmentDetail, error) {
	var details []models.EnrollmentDetail
	query := enrollmentDetailSelect + " WHERE e.student_registration = $1 ORDER BY sec.period ASC, sec.course_code ASC"
	if err := r.db.SelectContext(ctx, &details, query, registration); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return details, nil
}

// ListBySection returns every enrollment of a section ordered by student name.
func (r *EnrollmentRepository) ListBySection(ctx context.Context, sectionID string) ([]models.EnrollmentDetail, error) {
	var details []models.EnrollmentDetail
	query := enrollmentDetailSelect + " WHERE e.section_id = $1 ORDER BY st.name ASC"
	if err := r.db.SelectContext(ctx, &details, query, sectionID); err != nil {
		return nil, fmt.Errorf("list section enrollments: %w", err)
	}
	return details, nil
}

// ListActiveInPeriod returns the student's ongoing enrollments in a period.
func (r *EnrollmentRepository) ListActiveInPeriod(ctx context.Context, registration, period string) ([]models.EnrollmentDetail, error) {
	var details []models.EnrollmentDetail
	query := enrollmentDetailSelect + " WHERE e.student_registration = $1 AND sec.period = $2 AND e.active = TRUE"
	if err := r.db.SelectContext(ctx, &details, query, registration, period); err != nil {
		return nil, fmt.Errorf("list active enrollments: %w", err)
	}
	return details, nil
}

// ListByPeriod returns enrollments of every section in period, or all when period is empty.
func (r *EnrollmentRepository) ListByPeriod(ctx context.Context, period string) ([]models.Enrollment, error) {
	query := `SELECT e.id, e.student_registration, e.section_id, e.grade, e.attendance, e.status, e.active, e.withdrawn_at, e.created_at, e.updated_at
        FROM enrollments e JOIN sections sec ON sec.id = e.section_id`
	args := []interface{}{}
	if period != "" {
		query += " WHERE sec.period = $1"
		args = append(args, period)
	}
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, fmt.Errorf("list enrollments by period: %w", err)
	}
	return enrollments, nil
}

// TopCourses ranks courses by number of enrollments.
func (r *EnrollmentRepository) TopCourses(ctx context.Context, period string, limit int) ([]models.CourseEnrollmentCount, error) {
	query := `SELECT c.code AS course_code, c.name AS course_name, COUNT(e.id) AS enrollments
        FROM enrollments e
        JOIN sections sec ON sec.id = e.section_id
        JOIN courses c ON c.code = sec.course_code`
	args := []interface{}{}
	if period != "" {
		query += " WHERE sec.period = $1"
		args = append(args, period)
	}
	query += fmt.Sprintf(" GROUP BY c.code, c.name ORDER BY enrollments DESC, c.code ASC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	var top []models.CourseEnrollmentCount
	if err := r.db.SelectContext(ctx, &top, query, args...); err != nil {
		return nil, fmt.Errorf("top courses: %w", err)
	}
	return top, nil
}

// CountWithdrawals returns how many times a student withdrew in a period.
func (r *EnrollmentRepository) CountWithdrawals(ctx context.Context, registration, period string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments e JOIN sections sec ON sec.id = e.section_id
        WHERE e.student_registration = $1 AND sec.period = $2 AND e.status = $3`
	var total int
	if err := r.db.GetContext(ctx, &total, query, registration, period, models.EnrollmentStatusWithdrawn); err != nil {
		return 0, fmt.Errorf("count withdrawals: %w", err)
	}
	return total, nil
}

// Create inserts an enrollment after locking the section and re-checking its seats.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) (err error) {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	enrollment.CreatedAt = now
	enrollment.UpdatedAt = now
	enrollment.Status = models.EnrollmentStatusInProgress
	enrollment.Active = true

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create enrollment: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var seats int
	if err = tx.GetContext(ctx, &seats, `SELECT seats FROM sections WHERE id = $1 FOR UPDATE`, enrollment.SectionID); err != nil {
		return fmt.Errorf("lock section: %w", err)
	}
	var occupied int
	if err = tx.GetContext(ctx, &occupied, `SELECT COUNT(*) FROM enrollments WHERE section_id = $1 AND status = 'CURSANDO'`, enrollment.SectionID); err != nil {
		return fmt.Errorf("count occupied seats: %w", err)
	}
	if occupied >= seats {
		err = ErrNoSeats
		return err
	}

	const query = `INSERT INTO enrollments (id, student_registration, section_id, grade, attendance, status, active, withdrawn_at, created_at, updated_at)
        VALUES (:id, :student_registration, :section_id, :grade, :attendance, :status, :active, :withdrawn_at, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, query, enrollment); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			err = ErrDuplicateEnrollment
			return err
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	if err = syncSectionStatus(ctx, tx, enrollment.SectionID); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create enrollment: %w", err)
	}
	return nil
}

// Save persists grade, attendance and lifecycle fields and resyncs the section status.
func (r *EnrollmentRepository) Save(ctx context.Context, enrollment *models.Enrollment) (err error) {
	enrollment.UpdatedAt = time.Now().UTC()
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update enrollment: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `UPDATE enrollments SET grade = :grade, attendance = :attendance, status = :status, active = :active,
        withdrawn_at = :withdrawn_at, updated_at = :updated_at WHERE id = :id`
	if _, err = tx.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	if err = syncSectionStatus(ctx, tx, enrollment.SectionID); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit update enrollment: %w", err)
	}
	return nil
}

// Delete removes an enrollment and frees its seat.
func (r *EnrollmentRepository) Delete(ctx context.Context, id, sectionID string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete enrollment: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `DELETE FROM enrollments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete enrollment rows: %w", err)
	}
	if affected == 0 {
		err = sql.ErrNoRows
		return err
	}
	if err = syncSectionStatus(ctx, tx, sectionID); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete enrollment: %w", err)
	}
	return nil
}
