package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/academic-records-api/internal/models"
)

const courseColumns = "c.code, c.name, c.credit_hours, c.syllabus, c.created_at, c.updated_at"

// CourseRepository manages the course catalogue and its prerequisite graph.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs a CourseRepository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// List returns courses matching the provided filters.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	base := "FROM courses c"
	args := []interface{}{}
	conditions := []string{"1=1"}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(c.name) LIKE $%d OR LOWER(c.code) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	allowedSorts := map[string]string{
		"code":         "c.code",
		"name":         "c.name",
		"credit_hours": "c.credit_hours",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "c.code"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", courseColumns, base, column, order, size, offset)
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf("SELECT COUNT(*) %s", base), args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// SearchByName performs a case-insensitive partial match on the course name.
func (r *CourseRepository) SearchByName(ctx context.Context, name string) ([]models.Course, error) {
	query := fmt.Sprintf("SELECT %s FROM courses c WHERE LOWER(c.name) LIKE $1 ORDER BY c.name ASC", courseColumns)
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, "%"+strings.ToLower(name)+"%"); err != nil {
		return nil, fmt.Errorf("search courses: %w", err)
	}
	return courses, nil
}

// FindByCode fetches a course without its prerequisites.
func (r *CourseRepository) FindByCode(ctx context.Context, code string) (*models.Course, error) {
	query := fmt.Sprintf("SELECT %s FROM courses c WHERE c.code = $1", courseColumns)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, code); err != nil {
		return nil, err
	}
	return &course, nil
}

// Exists reports whether a course code is taken.
func (r *CourseRepository) Exists(ctx context.Context, code string) (bool, error) {
	var exists int
	if err := r.db.GetContext(ctx, &exists, "SELECT 1 FROM courses WHERE code = $1 LIMIT 1", code); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check course code: %w", err)
	}
	return true, nil
}

// Create inserts a new course together with its prerequisite edges.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) (err error) {
	now := time.Now().UTC()
	course.CreatedAt = now
	course.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create course: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const query = `INSERT INTO courses (code, name, credit_hours, syllabus, created_at, updated_at)
        VALUES (:code, :name, :credit_hours, :syllabus, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	for _, prerequisite := range course.Prerequisites {
		if err = addPrerequisite(ctx, tx, course.Code, prerequisite); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create course: %w", err)
	}
	return nil
}

// Update modifies name, credit hours and syllabus.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET name = :name, credit_hours = :credit_hours, syllabus = :syllabus, updated_at = :updated_at WHERE code = :code`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	return nil
}

// Delete removes a course and its outgoing prerequisite edges.
func (r *CourseRepository) Delete(ctx context.Context, code string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM courses WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete course rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Prerequisites returns the codes a course requires.
func (r *CourseRepository) Prerequisites(ctx context.Context, code string) ([]string, error) {
	var codes []string
	const query = `SELECT prerequisite_code FROM course_prerequisites WHERE course_code = $1 ORDER BY prerequisite_code`
	if err := r.db.SelectContext(ctx, &codes, query, code); err != nil {
		return nil, fmt.Errorf("list prerequisites: %w", err)
	}
	return codes, nil
}

// PrerequisitesFor returns the prerequisite edges of several courses at once.
func (r *CourseRepository) PrerequisitesFor(ctx context.Context, codes []string) (map[string][]string, error) {
	result := make(map[string][]string, len(codes))
	if len(codes) == 0 {
		return result, nil
	}
	var edges []models.PrerequisiteEdge
	const query = `SELECT course_code, prerequisite_code FROM course_prerequisites WHERE course_code = ANY($1) ORDER BY course_code, prerequisite_code`
	if err := r.db.SelectContext(ctx, &edges, query, pq.Array(codes)); err != nil {
		return nil, fmt.Errorf("list prerequisites for courses: %w", err)
	}
	for _, e := range edges {
		result[e.CourseCode] = append(result[e.CourseCode], e.PrerequisiteCode)
	}
	return result, nil
}

// Edges returns the whole prerequisite graph.
func (r *CourseRepository) Edges(ctx context.Context) ([]models.PrerequisiteEdge, error) {
	var edges []models.PrerequisiteEdge
	if err := r.db.SelectContext(ctx, &edges, `SELECT course_code, prerequisite_code FROM course_prerequisites`); err != nil {
		return nil, fmt.Errorf("list prerequisite graph: %w", err)
	}
	return edges, nil
}

// HasPrerequisite reports whether the edge exists.
func (r *CourseRepository) HasPrerequisite(ctx context.Context, course, prerequisite string) (bool, error) {
	var exists int
	const query = `SELECT 1 FROM course_prerequisites WHERE course_code = $1 AND prerequisite_code = $2 LIMIT 1`
	if err := r.db.GetContext(ctx, &exists, query, course, prerequisite); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check prerequisite: %w", err)
	}
	return true, nil
}

// AddPrerequisite inserts an edge.
func (r *CourseRepository) AddPrerequisite(ctx context.Context, course, prerequisite string) error {
	return addPrerequisite(ctx, r.db, course, prerequisite)
}

func addPrerequisite(ctx context.Context, exec sqlx.ExecerContext, course, prerequisite string) error {
	const query = `INSERT INTO course_prerequisites (course_code, prerequisite_code) VALUES ($1, $2)`
	if _, err := exec.ExecContext(ctx, query, course, prerequisite); err != nil {
		return fmt.Errorf("add prerequisite: %w", err)
	}
	return nil
}

// RemovePrerequisite deletes an edge.
func (r *CourseRepository) RemovePrerequisite(ctx context.Context, course, prerequisite string) error {
	const query = `DELETE FROM course_prerequisites WHERE course_code = $1 AND prerequisite_code = $2`
	res, err := r.db.ExecContext(ctx, query, course, prerequisite)
	if err != nil {
		return fmt.Errorf("remove prerequisite: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove prerequisite rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Dependents returns courses that require code.
func (r *CourseRepository) Dependents(ctx context.Context, code string) ([]models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses c
        JOIN course_prerequisites p ON p.course_code = c.code
        WHERE p.prerequisite_code = $1 ORDER BY c.code`, courseColumns)
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, code); err != nil {
		return nil, fmt.Errorf("list dependents: %w", err)
	}
	return courses, nil
}

// CountSections returns how many sections are opened for a course.
func (r *CourseRepository) CountSections(ctx context.Context, code string) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM sections WHERE course_code = $1`, code); err != nil {
		return 0, fmt.Errorf("count course sections: %w", err)
	}
	return total, nil
}
