package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/academic-records-api/internal/models"
)

// AssessmentRepository stores per-assessment grades and daily attendance of enrollments.
type AssessmentRepository struct {
	db *sqlx.DB
}

// NewAssessmentRepository creates a new assessment repository.
func NewAssessmentRepository(db *sqlx.DB) *AssessmentRepository {
	return &AssessmentRepository{db: db}
}

// AddGrade appends an assessment score.
func (r *AssessmentRepository) AddGrade(ctx context.Context, grade *models.AssessmentGrade) error {
	if grade.ID == "" {
		grade.ID = uuid.NewString()
	}
	grade.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO assessment_grades (id, enrollment_id, assessment, score, created_at)
        VALUES (:id, :enrollment_id, :assessment, :score, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, grade); err != nil {
		return fmt.Errorf("add assessment grade: %w", err)
	}
	return nil
}

// ListGrades returns the scores of an enrollment in insertion order.
func (r *AssessmentRepository) ListGrades(ctx context.Context, enrollmentID string) ([]models.AssessmentGrade, error) {
	const query = `SELECT id, enrollment_id, assessment, score, created_at FROM assessment_grades WHERE enrollment_id = $1 ORDER BY created_at ASC`
	var grades []models.AssessmentGrade
	if err := r.db.SelectContext(ctx, &grades, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list assessment grades: %w", err)
	}
	return grades, nil
}

// UpsertAttendance records presence for a class date, replacing any previous record.
func (r *AssessmentRepository) UpsertAttendance(ctx context.Context, record *models.AttendanceRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO attendance_records (id, enrollment_id, class_date, present, created_at)
        VALUES (:id, :enrollment_id, :class_date, :present, :created_at)
        ON CONFLICT (enrollment_id, class_date) DO UPDATE SET present = EXCLUDED.present`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("upsert attendance: %w", err)
	}
	return nil
}

// ListAttendance returns attendance of an enrollment ordered by date.
func (r *AssessmentRepository) ListAttendance(ctx context.Context, enrollmentID string) ([]models.AttendanceRecord, error) {
	const query = `SELECT id, enrollment_id, class_date, present, created_at FROM attendance_records WHERE enrollment_id = $1 ORDER BY class_date ASC`
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return records, nil
}
