package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academic-records-api/internal/models"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var enrollmentDetailColumns = []string{"id", "student_registration", "section_id", "grade", "attendance", "status", "active", "withdrawn_at", "created_at", "updated_at",
	"student_name", "course_code", "course_name", "period", "credit_hours"}

func TestEnrollmentRepositoryListByStudent(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows := sqlmock.NewRows(enrollmentDetailColumns).
		AddRow("enr-1", "2024001", "S1", []byte("8.50"), []byte("90.00"), "APROVADO", false, nil, time.Now(), time.Now(), "Ana", "MAT101", "Calculus I", "2024.2", 60).
		AddRow("enr-2", "2024001", "S2", nil, nil, "CURSANDO", true, nil, time.Now(), time.Now(), "Ana", "FIS101", "Physics I", "2025.1", 60)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE e.student_registration = $1 ORDER BY sec.period ASC, sec.course_code ASC")).
		WithArgs("2024001").
		WillReturnRows(rows)

	details, err := repo.ListByStudent(context.Background(), "2024001")
	require.NoError(t, err)
	require.Len(t, details, 2)
	require.NotNil(t, details[0].Grade)
	assert.Equal(t, 8.5, *details[0].Grade)
	assert.Nil(t, details[1].Grade)
	assert.Equal(t, models.EnrollmentStatusInProgress, details[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateChecksSeats(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT seats FROM sections WHERE id = $1 FOR UPDATE")).
		WithArgs("S1").
		WillReturnRows(sqlmock.NewRows([]string{"seats"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE section_id = $1")).
		WithArgs("S1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.Enrollment{StudentRegistration: "2024001", SectionID: "S1"})
	assert.ErrorIs(t, err, ErrNoSeats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT seats FROM sections WHERE id = $1 FOR UPDATE")).
		WithArgs("S1").
		WillReturnRows(sqlmock.NewRows([]string{"seats"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE section_id = $1")).
		WithArgs("S1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec("INSERT INTO enrollments").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE sections s SET status").
		WithArgs("S1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	enrollment := &models.Enrollment{StudentRegistration: "2024001", SectionID: "S1"}
	require.NoError(t, repo.Create(context.Background(), enrollment))
	assert.NotEmpty(t, enrollment.ID)
	assert.True(t, enrollment.Active)
	assert.Equal(t, models.EnrollmentStatusInProgress, enrollment.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT seats FROM sections WHERE id = $1 FOR UPDATE")).
		WithArgs("S1").
		WillReturnRows(sqlmock.NewRows([]string{"seats"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE section_id = $1")).
		WithArgs("S1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec("INSERT INTO enrollments").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "enrollments_student_registration_section_id_key"})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.Enrollment{StudentRegistration: "2024001", SectionID: "S1"})
	assert.ErrorIs(t, err, ErrDuplicateEnrollment)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryDeleteMissing(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM enrollments WHERE id = $1")).
		WithArgs("enr-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), "enr-1", "S1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryCountWithdrawals(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM enrollments e JOIN sections sec").
		WithArgs("2024001", "2025.1", models.EnrollmentStatusWithdrawn).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	total, err := repo.CountWithdrawals(context.Background(), "2024001", "2025.1")
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.NoError(t, mock.ExpectationsWereMet())
}
