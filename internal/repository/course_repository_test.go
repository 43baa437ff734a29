package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academic-records-api/internal/models"
)

func TestCourseRepositoryFindByCode(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT c.code, c.name, c.credit_hours, c.syllabus, c.created_at, c.updated_at FROM courses c WHERE c.code = $1")).
		WithArgs("MAT101").
		WillReturnRows(sqlmock.NewRows([]string{"code", "name", "credit_hours", "syllabus", "created_at", "updated_at"}).
			AddRow("MAT101", "Calculus I", 60, "", time.Now(), time.Now()))

	course, err := repo.FindByCode(context.Background(), "MAT101")
	require.NoError(t, err)
	assert.Equal(t, 60, course.CreditHours)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryPrerequisitesFor(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE course_code = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"course_code", "prerequisite_code"}).
			AddRow("MAT201", "MAT101").
			AddRow("MAT201", "FIS101"))

	edges, err := repo.PrerequisitesFor(context.Background(), []string{"MAT201", "HIS100"})
	require.NoError(t, err)
	assert.Equal(t, []string{"MAT101", "FIS101"}, edges["MAT201"])
	assert.Empty(t, edges["HIS100"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryRemovePrerequisiteMissing(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectExec("DELETE FROM course_prerequisites").
		WithArgs("MAT201", "MAT101").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RemovePrerequisite(context.Background(), "MAT201", "MAT101")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO courses").
		WithArgs("MAT201", "Calculus II", 60, "series", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO course_prerequisites").
		WithArgs("MAT201", "MAT101").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Create(context.Background(), &models.Course{Code: "MAT201", Name: "Calculus II", CreditHours: 60, Syllabus: "series", Prerequisites: []string{"MAT101"}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryCreateRollsBackOnEdgeFailure(t *testing.T) {
	db, mock, cleanup := newStudentMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO courses").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO course_prerequisites").
		WithArgs("MAT301", "MAT101").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO course_prerequisites").
		WithArgs("MAT301", "FIS101").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.Course{Code: "MAT301", Name: "Calculus III", CreditHours: 60, Prerequisites: []string{"MAT101", "FIS101"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "add prerequisite")
	assert.NoError(t, mock.ExpectationsWereMet())
}
