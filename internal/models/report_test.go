package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEnrollments() []Enrollment {
	return []Enrollment{
		{ID: "1", Status: EnrollmentStatusApproved},
		{ID: "2", Status: EnrollmentStatusApproved},
		{ID: "3", Status: EnrollmentStatusFailedByGrade},
		{ID: "4", Status: EnrollmentStatusWithdrawn},
		{ID: "5", Status: EnrollmentStatusInProgress, Active: true},
	}
}

func TestApprovalRate(t *testing.T) {
	assert.Equal(t, 66.67, ApprovalRate(sampleEnrollments()))
	assert.Equal(t, 0.0, ApprovalRate(nil))
}

func TestDistributionHasEveryKey(t *testing.T) {
	dist := Distribution(sampleEnrollments())
	assert.Len(t, dist, 4)
	assert.Equal(t, 2, dist[EnrollmentStatusApproved])
	assert.Equal(t, 1, dist[EnrollmentStatusFailedByGrade])
	assert.Equal(t, 0, dist[EnrollmentStatusFailedByAttendance])
	assert.Equal(t, 1, dist[EnrollmentStatusWithdrawn])

	empty := Distribution(nil)
	assert.Len(t, empty, 4)
}

func TestBuildSectionReport(t *testing.T) {
	rule := ApprovalRule{MinimumGrade: 6, MinimumAttendance: 75}
	section := Section{Offering: Offering{ID: "S1", Period: "2025.1"}, CourseCode: "MAT101"}
	details := []EnrollmentDetail{
		{Enrollment: Enrollment{ID: "1", Active: true, Status: EnrollmentStatusInProgress, Grade: ptr(4), Attendance: ptr(90)}},
		{Enrollment: Enrollment{ID: "2", Active: true, Status: EnrollmentStatusInProgress, Attendance: ptr(60)}},
		{Enrollment: Enrollment{ID: "3", Status: EnrollmentStatusApproved, Grade: ptr(8), Attendance: ptr(100)}},
	}
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	report := BuildSectionReport(section, details, rule, now)
	assert.Equal(t, 3, report.TotalEnrollments)
	assert.Equal(t, 2, report.Active)
	assert.Equal(t, 1, report.Concluded)
	assert.Equal(t, 100.0, report.ApprovalRate)
	require.NotNil(t, report.AverageGrade)
	assert.Equal(t, 6.0, *report.AverageGrade)
	require.NotNil(t, report.AverageAttendance)
	assert.Equal(t, 83.33, *report.AverageAttendance)
	require.Len(t, report.AtRisk, 2)
	assert.True(t, report.AtRisk[0].LowGrade)
	assert.False(t, report.AtRisk[0].LowAttendance)
	assert.True(t, report.AtRisk[1].LowAttendance)

	empty := BuildSectionReport(section, nil, rule, now)
	assert.Nil(t, empty.AverageGrade)
	assert.Empty(t, empty.AtRisk)
}

func TestBuildEnrollmentSummary(t *testing.T) {
	summary := BuildEnrollmentSummary("2025.1", sampleEnrollments(), nil)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 1, summary.Active)
	assert.Equal(t, 4, summary.Concluded)
	assert.Equal(t, 80.0, summary.CompletionRate)
	assert.NotNil(t, summary.TopCourses)
}

func TestFinalGradeAndAttendance(t *testing.T) {
	grade, err := FinalGrade([]AssessmentGrade{{Score: 7}, {Score: 8}, {Score: 8}})
	require.NoError(t, err)
	assert.Equal(t, 7.67, grade)
	_, err = FinalGrade(nil)
	assert.ErrorIs(t, err, ErrNoAssessments)

	att, err := AttendancePercentage([]AttendanceRecord{{Present: true}, {Present: true}, {Present: false}})
	require.NoError(t, err)
	assert.Equal(t, 66.67, att)
	_, err = AttendancePercentage(nil)
	assert.ErrorIs(t, err, ErrNoAttendance)
}
