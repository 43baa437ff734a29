package models

import (
	"errors"
	"time"
)

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusInProgress         EnrollmentStatus = "CURSANDO"
	EnrollmentStatusApproved           EnrollmentStatus = "APROVADO"
	EnrollmentStatusFailedByGrade      EnrollmentStatus = "REPROVADO_POR_NOTA"
	EnrollmentStatusFailedByAttendance EnrollmentStatus = "REPROVADO_POR_FREQUENCIA"
	EnrollmentStatusWithdrawn          EnrollmentStatus = "TRANCADA"
)

// ConcludedStatuses lists every status an inactive enrollment can hold.
var ConcludedStatuses = []EnrollmentStatus{
	EnrollmentStatusApproved,
	EnrollmentStatusFailedByGrade,
	EnrollmentStatusFailedByAttendance,
	EnrollmentStatusWithdrawn,
}

// Valid reports whether the status is known.
func (s EnrollmentStatus) Valid() bool {
	if s == EnrollmentStatusInProgress {
		return true
	}
	for _, st := range ConcludedStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// CountsTowardsCR reports whether a final grade with this status enters the coefficient.
func (s EnrollmentStatus) CountsTowardsCR() bool {
	return s == EnrollmentStatusApproved || s == EnrollmentStatusFailedByGrade
}

// IsFailure reports a failed attempt of either kind.
func (s EnrollmentStatus) IsFailure() bool {
	return s == EnrollmentStatusFailedByGrade || s == EnrollmentStatusFailedByAttendance
}

// Enrollment captures a student's registration to a class section.
type Enrollment struct {
	ID                  string           `db:"id" json:"id"`
	StudentRegistration string           `db:"student_registration" json:"student_registration"`
	SectionID           string           `db:"section_id" json:"section_id"`
	Grade               *float64         `db:"grade" json:"grade,omitempty"`
	Attendance          *float64         `db:"attendance" json:"attendance,omitempty"`
	Status              EnrollmentStatus `db:"status" json:"status"`
	Active              bool             `db:"active" json:"active"`
	WithdrawnAt         *time.Time       `db:"withdrawn_at" json:"withdrawn_at,omitempty"`
	CreatedAt           time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with student and section info.
type EnrollmentDetail struct {
	Enrollment
	StudentName string `db:"student_name" json:"student_name"`
	CourseCode  string `db:"course_code" json:"course_code"`
	CourseName  string `db:"course_name" json:"course_name"`
	Period      string `db:"period" json:"period"`
	CreditHours int    `db:"credit_hours" json:"credit_hours"`
}

// HistoryEntry converts a detail row into a history entry.
func (d EnrollmentDetail) HistoryEntry() HistoryEntry {
	return HistoryEntry{
		EnrollmentID: d.ID,
		CourseCode:   d.CourseCode,
		CourseName:   d.CourseName,
		SectionID:    d.SectionID,
		Period:       d.Period,
		CreditHours:  d.CreditHours,
		Grade:        d.Grade,
		Attendance:   d.Attendance,
		Status:       d.Status,
	}
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentRegistration string
	SectionID           string
	Period              string
	Status              EnrollmentStatus
	Active              *bool
	Page                int
	PageSize            int
	SortBy              string
	SortOrder           string
}

// EnrollmentValidation is the outcome of the enrollment rule chain.
type EnrollmentValidation struct {
	CanEnroll            bool            `json:"can_enroll"`
	Errors               []string        `json:"errors"`
	MissingPrerequisites []string        `json:"missing_prerequisites"`
	Clashes              []ScheduleClash `json:"clashes,omitempty"`
}

// Reject records a failed rule.
func (v *EnrollmentValidation) Reject(reason string) {
	v.CanEnroll = false
	v.Errors = append(v.Errors, reason)
}

// Conclude applies an evaluated status to the enrollment.
func (e *Enrollment) Conclude(grade, attendance float64, status EnrollmentStatus) {
	e.Grade = &grade
	e.Attendance = &attendance
	e.Status = status
	e.Active = false
}

// Withdraw marks the enrollment as TRANCADA at t.
func (e *Enrollment) Withdraw(t time.Time) {
	e.Status = EnrollmentStatusWithdrawn
	e.Active = false
	e.WithdrawnAt = &t
}

// AssessmentGrade is a score in a single assessment of an enrollment.
type AssessmentGrade struct {
	ID           string    `db:"id" json:"id"`
	EnrollmentID string    `db:"enrollment_id" json:"enrollment_id"`
	Assessment   string    `db:"assessment" json:"assessment"`
	Score        float64   `db:"score" json:"score"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// AttendanceRecord is the presence of a student on a class date.
type AttendanceRecord struct {
	ID           string    `db:"id" json:"id"`
	EnrollmentID string    `db:"enrollment_id" json:"enrollment_id"`
	ClassDate    time.Time `db:"class_date" json:"class_date"`
	Present      bool      `db:"present" json:"present"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

var (
	ErrNoAssessments = errors.New("no assessment grades recorded")
	ErrNoAttendance  = errors.New("no attendance recorded")
)

// FinalGrade averages assessment scores, rounded to two decimals.
func FinalGrade(grades []AssessmentGrade) (float64, error) {
	if len(grades) == 0 {
		return 0, ErrNoAssessments
	}
	var sum float64
	for _, g := range grades {
		sum += g.Score
	}
	return Round2(sum / float64(len(grades))), nil
}

// AttendancePercentage returns present days over recorded days as a percentage.
func AttendancePercentage(records []AttendanceRecord) (float64, error) {
	if len(records) == 0 {
		return 0, ErrNoAttendance
	}
	present := 0
	for _, r := range records {
		if r.Present {
			present++
		}
	}
	return Round2(float64(present) / float64(len(records)) * 100), nil
}
