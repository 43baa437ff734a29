package models

import (
	"errors"
	"fmt"
)

var (
	ErrGradeOutOfRange      = errors.New("grade must be between 0 and 10")
	ErrAttendanceOutOfRange = errors.New("attendance must be between 0 and 100")
)

// atRiskFailureThreshold is the number of failed attempts that flags a student.
const atRiskFailureThreshold = 2

// ApprovalRule decides the outcome of a finished course attempt.
type ApprovalRule struct {
	MinimumGrade      float64
	MinimumAttendance float64
}

// NewApprovalRule builds a rule from the current system configuration.
func NewApprovalRule(cfg SystemConfiguration) ApprovalRule {
	return ApprovalRule{MinimumGrade: cfg.MinimumGrade, MinimumAttendance: cfg.MinimumAttendance}
}

// ValidateScores checks grade and attendance bounds.
func ValidateScores(grade, attendance float64) error {
	if grade < 0 || grade > 10 {
		return fmt.Errorf("%w: %.2f", ErrGradeOutOfRange, grade)
	}
	if attendance < 0 || attendance > 100 {
		return fmt.Errorf("%w: %.2f", ErrAttendanceOutOfRange, attendance)
	}
	return nil
}

// Evaluate returns the final status. Attendance is checked before grade.
func (r ApprovalRule) Evaluate(grade, attendance float64) (EnrollmentStatus, error) {
	if err := ValidateScores(grade, attendance); err != nil {
		return "", err
	}
	if attendance < r.MinimumAttendance {
		return EnrollmentStatusFailedByAttendance, nil
	}
	if grade < r.MinimumGrade {
		return EnrollmentStatusFailedByGrade, nil
	}
	return EnrollmentStatusApproved, nil
}

// Approved reports whether the student's CR reaches the minimum grade.
func (r ApprovalRule) Approved(student Student) bool {
	return student.CR >= r.MinimumGrade
}

// AtRisk flags a low CR or repeated failures.
func (r ApprovalRule) AtRisk(student Student, history []HistoryEntry) bool {
	return student.CR < r.MinimumGrade || FailureCount(history) >= atRiskFailureThreshold
}

// Best returns the student with the highest CR, ties broken by name.
func (r ApprovalRule) Best(students []Student) (Student, bool) {
	if len(students) == 0 {
		return Student{}, false
	}
	ranked := append([]Student(nil), students...)
	SortByRank(ranked)
	return ranked[0], true
}

// EnrollmentAtRisk reports low grade or attendance flags for an active enrollment.
func (r ApprovalRule) EnrollmentAtRisk(e Enrollment) (lowGrade, lowAttendance bool) {
	if e.Grade != nil && *e.Grade < r.MinimumGrade {
		lowGrade = true
	}
	if e.Attendance != nil && *e.Attendance < r.MinimumAttendance {
		lowAttendance = true
	}
	return lowGrade, lowAttendance
}
