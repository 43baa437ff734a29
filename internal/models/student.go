package models

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"
)

// Student is a person registered in the institution.
type Student struct {
	Registration string `db:"registration" json:"registration"`
	Person
	CR        float64   `db:"cr" json:"cr"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter captures filtering criteria for listing students.
type StudentFilter struct {
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// HistoryEntry is one concluded (or ongoing) course attempt in a student's record.
type HistoryEntry struct {
	EnrollmentID string           `db:"enrollment_id" json:"enrollment_id"`
	CourseCode   string           `db:"course_code" json:"course_code"`
	CourseName   string           `db:"course_name" json:"course_name"`
	SectionID    string           `db:"section_id" json:"section_id"`
	Period       string           `db:"period" json:"period"`
	CreditHours  int              `db:"credit_hours" json:"credit_hours"`
	Grade        *float64         `db:"grade" json:"grade,omitempty"`
	Attendance   *float64         `db:"attendance" json:"attendance,omitempty"`
	Status       EnrollmentStatus `db:"status" json:"status"`
}

// StudentDetail enriches a student with their academic history.
type StudentDetail struct {
	Student
	History []HistoryEntry `json:"history"`
}

var (
	errRegistrationRequired = errors.New("registration must not be empty")
	errCROutOfRange         = errors.New("cr must be between 0 and 10")
)

// Validate checks registration, identity and CR bounds.
func (s Student) Validate() error {
	if strings.TrimSpace(s.Registration) == "" {
		return errRegistrationRequired
	}
	if err := s.Person.Validate(); err != nil {
		return err
	}
	if s.CR < 0 || s.CR > 10 {
		return errCROutOfRange
	}
	return nil
}

// ComputeCR returns the credit-hour weighted grade mean over entries that count
// towards the coefficient, rounded to two decimals.
func ComputeCR(history []HistoryEntry) float64 {
	var weighted float64
	var hours int
	for _, entry := range history {
		if !entry.Status.CountsTowardsCR() || entry.Grade == nil || entry.CreditHours <= 0 {
			continue
		}
		weighted += *entry.Grade * float64(entry.CreditHours)
		hours += entry.CreditHours
	}
	if hours == 0 {
		return 0
	}
	return Round2(weighted / float64(hours))
}

// ApprovedCourses lists course codes the history shows as passed.
func ApprovedCourses(history []HistoryEntry) map[string]struct{} {
	approved := make(map[string]struct{})
	for _, entry := range history {
		if entry.Status == EnrollmentStatusApproved {
			approved[entry.CourseCode] = struct{}{}
		}
	}
	return approved
}

// FailureCount counts failed attempts of either kind.
func FailureCount(history []HistoryEntry) int {
	total := 0
	for _, entry := range history {
		if entry.Status.IsFailure() {
			total++
		}
	}
	return total
}

// SortByRank orders students by CR descending, then name ascending.
func SortByRank(students []Student) {
	sort.SliceStable(students, func(i, j int) bool {
		if students[i].CR != students[j].CR {
			return students[i].CR > students[j].CR
		}
		return students[i].Name < students[j].Name
	})
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
