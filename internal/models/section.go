package models

import (
	"strings"
	"time"
)

// SectionStatus is the enrollment availability of a class section.
type SectionStatus string

const (
	SectionStatusOpen   SectionStatus = "OPEN"
	SectionStatusClosed SectionStatus = "CLOSED"
	SectionStatusFull   SectionStatus = "FULL"
)

// Valid reports whether the status is known.
func (s SectionStatus) Valid() bool {
	switch s {
	case SectionStatusOpen, SectionStatusClosed, SectionStatusFull:
		return true
	}
	return false
}

// Section is an offering of a course.
type Section struct {
	Offering
	CourseCode string        `db:"course_code" json:"course_code"`
	CourseName string        `db:"course_name" json:"course_name,omitempty"`
	Location   *string       `db:"location" json:"location,omitempty"`
	Status     SectionStatus `db:"status" json:"status"`
	Occupied   int           `db:"occupied" json:"occupied"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at" json:"updated_at"`
}

// SectionFilter captures filtering criteria for listing sections.
type SectionFilter struct {
	Period     string
	CourseCode string
	Status     SectionStatus
	OpenOnly   bool
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}

// Validate checks the offering and course reference.
func (s Section) Validate() error {
	if NormalizeCourseCode(s.CourseCode) == "" {
		return errCourseCodeRequired
	}
	return s.Offering.Validate()
}

// Available returns free seats, never negative.
func (s Section) Available() int {
	if s.Occupied >= s.Seats {
		return 0
	}
	return s.Seats - s.Occupied
}

// OpenForEnrollment reports whether a new student can join.
func (s Section) OpenForEnrollment() bool {
	return s.Status == SectionStatusOpen && s.Available() > 0
}

// NextStatus derives the status after occupancy changes. CLOSED sticks.
func (s Section) NextStatus() SectionStatus {
	switch s.Status {
	case SectionStatusClosed:
		return SectionStatusClosed
	case SectionStatusOpen:
		if s.Occupied >= s.Seats {
			return SectionStatusFull
		}
	case SectionStatusFull:
		if s.Occupied < s.Seats {
			return SectionStatusOpen
		}
	}
	return s.Status
}

// NormalizePeriod trims a period label.
func NormalizePeriod(period string) string {
	return strings.TrimSpace(period)
}

// SectionVacancies summarises seat usage.
type SectionVacancies struct {
	SectionID string        `json:"section_id"`
	Seats     int           `json:"seats"`
	Occupied  int           `json:"occupied"`
	Available int           `json:"available"`
	Status    SectionStatus `json:"status"`
}

// PeriodStats aggregates sections of one period.
type PeriodStats struct {
	Period         string  `db:"period" json:"period"`
	TotalSections  int     `db:"total_sections" json:"total_sections"`
	OpenSections   int     `db:"open_sections" json:"open_sections"`
	ClosedSections int     `db:"closed_sections" json:"closed_sections"`
	FullSections   int     `db:"full_sections" json:"full_sections"`
	TotalSeats     int     `db:"total_seats" json:"total_seats"`
	OccupiedSeats  int     `db:"occupied_seats" json:"occupied_seats"`
	AvailableSeats int     `db:"available_seats" json:"available_seats"`
	OccupancyRate  float64 `db:"-" json:"occupancy_rate"`
}

// Finalize derives available seats and the occupancy rate.
func (p *PeriodStats) Finalize() {
	p.AvailableSeats = p.TotalSeats - p.OccupiedSeats
	if p.AvailableSeats < 0 {
		p.AvailableSeats = 0
	}
	if p.TotalSeats > 0 {
		p.OccupancyRate = Round2(float64(p.OccupiedSeats) / float64(p.TotalSeats) * 100)
	}
}
