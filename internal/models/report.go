package models

import "time"

// ApprovalRate returns approved over concluded non-withdrawn enrollments as a percentage.
func ApprovalRate(enrollments []Enrollment) float64 {
	concluded, approved := 0, 0
	for _, e := range enrollments {
		if e.Active || e.Status == EnrollmentStatusWithdrawn {
			continue
		}
		concluded++
		if e.Status == EnrollmentStatusApproved {
			approved++
		}
	}
	if concluded == 0 {
		return 0
	}
	return Round2(float64(approved) / float64(concluded) * 100)
}

// Distribution counts inactive enrollments per concluded status. Every key is present.
func Distribution(enrollments []Enrollment) map[EnrollmentStatus]int {
	dist := make(map[EnrollmentStatus]int, len(ConcludedStatuses))
	for _, st := range ConcludedStatuses {
		dist[st] = 0
	}
	for _, e := range enrollments {
		if e.Active {
			continue
		}
		if _, ok := dist[e.Status]; ok {
			dist[e.Status]++
		}
	}
	return dist
}

// Ranking returns the top n students by CR descending, then name.
func Ranking(students []Student, n int) []Student {
	ranked := append([]Student(nil), students...)
	SortByRank(ranked)
	if n >= 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}

// RankedStudent is a ranking row.
type RankedStudent struct {
	Position     int     `json:"position"`
	Registration string  `json:"registration"`
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	CR           float64 `json:"cr"`
}

// RankingRows numbers an already ordered ranking.
func RankingRows(students []Student) []RankedStudent {
	rows := make([]RankedStudent, 0, len(students))
	for i, s := range students {
		rows = append(rows, RankedStudent{
			Position:     i + 1,
			Registration: s.Registration,
			Name:         s.Name,
			Email:        s.Email,
			CR:           s.CR,
		})
	}
	return rows
}

// AtRiskStudent explains why a student is flagged.
type AtRiskStudent struct {
	Registration string  `json:"registration"`
	Name         string  `json:"name"`
	CR           float64 `json:"cr"`
	Failures     int     `json:"failures"`
}

// AtRiskEnrollment is an active enrollment below the thresholds.
type AtRiskEnrollment struct {
	EnrollmentID        string   `json:"enrollment_id"`
	StudentRegistration string   `json:"student_registration"`
	StudentName         string   `json:"student_name"`
	Grade               *float64 `json:"grade,omitempty"`
	Attendance          *float64 `json:"attendance,omitempty"`
	LowGrade            bool     `json:"low_grade"`
	LowAttendance       bool     `json:"low_attendance"`
}

// SectionReport aggregates the enrollments of one section.
type SectionReport struct {
	SectionID         string                   `json:"section_id"`
	CourseCode        string                   `json:"course_code"`
	CourseName        string                   `json:"course_name"`
	Period            string                   `json:"period"`
	TotalEnrollments  int                      `json:"total_enrollments"`
	Active            int                      `json:"active"`
	Concluded         int                      `json:"concluded"`
	StatusCounts      map[EnrollmentStatus]int `json:"status_counts"`
	ApprovalRate      float64                  `json:"approval_rate"`
	AverageGrade      *float64                 `json:"average_grade"`
	AverageAttendance *float64                 `json:"average_attendance"`
	AtRisk            []AtRiskEnrollment       `json:"at_risk"`
	GeneratedAt       time.Time                `json:"generated_at"`
}

// BuildSectionReport computes section statistics under rule.
func BuildSectionReport(section Section, enrollments []EnrollmentDetail, rule ApprovalRule, now time.Time) SectionReport {
	plain := make([]Enrollment, 0, len(enrollments))
	for _, e := range enrollments {
		plain = append(plain, e.Enrollment)
	}

	report := SectionReport{
		SectionID:        section.ID,
		CourseCode:       section.CourseCode,
		CourseName:       section.CourseName,
		Period:           section.Period,
		TotalEnrollments: len(enrollments),
		StatusCounts:     Distribution(plain),
		ApprovalRate:     ApprovalRate(plain),
		AtRisk:           make([]AtRiskEnrollment, 0),
		GeneratedAt:      now,
	}

	var gradeSum, attendanceSum float64
	var grades, attendances int
	for _, e := range enrollments {
		if e.Active {
			report.Active++
			low, absent := rule.EnrollmentAtRisk(e.Enrollment)
			if low || absent {
				report.AtRisk = append(report.AtRisk, AtRiskEnrollment{
					EnrollmentID:        e.ID,
					StudentRegistration: e.StudentRegistration,
					StudentName:         e.StudentName,
					Grade:               e.Grade,
					Attendance:          e.Attendance,
					LowGrade:            low,
					LowAttendance:       absent,
				})
			}
		} else {
			report.Concluded++
		}
		if e.Grade != nil {
			gradeSum += *e.Grade
			grades++
		}
		if e.Attendance != nil {
			attendanceSum += *e.Attendance
			attendances++
		}
	}
	if grades > 0 {
		avg := Round2(gradeSum / float64(grades))
		report.AverageGrade = &avg
	}
	if attendances > 0 {
		avg := Round2(attendanceSum / float64(attendances))
		report.AverageAttendance = &avg
	}
	return report
}

// CourseEnrollmentCount ranks courses by enrollment volume.
type CourseEnrollmentCount struct {
	CourseCode  string `db:"course_code" json:"course_code"`
	CourseName  string `db:"course_name" json:"course_name"`
	Enrollments int    `db:"enrollments" json:"enrollments"`
}

// EnrollmentSummary aggregates enrollments, optionally for one period.
type EnrollmentSummary struct {
	Period         string                   `json:"period,omitempty"`
	Total          int                      `json:"total"`
	Active         int                      `json:"active"`
	Concluded      int                      `json:"concluded"`
	CompletionRate float64                  `json:"completion_rate"`
	ApprovalRate   float64                  `json:"approval_rate"`
	Distribution   map[EnrollmentStatus]int `json:"distribution"`
	TopCourses     []CourseEnrollmentCount  `json:"top_courses"`
}

// BuildEnrollmentSummary computes totals over enrollments.
func BuildEnrollmentSummary(period string, enrollments []Enrollment, top []CourseEnrollmentCount) EnrollmentSummary {
	summary := EnrollmentSummary{
		Period:       period,
		Total:        len(enrollments),
		ApprovalRate: ApprovalRate(enrollments),
		Distribution: Distribution(enrollments),
		TopCourses:   top,
	}
	if summary.TopCourses == nil {
		summary.TopCourses = make([]CourseEnrollmentCount, 0)
	}
	for _, e := range enrollments {
		if e.Active {
			summary.Active++
		} else {
			summary.Concluded++
		}
	}
	if summary.Total > 0 {
		summary.CompletionRate = Round2(float64(summary.Concluded) / float64(summary.Total) * 100)
	}
	return summary
}
