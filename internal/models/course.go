package models

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// Course is a catalogue entry that sections are opened for.
type Course struct {
	Code          string    `db:"code" json:"code"`
	Name          string    `db:"name" json:"name"`
	CreditHours   int       `db:"credit_hours" json:"credit_hours"`
	Syllabus      string    `db:"syllabus" json:"syllabus"`
	Prerequisites []string  `db:"-" json:"prerequisites"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// CourseFilter captures filtering criteria for listing courses.
type CourseFilter struct {
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// PrerequisiteEdge is one row of the prerequisite graph.
type PrerequisiteEdge struct {
	CourseCode       string `db:"course_code" json:"course_code"`
	PrerequisiteCode string `db:"prerequisite_code" json:"prerequisite_code"`
}

const (
	MaxCourseNameLength     = 100
	MaxCourseSyllabusLength = 1000
)

var (
	errCourseCodeRequired   = errors.New("course code must not be empty")
	errCourseNameLength     = errors.New("course name must have between 1 and 100 characters")
	errCourseCreditHours    = errors.New("credit hours must be greater than zero")
	errCourseSyllabusLength = errors.New("syllabus must have at most 1000 characters")
)

// NormalizeCourseCode trims and upper-cases a course code.
func NormalizeCourseCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks code, name length, credit hours and syllabus length.
func (c Course) Validate() error {
	if NormalizeCourseCode(c.Code) == "" {
		return errCourseCodeRequired
	}
	nameLen := utf8.RuneCountInString(strings.TrimSpace(c.Name))
	if nameLen == 0 || nameLen > MaxCourseNameLength {
		return errCourseNameLength
	}
	if c.CreditHours <= 0 {
		return errCourseCreditHours
	}
	if utf8.RuneCountInString(c.Syllabus) > MaxCourseSyllabusLength {
		return errCourseSyllabusLength
	}
	return nil
}

// MissingPrerequisites returns the prerequisites not present in approved, in declaration order.
func (c Course) MissingPrerequisites(approved map[string]struct{}) []string {
	missing := make([]string, 0)
	for _, code := range c.Prerequisites {
		if _, ok := approved[code]; !ok {
			missing = append(missing, code)
		}
	}
	return missing
}

// PrerequisiteGraph maps a course code to the codes it requires.
type PrerequisiteGraph map[string][]string

// NewPrerequisiteGraph builds the adjacency list from stored edges.
func NewPrerequisiteGraph(edges []PrerequisiteEdge) PrerequisiteGraph {
	graph := make(PrerequisiteGraph)
	for _, e := range edges {
		graph[e.CourseCode] = append(graph[e.CourseCode], e.PrerequisiteCode)
	}
	return graph
}

// Reachable reports whether target can be reached from start following prerequisite edges.
func (g PrerequisiteGraph) Reachable(start, target string) bool {
	visited := make(map[string]bool)
	var dfs func(code string) bool
	dfs = func(code string) bool {
		if code == target {
			return true
		}
		if visited[code] {
			return false
		}
		visited[code] = true
		for _, next := range g[code] {
			if dfs(next) {
				return true
			}
		}
		return false
	}
	return dfs(start)
}

// WouldCycle reports whether adding course -> prerequisite closes a loop.
func (g PrerequisiteGraph) WouldCycle(course, prerequisite string) bool {
	if course == prerequisite {
		return true
	}
	return g.Reachable(prerequisite, course)
}
