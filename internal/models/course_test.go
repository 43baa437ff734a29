package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCourseValidate(t *testing.T) {
	c := Course{Code: " mat101 ", Name: "Calculus", CreditHours: 60}
	assert.NoError(t, c.Validate())
	assert.Equal(t, "MAT101", NormalizeCourseCode(c.Code))

	bad := c
	bad.Name = strings.Repeat("x", 101)
	assert.Error(t, bad.Validate())

	bad = c
	bad.CreditHours = 0
	assert.Error(t, bad.Validate())

	bad = c
	bad.Syllabus = strings.Repeat("s", 1001)
	assert.Error(t, bad.Validate())

	bad = c
	bad.Code = "  "
	assert.Error(t, bad.Validate())
}

func TestMissingPrerequisites(t *testing.T) {
	c := Course{Code: "MAT201", Prerequisites: []string{"MAT101", "FIS101"}}
	missing := c.MissingPrerequisites(map[string]struct{}{"FIS101": {}})
	assert.Equal(t, []string{"MAT101"}, missing)
	assert.Empty(t, c.MissingPrerequisites(map[string]struct{}{"FIS101": {}, "MAT101": {}}))
}

func TestPrerequisiteGraphWouldCycle(t *testing.T) {
	graph := NewPrerequisiteGraph([]PrerequisiteEdge{
		{CourseCode: "C", PrerequisiteCode: "B"},
		{CourseCode: "B", PrerequisiteCode: "A"},
	})
	assert.True(t, graph.WouldCycle("A", "C"))
	assert.True(t, graph.WouldCycle("A", "A"))
	assert.False(t, graph.WouldCycle("D", "C"))
	assert.False(t, graph.WouldCycle("C", "A"))
}
