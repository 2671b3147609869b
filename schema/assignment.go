package schema

import (
	"time"

	"github.com/classguard/classguard"
)

// Assignment columns.
const (
	AssignmentFieldID          = "id"
	AssignmentFieldClassroomID = "classroom_id"
	AssignmentFieldTitle       = "title"
	AssignmentFieldDescription = "description"
	AssignmentFieldStatus      = "status"
	AssignmentFieldMaxPoints   = "max_points"
	AssignmentFieldDueDate     = "due_date"
)

// AssignmentColumns is the full column list of the assignments table.
var AssignmentColumns = []string{
	AssignmentFieldID,
	AssignmentFieldClassroomID,
	AssignmentFieldTitle,
	AssignmentFieldDescription,
	AssignmentFieldStatus,
	AssignmentFieldMaxPoints,
	AssignmentFieldDueDate,
}

// AssignmentStatus is the publication state of an assignment. Students only
// see published assignments; draft assignments are visible to the owning
// teacher alone.
type AssignmentStatus string

// Assignment statuses.
const (
	StatusDraft     AssignmentStatus = "draft"
	StatusPublished AssignmentStatus = "published"
)

// Valid reports whether s is a known assignment status.
func (s AssignmentStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished:
		return true
	}
	return false
}

// Assignment is a task issued inside a classroom.
type Assignment struct {
	ID          string
	ClassroomID string
	Title       string
	Description string
	Status      AssignmentStatus
	MaxPoints   int
	DueDate     *time.Time
}

// RecordID implements classguard.Record.
func (a *Assignment) RecordID() string { return a.ID }

// Table implements classguard.Record.
func (a *Assignment) Table() string { return TableAssignments }

// Field implements classguard.Record.
func (a *Assignment) Field(name string) (classguard.Value, bool) {
	switch name {
	case AssignmentFieldID:
		return a.ID, true
	case AssignmentFieldClassroomID:
		return a.ClassroomID, true
	case AssignmentFieldTitle:
		return a.Title, true
	case AssignmentFieldDescription:
		return a.Description, true
	case AssignmentFieldStatus:
		return string(a.Status), true
	case AssignmentFieldMaxPoints:
		return a.MaxPoints, true
	case AssignmentFieldDueDate:
		if a.DueDate == nil {
			return nil, true
		}
		return *a.DueDate, true
	}
	return nil, false
}
