package schema

import (
	"time"

	"github.com/classguard/classguard"
)

// Progress columns.
const (
	ProgressFieldID                   = "id"
	ProgressFieldUserID               = "user_id"
	ProgressFieldAssignmentID         = "assignment_id"
	ProgressFieldCompletionPercentage = "completion_percentage"
	ProgressFieldStatus               = "status"
	ProgressFieldGrade                = "grade"
	ProgressFieldPointsEarned         = "points_earned"
	ProgressFieldFeedback             = "feedback"
	ProgressFieldGradedAt             = "graded_at"
)

// ProgressColumns is the full column list of the progress table.
var ProgressColumns = []string{
	ProgressFieldID,
	ProgressFieldUserID,
	ProgressFieldAssignmentID,
	ProgressFieldCompletionPercentage,
	ProgressFieldStatus,
	ProgressFieldGrade,
	ProgressFieldPointsEarned,
	ProgressFieldFeedback,
	ProgressFieldGradedAt,
}

// GradeColumns are the grade-bearing columns of progress, mutable only by
// the owning teacher of the assignment's classroom.
var GradeColumns = []string{
	ProgressFieldGrade,
	ProgressFieldPointsEarned,
	ProgressFieldFeedback,
	ProgressFieldGradedAt,
}

// ProgressStatus is the student-facing completion state.
type ProgressStatus string

// Progress statuses.
const (
	ProgressNotStarted ProgressStatus = "not_started"
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
)

// Valid reports whether s is a known progress status.
func (s ProgressStatus) Valid() bool {
	switch s {
	case ProgressNotStarted, ProgressInProgress, ProgressCompleted:
		return true
	}
	return false
}

// Progress tracks a student's work on a single assignment. The assignment
// must belong to a classroom the student is enrolled in.
type Progress struct {
	ID                   string
	UserID               string
	AssignmentID         string
	CompletionPercentage int
	Status               ProgressStatus
	Grade                *string
	PointsEarned         *int
	Feedback             *string
	GradedAt             *time.Time
}

// RecordID implements classguard.Record.
func (p *Progress) RecordID() string { return p.ID }

// Table implements classguard.Record.
func (p *Progress) Table() string { return TableProgress }

// Field implements classguard.Record.
func (p *Progress) Field(name string) (classguard.Value, bool) {
	switch name {
	case ProgressFieldID:
		return p.ID, true
	case ProgressFieldUserID:
		return p.UserID, true
	case ProgressFieldAssignmentID:
		return p.AssignmentID, true
	case ProgressFieldCompletionPercentage:
		return p.CompletionPercentage, true
	case ProgressFieldStatus:
		return string(p.Status), true
	case ProgressFieldGrade:
		if p.Grade == nil {
			return nil, true
		}
		return *p.Grade, true
	case ProgressFieldPointsEarned:
		if p.PointsEarned == nil {
			return nil, true
		}
		return *p.PointsEarned, true
	case ProgressFieldFeedback:
		if p.Feedback == nil {
			return nil, true
		}
		return *p.Feedback, true
	case ProgressFieldGradedAt:
		if p.GradedAt == nil {
			return nil, true
		}
		return *p.GradedAt, true
	}
	return nil, false
}
