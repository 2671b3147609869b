package schema

import "github.com/classguard/classguard"

// Enrollment columns.
const (
	EnrollmentFieldUserID      = "user_id"
	EnrollmentFieldClassroomID = "classroom_id"
)

// EnrollmentColumns is the full column list of the classroom_enrollments
// table.
var EnrollmentColumns = []string{
	EnrollmentFieldUserID,
	EnrollmentFieldClassroomID,
}

// Enrollment records a student's membership in a classroom. The
// (user_id, classroom_id) pair is unique.
type Enrollment struct {
	UserID      string
	ClassroomID string
}

// RecordID implements classguard.Record. Enrollments have no surrogate key;
// the identifier is the unique pair.
func (e *Enrollment) RecordID() string { return e.UserID + ":" + e.ClassroomID }

// Table implements classguard.Record.
func (e *Enrollment) Table() string { return TableEnrollments }

// Field implements classguard.Record.
func (e *Enrollment) Field(name string) (classguard.Value, bool) {
	switch name {
	case EnrollmentFieldUserID:
		return e.UserID, true
	case EnrollmentFieldClassroomID:
		return e.ClassroomID, true
	}
	return nil, false
}
