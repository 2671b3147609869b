package schema

import "github.com/classguard/classguard"

// Classroom columns.
const (
	ClassroomFieldID          = "id"
	ClassroomFieldName        = "name"
	ClassroomFieldDescription = "description"
	ClassroomFieldTeacherID   = "teacher_id"
)

// ClassroomColumns is the full column list of the classrooms table.
var ClassroomColumns = []string{
	ClassroomFieldID,
	ClassroomFieldName,
	ClassroomFieldDescription,
	ClassroomFieldTeacherID,
}

// Classroom is a class owned by exactly one teacher. Ownership never
// transfers within the scope of this engine.
type Classroom struct {
	ID          string
	Name        string
	Description string
	TeacherID   string
}

// RecordID implements classguard.Record.
func (c *Classroom) RecordID() string { return c.ID }

// Table implements classguard.Record.
func (c *Classroom) Table() string { return TableClassrooms }

// Field implements classguard.Record.
func (c *Classroom) Field(name string) (classguard.Value, bool) {
	switch name {
	case ClassroomFieldID:
		return c.ID, true
	case ClassroomFieldName:
		return c.Name, true
	case ClassroomFieldDescription:
		return c.Description, true
	case ClassroomFieldTeacherID:
		return c.TeacherID, true
	}
	return nil, false
}
