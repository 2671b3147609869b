package schema

import (
	"fmt"
	"time"

	"github.com/classguard/classguard"
)

// Fields returns the full field map of a record, one entry per column of
// its table. Inverse of Decode.
func Fields(r classguard.Record) map[string]classguard.Value {
	if r == nil {
		return nil
	}
	out := make(map[string]classguard.Value)
	for _, col := range Columns(r.Table()) {
		if v, ok := r.Field(col); ok {
			out[col] = v
		}
	}
	return out
}

// Decode rebuilds a typed record from a field map, as produced by Fields
// or by a wire decoder. Numeric values tolerate the integer widenings a
// codec introduces; unknown tables are an error.
func Decode(table string, fields map[string]classguard.Value) (classguard.Record, error) {
	switch table {
	case TableUsers:
		return decodeUser(fields)
	case TableClassrooms:
		return decodeClassroom(fields)
	case TableEnrollments:
		return decodeEnrollment(fields)
	case TableAssignments:
		return decodeAssignment(fields)
	case TableProgress:
		return decodeProgress(fields)
	}
	return nil, fmt.Errorf("classguard: decode: unknown table %q", table)
}

func decodeUser(f map[string]classguard.Value) (*User, error) {
	return &User{
		ID:       asString(f[UserFieldID]),
		Email:    asString(f[UserFieldEmail]),
		FullName: asString(f[UserFieldFullName]),
		Role:     classguard.Role(asString(f[UserFieldRole])),
	}, nil
}

func decodeClassroom(f map[string]classguard.Value) (*Classroom, error) {
	return &Classroom{
		ID:          asString(f[ClassroomFieldID]),
		Name:        asString(f[ClassroomFieldName]),
		Description: asString(f[ClassroomFieldDescription]),
		TeacherID:   asString(f[ClassroomFieldTeacherID]),
	}, nil
}

func decodeEnrollment(f map[string]classguard.Value) (*Enrollment, error) {
	return &Enrollment{
		UserID:      asString(f[EnrollmentFieldUserID]),
		ClassroomID: asString(f[EnrollmentFieldClassroomID]),
	}, nil
}

func decodeAssignment(f map[string]classguard.Value) (*Assignment, error) {
	a := &Assignment{
		ID:          asString(f[AssignmentFieldID]),
		ClassroomID: asString(f[AssignmentFieldClassroomID]),
		Title:       asString(f[AssignmentFieldTitle]),
		Description: asString(f[AssignmentFieldDescription]),
		Status:      AssignmentStatus(asString(f[AssignmentFieldStatus])),
		MaxPoints:   asInt(f[AssignmentFieldMaxPoints]),
	}
	if t, ok := asTime(f[AssignmentFieldDueDate]); ok {
		a.DueDate = &t
	}
	return a, nil
}

func decodeProgress(f map[string]classguard.Value) (*Progress, error) {
	p := &Progress{
		ID:                   asString(f[ProgressFieldID]),
		UserID:               asString(f[ProgressFieldUserID]),
		AssignmentID:         asString(f[ProgressFieldAssignmentID]),
		CompletionPercentage: asInt(f[ProgressFieldCompletionPercentage]),
		Status:               ProgressStatus(asString(f[ProgressFieldStatus])),
	}
	if v, ok := f[ProgressFieldGrade]; ok && v != nil {
		s := asString(v)
		p.Grade = &s
	}
	if v, ok := f[ProgressFieldPointsEarned]; ok && v != nil {
		n := asInt(v)
		p.PointsEarned = &n
	}
	if v, ok := f[ProgressFieldFeedback]; ok && v != nil {
		s := asString(v)
		p.Feedback = &s
	}
	if t, ok := asTime(f[ProgressFieldGradedAt]); ok {
		p.GradedAt = &t
	}
	return p, nil
}

func asString(v classguard.Value) string {
	s, _ := v.(string)
	return s
}

func asInt(v classguard.Value) int {
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func asTime(v classguard.Value) (time.Time, bool) {
	t, ok := v.(time.Time)
	return t, ok && !t.IsZero()
}
