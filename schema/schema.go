// Package schema defines the record types of the classguard domain: users,
// classrooms, enrollments, assignments and progress. Each type implements
// classguard.Record so the policy engine can evaluate rows without knowing
// their concrete shape, and exports its column names as constants so policies
// and masks reference columns by a single source of truth.
package schema

import (
	"github.com/google/uuid"

	"github.com/classguard/classguard"
)

// Table names, matching the underlying store.
const (
	TableUsers       = "users"
	TableClassrooms  = "classrooms"
	TableEnrollments = "classroom_enrollments"
	TableAssignments = "assignments"
	TableProgress    = "progress"
)

// NewID returns a fresh record identifier.
func NewID() string {
	return uuid.NewString()
}

// columns maps each table to its full column list, in storage order.
var columns = map[string][]string{
	TableUsers:       UserColumns,
	TableClassrooms:  ClassroomColumns,
	TableEnrollments: EnrollmentColumns,
	TableAssignments: AssignmentColumns,
	TableProgress:    ProgressColumns,
}

// Columns returns the column list for the given table, or nil for an
// unknown table.
func Columns(table string) []string {
	return columns[table]
}

// Mask builds a masked field map from a record, keeping only the columns
// the decision permits. Used when emitting change payloads so a subscriber
// never receives a column a direct read would hide.
func Mask(r classguard.Record, d classguard.Decision) map[string]classguard.Value {
	if r == nil {
		return nil
	}
	out := make(map[string]classguard.Value)
	for _, col := range Columns(r.Table()) {
		if !d.PermitsColumn(col) {
			continue
		}
		if v, ok := r.Field(col); ok {
			out[col] = v
		}
	}
	return out
}
