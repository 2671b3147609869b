// Package classguard implements row-level and field-level authorization for
// a fixed graph of educational records: users, classrooms, enrollments,
// assignments and progress. It decides which rows an actor may see, which
// columns an actor may mutate, and keeps those decisions consistent between
// point-in-time queries and live change delivery.
//
// The package holds the shared contracts (actors, operations, record and
// mutation shapes, the error taxonomy). Policy rules live in the policy
// package, evaluation in engine, change delivery in stream, and the storage
// collaborator boundary in store.
package classguard

import (
	"fmt"
	"strings"
)

// Role is the role of an actor as resolved by the identity layer.
type Role string

// Roles known to the engine. Role is immutable post-creation; the engine
// never changes it, only checks it.
const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// Valid reports whether r is a role the engine knows about.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher:
		return true
	}
	return false
}

// Actor is the resolved identity on whose behalf an operation runs.
// The zero Actor is the anonymous actor: every predicate evaluates false
// for it, so reads yield empty sets and writes are denied.
type Actor struct {
	ID   string
	Role Role
}

// Anonymous returns the sentinel actor used when no identity could be
// resolved. An unresolved identity is treated as anonymous, never as an
// error.
func Anonymous() Actor {
	return Actor{}
}

// IsAnonymous reports whether the actor carries no identity.
func (a Actor) IsAnonymous() bool {
	return a.ID == ""
}

// String implements fmt.Stringer.
func (a Actor) String() string {
	if a.IsAnonymous() {
		return "anonymous"
	}
	return fmt.Sprintf("%s(%s)", a.Role, a.ID)
}

// Op is the operation type of a query or mutation, expressed as a bitmask
// so policies can match several operations at once.
type Op uint

// Operations the engine authorizes.
const (
	OpRead Op = 1 << iota
	OpInsert
	OpUpdate
	OpDelete
)

// OpWrite groups all mutating operations.
const OpWrite = OpInsert | OpUpdate | OpDelete

// Is reports whether i is contained in g.
func (i Op) Is(g Op) bool { return i&g != 0 }

var opNames = [...]string{"read", "insert", "update", "delete"}

// String returns the operation name, or a pipe-joined list for a mask.
func (i Op) String() string {
	var parts []string
	for n, name := range opNames {
		if i&(1<<uint(n)) != 0 {
			parts = append(parts, name)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Op(%d)", i)
	}
	return strings.Join(parts, "|")
}

// Value is the type used for record field values.
type Value = any

// Record is the minimal row image the engine evaluates policies against.
// The schema package provides implementations for each entity; callers may
// supply their own as long as field names follow the schema constants.
type Record interface {
	// RecordID returns the row's primary identifier.
	RecordID() string
	// Table returns the entity table the row belongs to.
	Table() string
	// Field returns the named field value and whether the field exists
	// on this entity.
	Field(name string) (Value, bool)
}

// Mutation describes a candidate write: the operation, the row image it
// applies to, and for updates the set of columns the caller intends to
// touch. The pre-image is carried for updates and deletes so policies can
// evaluate against committed state rather than caller-supplied values.
type Mutation struct {
	Op      Op
	Record  Record   // new values for insert/update, current row for delete
	Old     Record   // committed pre-image; nil for insert
	Columns []string // requested columns; empty for insert/delete
}

// Table returns the entity table the mutation targets.
func (m Mutation) Table() string {
	if m.Record != nil {
		return m.Record.Table()
	}
	if m.Old != nil {
		return m.Old.Table()
	}
	return ""
}

// Field returns a field from the mutation's row image, preferring the new
// values and falling back to the pre-image.
func (m Mutation) Field(name string) (Value, bool) {
	if m.Record != nil {
		if v, ok := m.Record.Field(name); ok {
			return v, ok
		}
	}
	if m.Old != nil {
		return m.Old.Field(name)
	}
	return nil, false
}

// Current returns the row image policies should treat as committed state:
// the pre-image when present, otherwise the new record.
func (m Mutation) Current() Record {
	if m.Old != nil {
		return m.Old
	}
	return m.Record
}

// Touches reports whether the mutation requests a write to the given column.
func (m Mutation) Touches(column string) bool {
	for _, c := range m.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Decision is the outcome of evaluating an actor/row/operation triple.
type Decision struct {
	// Visible reports whether the row may be read. Only meaningful for
	// read evaluations.
	Visible bool

	// Allowed reports whether the write may proceed. Only meaningful for
	// write evaluations.
	Allowed bool

	// Columns is the allowed column set for updates, or the visible
	// column set for reads. A nil slice means all columns.
	Columns []string
}

// AllColumns reports whether the decision places no column restriction.
func (d Decision) AllColumns() bool { return d.Columns == nil }

// PermitsColumn reports whether the decision covers the given column.
func (d Decision) PermitsColumn(name string) bool {
	if d.Columns == nil {
		return true
	}
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}
