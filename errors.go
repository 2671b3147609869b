package classguard

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors for policy and storage outcomes.
var (
	// ErrDenied is returned when a write is rejected by policy. Reads are
	// never denied with an error; they filter to an empty or reduced set
	// so record existence cannot be probed through error shapes.
	ErrDenied = errors.New("classguard: authorization denied")

	// ErrInvalidReference is returned when a row references a related
	// entity that does not exist (e.g. progress pointing at a deleted
	// assignment). Read paths treat it as invisibility, not a fault.
	ErrInvalidReference = errors.New("classguard: invalid reference")

	// ErrUnavailable is returned when relationship resolution fails for
	// operational reasons. It must never be collapsed into a deny:
	// outages and security decisions have to stay distinguishable.
	ErrUnavailable = errors.New("classguard: dependency unavailable")

	// ErrNotFound is returned by storage point lookups that miss.
	ErrNotFound = errors.New("classguard: entity not found")
)

// DeniedError reports a rejected write. The whole operation is rejected;
// the engine never applies a permitted subset of a partially denied request.
type DeniedError struct {
	Entity  string   // entity table the write targeted
	Op      Op       // operation that was attempted
	Columns []string // offending columns, if the denial was column-level
	Reason  string   // rule-supplied detail, may be empty
}

// Error returns the error string.
func (e *DeniedError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "classguard: %s on %s denied", e.Op, e.Entity)
	if len(e.Columns) > 0 {
		fmt.Fprintf(&sb, " (columns: %s)", strings.Join(e.Columns, ", "))
	}
	if e.Reason != "" {
		fmt.Fprintf(&sb, ": %s", e.Reason)
	}
	return sb.String()
}

// Is reports whether the target matches ErrDenied, so that
// errors.Is(err, ErrDenied) holds for any DeniedError.
func (e *DeniedError) Is(err error) bool {
	return err == ErrDenied
}

// NewDeniedError returns a new DeniedError.
func NewDeniedError(entity string, op Op, reason string, columns ...string) *DeniedError {
	return &DeniedError{Entity: entity, Op: op, Reason: reason, Columns: columns}
}

// IsDenied returns true if the error is an authorization denial.
func IsDenied(err error) bool {
	if err == nil {
		return false
	}
	var e *DeniedError
	return errors.As(err, &e) || errors.Is(err, ErrDenied)
}

// InvalidReferenceError reports a dangling relationship on a row under
// evaluation.
type InvalidReferenceError struct {
	Entity string // entity holding the reference
	Field  string // referencing field
	ID     string // the missing target's id
}

// Error returns the error string.
func (e *InvalidReferenceError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("classguard: %s references a missing entity", e.Entity)
	}
	return fmt.Sprintf("classguard: %s.%s references missing entity %q", e.Entity, e.Field, e.ID)
}

// Is reports whether the target matches ErrInvalidReference.
func (e *InvalidReferenceError) Is(err error) bool {
	return err == ErrInvalidReference
}

// NewInvalidReferenceError returns a new InvalidReferenceError.
func NewInvalidReferenceError(entity, field, id string) *InvalidReferenceError {
	return &InvalidReferenceError{Entity: entity, Field: field, ID: id}
}

// IsInvalidReference returns true if the error is an InvalidReferenceError.
func IsInvalidReference(err error) bool {
	if err == nil {
		return false
	}
	var e *InvalidReferenceError
	return errors.As(err, &e) || errors.Is(err, ErrInvalidReference)
}

// UnavailableError wraps an operational failure in the storage or
// relationship layer encountered during evaluation.
type UnavailableError struct {
	Op  string // what the engine was resolving
	Err error  // underlying fault
}

// Error returns the error string.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("classguard: %s unavailable: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Is reports whether the target matches ErrUnavailable.
func (e *UnavailableError) Is(err error) bool {
	return err == ErrUnavailable
}

// NewUnavailableError returns a new UnavailableError.
func NewUnavailableError(op string, err error) *UnavailableError {
	return &UnavailableError{Op: op, Err: err}
}

// IsUnavailable returns true if the error reports a dependency failure.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var e *UnavailableError
	return errors.As(err, &e) || errors.Is(err, ErrUnavailable)
}

// NotFoundError represents a storage point-lookup miss.
type NotFoundError struct {
	label string
	id    string
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != "" {
		return fmt.Sprintf("classguard: %s not found (id=%s)", e.label, e.id)
	}
	return fmt.Sprintf("classguard: %s not found", e.label)
}

// Is reports whether the target matches ErrNotFound.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the entity label.
func (e *NotFoundError) Label() string { return e.label }

// ID returns the id that was searched for, if available.
func (e *NotFoundError) ID() string { return e.id }

// NewNotFoundError returns a new NotFoundError for the given entity type.
func NewNotFoundError(label, id string) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// RollbackError wraps an error that occurred while rolling back a guarded
// mutation, preserving the original cause.
type RollbackError struct {
	Err   error // rollback failure
	Cause error // error that triggered the rollback
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("classguard: rollback failed: %v (caused by: %v)", e.Err, e.Cause)
}

// Unwrap returns the error that triggered the rollback, so callers can
// still match the original denial or fault.
func (e *RollbackError) Unwrap() error {
	return e.Cause
}
