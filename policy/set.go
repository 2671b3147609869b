package policy

import (
	"context"

	"github.com/classguard/classguard"
	"github.com/classguard/classguard/access"
	"github.com/classguard/classguard/schema"
)

// DefaultVersion is the version reported by a Set built without a config
// overlay.
const DefaultVersion = "builtin"

// Default write masks. A mask lists the columns the matched rule may
// write; any requested column outside it denies the whole operation.
var (
	// UserUpdateMask: all user fields except the immutable id and role.
	UserUpdateMask = []string{
		schema.UserFieldEmail,
		schema.UserFieldFullName,
	}

	// StudentProgressMask: students advance their own completion, nothing
	// grade-bearing.
	StudentProgressMask = []string{
		schema.ProgressFieldCompletionPercentage,
		schema.ProgressFieldStatus,
	}

	// TeacherProgressMask: grading columns plus completion, for teachers
	// of the assignment's classroom.
	TeacherProgressMask = []string{
		schema.ProgressFieldGrade,
		schema.ProgressFieldPointsEarned,
		schema.ProgressFieldFeedback,
		schema.ProgressFieldGradedAt,
		schema.ProgressFieldCompletionPercentage,
		schema.ProgressFieldStatus,
	}
)

type policyKey struct {
	table string
	op    classguard.Op
}

// Set is the immutable, versioned table of policies keyed by entity and
// operation. Build it once at startup with NewSet; a config change
// produces a new Set, never mutates an existing one, so decisions stay
// auditable against a single version.
type Set struct {
	version  string
	policies map[policyKey]Policy
}

// Option configures Set construction.
type Option func(*setOptions)

type setOptions struct {
	cfg *Config
}

// WithConfig applies a loaded configuration overlay (write mask overrides
// and version) on top of the built-in table.
func WithConfig(cfg *Config) Option {
	return func(o *setOptions) {
		o.cfg = cfg
	}
}

// NewSet builds the policy table for the fixed relationship graph of this
// domain, bound to the given access index and resolver.
//
// Chains are additive (union): if any clause allows, the row or column is
// allowed. Write masks are the exception: the matched rule's mask narrows
// the allowed column set, and role gating keeps masked rules mutually
// exclusive so masks never union across roles.
func NewSet(ix *access.Index, res Resolver, opts ...Option) *Set {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	mask := func(table string, op classguard.Op, role classguard.Role, def []string) []string {
		if o.cfg != nil {
			if m, ok := o.cfg.MaskFor(table, op, role); ok {
				return m
			}
		}
		return def
	}

	s := &Set{
		version:  DefaultVersion,
		policies: make(map[policyKey]Policy),
	}
	if o.cfg != nil && o.cfg.Version != "" {
		s.version = o.cfg.Version
	}

	// Users: a row is visible to itself and every teacher profile is
	// visible to any signed-in actor. Only the owner updates, and never
	// the role column. Creation and deletion belong to the identity
	// layer, so no insert/delete policy exists and both default to deny.
	s.policies[policyKey{schema.TableUsers, classguard.OpRead}] = Policy{
		Query: QueryPolicy{
			DenyIfAnonymous(),
			AllowIfSelf(schema.UserFieldID),
			AllowIfTeacherRecord(),
		},
	}
	s.policies[policyKey{schema.TableUsers, classguard.OpUpdate}] = Policy{
		Mutation: MutationPolicy{
			DenyIfAnonymous(),
			WithMask(AllowIfSelf(schema.UserFieldID),
				mask(schema.TableUsers, classguard.OpUpdate, "", UserUpdateMask)...),
		},
	}

	// Classrooms: owners see and manage their own; students see the ones
	// they are enrolled in.
	s.policies[policyKey{schema.TableClassrooms, classguard.OpRead}] = Policy{
		Query: QueryPolicy{
			DenyIfAnonymous(),
			AllowIfOwnClassroomRecord(),
			AllowIfEnrolled(ix, schema.ClassroomFieldID),
		},
	}
	classroomWrite := Policy{
		Mutation: MutationPolicy{
			DenyIfAnonymous(),
			AllowIfOwnClassroomRecord(),
		},
	}
	for _, op := range []classguard.Op{classguard.OpInsert, classguard.OpUpdate, classguard.OpDelete} {
		s.policies[policyKey{schema.TableClassrooms, op}] = classroomWrite
	}

	// Enrollments: a student sees their own memberships, a teacher the
	// memberships of owned classrooms. Teachers enroll into and remove
	// from classrooms they own.
	s.policies[policyKey{schema.TableEnrollments, classguard.OpRead}] = Policy{
		Query: QueryPolicy{
			DenyIfAnonymous(),
			AllowIfSelf(schema.EnrollmentFieldUserID),
			AllowIfOwned(ix, schema.EnrollmentFieldClassroomID),
		},
	}
	enrollmentWrite := Policy{
		Mutation: MutationPolicy{
			DenyIfAnonymous(),
			ForRole(classguard.RoleTeacher, AllowIfOwned(ix, schema.EnrollmentFieldClassroomID)),
		},
	}
	s.policies[policyKey{schema.TableEnrollments, classguard.OpInsert}] = enrollmentWrite
	s.policies[policyKey{schema.TableEnrollments, classguard.OpDelete}] = enrollmentWrite

	// Assignments: owners see everything in their classrooms including
	// drafts; students only published work in enrolled classrooms.
	s.policies[policyKey{schema.TableAssignments, classguard.OpRead}] = Policy{
		Query: QueryPolicy{
			DenyIfAnonymous(),
			AllowIfOwned(ix, schema.AssignmentFieldClassroomID),
			AllowIfPublishedEnrolled(ix),
		},
	}
	assignmentWrite := Policy{
		Mutation: MutationPolicy{
			DenyIfAnonymous(),
			AllowIfOwned(ix, schema.AssignmentFieldClassroomID),
		},
	}
	for _, op := range []classguard.Op{classguard.OpInsert, classguard.OpUpdate, classguard.OpDelete} {
		s.policies[policyKey{schema.TableAssignments, op}] = assignmentWrite
	}

	// Progress: students own their rows, teachers reach them through the
	// assignment join. The update masks are the field-level contract:
	// students may advance completion but never touch grading columns;
	// teachers grade.
	s.policies[policyKey{schema.TableProgress, classguard.OpRead}] = Policy{
		Query: QueryPolicy{
			DenyIfAnonymous(),
			AllowIfSelf(schema.ProgressFieldUserID),
			AllowIfOwnedViaAssignment(ix, res),
		},
	}
	s.policies[policyKey{schema.TableProgress, classguard.OpInsert}] = Policy{
		Mutation: MutationPolicy{
			DenyIfAnonymous(),
			ForRole(classguard.RoleStudent, RequireAll(
				AllowIfSelf(schema.ProgressFieldUserID),
				AllowIfEnrolledViaAssignment(ix, res),
			)),
		},
	}
	s.policies[policyKey{schema.TableProgress, classguard.OpUpdate}] = Policy{
		Mutation: MutationPolicy{
			DenyIfAnonymous(),
			ForRole(classguard.RoleStudent, WithMask(AllowIfSelf(schema.ProgressFieldUserID),
				mask(schema.TableProgress, classguard.OpUpdate, classguard.RoleStudent, StudentProgressMask)...)),
			ForRole(classguard.RoleTeacher, WithMask(AllowIfOwnedViaAssignment(ix, res),
				mask(schema.TableProgress, classguard.OpUpdate, classguard.RoleTeacher, TeacherProgressMask)...)),
		},
	}
	s.policies[policyKey{schema.TableProgress, classguard.OpDelete}] = Policy{
		Mutation: MutationPolicy{
			DenyIfAnonymous(),
			AllowIfOwnedViaAssignment(ix, res),
		},
	}

	return s
}

// Version returns the configuration version this set was built from.
func (s *Set) Version() string {
	return s.version
}

// Lookup returns the policy registered for the given table and operation.
func (s *Set) Lookup(table string, op classguard.Op) (Policy, bool) {
	p, ok := s.policies[policyKey{table, op}]
	return p, ok
}

// EvalQuery evaluates the read policy for the row's entity. A nil return
// means no rule allowed: for reads that is invisibility, not an error.
func (s *Set) EvalQuery(ctx context.Context, rec classguard.Record) error {
	p, ok := s.Lookup(rec.Table(), classguard.OpRead)
	if !ok {
		return nil
	}
	return p.EvalQuery(ctx, rec)
}

// EvalMutation evaluates the write policy for the mutation's entity and
// operation. A nil return means no rule allowed; the evaluator turns that
// into an explicit denial.
func (s *Set) EvalMutation(ctx context.Context, m classguard.Mutation) error {
	p, ok := s.Lookup(m.Table(), m.Op)
	if !ok {
		return nil
	}
	return p.EvalMutation(ctx, m)
}
