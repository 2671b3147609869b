package policy

import (
	"context"
	"errors"

	"github.com/classguard/classguard"
	"github.com/classguard/classguard/access"
	"github.com/classguard/classguard/schema"
)

// Resolver provides the point lookups join-dependent rules need. It is
// implemented by the storage collaborator. Lookups are per-evaluation and
// never cached across calls, to avoid staleness.
type Resolver interface {
	// ClassroomForAssignment returns the owning classroom id of the given
	// assignment. A missing assignment yields classguard.ErrNotFound.
	ClassroomForAssignment(ctx context.Context, assignmentID string) (string, error)
}

// DenyIfAnonymous returns a rule that denies when no identity was resolved.
// Every chain in the default set starts with it: anonymous actors see empty
// sets and cannot write.
func DenyIfAnonymous() QueryMutationRule {
	return ContextRule(func(ctx context.Context) error {
		if ActorFromContext(ctx).IsAnonymous() {
			return Denyf("policy: actor required")
		}
		return Skip
	})
}

// ForRole gates a mutation rule to actors of the given role, skipping for
// everyone else. Role gating is what keeps masked rules mutually exclusive:
// a student request can never match a teacher rule's broader mask.
func ForRole(role classguard.Role, rule MutationRule) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m classguard.Mutation) error {
		if ActorFromContext(ctx).Role != role {
			return Skip
		}
		return rule.EvalMutation(ctx, m)
	})
}

// AllowIfSelf returns a rule that allows when the named field of the row's
// committed image equals the actor id.
func AllowIfSelf(field string) QueryMutationRule {
	return selfRule{field: field}
}

type selfRule struct {
	field string
}

func (r selfRule) EvalQuery(ctx context.Context, rec classguard.Record) error {
	return r.eval(ctx, rec)
}

func (r selfRule) EvalMutation(ctx context.Context, m classguard.Mutation) error {
	// Ownership is decided on the committed image, so a caller cannot
	// smuggle a foreign row into scope by supplying its own id as a new
	// value.
	return r.eval(ctx, m.Current())
}

func (r selfRule) eval(ctx context.Context, rec classguard.Record) error {
	actor := ActorFromContext(ctx)
	if actor.IsAnonymous() || rec == nil {
		return Skip
	}
	if v, ok := rec.Field(r.field); ok {
		if id, ok := v.(string); ok && id == actor.ID {
			return Allow
		}
	}
	return Skip
}

// AllowIfTeacherRecord returns a query rule that allows when the row itself
// is a teacher profile. Teacher profiles are visible to everyone signed in;
// student profiles are not.
func AllowIfTeacherRecord() QueryRule {
	return QueryRuleFunc(func(ctx context.Context, rec classguard.Record) error {
		if ActorFromContext(ctx).IsAnonymous() {
			return Skip
		}
		if v, ok := rec.Field(schema.UserFieldRole); ok {
			if role, ok := v.(string); ok && classguard.Role(role) == classguard.RoleTeacher {
				return Allow
			}
		}
		return Skip
	})
}

// AllowIfOwnClassroomRecord returns a rule that allows teachers acting on
// classroom rows they own. For mutations both the committed image and the
// new values must name the actor as teacher, so ownership cannot be claimed
// or transferred through a write.
func AllowIfOwnClassroomRecord() QueryMutationRule {
	return ownClassroomRule{}
}

type ownClassroomRule struct{}

func (ownClassroomRule) EvalQuery(ctx context.Context, rec classguard.Record) error {
	actor := ActorFromContext(ctx)
	if actor.Role != classguard.RoleTeacher {
		return Skip
	}
	if teacherID, ok := stringField(rec, schema.ClassroomFieldTeacherID); ok && teacherID == actor.ID {
		return Allow
	}
	return Skip
}

func (ownClassroomRule) EvalMutation(ctx context.Context, m classguard.Mutation) error {
	actor := ActorFromContext(ctx)
	if actor.Role != classguard.RoleTeacher {
		return Skip
	}
	if m.Old != nil {
		if teacherID, ok := stringField(m.Old, schema.ClassroomFieldTeacherID); !ok || teacherID != actor.ID {
			return Skip
		}
	}
	if m.Record != nil {
		if teacherID, ok := stringField(m.Record, schema.ClassroomFieldTeacherID); !ok || teacherID != actor.ID {
			return Skip
		}
	}
	return Allow
}

// AllowIfEnrolled returns a rule that allows when the row's classroom field
// names a classroom the actor is enrolled in.
func AllowIfEnrolled(ix *access.Index, field string) QueryMutationRule {
	return membershipRule{ix: ix, field: field, owned: false}
}

// AllowIfOwned returns a rule that allows when the row's classroom field
// names a classroom the actor owns. For mutations, membership is required
// for every image present, so rows cannot be moved into or out of an
// unowned classroom.
func AllowIfOwned(ix *access.Index, field string) QueryMutationRule {
	return membershipRule{ix: ix, field: field, owned: true}
}

type membershipRule struct {
	ix    *access.Index
	field string
	owned bool
}

func (r membershipRule) set(actor classguard.Actor) access.Set {
	if r.owned {
		return r.ix.OwnedClassrooms(actor.ID)
	}
	return r.ix.EnrolledClassrooms(actor.ID)
}

func (r membershipRule) EvalQuery(ctx context.Context, rec classguard.Record) error {
	actor := ActorFromContext(ctx)
	if actor.IsAnonymous() {
		return Skip
	}
	if id, ok := stringField(rec, r.field); ok && r.set(actor).Contains(id) {
		return Allow
	}
	return Skip
}

func (r membershipRule) EvalMutation(ctx context.Context, m classguard.Mutation) error {
	actor := ActorFromContext(ctx)
	if actor.IsAnonymous() {
		return Skip
	}
	set := r.set(actor)
	images := 0
	for _, rec := range []classguard.Record{m.Old, m.Record} {
		if rec == nil {
			continue
		}
		images++
		if id, ok := stringField(rec, r.field); !ok || !set.Contains(id) {
			return Skip
		}
	}
	if images == 0 {
		return Skip
	}
	return Allow
}

// AllowIfPublishedEnrolled returns a query rule for assignments visible to
// students: the assignment is published and its classroom is one the actor
// is enrolled in. Draft assignments stay invisible to students.
func AllowIfPublishedEnrolled(ix *access.Index) QueryRule {
	return QueryRuleFunc(func(ctx context.Context, rec classguard.Record) error {
		actor := ActorFromContext(ctx)
		if actor.IsAnonymous() {
			return Skip
		}
		status, ok := stringField(rec, schema.AssignmentFieldStatus)
		if !ok || schema.AssignmentStatus(status) != schema.StatusPublished {
			return Skip
		}
		classroomID, ok := stringField(rec, schema.AssignmentFieldClassroomID)
		if !ok || !ix.EnrolledClassrooms(actor.ID).Contains(classroomID) {
			return Skip
		}
		return Allow
	})
}

// AllowIfOwnedViaAssignment returns a rule for progress rows reachable
// through the assignment join: the assignment's classroom is owned by the
// actor. A dangling assignment reference skips (read-invisible, never a
// crash); a resolver fault propagates distinctly so an outage is never
// mistaken for a deny.
func AllowIfOwnedViaAssignment(ix *access.Index, res Resolver) QueryMutationRule {
	return joinRule{ix: ix, res: res, role: classguard.RoleTeacher, owned: true}
}

// AllowIfEnrolledViaAssignment returns a rule allowing students acting on
// progress rows whose assignment belongs to a classroom they are enrolled
// in. Used on insert to uphold the invariant that progress only exists for
// enrolled students.
func AllowIfEnrolledViaAssignment(ix *access.Index, res Resolver) QueryMutationRule {
	return joinRule{ix: ix, res: res, role: classguard.RoleStudent, owned: false}
}

type joinRule struct {
	ix    *access.Index
	res   Resolver
	role  classguard.Role
	owned bool
}

func (r joinRule) EvalQuery(ctx context.Context, rec classguard.Record) error {
	return r.eval(ctx, rec)
}

func (r joinRule) EvalMutation(ctx context.Context, m classguard.Mutation) error {
	return r.eval(ctx, m.Current())
}

func (r joinRule) eval(ctx context.Context, rec classguard.Record) error {
	actor := ActorFromContext(ctx)
	if actor.Role != r.role || rec == nil {
		return Skip
	}
	assignmentID, ok := stringField(rec, schema.ProgressFieldAssignmentID)
	if !ok || assignmentID == "" {
		return Skip
	}
	classroomID, err := r.res.ClassroomForAssignment(ctx, assignmentID)
	switch {
	case err == nil:
	case classguard.IsNotFound(err), classguard.IsInvalidReference(err):
		return Skip
	default:
		return classguard.NewUnavailableError("assignment classroom lookup", err)
	}
	var members access.Set
	if r.owned {
		members = r.ix.OwnedClassrooms(actor.ID)
	} else {
		members = r.ix.EnrolledClassrooms(actor.ID)
	}
	if members.Contains(classroomID) {
		return Allow
	}
	return Skip
}

// RequireAll combines mutation rules conjunctively: every rule must allow.
// A Deny from any rule terminates with that deny; a Skip from any rule
// yields Skip so the chain can fall through.
func RequireAll(rules ...MutationRule) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m classguard.Mutation) error {
		for _, rule := range rules {
			decision := rule.EvalMutation(ctx, m)
			switch {
			case errors.Is(decision, Allow):
			case decision == nil, errors.Is(decision, Skip):
				return Skip
			default:
				return decision
			}
		}
		if len(rules) == 0 {
			return Skip
		}
		return Allow
	})
}

func stringField(rec classguard.Record, name string) (string, bool) {
	if rec == nil {
		return "", false
	}
	v, ok := rec.Field(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
