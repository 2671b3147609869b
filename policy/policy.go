// Package policy provides the declarative authorization rules of the
// classguard engine and the machinery for evaluating them: sentinel
// decision errors, rule chains per entity and operation, and column masks
// for field-level write control.
package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/classguard/classguard"
)

// Policy decision sentinel errors.
//
// These errors are used as return values from rules to indicate how the
// evaluation should proceed. Use errors.Is() to check for these values:
//
//	if errors.Is(err, policy.Allow) { ... }
//	if errors.Is(err, policy.Deny) { ... }
//	if errors.Is(err, policy.Skip) { ... }
var (
	// Allow may be returned by rules to indicate that the evaluation
	// should terminate with an allow decision.
	Allow = errors.New("classguard/policy: allow rule")

	// Deny may be returned by rules to indicate that the evaluation
	// should terminate with a deny decision.
	Deny = errors.New("classguard/policy: deny rule")

	// Skip may be returned by rules to abstain from a decision and let
	// the next rule in the chain evaluate.
	Skip = errors.New("classguard/policy: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

// IsDecision reports whether err is one of the three sentinel decisions.
// Any other error returned by a rule is a fault (e.g. a dependency
// failure) and must propagate instead of being read as a deny.
func IsDecision(err error) bool {
	return errors.Is(err, Allow) || errors.Is(err, Deny) || errors.Is(err, Skip)
}

type (
	// QueryRule decides whether a single candidate row is visible to the
	// actor in the context. It returns Allow, Deny, Skip or a fault.
	QueryRule interface {
		EvalQuery(ctx context.Context, r classguard.Record) error
	}

	// QueryPolicy combines multiple query rules into a single chain.
	QueryPolicy []QueryRule

	// MutationRule decides whether a candidate mutation may proceed.
	MutationRule interface {
		EvalMutation(ctx context.Context, m classguard.Mutation) error
	}

	// MutationPolicy combines multiple mutation rules into a single chain.
	MutationPolicy []MutationRule

	// QueryMutationRule groups query and mutation rules.
	QueryMutationRule interface {
		QueryRule
		MutationRule
	}
)

// QueryRuleFunc is an adapter allowing ordinary functions as query rules.
type QueryRuleFunc func(context.Context, classguard.Record) error

// EvalQuery returns f(ctx, r).
func (f QueryRuleFunc) EvalQuery(ctx context.Context, r classguard.Record) error {
	return f(ctx, r)
}

// MutationRuleFunc is an adapter allowing ordinary functions as mutation
// rules.
type MutationRuleFunc func(context.Context, classguard.Mutation) error

// EvalMutation returns f(ctx, m).
func (f MutationRuleFunc) EvalMutation(ctx context.Context, m classguard.Mutation) error {
	return f(ctx, m)
}

// OnOperation evaluates the given rule only for the given mutation
// operations, skipping otherwise.
func OnOperation(rule MutationRule, op classguard.Op) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m classguard.Mutation) error {
		if m.Op.Is(op) {
			return rule.EvalMutation(ctx, m)
		}
		return Skip
	})
}

// Policy groups the query and mutation chains of one (entity, operation)
// pair. Chains are additive: the first Allow wins, the first Deny wins,
// Skip falls through. An exhausted chain is no decision; the evaluator
// treats it as invisible (reads) or denied (writes), so policies only ever
// widen access, never narrow another rule's grant.
type Policy struct {
	Query    QueryPolicy
	Mutation MutationPolicy
}

// EvalQuery evaluates the query chain against a candidate row. It returns
// the terminating decision, or nil when every rule skipped.
func (p Policy) EvalQuery(ctx context.Context, r classguard.Record) error {
	return p.Query.EvalQuery(ctx, r)
}

// EvalMutation evaluates the mutation chain against a candidate mutation.
func (p Policy) EvalMutation(ctx context.Context, m classguard.Mutation) error {
	return p.Mutation.EvalMutation(ctx, m)
}

// EvalQuery evaluates the chain rules in order. Skip continues, anything
// else terminates the chain.
func (policies QueryPolicy) EvalQuery(ctx context.Context, r classguard.Record) error {
	for _, rule := range policies {
		switch decision := rule.EvalQuery(ctx, r); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

// EvalMutation evaluates the chain rules in order. Skip continues,
// anything else terminates the chain.
func (policies MutationPolicy) EvalMutation(ctx context.Context, m classguard.Mutation) error {
	for _, rule := range policies {
		switch decision := rule.EvalMutation(ctx, m); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

// actorCtxKey is the context key for the acting identity.
type actorCtxKey struct{}

// WithActor returns a new context carrying the acting identity. Rules read
// the actor from the context, mirroring how the identity layer resolves it
// per request.
func WithActor(ctx context.Context, actor classguard.Actor) context.Context {
	return context.WithValue(ctx, actorCtxKey{}, actor)
}

// ActorFromContext retrieves the acting identity. A context without an
// actor yields the anonymous actor.
func ActorFromContext(ctx context.Context) classguard.Actor {
	a, _ := ctx.Value(actorCtxKey{}).(classguard.Actor)
	return a
}

// maskedAllow is an Allow decision carrying the column set the matched
// rule permits for the write.
type maskedAllow struct {
	columns []string
}

func (e *maskedAllow) Error() string { return "classguard/policy: allow rule (masked)" }

// Is reports whether the target matches Allow.
func (e *maskedAllow) Is(err error) bool { return err == Allow }

// Columns returns the permitted column set.
func (e *maskedAllow) Columns() []string { return e.columns }

// maskedDeny is a Deny decision carrying the columns that caused the
// rejection.
type maskedDeny struct {
	columns []string
}

func (e *maskedDeny) Error() string {
	return fmt.Sprintf("classguard/policy: deny rule (columns: %v)", e.columns)
}

// Is reports whether the target matches Deny.
func (e *maskedDeny) Is(err error) bool { return err == Deny }

// Columns returns the offending column set.
func (e *maskedDeny) Columns() []string { return e.columns }

// AllowColumns returns an Allow decision restricted to the given columns.
func AllowColumns(columns ...string) error {
	return &maskedAllow{columns: columns}
}

// DenyColumns returns a Deny decision naming the offending columns.
func DenyColumns(columns ...string) error {
	return &maskedDeny{columns: columns}
}

// DecisionColumns extracts the column set attached to a decision, if any.
// The second return reports whether the decision carried a mask at all; a
// maskless Allow means all columns.
func DecisionColumns(err error) ([]string, bool) {
	type columner interface{ Columns() []string }
	var c columner
	if errors.As(err, &c) {
		return c.Columns(), true
	}
	return nil, false
}

// WithMask narrows a mutation rule to a column mask. When the inner rule
// allows, the requested columns are checked against the mask: a request
// touching any column outside it denies the whole write. Masks never union
// across rules; at most one masked rule matches a given actor because role
// membership is mutually exclusive.
func WithMask(rule MutationRule, mask ...string) MutationRule {
	allowed := make(map[string]struct{}, len(mask))
	for _, c := range mask {
		allowed[c] = struct{}{}
	}
	return MutationRuleFunc(func(ctx context.Context, m classguard.Mutation) error {
		decision := rule.EvalMutation(ctx, m)
		if !errors.Is(decision, Allow) {
			return decision
		}
		var denied []string
		for _, col := range m.Columns {
			if _, ok := allowed[col]; !ok {
				denied = append(denied, col)
			}
		}
		if len(denied) > 0 {
			return DenyColumns(denied...)
		}
		return AllowColumns(mask...)
	})
}

// AlwaysAllowRule returns a rule that always allows.
func AlwaysAllowRule() QueryMutationRule {
	return fixedDecision{Allow}
}

// AlwaysDenyRule returns a rule that always denies.
func AlwaysDenyRule() QueryMutationRule {
	return fixedDecision{Deny}
}

// ContextRule creates a query/mutation rule from a context evaluation
// function. Returning nil is equivalent to returning Skip.
func ContextRule(eval func(context.Context) error) QueryMutationRule {
	return contextDecision{eval}
}

type fixedDecision struct {
	decision error
}

func (f fixedDecision) EvalQuery(context.Context, classguard.Record) error {
	return f.decision
}

func (f fixedDecision) EvalMutation(context.Context, classguard.Mutation) error {
	return f.decision
}

type contextDecision struct {
	eval func(context.Context) error
}

func (c contextDecision) EvalQuery(ctx context.Context, _ classguard.Record) error {
	return c.eval(ctx)
}

func (c contextDecision) EvalMutation(ctx context.Context, _ classguard.Mutation) error {
	return c.eval(ctx)
}
