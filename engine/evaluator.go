// Package engine evaluates policy decisions for the data-access gateway:
// single-row and batch read filtering, write authorization with column
// masks, and the mutation guard that makes check and write one atomic unit.
package engine

import (
	"context"
	"errors"

	"github.com/classguard/classguard"
	"github.com/classguard/classguard/policy"
)

// Evaluator applies the policy set to candidate rows and mutations.
// Evaluation is a pure function of (actor, row, relationship snapshot):
// it holds no per-call state and may run fully in parallel across
// unrelated rows.
type Evaluator struct {
	set *policy.Set
}

// New returns an evaluator over the given policy set.
func New(set *policy.Set) *Evaluator {
	return &Evaluator{set: set}
}

// Set returns the policy set the evaluator runs, for version reporting.
func (e *Evaluator) Set() *policy.Set {
	return e.set
}

// Evaluate decides a single actor/row/operation triple. For reads the
// decision reports visibility; for writes it reports whether the operation
// would be allowed with the requested columns. Denial is a decision, not
// an error: the only errors returned are dependency faults.
func (e *Evaluator) Evaluate(ctx context.Context, actor classguard.Actor, rec classguard.Record, op classguard.Op, columns ...string) (classguard.Decision, error) {
	if op.Is(classguard.OpRead) {
		return e.evaluateRead(ctx, actor, rec)
	}
	cols, err := e.AuthorizeWrite(ctx, actor, classguard.Mutation{Op: op, Record: rec, Columns: columns})
	switch {
	case err == nil:
		return classguard.Decision{Allowed: true, Columns: cols}, nil
	case classguard.IsDenied(err):
		return classguard.Decision{}, nil
	default:
		return classguard.Decision{}, err
	}
}

func (e *Evaluator) evaluateRead(ctx context.Context, actor classguard.Actor, rec classguard.Record) (classguard.Decision, error) {
	decision := e.set.EvalQuery(policy.WithActor(ctx, actor), rec)
	switch {
	case decision == nil, errors.Is(decision, policy.Deny):
		return classguard.Decision{}, nil
	case errors.Is(decision, policy.Allow):
		cols, _ := policy.DecisionColumns(decision)
		return classguard.Decision{Visible: true, Columns: cols}, nil
	case classguard.IsInvalidReference(decision):
		// A dangling relationship makes the row invisible, never a
		// crash.
		return classguard.Decision{}, nil
	case policy.IsDecision(decision):
		return classguard.Decision{}, nil
	default:
		return classguard.Decision{}, fault(decision)
	}
}

// FilterRows returns the subset of rows visible to the actor, preserving
// input order. No visible rows is an empty result, never an error, so
// record existence cannot leak through error-versus-empty distinctions.
func (e *Evaluator) FilterRows(ctx context.Context, actor classguard.Actor, rows []classguard.Record) ([]classguard.Record, error) {
	visible := make([]classguard.Record, 0, len(rows))
	for _, rec := range rows {
		d, err := e.Evaluate(ctx, actor, rec, classguard.OpRead)
		if err != nil {
			return nil, err
		}
		if d.Visible {
			visible = append(visible, rec)
		}
	}
	return visible, nil
}

// AuthorizeWrite evaluates a mutation and returns the columns the matched
// rule permits (nil means unrestricted). A rejected write returns a
// DeniedError covering the whole operation; partial writes are never
// silently dropped. Dependency faults propagate distinctly and are never
// reported as denial.
func (e *Evaluator) AuthorizeWrite(ctx context.Context, actor classguard.Actor, m classguard.Mutation) ([]string, error) {
	decision := e.set.EvalMutation(policy.WithActor(ctx, actor), m)
	switch {
	case errors.Is(decision, policy.Allow):
		cols, _ := policy.DecisionColumns(decision)
		return cols, nil
	case decision == nil:
		return nil, classguard.NewDeniedError(m.Table(), m.Op, "no policy permits this operation")
	case errors.Is(decision, policy.Deny):
		if cols, ok := policy.DecisionColumns(decision); ok {
			return nil, classguard.NewDeniedError(m.Table(), m.Op, "requested columns outside permitted set", cols...)
		}
		return nil, classguard.NewDeniedError(m.Table(), m.Op, "")
	case policy.IsDecision(decision):
		return nil, classguard.NewDeniedError(m.Table(), m.Op, "")
	default:
		return nil, fault(decision)
	}
}

// fault normalizes a non-decision error from rule evaluation. Rules wrap
// their own collaborator failures; anything still untyped is a dependency
// fault by definition.
func fault(err error) error {
	if classguard.IsUnavailable(err) {
		return err
	}
	return classguard.NewUnavailableError("policy evaluation", err)
}
