package policy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classguard/classguard"
	"github.com/classguard/classguard/policy"
	"github.com/classguard/classguard/schema"
)

func student(id string) classguard.Actor {
	return classguard.Actor{ID: id, Role: classguard.RoleStudent}
}

func teacher(id string) classguard.Actor {
	return classguard.Actor{ID: id, Role: classguard.RoleTeacher}
}

func actorCtx(a classguard.Actor) context.Context {
	return policy.WithActor(context.Background(), a)
}

func TestDecisionErrors(t *testing.T) {
	tests := []struct {
		name      string
		decision  error
		wantAllow bool
		wantDeny  bool
		wantSkip  bool
	}{
		{name: "allow", decision: policy.Allow, wantAllow: true},
		{name: "deny", decision: policy.Deny, wantDeny: true},
		{name: "skip", decision: policy.Skip, wantSkip: true},
		{name: "allowf", decision: policy.Allowf("actor %s allowed", "t-1"), wantAllow: true},
		{name: "denyf", decision: policy.Denyf("actor %s denied", "anon"), wantDeny: true},
		{name: "skipf", decision: policy.Skipf("rule %d skipped", 1), wantSkip: true},
		{name: "allow_columns", decision: policy.AllowColumns("completion_percentage"), wantAllow: true},
		{name: "deny_columns", decision: policy.DenyColumns("grade"), wantDeny: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantAllow, errors.Is(tt.decision, policy.Allow))
			assert.Equal(t, tt.wantDeny, errors.Is(tt.decision, policy.Deny))
			assert.Equal(t, tt.wantSkip, errors.Is(tt.decision, policy.Skip))
			assert.True(t, policy.IsDecision(tt.decision))
		})
	}

	t.Run("fault_is_not_a_decision", func(t *testing.T) {
		assert.False(t, policy.IsDecision(errors.New("connection refused")))
		assert.False(t, policy.IsDecision(classguard.ErrUnavailable))
	})
}

func TestDecisionColumns(t *testing.T) {
	t.Run("allow_with_mask", func(t *testing.T) {
		cols, ok := policy.DecisionColumns(policy.AllowColumns("a", "b"))
		require.True(t, ok)
		assert.Equal(t, []string{"a", "b"}, cols)
	})

	t.Run("deny_with_columns", func(t *testing.T) {
		cols, ok := policy.DecisionColumns(policy.DenyColumns("grade"))
		require.True(t, ok)
		assert.Equal(t, []string{"grade"}, cols)
	})

	t.Run("plain_allow_has_no_mask", func(t *testing.T) {
		_, ok := policy.DecisionColumns(policy.Allow)
		assert.False(t, ok)
	})
}

func TestChainEvaluation(t *testing.T) {
	rec := &schema.User{ID: "u-1", Role: classguard.RoleStudent}
	ctx := actorCtx(student("u-1"))

	t.Run("first_allow_wins", func(t *testing.T) {
		chain := policy.QueryPolicy{
			policy.QueryRuleFunc(func(context.Context, classguard.Record) error { return policy.Skip }),
			policy.AlwaysAllowRule(),
			policy.AlwaysDenyRule(),
		}
		assert.True(t, errors.Is(chain.EvalQuery(ctx, rec), policy.Allow))
	})

	t.Run("first_deny_wins", func(t *testing.T) {
		chain := policy.QueryPolicy{
			policy.AlwaysDenyRule(),
			policy.AlwaysAllowRule(),
		}
		assert.True(t, errors.Is(chain.EvalQuery(ctx, rec), policy.Deny))
	})

	t.Run("exhausted_chain_is_no_decision", func(t *testing.T) {
		chain := policy.QueryPolicy{
			policy.QueryRuleFunc(func(context.Context, classguard.Record) error { return policy.Skip }),
			policy.QueryRuleFunc(func(context.Context, classguard.Record) error { return nil }),
		}
		assert.NoError(t, chain.EvalQuery(ctx, rec))
	})

	t.Run("fault_terminates_chain", func(t *testing.T) {
		fault := classguard.NewUnavailableError("lookup", errors.New("down"))
		chain := policy.MutationPolicy{
			policy.MutationRuleFunc(func(context.Context, classguard.Mutation) error { return fault }),
			policy.AlwaysAllowRule(),
		}
		err := chain.EvalMutation(ctx, classguard.Mutation{Op: classguard.OpUpdate, Record: rec})
		assert.True(t, classguard.IsUnavailable(err))
	})
}

func TestOnOperation(t *testing.T) {
	rule := policy.OnOperation(policy.AlwaysDenyRule(), classguard.OpDelete)
	ctx := actorCtx(teacher("t-1"))
	rec := &schema.Classroom{ID: "c-1", TeacherID: "t-1"}

	err := rule.EvalMutation(ctx, classguard.Mutation{Op: classguard.OpDelete, Record: rec})
	assert.True(t, errors.Is(err, policy.Deny))

	err = rule.EvalMutation(ctx, classguard.Mutation{Op: classguard.OpUpdate, Record: rec})
	assert.True(t, errors.Is(err, policy.Skip))
}

func TestWithMask(t *testing.T) {
	base := policy.MutationRuleFunc(func(context.Context, classguard.Mutation) error { return policy.Allow })
	rule := policy.WithMask(base, schema.ProgressFieldCompletionPercentage, schema.ProgressFieldStatus)
	ctx := actorCtx(student("u-1"))
	rec := &schema.Progress{ID: "p-1", UserID: "u-1"}

	t.Run("within_mask", func(t *testing.T) {
		m := classguard.Mutation{
			Op:      classguard.OpUpdate,
			Record:  rec,
			Columns: []string{schema.ProgressFieldCompletionPercentage},
		}
		err := rule.EvalMutation(ctx, m)
		require.True(t, errors.Is(err, policy.Allow))
		cols, ok := policy.DecisionColumns(err)
		require.True(t, ok)
		assert.Equal(t, []string{schema.ProgressFieldCompletionPercentage, schema.ProgressFieldStatus}, cols)
	})

	t.Run("masked_column_denies_whole_write", func(t *testing.T) {
		// completion_percentage alone would be fine; grade alongside it
		// rejects the entire request, nothing is partially applied.
		m := classguard.Mutation{
			Op:      classguard.OpUpdate,
			Record:  rec,
			Columns: []string{schema.ProgressFieldCompletionPercentage, schema.ProgressFieldGrade},
		}
		err := rule.EvalMutation(ctx, m)
		require.True(t, errors.Is(err, policy.Deny))
		cols, ok := policy.DecisionColumns(err)
		require.True(t, ok)
		assert.Equal(t, []string{schema.ProgressFieldGrade}, cols)
	})

	t.Run("inner_skip_passes_through", func(t *testing.T) {
		skip := policy.MutationRuleFunc(func(context.Context, classguard.Mutation) error { return policy.Skip })
		err := policy.WithMask(skip, "a").EvalMutation(ctx, classguard.Mutation{Op: classguard.OpUpdate, Record: rec})
		assert.True(t, errors.Is(err, policy.Skip))
	})

	t.Run("inner_deny_passes_through", func(t *testing.T) {
		deny := policy.MutationRuleFunc(func(context.Context, classguard.Mutation) error { return policy.Deny })
		err := policy.WithMask(deny, "a").EvalMutation(ctx, classguard.Mutation{Op: classguard.OpUpdate, Record: rec})
		assert.True(t, errors.Is(err, policy.Deny))
	})
}

func TestRequireAll(t *testing.T) {
	allow := policy.MutationRuleFunc(func(context.Context, classguard.Mutation) error { return policy.Allow })
	skip := policy.MutationRuleFunc(func(context.Context, classguard.Mutation) error { return policy.Skip })
	deny := policy.MutationRuleFunc(func(context.Context, classguard.Mutation) error { return policy.Deny })
	ctx := actorCtx(student("u-1"))
	m := classguard.Mutation{Op: classguard.OpInsert, Record: &schema.Progress{ID: "p-1"}}

	assert.True(t, errors.Is(policy.RequireAll(allow, allow).EvalMutation(ctx, m), policy.Allow))
	assert.True(t, errors.Is(policy.RequireAll(allow, skip).EvalMutation(ctx, m), policy.Skip))
	assert.True(t, errors.Is(policy.RequireAll(allow, deny).EvalMutation(ctx, m), policy.Deny))
	assert.True(t, errors.Is(policy.RequireAll().EvalMutation(ctx, m), policy.Skip))
}

func TestActorContext(t *testing.T) {
	t.Run("round_trip", func(t *testing.T) {
		ctx := policy.WithActor(context.Background(), teacher("t-1"))
		assert.Equal(t, teacher("t-1"), policy.ActorFromContext(ctx))
	})

	t.Run("missing_actor_is_anonymous", func(t *testing.T) {
		assert.True(t, policy.ActorFromContext(context.Background()).IsAnonymous())
	})
}

func TestDenyIfAnonymous(t *testing.T) {
	rule := policy.DenyIfAnonymous()
	rec := &schema.User{ID: "u-1"}

	err := rule.EvalQuery(context.Background(), rec)
	assert.True(t, errors.Is(err, policy.Deny))

	err = rule.EvalQuery(actorCtx(student("u-1")), rec)
	assert.True(t, errors.Is(err, policy.Skip))
}
