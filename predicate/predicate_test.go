package predicate

import (
	"testing"

	"github.com/journeyhq/journey/model"
	"github.com/stretchr/testify/require"
)

func scope() Scope {
	return Scope{
		"contact": map[string]any{
			"newsletters_sent": float64(10),
			"plan":             "pro",
			"tags":             []any{"beta", "vip"},
		},
		"event": map[string]any{
			"type": "purchase",
			"payload": map[string]any{
				"amount": float64(49),
			},
		},
	}
}

func TestEvalPath(t *testing.T) {
	for name, tc := range map[string]struct {
		p    model.Predicate
		want bool
	}{
		"eq number":      {model.Predicate{Path: "$.contact.newsletters_sent", Op: model.OP_EQ, Value: 10}, true},
		"eq string":      {model.Predicate{Path: "$.contact.plan", Op: model.OP_EQ, Value: "pro"}, true},
		"neq":            {model.Predicate{Path: "$.contact.plan", Op: model.OP_NEQ, Value: "free"}, true},
		"gte":            {model.Predicate{Path: "$.event.payload.amount", Op: model.OP_GTE, Value: 49}, true},
		"lt false":       {model.Predicate{Path: "$.event.payload.amount", Op: model.OP_LT, Value: 10}, false},
		"contains slice": {model.Predicate{Path: "$.contact.tags", Op: model.OP_CONTAINS, Value: "vip"}, true},
		"exists":         {model.Predicate{Path: "$.contact.plan", Op: model.OP_EXISTS}, true},
		"missing path":   {model.Predicate{Path: "$.contact.unknown", Op: model.OP_EQ, Value: 1}, false},
	} {
		t.Run(name, func(t *testing.T) {
			got, err := Eval(&tc.p, scope())
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestEvalExpr(t *testing.T) {
	p := &model.Predicate{Expr: "$.contact.newsletters_sent >= 10 && $.event.type == 'purchase'"}
	got, err := Eval(p, scope())
	require.NoError(t, err)
	require.True(t, got)

	p = &model.Predicate{Expr: "$.contact.plan == 'free'"}
	got, err = Eval(p, scope())
	require.NoError(t, err)
	require.False(t, got)
}

func TestEvalCompound(t *testing.T) {
	p := &model.Predicate{
		All: []model.Predicate{
			{Path: "$.contact.plan", Op: model.OP_EQ, Value: "pro"},
			{Any: []model.Predicate{
				{Path: "$.event.type", Op: model.OP_EQ, Value: "signup"},
				{Path: "$.event.type", Op: model.OP_EQ, Value: "purchase"},
			}},
		},
	}
	got, err := Eval(p, scope())
	require.NoError(t, err)
	require.True(t, got)

	p = &model.Predicate{Not: &model.Predicate{Path: "$.contact.plan", Op: model.OP_EQ, Value: "pro"}}
	got, err = Eval(p, scope())
	require.NoError(t, err)
	require.False(t, got)
}

func TestNilPredicateIsTrue(t *testing.T) {
	got, err := Eval(nil, scope())
	require.NoError(t, err)
	require.True(t, got)
}

func TestEmptyPredicateIsError(t *testing.T) {
	_, err := Eval(&model.Predicate{}, scope())
	require.Error(t, err)
}
