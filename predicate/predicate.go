package predicate

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/journeyhq/journey/model"
	"github.com/oliveagle/jsonpath"
)

// Scope is the read-only evaluation context a predicate sees. The engine
// populates "contact" with a property snapshot, "vars" with instance
// variables and, when applicable, "event" or "change" with the triggering
// notification.
type Scope = map[string]any

// Eval decides a predicate against a scope. Evaluation is pure: the scope is
// never mutated and the same inputs always produce the same answer.
func Eval(p *model.Predicate, scope Scope) (bool, error) {
	if p == nil {
		return true, nil
	}
	switch {
	case len(p.All) > 0:
		for i := range p.All {
			ok, err := Eval(&p.All[i], scope)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case len(p.Any) > 0:
		for i := range p.Any {
			ok, err := Eval(&p.Any[i], scope)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case p.Not != nil:
		ok, err := Eval(p.Not, scope)
		return !ok, err
	case p.Expr != "":
		return evalExpr(p.Expr, scope)
	case p.Path != "":
		return evalPath(p, scope)
	}
	return false, fmt.Errorf("empty predicate")
}

func evalExpr(expr string, scope Scope) (bool, error) {
	vm := goja.New()
	if err := vm.Set("$", scope); err != nil {
		return false, err
	}
	value, err := vm.RunString(expr)
	if err != nil {
		return false, fmt.Errorf("error evaluating expression %q: %w", expr, err)
	}
	return value.ToBoolean(), nil
}

func evalPath(p *model.Predicate, scope Scope) (bool, error) {
	value, err := jsonpath.JsonPathLookup(scope, p.Path)
	if p.Op == model.OP_EXISTS {
		return err == nil && value != nil, nil
	}
	if err != nil {
		// missing path is a non-match, not an evaluation failure
		return false, nil
	}
	switch p.Op {
	case model.OP_EQ:
		return equal(value, p.Value), nil
	case model.OP_NEQ:
		return !equal(value, p.Value), nil
	case model.OP_GT, model.OP_GTE, model.OP_LT, model.OP_LTE:
		return compare(p.Op, value, p.Value)
	case model.OP_CONTAINS:
		return contains(value, p.Value), nil
	}
	return false, fmt.Errorf("unknown predicate op %q", p.Op)
}

func equal(a, b any) bool {
	if af, aok := asNumber(a); aok {
		if bf, bok := asNumber(b); bok {
			return af == bf
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func compare(op model.PredicateOp, a, b any) (bool, error) {
	af, aok := asNumber(a)
	bf, bok := asNumber(b)
	if !aok || !bok {
		return false, fmt.Errorf("non numeric comparison for op %q", op)
	}
	switch op {
	case model.OP_GT:
		return af > bf, nil
	case model.OP_GTE:
		return af >= bf, nil
	case model.OP_LT:
		return af < bf, nil
	case model.OP_LTE:
		return af <= bf, nil
	}
	return false, fmt.Errorf("unknown comparison op %q", op)
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, fmt.Sprintf("%v", needle))
	case []any:
		for _, item := range h {
			if equal(item, needle) {
				return true
			}
		}
	}
	return false
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
