package model

type PredicateOp string

const OP_EQ PredicateOp = "eq"
const OP_NEQ PredicateOp = "neq"
const OP_GT PredicateOp = "gt"
const OP_GTE PredicateOp = "gte"
const OP_LT PredicateOp = "lt"
const OP_LTE PredicateOp = "lte"
const OP_CONTAINS PredicateOp = "contains"
const OP_EXISTS PredicateOp = "exists"

// Predicate is a declarative condition over an evaluation scope. Exactly one
// of Path/Op, Expr, All, Any or Not is set. Path predicates use jsonpath
// against the scope, Expr predicates run a javascript expression with the
// scope bound to $. Predicates carry no closures so definitions can be
// serialized and replayed.
type Predicate struct {
	Path  string      `json:"path,omitempty"`
	Op    PredicateOp `json:"op,omitempty"`
	Value any         `json:"value,omitempty"`

	Expr string `json:"expr,omitempty"`

	All []Predicate `json:"all,omitempty"`
	Any []Predicate `json:"any,omitempty"`
	Not *Predicate  `json:"not,omitempty"`
}
