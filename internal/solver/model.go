// Package solver defines a small integer constraint model and the search
// backends able to optimize it.
//
// A model holds boolean and bounded integer variables, linear constraints
// over them, and one linear objective to maximize. Encoders only talk to the
// Model interface, so a backend can be swapped without touching them.
package solver

import (
	"context"
	"errors"
	"fmt"
)

// Var identifies a decision variable inside the model that created it.
type Var int

// Term is a single coef*var product.
type Term struct {
	Var  Var
	Coef int64
}

// Expr is a linear expression: the sum of its terms.
type Expr []Term

// Sum builds an expression with coefficient 1 on every variable.
func Sum(vars ...Var) Expr {
	e := make(Expr, 0, len(vars))
	for _, v := range vars {
		e = append(e, Term{Var: v, Coef: 1})
	}
	return e
}

// Plus returns e with coef*v appended.
func (e Expr) Plus(v Var, coef int64) Expr {
	return append(e, Term{Var: v, Coef: coef})
}

// Scale returns a copy of e with every coefficient multiplied by k.
func (e Expr) Scale(k int64) Expr {
	out := make(Expr, len(e))
	for i, t := range e {
		out[i] = Term{Var: t.Var, Coef: t.Coef * k}
	}
	return out
}

// Op is the comparison of a linear constraint.
type Op int

const (
	LE Op = iota
	EQ
	GE
)

func (o Op) String() string {
	switch o {
	case LE:
		return "<="
	case EQ:
		return "=="
	case GE:
		return ">="
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Constraint is Expr Op RHS.
type Constraint struct {
	Expr Expr
	Op   Op
	RHS  int64
}

// Le is shorthand for e <= rhs.
func Le(e Expr, rhs int64) Constraint { return Constraint{Expr: e, Op: LE, RHS: rhs} }

// Eq is shorthand for e == rhs.
func Eq(e Expr, rhs int64) Constraint { return Constraint{Expr: e, Op: EQ, RHS: rhs} }

// Ge is shorthand for e >= rhs.
func Ge(e Expr, rhs int64) Constraint { return Constraint{Expr: e, Op: GE, RHS: rhs} }

// Status reports how a solve ended.
type Status int

const (
	// Unknown means the search stopped (deadline, cancellation or node limit)
	// before proving optimality or infeasibility.
	Unknown Status = iota
	// Optimal means a best assignment was found and proven.
	Optimal
	// Infeasible means no assignment satisfies the constraints.
	Infeasible
)

func (s Status) String() string {
	switch s {
	case Optimal:
		return "optimal"
	case Infeasible:
		return "infeasible"
	default:
		return "unknown"
	}
}

// ErrNoValue is returned by Assignment.Value when the variable has no
// concrete value in the assignment.
var ErrNoValue = errors.New("variable has no value")

// Assignment is the outcome of Solve.
type Assignment struct {
	Status    Status
	Objective int64
	// Nodes is the number of search nodes visited.
	Nodes int64

	values []int64
}

// Value returns the value of v in the best assignment found.
func (a *Assignment) Value(v Var) (int64, error) {
	if a == nil || a.values == nil {
		return 0, ErrNoValue
	}
	if int(v) < 0 || int(v) >= len(a.values) {
		return 0, fmt.Errorf("%w: var %d out of range", ErrNoValue, v)
	}
	return a.values[v], nil
}

// Bool is Value interpreted as a boolean. Unresolvable variables read false.
func (a *Assignment) Bool(v Var) bool {
	val, err := a.Value(v)
	return err == nil && val != 0
}

// Model is a constraint model under construction.
type Model interface {
	// NewBool creates a 0/1 variable.
	NewBool(name string) Var
	// NewInt creates an integer variable with the inclusive domain [lo, hi].
	NewInt(name string, lo, hi int64) Var
	// Add posts a linear constraint.
	Add(c Constraint)
	// Maximize sets the objective. A later call replaces the earlier one.
	Maximize(obj Expr)
	// NumVars and NumConstraints describe the model size.
	NumVars() int
	NumConstraints() int
	// Solve searches for an optimal assignment until ctx is done. The error
	// is reserved for backend failures; running out of time is reported as
	// Status Unknown.
	Solve(ctx context.Context) (*Assignment, error)
}
