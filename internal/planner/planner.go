// Package planner assigns recipes to days so that expiring food gets used,
// shopping stays small and meals vary. It also ranks quick suggestions
// without running the full optimization.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"meal-optimizer/internal/solver"
)

// Status is the outcome of a full solve.
type Status string

const (
	StatusOptimal    Status = "optimal"
	StatusNoSolution Status = "no_solution"
	StatusError      Status = "error"
)

// Result is what Optimize returns. Failures are reported here, never as a
// Go error.
type Result struct {
	Status      Status `json:"status"`
	SolveTimeMS int64  `json:"solve_time_ms"`
	// TimedOut is set on no_solution when the search ran out of time instead
	// of proving the problem infeasible.
	TimedOut bool      `json:"timed_out,omitempty"`
	Solution *Solution `json:"solution,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// ModelFactory creates a fresh constraint model for one solve.
type ModelFactory func() solver.Model

type options struct {
	logger   *zap.Logger
	newModel ModelFactory
	timeout  time.Duration
}

// Option customizes Optimize.
type Option func(*options)

// WithLogger logs each solve to l.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithModel replaces the search backend.
func WithModel(f ModelFactory) Option {
	return func(o *options) {
		if f != nil {
			o.newModel = f
		}
	}
}

// WithTimeout overrides the problem's timeout_ms.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// Optimize builds the constraint model for p, searches it under the problem's
// time budget and extracts the best plan.
func Optimize(ctx context.Context, p Problem, opts ...Option) Result {
	o := options{
		logger:   zap.NewNop(),
		newModel: func() solver.Model { return solver.NewSearch() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	timeout := o.timeout
	if timeout <= 0 {
		ms := p.TimeoutMS
		if ms <= 0 {
			ms = DefaultTimeoutMS
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	inst := normalize(p)
	m := o.newModel()
	dv := encode(m, inst)
	m.Maximize(composeObjective(inst, dv))

	solveCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	asg, err := m.Solve(solveCtx)
	elapsed := time.Since(start).Milliseconds()

	logger := o.logger.With(
		zap.Int("recipes", len(inst.recipes)),
		zap.Int("days", inst.days),
		zap.Int("variables", m.NumVars()),
		zap.Int("constraints", m.NumConstraints()),
	)

	if err != nil {
		logger.Error("Solve failed", zap.Error(err))
		return Result{Status: StatusError, Error: err.Error()}
	}
	if asg == nil {
		logger.Error("Solve returned no assignment")
		return Result{Status: StatusError, Error: "solver returned no assignment"}
	}

	logger = logger.With(
		zap.String("solver_status", asg.Status.String()),
		zap.Int64("nodes", asg.Nodes),
		zap.Int64("solve_time_ms", elapsed),
	)

	switch asg.Status {
	case solver.Optimal:
		sol := extract(inst, dv, asg)
		logger.Info("Solve finished",
			zap.Int64("objective", asg.Objective),
			zap.Int("meals", len(sol.MealPlan)),
			zap.Int("shopping_items", len(sol.ShoppingList)),
		)
		return Result{Status: StatusOptimal, SolveTimeMS: elapsed, Solution: sol}
	case solver.Infeasible:
		logger.Info("Problem is infeasible")
		return Result{Status: StatusNoSolution, SolveTimeMS: elapsed}
	default:
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logger.Warn("Solve canceled by caller")
			return Result{Status: StatusError, Error: "search canceled"}
		}
		logger.Warn("Solve stopped before converging")
		return Result{Status: StatusNoSolution, SolveTimeMS: elapsed, TimedOut: true}
	}
}

// Summary is a one-line description of a result for logs and chat replies.
func (r Result) Summary() string {
	switch r.Status {
	case StatusOptimal:
		if r.Solution == nil {
			return "optimal"
		}
		return fmt.Sprintf("optimal: %d meals, %d items to buy (%d ms)",
			len(r.Solution.MealPlan), len(r.Solution.ShoppingList), r.SolveTimeMS)
	case StatusNoSolution:
		if r.TimedOut {
			return fmt.Sprintf("no solution found within %d ms", r.SolveTimeMS)
		}
		return "no feasible plan"
	default:
		return "error: " + r.Error
	}
}
