// Package pantry stores a user's inventory and recipe catalog and turns them
// into planner input.
package pantry

import (
	"context"
	"fmt"
	"time"

	"meal-optimizer/internal/planner"
)

// DefaultOwner is used by the CLI, which has no notion of users.
const DefaultOwner = "default"

// PlanRequest describes a solve over stored data.
type PlanRequest struct {
	Owner     string
	Start     time.Time
	Days      int
	MealTypes []string
	TimeoutMS int
}

// BuildProblem assembles a full-solve problem from owner's pantry.
func (r *Repository) BuildProblem(ctx context.Context, req PlanRequest) (planner.Problem, error) {
	inventory, err := r.Inventory(ctx, req.Owner, req.Start)
	if err != nil {
		return planner.Problem{}, fmt.Errorf("failed to load inventory: %w", err)
	}
	recipes, err := r.Recipes(ctx, req.Owner)
	if err != nil {
		return planner.Problem{}, fmt.Errorf("failed to load recipes: %w", err)
	}

	days := req.Days
	if days <= 0 {
		days = planner.DefaultDays
	}
	mealTypes := req.MealTypes
	if len(mealTypes) == 0 {
		mealTypes = []string{planner.DefaultMealType}
	}
	timeout := req.TimeoutMS
	if timeout <= 0 {
		timeout = planner.DefaultTimeoutMS
	}

	return planner.Problem{
		PlanningHorizon: planner.PlanningHorizon{
			StartDate: req.Start.Format("2006-01-02"),
			Days:      days,
			MealTypes: mealTypes,
		},
		Inventory: inventory,
		Recipes:   recipes,
		Weights:   planner.DefaultWeights(),
		TimeoutMS: timeout,
	}, nil
}

// Suggest ranks owner's recipes against the pantry as of now.
func (r *Repository) Suggest(ctx context.Context, owner string, now time.Time, mode string, limit int) ([]planner.Suggestion, error) {
	inventory, err := r.Inventory(ctx, owner, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load inventory: %w", err)
	}
	recipes, err := r.Recipes(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to load recipes: %w", err)
	}
	return planner.Suggest(inventory, recipes, mode, limit), nil
}
