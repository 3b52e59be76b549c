package planner

import (
	"fmt"

	"meal-optimizer/internal/solver"
)

// decisionVars are the handles the encoder created for one solve.
type decisionVars struct {
	selected []solver.Var
	// assign is indexed [recipe][day].
	assign [][]solver.Var
	buy    map[string]solver.Var
}

// encode creates the variable space and the structural constraints.
func encode(m solver.Model, inst *instance) *decisionVars {
	dv := &decisionVars{
		selected: make([]solver.Var, len(inst.recipes)),
		assign:   make([][]solver.Var, len(inst.recipes)),
		buy:      make(map[string]solver.Var, len(inst.ingredients)),
	}

	for r, rec := range inst.recipes {
		dv.selected[r] = m.NewBool(fmt.Sprintf("select_%s", rec.ID))
		dv.assign[r] = make([]solver.Var, inst.days)
		for d := 0; d < inst.days; d++ {
			dv.assign[r][d] = m.NewBool(fmt.Sprintf("assign_%s_%d", rec.ID, d))
		}
	}

	demand := make(map[string]solver.Expr, len(inst.ingredients))
	ceiling := make(map[string]int64, len(inst.ingredients))
	for r, rec := range inst.recipes {
		for _, ing := range rec.Ingredients {
			q := fixedPoint(ing.Quantity)
			demand[ing.IngredientID] = demand[ing.IngredientID].Plus(dv.selected[r], q)
			ceiling[ing.IngredientID] += q
		}
	}
	for _, id := range inst.ingredients {
		dv.buy[id] = m.NewInt(fmt.Sprintf("buy_%s", id), 0, wholeUnits(ceiling[id]))
	}

	// select[r] is true exactly when r lands on some day. With at most one
	// day per recipe the disjunction is a linear equality.
	for r := range inst.recipes {
		m.Add(solver.Eq(solver.Sum(dv.assign[r]...).Plus(dv.selected[r], -1), 0))
	}

	for d := 0; d < inst.days; d++ {
		day := make([]solver.Var, len(inst.recipes))
		for r := range inst.recipes {
			day[r] = dv.assign[r][d]
		}
		m.Add(solver.Le(solver.Sum(day...), 1))
	}

	for r := range inst.recipes {
		m.Add(solver.Le(solver.Sum(dv.assign[r]...), 1))
	}

	// Implied by the per-day limit; it lets the search bound the objective.
	if len(inst.recipes) > 0 {
		m.Add(solver.Le(solver.Sum(dv.selected...), int64(inst.days)))
	}

	for _, lock := range inst.constraints.LockedMeals {
		d, ok := inst.dayIndex(lock.Date)
		if !ok {
			continue
		}
		locked, ok := inst.byID[lock.RecipeID]
		if !ok {
			continue
		}
		for r := range inst.recipes {
			if r == locked {
				m.Add(solver.Eq(solver.Sum(dv.assign[r][d]), 1))
			} else {
				m.Add(solver.Eq(solver.Sum(dv.assign[r][d]), 0))
			}
		}
	}

	for date, budget := range inst.constraints.TimeBudgets {
		d, ok := inst.dayIndex(date)
		if !ok {
			continue
		}
		for r, rec := range inst.recipes {
			if rec.TotalTime() > budget {
				m.Add(solver.Eq(solver.Sum(dv.assign[r][d]), 0))
			}
		}
	}

	// demand(i) <= available(i) + buy(i), with buy counted in whole units.
	for _, id := range inst.ingredients {
		m.Add(solver.Le(demand[id].Plus(dv.buy[id], -quantityScale), inst.available[id]))
	}
	return dv
}
