package planner

import "meal-optimizer/internal/solver"

// scaleWeight turns a float weight into the integer multiplier used in the
// objective: w*100, truncated.
func scaleWeight(w float64) int64 {
	return int64(w * 100)
}

// recipeUrgency sums the urgency of each distinct ingredient of a recipe.
func (inst *instance) recipeUrgency(rec Recipe) int64 {
	var total int64
	seen := make(map[string]bool, len(rec.Ingredients))
	for _, ing := range rec.Ingredients {
		if seen[ing.IngredientID] {
			continue
		}
		seen[ing.IngredientID] = true
		total += inst.urgency[ing.IngredientID]
	}
	return total
}

// composeObjective builds
//
//	w_exp*sum(urgency(r)*select[r]) - w_shop*sum(buy[i]) + w_var*sum(select[r])
func composeObjective(inst *instance, dv *decisionVars) solver.Expr {
	wExp := scaleWeight(inst.weights.ExpiringPriority)
	wShop := scaleWeight(inst.weights.ShoppingMinimization)
	wVar := scaleWeight(inst.weights.Variety)

	obj := make(solver.Expr, 0, len(inst.recipes)+len(inst.ingredients))
	for r, rec := range inst.recipes {
		coef := wExp*inst.recipeUrgency(rec) + wVar
		obj = obj.Plus(dv.selected[r], coef)
	}
	for _, id := range inst.ingredients {
		obj = obj.Plus(dv.buy[id], -wShop)
	}
	return obj
}
