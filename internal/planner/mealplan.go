package planner

import (
	"fmt"
	"strings"

	"meal-optimizer/internal/solver"
)

// MealPlanEntry is one planned meal.
type MealPlanEntry struct {
	Date       string `json:"date"`
	DayIndex   int    `json:"day_index"`
	MealType   string `json:"meal_type"`
	RecipeID   string `json:"recipe_id"`
	RecipeName string `json:"recipe_name"`
}

// ShoppingListItem is an ingredient that has to be bought.
type ShoppingListItem struct {
	IngredientID string `json:"ingredient_id"`
	Name         string `json:"name"`
	Quantity     int64  `json:"quantity"`
}

// Metrics summarize a solution.
type Metrics struct {
	ExpiringIngredientsUsed  int     `json:"expiring_ingredients_used"`
	TotalExpiringIngredients int     `json:"total_expiring_ingredients"`
	ShoppingItemsCount       int     `json:"shopping_items_count"`
	VarietyScore             float64 `json:"variety_score"`
	RecipesSelected          int     `json:"recipes_selected"`
}

// Solution is the extracted plan.
type Solution struct {
	MealPlan     []MealPlanEntry    `json:"meal_plan"`
	ShoppingList []ShoppingListItem `json:"shopping_list"`
	Metrics      Metrics            `json:"metrics"`
	Explanation  []string           `json:"explanation"`
}

func extract(inst *instance, dv *decisionVars, asg *solver.Assignment) *Solution {
	sol := &Solution{
		MealPlan:     []MealPlanEntry{},
		ShoppingList: []ShoppingListItem{},
		Explanation:  []string{},
	}

	selected := make(map[int]bool)
	for d := 0; d < inst.days; d++ {
		for r, rec := range inst.recipes {
			if !asg.Bool(dv.assign[r][d]) {
				continue
			}
			selected[r] = true
			name := rec.Name
			if name == "" {
				name = "Unknown"
			}
			sol.MealPlan = append(sol.MealPlan, MealPlanEntry{
				Date:       inst.dateOf(d),
				DayIndex:   d,
				MealType:   inst.mealType,
				RecipeID:   rec.ID,
				RecipeName: name,
			})
		}
	}

	for _, id := range inst.ingredients {
		qty, err := asg.Value(dv.buy[id])
		if err != nil || qty <= 0 {
			continue
		}
		name := inst.names[id]
		if name == "" {
			name = "Unknown"
		}
		sol.ShoppingList = append(sol.ShoppingList, ShoppingListItem{
			IngredientID: id,
			Name:         name,
			Quantity:     qty,
		})
	}

	used := make(map[string]bool)
	for r := range selected {
		for _, ing := range inst.recipes[r].Ingredients {
			used[ing.IngredientID] = true
		}
	}
	for _, item := range inst.inventory {
		if !item.ExpiresWithin(ExpiringThresholdDays) {
			continue
		}
		sol.Metrics.TotalExpiringIngredients++
		if used[item.IngredientID] {
			sol.Metrics.ExpiringIngredientsUsed++
		}
	}
	sol.Metrics.RecipesSelected = len(selected)
	sol.Metrics.ShoppingItemsCount = len(sol.ShoppingList)
	sol.Metrics.VarietyScore = float64(len(selected)) / float64(max(inst.days, 1))

	for _, entry := range sol.MealPlan {
		rec := inst.recipes[inst.byID[entry.RecipeID]]
		if names := inst.expiringNames(rec); len(names) > 0 {
			sol.Explanation = append(sol.Explanation, fmt.Sprintf(
				"Selected '%s' for day %d to use %s expiring soon",
				entry.RecipeName, entry.DayIndex+1, strings.Join(names, ", ")))
		}
	}
	return sol
}

// expiringNames lists the expiring inventory rows a recipe would use.
func (inst *instance) expiringNames(rec Recipe) []string {
	var names []string
	for _, ing := range rec.Ingredients {
		for _, item := range inst.inventory {
			if item.IngredientID != ing.IngredientID || !item.ExpiresWithin(ExpiringThresholdDays) {
				continue
			}
			name := item.Name
			if name == "" {
				name = "item"
			}
			names = append(names, name)
		}
	}
	return names
}
