package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meal-optimizer/internal/solver"
)

func intPtr(v int) *int { return &v }

func milkProblem(milk float64) Problem {
	return Problem{
		PlanningHorizon: PlanningHorizon{Days: 2, MealTypes: []string{"dinner"}},
		Inventory: []InventoryItem{
			{IngredientID: "milk", Name: "Milk", Quantity: milk, Unit: "l", DaysUntilExpiry: intPtr(2)},
		},
		Recipes: []Recipe{
			{ID: "r1", Name: "Milk Pancakes", Ingredients: []RecipeIngredient{{IngredientID: "milk", Quantity: 1}}},
			{ID: "r2", Name: "Dry Toast"},
		},
		Weights:   DefaultWeights(),
		TimeoutMS: DefaultTimeoutMS,
	}
}

func countRecipe(sol *Solution, id string) int {
	var n int
	for _, e := range sol.MealPlan {
		if e.RecipeID == id {
			n++
		}
	}
	return n
}

func TestOptimize_ExpiryDrivenSelection(t *testing.T) {
	res := Optimize(context.Background(), milkProblem(1))

	require.Equal(t, StatusOptimal, res.Status)
	require.NotNil(t, res.Solution)
	assert.Equal(t, 1, countRecipe(res.Solution, "r1"))
	assert.Empty(t, res.Solution.ShoppingList)
	assert.Equal(t, 1, res.Solution.Metrics.ExpiringIngredientsUsed)
	assert.Equal(t, 1, res.Solution.Metrics.TotalExpiringIngredients)
	assert.False(t, res.TimedOut)
}

func TestOptimize_ForcedShopping(t *testing.T) {
	res := Optimize(context.Background(), milkProblem(0))

	require.Equal(t, StatusOptimal, res.Status)
	sol := res.Solution
	require.Equal(t, 1, countRecipe(sol, "r1"))
	require.Len(t, sol.ShoppingList, 1)
	assert.Equal(t, "milk", sol.ShoppingList[0].IngredientID)
	assert.Equal(t, "Milk", sol.ShoppingList[0].Name)
	assert.GreaterOrEqual(t, sol.ShoppingList[0].Quantity, int64(1))
	assert.Equal(t, 1, sol.Metrics.ShoppingItemsCount)
}

func flourProblem(flour float64) Problem {
	return Problem{
		PlanningHorizon: PlanningHorizon{Days: 2},
		Inventory:       []InventoryItem{{IngredientID: "flour", Name: "Flour", Quantity: flour}},
		Recipes: []Recipe{
			{ID: "a", Name: "Crepes", Ingredients: []RecipeIngredient{{IngredientID: "flour", Quantity: 1.25}}},
			{ID: "b", Name: "Scones", Ingredients: []RecipeIngredient{{IngredientID: "flour", Quantity: 1.25}}},
		},
		Weights:   DefaultWeights(),
		TimeoutMS: DefaultTimeoutMS,
	}
}

func TestOptimize_FractionalStockCoversExactDemand(t *testing.T) {
	res := Optimize(context.Background(), flourProblem(2.5))

	require.Equal(t, StatusOptimal, res.Status)
	assert.Len(t, res.Solution.MealPlan, 2)
	assert.Empty(t, res.Solution.ShoppingList)
}

func TestOptimize_FractionalShortfallBuysWholeUnits(t *testing.T) {
	p := flourProblem(2.4)
	p.Weights.Variety = 1

	res := Optimize(context.Background(), p)

	require.Equal(t, StatusOptimal, res.Status)
	assert.Len(t, res.Solution.MealPlan, 2)
	assert.Equal(t, []ShoppingListItem{{IngredientID: "flour", Name: "Flour", Quantity: 1}}, res.Solution.ShoppingList)
}

func TestFixedPoint(t *testing.T) {
	assert.Equal(t, int64(2500), fixedPoint(2.5))
	assert.Equal(t, int64(100), fixedPoint(0.1))
	assert.Equal(t, int64(0), fixedPoint(-1))
	assert.Equal(t, int64(1), wholeUnits(100))
	assert.Equal(t, int64(3), wholeUnits(2001))
	assert.Equal(t, int64(2), wholeUnits(2000))
	assert.Equal(t, int64(0), wholeUnits(0))
}

func randomProblem(rng *rand.Rand) Problem {
	ids := []string{"milk", "eggs", "flour", "rice", "beans", "spinach"}
	p := Problem{
		PlanningHorizon: PlanningHorizon{StartDate: "2024-05-06", Days: 1 + rng.Intn(5)},
		Weights:         DefaultWeights(),
		TimeoutMS:       DefaultTimeoutMS,
	}
	for _, id := range ids {
		if rng.Intn(3) == 0 {
			continue
		}
		item := InventoryItem{IngredientID: id, Name: id, Quantity: float64(rng.Intn(4))}
		if rng.Intn(2) == 0 {
			item.DaysUntilExpiry = intPtr(rng.Intn(10) - 1)
		}
		p.Inventory = append(p.Inventory, item)
	}
	for r := 0; r < 3+rng.Intn(6); r++ {
		rec := Recipe{ID: fmt.Sprintf("r%d", r), Name: fmt.Sprintf("Recipe %d", r), PrepTime: 10 * rng.Intn(4)}
		for k := 0; k < rng.Intn(4); k++ {
			rec.Ingredients = append(rec.Ingredients, RecipeIngredient{
				IngredientID: ids[rng.Intn(len(ids))],
				Quantity:     0.5 + float64(rng.Intn(3)),
			})
		}
		p.Recipes = append(p.Recipes, rec)
	}
	return p
}

func TestOptimize_SolutionInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 40; i++ {
		p := randomProblem(rng)
		res := Optimize(context.Background(), p)
		require.Equal(t, StatusOptimal, res.Status, "problem %d", i)
		sol := res.Solution

		days := make(map[int]bool)
		recipes := make(map[string]bool)
		for _, e := range sol.MealPlan {
			assert.False(t, days[e.DayIndex], "problem %d: day %d double-booked", i, e.DayIndex)
			assert.False(t, recipes[e.RecipeID], "problem %d: recipe %s repeated", i, e.RecipeID)
			days[e.DayIndex] = true
			recipes[e.RecipeID] = true
			assert.GreaterOrEqual(t, e.DayIndex, 0)
			assert.Less(t, e.DayIndex, p.PlanningHorizon.Days)
		}

		consumed := make(map[string]float64)
		for _, rec := range p.Recipes {
			if !recipes[rec.ID] {
				continue
			}
			for _, ing := range rec.Ingredients {
				consumed[ing.IngredientID] += ing.Quantity
			}
		}
		supply := make(map[string]float64)
		for _, item := range p.Inventory {
			supply[item.IngredientID] += item.Quantity
		}
		for _, item := range sol.ShoppingList {
			assert.Greater(t, item.Quantity, int64(0))
			supply[item.IngredientID] += float64(item.Quantity)
		}
		for id, need := range consumed {
			assert.LessOrEqual(t, need, supply[id], "problem %d: ingredient %s", i, id)
		}
		assert.Equal(t, len(recipes), sol.Metrics.RecipesSelected)
	}
}

func TestOptimize_LockedMeal(t *testing.T) {
	p := Problem{
		PlanningHorizon: PlanningHorizon{StartDate: "2024-01-01", Days: 3},
		Inventory: []InventoryItem{
			{IngredientID: "fish", Name: "Fish", Quantity: 1, DaysUntilExpiry: intPtr(1)},
		},
		Recipes: []Recipe{
			{ID: "r0", Name: "Fish Stew", Ingredients: []RecipeIngredient{{IngredientID: "fish", Quantity: 1}}},
			{ID: "r1", Name: "Lentils"},
			{ID: "r2", Name: "Omelette"},
		},
		Constraints: Constraints{
			LockedMeals: []LockedMeal{
				{Date: "2024-01-01", RecipeID: "r1"},
				{Date: "2023-12-01", RecipeID: "r2"},
				{Date: "not-a-date", RecipeID: "r2"},
				{Date: "2024-01-02", RecipeID: "missing"},
			},
		},
		Weights: DefaultWeights(),
	}

	res := Optimize(context.Background(), p)
	require.Equal(t, StatusOptimal, res.Status)

	var day0 []string
	for _, e := range res.Solution.MealPlan {
		if e.DayIndex == 0 {
			day0 = append(day0, e.RecipeID)
			assert.Equal(t, "2024-01-01", e.Date)
		}
	}
	assert.Equal(t, []string{"r1"}, day0)
	assert.Equal(t, 1, countRecipe(res.Solution, "r0"))
}

func TestOptimize_ConflictingLocksHaveNoSolution(t *testing.T) {
	p := Problem{
		PlanningHorizon: PlanningHorizon{StartDate: "2024-01-01", Days: 2},
		Recipes:         []Recipe{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}},
		Constraints: Constraints{LockedMeals: []LockedMeal{
			{Date: "2024-01-01", RecipeID: "a"},
			{Date: "2024-01-01", RecipeID: "b"},
		}},
		Weights: DefaultWeights(),
	}

	res := Optimize(context.Background(), p)
	assert.Equal(t, StatusNoSolution, res.Status)
	assert.False(t, res.TimedOut)
	assert.Nil(t, res.Solution)
}

func TestOptimize_TimeBudget(t *testing.T) {
	p := Problem{
		PlanningHorizon: PlanningHorizon{StartDate: "2024-01-01", Days: 2},
		Recipes: []Recipe{
			{ID: "slow", Name: "Roast", PrepTime: 20, CookTime: 90},
			{ID: "quick", Name: "Salad", PrepTime: 10},
		},
		Constraints: Constraints{TimeBudgets: map[string]int{
			"2024-01-01": 30,
			"2024-01-02": 15,
			"garbage":    1,
		}},
		Weights: DefaultWeights(),
	}

	res := Optimize(context.Background(), p)
	require.Equal(t, StatusOptimal, res.Status)
	assert.Equal(t, 0, countRecipe(res.Solution, "slow"))
	require.Len(t, res.Solution.MealPlan, 1)
	assert.Equal(t, "quick", res.Solution.MealPlan[0].RecipeID)
}

func TestOptimize_ExcludedRecipesNeverPlanned(t *testing.T) {
	p := milkProblem(1)
	p.Constraints.ExcludedRecipes = []string{"r1"}

	res := Optimize(context.Background(), p)
	require.Equal(t, StatusOptimal, res.Status)
	assert.Equal(t, 0, countRecipe(res.Solution, "r1"))
	assert.Equal(t, 1, countRecipe(res.Solution, "r2"))
}

func TestOptimize_ExtractionDetails(t *testing.T) {
	p := Problem{
		PlanningHorizon: PlanningHorizon{StartDate: "2024-03-01", Days: 1, MealTypes: []string{"lunch", "dinner"}},
		Inventory: []InventoryItem{
			{IngredientID: "milk", Name: "Milk", Quantity: 2, DaysUntilExpiry: intPtr(3)},
			{IngredientID: "cheese", Quantity: 1, DaysUntilExpiry: intPtr(30)},
		},
		Recipes: []Recipe{
			{ID: "r1", Ingredients: []RecipeIngredient{
				{IngredientID: "milk", Quantity: 1},
				{IngredientID: "eggs", Name: "Eggs", Quantity: 2},
				{IngredientID: "salt", Quantity: 0.1},
			}},
		},
		Weights: Weights{ExpiringPriority: 1, Variety: 1},
	}

	res := Optimize(context.Background(), p)
	require.Equal(t, StatusOptimal, res.Status)
	sol := res.Solution

	require.Len(t, sol.MealPlan, 1)
	assert.Equal(t, MealPlanEntry{
		Date: "2024-03-01", DayIndex: 0, MealType: "lunch", RecipeID: "r1", RecipeName: "Unknown",
	}, sol.MealPlan[0])

	assert.Equal(t, []ShoppingListItem{
		{IngredientID: "eggs", Name: "Eggs", Quantity: 2},
		{IngredientID: "salt", Name: "Unknown", Quantity: 1},
	}, sol.ShoppingList)

	assert.Equal(t, []string{"Selected 'Unknown' for day 1 to use Milk expiring soon"}, sol.Explanation)
	assert.Equal(t, Metrics{
		ExpiringIngredientsUsed:  1,
		TotalExpiringIngredients: 1,
		ShoppingItemsCount:       2,
		VarietyScore:             1,
		RecipesSelected:          1,
	}, sol.Metrics)
}

func TestOptimize_NoStartDate(t *testing.T) {
	p := milkProblem(1)
	p.PlanningHorizon.MealTypes = nil

	res := Optimize(context.Background(), p)
	require.Equal(t, StatusOptimal, res.Status)
	for _, e := range res.Solution.MealPlan {
		assert.Empty(t, e.Date)
		assert.Equal(t, DefaultMealType, e.MealType)
	}
	assert.InDelta(t, 1.0, res.Solution.Metrics.VarietyScore, 1e-9)
}

func TestOptimize_ZeroDays(t *testing.T) {
	p := milkProblem(1)
	p.PlanningHorizon.Days = 0

	res := Optimize(context.Background(), p)
	require.Equal(t, StatusOptimal, res.Status)
	assert.Empty(t, res.Solution.MealPlan)
	assert.Equal(t, 0.0, res.Solution.Metrics.VarietyScore)
}

func TestOptimize_SearchStoppedEarly(t *testing.T) {
	res := Optimize(context.Background(), milkProblem(1), WithModel(func() solver.Model {
		return solver.NewSearch(solver.WithNodeLimit(1))
	}))

	assert.Equal(t, StatusNoSolution, res.Status)
	assert.True(t, res.TimedOut)
	assert.Nil(t, res.Solution)
}

func TestOptimize_CallerCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Optimize(ctx, milkProblem(1))
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, "search canceled", res.Error)
}

type failingModel struct {
	*solver.Search
}

func (failingModel) Solve(context.Context) (*solver.Assignment, error) {
	return nil, errors.New("backend exploded")
}

func TestOptimize_BackendFailure(t *testing.T) {
	res := Optimize(context.Background(), milkProblem(1), WithModel(func() solver.Model {
		return failingModel{solver.NewSearch()}
	}))

	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, "backend exploded", res.Error)
	assert.Nil(t, res.Solution)
}

func TestOptimize_RespectsTimeout(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	p := randomProblem(rng)
	p.TimeoutMS = 50

	start := time.Now()
	res := Optimize(context.Background(), p)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.NotEqual(t, StatusError, res.Status)
}

func TestProblem_DecodeDefaults(t *testing.T) {
	var p Problem
	err := json.Unmarshal([]byte(`{
		"planning_horizon": {"start_date": "2024-01-01"},
		"recipes": [{"id": "r1", "name": "Soup", "ingredients": [{"ingredient_id": "leek"}]}],
		"weights": {"variety": 0.9}
	}`), &p)
	require.NoError(t, err)

	assert.Equal(t, DefaultDays, p.PlanningHorizon.Days)
	assert.Equal(t, []string{"dinner"}, p.PlanningHorizon.MealTypes)
	assert.Equal(t, 1.0, p.Recipes[0].Ingredients[0].Quantity)
	assert.Equal(t, Weights{ExpiringPriority: 0.4, ShoppingMinimization: 0.3, Variety: 0.9, TimeFit: 0.1}, p.Weights)
	assert.Equal(t, DefaultTimeoutMS, p.TimeoutMS)
	assert.NoError(t, p.Validate())
}

func TestProblem_DecodeWithoutWeights(t *testing.T) {
	var p Problem
	require.NoError(t, json.Unmarshal([]byte(`{"planning_horizon": {"days": 3}, "timeout_ms": 100}`), &p))

	assert.Equal(t, DefaultWeights(), p.Weights)
	assert.Equal(t, 100, p.TimeoutMS)
	assert.Equal(t, 3, p.PlanningHorizon.Days)
}

func TestProblem_Validate(t *testing.T) {
	p := milkProblem(1)
	require.NoError(t, p.Validate())

	p.PlanningHorizon.Days = 0
	p.PlanningHorizon.StartDate = "01/02/2024"
	p.TimeoutMS = 0
	p.Recipes = append(p.Recipes, Recipe{Ingredients: []RecipeIngredient{{}}})
	p.Weights.Variety = -1

	err := p.Validate()
	require.Error(t, err)
	for _, want := range []string{"planning_horizon.days", "start_date", "timeout_ms", "recipes[2].id", "recipes[2].ingredients[0]", "weights[2]"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestResult_Summary(t *testing.T) {
	assert.Equal(t, "no feasible plan", Result{Status: StatusNoSolution}.Summary())
	assert.Equal(t, "no solution found within 12 ms", Result{Status: StatusNoSolution, SolveTimeMS: 12, TimedOut: true}.Summary())
	assert.Equal(t, "error: boom", Result{Status: StatusError, Error: "boom"}.Summary())
}

func TestResult_JSONShape(t *testing.T) {
	data, err := json.Marshal(Result{Status: StatusNoSolution, SolveTimeMS: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status": "no_solution", "solve_time_ms": 3}`, string(data))
}
