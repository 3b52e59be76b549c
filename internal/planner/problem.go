package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// DefaultDays is the horizon length used when a request omits it.
	DefaultDays = 7
	// DefaultMealType labels every planned meal when no meal type is configured.
	DefaultMealType = "dinner"
	// DefaultTimeoutMS bounds a full solve when the request does not.
	DefaultTimeoutMS = 5000
	// ExpiringThresholdDays marks an inventory row as expiring soon.
	ExpiringThresholdDays = 7
	// MaxHorizonDays is the longest horizon the boundary accepts.
	MaxHorizonDays = 366
)

// dateLayout is the ISO date format used for horizon, lock and budget dates.
const dateLayout = "2006-01-02"

// PlanningHorizon is the run of days meals are scheduled over.
type PlanningHorizon struct {
	StartDate string   `json:"start_date"`
	Days      int      `json:"days"`
	MealTypes []string `json:"meal_types"`
}

func (h *PlanningHorizon) UnmarshalJSON(data []byte) error {
	type alias PlanningHorizon
	a := alias{Days: DefaultDays, MealTypes: []string{DefaultMealType}}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*h = PlanningHorizon(a)
	return nil
}

// InventoryItem is one on-hand row. Rows sharing an ingredient id are summed.
type InventoryItem struct {
	IngredientID    string  `json:"ingredient_id"`
	Name            string  `json:"name"`
	Quantity        float64 `json:"quantity"`
	Unit            string  `json:"unit"`
	DaysUntilExpiry *int    `json:"days_until_expiry"`
}

// ExpiresWithin reports whether the row has an expiry at or below days.
func (i InventoryItem) ExpiresWithin(days int) bool {
	return i.DaysUntilExpiry != nil && *i.DaysUntilExpiry <= days
}

// RecipeIngredient is one requirement of a recipe.
type RecipeIngredient struct {
	IngredientID string  `json:"ingredient_id"`
	Name         string  `json:"name"`
	Quantity     float64 `json:"quantity"`
	Unit         string  `json:"unit"`
}

func (ri *RecipeIngredient) UnmarshalJSON(data []byte) error {
	type alias RecipeIngredient
	a := alias{Quantity: 1}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*ri = RecipeIngredient(a)
	return nil
}

// Recipe is a candidate meal.
type Recipe struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	PrepTime    int                `json:"prep_time"`
	CookTime    int                `json:"cook_time"`
	Ingredients []RecipeIngredient `json:"ingredients"`
	Tags        []string           `json:"tags"`
	IsFavorite  bool               `json:"is_favorite"`
}

// TotalTime is prep plus cook time in minutes.
func (r Recipe) TotalTime() int {
	return r.PrepTime + r.CookTime
}

// LockedMeal pins a recipe to a date.
type LockedMeal struct {
	Date     string `json:"date"`
	RecipeID string `json:"recipe_id"`
}

// Constraints are the caller's hard requirements. MaxShoppingItems and
// Dietary are carried for callers but not enforced by the engine.
type Constraints struct {
	MaxShoppingItems *int           `json:"max_shopping_items"`
	TimeBudgets      map[string]int `json:"time_budgets"`
	LockedMeals      []LockedMeal   `json:"locked_meals"`
	ExcludedRecipes  []string       `json:"excluded_recipes"`
	Dietary          []string       `json:"dietary"`
}

// Weights blend the objective terms. TimeFit is accepted but unused.
type Weights struct {
	ExpiringPriority     float64 `json:"expiring_priority"`
	ShoppingMinimization float64 `json:"shopping_minimization"`
	Variety              float64 `json:"variety"`
	TimeFit              float64 `json:"time_fit"`
}

// DefaultWeights favors using expiring food, then avoiding shopping.
func DefaultWeights() Weights {
	return Weights{
		ExpiringPriority:     0.4,
		ShoppingMinimization: 0.3,
		Variety:              0.2,
		TimeFit:              0.1,
	}
}

func (w *Weights) UnmarshalJSON(data []byte) error {
	type alias Weights
	a := alias(DefaultWeights())
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*w = Weights(a)
	return nil
}

// Problem is one full-solve request.
type Problem struct {
	PlanningHorizon PlanningHorizon `json:"planning_horizon"`
	Inventory       []InventoryItem `json:"inventory"`
	Recipes         []Recipe        `json:"recipes"`
	Constraints     Constraints     `json:"constraints"`
	Weights         Weights         `json:"weights"`
	TimeoutMS       int             `json:"timeout_ms"`
}

func (p *Problem) UnmarshalJSON(data []byte) error {
	type alias Problem
	a := alias{
		PlanningHorizon: PlanningHorizon{Days: DefaultDays, MealTypes: []string{DefaultMealType}},
		Weights:         DefaultWeights(),
		TimeoutMS:       DefaultTimeoutMS,
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = Problem(a)
	return nil
}

// Validate checks the fields a caller must supply. The engine itself never
// calls it and tolerates anything Validate would reject.
func (p Problem) Validate() error {
	var errs []error
	h := p.PlanningHorizon
	if h.Days < 1 || h.Days > MaxHorizonDays {
		errs = append(errs, fmt.Errorf("planning_horizon.days must be between 1 and %d, got %d", MaxHorizonDays, h.Days))
	}
	if h.StartDate != "" {
		if _, err := time.Parse(dateLayout, h.StartDate); err != nil {
			errs = append(errs, fmt.Errorf("planning_horizon.start_date %q is not an ISO date", h.StartDate))
		}
	}
	if p.TimeoutMS < 1 {
		errs = append(errs, errors.New("timeout_ms must be at least 1"))
	}
	for i, item := range p.Inventory {
		if item.IngredientID == "" {
			errs = append(errs, fmt.Errorf("inventory[%d].ingredient_id is required", i))
		}
	}
	for i, r := range p.Recipes {
		if r.ID == "" {
			errs = append(errs, fmt.Errorf("recipes[%d].id is required", i))
		}
		for j, ing := range r.Ingredients {
			if ing.IngredientID == "" {
				errs = append(errs, fmt.Errorf("recipes[%d].ingredients[%d].ingredient_id is required", i, j))
			}
		}
	}
	for i, w := range []float64{p.Weights.ExpiringPriority, p.Weights.ShoppingMinimization, p.Weights.Variety, p.Weights.TimeFit} {
		if w < 0 || math.IsNaN(w) {
			errs = append(errs, fmt.Errorf("weights[%d] must be non-negative", i))
		}
	}
	return errors.Join(errs...)
}

// instance is the normalized form of a Problem that the encoder consumes.
type instance struct {
	days      int
	start     time.Time
	hasStart  bool
	mealType  string
	recipes   []Recipe
	byID      map[string]int
	inventory []InventoryItem
	// available is the on-hand amount per ingredient id in fixed-point units.
	available map[string]int64
	// ingredients lists every id referenced by a recipe, first appearance first.
	ingredients []string
	names       map[string]string
	urgency     map[string]int64
	constraints Constraints
	weights     Weights
}

func normalize(p Problem) *instance {
	inst := &instance{
		days:        max(p.PlanningHorizon.Days, 0),
		mealType:    DefaultMealType,
		byID:        make(map[string]int),
		inventory:   p.Inventory,
		available:   make(map[string]int64),
		names:       make(map[string]string),
		urgency:     make(map[string]int64),
		constraints: p.Constraints,
		weights:     p.Weights,
	}
	if len(p.PlanningHorizon.MealTypes) > 0 {
		inst.mealType = p.PlanningHorizon.MealTypes[0]
	}
	if start, err := time.Parse(dateLayout, p.PlanningHorizon.StartDate); err == nil {
		inst.start = start
		inst.hasStart = true
	}

	excluded := make(map[string]bool, len(p.Constraints.ExcludedRecipes))
	for _, id := range p.Constraints.ExcludedRecipes {
		excluded[id] = true
	}
	for _, r := range p.Recipes {
		if excluded[r.ID] {
			continue
		}
		if _, dup := inst.byID[r.ID]; dup {
			continue
		}
		inst.byID[r.ID] = len(inst.recipes)
		inst.recipes = append(inst.recipes, r)
	}

	onHand := make(map[string]float64)
	for _, item := range p.Inventory {
		onHand[item.IngredientID] += math.Max(item.Quantity, 0)
		if item.Name != "" {
			inst.names[item.IngredientID] = item.Name
		}
		if u := urgencyOf(item); u > inst.urgency[item.IngredientID] {
			inst.urgency[item.IngredientID] = u
		}
	}
	for id, q := range onHand {
		inst.available[id] = fixedPoint(q)
	}

	seen := make(map[string]bool)
	for _, r := range inst.recipes {
		for _, ing := range r.Ingredients {
			if _, ok := inst.names[ing.IngredientID]; !ok && ing.Name != "" {
				inst.names[ing.IngredientID] = ing.Name
			}
			if !seen[ing.IngredientID] {
				seen[ing.IngredientID] = true
				inst.ingredients = append(inst.ingredients, ing.IngredientID)
			}
		}
	}
	return inst
}

// urgencyOf scores a row by how soon it expires. Rows without a positive
// expiry score zero.
func urgencyOf(item InventoryItem) int64 {
	if item.DaysUntilExpiry == nil || *item.DaysUntilExpiry <= 0 {
		return 0
	}
	return max(1, int64(100 / *item.DaysUntilExpiry))
}

// dayIndex maps an ISO date onto the horizon.
func (inst *instance) dayIndex(date string) (int, bool) {
	if !inst.hasStart {
		return 0, false
	}
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return 0, false
	}
	idx := int(d.Sub(inst.start).Hours() / 24)
	if idx < 0 || idx >= inst.days {
		return 0, false
	}
	return idx, true
}

// dateOf is the ISO date of day index d, or "" without a start date.
func (inst *instance) dateOf(d int) string {
	if !inst.hasStart {
		return ""
	}
	return inst.start.AddDate(0, 0, d).Format(dateLayout)
}

// quantityScale is the number of fixed-point units per ingredient unit.
// Purchases stay in whole units.
const quantityScale = 1000

// fixedPoint converts a quantity to fixed-point units. Negative amounts are 0.
func fixedPoint(q float64) int64 {
	if q <= 0 {
		return 0
	}
	return int64(math.Round(q * quantityScale))
}

// wholeUnits is the number of whole units needed to cover n fixed-point units.
func wholeUnits(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return (n + quantityScale - 1) / quantityScale
}
