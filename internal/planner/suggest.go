package planner

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	// ModeUseExpiring keeps only recipes that use something expiring soon.
	ModeUseExpiring = "use_expiring"
	// DefaultSuggestionLimit caps a suggestion list when the caller does not.
	DefaultSuggestionLimit = 5
)

// SuggestionRequest is the quick-suggestion input.
type SuggestionRequest struct {
	Mode      string          `json:"mode"`
	Inventory []InventoryItem `json:"inventory"`
	Recipes   []Recipe        `json:"recipes"`
	Limit     int             `json:"limit"`
}

func (s *SuggestionRequest) UnmarshalJSON(data []byte) error {
	type alias SuggestionRequest
	a := alias{Mode: ModeUseExpiring, Limit: DefaultSuggestionLimit}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = SuggestionRequest(a)
	return nil
}

// Suggestion is one ranked recipe.
type Suggestion struct {
	RecipeID     string   `json:"recipe_id"`
	RecipeName   string   `json:"recipe_name"`
	Score        float64  `json:"score"`
	ExpiringUsed []string `json:"expiring_used"`
	Missing      []string `json:"missing"`
	Reason       string   `json:"reason"`
}

// SuggestionResponse wraps a ranked list.
type SuggestionResponse struct {
	Suggestions []Suggestion `json:"suggestions"`
}

// Suggest ranks recipes by how urgently they use expiring food and how much
// of them is already on hand. It never builds a constraint model.
func Suggest(inventory []InventoryItem, recipes []Recipe, mode string, limit int) []Suggestion {
	out := []Suggestion{}
	if limit <= 0 {
		return out
	}

	expiring := make(map[string]InventoryItem)
	available := make(map[string]float64)
	for _, item := range inventory {
		if item.ExpiresWithin(ExpiringThresholdDays) {
			if _, ok := expiring[item.IngredientID]; !ok {
				expiring[item.IngredientID] = item
			}
		}
		available[item.IngredientID] += item.Quantity
	}

	for _, rec := range recipes {
		if len(rec.Ingredients) == 0 {
			continue
		}
		var (
			urgency float64
			present int
		)
		s := Suggestion{
			RecipeID:     rec.ID,
			RecipeName:   rec.Name,
			ExpiringUsed: []string{},
			Missing:      []string{},
		}
		for _, ing := range rec.Ingredients {
			if _, ok := available[ing.IngredientID]; ok {
				present++
			}
			if item, ok := expiring[ing.IngredientID]; ok {
				urgency += 1 / float64(max(*item.DaysUntilExpiry, 1))
				s.ExpiringUsed = append(s.ExpiringUsed, displayName(item.Name))
				continue
			}
			if have, ok := available[ing.IngredientID]; !ok || have < ing.Quantity {
				s.Missing = append(s.Missing, displayName(ing.Name))
			}
		}
		if mode == ModeUseExpiring && len(s.ExpiringUsed) == 0 {
			continue
		}

		availability := float64(present) / float64(len(rec.Ingredients))
		s.Score = round3(urgency*0.6 + availability*0.3 - float64(len(s.Missing))*0.1)
		s.Reason = suggestionReason(len(s.ExpiringUsed), len(s.Missing))
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return len(out[i].Missing) < len(out[j].Missing)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func displayName(name string) string {
	if name == "" {
		return "Unknown"
	}
	return name
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

func suggestionReason(expiring, missing int) string {
	var parts []string
	if expiring > 0 {
		parts = append(parts, "Uses "+plural(expiring, "expiring ingredient"))
	}
	if missing > 0 {
		parts = append(parts, "need "+plural(missing, "more item"))
	} else {
		parts = append(parts, "all ingredients available")
	}
	return strings.Join(parts, " - ")
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
