package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meal-optimizer/internal/planner"
)

// --- Mocks ---
type MockTextGenerator struct {
	Prompt   string
	Response string
	Err      error
}

func (m *MockTextGenerator) GenerateContent(ctx context.Context, prompt string) (ContentResponse, error) {
	m.Prompt = prompt
	if m.Err != nil {
		return ContentResponse{}, m.Err
	}
	return ContentResponse{Content: m.Response, Usage: TokenUsage{Model: "mock", PromptTokens: 10}}, nil
}

func sampleSolution() *planner.Solution {
	return &planner.Solution{
		MealPlan: []planner.MealPlanEntry{
			{Date: "2024-06-01", DayIndex: 0, MealType: "dinner", RecipeID: "soup", RecipeName: "Leek Soup"},
			{DayIndex: 1, MealType: "dinner", RecipeID: "toast", RecipeName: "Cheese Toast"},
		},
		ShoppingList: []planner.ShoppingListItem{{IngredientID: "bread", Name: "Bread", Quantity: 2}},
		Metrics:      planner.Metrics{ExpiringIngredientsUsed: 1, TotalExpiringIngredients: 3},
		Explanation:  []string{"Selected 'Leek Soup' for day 0 to use Leek expiring soon"},
	}
}

func TestNarrator_Narrate(t *testing.T) {
	gen := &MockTextGenerator{Response: "  Enjoy a cozy week!\n"}
	n := NewNarrator(gen, nil)

	text, err := n.Narrate(context.Background(), sampleSolution())
	require.NoError(t, err)
	assert.Equal(t, "Enjoy a cozy week!", text)

	assert.Contains(t, gen.Prompt, "- 2024-06-01 (dinner): Leek Soup")
	assert.Contains(t, gen.Prompt, "- day 1 (dinner): Cheese Toast")
	assert.Contains(t, gen.Prompt, "- 2 x Bread")
	assert.Contains(t, gen.Prompt, "Expiring ingredients used: 1 of 3.")
	assert.Contains(t, gen.Prompt, "Note: Selected 'Leek Soup'")
	assert.NotContains(t, gen.Prompt, "Nothing needs to be bought")
}

func TestNarrator_NothingToBuy(t *testing.T) {
	sol := sampleSolution()
	sol.ShoppingList = []planner.ShoppingListItem{}
	prompt, err := buildNarratorPrompt(sol)
	require.NoError(t, err)
	assert.Contains(t, prompt, "Nothing needs to be bought.")
	assert.NotContains(t, prompt, "Shopping list:")
}

func TestNarrator_Errors(t *testing.T) {
	n := NewNarrator(&MockTextGenerator{Response: "ok"}, nil)
	_, err := n.Narrate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyPlan)
	_, err = n.Narrate(context.Background(), &planner.Solution{})
	assert.ErrorIs(t, err, ErrEmptyPlan)

	boom := errors.New("quota exceeded")
	n = NewNarrator(&MockTextGenerator{Err: boom}, nil)
	_, err = n.Narrate(context.Background(), sampleSolution())
	assert.ErrorIs(t, err, boom)

	n = NewNarrator(&MockTextGenerator{Response: "   "}, nil)
	_, err = n.Narrate(context.Background(), sampleSolution())
	assert.Error(t, err)
}

func TestNewGeminiClient_RequiresKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), "", "")
	assert.Error(t, err)
}
