package llm

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"meal-optimizer/internal/planner"
)

//go:embed narrator_prompt.md
var narratorPrompt string

var narratorTmpl = template.Must(template.New("Narrator").Parse(narratorPrompt))

// ErrEmptyPlan is returned when there is nothing to narrate.
var ErrEmptyPlan = errors.New("meal plan is empty")

// Narrator turns an optimized plan into a short friendly note.
type Narrator struct {
	gen    TextGenerator
	logger *zap.Logger
}

// NewNarrator creates a Narrator backed by gen.
func NewNarrator(gen TextGenerator, logger *zap.Logger) *Narrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Narrator{gen: gen, logger: logger}
}

type narratorData struct {
	MaxSentences int
	Plan         []planner.MealPlanEntry
	Shopping     []planner.ShoppingListItem
	Metrics      planner.Metrics
	Notes        []string
}

// Narrate writes a note for sol.
func (n *Narrator) Narrate(ctx context.Context, sol *planner.Solution) (string, error) {
	if sol == nil || len(sol.MealPlan) == 0 {
		return "", ErrEmptyPlan
	}
	prompt, err := buildNarratorPrompt(sol)
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := n.gen.GenerateContent(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to narrate plan: %w", err)
	}
	n.logger.Info("Plan narrated",
		zap.String("model", resp.Usage.Model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("latency", time.Since(start)),
	)

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", errors.New("narration is empty")
	}
	return text, nil
}

func buildNarratorPrompt(sol *planner.Solution) (string, error) {
	var buf bytes.Buffer
	err := narratorTmpl.Execute(&buf, narratorData{
		MaxSentences: 4,
		Plan:         sol.MealPlan,
		Shopping:     sol.ShoppingList,
		Metrics:      sol.Metrics,
		Notes:        sol.Explanation,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build narrator prompt: %w", err)
	}
	return buf.String(), nil
}
