package telegram

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"meal-optimizer/internal/metrics"
	"meal-optimizer/internal/planner"
)

func escape(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}

func dayLabel(e planner.MealPlanEntry) string {
	if t, err := time.Parse("2006-01-02", e.Date); err == nil {
		return t.Format("Mon 02 Jan")
	}
	return fmt.Sprintf("Day %d", e.DayIndex+1)
}

func formatPlanMarkdownParts(sol *planner.Solution) (string, string) {
	var pb strings.Builder
	pb.WriteString("📅 *Meal Plan*\n\n")
	for _, e := range sol.MealPlan {
		pb.WriteString(fmt.Sprintf("*%s*: %s\n", dayLabel(e), escape(e.RecipeName)))
	}
	m := sol.Metrics
	pb.WriteString(fmt.Sprintf("\n♻️ Uses %d of %d expiring ingredients\n", m.ExpiringIngredientsUsed, m.TotalExpiringIngredients))

	var sb strings.Builder
	sb.WriteString("🛒 *Shopping List*\n\n")
	if len(sol.ShoppingList) == 0 {
		sb.WriteString("_Nothing to buy_\n")
	}
	for _, item := range sol.ShoppingList {
		sb.WriteString(fmt.Sprintf("• %d x %s\n", item.Quantity, escape(item.Name)))
	}
	return pb.String(), sb.String()
}

func formatSuggestions(suggestions []planner.Suggestion) string {
	if len(suggestions) == 0 {
		return "🤷 Nothing in your pantry is about to expire."
	}
	var sb strings.Builder
	sb.WriteString("💡 *Cook soon*\n\n")
	for i, s := range suggestions {
		sb.WriteString(fmt.Sprintf("%d. *%s* (%.2f)\n", i+1, escape(s.RecipeName), s.Score))
		sb.WriteString(fmt.Sprintf("_%s_\n", escape(s.Reason)))
		if len(s.Missing) > 0 {
			sb.WriteString(fmt.Sprintf("Missing: %s\n", escape(strings.Join(s.Missing, ", "))))
		}
	}
	return sb.String()
}

func formatMetrics(stats []metrics.DailyStats, health metrics.SysHealth) string {
	var sb strings.Builder
	sb.WriteString("📊 *Usage & Health Report*\n\n")

	sb.WriteString("🗓 *Recent Solves*\n")
	if len(stats) == 0 {
		sb.WriteString("_No data yet_\n")
	}
	for _, d := range stats {
		sb.WriteString(fmt.Sprintf("• *%s*: %d solves, %d optimal, %d timed out, avg %.0f ms\n",
			d.Date, d.Solves, d.Optimal, d.TimedOut, d.AvgLatencyMS))
	}

	sb.WriteString("\n🧠 *System Health*\n")
	sb.WriteString(fmt.Sprintf("• RAM: %dMB (Alloc) / %dMB (Sys)\n", health.AllocMB, health.SysMB))
	sb.WriteString(fmt.Sprintf("• Goroutines: %d\n", health.Goroutines))
	sb.WriteString(fmt.Sprintf("• Database: %s\n", health.DBSize))
	return sb.String()
}
