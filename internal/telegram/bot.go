// Package telegram is a chat front end over the pantry and the optimizer.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"meal-optimizer/internal/jobs"
	"meal-optimizer/internal/metrics"
	"meal-optimizer/internal/pantry"
	"meal-optimizer/internal/planner"
)

const maxPlanDays = 14

// Sender delivers messages to Telegram.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Pantry is the stored data the bot plans over.
type Pantry interface {
	AddItem(ctx context.Context, item *pantry.Item) error
	BuildProblem(ctx context.Context, req pantry.PlanRequest) (planner.Problem, error)
	Suggest(ctx context.Context, owner string, now time.Time, mode string, limit int) ([]planner.Suggestion, error)
}

// RecipeClipper imports a recipe from a URL.
type RecipeClipper interface {
	ClipURL(ctx context.Context, owner, url string) (*planner.Recipe, error)
}

// PlanNarrator writes a friendly note for a plan.
type PlanNarrator interface {
	Narrate(ctx context.Context, sol *planner.Solution) (string, error)
}

// StatsSource reports solve history.
type StatsSource interface {
	GetDailyStats(ctx context.Context, days int) ([]metrics.DailyStats, error)
}

// Deps are the collaborators of a Bot. Narrator, Clipper and Stats are
// optional.
type Deps struct {
	Pantry         Pantry
	Pool           *jobs.Pool
	Clipper        RecipeClipper
	Narrator       PlanNarrator
	Stats          StatsSource
	DBPath         string
	AllowedUserIDs []int64
	Logger         *zap.Logger
}

// Bot handles Telegram updates.
type Bot struct {
	api    Sender
	deps   Deps
	logger *zap.Logger
	now    func() time.Time
}

// NewBot connects to the Telegram API and points its webhook at webhookURL
// when one is given.
func NewBot(token, webhookURL string, deps Deps) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}
	b := New(api, deps)
	b.logger.Info("Telegram bot authorized", zap.String("account", api.Self.UserName))

	if webhookURL != "" {
		wh, err := tgbotapi.NewWebhook(webhookURL)
		if err != nil {
			return nil, fmt.Errorf("invalid webhook url %s: %w", webhookURL, err)
		}
		if _, err := api.Request(wh); err != nil {
			return nil, fmt.Errorf("failed to set webhook to %s: %w", webhookURL, err)
		}
		b.logger.Info("Telegram webhook set", zap.String("url", webhookURL))
	}
	return b, nil
}

// New creates a Bot over an existing sender.
func New(api Sender, deps Deps) *Bot {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Bot{api: api, deps: deps, logger: deps.Logger, now: time.Now}
}

// Handler serves the Telegram webhook.
func (b *Bot) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			b.logger.Warn("Error parsing update", zap.Error(err))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)

		msg := update.Message
		if msg == nil || msg.From == nil {
			return
		}
		if !b.allowed(msg.From.ID) {
			b.logger.Warn("Unauthorized access attempt",
				zap.Int64("user_id", msg.From.ID),
				zap.String("username", msg.From.UserName),
			)
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			b.processMessage(ctx, msg)
		}()
	})
}

func (b *Bot) allowed(userID int64) bool {
	if len(b.deps.AllowedUserIDs) == 0 {
		return true
	}
	return slices.Contains(b.deps.AllowedUserIDs, userID)
}

func (b *Bot) processMessage(ctx context.Context, msg *tgbotapi.Message) {
	owner := strconv.FormatInt(msg.From.ID, 10)
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	if strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://") {
		b.handleClip(ctx, chatID, owner, text)
		return
	}

	switch msg.Command() {
	case "suggest":
		b.handleSuggest(ctx, chatID, owner)
	case "plan":
		b.handlePlan(ctx, chatID, owner, msg.CommandArguments())
	case "add":
		b.handleAdd(ctx, chatID, owner, msg.CommandArguments())
	case "metrics":
		b.handleMetrics(ctx, chatID)
	default:
		b.reply(chatID, helpText)
	}
}

const helpText = `🍳 *Meal Optimizer*

/suggest - recipes that use what expires soon
/plan 5 - an optimized plan and shopping list for 5 days
/add milk 2 3 - add 2 milk that expires in 3 days
/metrics - solver activity and health

Send a recipe link to save it.`

func (b *Bot) handleClip(ctx context.Context, chatID int64, owner, url string) {
	if b.deps.Clipper == nil {
		b.reply(chatID, "Recipe import is not enabled.")
		return
	}
	rec, err := b.deps.Clipper.ClipURL(ctx, owner, url)
	if err != nil {
		b.logger.Warn("Error clipping recipe", zap.String("url", url), zap.Error(err))
		b.reply(chatID, fmt.Sprintf("❌ *Error clipping recipe:* %s", escape(err.Error())))
		return
	}
	b.reply(chatID, fmt.Sprintf("✅ *Recipe Saved!*\n\n*%s* (%d ingredients)", escape(rec.Name), len(rec.Ingredients)))
}

func (b *Bot) handleSuggest(ctx context.Context, chatID int64, owner string) {
	suggestions, err := b.deps.Pantry.Suggest(ctx, owner, b.now(), planner.ModeUseExpiring, planner.DefaultSuggestionLimit)
	if err != nil {
		b.logger.Error("Error building suggestions", zap.String("owner", owner), zap.Error(err))
		b.reply(chatID, "❌ Error loading your pantry.")
		return
	}
	b.reply(chatID, formatSuggestions(suggestions))
}

func (b *Bot) handlePlan(ctx context.Context, chatID int64, owner, args string) {
	days, err := parseDays(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	p, err := b.deps.Pantry.BuildProblem(ctx, pantry.PlanRequest{Owner: owner, Start: b.now(), Days: days})
	if err != nil {
		b.logger.Error("Error building problem", zap.String("owner", owner), zap.Error(err))
		b.reply(chatID, "❌ Error loading your pantry.")
		return
	}

	var res planner.Result
	err = b.deps.Pool.Do(ctx, func(ctx context.Context) {
		res = planner.Optimize(ctx, p, planner.WithLogger(b.logger.With(zap.String("owner", owner))))
	})
	if err != nil {
		b.reply(chatID, "⏳ The optimizer is busy, try again in a moment.")
		return
	}
	if res.Status != planner.StatusOptimal || res.Solution == nil {
		b.reply(chatID, "🤷 "+escape(res.Summary()))
		return
	}

	planText, shoppingText := formatPlanMarkdownParts(res.Solution)
	if b.deps.Narrator != nil {
		if note, err := b.deps.Narrator.Narrate(ctx, res.Solution); err != nil {
			b.logger.Warn("Narration failed", zap.Error(err))
		} else {
			planText += "\n_" + escape(note) + "_\n"
		}
	}
	b.reply(chatID, planText)
	b.reply(chatID, shoppingText)
}

func parseDays(args string) (int, error) {
	args = strings.TrimSpace(args)
	if args == "" {
		return planner.DefaultDays, nil
	}
	days, err := strconv.Atoi(args)
	if err != nil || days < 1 || days > maxPlanDays {
		return 0, fmt.Errorf("Usage: /plan <days>, with days between 1 and %d", maxPlanDays)
	}
	return days, nil
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, owner, args string) {
	item, err := parseAddArgs(args, b.now())
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	item.Owner = owner
	if err := b.deps.Pantry.AddItem(ctx, item); err != nil {
		b.logger.Error("Error adding pantry item", zap.String("owner", owner), zap.Error(err))
		b.reply(chatID, "❌ Error saving the item.")
		return
	}
	b.reply(chatID, fmt.Sprintf("🧺 Added %s x %s", strconv.FormatFloat(item.Quantity, 'f', -1, 64), escape(item.Name)))
}

// parseAddArgs reads "<ingredient> <quantity> [days left]". Multi-word
// ingredients use dashes or underscores.
func parseAddArgs(args string, now time.Time) (*pantry.Item, error) {
	usage := errors.New("Usage: /add <ingredient> <quantity> <days left, optional>")
	fields := strings.Fields(args)
	if len(fields) < 2 || len(fields) > 3 {
		return nil, usage
	}
	qty, err := strconv.ParseFloat(fields[1], 64)
	if err != nil || qty <= 0 {
		return nil, usage
	}
	name := strings.NewReplacer("_", " ", "-", " ").Replace(fields[0])
	item := &pantry.Item{
		IngredientID: strings.ToLower(strings.ReplaceAll(fields[0], "_", "-")),
		Name:         name,
		Quantity:     qty,
	}
	if len(fields) == 3 {
		days, err := strconv.Atoi(fields[2])
		if err != nil || days < 0 {
			return nil, usage
		}
		expires := now.AddDate(0, 0, days)
		item.ExpiresOn = &expires
	}
	return item, nil
}

func (b *Bot) handleMetrics(ctx context.Context, chatID int64) {
	var stats []metrics.DailyStats
	if b.deps.Stats != nil {
		var err error
		if stats, err = b.deps.Stats.GetDailyStats(ctx, 7); err != nil {
			b.logger.Error("Error fetching metrics", zap.Error(err))
			b.reply(chatID, "❌ Error fetching metrics.")
			return
		}
	}
	b.reply(chatID, formatMetrics(stats, metrics.GetSysHealth(b.deps.DBPath)))
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
