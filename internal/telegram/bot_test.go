package telegram

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meal-optimizer/internal/database"
	"meal-optimizer/internal/jobs"
	"meal-optimizer/internal/metrics"
	"meal-optimizer/internal/pantry"
	"meal-optimizer/internal/planner"
)

// --- Mocks ---
type MockSender struct {
	mu    sync.Mutex
	Texts []string
}

func (m *MockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.Texts = append(m.Texts, msg.Text)
	}
	return tgbotapi.Message{}, nil
}

func (m *MockSender) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Texts...)
}

type MockNarrator struct{ Err error }

func (m MockNarrator) Narrate(ctx context.Context, sol *planner.Solution) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	return "A cozy week ahead", nil
}

type MockClipper struct{}

func (MockClipper) ClipURL(ctx context.Context, owner, url string) (*planner.Recipe, error) {
	if strings.Contains(url, "broken") {
		return nil, errors.New("no recipe metadata found")
	}
	return &planner.Recipe{ID: "soup", Name: "Leek Soup", Ingredients: make([]planner.RecipeIngredient, 3)}, nil
}

// --- Helpers ---
func setupBot(t *testing.T, deps Deps) (*Bot, *MockSender, *pantry.Repository) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, database.ApplySchema(context.Background(), db))
	t.Cleanup(func() { db.Close() })

	repo := pantry.NewRepository(db, nil)
	deps.Pantry = repo
	deps.Pool = jobs.NewPool(1)
	if deps.Stats == nil {
		deps.Stats = metrics.NewStore(db)
	}
	sender := &MockSender{}
	b := New(sender, deps)
	b.now = func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) }
	return b, sender, repo
}

func message(userID int64, text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{Text: text, From: &tgbotapi.User{ID: userID}, Chat: &tgbotapi.Chat{ID: 99}}
	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(text, " ")
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return msg
}

func seedPantry(t *testing.T, repo *pantry.Repository, owner string) {
	t.Helper()
	ctx := context.Background()
	expiry := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.AddItem(ctx, &pantry.Item{Owner: owner, IngredientID: "milk", Name: "Milk", Quantity: 1, ExpiresOn: &expiry}))
	require.NoError(t, repo.SaveRecipe(ctx, owner, planner.Recipe{
		ID: "pancakes", Name: "Pancakes",
		Ingredients: []planner.RecipeIngredient{
			{IngredientID: "milk", Name: "Milk", Quantity: 1},
			{IngredientID: "flour", Name: "Flour", Quantity: 1},
		},
	}, ""))
}

// --- Tests ---
func TestBot_Plan(t *testing.T) {
	b, sender, repo := setupBot(t, Deps{Narrator: MockNarrator{}})
	seedPantry(t, repo, "42")

	b.processMessage(context.Background(), message(42, "/plan 3"))

	texts := sender.all()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "📅 *Meal Plan*")
	assert.Contains(t, texts[0], "*Sat 01 Jun*: Pancakes")
	assert.Contains(t, texts[0], "Uses 1 of 1 expiring ingredients")
	assert.Contains(t, texts[0], "_A cozy week ahead_")
	assert.Contains(t, texts[1], "• 1 x Flour")
}

func TestBot_PlanNarrationFailureStillReplies(t *testing.T) {
	b, sender, repo := setupBot(t, Deps{Narrator: MockNarrator{Err: errors.New("quota")}})
	seedPantry(t, repo, "42")

	b.processMessage(context.Background(), message(42, "/plan"))
	texts := sender.all()
	require.Len(t, texts, 2)
	assert.NotContains(t, texts[0], "cozy")
}

func TestBot_PlanBadArgs(t *testing.T) {
	b, sender, _ := setupBot(t, Deps{})
	b.processMessage(context.Background(), message(42, "/plan forever"))
	require.Len(t, sender.all(), 1)
	assert.Contains(t, sender.all()[0], "Usage: /plan")
}

func TestBot_PlanEmptyPantry(t *testing.T) {
	b, sender, _ := setupBot(t, Deps{})
	b.processMessage(context.Background(), message(7, "/plan 2"))
	texts := sender.all()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[1], "_Nothing to buy_")
}

func TestBot_Suggest(t *testing.T) {
	b, sender, repo := setupBot(t, Deps{})
	seedPantry(t, repo, "42")

	b.processMessage(context.Background(), message(42, "/suggest"))
	texts := sender.all()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "1. *Pancakes*")
	assert.Contains(t, texts[0], "Missing: Flour")

	b.processMessage(context.Background(), message(43, "/suggest"))
	assert.Contains(t, sender.all()[1], "Nothing in your pantry")
}

func TestBot_Add(t *testing.T) {
	b, sender, repo := setupBot(t, Deps{})

	b.processMessage(context.Background(), message(42, "/add sour_cream 2 3"))
	require.Len(t, sender.all(), 1)
	assert.Contains(t, sender.all()[0], "Added 2 x sour cream")

	items, err := repo.Items(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "sour-cream", items[0].IngredientID)
	require.NotNil(t, items[0].ExpiresOn)

	b.processMessage(context.Background(), message(42, "/add eggs"))
	assert.Contains(t, sender.all()[1], "Usage: /add")
}

func TestBot_ClipAndHelp(t *testing.T) {
	b, sender, _ := setupBot(t, Deps{Clipper: MockClipper{}})

	b.processMessage(context.Background(), message(42, "https://example.com/soup"))
	b.processMessage(context.Background(), message(42, "https://example.com/broken"))
	b.processMessage(context.Background(), message(42, "hello"))

	texts := sender.all()
	require.Len(t, texts, 3)
	assert.Contains(t, texts[0], "*Leek Soup* (3 ingredients)")
	assert.Contains(t, texts[1], "Error clipping recipe")
	assert.Contains(t, texts[2], "/suggest")
}

func TestBot_Metrics(t *testing.T) {
	b, sender, _ := setupBot(t, Deps{})
	b.processMessage(context.Background(), message(42, "/metrics"))
	require.Len(t, sender.all(), 1)
	assert.Contains(t, sender.all()[0], "_No data yet_")
	assert.Contains(t, sender.all()[0], "Goroutines")
}

func TestBot_HandlerAllowList(t *testing.T) {
	b, sender, _ := setupBot(t, Deps{AllowedUserIDs: []int64{42}})
	h := b.Handler()

	post := func(body string) int {
		req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader(body))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusBadRequest, post(`not json`))
	assert.Equal(t, http.StatusOK, post(`{"update_id": 1, "message": {"message_id": 1, "text": "hi", "from": {"id": 13}, "chat": {"id": 13}}}`))
	assert.Equal(t, http.StatusOK, post(`{"update_id": 2, "message": {"message_id": 2, "text": "hi", "from": {"id": 42}, "chat": {"id": 42}}}`))

	require.Eventually(t, func() bool { return len(sender.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, sender.all()[0], "Meal Optimizer")
}

func TestFormatMetrics(t *testing.T) {
	out := formatMetrics([]metrics.DailyStats{{Date: "2024-06-01", Solves: 3, Optimal: 2, TimedOut: 1, AvgLatencyMS: 12.4}}, metrics.SysHealth{AllocMB: 5, SysMB: 20, Goroutines: 8, DBSize: "1.0 KB"})
	assert.Contains(t, out, "• *2024-06-01*: 3 solves, 2 optimal, 1 timed out, avg 12 ms")
	assert.Contains(t, out, "• RAM: 5MB (Alloc) / 20MB (Sys)")
	assert.Contains(t, out, "• Database: 1.0 KB")
}

func TestFormatPlan_DayLabelWithoutDate(t *testing.T) {
	plan, shopping := formatPlanMarkdownParts(&planner.Solution{
		MealPlan: []planner.MealPlanEntry{{DayIndex: 2, RecipeName: "Fish_Tacos"}},
	})
	assert.Contains(t, plan, `*Day 3*: Fish\_Tacos`)
	assert.Contains(t, shopping, "_Nothing to buy_")
}
