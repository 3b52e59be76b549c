package pantry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"meal-optimizer/internal/planner"
)

// ErrNotFound is returned when a pantry row or recipe does not exist.
var ErrNotFound = errors.New("not found")

// Item is one stored inventory row. Expiry is kept as a date so the
// days-until-expiry of a solve is always relative to the day it runs.
type Item struct {
	ID           int64      `json:"id"`
	Owner        string     `json:"owner"`
	IngredientID string     `json:"ingredient_id"`
	Name         string     `json:"name"`
	Quantity     float64    `json:"quantity"`
	Unit         string     `json:"unit"`
	ExpiresOn    *time.Time `json:"expires_on,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Repository is a database-backed store of inventory rows and recipes.
type Repository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRepository creates a new Repository.
func NewRepository(d *sql.DB, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: d, logger: logger}
}

// AddItem stores an inventory row and fills in its id.
func (r *Repository) AddItem(ctx context.Context, item *Item) error {
	if item.IngredientID == "" {
		return errors.New("ingredient id is required")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	var expires any
	if item.ExpiresOn != nil {
		expires = truncateDay(*item.ExpiresOn)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO pantry_items (owner, ingredient_id, name, quantity, unit, expires_on, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.Owner, item.IngredientID, item.Name, item.Quantity, item.Unit, expires, item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add pantry item %s: %w", item.IngredientID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read pantry item id: %w", err)
	}
	item.ID = id
	return nil
}

// RemoveItem deletes one of owner's rows.
func (r *Repository) RemoveItem(ctx context.Context, owner string, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pantry_items WHERE owner = ? AND id = ?`, owner, id)
	if err != nil {
		return fmt.Errorf("failed to remove pantry item %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to remove pantry item %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Items lists owner's rows, soonest expiry first.
func (r *Repository) Items(ctx context.Context, owner string) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner, ingredient_id, name, quantity, unit, expires_on, created_at
		FROM pantry_items WHERE owner = ?
		ORDER BY expires_on IS NULL, expires_on, id`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list pantry items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			it      Item
			expires sql.NullTime
		)
		if err := rows.Scan(&it.ID, &it.Owner, &it.IngredientID, &it.Name, &it.Quantity, &it.Unit, &expires, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pantry item: %w", err)
		}
		if expires.Valid {
			t := expires.Time
			it.ExpiresOn = &t
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Inventory converts owner's rows into engine inventory as of now.
func (r *Repository) Inventory(ctx context.Context, owner string, now time.Time) ([]planner.InventoryItem, error) {
	items, err := r.Items(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make([]planner.InventoryItem, 0, len(items))
	for _, it := range items {
		out = append(out, it.ToInventory(now))
	}
	return out, nil
}

// ToInventory computes days until expiry relative to now.
func (it Item) ToInventory(now time.Time) planner.InventoryItem {
	inv := planner.InventoryItem{
		IngredientID: it.IngredientID,
		Name:         it.Name,
		Quantity:     it.Quantity,
		Unit:         it.Unit,
	}
	if it.ExpiresOn != nil {
		days := int(truncateDay(*it.ExpiresOn).Sub(truncateDay(now)).Hours() / 24)
		inv.DaysUntilExpiry = &days
	}
	return inv
}

// SaveRecipe inserts or replaces a recipe.
func (r *Repository) SaveRecipe(ctx context.Context, owner string, rec planner.Recipe, sourceURL string) error {
	if rec.ID == "" {
		return errors.New("recipe id is required")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal recipe to JSON: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pantry_recipes (owner, id, data, source_url, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (owner, id) DO UPDATE SET
			data = excluded.data,
			source_url = excluded.source_url,
			updated_at = excluded.updated_at`,
		owner, rec.ID, string(data), sourceURL, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save recipe %s: %w", rec.ID, err)
	}
	return nil
}

// Recipe returns one recipe or ErrNotFound.
func (r *Repository) Recipe(ctx context.Context, owner, id string) (*planner.Recipe, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT data FROM pantry_recipes WHERE owner = ? AND id = ?`, owner, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipe %s: %w", id, err)
	}
	var rec planner.Recipe
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recipe JSON: %w", err)
	}
	return &rec, nil
}

// Recipes lists owner's recipes in insertion order. Rows whose JSON no
// longer decodes are skipped with a warning.
func (r *Repository) Recipes(ctx context.Context, owner string) ([]planner.Recipe, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, data FROM pantry_recipes WHERE owner = ? ORDER BY rowid`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}
	defer rows.Close()

	var recipes []planner.Recipe
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan recipe: %w", err)
		}
		var rec planner.Recipe
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			r.logger.Warn("Skipping unreadable recipe", zap.String("id", id), zap.Error(err))
			continue
		}
		recipes = append(recipes, rec)
	}
	return recipes, rows.Err()
}

// DeleteRecipe removes a recipe or returns ErrNotFound.
func (r *Repository) DeleteRecipe(ctx context.Context, owner, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM pantry_recipes WHERE owner = ? AND id = ?`, owner, id)
	if err != nil {
		return fmt.Errorf("failed to delete recipe %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountRecipes returns the number of owner's recipes.
func (r *Repository) CountRecipes(ctx context.Context, owner string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pantry_recipes WHERE owner = ?`, owner).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count recipes: %w", err)
	}
	return n, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
