package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"meal-optimizer/internal/pantry"
)

// ImportReport summarizes a batch recipe import.
type ImportReport struct {
	Imported []string
	Failed   map[string]error
}

// ImportRecipes clips every URL into owner's pantry, waiting at least
// interval between fetches. Failures are collected, not fatal.
func (a *App) ImportRecipes(ctx context.Context, owner string, urls []string, interval time.Duration) (ImportReport, error) {
	report := ImportReport{Failed: make(map[string]error)}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if interval > 0 {
		limiter = rate.NewLimiter(rate.Every(interval), 1)
	}

	for _, url := range urls {
		if err := limiter.Wait(ctx); err != nil {
			return report, fmt.Errorf("import interrupted: %w", err)
		}
		rec, err := a.clipper.ClipURL(ctx, owner, url)
		if err != nil {
			a.logger.Warn("Failed to import recipe", zap.String("url", url), zap.Error(err))
			report.Failed[url] = err
			continue
		}
		report.Imported = append(report.Imported, rec.ID)
		fmt.Fprintf(a.out, "Imported %s (%s)\n", rec.Name, rec.ID)
	}
	a.logger.Info("Import complete",
		zap.Int("imported", len(report.Imported)),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}

// AddItem stores an inventory row for owner.
func (a *App) AddItem(ctx context.Context, item *pantry.Item) error {
	if err := a.pantry.AddItem(ctx, item); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Added %s x %g\n", item.IngredientID, item.Quantity)
	return nil
}
