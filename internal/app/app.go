// Package app wires the repositories and the optimizer for the command line.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"meal-optimizer/internal/clipper"
	"meal-optimizer/internal/metrics"
	"meal-optimizer/internal/pantry"
	"meal-optimizer/internal/planner"
)

// CLITenant owns runs created from the command line.
const CLITenant = "cli"

// App holds the application's dependencies.
type App struct {
	pantry  *pantry.Repository
	runs    *planner.PlanRepository
	history *metrics.Store
	clipper *clipper.Clipper
	logger  *zap.Logger
	out     io.Writer
	now     func() time.Time
}

// NewApp creates and initializes a new App instance over db. Results are
// written to out.
func NewApp(db *sql.DB, logger *zap.Logger, out io.Writer) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	repo := pantry.NewRepository(db, logger)
	return &App{
		pantry:  repo,
		runs:    planner.NewPlanRepository(db),
		history: metrics.NewStore(db),
		clipper: clipper.NewClipper(repo, logger),
		logger:  logger,
		out:     out,
		now:     time.Now,
	}
}

// Pantry exposes the stored catalog.
func (a *App) Pantry() *pantry.Repository {
	return a.pantry
}

// Solve decodes a problem from r, optimizes it and prints the result.
func (a *App) Solve(ctx context.Context, r io.Reader) (planner.Result, error) {
	var p planner.Problem
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return planner.Result{}, fmt.Errorf("failed to decode problem: %w", err)
	}
	if err := p.Validate(); err != nil {
		return planner.Result{}, fmt.Errorf("invalid problem: %w", err)
	}
	return a.solve(ctx, p)
}

// SolveStored optimizes over the pantry of req.Owner.
func (a *App) SolveStored(ctx context.Context, req pantry.PlanRequest) (planner.Result, error) {
	if req.Start.IsZero() {
		req.Start = a.now()
	}
	p, err := a.pantry.BuildProblem(ctx, req)
	if err != nil {
		return planner.Result{}, err
	}
	return a.solve(ctx, p)
}

func (a *App) solve(ctx context.Context, p planner.Problem) (planner.Result, error) {
	start := time.Now()
	res := planner.Optimize(ctx, p, planner.WithLogger(a.logger))
	elapsed := time.Since(start)

	a.record(ctx, metrics.SolveMetric{
		Feature:   planner.FeatureOptimization,
		Status:    string(res.Status),
		Recipes:   len(p.Recipes),
		Days:      p.PlanningHorizon.Days,
		LatencyMS: elapsed.Milliseconds(),
		TimedOut:  res.TimedOut,
	})
	a.saveRun(ctx, planner.FeatureOptimization, string(res.Status), p, res, elapsed)
	a.logger.Info("Solve complete", zap.String("summary", res.Summary()))
	return res, a.print(res)
}

// Suggest decodes a suggestion request from r and prints the ranking.
func (a *App) Suggest(ctx context.Context, r io.Reader) (planner.SuggestionResponse, error) {
	var req planner.SuggestionRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return planner.SuggestionResponse{}, fmt.Errorf("failed to decode suggestion request: %w", err)
	}

	start := time.Now()
	resp := planner.SuggestionResponse{Suggestions: planner.Suggest(req.Inventory, req.Recipes, req.Mode, req.Limit)}
	elapsed := time.Since(start)

	a.record(ctx, metrics.SolveMetric{
		Feature:   planner.FeatureSuggestions,
		Status:    "ok",
		Recipes:   len(req.Recipes),
		LatencyMS: elapsed.Milliseconds(),
	})
	a.saveRun(ctx, planner.FeatureSuggestions, "ok", req, resp, elapsed)
	return resp, a.print(resp)
}

// CleanupRuns removes runs and solve history older than olderThanDays.
func (a *App) CleanupRuns(ctx context.Context, olderThanDays int) (int64, int64, error) {
	if olderThanDays < 0 {
		return 0, 0, fmt.Errorf("days must not be negative, got %d", olderThanDays)
	}
	runs, err := a.runs.Cleanup(ctx, a.now().UTC().AddDate(0, 0, -olderThanDays))
	if err != nil {
		return 0, 0, err
	}
	history, err := a.history.Cleanup(ctx, olderThanDays)
	if err != nil {
		return runs, 0, err
	}
	a.logger.Info("Cleanup complete", zap.Int64("runs", runs), zap.Int64("metrics", history))
	return runs, history, nil
}

// Stats prints solve totals for the last days.
func (a *App) Stats(ctx context.Context, days int) error {
	stats, err := a.history.GetDailyStats(ctx, days)
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		_, err := fmt.Fprintln(a.out, "No solves recorded.")
		return err
	}
	for _, d := range stats {
		if _, err := fmt.Fprintf(a.out, "%s  solves=%d optimal=%d timed_out=%d avg_ms=%.1f\n",
			d.Date, d.Solves, d.Optimal, d.TimedOut, d.AvgLatencyMS); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) record(ctx context.Context, m metrics.SolveMetric) {
	if err := a.history.Record(ctx, m); err != nil {
		a.logger.Warn("Failed to record solve metric", zap.Error(err))
	}
}

func (a *App) saveRun(ctx context.Context, feature, status string, in, out any, elapsed time.Duration) {
	input, err := json.Marshal(in)
	if err != nil {
		a.logger.Warn("Failed to encode run input", zap.Error(err))
		return
	}
	output, err := json.Marshal(out)
	if err != nil {
		a.logger.Warn("Failed to encode run output", zap.Error(err))
		return
	}
	err = a.runs.Save(ctx, &planner.Run{
		TenantID:  CLITenant,
		Feature:   feature,
		Status:    status,
		Input:     input,
		Output:    output,
		LatencyMS: elapsed.Milliseconds(),
	})
	if err != nil {
		a.logger.Warn("Failed to persist run", zap.Error(err))
	}
}

func (a *App) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
