package planner

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	FeatureOptimization = "meal_optimization"
	FeatureSuggestions  = "meal_suggestions"
)

// Run is a persisted input/output pair of one solve or suggestion call.
type Run struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	Feature   string          `json:"feature"`
	Status    string          `json:"status"`
	Input     json.RawMessage `json:"input"`
	Output    json.RawMessage `json:"output"`
	LatencyMS int64           `json:"latency_ms"`
	JobID     string          `json:"job_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// PlanRepository stores runs in the optimization_runs table.
type PlanRepository struct {
	db *sql.DB
}

// NewPlanRepository creates a new PlanRepository.
func NewPlanRepository(d *sql.DB) *PlanRepository {
	return &PlanRepository{db: d}
}

// Save inserts run, assigning an id and timestamp when missing.
func (r *PlanRepository) Save(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO optimization_runs (id, tenant_id, feature, status, input, output, latency_ms, job_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.TenantID, run.Feature, run.Status, string(run.Input), string(run.Output),
		run.LatencyMS, run.JobID, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// Get returns a tenant's run, or nil when it does not exist.
func (r *PlanRepository) Get(ctx context.Context, tenantID, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, feature, status, input, output, latency_ms, job_id, created_at
		FROM optimization_runs WHERE tenant_id = ? AND id = ?`, tenantID, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// ListRecentByTenant returns the newest runs of a tenant, newest first.
func (r *PlanRepository) ListRecentByTenant(ctx context.Context, tenantID string, limit int) ([]Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, feature, status, input, output, latency_ms, job_id, created_at
		FROM optimization_runs WHERE tenant_id = ?
		ORDER BY created_at DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs for tenant %s: %w", tenantID, err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Cleanup deletes runs created before cutoff.
func (r *PlanRepository) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM optimization_runs WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up runs: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*Run, error) {
	var (
		run           Run
		input, output string
	)
	if err := s.Scan(&run.ID, &run.TenantID, &run.Feature, &run.Status, &input, &output,
		&run.LatencyMS, &run.JobID, &run.CreatedAt); err != nil {
		return nil, err
	}
	if input != "" {
		run.Input = json.RawMessage(input)
	}
	if output != "" {
		run.Output = json.RawMessage(output)
	}
	return &run, nil
}
