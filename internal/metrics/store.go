package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SolveMetric records metadata for a single solve or suggestion call.
type SolveMetric struct {
	Feature   string
	Status    string
	Recipes   int
	Days      int
	LatencyMS int64
	TimedOut  bool
	Timestamp time.Time
}

// Store handles persistence of solve history to SQLite.
type Store struct {
	db *sql.DB
}

// NewStore initializes the Store with an existing database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record saves a metric to the database.
func (s *Store) Record(ctx context.Context, m SolveMetric) error {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	timedOut := 0
	if m.TimedOut {
		timedOut = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO solve_metrics (feature, status, recipes, days, latency_ms, timed_out, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.Feature, m.Status, m.Recipes, m.Days, m.LatencyMS, timedOut, ts.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record solve metric: %w", err)
	}
	return nil
}

// DailyStats represents solve totals for a single day.
type DailyStats struct {
	Date         string
	Solves       int
	Optimal      int
	TimedOut     int
	AvgLatencyMS float64
}

// GetDailyStats retrieves totals for the last N days, oldest first.
func (s *Store) GetDailyStats(ctx context.Context, days int) ([]DailyStats, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := s.db.QueryContext(ctx, `
		SELECT substr(timestamp, 1, 10) AS day,
		       COUNT(*),
		       SUM(CASE WHEN status = 'optimal' THEN 1 ELSE 0 END),
		       SUM(timed_out),
		       AVG(latency_ms)
		FROM solve_metrics
		WHERE timestamp >= ?
		GROUP BY day
		ORDER BY day`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	defer rows.Close()

	var results []DailyStats
	for rows.Next() {
		var d DailyStats
		var avg sql.NullFloat64
		if err := rows.Scan(&d.Date, &d.Solves, &d.Optimal, &d.TimedOut, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan daily stats: %w", err)
		}
		if avg.Valid {
			d.AvgLatencyMS = avg.Float64
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// Cleanup removes records older than the specified number of days.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	threshold := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	res, err := s.db.ExecContext(ctx, `DELETE FROM solve_metrics WHERE timestamp < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up solve metrics: %w", err)
	}
	return res.RowsAffected()
}
