package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"meal-optimizer/internal/planner"
)

var (
	// ErrJobNotFound is returned for unknown ids or ids of another tenant.
	ErrJobNotFound = errors.New("job not found")
	// ErrQueueFull is returned when too many jobs are queued or running.
	ErrQueueFull = errors.New("job queue is full")
	// ErrQueueClosed is returned by Submit after Shutdown.
	ErrQueueClosed = errors.New("job queue is shut down")
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job is a background full solve.
type Job struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	Feature    string          `json:"feature"`
	Status     Status          `json:"status"`
	Result     *planner.Result `json:"result,omitempty"`
	Error      string          `json:"error_message,omitempty"`
	LatencyMS  int64           `json:"latency_ms"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`

	problem planner.Problem
}

// Problem returns the submitted problem.
func (j Job) Problem() planner.Problem {
	return j.problem
}

// SolveFunc runs one full solve.
type SolveFunc func(ctx context.Context, p planner.Problem) planner.Result

// RunRecorder persists finished jobs.
type RunRecorder interface {
	Save(ctx context.Context, run *planner.Run) error
}

const (
	defaultCapacity = 64
	defaultRetained = 1000
)

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithSolver replaces planner.Optimize.
func WithSolver(f SolveFunc) QueueOption {
	return func(q *Queue) { q.solve = f }
}

// WithRunRecorder persists every finished job as a run.
func WithRunRecorder(r RunRecorder) QueueOption {
	return func(q *Queue) { q.runs = r }
}

// WithLogger sets the queue logger.
func WithLogger(l *zap.Logger) QueueOption {
	return func(q *Queue) { q.logger = l }
}

// WithCapacity bounds the number of queued plus running jobs.
func WithCapacity(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

// WithObserver is called with every job that finishes.
func WithObserver(f func(Job)) QueueOption {
	return func(q *Queue) { q.observe = f }
}

// Queue runs submitted solves on a Pool and keeps their state in memory.
type Queue struct {
	pool     *Pool
	solve    SolveFunc
	runs     RunRecorder
	logger   *zap.Logger
	observe  func(Job)
	capacity int
	retained int

	mu      sync.Mutex
	jobs    map[string]*Job
	order   []string
	pending int
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates a queue whose jobs share pool.
func NewQueue(pool *Pool, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		pool:     pool,
		solve:    func(ctx context.Context, p planner.Problem) planner.Result { return planner.Optimize(ctx, p) },
		logger:   zap.NewNop(),
		capacity: defaultCapacity,
		retained: defaultRetained,
		jobs:     make(map[string]*Job),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func newJobID() string {
	return "job_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Submit queues a full solve for tenantID.
func (q *Queue) Submit(tenantID string, p planner.Problem) (Job, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Job{}, ErrQueueClosed
	}
	if q.pending >= q.capacity {
		q.mu.Unlock()
		return Job{}, ErrQueueFull
	}
	job := &Job{
		ID:        newJobID(),
		TenantID:  tenantID,
		Feature:   planner.FeatureOptimization,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
		problem:   p,
	}
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	q.pending++
	snapshot := *job
	q.wg.Add(1)
	q.mu.Unlock()

	q.logger.Info("Job created",
		zap.String("job_id", job.ID),
		zap.String("tenant_id", tenantID),
		zap.String("status", string(StatusQueued)),
	)
	go q.execute(job.ID)
	return snapshot, nil
}

func (q *Queue) execute(id string) {
	defer q.wg.Done()

	err := q.pool.Do(q.ctx, func(ctx context.Context) {
		started := time.Now().UTC()
		p := q.update(id, func(j *Job) {
			j.Status = StatusRunning
			j.StartedAt = &started
		})
		q.logger.Info("Job running", zap.String("job_id", id))

		res := q.solve(ctx, p)
		finished := time.Now().UTC()
		q.update(id, func(j *Job) {
			j.FinishedAt = &finished
			j.LatencyMS = finished.Sub(started).Milliseconds()
			j.Result = &res
			if res.Status == planner.StatusError {
				j.Status = StatusFailed
				j.Error = res.Error
			} else {
				j.Status = StatusSucceeded
			}
		})
	})
	if err != nil {
		finished := time.Now().UTC()
		q.update(id, func(j *Job) {
			j.Status = StatusFailed
			j.Error = "job canceled before it started"
			j.FinishedAt = &finished
		})
	}
	q.finish(id)
}

// update mutates a job under the lock and returns its problem.
func (q *Queue) update(id string, f func(*Job)) planner.Problem {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.jobs[id]
	f(j)
	return j.problem
}

func (q *Queue) finish(id string) {
	q.mu.Lock()
	q.pending--
	job := *q.jobs[id]
	q.prune()
	q.mu.Unlock()

	logger := q.logger.With(
		zap.String("job_id", id),
		zap.String("tenant_id", job.TenantID),
		zap.String("status", string(job.Status)),
		zap.Int64("latency_ms", job.LatencyMS),
	)
	if job.Status == StatusFailed {
		logger.Warn("Job failed", zap.String("error", job.Error))
	} else {
		logger.Info("Job finished")
	}

	if q.runs != nil {
		q.record(job)
	}
	if q.observe != nil {
		q.observe(job)
	}
}

func (q *Queue) record(job Job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(q.ctx), 5*time.Second)
	defer cancel()

	input, err := json.Marshal(job.problem)
	if err != nil {
		q.logger.Error("Failed to encode job input", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	var output []byte
	if job.Result != nil {
		if output, err = json.Marshal(job.Result); err != nil {
			q.logger.Error("Failed to encode job output", zap.String("job_id", job.ID), zap.Error(err))
			return
		}
	}
	status := string(job.Status)
	if job.Result != nil {
		status = string(job.Result.Status)
	}
	run := &planner.Run{
		TenantID:  job.TenantID,
		Feature:   job.Feature,
		Status:    status,
		Input:     input,
		Output:    output,
		LatencyMS: job.LatencyMS,
		JobID:     job.ID,
	}
	if err := q.runs.Save(ctx, run); err != nil {
		q.logger.Error("Failed to persist job run", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// prune drops the oldest finished jobs beyond the retention limit. Callers
// hold q.mu.
func (q *Queue) prune() {
	excess := len(q.jobs) - q.retained
	if excess <= 0 {
		return
	}
	kept := q.order[:0]
	for _, id := range q.order {
		j := q.jobs[id]
		if excess > 0 && (j.Status == StatusSucceeded || j.Status == StatusFailed) {
			delete(q.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
}

// Get returns a snapshot of a tenant's job.
func (q *Queue) Get(tenantID, id string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok || j.TenantID != tenantID {
		return Job{}, ErrJobNotFound
	}
	return *j, nil
}

// List returns up to limit of a tenant's jobs, newest first, optionally
// filtered by status.
func (q *Queue) List(tenantID string, status Status, limit int) []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := []Job{}
	for i := len(q.order) - 1; i >= 0; i-- {
		j := q.jobs[q.order[i]]
		if j.TenantID != tenantID || (status != "" && j.Status != status) {
			continue
		}
		out = append(out, *j)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Pending is the number of queued or running jobs.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Shutdown stops accepting jobs, cancels queued and running ones and waits
// for them to settle or for ctx to end.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
