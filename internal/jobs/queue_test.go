package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meal-optimizer/internal/planner"
)

type mockRecorder struct {
	mu   sync.Mutex
	runs []planner.Run
}

func (m *mockRecorder) Save(ctx context.Context, run *planner.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *run)
	return nil
}

func (m *mockRecorder) all() []planner.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]planner.Run(nil), m.runs...)
}

func waitFor(t *testing.T, q *Queue, tenant, id string, want Status) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		var err error
		job, err = q.Get(tenant, id)
		return err == nil && job.Status == want
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

func TestQueue_RunsRealSolve(t *testing.T) {
	rec := &mockRecorder{}
	var observed atomic.Int32
	q := NewQueue(NewPool(2), WithRunRecorder(rec), WithObserver(func(Job) { observed.Add(1) }))
	defer q.Shutdown(context.Background())

	p := planner.Problem{
		PlanningHorizon: planner.PlanningHorizon{Days: 1},
		Recipes:         []planner.Recipe{{ID: "r1", Name: "Toast"}},
		Weights:         planner.DefaultWeights(),
		TimeoutMS:       1000,
	}
	job, err := q.Submit("t1", p)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Regexp(t, `^job_[0-9a-f]{16}$`, job.ID)

	done := waitFor(t, q, "t1", job.ID, StatusSucceeded)
	require.NotNil(t, done.Result)
	assert.Equal(t, planner.StatusOptimal, done.Result.Status)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.FinishedAt)
	assert.Equal(t, "r1", done.Problem().Recipes[0].ID)

	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)
	run := rec.all()[0]
	assert.Equal(t, job.ID, run.JobID)
	assert.Equal(t, "t1", run.TenantID)
	assert.Equal(t, "optimal", run.Status)
	assert.Contains(t, string(run.Input), `"planning_horizon"`)
	require.Eventually(t, func() bool { return observed.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestQueue_FailedSolve(t *testing.T) {
	q := NewQueue(NewPool(1), WithSolver(func(ctx context.Context, p planner.Problem) planner.Result {
		return planner.Result{Status: planner.StatusError, Error: "backend exploded"}
	}))
	defer q.Shutdown(context.Background())

	job, err := q.Submit("t1", planner.Problem{})
	require.NoError(t, err)

	done := waitFor(t, q, "t1", job.ID, StatusFailed)
	assert.Equal(t, "backend exploded", done.Error)
}

func TestQueue_TenantScoping(t *testing.T) {
	q := NewQueue(NewPool(1), WithSolver(func(ctx context.Context, p planner.Problem) planner.Result {
		return planner.Result{Status: planner.StatusNoSolution}
	}))
	defer q.Shutdown(context.Background())

	a, err := q.Submit("a", planner.Problem{})
	require.NoError(t, err)
	_, err = q.Submit("b", planner.Problem{})
	require.NoError(t, err)
	a2, err := q.Submit("a", planner.Problem{})
	require.NoError(t, err)

	_, err = q.Get("b", a.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = q.Get("a", "job_missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	waitFor(t, q, "a", a2.ID, StatusSucceeded)
	list := q.List("a", "", 0)
	require.Len(t, list, 2)
	assert.Equal(t, a2.ID, list[0].ID)
	assert.Len(t, q.List("a", "", 1), 1)
	assert.Empty(t, q.List("a", StatusRunning, 0))
}

func TestQueue_CapacityAndShutdown(t *testing.T) {
	release := make(chan struct{})
	q := NewQueue(NewPool(1), WithCapacity(2), WithSolver(func(ctx context.Context, p planner.Problem) planner.Result {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return planner.Result{Status: planner.StatusNoSolution}
	}))

	_, err := q.Submit("t", planner.Problem{})
	require.NoError(t, err)
	second, err := q.Submit("t", planner.Problem{})
	require.NoError(t, err)
	_, err = q.Submit("t", planner.Problem{})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, q.Pending())

	close(release)
	waitFor(t, q, "t", second.ID, StatusSucceeded)
	require.Eventually(t, func() bool { return q.Pending() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, q.Shutdown(context.Background()))
	_, err = q.Submit("t", planner.Problem{})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_ShutdownCancelsQueuedJobs(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	q := NewQueue(NewPool(1), WithSolver(func(ctx context.Context, p planner.Problem) planner.Result {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return planner.Result{Status: planner.StatusError, Error: "search canceled"}
	}))

	first, err := q.Submit("t", planner.Problem{})
	require.NoError(t, err)
	<-started
	queued, err := q.Submit("t", planner.Problem{})
	require.NoError(t, err)

	require.NoError(t, q.Shutdown(context.Background()))

	j, err := q.Get("t", first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, j.Status)
	j, err = q.Get("t", queued.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, j.Status)
	assert.NotEmpty(t, j.Error)
}

func TestPool_LimitsConcurrency(t *testing.T) {
	pool := NewPool(2)
	assert.Equal(t, 2, pool.Size())

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.Do(context.Background(), func(context.Context) {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
			})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPool_CanceledWait(t *testing.T) {
	pool := NewPool(1)
	block := make(chan struct{})
	go pool.Do(context.Background(), func(context.Context) { <-block })
	defer close(block)

	time.Sleep(10 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Do(ctx, func(context.Context) { t.Error("must not run") })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
