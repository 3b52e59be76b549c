// Package jobs bounds how many full solves run at once and runs queued
// solves in the background.
package jobs

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent CPU-bound work. Every full solve can use its whole
// time budget, so callers share a fixed number of slots.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
}

// NewPool creates a pool with size slots. A size below one uses the number
// of CPUs.
func NewPool(size int) *Pool {
	if size < 1 {
		size = runtime.NumCPU()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

// Size is the number of slots.
func (p *Pool) Size() int { return int(p.size) }

// Do waits for a free slot and runs fn in the caller's goroutine. It returns
// ctx.Err() if ctx ends before a slot frees up.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context)) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	fn(ctx)
	return nil
}
