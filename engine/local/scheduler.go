// Package local implements engine.Scheduler with a bounded in-process
// goroutine worker pool, grounded on the teacher's in-memory engine
// (runtime/agent/engine/inmem/engine.go) concurrency style, simplified from
// a full durable Workflow/Activity/Signal engine down to the narrow
// Scheduler contract pattern executors actually need.
package local

import (
	"context"
	"sync"
	"time"

	"github.com/thomasrohde/strandsflow/engine"
)

// Scheduler is the default engine.Scheduler: tasks run on goroutines
// gated by a counting semaphore of width maxParallel.
type Scheduler struct{}

// New returns a local Scheduler.
func New() *Scheduler { return &Scheduler{} }

// RunConcurrent implements engine.Scheduler.
func (s *Scheduler) RunConcurrent(ctx context.Context, tasks []engine.Task, maxParallel int) []engine.Result {
	results := make([]engine.Result, len(tasks))
	if len(tasks) == 0 {
		return results
	}
	if maxParallel <= 0 {
		maxParallel = 1
	}

	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup
	wg.Add(len(tasks))

	for i, task := range tasks {
		go func(i int, task engine.Task) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			value, err := task(ctx)
			results[i] = engine.Result{Index: i, Value: value, Err: err}
		}(i, task)
	}

	wg.Wait()
	return results
}

// Sleep implements engine.Scheduler.
func (s *Scheduler) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Now implements engine.Scheduler.
func (s *Scheduler) Now() time.Time { return time.Now() }
