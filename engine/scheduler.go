// Package engine defines the narrow Scheduler abstraction pattern
// executors run concurrent work through (spec.md §5 "A single scheduler
// ... serves all concurrent work in a workflow; there is no nesting of
// schedulers"). Two implementations are provided: engine/local (a bounded
// goroutine worker pool, the default) and engine/temporal (an alternate
// backend that runs each task as a workflow.Go coroutine inside a Temporal
// workflow; tasks are not scheduled as Temporal Activities).
package engine

import (
	"context"
	"time"
)

// Task is a single unit of concurrent work a pattern executor submits to
// a Scheduler — a workflow layer task, a parallel branch, or an
// orchestrator worker invocation.
type Task func(ctx context.Context) (any, error)

// Result pairs a Task's outcome with its index in the submitted batch, so
// callers can correlate output back to the task that produced it.
type Result struct {
	Index int
	Value any
	Err   error
}

// Scheduler runs pattern-executor tasks under a bounded concurrency limit.
// Implementations must be safe to call from any scheduler task without
// deadlocking on themselves (spec.md §5).
type Scheduler interface {
	// RunConcurrent runs tasks with at most maxParallel executing at once,
	// blocking until every task has completed (successfully or not), and
	// returns one Result per task in the same order as tasks.
	RunConcurrent(ctx context.Context, tasks []Task, maxParallel int) []Result
	// Sleep blocks for d, or until ctx is canceled, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
	// Now returns the scheduler's current time. Deterministic-replay
	// backends (e.g. Temporal) must route all time reads through this
	// method rather than time.Now directly.
	Now() time.Time
}
