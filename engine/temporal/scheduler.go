// Package temporal implements engine.Scheduler on top of a Temporal
// workflow.Context, grounded on the teacher's Temporal adapter
// (runtime/agent/engine/temporal/workflow_context.go: ExecuteActivity via
// workflow.ExecuteActivity, Now via workflow.Now).
//
// Simplification (documented per SPEC_FULL.md §4 New: Temporal-backed
// engine): pattern-executor tasks are plain Go closures, not serializable
// Temporal Activities, so they cannot cross process boundaries the way a
// registered Activity can. This Scheduler therefore runs each task inline
// via workflow.Go plus a settable future rather than scheduling it as a
// true Temporal Activity; it reproduces the Scheduler contract (bounded
// concurrency, deterministic Sleep/Now) without full activity-level
// durability for individual tasks. Full deterministic-replay activity
// dispatch would require generating a named Activity per task body, which
// is out of scope here.
package temporal

import (
	"context"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/thomasrohde/strandsflow/engine"
)

// Scheduler adapts engine.Scheduler to a Temporal workflow.Context captured
// at construction time. It must only be used from within the goroutine
// running that workflow's function.
type Scheduler struct {
	wctx workflow.Context
}

// New returns a Scheduler bound to wctx.
func New(wctx workflow.Context) *Scheduler {
	return &Scheduler{wctx: wctx}
}

// RunConcurrent implements engine.Scheduler by fanning tasks out across
// workflow.Go coroutines gated by a Temporal semaphore channel, mirroring
// the bounded-concurrency contract of engine/local.Scheduler but using
// Temporal's deterministic coroutine primitives instead of native
// goroutines/channels.
func (s *Scheduler) RunConcurrent(ctx context.Context, tasks []engine.Task, maxParallel int) []engine.Result {
	results := make([]engine.Result, len(tasks))
	if len(tasks) == 0 {
		return results
	}
	if maxParallel <= 0 {
		maxParallel = 1
	}

	sem := workflow.NewSemaphore(s.wctx, int64(maxParallel))
	doneCh := workflow.NewChannel(s.wctx)

	for i, task := range tasks {
		i, task := i, task
		workflow.Go(s.wctx, func(gctx workflow.Context) {
			if err := sem.Acquire(gctx, 1); err != nil {
				results[i] = engine.Result{Index: i, Err: err}
				doneCh.Send(gctx, struct{}{})
				return
			}
			defer sem.Release(1)

			value, err := task(ctx)
			results[i] = engine.Result{Index: i, Value: value, Err: err}
			doneCh.Send(gctx, struct{}{})
		})
	}

	for range tasks {
		doneCh.Receive(s.wctx, nil)
	}
	return results
}

// Sleep implements engine.Scheduler via workflow.Sleep, replay-safe under
// Temporal's deterministic execution model.
func (s *Scheduler) Sleep(_ context.Context, d time.Duration) error {
	return workflow.Sleep(s.wctx, d)
}

// Now implements engine.Scheduler via workflow.Now, which returns replay-
// consistent time rather than the wall clock.
func (s *Scheduler) Now() time.Time {
	return workflow.Now(s.wctx)
}
