package local

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/strandsflow/engine"
)

func TestRunConcurrentRespectsMaxParallel(t *testing.T) {
	s := New()
	var inFlight, maxObserved int32

	tasks := make([]engine.Task, 10)
	for i := range tasks {
		i := i
		tasks[i] = func(ctx context.Context) (any, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&maxObserved)
				if n <= old || atomic.CompareAndSwapInt32(&maxObserved, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return i, nil
		}
	}

	results := s.RunConcurrent(context.Background(), tasks, 3)
	require.Len(t, results, 10)
	require.LessOrEqual(t, int(maxObserved), 3)
	for i, r := range results {
		require.NoError(t, r.Err)
		require.Equal(t, i, r.Value)
	}
}

func TestRunConcurrentPropagatesTaskErrors(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	tasks := []engine.Task{
		func(context.Context) (any, error) { return nil, boom },
		func(context.Context) (any, error) { return "ok", nil },
	}
	results := s.RunConcurrent(context.Background(), tasks, 2)
	require.ErrorIs(t, results[0].Err, boom)
	require.NoError(t, results[1].Err)
	require.Equal(t, "ok", results[1].Value)
}

func TestRunConcurrentEmptyTasks(t *testing.T) {
	s := New()
	results := s.RunConcurrent(context.Background(), nil, 4)
	require.Empty(t, results)
}

func TestSleepReturnsOnContextCancellation(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Sleep(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSleepCompletesAfterDuration(t *testing.T) {
	s := New()
	start := time.Now()
	require.NoError(t, s.Sleep(context.Background(), 10*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}
