package temporal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/thomasrohde/strandsflow/engine"
)

func TestSchedulerRunConcurrentWithinWorkflow(t *testing.T) {
	env := (&testsuite.WorkflowTestSuite{}).NewTestWorkflowEnvironment()

	wf := func(wctx workflow.Context) ([]int, error) {
		s := New(wctx)
		tasks := []engine.Task{
			func(context.Context) (any, error) { return 1, nil },
			func(context.Context) (any, error) { return 2, nil },
			func(context.Context) (any, error) { return 3, nil },
		}
		results := s.RunConcurrent(context.Background(), tasks, 2)
		out := make([]int, len(results))
		for i, r := range results {
			if r.Err != nil {
				return nil, r.Err
			}
			out[i] = r.Value.(int)
		}
		return out, nil
	}

	env.ExecuteWorkflow(wf)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out []int
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, []int{1, 2, 3}, out)
}

func TestSchedulerSleepAndNowWithinWorkflow(t *testing.T) {
	env := (&testsuite.WorkflowTestSuite{}).NewTestWorkflowEnvironment()

	wf := func(wctx workflow.Context) (bool, error) {
		s := New(wctx)
		before := s.Now()
		if err := s.Sleep(context.Background(), 0); err != nil {
			return false, err
		}
		after := s.Now()
		return !after.Before(before), nil
	}

	env.ExecuteWorkflow(wf)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var ok bool
	require.NoError(t, env.GetWorkflowResult(&ok))
	require.True(t, ok)
}
