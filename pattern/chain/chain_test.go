package chain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/strandsflow/hooks"
	"github.com/thomasrohde/strandsflow/pattern"
	"github.com/thomasrohde/strandsflow/session"
	"github.com/thomasrohde/strandsflow/spec"
	"github.com/thomasrohde/strandsflow/telemetry"
)

func newSpec(patternCfg map[string]any) *spec.Specification {
	return &spec.Specification{
		Name:          "demo",
		PatternType:   spec.PatternChain,
		PatternConfig: patternCfg,
		Agents: map[string]spec.AgentSpec{
			"writer": {Prompt: "write"},
		},
	}
}

func newStateNow(id string) *session.State {
	return session.New(id, "demo", "spec-text", string(spec.PatternChain), map[string]any{}, map[string]any{}, time.Now())
}

func TestChainRunsStepsSequentially(t *testing.T) {
	s := newSpec(map[string]any{
		"steps": []any{
			map[string]any{"agent": "writer", "input": "draft"},
			map[string]any{"agent": "writer", "input": "revise"},
		},
	})
	st := newStateNow("s1")

	var invoked []string
	deps := pattern.Deps{
		Bus: hooks.NewBus(telemetry.NoopLogger()),
		Invoke: func(_ context.Context, agentID, _ string, _ map[string]any, _ string) (string, int, int, error) {
			invoked = append(invoked, agentID)
			return "out-" + agentID, 1, 1, nil
		},
	}

	res := New().Execute(context.Background(), s, st, deps, nil)
	require.Equal(t, pattern.StatusSuccess, res.Status)
	require.Equal(t, []string{"writer", "writer"}, invoked)
	require.Equal(t, session.StatusCompleted, st.Metadata.Status)
}

func TestChainPausesOnHITLStep(t *testing.T) {
	s := newSpec(map[string]any{
		"steps": []any{
			map[string]any{"agent": "writer", "input": "draft"},
			map[string]any{"type": "hitl", "prompt": "approve?"},
			map[string]any{"agent": "writer", "input": "finalize"},
		},
	})
	st := newStateNow("s2")

	deps := pattern.Deps{
		Bus: hooks.NewBus(telemetry.NoopLogger()),
		Invoke: func(_ context.Context, agentID, _ string, _ map[string]any, _ string) (string, int, int, error) {
			return "out", 1, 1, nil
		},
	}

	res := New().Execute(context.Background(), s, st, deps, nil)
	require.Equal(t, pattern.StatusPaused, res.Status)
	require.NotNil(t, res.HITL)
	require.True(t, res.HITL.Active)
	require.Equal(t, session.StatusPaused, st.Metadata.Status)

	resp := "looks good"
	res2 := New().Execute(context.Background(), s, st, deps, &resp)
	require.Equal(t, pattern.StatusSuccess, res2.Status)
	require.Equal(t, session.StatusCompleted, st.Metadata.Status)
}

func TestChainResumeWithoutHITLActiveFails(t *testing.T) {
	s := newSpec(map[string]any{"steps": []any{}})
	st := newStateNow("s3")
	resp := "x"
	deps := pattern.Deps{Bus: hooks.NewBus(telemetry.NoopLogger())}
	res := New().Execute(context.Background(), s, st, deps, &resp)
	require.Equal(t, pattern.StatusFailed, res.Status)
	require.ErrorIs(t, res.Err, pattern.ErrWaitingForHITL)
}

func TestChainPropagatesAgentInvocationError(t *testing.T) {
	s := newSpec(map[string]any{
		"steps": []any{map[string]any{"agent": "writer", "input": "draft"}},
	})
	st := newStateNow("s4")
	deps := pattern.Deps{
		Bus: hooks.NewBus(telemetry.NoopLogger()),
		Invoke: func(context.Context, string, string, map[string]any, string) (string, int, int, error) {
			return "", 0, 0, context.DeadlineExceeded
		},
	}
	res := New().Execute(context.Background(), s, st, deps, nil)
	require.Equal(t, pattern.StatusFailed, res.Status)
	require.Error(t, res.Err)
	require.Equal(t, session.StatusFailed, st.Metadata.Status)
}
