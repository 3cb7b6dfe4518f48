package graph

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

func newSpec(cfg map[string]any) *spec.Specification {
	return &spec.Specification{
		Name:          "demo",
		PatternType:   spec.PatternGraph,
		PatternConfig: cfg,
		Agents: map[string]spec.AgentSpec{
			"greeter": {Prompt: "greet"}, "closer": {Prompt: "close"},
		},
	}
}

func newState(id string) *session.State {
	return session.New(id, "demo", "spec-text", string(spec.PatternGraph), map[string]any{}, map[string]any{}, time.Now())
}

func TestGraphWalksToTerminalNode(t *testing.T) {
	s := newSpec(map[string]any{
		"entry": "greet",
		"nodes": map[string]any{
			"greet": map[string]any{"agent": "greeter", "input": "hi"},
			"close": map[string]any{"agent": "closer", "input": "bye"},
		},
		"edges": []any{
			map[string]any{"from": "greet", "to": []any{"close"}},
		},
	})
	st := newState("g1")

	deps := pattern.Deps{
		Bus: hooks.NewBus(telemetry.NoopLogger()),
		Invoke: func(_ context.Context, agentID, _ string, _ map[string]any, _ string) (string, int, int, error) {
			return "out-" + agentID, 1, 1, nil
		},
	}

	res := New().Execute(context.Background(), s, st, deps, nil)
	require.Equal(t, pattern.StatusSuccess, res.Status)
	require.Equal(t, "out-closer", res.Response)
	require.Equal(t, session.StatusCompleted, st.Metadata.Status)
}

func TestGraphChoosesEdgeByCondition(t *testing.T) {
	s := newSpec(map[string]any{
		"entry": "greet",
		"nodes": map[string]any{
			"greet": map[string]any{"agent": "greeter", "input": "hi"},
			"close": map[string]any{"agent": "closer", "input": "bye"},
		},
		"edges": []any{
			map[string]any{"from": "greet", "choose": []any{
				map[string]any{"when": "{{ nodes.greet.response }}", "to": "close"},
				map[string]any{"when": "else", "to": "greet"},
			}},
		},
	})
	st := newState("g2")

	deps := pattern.Deps{
		Bus: hooks.NewBus(telemetry.NoopLogger()),
		Invoke: func(_ context.Context, agentID, _ string, _ map[string]any, _ string) (string, int, int, error) {
			return "out-" + agentID, 1, 1, nil
		},
	}

	res := New().Execute(context.Background(), s, st, deps, nil)
	require.Equal(t, pattern.StatusSuccess, res.Status)
	require.Equal(t, "out-closer", res.Response)
}

func TestGraphPausesOnHITLNodeAndResumes(t *testing.T) {
	s := newSpec(map[string]any{
		"entry": "review",
		"nodes": map[string]any{
			"review": map[string]any{"type": "hitl", "prompt": "approve?"},
			"close":  map[string]any{"agent": "closer", "input": "bye"},
		},
		"edges": []any{
			map[string]any{"from": "review", "to": []any{"close"}},
		},
	})
	st := newState("g3")

	deps := pattern.Deps{
		Bus: hooks.NewBus(telemetry.NoopLogger()),
		Invoke: func(_ context.Context, agentID, _ string, _ map[string]any, _ string) (string, int, int, error) {
			return "out-" + agentID, 1, 1, nil
		},
	}

	res := New().Execute(context.Background(), s, st, deps, nil)
	require.Equal(t, pattern.StatusPaused, res.Status)
	require.NotNil(t, res.HITL)
	require.Equal(t, "review", res.HITL.NodeID)

	resp := "approved"
	res2 := New().Execute(context.Background(), s, st, deps, &resp)
	require.Equal(t, pattern.StatusSuccess, res2.Status)
	require.Equal(t, "out-closer", res2.Response)
}

func TestGraphResumeWithoutHITLActiveFails(t *testing.T) {
	s := newSpec(map[string]any{
		"entry": "greet",
		"nodes": map[string]any{
			"greet": map[string]any{"agent": "greeter", "input": "hi"},
		},
	})
	st := newState("g4")
	resp := "x"
	deps := pattern.Deps{Bus: hooks.NewBus(telemetry.NoopLogger())}
	res := New().Execute(context.Background(), s, st, deps, &resp)
	require.Equal(t, pattern.StatusFailed, res.Status)
	require.ErrorIs(t, res.Err, pattern.ErrWaitingForHITL)
}

func TestGraphRaisesIterationLimit(t *testing.T) {
	s := newSpec(map[string]any{
		"entry":          "loop",
		"max_iterations": 2,
		"nodes": map[string]any{
			"loop": map[string]any{"agent": "greeter", "input": "hi"},
		},
		"edges": []any{
			map[string]any{"from": "loop", "to": []any{"loop"}},
		},
	})
	st := newState("g5")

	deps := pattern.Deps{
		Bus: hooks.NewBus(telemetry.NoopLogger()),
		Invoke: func(_ context.Context, agentID, _ string, _ map[string]any, _ string) (string, int, int, error) {
			return "out-" + agentID, 1, 1, nil
		},
	}

	res := New().Execute(context.Background(), s, st, deps, nil)
	require.Equal(t, pattern.StatusFailed, res.Status)
	var gerr *pattern.GraphError
	require.ErrorAs(t, res.Err, &gerr)
	require.Equal(t, pattern.GraphErrorIterationLimit, gerr.Kind)
}

func TestGraphDetectsUnknownEdgeTarget(t *testing.T) {
	s := newSpec(map[string]any{
		"entry": "greet",
		"nodes": map[string]any{
			"greet": map[string]any{"agent": "greeter", "input": "hi"},
		},
		"edges": []any{
			map[string]any{"from": "greet", "to": []any{"missing"}},
		},
	})
	st := newState("g6")
	deps := pattern.Deps{Bus: hooks.NewBus(telemetry.NoopLogger())}
	res := New().Execute(context.Background(), s, st, deps, nil)
	require.Equal(t, pattern.StatusFailed, res.Status)
	var verr *pattern.ValidationError
	require.ErrorAs(t, res.Err, &verr)
}
