package parallel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/strandsflow/engine/local"
	"github.com/thomasrohde/strandsflow/hooks"
	"github.com/thomasrohde/strandsflow/pattern"
	"github.com/thomasrohde/strandsflow/session"
	"github.com/thomasrohde/strandsflow/spec"
	"github.com/thomasrohde/strandsflow/telemetry"
)

func newSpec(cfg map[string]any) *spec.Specification {
	return &spec.Specification{
		Name:          "demo",
		PatternType:   spec.PatternParallel,
		Runtime:       spec.Runtime{MaxParallel: 4},
		PatternConfig: cfg,
		Agents: map[string]spec.AgentSpec{
			"web": {Prompt: "w"}, "docs": {Prompt: "d"}, "synth": {Prompt: "s"},
		},
	}
}

func newState(id string) *session.State {
	return session.New(id, "demo", "spec-text", string(spec.PatternParallel), map[string]any{}, map[string]any{}, time.Now())
}

func TestParallelRunsBranchesConcurrentlyAndReduces(t *testing.T) {
	s := newSpec(map[string]any{
		"branches": []any{
			map[string]any{"id": "web", "steps": []any{map[string]any{"agent": "web", "input": "x"}}},
			map[string]any{"id": "docs", "steps": []any{map[string]any{"agent": "docs", "input": "y"}}},
		},
		"reduce": map[string]any{"agent": "synth", "input": "merge"},
	})
	st := newState("p1")
	deps := pattern.Deps{
		Bus:       hooks.NewBus(telemetry.NoopLogger()),
		Scheduler: local.New(),
		Invoke: func(_ context.Context, agentID, _ string, _ map[string]any, _ string) (string, int, int, error) {
			return "out-" + agentID, 1, 1, nil
		},
	}

	res := New().Execute(context.Background(), s, st, deps, nil)
	require.Equal(t, pattern.StatusSuccess, res.Status)
	require.Equal(t, "out-synth", res.Response)
	require.Equal(t, session.StatusCompleted, st.Metadata.Status)
}

func TestParallelRequiresAtLeastTwoBranches(t *testing.T) {
	s := newSpec(map[string]any{
		"branches": []any{map[string]any{"id": "web", "steps": []any{}}},
	})
	st := newState("p2")
	deps := pattern.Deps{Bus: hooks.NewBus(telemetry.NoopLogger()), Scheduler: local.New()}
	res := New().Execute(context.Background(), s, st, deps, nil)
	require.Equal(t, pattern.StatusFailed, res.Status)
	var verr *pattern.ValidationError
	require.ErrorAs(t, res.Err, &verr)
}

func TestParallelSynthesizesWithoutReduce(t *testing.T) {
	s := newSpec(map[string]any{
		"branches": []any{
			map[string]any{"id": "web", "steps": []any{map[string]any{"agent": "web", "input": "x"}}},
			map[string]any{"id": "docs", "steps": []any{map[string]any{"agent": "docs", "input": "y"}}},
		},
	})
	st := newState("p3")
	deps := pattern.Deps{
		Bus:       hooks.NewBus(telemetry.NoopLogger()),
		Scheduler: local.New(),
		Invoke: func(_ context.Context, agentID, _ string, _ map[string]any, _ string) (string, int, int, error) {
			return "out-" + agentID, 1, 1, nil
		},
	}
	res := New().Execute(context.Background(), s, st, deps, nil)
	require.Equal(t, pattern.StatusSuccess, res.Status)
	require.Contains(t, res.Response, "out-web")
	require.Contains(t, res.Response, "out-docs")
}

func TestParallelPausesOnBranchHITLAndResumes(t *testing.T) {
	s := newSpec(map[string]any{
		"branches": []any{
			map[string]any{"id": "web", "steps": []any{
				map[string]any{"agent": "web", "input": "x"},
				map[string]any{"type": "hitl", "prompt": "ok?"},
			}},
			map[string]any{"id": "docs", "steps": []any{map[string]any{"agent": "docs", "input": "y"}}},
		},
	})
	st := newState("p4")
	deps := pattern.Deps{
		Bus:       hooks.NewBus(telemetry.NoopLogger()),
		Scheduler: local.New(),
		Invoke: func(_ context.Context, agentID, _ string, _ map[string]any, _ string) (string, int, int, error) {
			return "out-" + agentID, 1, 1, nil
		},
	}

	res := New().Execute(context.Background(), s, st, deps, nil)
	require.Equal(t, pattern.StatusPaused, res.Status)
	require.NotNil(t, res.HITL)
	require.Equal(t, "web", res.HITL.BranchID)

	resp := "approved"
	res2 := New().Execute(context.Background(), s, st, deps, &resp)
	require.Equal(t, pattern.StatusSuccess, res2.Status)
	require.Equal(t, session.StatusCompleted, st.Metadata.Status)
}

func TestParallelResumeWithoutHITLActiveFails(t *testing.T) {
	s := newSpec(map[string]any{
		"branches": []any{
			map[string]any{"id": "web", "steps": []any{}},
			map[string]any{"id": "docs", "steps": []any{}},
		},
	})
	st := newState("p5")
	resp := "x"
	deps := pattern.Deps{Bus: hooks.NewBus(telemetry.NoopLogger()), Scheduler: local.New()}
	res := New().Execute(context.Background(), s, st, deps, &resp)
	require.Equal(t, pattern.StatusFailed, res.Status)
	require.ErrorIs(t, res.Err, pattern.ErrWaitingForHITL)
}
