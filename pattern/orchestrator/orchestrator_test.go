package orchestrator

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
		PatternType:   spec.PatternOrchestratorWorkers,
		Runtime:       spec.Runtime{MaxParallel: 4},
		PatternConfig: cfg,
		Agents: map[string]spec.AgentSpec{
			"lead": {Prompt: "plan"}, "worker": {Prompt: "work"}, "writer": {Prompt: "writeup"},
		},
	}
}

func newState(id string) *session.State {
	return session.New(id, "demo", "spec-text", string(spec.PatternOrchestratorWorkers), map[string]any{}, map[string]any{}, time.Now())
}

func TestOrchestratorCompletesSingleRound(t *testing.T) {
	s := newSpec(map[string]any{
		"orchestrator":    map[string]any{"agent": "lead", "input": "decompose", "limits": map[string]any{"max_workers": 3, "max_rounds": 2}},
		"worker_template": map[string]any{"agent": "worker"},
	})
	st := newState("o1")

	deps := pattern.Deps{
		Bus:       hooks.NewBus(telemetry.NoopLogger()),
		Scheduler: local.New(),
		Invoke: func(_ context.Context, agentID, _ string, _ map[string]any, sessionSuffix string) (string, int, int, error) {
			switch agentID {
			case "lead":
				if containsDecide(sessionSuffix) {
					return `{"decision":"complete"}`, 1, 1, nil
				}
				return `[{"description":"task a"},{"description":"task b"}]`, 1, 1, nil
			default:
				return "done-" + agentID, 1, 1, nil
			}
		},
	}

	res := New().Execute(context.Background(), s, st, deps, nil)
	require.Equal(t, pattern.StatusSuccess, res.Status)
	require.Equal(t, session.StatusCompleted, st.Metadata.Status)
}

func containsDecide(s string) bool {
	for i := 0; i+len("_decide") <= len(s); i++ {
		if s[i:i+len("_decide")] == "_decide" {
			return true
		}
	}
	return false
}

func TestOrchestratorPausesOnDecompositionReview(t *testing.T) {
	s := newSpec(map[string]any{
		"orchestrator":        map[string]any{"agent": "lead", "input": "decompose", "limits": map[string]any{"max_workers": 2, "max_rounds": 1}},
		"worker_template":     map[string]any{"agent": "worker"},
		"decomposition_review": map[string]any{"prompt": "approve plan?"},
	})
	st := newState("o2")

	deps := pattern.Deps{
		Bus:       hooks.NewBus(telemetry.NoopLogger()),
		Scheduler: local.New(),
		Invoke: func(_ context.Context, agentID, _ string, _ map[string]any, _ string) (string, int, int, error) {
			if agentID == "lead" {
				return `[{"description":"task a"}]`, 1, 1, nil
			}
			return "done-" + agentID, 1, 1, nil
		},
	}

	res := New().Execute(context.Background(), s, st, deps, nil)
	require.Equal(t, pattern.StatusPaused, res.Status)
	require.NotNil(t, res.HITL)
	require.Equal(t, "decomposition_review", res.HITL.StepType)

	resp := "" // pass-through, keep original plan
	res2 := New().Execute(context.Background(), s, st, deps, &resp)
	require.Equal(t, pattern.StatusSuccess, res2.Status)
}

func TestOrchestratorResumeWithoutHITLActiveFails(t *testing.T) {
	s := newSpec(map[string]any{
		"orchestrator":    map[string]any{"agent": "lead", "input": "decompose"},
		"worker_template": map[string]any{"agent": "worker"},
	})
	st := newState("o3")
	resp := "x"
	deps := pattern.Deps{Bus: hooks.NewBus(telemetry.NoopLogger()), Scheduler: local.New()}
	res := New().Execute(context.Background(), s, st, deps, &resp)
	require.Equal(t, pattern.StatusFailed, res.Status)
	require.ErrorIs(t, res.Err, pattern.ErrWaitingForHITL)
}

func TestOrchestratorWithReduceAndWriteup(t *testing.T) {
	s := newSpec(map[string]any{
		"orchestrator":    map[string]any{"agent": "lead", "input": "decompose", "limits": map[string]any{"max_workers": 2, "max_rounds": 1}},
		"worker_template": map[string]any{"agent": "worker"},
		"reduce":          map[string]any{"agent": "writer", "input": "reduce"},
		"writeup":         map[string]any{"agent": "writer", "input": "writeup"},
	})
	st := newState("o4")

	deps := pattern.Deps{
		Bus:       hooks.NewBus(telemetry.NoopLogger()),
		Scheduler: local.New(),
		Invoke: func(_ context.Context, agentID, _ string, _ map[string]any, _ string) (string, int, int, error) {
			switch agentID {
			case "lead":
				return `[{"description":"task a"}]`, 1, 1, nil
			case "writer":
				return "final-writeup", 1, 1, nil
			default:
				return "done-" + agentID, 1, 1, nil
			}
		},
	}

	res := New().Execute(context.Background(), s, st, deps, nil)
	require.Equal(t, pattern.StatusSuccess, res.Status)
	require.Equal(t, "final-writeup", res.Response)
}
