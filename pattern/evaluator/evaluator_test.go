package evaluator

import (
	"context"
	"fmt"
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
		PatternType:   spec.PatternEvaluatorOptimizer,
		PatternConfig: cfg,
		Agents: map[string]spec.AgentSpec{
			"writer": {Prompt: "write"}, "critic": {Prompt: "critique"},
		},
	}
}

func newState(id string) *session.State {
	return session.New(id, "demo", "spec-text", string(spec.PatternEvaluatorOptimizer), map[string]any{}, map[string]any{}, time.Now())
}

func baseConfig(minScore, maxIters int) map[string]any {
	return map[string]any{
		"producer":  "writer",
		"evaluator": map[string]any{"agent": "critic", "input": "score it"},
		"accept":    map[string]any{"min_score": minScore, "max_iters": maxIters},
	}
}

func TestEvaluatorConvergesWhenScoreMeetsThreshold(t *testing.T) {
	s := newSpec(baseConfig(80, 3))
	st := newState("e1")

	deps := pattern.Deps{
		Bus: hooks.NewBus(telemetry.NoopLogger()),
		Invoke: func(_ context.Context, agentID, _ string, _ map[string]any, _ string) (string, int, int, error) {
			if agentID == "critic" {
				return `{"score": 90, "feedback": "great"}`, 1, 1, nil
			}
			return "draft-v1", 1, 1, nil
		},
	}

	res := New().Execute(context.Background(), s, st, deps, nil)
	require.Equal(t, pattern.StatusSuccess, res.Status)
	require.Equal(t, "draft-v1", res.Response)
	require.Equal(t, session.StatusCompleted, st.Metadata.Status)
}

func TestEvaluatorReturnsHighestScoringOnExhaustedIterations(t *testing.T) {
	s := newSpec(baseConfig(100, 2))
	st := newState("e2")

	iter := 0
	deps := pattern.Deps{
		Bus: hooks.NewBus(telemetry.NoopLogger()),
		Invoke: func(_ context.Context, agentID, _ string, _ map[string]any, _ string) (string, int, int, error) {
			if agentID == "critic" {
				iter++
				return fmt.Sprintf(`{"score": %d, "feedback": "ok"}`, iter*10), 1, 1, nil
			}
			return fmt.Sprintf("draft-v%d", iter+1), 1, 1, nil
		},
	}

	res := New().Execute(context.Background(), s, st, deps, nil)
	require.Equal(t, pattern.StatusSuccess, res.Status)
	require.Equal(t, session.StatusCompleted, st.Metadata.Status)
}

func TestEvaluatorHandlesParseFailureAsZeroScore(t *testing.T) {
	s := newSpec(baseConfig(50, 1))
	st := newState("e3")

	deps := pattern.Deps{
		Bus: hooks.NewBus(telemetry.NoopLogger()),
		Invoke: func(_ context.Context, agentID, _ string, _ map[string]any, _ string) (string, int, int, error) {
			if agentID == "critic" {
				return "not json at all", 1, 1, nil
			}
			return "draft-v1", 1, 1, nil
		},
	}

	res := New().Execute(context.Background(), s, st, deps, nil)
	require.Equal(t, pattern.StatusSuccess, res.Status)
	require.Equal(t, "draft-v1", res.Response)
}

func TestEvaluatorResumeWithoutHITLActiveFails(t *testing.T) {
	s := newSpec(baseConfig(80, 3))
	st := newState("e4")
	resp := "x"
	deps := pattern.Deps{Bus: hooks.NewBus(telemetry.NoopLogger())}
	res := New().Execute(context.Background(), s, st, deps, &resp)
	require.Equal(t, pattern.StatusFailed, res.Status)
	require.ErrorIs(t, res.Err, pattern.ErrWaitingForHITL)
}
