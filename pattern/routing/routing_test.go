package routing

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
		PatternType:   spec.PatternRouting,
		PatternConfig: cfg,
		Agents: map[string]spec.AgentSpec{
			"router": {Prompt: "route"}, "billing": {Prompt: "b"}, "tech": {Prompt: "t"},
		},
	}
}

func newState(id string) *session.State {
	return session.New(id, "demo", "spec-text", string(spec.PatternRouting), map[string]any{}, map[string]any{}, time.Now())
}

func baseConfig() map[string]any {
	return map[string]any{
		"router": map[string]any{"agent": "router", "input": "classify"},
		"routes": map[string]any{
			"billing": map[string]any{"then": []any{map[string]any{"agent": "billing", "input": "handle"}}},
			"tech":    map[string]any{"then": []any{map[string]any{"agent": "tech", "input": "handle"}}},
		},
	}
}

func TestRoutingChoosesRouteFromJSONResponse(t *testing.T) {
	s := newSpec(baseConfig())
	st := newState("r1")

	deps := pattern.Deps{
		Bus: hooks.NewBus(telemetry.NoopLogger()),
		Invoke: func(_ context.Context, agentID, _ string, _ map[string]any, _ string) (string, int, int, error) {
			if agentID == "router" {
				return `{"route": "billing"}`, 1, 1, nil
			}
			return "out-" + agentID, 1, 1, nil
		},
	}

	res := New().Execute(context.Background(), s, st, deps, nil)
	require.Equal(t, pattern.StatusSuccess, res.Status)
	require.Equal(t, "out-billing", res.Response)
	require.Equal(t, session.StatusCompleted, st.Metadata.Status)
}

func TestRoutingChoosesRouteFromPlainToken(t *testing.T) {
	s := newSpec(baseConfig())
	st := newState("r2")

	deps := pattern.Deps{
		Bus: hooks.NewBus(telemetry.NoopLogger()),
		Invoke: func(_ context.Context, agentID, _ string, _ map[string]any, _ string) (string, int, int, error) {
			if agentID == "router" {
				return "tech", 1, 1, nil
			}
			return "out-" + agentID, 1, 1, nil
		},
	}

	res := New().Execute(context.Background(), s, st, deps, nil)
	require.Equal(t, pattern.StatusSuccess, res.Status)
	require.Equal(t, "out-tech", res.Response)
}

func TestRoutingRetriesOnInvalidRouteThenFails(t *testing.T) {
	s := newSpec(baseConfig())
	st := newState("r3")

	calls := 0
	deps := pattern.Deps{
		Bus: hooks.NewBus(telemetry.NoopLogger()),
		Invoke: func(_ context.Context, agentID, _ string, _ map[string]any, _ string) (string, int, int, error) {
			if agentID == "router" {
				calls++
				return "not-a-route", 1, 1, nil
			}
			return "out-" + agentID, 1, 1, nil
		},
	}

	res := New().Execute(context.Background(), s, st, deps, nil)
	require.Equal(t, pattern.StatusFailed, res.Status)
	require.Equal(t, 3, calls) // default max_retries=2 => 3 attempts
}

func TestRoutingResumeWithoutChoiceFails(t *testing.T) {
	s := newSpec(baseConfig())
	st := newState("r4")
	resp := "x"
	deps := pattern.Deps{Bus: hooks.NewBus(telemetry.NoopLogger())}
	res := New().Execute(context.Background(), s, st, deps, &resp)
	require.Equal(t, pattern.StatusFailed, res.Status)
	require.ErrorIs(t, res.Err, pattern.ErrWaitingForHITL)
}
