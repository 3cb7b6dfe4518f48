package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thomasrohde/strandsflow/agent"
	"github.com/thomasrohde/strandsflow/agentcache"
	"github.com/thomasrohde/strandsflow/hooks"
	"github.com/thomasrohde/strandsflow/model"
	"github.com/thomasrohde/strandsflow/pattern"
	"github.com/thomasrohde/strandsflow/retrybudget"
	"github.com/thomasrohde/strandsflow/session"
	"github.com/thomasrohde/strandsflow/spec"
	"github.com/thomasrohde/strandsflow/template"
)

// newInvokeFunc returns the pattern.InvokeFunc every pattern executor shares:
// it renders promptTemplate, resolves/builds the named agent through the
// cache, invokes it under the retry/budget wrapper, and updates the
// session's cumulative token usage (spec.md §4.5).
func newInvokeFunc(s *spec.Specification, st *session.State, cache *agentcache.Cache, opts Options) pattern.InvokeFunc {
	budget := retrybudget.NewTokenBudget(maxTokens(s))

	return func(ctx context.Context, agentID, promptTemplate string, renderCtx map[string]any, sessionSuffix string) (string, int, int, error) {
		agentSpec, ok := s.Agents[agentID]
		if !ok {
			return "", 0, 0, fmt.Errorf("runtime: undefined agent %q", agentID)
		}

		prompt, err := template.Render(promptTemplate, renderCtx, template.Strict)
		if err != nil {
			return "", 0, 0, err
		}

		rc := effectiveRuntimeConfig(s.Runtime, agentSpec.Overrides)
		a, err := cache.GetOrBuild(ctx, rc, agentcache.BuildArgs{
			AgentID:   agentID,
			Overrides: agentSpec.Overrides,
			SessionHandle: &agent.SessionHandle{
				SessionID: sessionSuffix,
				AgentID:   agentID,
			},
		})
		if err != nil {
			return "", 0, 0, err
		}

		cfg := retrybudget.Config{
			Retries: s.Runtime.EffectiveRetries(),
			Backoff: retrybudget.Backoff(s.Runtime.Backoff),
			Wait:    time.Second,
		}

		onRetry := func(attempt int, retryErr error, wait time.Duration) {
			opts.Bus.Publish(ctx, hooks.New(hooks.EventRetryAttempt, st.Metadata.SessionID, s.Name, string(s.PatternType), map[string]any{
				"agent_id": agentID,
				"attempt":  attempt,
				"error":    retryErr.Error(),
				"wait_s":   wait.Seconds(),
			}))
		}

		rec, err := retrybudget.Invoke(ctx, cfg, budget, onRetry, func(ctx context.Context) (*model.Response, error) {
			return a.Invoke(ctx, prompt)
		})
		if err != nil {
			var be *retrybudget.BudgetExceeded
			if errors.As(err, &be) {
				opts.Bus.Publish(ctx, hooks.New(hooks.EventBudgetExceeded, st.Metadata.SessionID, s.Name, string(s.PatternType), map[string]any{
					"agent_id": agentID,
				}))
			}
			return "", 0, 0, err
		}

		st.AddUsage(agentID, rec.InputTokens, rec.OutputTokens)
		return rec.Text, rec.InputTokens, rec.OutputTokens, nil
	}
}

func maxTokens(s *spec.Specification) int {
	if s.Runtime.Budgets == nil {
		return 0
	}
	return s.Runtime.Budgets.MaxTokens
}

// classifyError maps a pattern executor's terminal error to the driver's
// exit-code table (spec.md §6, §7).
func classifyError(err error) ExitCode {
	if err == nil {
		return ExitSuccess
	}
	var be *retrybudget.BudgetExceeded
	if errors.As(err, &be) {
		return ExitBudgetExceeded
	}
	var ve *pattern.ValidationError
	if errors.As(err, &ve) {
		return ExitRuntime
	}
	var ge *pattern.GraphError
	if errors.As(err, &ge) {
		return ExitRuntime
	}
	if errors.Is(err, pattern.ErrHITLTimeout) {
		return ExitRuntime
	}
	if errors.Is(err, pattern.ErrWaitingForHITL) {
		return ExitRuntime
	}
	if errors.Is(err, session.ErrSessionNotFound) {
		return ExitNotFound
	}
	return ExitRuntime
}
