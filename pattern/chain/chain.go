// Package chain implements the chain pattern executor: a strictly ordered
// sequence of agent steps, with HITL pause points interleaved (spec.md
// §4.6).
package chain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/thomasrohde/strandsflow/hooks"
	"github.com/thomasrohde/strandsflow/pattern"
	"github.com/thomasrohde/strandsflow/session"
	"github.com/thomasrohde/strandsflow/spec"
)

// Step is one entry in pattern.config.steps.
type Step struct {
	Agent          string   `json:"agent,omitempty"`
	Type           string   `json:"type,omitempty"` // "hitl" when this is a HITL step
	Input          string   `json:"input,omitempty"`
	Prompt         string   `json:"prompt,omitempty"`
	Tools          []string `json:"tools,omitempty"`
	ContextDisplay string   `json:"context_display,omitempty"`
	Default        string   `json:"default,omitempty"`
	TimeoutSeconds int      `json:"timeout,omitempty"`
	HITL           bool     `json:"hitl,omitempty"`
}

// IsHITL reports whether step is a human-in-the-loop pause point.
func (s Step) IsHITL() bool { return s.Type == "hitl" || s.HITL }

// Config is pattern.config for the chain pattern.
type Config struct {
	Steps []Step `json:"steps"`
}

// HistoryEntry is one completed step recorded in pattern_state.step_history.
type HistoryEntry struct {
	Index           int    `json:"index"`
	Agent           string `json:"agent"`
	Response        string `json:"response"`
	TokensEstimated int    `json:"tokens_estimated"`
}

// State is the pattern_state shape for the chain pattern (spec.md §4.6).
type State struct {
	CurrentStep int                `json:"current_step"`
	StepHistory []HistoryEntry     `json:"step_history"`
	HITL        *session.HITLState `json:"hitl_state,omitempty"`
}

// Executor implements pattern.Executor for the chain pattern.
type Executor struct{}

// New returns a chain Executor.
func New() *Executor { return &Executor{} }

func decodeConfig(raw map[string]any) (Config, error) {
	var cfg Config
	b, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("chain: marshal config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("chain: decode config: %w", err)
	}
	return cfg, nil
}

func decodeState(raw map[string]any) State {
	var st State
	b, err := json.Marshal(raw)
	if err != nil {
		return st
	}
	_ = json.Unmarshal(b, &st)
	return st
}

func encodeState(st State) map[string]any {
	b, _ := json.Marshal(st)
	var out map[string]any
	_ = json.Unmarshal(b, &out)
	return out
}

// Execute implements pattern.Executor. It runs the chain defined by
// specification s's pattern.config starting at (or resuming from) the
// session's checkpoint.
func (e *Executor) Execute(ctx context.Context, s *spec.Specification, st *session.State, deps pattern.Deps, hitlResponse *string) pattern.Result {
	cfg, err := decodeConfig(s.PatternConfig)
	if err != nil {
		return pattern.Result{Status: pattern.StatusFailed, Err: &pattern.ValidationError{Reason: err.Error()}}
	}
	cstate := decodeState(st.PatternState)

	var lastHITLResponse string
	if hitlResponse != nil {
		if cstate.HITL == nil || !cstate.HITL.Active {
			return pattern.Result{Status: pattern.StatusFailed, Err: pattern.ErrWaitingForHITL}
		}
		idx := *cstate.HITL.StepIndex
		cstate.StepHistory = append(cstate.StepHistory, HistoryEntry{
			Index: idx, Agent: "hitl", Response: *hitlResponse,
		})
		cstate.CurrentStep = idx + 1
		cstate.HITL = nil
		lastHITLResponse = *hitlResponse
		st.PatternState = encodeState(cstate)
		if err := checkpoint(ctx, deps, st); err != nil {
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
	}

	start := cstate.CurrentStep
	var lastResponse string
	if len(cstate.StepHistory) > 0 {
		lastResponse = cstate.StepHistory[len(cstate.StepHistory)-1].Response
	}

	for i := start; i < len(cfg.Steps); i++ {
		step := cfg.Steps[i]
		renderCtx := map[string]any{
			"inputs":        map[string]any{"values": s.Inputs.Values},
			"variables":     st.Variables,
			"steps":         cstate.StepHistory,
			"last_response": lastResponse,
			"hitl_response": lastHITLResponse,
		}

		if step.IsHITL() {
			cstate.CurrentStep = i
			cstate.HITL = &session.HITLState{
				Active:          true,
				Prompt:          step.Prompt,
				ContextDisplay:  step.ContextDisplay,
				DefaultResponse: step.Default,
				StepIndex:       intPtr(i),
			}
			st.PatternState = encodeState(cstate)
			st.Metadata.Status = session.StatusPaused
			if err := checkpoint(ctx, deps, st); err != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: err}
			}
			emitHITLPause(deps.Bus, st, s)
			return pattern.Result{Status: pattern.StatusPaused, HITL: cstate.HITL, Response: lastResponse}
		}

		text, inTok, outTok, err := deps.Invoke(ctx, step.Agent, step.Input, renderCtx, fmt.Sprintf("%s_%s", st.Metadata.SessionID, step.Agent))
		if err != nil {
			st.Metadata.Status = session.StatusFailed
			st.Metadata.Error = err.Error()
			if cerr := checkpoint(ctx, deps, st); cerr != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: cerr}
			}
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
		st.AddUsage(step.Agent, inTok, outTok)
		cstate.StepHistory = append(cstate.StepHistory, HistoryEntry{
			Index: i, Agent: step.Agent, Response: text, TokensEstimated: inTok + outTok,
		})
		cstate.CurrentStep = i + 1
		lastResponse = text
		lastHITLResponse = ""
		st.PatternState = encodeState(cstate)
		if err := checkpoint(ctx, deps, st); err != nil {
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
		emitStepComplete(deps.Bus, st, s, i)
	}

	st.Metadata.Status = session.StatusCompleted
	if err := checkpoint(ctx, deps, st); err != nil {
		return pattern.Result{Status: pattern.StatusFailed, Err: err}
	}
	return pattern.Result{Status: pattern.StatusSuccess, Response: lastResponse, CumulativeTokens: st.CumulativeTokens()}
}

func checkpoint(ctx context.Context, deps pattern.Deps, st *session.State) error {
	if deps.Checkpoint == nil {
		return nil
	}
	return deps.Checkpoint(ctx, st)
}

func intPtr(i int) *int { return &i }

func emitHITLPause(bus hooks.Bus, st *session.State, s *spec.Specification) {
	if bus == nil {
		return
	}
	bus.Publish(context.Background(), hooks.New(hooks.EventHITLPause, st.Metadata.SessionID, s.Name, string(s.PatternType), nil))
}

func emitStepComplete(bus hooks.Bus, st *session.State, s *spec.Specification, index int) {
	if bus == nil {
		return
	}
	bus.Publish(context.Background(), hooks.New(hooks.EventUnitComplete, st.Metadata.SessionID, s.Name, string(s.PatternType), map[string]any{"index": index}))
}
