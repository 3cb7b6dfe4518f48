// Package orchestrator implements the orchestrator-workers pattern
// executor: a planner agent decomposes work into tasks each round, a
// pool of workers executes them concurrently, and the orchestrator
// decides whether to continue or complete (spec.md §4.11).
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/thomasrohde/strandsflow/engine"
	"github.com/thomasrohde/strandsflow/hooks"
	"github.com/thomasrohde/strandsflow/pattern"
	"github.com/thomasrohde/strandsflow/session"
	"github.com/thomasrohde/strandsflow/spec"
)

// Limits is pattern.config.orchestrator.limits.
type Limits struct {
	MaxWorkers int `json:"max_workers,omitempty"`
	MaxRounds  int `json:"max_rounds,omitempty"`
}

func (l Limits) effectiveMaxWorkers() int {
	if l.MaxWorkers > 0 {
		return l.MaxWorkers
	}
	return 5
}

func (l Limits) effectiveMaxRounds() int {
	if l.MaxRounds > 0 {
		return l.MaxRounds
	}
	return 3
}

// OrchestratorConfig is pattern.config.orchestrator.
type OrchestratorConfig struct {
	Agent  string `json:"agent"`
	Input  string `json:"input"`
	Limits Limits `json:"limits,omitempty"`
}

// WorkerTemplate is pattern.config.worker_template.
type WorkerTemplate struct {
	Agent string   `json:"agent"`
	Tools []string `json:"tools,omitempty"`
}

// ReviewGate is a HITL pause point shared by decomposition_review and
// reduce_review.
type ReviewGate struct {
	Prompt         string `json:"prompt"`
	ContextDisplay string `json:"context_display,omitempty"`
}

// Step is an optional reduce or writeup step.
type Step struct {
	Agent string `json:"agent"`
	Input string `json:"input"`
}

// Config is pattern.config for the orchestrator-workers pattern.
type Config struct {
	Orchestrator       OrchestratorConfig `json:"orchestrator"`
	WorkerTemplate     WorkerTemplate     `json:"worker_template"`
	DecompositionReview *ReviewGate       `json:"decomposition_review,omitempty"`
	ReduceReview       *ReviewGate        `json:"reduce_review,omitempty"`
	Reduce             *Step              `json:"reduce,omitempty"`
	Writeup            *Step              `json:"writeup,omitempty"`
}

// PlannedTask is one entry in the orchestrator's decomposition response.
type PlannedTask struct {
	Description string `json:"description"`
	Context     string `json:"context,omitempty"`
}

// WorkerOutput is one entry in pattern_state.rounds[].worker_outputs.
type WorkerOutput struct {
	Task     string `json:"task"`
	Response string `json:"response"`
	Tokens   int    `json:"tokens"`
	inTok    int
	outTok   int
}

// Round is one entry in pattern_state.rounds.
type Round struct {
	Round         int            `json:"round"`
	Plan          []PlannedTask  `json:"plan"`
	WorkerOutputs []WorkerOutput `json:"worker_outputs"`
}

// State is the pattern_state shape for the orchestrator-workers pattern
// (spec.md §4.11).
type State struct {
	CurrentRound int                `json:"current_round"`
	Rounds       []Round            `json:"rounds"`
	ReduceDone   bool               `json:"reduce_done"`
	ReduceOutput string             `json:"reduce_output,omitempty"`
	WriteupDone  bool               `json:"writeup_done"`
	WriteupOutput string            `json:"writeup_output,omitempty"`
	PendingPlan  []PlannedTask      `json:"pending_plan,omitempty"`
	HITL         *session.HITLState `json:"hitl_state,omitempty"`
}

// Executor implements pattern.Executor for the orchestrator-workers
// pattern.
type Executor struct{}

// New returns an orchestrator-workers Executor.
func New() *Executor { return &Executor{} }

func decodeConfig(raw map[string]any) (Config, error) {
	var cfg Config
	b, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("orchestrator: marshal config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("orchestrator: decode config: %w", err)
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

type decision struct {
	Decision string `json:"decision"`
}

// Execute implements pattern.Executor.
func (e *Executor) Execute(ctx context.Context, s *spec.Specification, st *session.State, deps pattern.Deps, hitlResponse *string) pattern.Result {
	cfg, err := decodeConfig(s.PatternConfig)
	if err != nil {
		return pattern.Result{Status: pattern.StatusFailed, Err: &pattern.ValidationError{Reason: err.Error()}}
	}
	cstate := decodeState(st.PatternState)

	if hitlResponse != nil {
		if cstate.HITL == nil || !cstate.HITL.Active {
			return pattern.Result{Status: pattern.StatusFailed, Err: pattern.ErrWaitingForHITL}
		}
		switch cstate.HITL.StepType {
		case "decomposition_review":
			var edited []PlannedTask
			if json.Unmarshal([]byte(*hitlResponse), &edited) == nil && len(edited) > 0 {
				cstate.PendingPlan = edited
			}
		case "reduce_review":
			cstate.ReduceOutput = *hitlResponse
			cstate.ReduceDone = true
		}
		cstate.HITL = nil
		st.PatternState = encodeState(cstate)
		if err := checkpoint(ctx, deps, st); err != nil {
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
	}

	maxRounds := cfg.Orchestrator.Limits.effectiveMaxRounds()
	maxWorkers := cfg.Orchestrator.Limits.effectiveMaxWorkers()

	for cstate.CurrentRound < maxRounds {
		round := cstate.CurrentRound

		plan := cstate.PendingPlan
		if plan == nil {
			planned, inTok, outTok, err := decompose(ctx, s, st, cfg, cstate, round, deps)
			if err != nil {
				st.Metadata.Status = session.StatusFailed
				st.Metadata.Error = err.Error()
				if cerr := checkpoint(ctx, deps, st); cerr != nil {
					return pattern.Result{Status: pattern.StatusFailed, Err: cerr}
				}
				return pattern.Result{Status: pattern.StatusFailed, Err: err}
			}
			st.AddUsage(cfg.Orchestrator.Agent, inTok, outTok)
			if len(planned) > maxWorkers {
				planned = planned[:maxWorkers]
			}
			cstate.PendingPlan = planned
			plan = planned
			st.PatternState = encodeState(cstate)
			if err := checkpoint(ctx, deps, st); err != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: err}
			}

			if cfg.DecompositionReview != nil {
				cstate.HITL = &session.HITLState{
					Active:         true,
					Prompt:         cfg.DecompositionReview.Prompt,
					ContextDisplay: cfg.DecompositionReview.ContextDisplay,
					StepType:       "decomposition_review",
				}
				st.PatternState = encodeState(cstate)
				st.Metadata.Status = session.StatusPaused
				if err := checkpoint(ctx, deps, st); err != nil {
					return pattern.Result{Status: pattern.StatusFailed, Err: err}
				}
				emit(deps.Bus, hooks.EventHITLPause, st, s, nil)
				return pattern.Result{Status: pattern.StatusPaused, HITL: cstate.HITL}
			}
		}

		outputs, err := fanOutWorkers(ctx, s, st, cfg, plan, round, deps)
		if err != nil {
			st.Metadata.Status = session.StatusFailed
			st.Metadata.Error = err.Error()
			if cerr := checkpoint(ctx, deps, st); cerr != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: cerr}
			}
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
		cstate.Rounds = append(cstate.Rounds, Round{Round: round, Plan: plan, WorkerOutputs: outputs})
		cstate.PendingPlan = nil
		st.PatternState = encodeState(cstate)
		if err := checkpoint(ctx, deps, st); err != nil {
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
		emit(deps.Bus, hooks.EventUnitComplete, st, s, map[string]any{"round": round})

		cont, inTok, outTok, err := shouldContinue(ctx, s, st, cfg, cstate, round, deps)
		if err != nil {
			st.Metadata.Status = session.StatusFailed
			st.Metadata.Error = err.Error()
			if cerr := checkpoint(ctx, deps, st); cerr != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: cerr}
			}
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
		st.AddUsage(cfg.Orchestrator.Agent, inTok, outTok)
		if !cont || round+1 >= maxRounds {
			// Record the round loop as finished before moving on, so a
			// resume from reduce_review does not run another round.
			cstate.CurrentRound = maxRounds
			st.PatternState = encodeState(cstate)
			if err := checkpoint(ctx, deps, st); err != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: err}
			}
			break
		}
		cstate.CurrentRound = round + 1
		st.PatternState = encodeState(cstate)
		if err := checkpoint(ctx, deps, st); err != nil {
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
	}

	if cfg.ReduceReview != nil && !cstate.ReduceDone {
		cstate.HITL = &session.HITLState{
			Active:         true,
			Prompt:         cfg.ReduceReview.Prompt,
			ContextDisplay: cfg.ReduceReview.ContextDisplay,
			StepType:       "reduce_review",
		}
		st.PatternState = encodeState(cstate)
		st.Metadata.Status = session.StatusPaused
		if err := checkpoint(ctx, deps, st); err != nil {
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
		emit(deps.Bus, hooks.EventHITLPause, st, s, nil)
		return pattern.Result{Status: pattern.StatusPaused, HITL: cstate.HITL}
	}

	if cfg.Reduce != nil && !cstate.ReduceDone {
		renderCtx := map[string]any{"rounds": cstate.Rounds}
		text, inTok, outTok, err := deps.Invoke(ctx, cfg.Reduce.Agent, cfg.Reduce.Input, renderCtx, fmt.Sprintf("%s_reduce", st.Metadata.SessionID))
		if err != nil {
			st.Metadata.Status = session.StatusFailed
			st.Metadata.Error = err.Error()
			if cerr := checkpoint(ctx, deps, st); cerr != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: cerr}
			}
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
		st.AddUsage(cfg.Reduce.Agent, inTok, outTok)
		cstate.ReduceOutput = text
		cstate.ReduceDone = true
		st.PatternState = encodeState(cstate)
		if err := checkpoint(ctx, deps, st); err != nil {
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
	}

	if cfg.Writeup != nil && !cstate.WriteupDone {
		renderCtx := map[string]any{
			"rounds": cstate.Rounds,
			"reduce": cstate.ReduceOutput,
		}
		text, inTok, outTok, err := deps.Invoke(ctx, cfg.Writeup.Agent, cfg.Writeup.Input, renderCtx, fmt.Sprintf("%s_writeup", st.Metadata.SessionID))
		if err != nil {
			st.Metadata.Status = session.StatusFailed
			st.Metadata.Error = err.Error()
			if cerr := checkpoint(ctx, deps, st); cerr != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: cerr}
			}
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
		st.AddUsage(cfg.Writeup.Agent, inTok, outTok)
		cstate.WriteupOutput = text
		cstate.WriteupDone = true
		st.PatternState = encodeState(cstate)
		if err := checkpoint(ctx, deps, st); err != nil {
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
	}

	st.Metadata.Status = session.StatusCompleted
	if err := checkpoint(ctx, deps, st); err != nil {
		return pattern.Result{Status: pattern.StatusFailed, Err: err}
	}

	response := finalResponse(cstate)
	return pattern.Result{Status: pattern.StatusSuccess, Response: response, CumulativeTokens: st.CumulativeTokens()}
}

func finalResponse(cstate State) string {
	if cstate.WriteupDone {
		return cstate.WriteupOutput
	}
	if cstate.ReduceDone {
		return cstate.ReduceOutput
	}
	if len(cstate.Rounds) == 0 {
		return ""
	}
	last := cstate.Rounds[len(cstate.Rounds)-1]
	if len(last.WorkerOutputs) == 0 {
		return ""
	}
	return last.WorkerOutputs[len(last.WorkerOutputs)-1].Response
}

func decompose(ctx context.Context, s *spec.Specification, st *session.State, cfg Config, cstate State, round int, deps pattern.Deps) ([]PlannedTask, int, int, error) {
	renderCtx := map[string]any{
		"inputs": map[string]any{"values": s.Inputs.Values},
		"rounds": cstate.Rounds,
	}
	text, inTok, outTok, err := deps.Invoke(ctx, cfg.Orchestrator.Agent, cfg.Orchestrator.Input, renderCtx, fmt.Sprintf("%s_%s_%d", st.Metadata.SessionID, cfg.Orchestrator.Agent, round))
	if err != nil {
		return nil, inTok, outTok, err
	}
	var tasks []PlannedTask
	if err := json.Unmarshal([]byte(text), &tasks); err != nil {
		return nil, inTok, outTok, fmt.Errorf("orchestrator: decomposition response is not a JSON task array: %w", err)
	}
	return tasks, inTok, outTok, nil
}

func fanOutWorkers(ctx context.Context, s *spec.Specification, st *session.State, cfg Config, plan []PlannedTask, round int, deps pattern.Deps) ([]WorkerOutput, error) {
	tasks := make([]engine.Task, len(plan))
	for i, t := range plan {
		idx := i
		task := t
		tasks[i] = func(ctx context.Context) (any, error) {
			renderCtx := map[string]any{
				"task":    task.Description,
				"context": task.Context,
			}
			text, inTok, outTok, err := deps.Invoke(ctx, cfg.WorkerTemplate.Agent, task.Description, renderCtx, fmt.Sprintf("%s_worker%d_r%d", st.Metadata.SessionID, idx, round))
			if err != nil {
				return nil, err
			}
			return WorkerOutput{Task: task.Description, Response: text, Tokens: inTok + outTok, inTok: inTok, outTok: outTok}, nil
		}
	}
	results := deps.Scheduler.RunConcurrent(ctx, tasks, s.Runtime.EffectiveMaxParallel())
	outputs := make([]WorkerOutput, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			return nil, r.Err
		}
		wo := r.Value.(WorkerOutput)
		outputs = append(outputs, wo)
		st.AddUsage(cfg.WorkerTemplate.Agent, wo.inTok, wo.outTok)
	}
	return outputs, nil
}

func shouldContinue(ctx context.Context, s *spec.Specification, st *session.State, cfg Config, cstate State, round int, deps pattern.Deps) (bool, int, int, error) {
	renderCtx := map[string]any{"rounds": cstate.Rounds}
	text, inTok, outTok, err := deps.Invoke(ctx, cfg.Orchestrator.Agent, cfg.Orchestrator.Input, renderCtx, fmt.Sprintf("%s_%s_%d_decide", st.Metadata.SessionID, cfg.Orchestrator.Agent, round))
	if err != nil {
		return false, inTok, outTok, err
	}
	var d decision
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return false, inTok, outTok, nil
	}
	return d.Decision == "continue", inTok, outTok, nil
}

func checkpoint(ctx context.Context, deps pattern.Deps, st *session.State) error {
	if deps.Checkpoint == nil {
		return nil
	}
	return deps.Checkpoint(ctx, st)
}

func emit(bus hooks.Bus, eventType hooks.EventType, st *session.State, s *spec.Specification, data map[string]any) {
	if bus == nil {
		return
	}
	bus.Publish(context.Background(), hooks.New(eventType, st.Metadata.SessionID, s.Name, string(s.PatternType), data))
}
