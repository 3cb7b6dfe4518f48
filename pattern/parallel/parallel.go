// Package parallel implements the parallel pattern executor: two or more
// branches run concurrently as independent mini-chains, optionally
// synthesized by a reduce step (spec.md §4.8).
package parallel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/thomasrohde/strandsflow/engine"
	"github.com/thomasrohde/strandsflow/hooks"
	"github.com/thomasrohde/strandsflow/pattern"
	"github.com/thomasrohde/strandsflow/session"
	"github.com/thomasrohde/strandsflow/spec"
)

// Step is one entry in a branch's steps list, shaped like a chain step.
type Step struct {
	Agent          string `json:"agent,omitempty"`
	Type           string `json:"type,omitempty"`
	Input          string `json:"input,omitempty"`
	Prompt         string `json:"prompt,omitempty"`
	ContextDisplay string `json:"context_display,omitempty"`
	Default        string `json:"default,omitempty"`
	HITL           bool   `json:"hitl,omitempty"`
}

// IsHITL reports whether step is a human-in-the-loop pause point.
func (s Step) IsHITL() bool { return s.Type == "hitl" || s.HITL }

// Branch is one entry in pattern.config.branches.
type Branch struct {
	ID    string `json:"id"`
	Steps []Step `json:"steps"`
}

// Reduce is the optional pattern.config.reduce step.
type Reduce struct {
	Agent string `json:"agent"`
	Input string `json:"input"`
}

// Config is pattern.config for the parallel pattern.
type Config struct {
	Branches []Branch `json:"branches"`
	Reduce   *Reduce  `json:"reduce,omitempty"`
}

// BranchOutput is one entry in pattern_state.branch_outputs.
type BranchOutput struct {
	Response string `json:"response"`
	Tokens   int    `json:"tokens"`
	Failed   bool   `json:"failed,omitempty"`
}

// State is the pattern_state shape for the parallel pattern (spec.md
// §4.8).
type State struct {
	CompletedBranches []string                `json:"completed_branches"`
	BranchOutputs     map[string]BranchOutput `json:"branch_outputs"`
	// BranchCursors tracks each branch's current step index, so a
	// mid-branch HITL pause resumes at the right step.
	BranchCursors map[string]int     `json:"branch_cursors,omitempty"`
	ReduceDone    bool               `json:"reduce_done"`
	ReduceOutput  string             `json:"reduce_output,omitempty"`
	HITL          *session.HITLState `json:"hitl_state,omitempty"`
}

// Executor implements pattern.Executor for the parallel pattern.
type Executor struct{}

// New returns a parallel Executor.
func New() *Executor { return &Executor{} }

func decodeConfig(raw map[string]any) (Config, error) {
	var cfg Config
	b, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("parallel: marshal config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parallel: decode config: %w", err)
	}
	if len(cfg.Branches) < 2 {
		return cfg, &pattern.ValidationError{Reason: "parallel: at least 2 branches are required"}
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
	if st.BranchOutputs == nil {
		st.BranchOutputs = map[string]BranchOutput{}
	}
	if st.BranchCursors == nil {
		st.BranchCursors = map[string]int{}
	}
	return st
}

func encodeState(st State) map[string]any {
	b, _ := json.Marshal(st)
	var out map[string]any
	_ = json.Unmarshal(b, &out)
	return out
}

// branchOutcome is what a single branch's mini-chain run produces when it
// is dispatched to the scheduler: either a completed response, or a pause
// because it hit a HITL step.
type branchOutcome struct {
	branchID string
	response string
	inTok    int
	outTok   int
	failed   bool
	paused   *pattern.Result
	cursor   int
}

// Execute implements pattern.Executor.
func (e *Executor) Execute(ctx context.Context, s *spec.Specification, st *session.State, deps pattern.Deps, hitlResponse *string) pattern.Result {
	cfg, err := decodeConfig(s.PatternConfig)
	if err != nil {
		var verr *pattern.ValidationError
		if !asValidation(err, &verr) {
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
		return pattern.Result{Status: pattern.StatusFailed, Err: verr}
	}
	byID := make(map[string]Branch, len(cfg.Branches))
	for _, b := range cfg.Branches {
		byID[b.ID] = b
	}

	cstate := decodeState(st.PatternState)

	var lastHITLResponse string
	if hitlResponse != nil {
		if cstate.HITL == nil || !cstate.HITL.Active {
			return pattern.Result{Status: pattern.StatusFailed, Err: pattern.ErrWaitingForHITL}
		}
		lastHITLResponse = *hitlResponse
		if cstate.HITL.StepType == "reduce" {
			cstate.ReduceOutput = *hitlResponse
			cstate.ReduceDone = true
			cstate.HITL = nil
			st.PatternState = encodeState(cstate)
			if err := checkpoint(ctx, deps, st); err != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: err}
			}
			st.Metadata.Status = session.StatusCompleted
			if err := checkpoint(ctx, deps, st); err != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: err}
			}
			return pattern.Result{Status: pattern.StatusSuccess, Response: cstate.ReduceOutput, CumulativeTokens: st.CumulativeTokens()}
		}
		// Resuming a branch: advance its cursor past the HITL step and
		// record the response in the branch's running context.
		branchID := cstate.HITL.BranchID
		cstate.BranchCursors[branchID] = cstate.BranchCursors[branchID] + 1
		cstate.HITL = nil
		st.PatternState = encodeState(cstate)
		if err := checkpoint(ctx, deps, st); err != nil {
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
	}

	pendingIDs := pendingBranchIDs(cfg.Branches, cstate.CompletedBranches)
	if len(pendingIDs) > 0 {
		tasks := make([]engine.Task, len(pendingIDs))
		for i, id := range pendingIDs {
			branch := byID[id]
			startAt := cstate.BranchCursors[id]
			tasks[i] = func(ctx context.Context) (any, error) {
				return runBranch(ctx, s, st, branch, startAt, lastHITLResponse, deps)
			}
		}
		results := deps.Scheduler.RunConcurrent(ctx, tasks, s.Runtime.EffectiveMaxParallel())

		var paused *branchOutcome
		for _, r := range results {
			if r.Err != nil {
				out := r.Value.(branchOutcome)
				cstate.BranchOutputs[out.branchID] = BranchOutput{Response: out.response, Tokens: out.inTok + out.outTok, Failed: true}
				cstate.CompletedBranches = append(cstate.CompletedBranches, out.branchID)
				st.AddUsage(out.branchID, out.inTok, out.outTok)
				continue
			}
			out := r.Value.(branchOutcome)
			if out.paused != nil {
				// Every paused branch records its cursor at its HITL
				// step. Only the first branch (in submission order) to
				// pause surfaces its HITL state this round; any other
				// paused branch is not marked completed, so it runs again
				// from its recorded cursor on the next call and pauses at
				// the same step.
				cstate.BranchCursors[out.branchID] = out.cursor
				if paused == nil {
					paused = &out
				}
				continue
			}
			cstate.BranchOutputs[out.branchID] = BranchOutput{Response: out.response, Tokens: out.inTok + out.outTok, Failed: out.failed}
			cstate.CompletedBranches = append(cstate.CompletedBranches, out.branchID)
			st.AddUsage(out.branchID, out.inTok, out.outTok)
		}

		st.PatternState = encodeState(cstate)
		if err := checkpoint(ctx, deps, st); err != nil {
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}

		if paused != nil {
			st.Metadata.Status = session.StatusPaused
			if err := checkpoint(ctx, deps, st); err != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: err}
			}
			emit(deps.Bus, hooks.EventHITLPause, st, s, nil)
			return *paused.paused
		}
	}

	if cfg.Reduce != nil && !cstate.ReduceDone {
		renderCtx := map[string]any{
			"inputs":   map[string]any{"values": s.Inputs.Values},
			"branches": cstate.BranchOutputs,
		}
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

	st.Metadata.Status = session.StatusCompleted
	if err := checkpoint(ctx, deps, st); err != nil {
		return pattern.Result{Status: pattern.StatusFailed, Err: err}
	}

	response := cstate.ReduceOutput
	if response == "" {
		response = synthesize(cstate.BranchOutputs)
	}
	return pattern.Result{Status: pattern.StatusSuccess, Response: response, CumulativeTokens: st.CumulativeTokens()}
}

// runBranch runs branch's steps sequentially as a mini-chain, starting at
// startAt. It returns a branchOutcome describing either completion or a
// HITL pause.
func runBranch(ctx context.Context, s *spec.Specification, st *session.State, branch Branch, startAt int, hitlResponse string, deps pattern.Deps) (branchOutcome, error) {
	var lastResponse string
	var totalIn, totalOut int
	for i := startAt; i < len(branch.Steps); i++ {
		step := branch.Steps[i]
		if step.IsHITL() {
			hitl := &session.HITLState{
				Active:          true,
				Prompt:          step.Prompt,
				ContextDisplay:  step.ContextDisplay,
				DefaultResponse: step.Default,
				BranchID:        branch.ID,
				StepType:        "branch",
			}
			return branchOutcome{
				branchID: branch.ID,
				response: lastResponse,
				paused:   &pattern.Result{Status: pattern.StatusPaused, HITL: hitl, Response: lastResponse},
				cursor:   i,
			}, nil
		}
		renderCtx := map[string]any{
			"inputs":        map[string]any{"values": s.Inputs.Values},
			"last_response": lastResponse,
			"hitl_response": hitlResponse,
		}
		text, inTok, outTok, err := deps.Invoke(ctx, step.Agent, step.Input, renderCtx, fmt.Sprintf("%s_%s", st.Metadata.SessionID, branch.ID))
		if err != nil {
			return branchOutcome{branchID: branch.ID, response: lastResponse, inTok: totalIn, outTok: totalOut, failed: true}, err
		}
		lastResponse = text
		totalIn += inTok
		totalOut += outTok
		hitlResponse = ""
	}
	return branchOutcome{branchID: branch.ID, response: lastResponse, inTok: totalIn, outTok: totalOut}, nil
}

func synthesize(outputs map[string]BranchOutput) string {
	var parts []string
	for id, out := range outputs {
		parts = append(parts, fmt.Sprintf("[%s] %s", id, out.Response))
	}
	return strings.Join(parts, "\n")
}

func pendingBranchIDs(branches []Branch, completed []string) []string {
	done := make(map[string]bool, len(completed))
	for _, id := range completed {
		done[id] = true
	}
	var pending []string
	for _, b := range branches {
		if !done[b.ID] {
			pending = append(pending, b.ID)
		}
	}
	return pending
}

func asValidation(err error, target **pattern.ValidationError) bool {
	if verr, ok := err.(*pattern.ValidationError); ok {
		*target = verr
		return true
	}
	return false
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
