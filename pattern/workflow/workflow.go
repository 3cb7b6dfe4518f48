// Package workflow implements the workflow (DAG) pattern executor: tasks
// are topologically layered by dependency, and each layer runs
// concurrently under the runtime scheduler (spec.md §4.7).
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/thomasrohde/strandsflow/engine"
	"github.com/thomasrohde/strandsflow/hooks"
	"github.com/thomasrohde/strandsflow/pattern"
	"github.com/thomasrohde/strandsflow/session"
	"github.com/thomasrohde/strandsflow/spec"
)

// Task is one entry in pattern.config.tasks.
type Task struct {
	ID     string   `json:"id"`
	Agent  string   `json:"agent,omitempty"`
	HITL   bool     `json:"hitl,omitempty"`
	Deps   []string `json:"deps,omitempty"`
	Input  string   `json:"input,omitempty"`
	Prompt string   `json:"prompt,omitempty"`

	ContextDisplay string `json:"context_display,omitempty"`
	Default        string `json:"default,omitempty"`
}

// IsHITL reports whether task is a human-in-the-loop pause point.
func (t Task) IsHITL() bool { return t.HITL || t.Agent == "" }

// Config is pattern.config for the workflow pattern.
type Config struct {
	Tasks []Task `json:"tasks"`
}

// TaskOutput is one entry in pattern_state.task_outputs.
type TaskOutput struct {
	Response string `json:"response"`
	Tokens   int    `json:"tokens"`
}

// State is the pattern_state shape for the workflow pattern (spec.md
// §4.7).
type State struct {
	CompletedTasks []string              `json:"completed_tasks"`
	TaskOutputs    map[string]TaskOutput `json:"task_outputs"`
	Layers         [][]string            `json:"layers"`
	CurrentLayer   int                   `json:"current_layer"`
	HITL           *session.HITLState    `json:"hitl_state,omitempty"`
}

// Executor implements pattern.Executor for the workflow (DAG) pattern.
type Executor struct{}

// New returns a workflow Executor.
func New() *Executor { return &Executor{} }

func decodeConfig(raw map[string]any) (Config, error) {
	var cfg Config
	b, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("workflow: marshal config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("workflow: decode config: %w", err)
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
	if st.TaskOutputs == nil {
		st.TaskOutputs = map[string]TaskOutput{}
	}
	return st
}

func encodeState(st State) map[string]any {
	b, _ := json.Marshal(st)
	var out map[string]any
	_ = json.Unmarshal(b, &out)
	return out
}

// layerize topologically sorts tasks into dependency layers. A layer
// contains every task whose deps are entirely satisfied by earlier
// layers. It returns a ValidationError on a cycle or an unknown
// dependency.
func layerize(tasks []Task) ([][]string, error) {
	byID := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	for _, t := range tasks {
		for _, d := range t.Deps {
			if _, ok := byID[d]; !ok {
				return nil, &pattern.ValidationError{Reason: fmt.Sprintf("workflow: task %q depends on unknown task %q", t.ID, d)}
			}
		}
	}

	done := map[string]bool{}
	remaining := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		remaining[t.ID] = t
	}

	var layers [][]string
	for len(remaining) > 0 {
		var layer []string
		for id, t := range remaining {
			ready := true
			for _, d := range t.Deps {
				if !done[d] {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			return nil, &pattern.ValidationError{Reason: "workflow: dependency cycle detected"}
		}
		sort.Strings(layer)
		for _, id := range layer {
			done[id] = true
			delete(remaining, id)
		}
		layers = append(layers, layer)
	}
	return layers, nil
}

// Execute implements pattern.Executor.
func (e *Executor) Execute(ctx context.Context, s *spec.Specification, st *session.State, deps pattern.Deps, hitlResponse *string) pattern.Result {
	cfg, err := decodeConfig(s.PatternConfig)
	if err != nil {
		return pattern.Result{Status: pattern.StatusFailed, Err: &pattern.ValidationError{Reason: err.Error()}}
	}
	byID := make(map[string]Task, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		byID[t.ID] = t
	}

	cstate := decodeState(st.PatternState)
	if cstate.Layers == nil {
		layers, err := layerize(cfg.Tasks)
		if err != nil {
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
		cstate.Layers = layers
	}

	if hitlResponse != nil {
		if cstate.HITL == nil || !cstate.HITL.Active {
			return pattern.Result{Status: pattern.StatusFailed, Err: pattern.ErrWaitingForHITL}
		}
		taskID := cstate.HITL.TaskID
		cstate.TaskOutputs[taskID] = TaskOutput{Response: *hitlResponse}
		cstate.CompletedTasks = append(cstate.CompletedTasks, taskID)
		cstate.HITL = nil
		st.PatternState = encodeState(cstate)
		if err := checkpoint(ctx, deps, st); err != nil {
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
	}

	var lastResponse string
	for layerIdx := cstate.CurrentLayer; layerIdx < len(cstate.Layers); layerIdx++ {
		layer := cstate.Layers[layerIdx]
		pending := pendingTaskIDs(layer, cstate.CompletedTasks)
		if len(pending) == 0 {
			cstate.CurrentLayer = layerIdx + 1
			st.PatternState = encodeState(cstate)
			if err := checkpoint(ctx, deps, st); err != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: err}
			}
			continue
		}

		var hitlIDs, agentIDs []string
		for _, id := range pending {
			if byID[id].IsHITL() {
				hitlIDs = append(hitlIDs, id)
			} else {
				agentIDs = append(agentIDs, id)
			}
		}

		tasks := make([]engine.Task, len(agentIDs))
		for i, id := range agentIDs {
			t := byID[id]
			renderCtx := map[string]any{
				"inputs": map[string]any{"values": s.Inputs.Values},
				"tasks":  cstate.TaskOutputs,
			}
			tasks[i] = func(ctx context.Context) (any, error) {
				text, inTok, outTok, err := deps.Invoke(ctx, t.Agent, t.Input, renderCtx, fmt.Sprintf("%s_%s", st.Metadata.SessionID, t.ID))
				if err != nil {
					return nil, err
				}
				return taskResult{id: t.ID, response: text, inTok: inTok, outTok: outTok}, nil
			}
		}

		if len(tasks) > 0 {
			sched := deps.Scheduler
			results := sched.RunConcurrent(ctx, tasks, s.Runtime.EffectiveMaxParallel())
			for _, r := range results {
				if r.Err != nil {
					st.Metadata.Status = session.StatusFailed
					st.Metadata.Error = r.Err.Error()
					if cerr := checkpoint(ctx, deps, st); cerr != nil {
						return pattern.Result{Status: pattern.StatusFailed, Err: cerr}
					}
					return pattern.Result{Status: pattern.StatusFailed, Err: r.Err}
				}
				tr := r.Value.(taskResult)
				cstate.TaskOutputs[tr.id] = TaskOutput{Response: tr.response, Tokens: tr.inTok + tr.outTok}
				cstate.CompletedTasks = append(cstate.CompletedTasks, tr.id)
				st.AddUsage(byID[tr.id].Agent, tr.inTok, tr.outTok)
				lastResponse = tr.response
			}
			st.PatternState = encodeState(cstate)
			if err := checkpoint(ctx, deps, st); err != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: err}
			}
		}

		if len(hitlIDs) > 0 {
			id := hitlIDs[0]
			t := byID[id]
			cstate.HITL = &session.HITLState{
				Active:          true,
				Prompt:          t.Prompt,
				ContextDisplay:  t.ContextDisplay,
				DefaultResponse: t.Default,
				TaskID:          id,
				LayerIndex:      intPtr(layerIdx),
			}
			st.PatternState = encodeState(cstate)
			st.Metadata.Status = session.StatusPaused
			if err := checkpoint(ctx, deps, st); err != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: err}
			}
			emit(deps.Bus, hooks.EventHITLPause, st, s, nil)
			return pattern.Result{Status: pattern.StatusPaused, HITL: cstate.HITL, Response: lastResponse}
		}

		cstate.CurrentLayer = layerIdx + 1
		st.PatternState = encodeState(cstate)
		if err := checkpoint(ctx, deps, st); err != nil {
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
		emit(deps.Bus, hooks.EventUnitComplete, st, s, map[string]any{"layer": layerIdx})
	}

	st.Metadata.Status = session.StatusCompleted
	if err := checkpoint(ctx, deps, st); err != nil {
		return pattern.Result{Status: pattern.StatusFailed, Err: err}
	}
	return pattern.Result{Status: pattern.StatusSuccess, Response: lastResponse, CumulativeTokens: st.CumulativeTokens()}
}

type taskResult struct {
	id       string
	response string
	inTok    int
	outTok   int
}

func pendingTaskIDs(layer []string, completed []string) []string {
	done := make(map[string]bool, len(completed))
	for _, id := range completed {
		done[id] = true
	}
	var pending []string
	for _, id := range layer {
		if !done[id] {
			pending = append(pending, id)
		}
	}
	return pending
}

func checkpoint(ctx context.Context, deps pattern.Deps, st *session.State) error {
	if deps.Checkpoint == nil {
		return nil
	}
	return deps.Checkpoint(ctx, st)
}

func intPtr(i int) *int { return &i }

func emit(bus hooks.Bus, eventType hooks.EventType, st *session.State, s *spec.Specification, data map[string]any) {
	if bus == nil {
		return
	}
	bus.Publish(context.Background(), hooks.New(eventType, st.Metadata.SessionID, s.Name, string(s.PatternType), data))
}
