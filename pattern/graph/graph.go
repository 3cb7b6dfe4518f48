// Package graph implements the graph (state-machine) pattern executor:
// nodes execute an agent or pause for HITL, and outgoing edges pick the
// next node via conditional `choose` clauses or a plain successor list
// (spec.md §4.12).
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/thomasrohde/strandsflow/hooks"
	"github.com/thomasrohde/strandsflow/pattern"
	"github.com/thomasrohde/strandsflow/session"
	"github.com/thomasrohde/strandsflow/spec"
	"github.com/thomasrohde/strandsflow/template"
)

const defaultMaxIterations = 10

// Node is one entry in pattern.config.nodes.
type Node struct {
	Agent          string `json:"agent,omitempty"`
	Type           string `json:"type,omitempty"` // "hitl"
	Input          string `json:"input,omitempty"`
	Prompt         string `json:"prompt,omitempty"`
	ContextDisplay string `json:"context_display,omitempty"`
	Default        string `json:"default,omitempty"`
}

// IsHITL reports whether n is a human-in-the-loop pause point.
func (n Node) IsHITL() bool { return n.Type == "hitl" }

// Choice is one entry in a choose-style edge.
type Choice struct {
	When string `json:"when"`
	To   string `json:"to"`
}

// Edge is one entry in pattern.config.edges. Either Choose (conditional
// branching) or To (unconditional list, first element used) is set.
type Edge struct {
	From   string   `json:"from"`
	To     []string `json:"to,omitempty"`
	Choose []Choice `json:"choose,omitempty"`
}

// Config is pattern.config for the graph pattern. Entry names the start
// node explicitly: pattern.config is decoded off spec.Specification's
// map[string]any, which (like any Go map) carries no reproducible key
// order, so the "first key in nodes" entry rule from the source format
// cannot be recovered here. Entry makes the start node authoritative;
// when a spec omits it, the alphabetically-first node id is used as a
// deterministic fallback.
type Config struct {
	MaxIterations int             `json:"max_iterations,omitempty"`
	Entry         string          `json:"entry,omitempty"`
	Nodes         map[string]Node `json:"nodes"`
	Edges         []Edge          `json:"edges"`
}

func (c Config) effectiveMaxIterations() int {
	if c.MaxIterations > 0 {
		return c.MaxIterations
	}
	return defaultMaxIterations
}

// NodeResult is one entry in pattern_state.node_results.
type NodeResult struct {
	Response  string `json:"response"`
	Type      string `json:"type"`
	Status    string `json:"status"` // success | waiting_for_user | not_executed
	Iteration int    `json:"iteration"`
}

const (
	NodeStatusSuccess        = "success"
	NodeStatusWaitingForUser = "waiting_for_user"
	NodeStatusNotExecuted    = "not_executed"
)

// State is the pattern_state shape for the graph pattern (spec.md
// §4.12).
type State struct {
	CurrentNode     string                `json:"current_node"`
	NodeResults     map[string]NodeResult `json:"node_results"`
	IterationCounts map[string]int        `json:"iteration_counts"`
	ExecutionPath   []string              `json:"execution_path"`
	TotalSteps      int                   `json:"total_steps"`
	HITL            *session.HITLState    `json:"hitl_state,omitempty"`
}

// Executor implements pattern.Executor for the graph pattern.
type Executor struct{}

// New returns a graph Executor.
func New() *Executor { return &Executor{} }

// decodeConfig decodes raw into Config and resolves the entry node.
func decodeConfig(raw map[string]any) (Config, error) {
	var cfg Config
	b, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("graph: marshal config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("graph: decode config: %w", err)
	}

	if cfg.Entry == "" {
		ids := make([]string, 0, len(cfg.Nodes))
		for id := range cfg.Nodes {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		if len(ids) > 0 {
			cfg.Entry = ids[0]
		}
	} else if _, ok := cfg.Nodes[cfg.Entry]; !ok {
		return cfg, &pattern.ValidationError{Reason: fmt.Sprintf("graph: entry node %q not defined in nodes", cfg.Entry)}
	}

	for _, e := range cfg.Edges {
		if _, ok := cfg.Nodes[e.From]; !ok {
			return cfg, &pattern.ValidationError{Reason: fmt.Sprintf("graph: edge references unknown source node %q", e.From)}
		}
		for _, to := range e.To {
			if _, ok := cfg.Nodes[to]; !ok {
				return cfg, &pattern.ValidationError{Reason: fmt.Sprintf("graph: edge references unknown target node %q", to)}
			}
		}
		for _, c := range e.Choose {
			if _, ok := cfg.Nodes[c.To]; !ok {
				return cfg, &pattern.ValidationError{Reason: fmt.Sprintf("graph: edge choose references unknown target node %q", c.To)}
			}
		}
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
	if st.NodeResults == nil {
		st.NodeResults = map[string]NodeResult{}
	}
	if st.IterationCounts == nil {
		st.IterationCounts = map[string]int{}
	}
	return st
}

func encodeState(st State) map[string]any {
	b, _ := json.Marshal(st)
	var out map[string]any
	_ = json.Unmarshal(b, &out)
	return out
}

// Execute implements pattern.Executor.
func (e *Executor) Execute(ctx context.Context, s *spec.Specification, st *session.State, deps pattern.Deps, hitlResponse *string) pattern.Result {
	cfg, err := decodeConfig(s.PatternConfig)
	if err != nil {
		if verr, ok := err.(*pattern.ValidationError); ok {
			return pattern.Result{Status: pattern.StatusFailed, Err: verr}
		}
		return pattern.Result{Status: pattern.StatusFailed, Err: err}
	}
	if len(cfg.Nodes) == 0 {
		return pattern.Result{Status: pattern.StatusFailed, Err: &pattern.ValidationError{Reason: "graph: no nodes defined"}}
	}

	cstate := decodeState(st.PatternState)
	if cstate.CurrentNode == "" {
		cstate.CurrentNode = cfg.Entry
		cstate.IterationCounts[cstate.CurrentNode] = 0
	}

	maxIters := cfg.effectiveMaxIterations()
	maxSteps := 100
	if s.Runtime.Budgets != nil && s.Runtime.Budgets.MaxSteps > 0 {
		maxSteps = s.Runtime.Budgets.MaxSteps
	}

	if hitlResponse != nil {
		if cstate.HITL == nil || !cstate.HITL.Active {
			return pattern.Result{Status: pattern.StatusFailed, Err: pattern.ErrWaitingForHITL}
		}
		nodeID := cstate.HITL.NodeID
		cstate.IterationCounts[nodeID]++
		cstate.NodeResults[nodeID] = NodeResult{
			Response: *hitlResponse, Type: "hitl", Status: NodeStatusSuccess,
			Iteration: cstate.IterationCounts[nodeID],
		}
		cstate.HITL.Active = false
		cstate.HITL = nil

		next, terminal, err := evaluateEdges(cfg, cstate, s, st, nodeID)
		if err != nil {
			st.Metadata.Status = session.StatusFailed
			st.Metadata.Error = err.Error()
			if cerr := checkpoint(ctx, deps, st); cerr != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: cerr}
			}
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
		if terminal {
			st.PatternState = encodeState(cstate)
			st.Metadata.Status = session.StatusCompleted
			if err := checkpoint(ctx, deps, st); err != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: err}
			}
			return pattern.Result{Status: pattern.StatusSuccess, Response: lastResponse(cstate), CumulativeTokens: st.CumulativeTokens()}
		}
		if cstate.IterationCounts[next] >= maxIters {
			gerr := &pattern.GraphError{Kind: pattern.GraphErrorIterationLimit, Node: next}
			st.Metadata.Status = session.StatusFailed
			st.Metadata.Error = gerr.Error()
			if cerr := checkpoint(ctx, deps, st); cerr != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: cerr}
			}
			return pattern.Result{Status: pattern.StatusFailed, Err: gerr}
		}
		cstate.CurrentNode = next
		st.PatternState = encodeState(cstate)
		if err := checkpoint(ctx, deps, st); err != nil {
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
	}

	for step := 0; step < maxSteps; step++ {
		nodeID := cstate.CurrentNode
		node := cfg.Nodes[nodeID]

		if node.IsHITL() {
			cstate.HITL = &session.HITLState{
				Active:          true,
				Prompt:          node.Prompt,
				ContextDisplay:  node.ContextDisplay,
				DefaultResponse: node.Default,
				NodeID:          nodeID,
			}
			cstate.NodeResults[nodeID] = NodeResult{Type: "hitl", Status: NodeStatusWaitingForUser, Iteration: cstate.IterationCounts[nodeID]}

			// current_node stays at nodeID while paused: edge conditions may
			// reference nodes.<nodeID>.response, which only exists after
			// resume injects it, so successor computation is deferred there.
			st.PatternState = encodeState(cstate)
			st.Metadata.Status = session.StatusPaused
			if err := checkpoint(ctx, deps, st); err != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: err}
			}
			emit(deps.Bus, hooks.EventHITLPause, st, s, nil)
			return pattern.Result{Status: pattern.StatusPaused, HITL: cstate.HITL}
		}

		text, inTok, outTok, err := deps.Invoke(ctx, node.Agent, node.Input, graphRenderCtx(cstate, s, st), fmt.Sprintf("%s_%s", st.Metadata.SessionID, nodeID))
		if err != nil {
			st.Metadata.Status = session.StatusFailed
			st.Metadata.Error = err.Error()
			if cerr := checkpoint(ctx, deps, st); cerr != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: cerr}
			}
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
		st.AddUsage(node.Agent, inTok, outTok)
		cstate.IterationCounts[nodeID]++
		cstate.NodeResults[nodeID] = NodeResult{Response: text, Type: "agent", Status: NodeStatusSuccess, Iteration: cstate.IterationCounts[nodeID]}
		cstate.ExecutionPath = append(cstate.ExecutionPath, nodeID)
		cstate.TotalSteps++

		next, terminal, err := evaluateEdges(cfg, cstate, s, st, nodeID)
		if err != nil {
			st.Metadata.Status = session.StatusFailed
			st.Metadata.Error = err.Error()
			if cerr := checkpoint(ctx, deps, st); cerr != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: cerr}
			}
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
		if terminal {
			st.PatternState = encodeState(cstate)
			st.Metadata.Status = session.StatusCompleted
			if err := checkpoint(ctx, deps, st); err != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: err}
			}
			return pattern.Result{Status: pattern.StatusSuccess, Response: text, CumulativeTokens: st.CumulativeTokens()}
		}
		if cstate.IterationCounts[next] >= maxIters {
			gerr := &pattern.GraphError{Kind: pattern.GraphErrorIterationLimit, Node: next}
			st.Metadata.Status = session.StatusFailed
			st.Metadata.Error = gerr.Error()
			if cerr := checkpoint(ctx, deps, st); cerr != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: cerr}
			}
			return pattern.Result{Status: pattern.StatusFailed, Err: gerr}
		}
		cstate.CurrentNode = next
		st.PatternState = encodeState(cstate)
		if err := checkpoint(ctx, deps, st); err != nil {
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
	}

	stepsErr := fmt.Errorf("graph: exceeded max_steps bound of %d", maxSteps)
	st.Metadata.Status = session.StatusFailed
	st.Metadata.Error = stepsErr.Error()
	if cerr := checkpoint(ctx, deps, st); cerr != nil {
		return pattern.Result{Status: pattern.StatusFailed, Err: cerr}
	}
	return pattern.Result{Status: pattern.StatusFailed, Err: stepsErr}
}

// evaluateEdges determines the successor of nodeID: picks the first
// truthy `choose` clause, or the first element of a plain `to` list. It
// returns terminal=true when no outgoing edge matches (or none is
// defined), meaning nodeID is a terminal node.
func evaluateEdges(cfg Config, cstate State, s *spec.Specification, st *session.State, nodeID string) (next string, terminal bool, err error) {
	var edge *Edge
	for i := range cfg.Edges {
		if cfg.Edges[i].From == nodeID {
			edge = &cfg.Edges[i]
			break
		}
	}
	if edge == nil {
		return "", true, nil
	}

	if len(edge.Choose) > 0 {
		ctx := graphRenderCtx(cstate, s, st)
		for _, c := range edge.Choose {
			ok, err := template.Truthy(c.When, ctx)
			if err != nil {
				return "", false, err
			}
			if ok {
				return c.To, false, nil
			}
		}
		return "", true, nil
	}

	if len(edge.To) > 0 {
		return edge.To[0], false, nil
	}
	return "", true, nil
}

func graphRenderCtx(cstate State, s *spec.Specification, st *session.State) map[string]any {
	var last string
	if len(cstate.ExecutionPath) > 0 {
		lastID := cstate.ExecutionPath[len(cstate.ExecutionPath)-1]
		last = cstate.NodeResults[lastID].Response
	}
	return map[string]any{
		"nodes":            cstate.NodeResults,
		"last_response":    last,
		"total_steps":      cstate.TotalSteps,
		"iteration_counts": cstate.IterationCounts,
		"variables":        st.Variables,
		"inputs":           map[string]any{"values": s.Inputs.Values},
	}
}

func lastResponse(cstate State) string {
	if len(cstate.ExecutionPath) == 0 {
		return ""
	}
	lastID := cstate.ExecutionPath[len(cstate.ExecutionPath)-1]
	return cstate.NodeResults[lastID].Response
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
