// Package routing implements the routing pattern executor: a router
// agent chooses among named routes, and the chosen route's steps run as
// a chain sub-executor (spec.md §4.9).
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/thomasrohde/strandsflow/pattern"
	"github.com/thomasrohde/strandsflow/pattern/chain"
	"github.com/thomasrohde/strandsflow/session"
	"github.com/thomasrohde/strandsflow/spec"
)

// RouterConfig is pattern.config.router.
type RouterConfig struct {
	Agent      string `json:"agent"`
	Input      string `json:"input"`
	MaxRetries int    `json:"max_retries,omitempty"`
}

// Route is one entry in pattern.config.routes.
type Route struct {
	Then []chain.Step `json:"then"`
}

// Config is pattern.config for the routing pattern.
type Config struct {
	Router RouterConfig     `json:"router"`
	Routes map[string]Route `json:"routes"`
}

func (c Config) effectiveMaxRetries() int {
	if c.Router.MaxRetries > 0 {
		return c.Router.MaxRetries
	}
	return 2
}

// State is the pattern_state shape for the routing pattern (spec.md
// §4.9).
type State struct {
	RouterChoice     string         `json:"router_choice,omitempty"`
	RoutedStepsState map[string]any `json:"routed_steps_state,omitempty"`
}

// Executor implements pattern.Executor for the routing pattern.
type Executor struct{}

// New returns a routing Executor.
func New() *Executor { return &Executor{} }

func decodeConfig(raw map[string]any) (Config, error) {
	var cfg Config
	b, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("routing: marshal config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("routing: decode config: %w", err)
	}
	if len(cfg.Routes) == 0 {
		return cfg, &pattern.ValidationError{Reason: "routing: at least one route is required"}
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

// Execute implements pattern.Executor.
func (e *Executor) Execute(ctx context.Context, s *spec.Specification, st *session.State, deps pattern.Deps, hitlResponse *string) pattern.Result {
	cfg, err := decodeConfig(s.PatternConfig)
	if err != nil {
		if verr, ok := err.(*pattern.ValidationError); ok {
			return pattern.Result{Status: pattern.StatusFailed, Err: verr}
		}
		return pattern.Result{Status: pattern.StatusFailed, Err: err}
	}
	cstate := decodeState(st.PatternState)

	// hitlResponse resuming a paused routed-steps run is handled entirely
	// by delegating to the chain sub-executor below; the router itself
	// never pauses, so a resume call always implies the route was already
	// chosen.
	if hitlResponse != nil && cstate.RouterChoice == "" {
		return pattern.Result{Status: pattern.StatusFailed, Err: pattern.ErrWaitingForHITL}
	}

	if cstate.RouterChoice == "" {
		choice, inTok, outTok, err := chooseRoute(ctx, s, st, cfg, deps)
		if err != nil {
			st.Metadata.Status = session.StatusFailed
			st.Metadata.Error = err.Error()
			if cerr := checkpoint(ctx, deps, st); cerr != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: cerr}
			}
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
		st.AddUsage(cfg.Router.Agent, inTok, outTok)
		cstate.RouterChoice = choice
		cstate.RoutedStepsState = map[string]any{}
		st.PatternState = encodeState(cstate)
		if err := checkpoint(ctx, deps, st); err != nil {
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
	}

	route, ok := cfg.Routes[cstate.RouterChoice]
	if !ok {
		err := fmt.Errorf("routing: chosen route %q no longer exists", cstate.RouterChoice)
		st.Metadata.Status = session.StatusFailed
		st.Metadata.Error = err.Error()
		if cerr := checkpoint(ctx, deps, st); cerr != nil {
			return pattern.Result{Status: pattern.StatusFailed, Err: cerr}
		}
		return pattern.Result{Status: pattern.StatusFailed, Err: err}
	}

	subSpec := *s
	subSpec.PatternConfig = map[string]any{"steps": route.Then}
	subState := &session.State{
		Metadata:      st.Metadata,
		Variables:     st.Variables,
		RuntimeConfig: st.RuntimeConfig,
		PatternState:  cstate.RoutedStepsState,
		TokenUsage:    st.TokenUsage,
	}

	wrapped := pattern.Deps{
		Agents:    deps.Agents,
		Bus:       deps.Bus,
		Scheduler: deps.Scheduler,
		Invoke:    deps.Invoke,
		Checkpoint: func(ctx context.Context, inner *session.State) error {
			cstate.RoutedStepsState = inner.PatternState
			st.PatternState = encodeState(cstate)
			st.TokenUsage = inner.TokenUsage
			st.Metadata.Status = inner.Metadata.Status
			st.Metadata.Error = inner.Metadata.Error
			return checkpoint(ctx, deps, st)
		},
	}

	res := chain.New().Execute(ctx, &subSpec, subState, wrapped, hitlResponse)
	cstate.RoutedStepsState = subState.PatternState
	st.PatternState = encodeState(cstate)
	st.Metadata.Status = subState.Metadata.Status
	st.Metadata.Error = subState.Metadata.Error
	st.TokenUsage = subState.TokenUsage
	return res
}

// chooseRoute invokes the router agent and parses its response for a
// route token, retrying with a reprompt up to cfg's max_retries.
func chooseRoute(ctx context.Context, s *spec.Specification, st *session.State, cfg Config, deps pattern.Deps) (string, int, int, error) {
	names := make([]string, 0, len(cfg.Routes))
	for name := range cfg.Routes {
		names = append(names, name)
	}

	input := cfg.Router.Input
	var totalIn, totalOut int
	for attempt := 0; attempt <= cfg.effectiveMaxRetries(); attempt++ {
		renderCtx := map[string]any{
			"inputs": map[string]any{"values": s.Inputs.Values},
			"routes": names,
		}
		text, inTok, outTok, err := deps.Invoke(ctx, cfg.Router.Agent, input, renderCtx, fmt.Sprintf("%s_router", st.Metadata.SessionID))
		totalIn += inTok
		totalOut += outTok
		if err != nil {
			return "", totalIn, totalOut, err
		}
		if choice, ok := parseRoute(text, cfg.Routes); ok {
			return choice, totalIn, totalOut, nil
		}
		input = fmt.Sprintf("reply with exactly one of {%s}", strings.Join(names, ", "))
	}
	return "", totalIn, totalOut, fmt.Errorf("routing: router did not choose a valid route after %d attempts", cfg.effectiveMaxRetries()+1)
}

// parseRoute extracts a route name from text, accepting either a JSON
// object {"route": "<name>"} or a bare token on a line.
func parseRoute(text string, routes map[string]Route) (string, bool) {
	trimmed := strings.TrimSpace(text)
	var obj struct {
		Route string `json:"route"`
	}
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil && obj.Route != "" {
		if _, ok := routes[obj.Route]; ok {
			return obj.Route, true
		}
	}
	for _, line := range strings.Split(trimmed, "\n") {
		token := strings.TrimSpace(line)
		if _, ok := routes[token]; ok {
			return token, true
		}
	}
	return "", false
}

func checkpoint(ctx context.Context, deps pattern.Deps, st *session.State) error {
	if deps.Checkpoint == nil {
		return nil
	}
	return deps.Checkpoint(ctx, st)
}
