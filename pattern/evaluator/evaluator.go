// Package evaluator implements the evaluator-optimizer pattern executor:
// a producer/evaluator loop that iterates toward a minimum acceptance
// score, with an optional HITL review gate between evaluation and
// revision (spec.md §4.10).
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/thomasrohde/strandsflow/hooks"
	"github.com/thomasrohde/strandsflow/pattern"
	"github.com/thomasrohde/strandsflow/session"
	"github.com/thomasrohde/strandsflow/spec"
)

// evaluationSchemaDoc is the JSON Schema the evaluator's response must
// satisfy: {score: int 0..100, feedback: string, issues?: [], suggestions?: []}.
var evaluationSchemaDoc = map[string]any{
	"type":     "object",
	"required": []any{"score", "feedback"},
	"properties": map[string]any{
		"score":       map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
		"feedback":    map[string]any{"type": "string"},
		"issues":      map[string]any{"type": "array"},
		"suggestions": map[string]any{"type": "array"},
	},
}

var evaluationSchema = compileEvaluationSchema()

func compileEvaluationSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("evaluation.json", evaluationSchemaDoc); err != nil {
		panic(fmt.Sprintf("evaluator: add schema resource: %v", err))
	}
	schema, err := c.Compile("evaluation.json")
	if err != nil {
		panic(fmt.Sprintf("evaluator: compile schema: %v", err))
	}
	return schema
}

// EvaluatorConfig is pattern.config.evaluator.
type EvaluatorConfig struct {
	Agent string `json:"agent"`
	Input string `json:"input"`
}

// Accept is pattern.config.accept.
type Accept struct {
	MinScore int `json:"min_score"`
	MaxIters int `json:"max_iters"`
}

// ReviewGate is the optional pattern.config.review_gate.
type ReviewGate struct {
	Prompt         string `json:"prompt"`
	ContextDisplay string `json:"context_display,omitempty"`
}

// Config is pattern.config for the evaluator-optimizer pattern.
type Config struct {
	Producer     string      `json:"producer"`
	Evaluator    EvaluatorConfig `json:"evaluator"`
	Accept       Accept      `json:"accept"`
	RevisePrompt string      `json:"revise_prompt,omitempty"`
	ReviewGate   *ReviewGate `json:"review_gate,omitempty"`
}

func (c Config) effectiveMaxIters() int {
	if c.Accept.MaxIters > 0 {
		return c.Accept.MaxIters
	}
	return 3
}

// Iteration is one entry in pattern_state.iterations.
type Iteration struct {
	Iter     int      `json:"iter"`
	Output   string   `json:"output"`
	Score    int      `json:"score,omitempty"`
	Feedback string   `json:"feedback,omitempty"`
	Issues   []string `json:"issues,omitempty"`
}

// State is the pattern_state shape for the evaluator-optimizer pattern
// (spec.md §4.10).
type State struct {
	CurrentIteration int                `json:"current_iteration"`
	Iterations       []Iteration        `json:"iterations"`
	Converged        bool               `json:"converged"`
	PendingOutput    string             `json:"pending_output,omitempty"`
	HITLResponse     string             `json:"hitl_response,omitempty"`
	HITL             *session.HITLState `json:"hitl_state,omitempty"`
}

// Executor implements pattern.Executor for the evaluator-optimizer
// pattern.
type Executor struct{}

// New returns an evaluator-optimizer Executor.
func New() *Executor { return &Executor{} }

func decodeConfig(raw map[string]any) (Config, error) {
	var cfg Config
	b, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("evaluator: marshal config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("evaluator: decode config: %w", err)
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

type evalResult struct {
	score    int
	feedback string
	issues   []string
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
		cstate.HITLResponse = *hitlResponse
		cstate.HITL = nil
		st.PatternState = encodeState(cstate)
		if err := checkpoint(ctx, deps, st); err != nil {
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
	}

	maxIters := cfg.effectiveMaxIters()
	for iter := cstate.CurrentIteration; iter < maxIters; iter++ {
		output := cstate.PendingOutput
		if output == "" {
			text, inTok, outTok, err := produce(ctx, s, st, cfg, cstate, iter, deps)
			if err != nil {
				st.Metadata.Status = session.StatusFailed
				st.Metadata.Error = err.Error()
				if cerr := checkpoint(ctx, deps, st); cerr != nil {
					return pattern.Result{Status: pattern.StatusFailed, Err: cerr}
				}
				return pattern.Result{Status: pattern.StatusFailed, Err: err}
			}
			st.AddUsage(cfg.Producer, inTok, outTok)
			output = text
			cstate.PendingOutput = output
			st.PatternState = encodeState(cstate)
			if err := checkpoint(ctx, deps, st); err != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: err}
			}
		}

		result, err := evaluate(ctx, s, st, cfg, output, deps)
		if err != nil {
			st.Metadata.Status = session.StatusFailed
			st.Metadata.Error = err.Error()
			if cerr := checkpoint(ctx, deps, st); cerr != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: cerr}
			}
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}

		if cfg.ReviewGate != nil && cstate.HITLResponse == "" && iter < maxIters-1 && result.score < cfg.Accept.MinScore {
			cstate.HITL = &session.HITLState{
				Active:          true,
				Prompt:          cfg.ReviewGate.Prompt,
				ContextDisplay:  cfg.ReviewGate.ContextDisplay,
				StepType:        "review_gate",
			}
			st.PatternState = encodeState(cstate)
			st.Metadata.Status = session.StatusPaused
			if err := checkpoint(ctx, deps, st); err != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: err}
			}
			emit(deps.Bus, hooks.EventHITLPause, st, s, nil)
			return pattern.Result{Status: pattern.StatusPaused, HITL: cstate.HITL, Response: output}
		}

		cstate.Iterations = append(cstate.Iterations, Iteration{
			Iter: iter, Output: output, Score: result.score, Feedback: result.feedback, Issues: result.issues,
		})

		if result.score >= cfg.Accept.MinScore {
			cstate.Converged = true
			cstate.PendingOutput = ""
			st.PatternState = encodeState(cstate)
			st.Metadata.Status = session.StatusCompleted
			if err := checkpoint(ctx, deps, st); err != nil {
				return pattern.Result{Status: pattern.StatusFailed, Err: err}
			}
			return pattern.Result{Status: pattern.StatusSuccess, Response: output, CumulativeTokens: st.CumulativeTokens()}
		}

		cstate.CurrentIteration = iter + 1
		cstate.PendingOutput = ""
		cstate.HITLResponse = ""
		st.PatternState = encodeState(cstate)
		if err := checkpoint(ctx, deps, st); err != nil {
			return pattern.Result{Status: pattern.StatusFailed, Err: err}
		}
	}

	st.Metadata.Status = session.StatusCompleted
	if err := checkpoint(ctx, deps, st); err != nil {
		return pattern.Result{Status: pattern.StatusFailed, Err: err}
	}
	best := highestScoring(cstate.Iterations)
	return pattern.Result{Status: pattern.StatusSuccess, Response: best.Output, CumulativeTokens: st.CumulativeTokens()}
}

func produce(ctx context.Context, s *spec.Specification, st *session.State, cfg Config, cstate State, iter int, deps pattern.Deps) (string, int, int, error) {
	renderCtx := map[string]any{
		"inputs": map[string]any{"values": s.Inputs.Values},
	}
	promptTemplate := s.Agents[cfg.Producer].Prompt
	if iter > 0 && cfg.RevisePrompt != "" {
		promptTemplate = cfg.RevisePrompt
		last := cstate.Iterations[len(cstate.Iterations)-1]
		renderCtx["previous_output"] = last.Output
		renderCtx["feedback"] = last.Feedback
		renderCtx["hitl_response"] = cstate.HITLResponse
	}
	return deps.Invoke(ctx, cfg.Producer, promptTemplate, renderCtx, fmt.Sprintf("%s_%s_%d", st.Metadata.SessionID, cfg.Producer, iter))
}

// evaluate invokes the evaluator agent and parses its JSON response. Only
// a malformed/non-conforming response is treated as the retryable
// "parse_error" case (one reprompt, then score=0); an Invoke error (budget
// exceeded, exhausted retries, a non-retryable provider error) is a real
// failure and is propagated to the caller rather than masked as a parse
// failure.
func evaluate(ctx context.Context, s *spec.Specification, st *session.State, cfg Config, output string, deps pattern.Deps) (evalResult, error) {
	renderCtx := map[string]any{
		"output": output,
	}
	text, inTok, outTok, err := deps.Invoke(ctx, cfg.Evaluator.Agent, cfg.Evaluator.Input, renderCtx, fmt.Sprintf("%s_%s", st.Metadata.SessionID, cfg.Evaluator.Agent))
	if err != nil {
		return evalResult{}, err
	}
	st.AddUsage(cfg.Evaluator.Agent, inTok, outTok)

	result, ok := parseEvaluation(text)
	if ok {
		return result, nil
	}
	// Retry once with a reprompt asking for strict JSON.
	text2, inTok2, outTok2, err := deps.Invoke(ctx, cfg.Evaluator.Agent, "reply with only the JSON object {score, feedback}", renderCtx, fmt.Sprintf("%s_%s", st.Metadata.SessionID, cfg.Evaluator.Agent))
	if err != nil {
		return evalResult{}, err
	}
	st.AddUsage(cfg.Evaluator.Agent, inTok2, outTok2)
	if result, ok := parseEvaluation(text2); ok {
		return result, nil
	}
	return evalResult{score: 0, feedback: "parse_error"}, nil
}

func parseEvaluation(text string) (evalResult, bool) {
	trimmed := strings.TrimSpace(text)
	var doc any
	if err := json.Unmarshal([]byte(trimmed), &doc); err != nil {
		return evalResult{}, false
	}
	if err := evaluationSchema.Validate(doc); err != nil {
		return evalResult{}, false
	}
	var parsed struct {
		Score      int      `json:"score"`
		Feedback   string   `json:"feedback"`
		Issues     []string `json:"issues"`
		Suggestions []string `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return evalResult{}, false
	}
	return evalResult{score: parsed.Score, feedback: parsed.Feedback, issues: parsed.Issues}, true
}

func highestScoring(iterations []Iteration) Iteration {
	best := iterations[0]
	for _, it := range iterations[1:] {
		if it.Score > best.Score {
			best = it
		}
	}
	return best
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
