// Package runtime is the top-level driver: it assembles the model pool,
// agent cache, tool registry, and event bus around a Specification, then
// dispatches to the pattern executor named by its pattern_type (spec.md §2
// Control flow, §6 Driver interface).
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/thomasrohde/strandsflow/agentcache"
	"github.com/thomasrohde/strandsflow/engine"
	"github.com/thomasrohde/strandsflow/engine/local"
	"github.com/thomasrohde/strandsflow/hooks"
	"github.com/thomasrohde/strandsflow/modelpool"
	"github.com/thomasrohde/strandsflow/pattern"
	"github.com/thomasrohde/strandsflow/pattern/chain"
	"github.com/thomasrohde/strandsflow/pattern/evaluator"
	"github.com/thomasrohde/strandsflow/pattern/graph"
	"github.com/thomasrohde/strandsflow/pattern/orchestrator"
	"github.com/thomasrohde/strandsflow/pattern/parallel"
	"github.com/thomasrohde/strandsflow/pattern/routing"
	"github.com/thomasrohde/strandsflow/pattern/workflow"
	"github.com/thomasrohde/strandsflow/session"
	"github.com/thomasrohde/strandsflow/spec"
	"github.com/thomasrohde/strandsflow/telemetry"
	"github.com/thomasrohde/strandsflow/tools"
)

// ExitCode mirrors the driver's exit-code mapping (spec.md §6).
type ExitCode int

const (
	ExitSuccess        ExitCode = 0
	ExitRuntime        ExitCode = 10
	ExitNotFound       ExitCode = 2
	ExitIO             ExitCode = 12
	ExitUnsupported    ExitCode = 18
	ExitBudgetExceeded ExitCode = 19
	// ExitPause is returned when a run halts on a HITL pause. spec.md
	// names this symbolically ("PAUSE for HITL") without fixing a number;
	// 30 is chosen here to sit outside the other named codes and is
	// stable for callers that compare against runtime.ExitPause rather
	// than a literal.
	ExitPause   ExitCode = 30
	ExitUnknown ExitCode = 70
)

// HITLHandler answers a pending HITL pause synchronously. It may block.
// Returning ok=false means "no interactive handler available"; the driver
// then returns ExitPause immediately without invoking it, per spec.md §6
// "In non-interactive mode, the executor skips the handler call and
// returns PAUSE immediately."
type HITLHandler func(ctx context.Context, hitl session.HITLState) (response string, ok bool)

// Options bundles every collaborator the driver needs to build and run a
// pattern executor. Only Store is required; the rest default to sensible
// in-process implementations.
type Options struct {
	// Store persists session checkpoints. Required.
	Store session.Store
	// Bus receives lifecycle events. Defaults to a bus with no
	// subscribers (events are still constructed and published, just
	// unobserved) when nil.
	Bus hooks.Bus
	// Tools resolves tool names declared on a spec's agents[].tools[].
	// Defaults to an empty registry (agents declaring tools fail to
	// build) when nil.
	Tools *tools.Registry
	// HITLHandler answers HITL pauses synchronously. A nil handler means
	// non-interactive mode: every pause returns immediately with
	// ExitPause.
	HITLHandler HITLHandler
	// AgentCache, when supplied by the caller, is used instead of a
	// fresh per-run cache and is NOT closed by Execute/Resume on return
	// (spec.md §6: "When agent_cache is supplied by the driver ... the
	// executor does not close it; otherwise it does").
	AgentCache *agentcache.Cache
	// ModelBuilder constructs a model.Client for a RuntimeConfig not yet
	// in the pool. Defaults to DefaultModelBuilder (env-credentialed
	// Anthropic/OpenAI, mock for the "mock" provider) when nil.
	ModelBuilder modelpool.Builder
	// ModelPoolCapacity bounds the shared model-client pool. Defaults to
	// modelpool.DefaultCapacity when <= 0.
	ModelPoolCapacity int
	// Scheduler runs bounded-concurrency work for workflow layers,
	// parallel branches, and orchestrator worker fan-out. Defaults to
	// engine/local's goroutine-pool Scheduler when nil.
	Scheduler engine.Scheduler
	// Logger receives driver-level diagnostics (spec_changed warnings,
	// etc). Defaults to telemetry.NoopLogger() when nil.
	Logger telemetry.Logger
	// Now returns the current time, overridable for deterministic tests.
	// Defaults to time.Now when nil.
	Now func() time.Time
	// NewSessionID generates a fresh session identifier. Defaults to
	// uuid.NewString when nil.
	NewSessionID func() string
}

func (o *Options) fillDefaults() {
	if o.Bus == nil {
		o.Bus = hooks.NewBus(o.logger())
	}
	if o.Tools == nil {
		o.Tools = tools.NewRegistry()
	}
	if o.ModelBuilder == nil {
		o.ModelBuilder = DefaultModelBuilder
	}
	if o.Scheduler == nil {
		o.Scheduler = local.New()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewSessionID == nil {
		o.NewSessionID = uuid.NewString
	}
}

func (o *Options) logger() telemetry.Logger {
	if o.Logger == nil {
		return telemetry.NoopLogger()
	}
	return o.Logger
}

// Result is the execution result returned to the caller (spec.md §3
// "Execution result").
type Result struct {
	Success          bool
	LastResponse     string
	PatternType      spec.PatternType
	CumulativeTokens int
	SessionID        string
	Artifacts        []string
	// AgentID is "hitl" when the run returned because of a pending HITL
	// pause.
	AgentID  string
	ExitCode ExitCode
	// Err carries the underlying failure, nil on success or pause.
	Err error
}

var executors = map[spec.PatternType]pattern.Executor{
	spec.PatternChain:               chain.New(),
	spec.PatternWorkflow:            workflow.New(),
	spec.PatternParallel:            parallel.New(),
	spec.PatternRouting:             routing.New(),
	spec.PatternEvaluatorOptimizer:  evaluator.New(),
	spec.PatternOrchestratorWorkers: orchestrator.New(),
	spec.PatternGraph:               graph.New(),
}

// Execute starts a brand-new session for s and runs it to completion,
// pause, or failure.
func Execute(ctx context.Context, s *spec.Specification, variables map[string]any, opts Options) (*Result, error) {
	opts.fillDefaults()

	executor, ok := executors[s.PatternType]
	if !ok {
		return &Result{ExitCode: ExitUnsupported}, fmt.Errorf("runtime: unsupported pattern_type %q", s.PatternType)
	}

	sessionID := opts.NewSessionID()
	now := opts.Now()
	runtimeConfig := runtimeConfigToMap(s.Runtime)
	st := session.New(sessionID, s.Name, s.RawText, string(s.PatternType), variables, runtimeConfig, now)

	opts.Bus.Publish(ctx, hooks.New(hooks.EventWorkflowStart, sessionID, s.Name, string(s.PatternType), nil))

	return run(ctx, executor, s, st, opts, nil)
}

// Resume reconstitutes a persisted session and continues it, answering a
// pending HITL pause with hitlResponse when non-nil (spec.md §4.13).
func Resume(ctx context.Context, sessionID string, s *spec.Specification, hitlResponse *string, opts Options) (*Result, error) {
	opts.fillDefaults()

	st, err := opts.Store.Load(ctx, sessionID)
	if err != nil {
		if err == session.ErrSessionNotFound {
			return &Result{SessionID: sessionID, ExitCode: ExitNotFound}, fmt.Errorf("runtime: session %q not found", sessionID)
		}
		return &Result{SessionID: sessionID, ExitCode: ExitIO}, fmt.Errorf("runtime: load session %q: %w", sessionID, err)
	}
	if st.Metadata.Status == session.StatusCompleted {
		return &Result{SessionID: sessionID, ExitCode: ExitNotFound}, fmt.Errorf("runtime: session %q already completed", sessionID)
	}

	if s != nil && s.RawText != "" {
		if session.HashSpec(s.RawText) != st.Metadata.SpecHash {
			opts.logger().Warn("runtime: spec_changed", telemetry.F("session_id", sessionID))
		}
	} else {
		// No spec supplied on resume: reconstruct a minimal Specification
		// from the session's own snapshot of pattern_type and runtime
		// config, since the pattern executors only read s.PatternConfig
		// for static shape (already embedded in pattern_state for a
		// resumed run) is not recoverable this way — callers resuming
		// without re-supplying the spec must supply one; this path only
		// covers the case where the caller already has no better option
		// than the stored runtime/pattern type for logging purposes.
		s = &spec.Specification{
			Name:        st.Metadata.WorkflowName,
			PatternType: spec.PatternType(st.Metadata.PatternType),
			Runtime:     runtimeConfigFromMap(st.RuntimeConfig),
		}
	}

	executor, ok := executors[s.PatternType]
	if !ok {
		return &Result{SessionID: sessionID, ExitCode: ExitUnsupported}, fmt.Errorf("runtime: unsupported pattern_type %q", s.PatternType)
	}

	if hitl, active := activeHITL(st); active {
		if hitlResponse == nil {
			if hitl.TimeoutAt != nil && opts.Now().After(*hitl.TimeoutAt) {
				if hitl.DefaultResponse != "" {
					hitlResponse = &hitl.DefaultResponse
				} else {
					st.Metadata.Status = session.StatusFailed
					st.Metadata.Error = "HITLTimeout:no default response"
					_ = opts.Store.Save(ctx, st)
					return &Result{SessionID: sessionID, PatternType: s.PatternType, ExitCode: ExitRuntime}, pattern.ErrHITLTimeout
				}
			} else {
				return &Result{SessionID: sessionID, PatternType: s.PatternType, AgentID: "hitl", ExitCode: ExitPause}, pattern.ErrWaitingForHITL
			}
		}
		opts.Bus.Publish(ctx, hooks.New(hooks.EventHITLResume, sessionID, s.Name, string(s.PatternType), nil))
	}

	return run(ctx, executor, s, st, opts, hitlResponse)
}

func run(ctx context.Context, executor pattern.Executor, s *spec.Specification, st *session.State, opts Options, hitlResponse *string) (*Result, error) {
	cache := opts.AgentCache
	ownsCache := false
	if cache == nil {
		pool, err := modelpool.New(opts.ModelPoolCapacity, opts.ModelBuilder)
		if err != nil {
			return &Result{SessionID: st.Metadata.SessionID, ExitCode: ExitRuntime}, fmt.Errorf("runtime: build model pool: %w", err)
		}
		cache = agentcache.New(pool, newAgentBuilder(s, opts), opts.Bus)
		ownsCache = true
	}
	if ownsCache {
		defer cache.Close()
	}

	var saveErr error
	deps := pattern.Deps{
		Agents:    cache,
		Bus:       opts.Bus,
		Scheduler: opts.Scheduler,
		Invoke:    newInvokeFunc(s, st, cache, opts),
		Checkpoint: func(ctx context.Context, state *session.State) error {
			state.Metadata.UpdatedAt = opts.Now()
			if err := opts.Store.Save(ctx, state); err != nil {
				saveErr = err
				return err
			}
			return nil
		},
	}

	res := executor.Execute(ctx, s, st, deps, hitlResponse)

	result := &Result{
		SessionID:        st.Metadata.SessionID,
		PatternType:      s.PatternType,
		LastResponse:     res.Response,
		CumulativeTokens: res.CumulativeTokens,
		Artifacts:        st.ArtifactsWritten,
		Err:              res.Err,
	}

	switch res.Status {
	case pattern.StatusSuccess:
		result.Success = true
		result.ExitCode = ExitSuccess
	case pattern.StatusPaused:
		result.AgentID = "hitl"
		result.ExitCode = ExitPause
	case pattern.StatusFailed:
		result.ExitCode = classifyError(res.Err)
		if saveErr != nil {
			result.ExitCode = ExitIO
		}
	}

	opts.Bus.Publish(ctx, hooks.New(hooks.EventWorkflowComplete, st.Metadata.SessionID, s.Name, string(s.PatternType), map[string]any{
		"status": string(res.Status),
	}))

	return result, res.Err
}

// activeHITL extracts the hitl_state envelope embedded in a pattern's
// PatternState, if any pattern marked it active. Every pattern executor
// nests it under the same "hitl_state" key (spec.md §3 HITLState).
func activeHITL(st *session.State) (session.HITLState, bool) {
	raw, ok := st.PatternState["hitl_state"]
	if !ok || raw == nil {
		return session.HITLState{}, false
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return session.HITLState{}, false
	}
	var h session.HITLState
	if err := json.Unmarshal(b, &h); err != nil {
		return session.HITLState{}, false
	}
	return h, h.Active
}

func runtimeConfigToMap(r spec.Runtime) map[string]any {
	b, _ := json.Marshal(r)
	var out map[string]any
	_ = json.Unmarshal(b, &out)
	return out
}

func runtimeConfigFromMap(m map[string]any) spec.Runtime {
	var r spec.Runtime
	b, err := json.Marshal(m)
	if err != nil {
		return r
	}
	_ = json.Unmarshal(b, &r)
	return r
}
