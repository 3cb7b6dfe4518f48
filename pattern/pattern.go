// Package pattern defines the shared executor contract and error kinds
// implemented by each of the seven pattern executors (spec.md §4.6-§4.12).
package pattern

import (
	"context"
	"errors"
	"fmt"

	"github.com/thomasrohde/strandsflow/agentcache"
	"github.com/thomasrohde/strandsflow/engine"
	"github.com/thomasrohde/strandsflow/hooks"
	"github.com/thomasrohde/strandsflow/session"
	"github.com/thomasrohde/strandsflow/spec"
)

// Status mirrors the driver-facing outcome of a single Execute call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPaused  Status = "paused"
	StatusFailed  Status = "failed"
)

// Result is what every pattern executor returns to the session-resume
// dispatcher / top-level driver (spec.md §3 "Execution result").
type Result struct {
	Status         Status
	Response       string
	CumulativeTokens int
	HITL           *session.HITLState
	Err            error
}

// ValidationError reports a spec-shape problem discovered before the first
// agent invocation (spec.md §7): cycles, unknown deps, invalid edge
// targets, undefined agents.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "pattern: validation: " + e.Reason }

// GraphErrorKind enumerates graph-executor-specific failure causes.
type GraphErrorKind string

const (
	// GraphErrorIterationLimit indicates a node's iteration bound
	// (max_iterations) was reached.
	GraphErrorIterationLimit GraphErrorKind = "iteration_limit"
)

// GraphError reports a graph-executor-specific failure.
type GraphError struct {
	Kind GraphErrorKind
	Node string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("pattern: graph: %s at node %q", e.Kind, e.Node)
}

// ErrWaitingForHITL is returned by the resume dispatcher when a paused
// session is resumed without a hitl_response (spec.md §4.13, §7).
var ErrWaitingForHITL = errors.New("pattern: session is paused awaiting a HITL response")

// ErrHITLTimeout is returned when a HITL deadline elapsed with no
// response and no default_response configured (spec.md §5 Timeouts).
var ErrHITLTimeout = errors.New("pattern: hitl timed out with no default response")

// Deps bundles the shared collaborators every executor needs: the agent
// cache for resolving agent-id references, the event bus for lifecycle
// events, and the scheduler for bounded concurrent task execution.
type Deps struct {
	Agents    *agentcache.Cache
	Bus       hooks.Bus
	Scheduler engine.Scheduler
	// Invoke performs a single retried, budget-checked agent call,
	// rendering prompt via the template engine and returning the
	// completion text plus tokens consumed. Supplied by the runtime
	// driver so every executor shares one retry/budget/template wiring
	// path (spec.md §4.5).
	Invoke InvokeFunc
	// Checkpoint durably saves state. Executors must call it after every
	// unit of work that advances pattern_state — including immediately
	// before returning on a HITL pause — with the successor unit already
	// computed and stored (spec.md §5 crash-safety invariant: "compute
	// the successor ... before calling save").
	Checkpoint func(ctx context.Context, state *session.State) error
}

// InvokeFunc renders promptTemplate against renderCtx, invokes agentID
// (resolving/building it via the agent cache as needed), and returns its
// text plus token usage. sessionSuffix scopes the agent cache's session
// handle (e.g. "{session_id}_{agent_id}" for chain steps, or a per-task/
// per-branch/per-worker variant for the other patterns).
type InvokeFunc func(ctx context.Context, agentID, promptTemplate string, renderCtx map[string]any, sessionSuffix string) (text string, inputTokens, outputTokens int, err error)

// Executor runs one pattern to completion, pause, or failure.
type Executor interface {
	// Execute runs spec's pattern starting from (or resuming) state.
	// hitlResponse is non-nil only on a resume call where the caller is
	// answering a pending HITL pause.
	Execute(ctx context.Context, s *spec.Specification, state *session.State, deps Deps, hitlResponse *string) Result
}
