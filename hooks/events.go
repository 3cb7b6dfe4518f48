package hooks

import "time"

// EventType identifies the kind of lifecycle event published to the bus.
type EventType string

const (
	// EventWorkflowStart fires once when an executor begins running a
	// workflow spec.
	EventWorkflowStart EventType = "workflow_start"
	// EventUnitStart fires when a step, task, branch, or graph node begins
	// execution. Which noun applies depends on the pattern: "step" for
	// chain, "task" for workflow/orchestrator, "branch" for parallel, and
	// "node" for graph.
	EventUnitStart EventType = "step_start"
	// EventUnitComplete fires when a step, task, branch, or graph node
	// finishes execution, successfully or not.
	EventUnitComplete EventType = "step_complete"
	// EventHITLPause fires when execution pauses for human input.
	EventHITLPause EventType = "hitl_pause"
	// EventHITLResume fires when a paused session resumes with a human
	// response.
	EventHITLResume EventType = "hitl_resume"
	// EventBudgetWarning fires when cumulative token usage crosses a
	// configured warning threshold but has not yet exceeded budget.
	EventBudgetWarning EventType = "budget_warning"
	// EventBudgetExceeded fires when cumulative token usage exceeds the
	// configured budget and execution is aborted.
	EventBudgetExceeded EventType = "budget_exceeded"
	// EventRetryAttempt fires before each retried model invocation.
	EventRetryAttempt EventType = "retry_attempt"
	// EventError fires once, immediately before a terminal error is
	// returned to the caller.
	EventError EventType = "error"
	// EventWorkflowComplete fires once when an executor returns, whether
	// successfully, paused, or failed.
	EventWorkflowComplete EventType = "workflow_complete"
)

// Event is the uniform envelope published on the Bus. Every event carries
// the same four identifying fields plus a pattern-specific Data payload, per
// the event contract: "Each event carries {timestamp, session_id,
// spec_name, pattern_type, data{...pattern-specific}}."
type Event struct {
	// EventType is the kind of event.
	EventType EventType
	// Ts is the Unix timestamp in milliseconds when the event was
	// constructed.
	Ts int64
	// SessionIDValue is the session identifier the event belongs to, empty
	// when the run is not session-backed.
	SessionIDValue string
	// SpecName identifies the workflow spec that produced the event.
	SpecName string
	// PatternType identifies the executing pattern (chain, workflow,
	// parallel, routing, evaluator_optimizer, orchestrator_workers,
	// graph).
	PatternType string
	// Data carries event-specific fields, for example unit index/name for
	// a step_start, or kind/detail for an error event.
	Data map[string]any
}

// Type implements the Bus's event identification contract.
func (e Event) Type() EventType { return e.EventType }

// Timestamp returns the Unix millisecond timestamp the event was created.
func (e Event) Timestamp() int64 { return e.Ts }

// SessionID returns the owning session identifier, if any.
func (e Event) SessionID() string { return e.SessionIDValue }

// New builds an Event with the given type and data, stamping Ts with the
// current time.
func New(eventType EventType, sessionID, specName, patternType string, data map[string]any) Event {
	return NewAt(eventType, time.Now().UnixMilli(), sessionID, specName, patternType, data)
}

// NewAt is like New but takes an explicit Unix millisecond timestamp, for
// callers (such as tests) that need deterministic event timestamps.
func NewAt(eventType EventType, ts int64, sessionID, specName, patternType string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		EventType:      eventType,
		Ts:             ts,
		SessionIDValue: sessionID,
		SpecName:       specName,
		PatternType:    patternType,
		Data:           data,
	}
}
