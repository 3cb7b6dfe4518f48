// Package session defines the durable, resumable execution state shared by
// every pattern executor. It is grounded on the teacher's
// runtime/agent/session package (Session/RunMeta/Store shape) but collapses
// session lifecycle and run metadata into a single persisted document,
// since this engine's unit of durability is the workflow run itself rather
// than a separately tracked run registry.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Status is the lifecycle state of a SessionState.
type Status string

const (
	// StatusRunning indicates the session is actively executing.
	StatusRunning Status = "running"
	// StatusPaused indicates the session is waiting on a HITL response.
	StatusPaused Status = "paused"
	// StatusCompleted indicates the session finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the session terminated with an error.
	StatusFailed Status = "failed"
)

// ErrSessionNotFound indicates a session does not exist in the store.
var ErrSessionNotFound = errors.New("session: not found")

type (
	// Metadata is the identity and lifecycle envelope of a session.
	Metadata struct {
		// SessionID is the durable UUID identifying this session.
		SessionID string
		// WorkflowName is the spec's `name` field.
		WorkflowName string
		// SpecHash is the SHA-256 hex digest of the spec text at session
		// creation, immutable thereafter. Resume with a mismatching hash
		// emits a warning but does not block.
		SpecHash string
		// PatternType is the spec's `pattern_type`.
		PatternType string
		// Status is the current lifecycle state.
		Status Status
		// CreatedAt records session creation time.
		CreatedAt time.Time
		// UpdatedAt records the most recent checkpoint time.
		UpdatedAt time.Time
		// Error, when Status is failed, records the failure as text: the
		// failing error's Error() string in the pattern executors, or
		// "HITLTimeout:no default response" for an expired HITL pause
		// with no default. No separate kind field is kept.
		Error string
	}

	// TokenUsage tracks cumulative token consumption across the session.
	TokenUsage struct {
		TotalInput  int
		TotalOutput int
		ByAgent     map[string]AgentUsage
	}

	// AgentUsage tracks cumulative token consumption attributed to a
	// single agent ID.
	AgentUsage struct {
		Input  int
		Output int
	}

	// HITLState is embedded in PatternState when a session is paused
	// awaiting human input. Exactly one locator field is populated,
	// depending on which pattern raised the pause.
	HITLState struct {
		Active          bool
		Prompt          string
		ContextDisplay  string
		DefaultResponse string
		TimeoutAt       *time.Time
		UserResponse    string

		// StepIndex locates the pause point for the chain pattern.
		StepIndex *int
		// TaskID and LayerIndex locate the pause point for the workflow
		// pattern.
		TaskID     string
		LayerIndex *int
		// BranchID and StepType locate the pause point for the parallel
		// pattern; StepType is "branch" or "reduce".
		BranchID string
		StepType string
		// NodeID locates the pause point for the graph pattern.
		NodeID string
	}

	// State is the full persisted, resumable state of one workflow run.
	State struct {
		Metadata Metadata
		// Variables are the caller-supplied inputs at session start.
		Variables map[string]any
		// RuntimeConfig is the snapshot of the spec's runtime block,
		// serialized generically since its shape is spec-defined rather
		// than fixed Go struct (provider/model/budgets/etc. per
		// spec.md §3).
		RuntimeConfig map[string]any
		// PatternState is the pattern-specific resumable state (see
		// spec.md §4.6-4.12 for each pattern's shape). Each executor
		// marshals/unmarshals its own typed view of this map.
		PatternState map[string]any
		TokenUsage   TokenUsage
		// ArtifactsWritten lists paths or identifiers of artifacts
		// produced by the run.
		ArtifactsWritten []string
	}
)

// HashSpec computes the SHA-256 hex digest used as Metadata.SpecHash.
func HashSpec(specText string) string {
	sum := sha256.Sum256([]byte(specText))
	return hex.EncodeToString(sum[:])
}

// New constructs a fresh State in StatusRunning for a newly started session.
func New(sessionID, workflowName, specText, patternType string, variables, runtimeConfig map[string]any, now time.Time) *State {
	return &State{
		Metadata: Metadata{
			SessionID:    sessionID,
			WorkflowName: workflowName,
			SpecHash:     HashSpec(specText),
			PatternType:  patternType,
			Status:       StatusRunning,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		Variables:     variables,
		RuntimeConfig: runtimeConfig,
		PatternState:  map[string]any{},
		TokenUsage:    TokenUsage{ByAgent: map[string]AgentUsage{}},
	}
}

// AddUsage records tokens consumed by agentID and updates session totals.
func (s *State) AddUsage(agentID string, input, output int) {
	s.TokenUsage.TotalInput += input
	s.TokenUsage.TotalOutput += output
	if s.TokenUsage.ByAgent == nil {
		s.TokenUsage.ByAgent = map[string]AgentUsage{}
	}
	u := s.TokenUsage.ByAgent[agentID]
	u.Input += input
	u.Output += output
	s.TokenUsage.ByAgent[agentID] = u
}

// CumulativeTokens returns total input + output tokens recorded so far.
func (s *State) CumulativeTokens() int {
	return s.TokenUsage.TotalInput + s.TokenUsage.TotalOutput
}
