package local

import (
	"time"

	"github.com/thomasrohde/strandsflow/session"
)

// stateDoc is the on-disk JSON shape for a session.State checkpoint.
type stateDoc struct {
	SessionID     string          `json:"session_id"`
	WorkflowName  string          `json:"workflow_name"`
	SpecHash      string          `json:"spec_hash"`
	PatternType   string          `json:"pattern_type"`
	Status        session.Status  `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Error         string          `json:"error,omitempty"`
	Variables     map[string]any  `json:"variables,omitempty"`
	RuntimeConfig map[string]any  `json:"runtime_config,omitempty"`
	PatternState  map[string]any  `json:"pattern_state,omitempty"`
	TokenUsage    tokenUsageDoc   `json:"token_usage"`
	Artifacts     []string        `json:"artifacts_written,omitempty"`
}

type tokenUsageDoc struct {
	TotalInput  int                      `json:"total_input"`
	TotalOutput int                      `json:"total_output"`
	ByAgent     map[string]agentUsageDoc `json:"by_agent,omitempty"`
}

type agentUsageDoc struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

func toDoc(s *session.State) stateDoc {
	byAgent := make(map[string]agentUsageDoc, len(s.TokenUsage.ByAgent))
	for k, v := range s.TokenUsage.ByAgent {
		byAgent[k] = agentUsageDoc{Input: v.Input, Output: v.Output}
	}
	return stateDoc{
		SessionID:     s.Metadata.SessionID,
		WorkflowName:  s.Metadata.WorkflowName,
		SpecHash:      s.Metadata.SpecHash,
		PatternType:   s.Metadata.PatternType,
		Status:        s.Metadata.Status,
		CreatedAt:     s.Metadata.CreatedAt,
		UpdatedAt:     s.Metadata.UpdatedAt,
		Error:         s.Metadata.Error,
		Variables:     s.Variables,
		RuntimeConfig: s.RuntimeConfig,
		PatternState:  s.PatternState,
		TokenUsage: tokenUsageDoc{
			TotalInput:  s.TokenUsage.TotalInput,
			TotalOutput: s.TokenUsage.TotalOutput,
			ByAgent:     byAgent,
		},
		Artifacts: s.ArtifactsWritten,
	}
}

func (d stateDoc) toState() *session.State {
	byAgent := make(map[string]session.AgentUsage, len(d.TokenUsage.ByAgent))
	for k, v := range d.TokenUsage.ByAgent {
		byAgent[k] = session.AgentUsage{Input: v.Input, Output: v.Output}
	}
	return &session.State{
		Metadata: session.Metadata{
			SessionID:    d.SessionID,
			WorkflowName: d.WorkflowName,
			SpecHash:     d.SpecHash,
			PatternType:  d.PatternType,
			Status:       d.Status,
			CreatedAt:    d.CreatedAt,
			UpdatedAt:    d.UpdatedAt,
			Error:        d.Error,
		},
		Variables:     d.Variables,
		RuntimeConfig: d.RuntimeConfig,
		PatternState:  d.PatternState,
		TokenUsage: session.TokenUsage{
			TotalInput:  d.TokenUsage.TotalInput,
			TotalOutput: d.TokenUsage.TotalOutput,
			ByAgent:     byAgent,
		},
		ArtifactsWritten: d.Artifacts,
	}
}
