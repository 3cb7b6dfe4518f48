package mongo

import (
	"time"

	"github.com/thomasrohde/strandsflow/session"
)

type stateDoc struct {
	SessionID     string                   `bson:"session_id"`
	WorkflowName  string                   `bson:"workflow_name"`
	SpecHash      string                   `bson:"spec_hash"`
	PatternType   string                   `bson:"pattern_type"`
	Status        session.Status           `bson:"status"`
	CreatedAt     time.Time                `bson:"created_at"`
	UpdatedAt     time.Time                `bson:"updated_at"`
	Error         string                   `bson:"error,omitempty"`
	Variables     map[string]any           `bson:"variables,omitempty"`
	RuntimeConfig map[string]any           `bson:"runtime_config,omitempty"`
	PatternState  map[string]any           `bson:"pattern_state,omitempty"`
	TokenUsage    tokenUsageDoc            `bson:"token_usage"`
	Artifacts     []string                 `bson:"artifacts_written,omitempty"`
}

type tokenUsageDoc struct {
	TotalInput  int                      `bson:"total_input"`
	TotalOutput int                      `bson:"total_output"`
	ByAgent     map[string]agentUsageDoc `bson:"by_agent,omitempty"`
}

type agentUsageDoc struct {
	Input  int `bson:"input"`
	Output int `bson:"output"`
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
		CreatedAt:     s.Metadata.CreatedAt.UTC(),
		UpdatedAt:     s.Metadata.UpdatedAt.UTC(),
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
