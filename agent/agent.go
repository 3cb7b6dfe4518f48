// Package agent defines the live, shared execution unit every pattern
// executor invokes: a pooled model client, a rendered system prompt, bound
// tool handles, registered hooks, and an optional session handle for
// conversation-history persistence (spec.md §3 Agent).
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/thomasrohde/strandsflow/hooks"
	"github.com/thomasrohde/strandsflow/model"
	"github.com/thomasrohde/strandsflow/tools"
)

// SessionHandle binds an Agent to a (session, agent) pair's persisted
// conversation history, so invocations after a resume continue from prior
// messages instead of starting cold (spec.md §4.4).
type SessionHandle struct {
	SessionID string
	AgentID   string
	// Dir is agents_dir(session_id)/{agent_id}/, the directory this
	// Agent's conversation-persistence mechanism is bound to.
	Dir string
}

// Agent is the composed execution unit named and referenced from a
// Specification's agents mapping.
type Agent struct {
	ID              string
	Client          model.Client
	RuntimeConfig   model.RuntimeConfig
	SystemPrompt    string
	Tools           []tools.Handle
	Hooks           hooks.Bus
	Session         *SessionHandle

	mu           sync.Mutex
	conversation []model.Message
}

// New constructs an Agent. The conversation history begins empty and is
// appended to by Invoke; callers resuming a session should call
// RestoreHistory with messages read back from the session handle's
// directory before the first Invoke.
func New(id string, client model.Client, rc model.RuntimeConfig, systemPrompt string, handles []tools.Handle, bus hooks.Bus, session *SessionHandle) *Agent {
	return &Agent{
		ID:            id,
		Client:        client,
		RuntimeConfig: rc,
		SystemPrompt:  systemPrompt,
		Tools:         handles,
		Hooks:         bus,
		Session:       session,
	}
}

// RestoreHistory replaces the in-memory conversation with previously
// persisted messages, used when resuming a session-bound Agent.
func (a *Agent) RestoreHistory(messages []model.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conversation = append([]model.Message(nil), messages...)
}

// History returns a copy of the agent's accumulated conversation, suitable
// for persisting to the session handle's directory.
func (a *Agent) History() []model.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.Message(nil), a.conversation...)
}

// toolDefinitions projects the agent's bound tool handles into the
// provider-facing ToolDefinition shape.
func (a *Agent) toolDefinitions() []model.ToolDefinition {
	defs := make([]model.ToolDefinition, 0, len(a.Tools))
	for _, h := range a.Tools {
		defs = append(defs, model.ToolDefinition{
			Name:        h.Name(),
			Description: h.Description(),
			InputSchema: h.InputSchema(),
		})
	}
	return defs
}

// Invoke renders a single user-turn request against prompt, appending it
// (and the assistant's reply) to the agent's conversation history. The
// system prompt is always the first message sent to the provider.
func (a *Agent) Invoke(ctx context.Context, prompt string) (*model.Response, error) {
	a.mu.Lock()
	messages := make([]model.Message, 0, len(a.conversation)+2)
	if a.SystemPrompt != "" {
		messages = append(messages, model.Message{Role: model.RoleSystem, Text: a.SystemPrompt})
	}
	messages = append(messages, a.conversation...)
	messages = append(messages, model.Message{Role: model.RoleUser, Text: prompt})
	a.mu.Unlock()

	req := &model.Request{
		Model:       a.RuntimeConfig.ModelID,
		Messages:    messages,
		Temperature: a.RuntimeConfig.Temperature,
		TopP:        a.RuntimeConfig.TopP,
		MaxTokens:   a.RuntimeConfig.MaxTokens,
		Tools:       a.toolDefinitions(),
	}
	resp, err := a.Client.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("agent %q: %w", a.ID, err)
	}

	a.mu.Lock()
	a.conversation = append(a.conversation, model.Message{Role: model.RoleUser, Text: prompt})
	a.conversation = append(a.conversation, model.Message{Role: model.RoleAssistant, Text: resp.Text})
	a.mu.Unlock()

	return resp, nil
}

// FindTool returns the bound tool handle named name, or nil if not bound.
func (a *Agent) FindTool(name string) tools.Handle {
	for _, h := range a.Tools {
		if h.Name() == name {
			return h
		}
	}
	return nil
}
