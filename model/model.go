// Package model defines the provider-agnostic message and invocation types
// consumed by the agent runtime. Provider adapters (anthropic, openai,
// bedrock, mock) translate these into concrete API calls.
package model

import "context"

// ConversationRole identifies the speaker for a Message.
type ConversationRole string

const (
	// RoleSystem is the role for system/instruction messages.
	RoleSystem ConversationRole = "system"
	// RoleUser is the role for user-authored messages.
	RoleUser ConversationRole = "user"
	// RoleAssistant is the role for model-authored messages.
	RoleAssistant ConversationRole = "assistant"
)

type (
	// Message is a single chat message exchanged with a model provider.
	Message struct {
		Role ConversationRole
		Text string
	}

	// ToolDefinition describes a tool exposed to the model for a given
	// request.
	ToolDefinition struct {
		Name        string
		Description string
		InputSchema any
	}

	// TokenUsage tracks token counts reported (or estimated) for a model
	// call. Per spec.md §1 Non-goals, these are provider-reported or
	// estimated approximations, never exact accounting.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
	}

	// Request captures the inputs to a single model invocation.
	Request struct {
		// Model is the concrete provider model identifier to use.
		Model string
		// Messages is the ordered transcript provided to the model.
		Messages []Message
		// Temperature controls sampling when supported by the provider.
		Temperature float32
		// TopP controls nucleus sampling when supported by the provider.
		TopP float32
		// MaxTokens caps the number of output tokens when supported.
		MaxTokens int
		// Tools lists tool definitions available to the model for this
		// request. Unused by the core patterns but threaded through for
		// agents that bind tools.
		Tools []ToolDefinition
	}

	// Response is the result of a model invocation.
	Response struct {
		// Text is the assistant's textual reply.
		Text string
		// Usage reports token consumption for the request.
		Usage TokenUsage
		// StopReason records why generation stopped (provider-specific).
		StopReason string
	}

	// Client is the provider-agnostic model client used by every agent.
	// Implementations must be safe for concurrent use by multiple Agents
	// (spec.md §4.3).
	Client interface {
		// Complete performs a single, non-streaming model invocation.
		Complete(ctx context.Context, req *Request) (*Response, error)
	}
)

// TotalTokens returns InputTokens + OutputTokens.
func (u TokenUsage) TotalTokens() int { return u.InputTokens + u.OutputTokens }
