// Package tools implements the tool-handle abstraction agents bind to:
// native Go functions, HTTP-backed tools, MCP-server tools, and the
// built-in JIT retrieval tools (grep/head/tail/search). All four variants
// dispatch through the same Handle interface (spec.md §9: "Represent tool
// handles as a tagged variant {Native | HTTP | MCP | JIT}; dispatch through
// a uniform invoke interface").
package tools

import "context"

// Handle is a single invokable tool bound to an Agent.
type Handle interface {
	// Name is the tool's identifier as presented to the model.
	Name() string
	// Description is the tool's human/model-facing description.
	Description() string
	// InputSchema is the JSON schema describing the tool's input payload.
	InputSchema() any
	// Invoke executes the tool against input and returns result content
	// (typically a string, but may be any JSON-serializable value).
	Invoke(ctx context.Context, input map[string]any) (any, error)
}

// NativeFunc adapts a plain Go function to the Handle interface.
type NativeFunc struct {
	NameValue        string
	DescriptionValue string
	Schema           any
	Fn               func(ctx context.Context, input map[string]any) (any, error)
}

// Name implements Handle.
func (n *NativeFunc) Name() string { return n.NameValue }

// Description implements Handle.
func (n *NativeFunc) Description() string { return n.DescriptionValue }

// InputSchema implements Handle.
func (n *NativeFunc) InputSchema() any { return n.Schema }

// Invoke implements Handle.
func (n *NativeFunc) Invoke(ctx context.Context, input map[string]any) (any, error) {
	return n.Fn(ctx, input)
}
