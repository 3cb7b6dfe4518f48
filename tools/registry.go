package tools

import "fmt"

// Registry resolves the tool names listed in a spec's agents[].tools[] to
// concrete Handles. Native, HTTP, and MCP handles are registered ahead of
// time (e.g. at process startup, from deployment configuration); JIT
// handles are built per-agent from context_policy.retrieval.jit_tools
// instead of being looked up here, since they are not named in a spec's
// tools[] list.
type Registry struct {
	handles map[string]Handle
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]Handle)}
}

// Register adds h under its own Name(), overwriting any previous
// registration with the same name.
func (r *Registry) Register(h Handle) {
	r.handles[h.Name()] = h
}

// Resolve looks up each name in names, returning an error naming the first
// unresolvable tool rather than silently dropping it — an agent whose spec
// names a tool that was never registered is a configuration error, not a
// degraded-but-valid agent.
func (r *Registry) Resolve(names []string) ([]Handle, error) {
	out := make([]Handle, 0, len(names))
	for _, name := range names {
		h, ok := r.handles[name]
		if !ok {
			return nil, fmt.Errorf("tools: unresolved tool %q", name)
		}
		out = append(out, h)
	}
	return out, nil
}
