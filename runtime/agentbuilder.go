package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/thomasrohde/strandsflow/agent"
	"github.com/thomasrohde/strandsflow/agentcache"
	"github.com/thomasrohde/strandsflow/model"
	"github.com/thomasrohde/strandsflow/spec"
	"github.com/thomasrohde/strandsflow/tools"
)

// newAgentBuilder returns the agentcache.Builder that constructs a live
// agent.Agent from a spec's agents[id] definition: the rendered system
// prompt (prompt plus context_policy notes and JIT tool instructions), its
// resolved tool handles, and — when args.SessionHandle is set — the
// conversation-persistence directory for that (session, agent) pair
// (spec.md §4.4).
func newAgentBuilder(s *spec.Specification, opts Options) agentcache.Builder {
	return func(ctx context.Context, args agentcache.BuildArgs, client model.Client) (*agent.Agent, []agentcache.Closer, error) {
		agentSpec, ok := s.Agents[args.AgentID]
		if !ok {
			return nil, nil, fmt.Errorf("runtime: spec has no agent %q", args.AgentID)
		}

		toolNames := agentSpec.Tools
		if len(args.ToolOverrides) > 0 {
			toolNames = args.ToolOverrides
		}
		handles, err := opts.Tools.Resolve(toolNames)
		if err != nil {
			return nil, nil, fmt.Errorf("runtime: resolve tools for agent %q: %w", args.AgentID, err)
		}
		if s.ContextPolicy != nil && len(s.ContextPolicy.Retrieval.JITTools) > 0 {
			handles = append(handles, tools.BuildJIT(s.ContextPolicy.Retrieval.JITTools)...)
		}

		rc := effectiveRuntimeConfig(s.Runtime, agentSpec.Overrides)

		var handle *agent.SessionHandle
		if args.SessionHandle != nil {
			dirSuffix := strings.TrimPrefix(args.SessionHandle.SessionID, args.SessionHandle.AgentID+"_")
			handle = &agent.SessionHandle{
				SessionID: args.SessionHandle.SessionID,
				AgentID:   args.SessionHandle.AgentID,
				Dir:       filepath.Join(opts.Store.AgentsDir(rootSessionID(args.SessionHandle.SessionID)), dirSuffix),
			}
		}

		systemPrompt := renderSystemPrompt(agentSpec.Prompt, s, args.Notes)
		a := agent.New(args.AgentID, client, rc, systemPrompt, handles, opts.Bus, handle)
		return a, nil, nil
	}
}

// renderSystemPrompt composes an agent's static system prompt from its
// declared prompt text plus any context_policy notes and a description of
// its bound JIT tools, following spec.md §3's "rendered system prompt (with
// notes, skill metadata, and JIT tool instructions injected when
// configured)". Unlike a step's per-invocation input, the system prompt is
// not expanded against execution context — it carries only spec-time,
// not run-time, information.
func renderSystemPrompt(prompt string, s *spec.Specification, notes []string) string {
	var b strings.Builder
	b.WriteString(prompt)
	if s.ContextPolicy != nil {
		for _, n := range s.ContextPolicy.Notes {
			b.WriteString("\n\nNote: ")
			b.WriteString(n)
		}
		if len(s.ContextPolicy.Retrieval.JITTools) > 0 {
			b.WriteString("\n\nYou have read-only access to the following retrieval tools over absolute file paths: ")
			b.WriteString(strings.Join(s.ContextPolicy.Retrieval.JITTools, ", "))
			b.WriteString(".")
		}
	}
	for _, n := range notes {
		b.WriteString("\n\nNote: ")
		b.WriteString(n)
	}
	return b.String()
}

func rootSessionID(scoped string) string {
	if idx := strings.Index(scoped, "_"); idx >= 0 {
		return scoped[:idx]
	}
	return scoped
}
