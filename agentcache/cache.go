// Package agentcache implements the build-once-per-key Agent cache
// (spec.md §4.4). Concurrent callers requesting the same composite key
// converge on one built Agent; each distinct key is built under its own
// lock so unrelated keys never contend with each other.
package agentcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/thomasrohde/strandsflow/agent"
	"github.com/thomasrohde/strandsflow/hooks"
	"github.com/thomasrohde/strandsflow/model"
	"github.com/thomasrohde/strandsflow/modelpool"
	"github.com/thomasrohde/strandsflow/spec"
)

// Closer is implemented by anything an Agent build attaches that holds
// transport resources needing release (e.g. an MCPServer subprocess).
type Closer interface {
	Close() error
}

// BuildArgs carries every input that participates in an Agent's composite
// cache key (spec.md §4.4: "agent-id plus stable hash of all override and
// hook descriptors plus session_handle").
type BuildArgs struct {
	AgentID       string
	Overrides     spec.AgentOverrides
	ToolOverrides []string
	HookNames     []string
	Notes         []string
	SessionHandle *agent.SessionHandle
}

// key returns the composite cache key: agent-id plus a stable hash of
// every override/hook/notes descriptor plus the session handle identity.
func (a BuildArgs) key() string {
	type canonical struct {
		AgentID       string
		Overrides     spec.AgentOverrides
		ToolOverrides []string
		HookNames     []string
		Notes         []string
		SessionID     string
		SessionAgent  string
	}
	c := canonical{
		AgentID:       a.AgentID,
		Overrides:     a.Overrides,
		ToolOverrides: append([]string(nil), a.ToolOverrides...),
		HookNames:     append([]string(nil), a.HookNames...),
		Notes:         append([]string(nil), a.Notes...),
	}
	sort.Strings(c.ToolOverrides)
	sort.Strings(c.HookNames)
	if a.SessionHandle != nil {
		c.SessionID = a.SessionHandle.SessionID
		c.SessionAgent = a.SessionHandle.AgentID
	}
	payload, _ := json.Marshal(c)
	sum := sha256.Sum256(payload)
	return a.AgentID + "|" + hex.EncodeToString(sum[:])
}

// Builder builds a concrete Agent for args, given the resolved model
// client. Supplied by the runtime driver; encapsulates prompt rendering,
// tool resolution, and hook wiring so this package stays pattern-agnostic.
type Builder func(ctx context.Context, args BuildArgs, client model.Client) (*agent.Agent, []Closer, error)

type entry struct {
	once    sync.Once
	agent   *agent.Agent
	closers []Closer
	err     error
}

// Cache is the per-run Agent cache. A new Cache must be created per
// workflow run (spec.md §2: "creates an empty agent cache").
type Cache struct {
	pool    *modelpool.Pool
	builder Builder
	bus     hooks.Bus

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// New returns an empty Cache backed by pool for model-client resolution
// and builder for Agent construction.
func New(pool *modelpool.Pool, builder Builder, bus hooks.Bus) *Cache {
	return &Cache{
		pool:    pool,
		builder: builder,
		bus:     bus,
		entries: make(map[string]*entry),
	}
}

// GetOrBuild returns the Agent for args, building it at most once per
// composite key even under concurrent callers (spec.md §4.4 "Build-once
// per key").
func (c *Cache) GetOrBuild(ctx context.Context, rc model.RuntimeConfig, args BuildArgs) (*agent.Agent, error) {
	k := args.key()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("agentcache: cache is closed")
	}
	e, ok := c.entries[k]
	if !ok {
		e = &entry{}
		c.entries[k] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		client, err := c.pool.Get(rc)
		if err != nil {
			e.err = fmt.Errorf("agentcache: resolve model client: %w", err)
			return
		}
		a, closers, err := c.builder(ctx, args, client)
		if err != nil {
			e.err = fmt.Errorf("agentcache: build agent %q: %w", args.AgentID, err)
			return
		}
		e.agent = a
		e.closers = closers
	})

	if e.err != nil {
		return nil, e.err
	}
	return e.agent, nil
}

// Close releases transport resources of every built Agent (e.g. HTTP/MCP
// clients underlying bound tools). Idempotent.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	entries := c.entries
	c.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		for _, closer := range e.closers {
			if closer == nil {
				continue
			}
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Len reports the number of distinct Agents built so far, for diagnostics
// and tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
