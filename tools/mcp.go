package tools

import (
	"context"
	"fmt"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPServer is a connected MCP subprocess shared by every tool it exposes.
// A single server typically backs several MCP Handles (one per listed
// tool), so the connection and handshake happen once in NewMCPServer and
// every Handle built from it calls tools/call against the same client.
type MCPServer struct {
	mu     sync.Mutex
	client *mcpclient.Client
	name   string
}

// MCPServerConfig configures a stdio-transport MCP server connection.
type MCPServerConfig struct {
	Command string
	Args    []string
	Env     map[string]string
}

// NewMCPServer launches command as a subprocess MCP server, performs the
// initialize handshake, and returns a handle used to build per-tool
// Handles against it.
func NewMCPServer(ctx context.Context, cfg MCPServerConfig) (*MCPServer, error) {
	env := make([]string, 0, len(cfg.Env))
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	c, err := mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("tools: create mcp client: %w", err)
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "strandsflow", Version: "0.1.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("tools: mcp initialize: %w", err)
	}
	return &MCPServer{client: c, name: cfg.Command}, nil
}

// ListTools returns the tool descriptors the server currently exposes.
func (s *MCPServer) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("tools: mcp list tools: %w", err)
	}
	return resp.Tools, nil
}

// Close releases the underlying subprocess and transport. Idempotent.
func (s *MCPServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// MCP is a Handle that dispatches to a single named tool on a connected
// MCPServer via the tools/call RPC.
type MCP struct {
	server      *MCPServer
	name        string
	description string
	schema      any
}

// NewMCPTool binds name (as advertised by server's ListTools) to a Handle.
func NewMCPTool(server *MCPServer, name, description string, schema any) *MCP {
	return &MCP{server: server, name: name, description: description, schema: schema}
}

// Name implements Handle.
func (m *MCP) Name() string { return m.name }

// Description implements Handle.
func (m *MCP) Description() string { return m.description }

// InputSchema implements Handle.
func (m *MCP) InputSchema() any { return m.schema }

// Invoke implements Handle.
func (m *MCP) Invoke(ctx context.Context, input map[string]any) (any, error) {
	m.server.mu.Lock()
	client := m.server.client
	m.server.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("tools: mcp server %q is closed", m.server.name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = m.name
	req.Params.Arguments = input
	resp, err := client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("tools: mcp call %q: %w", m.name, err)
	}
	return parseMCPResult(resp)
}

// parseMCPResult flattens MCP content blocks into a single string result,
// the same shape the rest of the engine expects from every tool variant.
func parseMCPResult(resp *mcp.CallToolResult) (any, error) {
	if resp == nil {
		return "", nil
	}
	var text string
	for _, c := range resp.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			text += tc.Text
		}
	}
	if resp.IsError {
		return nil, fmt.Errorf("tools: mcp tool reported error: %s", text)
	}
	return text, nil
}
