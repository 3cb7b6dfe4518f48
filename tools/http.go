package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPOptions configures an HTTP-backed tool handle.
type HTTPOptions struct {
	Endpoint string
	Client   *http.Client
	Header   http.Header
}

// HTTP is a Handle that invokes a remote tool over a plain HTTP POST,
// submitting the input as a JSON body and decoding the JSON response as the
// result content. Grounded on the JSON-over-HTTP transport used by the MCP
// HTTP caller, generalized here to any single-endpoint HTTP tool rather
// than the MCP JSON-RPC envelope specifically (see mcp.go for that).
type HTTP struct {
	name        string
	description string
	schema      any
	endpoint    string
	client      *http.Client
	header      http.Header
}

// NewHTTP returns an HTTP tool handle.
func NewHTTP(name, description string, schema any, opts HTTPOptions) (*HTTP, error) {
	if name == "" {
		return nil, errors.New("tools: http tool name is required")
	}
	if opts.Endpoint == "" {
		return nil, errors.New("tools: http tool endpoint is required")
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTP{
		name:        name,
		description: description,
		schema:      schema,
		endpoint:    opts.Endpoint,
		client:      client,
		header:      opts.Header,
	}, nil
}

// Name implements Handle.
func (h *HTTP) Name() string { return h.name }

// Description implements Handle.
func (h *HTTP) Description() string { return h.description }

// InputSchema implements Handle.
func (h *HTTP) InputSchema() any { return h.schema }

// Invoke implements Handle.
func (h *HTTP) Invoke(ctx context.Context, input map[string]any) (any, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("tools: marshal http tool input: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tools: build http tool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range h.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tools: http tool call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tools: http tool %q returned status %d", h.name, resp.StatusCode)
	}
	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("tools: decode http tool response: %w", err)
	}
	return result, nil
}
