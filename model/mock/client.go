// Package mock provides a scriptable model.Client used by executor tests.
// It is grounded on the teacher's testing style of satisfying a provider SDK
// interface with a test double (features/model/anthropic's MessagesClient)
// adapted here directly to model.Client since strandsflow's Client interface
// is already provider-agnostic.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/thomasrohde/strandsflow/model"
)

// Responder returns the response (or error) for the n-th call (0-indexed)
// made to the mock client.
type Responder func(n int, req *model.Request) (*model.Response, error)

// Client is a deterministic model.Client whose responses are scripted by a
// Responder function or a fixed sequence of canned texts. Safe for
// concurrent use; call count increments atomically under a mutex so tests
// can assert on invocation counts (spec.md §8 properties 8–9).
type Client struct {
	mu        sync.Mutex
	calls     int
	responder Responder
}

// New returns a mock client that delegates every call to fn.
func New(fn Responder) *Client {
	return &Client{responder: fn}
}

// NewSequence returns a mock client that replies with texts[n] on the n-th
// call (clamped to the last entry once exhausted), each reply reporting 10
// input tokens and 10 output tokens as a stand-in estimate.
func NewSequence(texts ...string) *Client {
	return New(func(n int, _ *model.Request) (*model.Response, error) {
		if len(texts) == 0 {
			return &model.Response{Text: ""}, nil
		}
		idx := n
		if idx >= len(texts) {
			idx = len(texts) - 1
		}
		return &model.Response{
			Text:  texts[idx],
			Usage: model.TokenUsage{InputTokens: 10, OutputTokens: 10},
		}, nil
	})
}

// Complete implements model.Client.
func (c *Client) Complete(_ context.Context, req *model.Request) (*model.Response, error) {
	c.mu.Lock()
	n := c.calls
	c.calls++
	c.mu.Unlock()
	if c.responder == nil {
		return nil, fmt.Errorf("mock: no responder configured")
	}
	return c.responder(n, req)
}

// CallCount returns the number of times Complete has been invoked.
func (c *Client) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
