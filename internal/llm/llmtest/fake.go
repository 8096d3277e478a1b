// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/jonathan/resume-screener/internal/llm"
)

// Call records one GenerateJSON invocation
type Call struct {
	System string
	User   string
	Tier   llm.ModelTier
}

// Handler produces the reply for one call
type Handler func(call Call) (*llm.Response, error)

// Client is a fake llm.Client. Replies are taken from Handler when set,
// otherwise from the queued responses in order.
type Client struct {
	Handler  Handler
	Models   []string
	Name     llm.Provider
	mu       sync.Mutex
	queue    []reply
	calls    []Call
	closed   bool
	Fallback *llm.Response
}

type reply struct {
	resp *llm.Response
	err  error
}

// New returns a fake client with no queued replies
func New() *Client {
	return &Client{Name: llm.ProviderAnthropic}
}

// Reply queues a successful JSON reply with the given usage
func (c *Client) Reply(text string, usage llm.Usage) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, reply{resp: &llm.Response{Text: text, Model: "fake", Usage: usage}})
	return c
}

// Fail queues an error reply
func (c *Client) Fail(err error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, reply{err: err})
	return c
}

// GenerateJSON implements llm.Client
func (c *Client) GenerateJSON(ctx context.Context, system, user string, tier llm.ModelTier) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	call := Call{System: system, User: user, Tier: tier}
	c.mu.Lock()
	c.calls = append(c.calls, call)
	handler := c.Handler
	var next *reply
	if handler == nil && len(c.queue) > 0 {
		next = &c.queue[0]
		c.queue = c.queue[1:]
	}
	fallback := c.Fallback
	c.mu.Unlock()

	if handler != nil {
		return handler(call)
	}
	if next != nil {
		return next.resp, next.err
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, &llm.TransportError{Provider: c.Name, StatusCode: 500}
}

// ListModels implements llm.Client
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	return c.Models, nil
}

// Provider implements llm.Client
func (c *Client) Provider() llm.Provider {
	return c.Name
}

// Close implements llm.Client
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Calls returns a copy of the recorded calls
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Closed reports whether Close was called
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Factory returns an llm.Factory that always hands out c
func (c *Client) Factory() llm.Factory {
	return func(ctx context.Context, cfg llm.Config) (llm.Client, error) {
		return c, nil
	}
}
