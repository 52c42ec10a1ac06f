// Package llmchat adapts any llm.Provider into a chat.Provider by keeping the
// conversation history on the client side and replaying it on every turn.
package llmchat

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/advisorsim/pkg/provider/chat"
	"github.com/MrWong99/advisorsim/pkg/provider/llm"
	"github.com/MrWong99/advisorsim/pkg/types"
)

// Provider implements chat.Provider over an llm.Provider.
type Provider struct {
	llm llm.Provider
}

var _ chat.Provider = (*Provider)(nil)

// New returns a Provider backed by p. A nil p makes Validate and Open fail
// with [types.ErrConfiguration].
func New(p llm.Provider) *Provider {
	return &Provider{llm: p}
}

// Validate implements chat.Provider.
func (p *Provider) Validate() error {
	if p.llm == nil {
		return fmt.Errorf("llmchat: no LLM provider configured: %w", types.ErrConfiguration)
	}
	return nil
}

// Open implements chat.Provider. No network call is made until the first Send.
func (p *Provider) Open(_ context.Context, cfg chat.Config) (chat.Channel, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &channel{llm: p.llm, cfg: cfg}, nil
}

type channel struct {
	llm llm.Provider
	cfg chat.Config

	mu      sync.Mutex
	history []types.Message
	closed  bool
}

// Send implements chat.Channel. A failed exchange leaves the history as it
// was before the call.
func (c *channel) Send(ctx context.Context, message string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", fmt.Errorf("llmchat: send on closed channel")
	}

	msgs := append(c.history[:len(c.history):len(c.history)], types.Message{Role: "user", Content: message})
	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: c.cfg.SystemInstruction,
		Temperature:  c.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("llmchat: send: %w", err)
	}
	c.history = append(msgs, types.Message{Role: "assistant", Content: resp.Content})
	return resp.Content, nil
}

// Close implements chat.Channel.
func (c *channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.history = nil
	return nil
}
