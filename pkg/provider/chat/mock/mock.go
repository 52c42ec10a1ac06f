// Package mock provides test doubles for the chat package interfaces.
//
// Provider hands out the Channels queued in its Channels field in order and
// falls back to a fresh Channel once the queue is exhausted. Channel replies
// with Reply unless SendFunc or SendErr say otherwise.
//
// Example:
//
//	flaky := &mock.Channel{SendErr: fmt.Errorf("reset: %w", types.ErrTransient)}
//	good := &mock.Channel{Reply: "Bonjour."}
//	p := &mock.Provider{Channels: []*mock.Channel{flaky, good}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/advisorsim/pkg/provider/chat"
)

// Provider is a mock implementation of chat.Provider.
type Provider struct {
	mu sync.Mutex

	// Channels are returned by successive Open calls.
	Channels []*Channel

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// ValidateErr is returned by Validate and, when set, by Open.
	ValidateErr error

	// OpenCalls records the Config of every Open call.
	OpenCalls []chat.Config

	opened []*Channel
}

var _ chat.Provider = (*Provider)(nil)

// Validate returns ValidateErr.
func (p *Provider) Validate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ValidateErr
}

// Open records the call and returns the next queued Channel.
func (p *Provider) Open(_ context.Context, cfg chat.Config) (chat.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OpenCalls = append(p.OpenCalls, cfg)
	if p.ValidateErr != nil {
		return nil, p.ValidateErr
	}
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	var ch *Channel
	if len(p.Channels) > 0 {
		ch, p.Channels = p.Channels[0], p.Channels[1:]
	} else {
		ch = &Channel{}
	}
	p.opened = append(p.opened, ch)
	return ch, nil
}

// Calls returns a snapshot of OpenCalls.
func (p *Provider) Calls() []chat.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]chat.Config, len(p.OpenCalls))
	copy(out, p.OpenCalls)
	return out
}

// Opened returns every Channel handed out so far, in order.
func (p *Provider) Opened() []*Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Channel, len(p.opened))
	copy(out, p.opened)
	return out
}

// Channel is a mock implementation of chat.Channel.
type Channel struct {
	mu sync.Mutex

	// Reply is returned by Send when neither SendFunc nor SendErr is set.
	Reply string

	// SendErr, if non-nil, is returned by every Send call.
	SendErr error

	// SendFunc, if set, replaces the default Send behaviour.
	SendFunc func(ctx context.Context, message string) (string, error)

	// Sent records every message passed to Send.
	Sent []string

	// CloseCallCount is the number of Close calls.
	CloseCallCount int
}

var _ chat.Channel = (*Channel)(nil)

// Send records the message and returns the configured reply.
func (c *Channel) Send(ctx context.Context, message string) (string, error) {
	c.mu.Lock()
	c.Sent = append(c.Sent, message)
	fn, err, reply := c.SendFunc, c.SendErr, c.Reply
	c.mu.Unlock()
	if fn != nil {
		return fn(ctx, message)
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

// Close records the call.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCallCount++
	return nil
}

// Messages returns a snapshot of Sent.
func (c *Channel) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Sent))
	copy(out, c.Sent)
	return out
}

// Closed returns CloseCallCount.
func (c *Channel) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CloseCallCount
}
