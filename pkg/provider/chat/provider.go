// Package chat defines the Provider interface for stateful text conversations
// with a remote model.
//
// A Channel keeps the conversation history on the provider side (or on the
// client side for backends without native chat sessions) and is configured
// once with a system instruction. Failures worth retrying on a fresh channel
// wrap [types.ErrTransient]; missing credentials wrap [types.ErrConfiguration].
package chat

import (
	"context"
)

// Config is the configuration of a new channel.
type Config struct {
	// SystemInstruction defines the persona the model plays.
	SystemInstruction string

	// Temperature controls randomness. Zero uses the provider default.
	Temperature float64
}

// Channel is an open, stateful conversation.
//
// Send calls are serialised by the implementation; the reply to one message
// is always part of the history seen by the next.
type Channel interface {
	// Send submits one user message and returns the model's reply.
	Send(ctx context.Context, message string) (string, error)

	// Close releases the channel. Idempotent.
	Close() error
}

// Provider opens chat channels against one backend.
type Provider interface {
	// Validate reports configuration problems such as a missing credential
	// without touching the network.
	Validate() error

	// Open creates a channel configured with cfg.
	Open(ctx context.Context, cfg Config) (Channel, error)
}
