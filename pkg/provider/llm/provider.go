// Package llm defines the Provider interface for one-shot text generation.
//
// An LLM provider wraps a remote or local model API (Gemini, OpenAI, Anthropic,
// a local Ollama instance and so on) behind a uniform request/response shape.
// The feedback report and the provider-agnostic chat channel are built on it.
//
// Implementations must be safe for concurrent use and must classify failures
// that are worth retrying by wrapping [types.ErrTransient] (see [Classify]).
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/MrWong99/advisorsim/pkg/types"
)

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the "user" role and drives the response.
	Messages []types.Message

	// SystemPrompt is an optional high-priority instruction placed before the
	// history. Providers without a dedicated system field prepend it as a
	// "system" message.
	SystemPrompt string

	// Temperature controls randomness in [0.0, 2.0]. Zero uses the provider
	// default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int
}

// CompletionResponse is the full reply to a [CompletionRequest].
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any text generation backend.
type Provider interface {
	// Complete sends req and waits for the full response. It returns promptly
	// when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() types.ModelCapabilities
}

// TransientStatus reports whether an HTTP status code indicates a failure
// that is expected to clear on retry: rate limiting, timeouts and server
// errors.
func TransientStatus(code int) bool {
	switch {
	case code == 408, code == 429:
		return true
	case code >= 500 && code <= 599:
		return true
	}
	return false
}

// Classify wraps err with [types.ErrTransient] when it is a network-level
// failure (timeout, reset connection, truncated response) and returns it
// unchanged otherwise. A nil err stays nil.
func Classify(err error) error {
	if err == nil || errors.Is(err, types.ErrTransient) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout(),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %w", types.ErrTransient, err)
	}
	return err
}
