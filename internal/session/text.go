// Package session implements the text chat half of a simulation: a stateful
// conversation with the client persona that survives dropped transports.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/advisorsim/internal/observe"
	"github.com/MrWong99/advisorsim/pkg/provider/chat"
	"github.com/MrWong99/advisorsim/pkg/types"
)

// DefaultTemperature is the sampling temperature of persona chats.
const DefaultTemperature = 0.7

// Canned replies returned in place of the persona's answer when the backend
// fails. They are shown to the trainee as if the client had spoken.
const (
	ApologyNetwork = "Désolé, une erreur réseau persistante empêche la réponse. (RPC/XHR)"
	ApologyGeneric = "Désolé, une erreur de connexion s'est produite. (Simulation Error)"
)

// TextSession holds the single active chat channel of a simulation together
// with the system prompt needed to recreate it.
//
// The prompt is remembered before the channel is opened, so a failed
// initialisation can still be retried lazily by the next [TextSession.Send].
// All methods are safe for concurrent use; sends are serialised.
type TextSession struct {
	provider    chat.Provider
	log         *slog.Logger
	metrics     *observe.Metrics
	temperature float64

	mu      sync.Mutex
	channel chat.Channel
	prompt  string
}

// Option is a functional option for [TextSession].
type Option func(*TextSession)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *TextSession) { s.log = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *TextSession) { s.metrics = m }
}

// WithTemperature overrides [DefaultTemperature].
func WithTemperature(t float64) Option {
	return func(s *TextSession) { s.temperature = t }
}

// NewText returns a TextSession that opens channels on provider.
func NewText(provider chat.Provider, opts ...Option) *TextSession {
	s := &TextSession{
		provider:    provider,
		log:         slog.Default(),
		temperature: DefaultTemperature,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Initialize remembers prompt and opens a fresh channel with it, replacing
// any previous channel. Returns an error wrapping [types.ErrConfiguration]
// when the provider is missing or unconfigured.
func (s *TextSession) Initialize(ctx context.Context, prompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initLocked(ctx, prompt)
}

func (s *TextSession) initLocked(ctx context.Context, prompt string) error {
	if s.provider == nil {
		return fmt.Errorf("session: initialize: %w", types.ErrConfiguration)
	}
	if err := s.provider.Validate(); err != nil {
		return fmt.Errorf("session: initialize: %w", err)
	}
	s.prompt = prompt
	s.dropLocked()

	ch, err := s.provider.Open(ctx, chat.Config{
		SystemInstruction: prompt,
		Temperature:       s.temperature,
	})
	if err != nil {
		return fmt.Errorf("session: open channel: %w", err)
	}
	s.channel = ch
	return nil
}

// Send submits one trainee message and returns the persona's reply.
//
// Without an open channel, Send first re-initialises from the remembered
// prompt and returns that error if it fails; with no prompt at all it
// returns [types.ErrSessionNotInitialized]. A transient failure is retried
// exactly once on a fresh channel. Any other failure, or a second transient
// one, yields a canned apology with a nil error.
func (s *TextSession) Send(ctx context.Context, text string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "session.text.send")
	defer span.End()
	start := time.Now()
	defer func() {
		s.metrics.ChatDuration.Record(ctx, time.Since(start).Seconds())
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel == nil {
		if s.prompt == "" {
			return "", fmt.Errorf("session: send: %w", types.ErrSessionNotInitialized)
		}
		if err := s.initLocked(ctx, s.prompt); err != nil {
			observe.RecordError(span, err)
			return "", err
		}
	}

	reply, err := s.channel.Send(ctx, text)
	if err == nil {
		return reply, nil
	}
	observe.RecordError(span, err)

	if !errors.Is(err, types.ErrTransient) {
		s.log.Error("chat send failed", "err", err)
		return ApologyGeneric, nil
	}

	s.log.Warn("transient chat failure, reopening channel", "err", err)
	if err := s.initLocked(ctx, s.prompt); err != nil {
		s.log.Error("reopen after transient failure failed", "err", err)
		return ApologyNetwork, nil
	}
	reply, err = s.channel.Send(ctx, text)
	if err != nil {
		s.log.Error("chat send failed after reopen", "err", err)
		return ApologyNetwork, nil
	}
	return reply, nil
}

// Reset drops the current channel but keeps the prompt, so the next
// [TextSession.Send] reconnects lazily.
func (s *TextSession) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked()
}

// Close drops the channel and forgets the prompt.
func (s *TextSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked()
	s.prompt = ""
	return nil
}

// Initialized reports whether a prompt is known.
func (s *TextSession) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt != ""
}

func (s *TextSession) dropLocked() {
	if s.channel == nil {
		return
	}
	if err := s.channel.Close(); err != nil {
		s.log.Debug("closing chat channel", "err", err)
	}
	s.channel = nil
}
