// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and feed controlled sessions.
// Use Session to drive the inbound audio/transcript streams and inspect
// which chunks the live session sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.EmitAudio(s2s.MediaChunk{Data: "AAA="})
//	sess.Finish(nil) // simulate remote close
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/advisorsim/pkg/provider/s2s"
	"github.com/MrWong99/advisorsim/pkg/types"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect returns
	// a new default Session.
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ValidateErr is returned by Validate.
	ValidateErr error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// OnConnect, if set, runs inside Connect before it returns.
	OnConnect func()
}

var _ s2s.Provider = (*Provider)(nil)

// Validate returns ValidateErr.
func (p *Provider) Validate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ValidateErr
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	hook := p.OnConnect
	err := p.ConnectErr
	sess := p.Session
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}
	return NewSession(), nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Calls returns a snapshot of ConnectCalls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// ─── Session ─────────────────────────────────────────────────────────────────

// Session is a mock implementation of s2s.SessionHandle.
type Session struct {
	mu sync.Mutex

	audioCh       chan s2s.MediaChunk
	transcriptsCh chan types.TranscriptEntry
	finishOnce    sync.Once
	errVal        error

	// SendErr, if non-nil, is returned by every Send call.
	SendErr error

	// SendFunc, if set, replaces the default Send behaviour.
	SendFunc func(ctx context.Context, chunk s2s.MediaChunk) error

	// Sent records every chunk passed to Send (including failed sends).
	Sent []s2s.MediaChunk

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	// OnClose, if set, is called at the start of Close.
	OnClose func()
}

var _ s2s.SessionHandle = (*Session)(nil)

// NewSession returns a Session with buffered inbound channels.
func NewSession() *Session {
	return &Session{
		audioCh:       make(chan s2s.MediaChunk, 64),
		transcriptsCh: make(chan types.TranscriptEntry, 16),
	}
}

// Send records the chunk and returns SendErr or the result of SendFunc.
func (s *Session) Send(ctx context.Context, chunk s2s.MediaChunk) error {
	s.mu.Lock()
	s.Sent = append(s.Sent, chunk)
	fn, err := s.SendFunc, s.SendErr
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, chunk)
	}
	return err
}

// Audio returns the inbound audio channel.
func (s *Session) Audio() <-chan s2s.MediaChunk { return s.audioCh }

// Transcripts returns the inbound transcript channel.
func (s *Session) Transcripts() <-chan types.TranscriptEntry { return s.transcriptsCh }

// Err returns the error passed to Finish.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close records the call and ends the inbound streams. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	hook := s.OnClose
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	s.Finish(nil)
	return nil
}

// EmitAudio delivers chunk as if it arrived from the remote side.
func (s *Session) EmitAudio(chunk s2s.MediaChunk) { s.audioCh <- chunk }

// EmitTranscript delivers entry as if it arrived from the remote side.
func (s *Session) EmitTranscript(entry types.TranscriptEntry) { s.transcriptsCh <- entry }

// Finish closes the inbound channels, simulating the end of the session.
// err becomes the value returned by Err. Only the first call has an effect.
func (s *Session) Finish(err error) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.errVal = err
		s.mu.Unlock()
		close(s.audioCh)
		close(s.transcriptsCh)
	})
}

// SentChunks returns a snapshot of Sent.
func (s *Session) SentChunks() []s2s.MediaChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]s2s.MediaChunk, len(s.Sent))
	copy(out, s.Sent)
	return out
}

// Closed returns CloseCallCount.
func (s *Session) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}
