// Package openai implements the s2s.Provider interface for OpenAI's Realtime API.
//
// It establishes a bidirectional WebSocket connection to the OpenAI Realtime
// endpoint and exchanges JSON events according to the Realtime API protocol.
// The Realtime API expects 24 kHz PCM16 input, so 16 kHz microphone chunks are
// resampled before they are appended to the input audio buffer.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/advisorsim/pkg/audio"
	"github.com/MrWong99/advisorsim/pkg/provider/s2s"
	"github.com/MrWong99/advisorsim/pkg/types"
)

// Compile-time assertions that Provider and session satisfy the s2s interfaces.
var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*session)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	captureRate  = 16000
	realtimeRate = 24000
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithVoice sets the default voice, used when SessionConfig.Voice is empty.
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// WithTranscription enables whisper transcription of the trainee's speech
// in addition to the model's own audio transcript.
func WithTranscription(enabled bool) Option {
	return func(p *Provider) { p.transcribe = enabled }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey     string
	model      string
	voice      string
	baseURL    string
	transcribe bool
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		voice:   "alloy",
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Validate implements s2s.Provider.
func (p *Provider) Validate() error {
	if p.apiKey == "" {
		return fmt.Errorf("openai: missing API key: %w", types.ErrConfiguration)
	}
	return nil
}

// Capabilities returns static metadata about the OpenAI Realtime provider.
// Input is accepted at the shared 16 kHz capture rate and resampled internally.
func (p *Provider) Capabilities() s2s.Capabilities {
	caps := s2s.Capabilities{
		InputSampleRate:    captureRate,
		OutputSampleRate:   realtimeRate,
		MaxSessionDuration: 30 * time.Minute,
	}
	for _, v := range []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"} {
		caps.Voices = append(caps.Voices, types.VoiceProfile{ID: v, Name: v, Provider: "openai"})
	}
	return caps
}

// Connect establishes a new OpenAI Realtime session and waits for the
// session.updated acknowledgement of its configuration.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, url.QueryEscape(p.model))

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %v: %w", err, types.ErrConnection)
	}
	conn.SetReadLimit(8 << 20)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:        conn,
		audioCh:     make(chan s2s.MediaChunk, 64),
		transcripts: make(chan types.TranscriptEntry, 16),
		ctx:         sessCtx,
		cancel:      sessCancel,
	}

	fail := func(stage string, err error) (s2s.SessionHandle, error) {
		sessCancel()
		conn.Close(websocket.StatusInternalError, stage+" failed")
		return nil, fmt.Errorf("openai: %s: %v: %w", stage, err, types.ErrConnection)
	}

	if err := sess.writeJSON(ctx, p.sessionUpdate(cfg)); err != nil {
		return fail("session update", err)
	}
	if err := sess.awaitSessionUpdated(ctx); err != nil {
		return fail("handshake", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

func (p *Provider) sessionUpdate(cfg s2s.SessionConfig) sessionUpdateMessage {
	params := sessionParams{
		Voice:             cfg.Voice.ID,
		Instructions:      cfg.Instructions,
		Modalities:        []string{"audio", "text"},
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     &turnDetection{Type: "server_vad"},
	}
	if params.Voice == "" {
		params.Voice = p.voice
	}
	if p.transcribe {
		params.InputAudioTranscription = &inputTranscription{Model: "whisper-1"}
	}
	return sessionUpdateMessage{Type: "session.update", Session: params}
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice                   string              `json:"voice,omitempty"`
	Instructions            string              `json:"instructions,omitempty"`
	Modalities              []string            `json:"modalities,omitempty"`
	InputAudioFormat        string              `json:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format"`
	InputAudioTranscription *inputTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection      `json:"turn_detection,omitempty"`
}

type inputTranscription struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16 at 24 kHz
}

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *serverErrorDetail) Error() string {
	if e.Message == "" {
		return "openai: server error " + e.Code
	}
	return "openai: server error: " + e.Message
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn        *websocket.Conn
	audioCh     chan s2s.MediaChunk
	transcripts chan types.TranscriptEntry

	mu     sync.Mutex
	errVal error
	closed bool

	// currentTxText accumulates response.audio_transcript.delta events until
	// response.audio_transcript.done is received.
	currentTxText string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *session) awaitSessionUpdated(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		switch evt.Type {
		case "session.updated":
			return nil
		case "error":
			if evt.Error != nil {
				return evt.Error
			}
			return errors.New("openai: server error")
		}
	}
}

// receiveLoop reads events from the WebSocket and dispatches them.
// It owns audioCh and transcripts: it closes both when it exits.
func (s *session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			s.setErr(fmt.Errorf("openai: read: %v: %w", err, types.ErrConnection))
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		s.handleServerEvent(&evt)
	}
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		chunk := s2s.MediaChunk{
			MIMEType: fmt.Sprintf("audio/pcm;rate=%d", realtimeRate),
			Data:     evt.Delta,
		}
		select {
		case s.audioCh <- chunk:
		case <-s.ctx.Done():
		}

	case "response.audio_transcript.delta":
		s.mu.Lock()
		s.currentTxText += evt.Delta
		s.mu.Unlock()

	case "response.audio_transcript.done":
		s.mu.Lock()
		text := s.currentTxText
		s.currentTxText = ""
		s.mu.Unlock()
		s.emitTranscript(types.SenderBot, text)

	case "conversation.item.input_audio_transcription.completed":
		s.emitTranscript(types.SenderUser, evt.Transcript)

	case "error":
		// Realtime error events are per-request; the session stays usable.
		if evt.Error != nil {
			s.setErr(evt.Error)
		}
	}
}

func (s *session) emitTranscript(sender types.Sender, text string) {
	if text == "" {
		return
	}
	entry := types.TranscriptEntry{Sender: sender, Text: text, Final: true, Timestamp: time.Now()}
	select {
	case s.transcripts <- entry:
	case <-s.ctx.Done():
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeChannels() {
	s.closeOnce.Do(func() {
		close(s.audioCh)
		close(s.transcripts)
	})
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// Send appends one 16 kHz chunk to the input audio buffer after resampling
// it to 24 kHz.
func (s *session) Send(ctx context.Context, chunk s2s.MediaChunk) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("openai: session closed")
	}
	s.mu.Unlock()

	pcm, err := audio.Base64ToBytes(chunk.Data)
	if err != nil {
		return fmt.Errorf("openai: send: %w", err)
	}
	pcm = audio.ResampleMono16(pcm, captureRate, realtimeRate)
	msg := appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: audio.BytesToBase64(pcm),
	}
	if err := s.writeJSON(ctx, msg); err != nil {
		return fmt.Errorf("openai: send: %v: %w", err, types.ErrTransient)
	}
	return nil
}

// Audio returns the channel on which the model's synthesised audio arrives.
func (s *session) Audio() <-chan s2s.MediaChunk { return s.audioCh }

// Err returns the first non-nil error reported by the session.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Transcripts returns the channel on which transcript entries arrive.
func (s *session) Transcripts() <-chan types.TranscriptEntry { return s.transcripts }

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
