// Package gemini implements the s2s.Provider interface for Google's Gemini Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live endpoint
// and exchanges JSON messages according to the BidiGenerateContent protocol.
// Microphone audio goes out as realtimeInput media chunks; synthesised speech
// comes back as inlineData parts of the model turn (PCM16, 24 kHz).
package gemini

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

	"github.com/MrWong99/advisorsim/pkg/provider/s2s"
	"github.com/MrWong99/advisorsim/pkg/types"
)

// Compile-time assertions that Provider and session satisfy the s2s interfaces.
var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*session)(nil)

const (
	defaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultVoice   = "Zephyr"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	inputSampleRate  = 16000
	outputSampleRate = 24000

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithVoice sets the default prebuilt voice, used when SessionConfig.Voice is empty.
func WithVoice(name string) Option {
	return func(p *Provider) { p.voice = name }
}

// WithTranscription asks the server to transcribe both the trainee's speech
// and the model's spoken output.
func WithTranscription(enabled bool) Option {
	return func(p *Provider) { p.transcribe = enabled }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey     string
	model      string
	voice      string
	baseURL    string
	transcribe bool
}

// New creates a new Gemini Live Provider with the given API key and options.
// An empty key is accepted here and reported by Validate.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		voice:   defaultVoice,
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
		return fmt.Errorf("gemini: missing API key: %w", types.ErrConfiguration)
	}
	return nil
}

// Capabilities returns static metadata about the Gemini Live provider.
func (p *Provider) Capabilities() s2s.Capabilities {
	voices := []string{"Zephyr", "Puck", "Charon", "Kore", "Fenrir", "Aoede"}
	caps := s2s.Capabilities{
		InputSampleRate:    inputSampleRate,
		OutputSampleRate:   outputSampleRate,
		MaxSessionDuration: 15 * time.Minute,
	}
	for _, v := range voices {
		caps.Voices = append(caps.Voices, types.VoiceProfile{ID: v, Name: v, Provider: "gemini"})
	}
	return caps
}

// Connect dials the Live endpoint, sends the setup message and waits for the
// server's setupComplete acknowledgement. Any failure along the way closes
// the socket and wraps types.ErrConnection.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, url.QueryEscape(p.apiKey),
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %v: %w", err, types.ErrConnection)
	}
	conn.SetReadLimit(8 << 20)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:        conn,
		audioCh:     make(chan s2s.MediaChunk, 64),
		transcripts: make(chan types.TranscriptEntry, 16),
		done:        make(chan struct{}),
		ctx:         sessCtx,
		cancel:      sessCancel,
	}

	fail := func(stage string, err error) (s2s.SessionHandle, error) {
		sessCancel()
		conn.Close(websocket.StatusInternalError, stage+" failed")
		return nil, fmt.Errorf("gemini: %s: %v: %w", stage, err, types.ErrConnection)
	}

	if err := sess.writeJSON(ctx, p.setupMessage(cfg)); err != nil {
		return fail("setup", err)
	}
	if err := sess.awaitSetupComplete(ctx); err != nil {
		return fail("handshake", err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

func (p *Provider) setupMessage(cfg s2s.SessionConfig) setupMessage {
	voice := cfg.Voice.ID
	if voice == "" {
		voice = p.voice
	}

	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", p.model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
		},
	}
	if voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice},
			},
		}
	}
	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &content{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}
	if p.transcribe {
		msg.Setup.InputAudioTranscription = &struct{}{}
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	return msg
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *json.RawMessage `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (e *geminiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gemini: server error %d", e.Code)
	}
	return fmt.Sprintf("gemini: server error %d: %s", e.Code, e.Message)
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished,omitempty"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn        *websocket.Conn
	audioCh     chan s2s.MediaChunk
	transcripts chan types.TranscriptEntry

	mu     sync.Mutex
	errVal error
	done   chan struct{}
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// awaitSetupComplete reads until the server acknowledges the setup message.
func (s *session) awaitSetupComplete(ctx context.Context) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			return msg.Error
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// receiveLoop reads messages from the WebSocket and dispatches them.
// It owns audioCh and transcripts: it closes both when it exits.
func (s *session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// Local Close or a normal remote closure end the session cleanly.
			if s.ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return
			}
			s.setErr(fmt.Errorf("gemini: read: %v: %w", err, types.ErrConnection))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}

		if msg.Error != nil {
			s.setErr(fmt.Errorf("%w: %w", msg.Error, types.ErrConnection))
			return
		}
		if msg.ServerContent != nil {
			s.handleServerContent(msg.ServerContent)
		}
	}
}

func (s *session) handleServerContent(sc *serverContent) {
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			chunk := s2s.MediaChunk{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data}
			select {
			case s.audioCh <- chunk:
			case <-s.ctx.Done():
				return
			}
		}
	}
	if t := sc.InputTranscription; t != nil && t.Text != "" {
		s.emitTranscript(types.SenderUser, t)
	}
	if t := sc.OutputTranscription; t != nil && t.Text != "" {
		s.emitTranscript(types.SenderBot, t)
	}
}

func (s *session) emitTranscript(sender types.Sender, t *transcription) {
	entry := types.TranscriptEntry{
		Sender:    sender,
		Text:      t.Text,
		Final:     t.Finished,
		Timestamp: time.Now(),
	}
	select {
	case s.transcripts <- entry:
	case <-s.ctx.Done():
	}
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
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

// Send delivers one base64 PCM chunk (16 kHz, s16le, mono) to the model.
func (s *session) Send(ctx context.Context, chunk s2s.MediaChunk) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	s.mu.Unlock()

	mime := chunk.MIMEType
	if mime == "" {
		mime = fmt.Sprintf("audio/pcm;rate=%d", inputSampleRate)
	}
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []inlineData{{MIMEType: mime, Data: chunk.Data}},
		},
	}
	if err := s.writeJSON(ctx, msg); err != nil {
		return fmt.Errorf("gemini: send: %v: %w", err, types.ErrTransient)
	}
	return nil
}

var errSessionClosed = errors.New("gemini: session closed")

// Audio returns the channel on which the model's synthesised audio arrives.
func (s *session) Audio() <-chan s2s.MediaChunk { return s.audioCh }

// Err returns the first non-nil error that caused the session to terminate.
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

	s.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(s.done) // signals keepaliveLoop via done channel
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
