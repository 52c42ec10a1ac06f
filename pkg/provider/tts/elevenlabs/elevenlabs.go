// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements the tts.Provider interface.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/advisorsim/pkg/provider/llm"
	"github.com/MrWong99/advisorsim/pkg/provider/tts"
	"github.com/MrWong99/advisorsim/pkg/types"
)

const (
	defaultBaseURL   = "wss://api.elevenlabs.io"
	wsPathFmt        = "/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_24000"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithOutputFormat sets the audio output format. Only "pcm_<rate>" formats
// are accepted since callers expect raw PCM16.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		if format != "" {
			p.outputFormat = format
		}
	}
}

// WithBaseURL overrides the WebSocket origin (scheme and host).
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = strings.TrimSuffix(url, "/")
		}
	}
}

// WithVoices maps incoming voice IDs (the persona voice names) to
// ElevenLabs voice IDs.
func WithVoices(m map[string]string) Option {
	return func(p *Provider) {
		for k, v := range m {
			p.voices[k] = v
		}
	}
}

// WithDefaultVoice sets the voice used when an incoming voice has no mapping.
func WithDefaultVoice(id string) Option {
	return func(p *Provider) { p.defaultVoice = id }
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	sampleRate   int
	baseURL      string
	voices       map[string]string
	defaultVoice string
}

var _ tts.Provider = (*Provider)(nil)

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("elevenlabs: apiKey must not be empty: %w", types.ErrConfiguration)
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		baseURL:      defaultBaseURL,
		voices:       make(map[string]string),
	}
	for _, o := range opts {
		o(p)
	}
	rate, err := rateFromFormat(p.outputFormat)
	if err != nil {
		return nil, err
	}
	p.sampleRate = rate
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	Flush         bool           `json:"flush,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// boiMessage is the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// Synthesize opens a WebSocket to ElevenLabs, sends text as one fragment
// followed by the end-of-input marker, and collects the PCM chunks until the
// server reports the final chunk or closes the stream.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	if text == "" {
		return nil, errors.New("elevenlabs: empty text")
	}
	voiceID := p.resolveVoice(voice)
	if voiceID == "" {
		return nil, fmt.Errorf("elevenlabs: no voice configured for %q: %w", voice.ID, types.ErrConfiguration)
	}

	conn, resp, err := websocket.Dial(ctx, p.buildURL(voiceID), nil)
	if err != nil {
		if resp != nil && llm.TransientStatus(resp.StatusCode) {
			return nil, fmt.Errorf("elevenlabs: dial: %w: %w", types.ErrTransient, err)
		}
		return nil, fmt.Errorf("elevenlabs: dial: %w", llm.Classify(err))
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	conn.SetReadLimit(8 << 20)

	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if voice.SpeedFactor > 0 && voice.SpeedFactor != 1 {
		vs.Speed = voice.SpeedFactor
	}
	msgs := []any{
		// ElevenLabs requires a non-empty first text value.
		boiMessage{Text: " ", VoiceSettings: vs, XiAPIKey: p.apiKey},
		textMessage{Text: text + " ", Flush: true},
		textMessage{Text: ""},
	}
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: marshal: %w", err)
		}
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			return nil, fmt.Errorf("elevenlabs: write: %w", llm.Classify(err))
		}
	}

	var pcm bytes.Buffer
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", llm.Classify(err))
		}
		var ar audioResponse
		if err := json.Unmarshal(msg, &ar); err != nil {
			continue
		}
		if ar.Error != "" {
			return nil, fmt.Errorf("elevenlabs: server error: %s", ar.Error)
		}
		if ar.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(ar.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: audio chunk: %w", types.ErrDecode)
			}
			pcm.Write(chunk)
		}
		if ar.IsFinal {
			break
		}
	}

	out := pcm.Bytes()
	if len(out)%2 != 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int { return p.sampleRate }

// ---- helpers ----

func (p *Provider) resolveVoice(v types.VoiceProfile) string {
	if id, ok := p.voices[v.ID]; ok {
		return id
	}
	if v.Provider == "elevenlabs" && v.ID != "" {
		return v.ID
	}
	if p.defaultVoice != "" {
		return p.defaultVoice
	}
	return v.ID
}

// buildURL constructs the WebSocket URL for a given voice.
func (p *Provider) buildURL(voiceID string) string {
	return p.baseURL + fmt.Sprintf(wsPathFmt, voiceID, p.model, p.outputFormat)
}

// rateFromFormat extracts the sample rate from a "pcm_<rate>" format name.
func rateFromFormat(format string) (int, error) {
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: output format %q is not raw PCM: %w", format, types.ErrConfiguration)
	}
	rate, err := strconv.Atoi(rest)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("elevenlabs: invalid output format %q: %w", format, types.ErrConfiguration)
	}
	return rate, nil
}
