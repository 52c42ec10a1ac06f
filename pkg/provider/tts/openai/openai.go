// Package openai provides a TTS provider backed by the OpenAI speech API.
// Audio is requested in the raw "pcm" format: 24 kHz signed 16-bit mono.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/advisorsim/pkg/provider/llm"
	"github.com/MrWong99/advisorsim/pkg/provider/tts"
	"github.com/MrWong99/advisorsim/pkg/types"
)

const (
	// DefaultModel is the speech model used when none is configured.
	DefaultModel = "tts-1"

	// SampleRate of the "pcm" response format.
	SampleRate = 24000

	defaultVoice = "onyx"
)

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

var _ tts.Provider = (*Provider)(nil)

type config struct {
	model      string
	baseURL    string
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel overrides [DefaultModel].
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries lets the SDK retry failed requests itself. Defaults to 0.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// New constructs a new OpenAI TTS Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty: %w", types.ErrConfiguration)
	}
	cfg := &config{model: DefaultModel}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.model == "" {
		cfg.model = DefaultModel
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	if text == "" {
		return nil, errors.New("openai tts: empty text")
	}
	resp, err := p.client.Audio.Speech.New(ctx, p.buildParams(text, voice))
	if err != nil {
		return nil, fmt.Errorf("openai tts: speech: %w", classify(err))
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read body: %w", llm.Classify(err))
	}
	// A trailing odd byte cannot be a PCM16 sample.
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	return pcm, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int { return SampleRate }

func (p *Provider) buildParams(text string, voice types.VoiceProfile) oai.AudioSpeechNewParams {
	v := voice.ID
	if v == "" {
		v = defaultVoice
	}
	params := oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(v),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.SpeedFactor > 0 && voice.SpeedFactor != 1 {
		params.Speed = oai.Float(voice.SpeedFactor)
	}
	return params
}

func classify(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		switch {
		case llm.TransientStatus(apiErr.StatusCode):
			return fmt.Errorf("%w: %w", types.ErrTransient, err)
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %w", types.ErrConfiguration, err)
		}
		return err
	}
	return llm.Classify(err)
}
