// Package gemini provides a chat provider backed by the Gemini API chat
// sessions of google.golang.org/genai.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"google.golang.org/genai"

	"github.com/MrWong99/advisorsim/pkg/provider/chat"
	"github.com/MrWong99/advisorsim/pkg/provider/llm"
	"github.com/MrWong99/advisorsim/pkg/types"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "gemini-2.5-flash"

// Provider implements chat.Provider on top of the genai Chats API.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

var _ chat.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithModel overrides [DefaultModel].
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New creates a Provider. An empty apiKey is accepted; Validate and Open
// then report [types.ErrConfiguration].
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{apiKey: apiKey, model: DefaultModel}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Validate implements chat.Provider.
func (p *Provider) Validate() error {
	if p.apiKey == "" {
		return fmt.Errorf("gemini chat: API key missing: %w", types.ErrConfiguration)
	}
	return nil
}

// Open implements chat.Provider.
func (p *Provider) Open(ctx context.Context, cfg chat.Config) (chat.Channel, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	cc := &genai.ClientConfig{
		APIKey:     p.apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.httpClient,
	}
	if p.baseURL != "" {
		cc.HTTPOptions.BaseURL = p.baseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini chat: create client: %w", err)
	}

	gc := &genai.GenerateContentConfig{}
	if cfg.SystemInstruction != "" {
		gc.SystemInstruction = genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser)
	}
	if cfg.Temperature != 0 {
		gc.Temperature = genai.Ptr(float32(cfg.Temperature))
	}

	session, err := client.Chats.Create(ctx, p.model, gc, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini chat: create session: %w", classify(err))
	}
	return &channel{session: session}, nil
}

type channel struct {
	mu      sync.Mutex
	session *genai.Chat
	closed  bool
}

// Send implements chat.Channel.
func (c *channel) Send(ctx context.Context, message string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", fmt.Errorf("gemini chat: send on closed channel")
	}

	resp, err := c.session.SendMessage(ctx, genai.Part{Text: message})
	if err != nil {
		return "", fmt.Errorf("gemini chat: send: %w", classify(err))
	}
	return resp.Text(), nil
}

// Close implements chat.Channel.
func (c *channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// classify maps genai API errors onto the shared error taxonomy.
func classify(err error) error {
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	default:
		return llm.Classify(err)
	}

	switch {
	case llm.TransientStatus(code):
		return fmt.Errorf("%w: %w", types.ErrTransient, err)
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return fmt.Errorf("%w: %w", types.ErrConfiguration, err)
	}
	return err
}
