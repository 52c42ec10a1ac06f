// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{PCM: []byte{0, 0, 1, 0}, Rate: 24000}
//	pcm, _ := p.Synthesize(ctx, "Bonjour", types.VoiceProfile{ID: "nova"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/advisorsim/pkg/provider/tts"
	"github.com/MrWong99/advisorsim/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice types.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// PCM is returned by Synthesize.
	PCM []byte

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// Rate is returned by SampleRate. Defaults to 24000 when zero.
	Rate int

	// Calls records every Synthesize call in order.
	Calls []SynthesizeCall
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize records the call and returns PCM or Err.
func (p *Provider) Synthesize(_ context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, SynthesizeCall{Text: text, Voice: voice})
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([]byte, len(p.PCM))
	copy(out, p.PCM)
	return out, nil
}

// SampleRate returns Rate.
func (p *Provider) SampleRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Rate == 0 {
		return 24000
	}
	return p.Rate
}

// SynthesizeCalls returns a snapshot of Calls.
func (p *Provider) SynthesizeCalls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.Calls))
	copy(out, p.Calls)
	return out
}
