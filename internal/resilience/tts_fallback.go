package resilience

import (
	"context"
	"sync"

	"github.com/MrWong99/advisorsim/pkg/provider/tts"
	"github.com/MrWong99/advisorsim/pkg/types"
)

// TTSFallback implements [tts.Provider] with failover across several speech
// backends. Backends may produce audio at different rates, so the rate of the
// backend that served the most recent call is reported by
// [TTSFallback.SampleRate]; callers needing an exact pairing should use
// [TTSFallback.SynthesizeRate].
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]

	mu       sync.Mutex
	lastRate int
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group:    NewFallbackGroup(primary, primaryName, cfg),
		lastRate: primary.SampleRate(),
	}
}

// AddFallback registers an additional backend.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize implements [tts.Provider].
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	pcm, _, err := f.SynthesizeRate(ctx, text, voice)
	return pcm, err
}

// SynthesizeRate synthesizes text on the first healthy backend and returns
// the audio with that backend's sample rate.
func (f *TTSFallback) SynthesizeRate(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, int, error) {
	type clip struct {
		pcm  []byte
		rate int
	}
	c, err := ExecuteWithResult(ctx, f.group, func(p tts.Provider) (clip, error) {
		pcm, err := p.Synthesize(ctx, text, voice)
		return clip{pcm: pcm, rate: p.SampleRate()}, err
	})
	if err != nil {
		return nil, 0, err
	}
	f.mu.Lock()
	f.lastRate = c.rate
	f.mu.Unlock()
	return c.pcm, c.rate, nil
}

// SampleRate implements [tts.Provider].
func (f *TTSFallback) SampleRate() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRate
}
