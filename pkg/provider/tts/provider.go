// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (OpenAI speech, ElevenLabs)
// and returns the complete utterance as raw little-endian PCM16 mono audio at
// the provider's [Provider.SampleRate]. Utterances in this application are
// short persona lines, so whole-clip synthesis is sufficient.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/advisorsim/pkg/types"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with voice and returns PCM16 mono bytes.
	// Missing credentials wrap [types.ErrConfiguration]; rate limits and
	// server errors wrap [types.ErrTransient].
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error)

	// SampleRate is the rate in Hz of the audio returned by Synthesize.
	SampleRate() int
}
