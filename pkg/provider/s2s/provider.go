// Package s2s defines the Provider interface for real-time conversational
// audio backends.
//
// A speech-to-speech provider accepts streamed microphone audio and returns
// synthesised speech in a single stateful session. The session surface is
// deliberately narrow: callers send media chunks and close; everything coming
// back from the model arrives on channels. Examples are the Gemini Live API
// and the OpenAI Realtime API.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"time"

	"github.com/MrWong99/advisorsim/pkg/types"
)

// MediaChunk is one encoded audio chunk as it travels over the wire.
type MediaChunk struct {
	// MIMEType describes the payload, e.g. "audio/pcm;rate=16000".
	MIMEType string

	// Data is the base64 encoding of little-endian PCM16 samples.
	Data string
}

// SessionConfig is the initial configuration for a new session.
type SessionConfig struct {
	// Instructions is the system prompt that defines the persona.
	Instructions string

	// Voice selects the synthesised voice. A zero value uses the provider default.
	Voice types.VoiceProfile
}

// Capabilities describes static properties of a provider.
type Capabilities struct {
	// InputSampleRate is the rate in Hz callers must capture at.
	InputSampleRate int

	// OutputSampleRate is the rate in Hz of audio on [SessionHandle.Audio].
	OutputSampleRate int

	// MaxSessionDuration is the provider-imposed session limit. Zero means
	// no documented limit.
	MaxSessionDuration time.Duration

	// Voices lists the prebuilt voices available.
	Voices []types.VoiceProfile
}

// Sender is the outbound capability of an open session.
type Sender interface {
	// Send transmits one chunk. Chunks must be sent in capture order; the
	// implementation preserves that order on the wire.
	Send(ctx context.Context, chunk MediaChunk) error

	// Close terminates the session and releases its resources. Idempotent.
	Close() error
}

// SessionHandle represents an open session.
type SessionHandle interface {
	Sender

	// Audio emits the model's synthesised speech in delivery order. The
	// channel is closed when the session ends; check [SessionHandle.Err]
	// afterwards.
	Audio() <-chan MediaChunk

	// Transcripts emits transcriptions when the provider was asked to
	// produce them. Closed together with Audio. Consumers must drain it.
	Transcripts() <-chan types.TranscriptEntry

	// Err returns the error that ended the session, or nil after a clean close.
	Err() error
}

// Provider opens sessions against one speech-to-speech backend.
type Provider interface {
	// Validate reports configuration problems such as a missing credential
	// without touching the network. Errors wrap [types.ErrConfiguration].
	Validate() error

	// Connect opens a session and returns once the remote side has
	// acknowledged the setup. Failures wrap [types.ErrConnection].
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
