// Package types defines the shared types used across advisorsim packages.
//
// Each package owns its own domain types; the structures that cross package
// boundaries (conversation turns, LLM messages, voice profiles, the error
// taxonomy) live here to avoid circular imports.
package types

import (
	"time"

	"github.com/google/uuid"
)

// Sender identifies who contributed a [ChatTurn].
type Sender string

const (
	// SenderUser is the trainee (the bank advisor).
	SenderUser Sender = "user"

	// SenderBot is the simulated client persona.
	SenderBot Sender = "bot"

	// SenderSystem marks turns injected by the application itself.
	SenderSystem Sender = "system"
)

// ChatTurn is one message in a conversation. The ordered slice of turns for
// a conversation is its transcript and the only input to report generation.
type ChatTurn struct {
	ID        string
	Text      string
	Sender    Sender
	Timestamp time.Time
}

// NewTurn returns a turn with a fresh random ID stamped with the current time.
func NewTurn(sender Sender, text string) ChatTurn {
	return ChatTurn{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    sender,
		Timestamp: time.Now(),
	}
}

// TranscriptEntry is a transcription emitted by a speech-to-speech session
// for either side of a live voice call.
type TranscriptEntry struct {
	// Sender is [SenderUser] for input transcription and [SenderBot] for
	// output transcription.
	Sender Sender

	// Text is the transcribed fragment.
	Text string

	// Final reports whether the provider marked the utterance complete.
	Final bool

	Timestamp time.Time
}

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// VoiceProfile describes a TTS or speech-to-speech voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which provider this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default).
	SpeedFactor float64
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	ContextWindow     int
	MaxOutputTokens   int
	SupportsStreaming bool
}
