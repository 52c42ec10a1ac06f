package audio

import "time"

// PlaybackBuffer is decoded audio ready to be scheduled on a [PlaybackClock].
// It is treated as read-only once created.
type PlaybackBuffer struct {
	// Channels holds one float sample slice per channel, all of equal length.
	Channels [][]float32

	// SampleRate in Hz.
	SampleRate int
}

// Frames returns the number of samples per channel.
func (b PlaybackBuffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns Frames()/SampleRate as a [time.Duration].
func (b PlaybackBuffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(b.Frames()) * int64(time.Second) / int64(b.SampleRate))
}
