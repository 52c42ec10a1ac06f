// Package audio provides the audio primitives of the voice pipeline: PCM16
// and base64 codecs, decoded [PlaybackBuffer]s, resampling, and the device
// interfaces through which live sessions capture microphone frames and
// schedule playback.
//
// Concrete device backends live in sub-packages (audio/portaudio) so that the
// core pipeline can be exercised in tests with the fakes in audio/mock.
package audio

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/advisorsim/pkg/types"
)

// CaptureFunc receives one captured frame of mono float samples. The slice is
// only valid for the duration of the call; implementations must copy it if
// they retain it. It is called from the device goroutine and must not block.
type CaptureFunc func(frame []float32)

// PlaybackClock is the scheduling surface of an output device.
type PlaybackClock interface {
	// Now returns the device's current playback position.
	Now() time.Duration

	// ScheduleAt queues buf to start playing exactly at position at.
	ScheduleAt(buf PlaybackBuffer, at time.Duration) error
}

// Microphone is an open capture stream.
type Microphone interface {
	// Stop detaches the capture tap. No frames are delivered afterwards.
	Stop() error

	// Close releases the input stream and its device context.
	Close() error
}

// Speaker is an open playback device.
type Speaker interface {
	PlaybackClock

	// Close stops playback and releases the device context.
	Close() error
}

// Devices opens capture and playback endpoints.
//
// Implementations must be safe for concurrent use.
type Devices interface {
	// OpenMicrophone starts capturing mono audio at sampleRate, delivering
	// frames of exactly frameSize samples to tap. Access failures wrap
	// [types.ErrPermission].
	OpenMicrophone(ctx context.Context, sampleRate, frameSize int, tap CaptureFunc) (Microphone, error)

	// OpenSpeaker opens a mono playback device at sampleRate.
	OpenSpeaker(sampleRate int) (Speaker, error)
}

// NoDevices is a [Devices] for hosts without an audio backend. Every open
// fails with [types.ErrPermission].
type NoDevices struct{}

var _ Devices = NoDevices{}

// OpenMicrophone implements [Devices].
func (NoDevices) OpenMicrophone(context.Context, int, int, CaptureFunc) (Microphone, error) {
	return nil, fmt.Errorf("audio: no capture backend available: %w", types.ErrPermission)
}

// OpenSpeaker implements [Devices].
func (NoDevices) OpenSpeaker(int) (Speaker, error) {
	return nil, fmt.Errorf("audio: no playback backend available: %w", types.ErrPermission)
}
