// Package mock provides in-memory implementations of the [audio.Devices],
// [audio.Microphone] and [audio.Speaker] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	spk := &mock.Speaker{}
//	devs := &mock.Devices{Speaker: spk}
//	sess := live.New(provider, devs, cb)
//	_ = sess.Connect(ctx, "prompt")
//	devs.Microphone.Emit(make([]float32, 4096))
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/advisorsim/pkg/audio"
)

// ─── Clock / Speaker ─────────────────────────────────────────────────────────

// ScheduleCall records the arguments of a single [Speaker.ScheduleAt] invocation.
type ScheduleCall struct {
	Buffer audio.PlaybackBuffer
	At     time.Duration
}

// Speaker is a mock [audio.Speaker] whose clock only moves when the test calls
// [Speaker.Advance] or [Speaker.SetNow].
type Speaker struct {
	mu sync.Mutex

	now time.Duration

	// ScheduleError is returned by ScheduleAt.
	ScheduleError error

	// CloseError is returned by Close.
	CloseError error

	// ScheduleCalls records all ScheduleAt invocations in order.
	ScheduleCalls []ScheduleCall

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// OnClose, if set, is called from Close before it returns.
	OnClose func()
}

var _ audio.Speaker = (*Speaker)(nil)

// Now implements [audio.PlaybackClock].
func (s *Speaker) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// ScheduleAt implements [audio.PlaybackClock].
func (s *Speaker) ScheduleAt(buf audio.PlaybackBuffer, at time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ScheduleCalls = append(s.ScheduleCalls, ScheduleCall{Buffer: buf, At: at})
	return s.ScheduleError
}

// Close implements [audio.Speaker].
func (s *Speaker) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	hook := s.OnClose
	err := s.CloseError
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

// Advance moves the clock forward by d.
func (s *Speaker) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now += d
}

// SetNow sets the clock to an absolute position.
func (s *Speaker) SetNow(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = d
}

// Calls returns a snapshot of ScheduleCalls.
func (s *Speaker) Calls() []ScheduleCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleCall, len(s.ScheduleCalls))
	copy(out, s.ScheduleCalls)
	return out
}

// Closed reports how many times Close was called.
func (s *Speaker) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

// ─── Microphone ──────────────────────────────────────────────────────────────

// Microphone is a mock [audio.Microphone]. Frames are injected with
// [Microphone.Emit]; they are dropped once Stop has been called.
type Microphone struct {
	mu sync.Mutex

	tap     audio.CaptureFunc
	stopped bool

	// StopError is returned by Stop.
	StopError error

	// CloseError is returned by Close.
	CloseError error

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	// Order, if set, receives "mic.stop" and "mic.close" as the methods run.
	Order *Recorder
}

var _ audio.Microphone = (*Microphone)(nil)

// Emit delivers frame to the capture tap as the device goroutine would.
// It reports whether the frame was delivered.
func (m *Microphone) Emit(frame []float32) bool {
	m.mu.Lock()
	tap, stopped := m.tap, m.stopped
	m.mu.Unlock()
	if tap == nil || stopped {
		return false
	}
	tap(frame)
	return true
}

// Stop implements [audio.Microphone].
func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountStop++
	m.stopped = true
	m.Order.Add("mic.stop")
	return m.StopError
}

// Close implements [audio.Microphone].
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountClose++
	m.Order.Add("mic.close")
	return m.CloseError
}

// Counts returns the Stop and Close call counts.
func (m *Microphone) Counts() (stops, closes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCountStop, m.CallCountClose
}

// ─── Devices ─────────────────────────────────────────────────────────────────

// OpenMicrophoneCall records the arguments of a single OpenMicrophone invocation.
type OpenMicrophoneCall struct {
	SampleRate int
	FrameSize  int
}

// Devices is a mock [audio.Devices]. A fresh [Microphone] is created for every
// successful OpenMicrophone call and exposed through the Microphone field.
type Devices struct {
	mu sync.Mutex

	// Speaker is returned by OpenSpeaker. A new one is created when nil.
	Speaker *Speaker

	// Microphone is the most recently opened microphone.
	Microphone *Microphone

	// MicrophoneError is returned by OpenMicrophone.
	MicrophoneError error

	// SpeakerError is returned by OpenSpeaker.
	SpeakerError error

	// Order is handed to every opened microphone.
	Order *Recorder

	// MicrophoneCalls records all OpenMicrophone invocations.
	MicrophoneCalls []OpenMicrophoneCall

	// SpeakerRates records the sampleRate of every OpenSpeaker invocation.
	SpeakerRates []int
}

var _ audio.Devices = (*Devices)(nil)

// OpenMicrophone implements [audio.Devices].
func (d *Devices) OpenMicrophone(_ context.Context, sampleRate, frameSize int, tap audio.CaptureFunc) (audio.Microphone, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.MicrophoneCalls = append(d.MicrophoneCalls, OpenMicrophoneCall{SampleRate: sampleRate, FrameSize: frameSize})
	if d.MicrophoneError != nil {
		return nil, d.MicrophoneError
	}
	d.Microphone = &Microphone{tap: tap, Order: d.Order}
	return d.Microphone, nil
}

// OpenSpeaker implements [audio.Devices].
func (d *Devices) OpenSpeaker(sampleRate int) (audio.Speaker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.SpeakerRates = append(d.SpeakerRates, sampleRate)
	if d.SpeakerError != nil {
		return nil, d.SpeakerError
	}
	if d.Speaker == nil {
		d.Speaker = &Speaker{}
	}
	return d.Speaker, nil
}

// Mic returns the most recently opened microphone, or nil.
func (d *Devices) Mic() *Microphone {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Microphone
}

// ─── Recorder ────────────────────────────────────────────────────────────────

// Recorder collects event names in call order across several mocks.
// A nil *Recorder ignores all events.
type Recorder struct {
	mu     sync.Mutex
	events []string
}

// Add appends an event.
func (r *Recorder) Add(event string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a snapshot of recorded events.
func (r *Recorder) Events() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}
