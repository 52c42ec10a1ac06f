//go:build portaudio

// Package portaudio implements [audio.Devices] on top of the PortAudio
// library. Build with -tags portaudio; the library must be installed
// (brew install portaudio, apt install portaudio19-dev).
package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/advisorsim/pkg/audio"
	"github.com/MrWong99/advisorsim/pkg/types"
)

// outputBlock is the number of samples written per playback iteration.
const outputBlock = 1024

// Devices opens the host's default input and output devices.
type Devices struct {
	mu   sync.Mutex
	refs int
}

var _ audio.Devices = (*Devices)(nil)

// New returns a PortAudio device factory. The library is initialised lazily
// and terminated when the last opened stream is closed.
func New() *Devices { return &Devices{} }

func (d *Devices) acquire() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return err
		}
	}
	d.refs++
	return nil
}

func (d *Devices) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs--
	if d.refs == 0 {
		if err := portaudio.Terminate(); err != nil {
			slog.Warn("portaudio: terminate", "err", err)
		}
	}
}

// OpenMicrophone implements [audio.Devices].
func (d *Devices) OpenMicrophone(ctx context.Context, sampleRate, frameSize int, tap audio.CaptureFunc) (audio.Microphone, error) {
	if err := d.acquire(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %v: %w", err, types.ErrPermission)
	}
	buf := make([]float32, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), frameSize, buf)
	if err != nil {
		d.release()
		return nil, fmt.Errorf("portaudio: open input: %v: %w", err, types.ErrPermission)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		d.release()
		return nil, fmt.Errorf("portaudio: start input: %v: %w", err, types.ErrPermission)
	}

	m := &microphone{devices: d, stream: stream, done: make(chan struct{})}
	m.loopDone.Add(1)
	go m.captureLoop(buf, tap)
	return m, nil
}

// OpenSpeaker implements [audio.Devices].
func (d *Devices) OpenSpeaker(sampleRate int) (audio.Speaker, error) {
	if err := d.acquire(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %v: %w", err, types.ErrPermission)
	}
	buf := make([]float32, outputBlock)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), outputBlock, buf)
	if err != nil {
		d.release()
		return nil, fmt.Errorf("portaudio: open output: %v: %w", err, types.ErrPermission)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		d.release()
		return nil, fmt.Errorf("portaudio: start output: %v: %w", err, types.ErrPermission)
	}

	s := &speaker{
		Timeline: audio.NewTimeline(sampleRate),
		devices:  d,
		stream:   stream,
		done:     make(chan struct{}),
	}
	s.loopDone.Add(1)
	go s.playLoop(buf)
	return s, nil
}

// ─── Microphone ──────────────────────────────────────────────────────────────

type microphone struct {
	devices  *Devices
	stream   *portaudio.Stream
	done     chan struct{}
	stopOnce sync.Once
	loopDone sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

func (m *microphone) captureLoop(buf []float32, tap audio.CaptureFunc) {
	defer m.loopDone.Done()
	for {
		select {
		case <-m.done:
			return
		default:
		}
		if err := m.stream.Read(); err != nil {
			// Input overflow is reported as an error but the data is still usable.
			slog.Debug("portaudio: read", "err", err)
		}
		select {
		case <-m.done:
			return
		default:
			tap(buf)
		}
	}
}

func (m *microphone) Stop() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *microphone) Close() error {
	m.closeOnce.Do(func() {
		_ = m.Stop()
		m.loopDone.Wait()
		m.closeErr = m.stream.Stop()
		if err := m.stream.Close(); err != nil && m.closeErr == nil {
			m.closeErr = err
		}
		m.devices.release()
	})
	return m.closeErr
}

// ─── Speaker ─────────────────────────────────────────────────────────────────

type speaker struct {
	*audio.Timeline

	devices  *Devices
	stream   *portaudio.Stream
	done     chan struct{}
	loopDone sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

func (s *speaker) playLoop(buf []float32) {
	defer s.loopDone.Done()
	for {
		select {
		case <-s.done:
			return
		default:
		}
		s.Render(buf)
		if err := s.stream.Write(); err != nil {
			slog.Debug("portaudio: write", "err", err)
		}
	}
}

func (s *speaker) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.loopDone.Wait()
		s.closeErr = s.stream.Stop()
		if err := s.stream.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
		s.devices.release()
	})
	return s.closeErr
}
