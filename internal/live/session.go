// Package live manages one real-time voice conversation: microphone capture,
// streaming to a speech-to-speech provider, gapless playback of the replies
// and a teardown that always completes.
//
// A [Session] owns at most one connection at a time. Connect acquires the
// microphone, the playback device and the remote channel in that order;
// Disconnect releases them in a fixed order and then invokes the OnClose
// callback exactly once. Every failure path, including remote closure, ends
// in the same teardown.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/advisorsim/internal/observe"
	"github.com/MrWong99/advisorsim/pkg/audio"
	"github.com/MrWong99/advisorsim/pkg/provider/s2s"
	"github.com/MrWong99/advisorsim/pkg/types"
)

const (
	// CaptureSampleRate is the microphone rate expected by the remote side.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate of synthesised speech.
	PlaybackSampleRate = 24000

	// FrameSize is the number of samples per captured frame.
	FrameSize = 4096

	// LevelGain scales the RMS of a frame into the [0,1] level range.
	LevelGain = 5.0

	defaultSendQueue = 32
)

// captureMIME is the MIME type of outbound chunks.
var captureMIME = "audio/pcm;rate=" + strconv.Itoa(CaptureSampleRate)

// Callbacks are the notifications a [Session] delivers to its owner. They may
// be called from device and network goroutines and must not block.
type Callbacks struct {
	// OnAudioLevel receives the level of every captured and every received
	// frame, in [0,1].
	OnAudioLevel func(level float64)

	// OnTranscript receives transcriptions when the provider produces them.
	// Optional.
	OnTranscript func(entry types.TranscriptEntry)

	// OnClose is invoked exactly once per connection attempt, after all
	// resources have been released.
	OnClose func()
}

// Option configures a [Session].
type Option func(*Session)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithSendQueue sets how many encoded frames may wait for transmission before
// new frames are dropped. Values below 1 are ignored.
func WithSendQueue(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithVoice selects the synthesised voice requested from the provider.
func WithVoice(v types.VoiceProfile) Option {
	return func(s *Session) { s.voice = v }
}

// Session is the live voice session manager. It is safe for concurrent use.
type Session struct {
	provider s2s.Provider
	devices  audio.Devices
	cb       Callbacks

	log       *slog.Logger
	metrics   *observe.Metrics
	queueSize int
	voice     types.VoiceProfile

	mu  sync.Mutex
	att *attempt // nil while idle
	// notified is true once OnClose has fired for the current attempt, or
	// for the idle state of a fresh Session.
	notified bool
}

// New creates an idle Session. provider may be nil; Connect then fails with
// [types.ErrConfiguration].
func New(provider s2s.Provider, devices audio.Devices, cb Callbacks, opts ...Option) *Session {
	s := &Session{
		provider:  provider,
		devices:   devices,
		cb:        cb,
		log:       slog.Default(),
		queueSize: defaultSendQueue,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.devices == nil {
		s.devices = audio.NoDevices{}
	}
	return s
}

// attempt holds the resources of one connection attempt.
type attempt struct {
	ctx    context.Context
	cancel context.CancelFunc

	live atomic.Bool // frames flow only while set

	mu      sync.Mutex
	torn    bool
	mic     audio.Microphone
	speaker audio.Speaker
	remote  s2s.SessionHandle
	sched   *Scheduler

	queue    chan s2s.MediaChunk
	senderWG sync.WaitGroup
}

// Connect opens the microphone, the playback device and the remote channel,
// then starts streaming. It returns once the remote side acknowledged the
// setup. Calling Connect while a connection exists is a no-op.
//
// A missing provider or credential returns an error wrapping
// [types.ErrConfiguration] before anything is acquired. Device failures wrap
// [types.ErrPermission] and handshake failures wrap [types.ErrConnection];
// both tear down whatever was acquired and invoke OnClose.
func (s *Session) Connect(ctx context.Context, systemInstruction string) error {
	s.mu.Lock()
	if s.att != nil {
		s.mu.Unlock()
		return nil
	}
	if s.provider == nil {
		s.mu.Unlock()
		return fmt.Errorf("live: connect: no speech-to-speech provider configured: %w", types.ErrConfiguration)
	}
	if err := s.provider.Validate(); err != nil {
		s.mu.Unlock()
		if !errors.Is(err, types.ErrConfiguration) {
			err = fmt.Errorf("%w: %w", types.ErrConfiguration, err)
		}
		return fmt.Errorf("live: connect: %w", err)
	}
	a := &attempt{queue: make(chan s2s.MediaChunk, s.queueSize)}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	s.att = a
	s.notified = false
	s.mu.Unlock()

	start := time.Now()
	if err := s.open(ctx, a, systemInstruction); err != nil {
		s.log.Warn("live: connect failed", "err", err)
		s.end(a, "connect failed")
		return fmt.Errorf("live: connect: %w", err)
	}
	s.metrics.LiveConnectDuration.Record(ctx, time.Since(start).Seconds())
	s.log.Info("live: session connected", "handshake", time.Since(start))
	return nil
}

// open acquires the resources of a in order and starts the pipelines.
func (s *Session) open(ctx context.Context, a *attempt, instruction string) error {
	mic, err := s.devices.OpenMicrophone(a.ctx, CaptureSampleRate, FrameSize, func(frame []float32) {
		s.onCapture(a, frame)
	})
	if err != nil {
		if !errors.Is(err, types.ErrPermission) {
			err = fmt.Errorf("%w: %w", types.ErrPermission, err)
		}
		return fmt.Errorf("open microphone: %w", err)
	}
	if !a.keep(func() { a.mic = mic }) {
		_ = mic.Close()
		return fmt.Errorf("open microphone: %w", context.Canceled)
	}

	spk, err := s.devices.OpenSpeaker(PlaybackSampleRate)
	if err != nil {
		if !errors.Is(err, types.ErrPermission) {
			err = fmt.Errorf("%w: %w", types.ErrPermission, err)
		}
		return fmt.Errorf("open speaker: %w", err)
	}
	if !a.keep(func() { a.speaker = spk; a.sched = NewScheduler(spk) }) {
		_ = spk.Close()
		return fmt.Errorf("open speaker: %w", context.Canceled)
	}

	// The handshake is bounded by both the caller's context and Disconnect.
	hsCtx, stop := context.WithCancel(ctx)
	defer stop()
	unlink := context.AfterFunc(a.ctx, stop)
	defer unlink()

	remote, err := s.provider.Connect(hsCtx, s2s.SessionConfig{Instructions: instruction, Voice: s.voice})
	if err != nil {
		if !errors.Is(err, types.ErrConnection) {
			err = fmt.Errorf("%w: %w", types.ErrConnection, err)
		}
		return fmt.Errorf("open remote channel: %w", err)
	}
	started := a.keep(func() {
		a.remote = remote
		a.senderWG.Add(1)
		go s.sendLoop(a, remote)
		go s.receiveLoop(a, remote)
		a.live.Store(true)
		s.metrics.ActiveLiveSessions.Add(ctx, 1)
	})
	if !started {
		_ = remote.Close()
		return fmt.Errorf("open remote channel: %w", context.Canceled)
	}
	return nil
}

// keep runs assign under the attempt lock unless the attempt was already
// torn down. It reports whether assign ran.
func (a *attempt) keep(assign func()) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.torn {
		return false
	}
	assign()
	return true
}

// onCapture is the microphone tap. It runs on the device goroutine.
func (s *Session) onCapture(a *attempt, frame []float32) {
	if !a.live.Load() {
		return
	}
	s.emitLevel(audio.RMS(frame))

	chunk := s2s.MediaChunk{
		MIMEType: captureMIME,
		Data:     audio.BytesToBase64(audio.FloatToPCM16(frame)),
	}
	select {
	case a.queue <- chunk:
	default:
		s.metrics.RecordAudioFrame(a.ctx, observe.DirectionOutbound, observe.OutcomeDropped)
		s.log.Debug("live: send queue full, dropping frame")
	}
}

// sendLoop transmits queued frames in capture order.
func (s *Session) sendLoop(a *attempt, remote s2s.Sender) {
	defer a.senderWG.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case chunk := <-a.queue:
			if err := remote.Send(a.ctx, chunk); err != nil {
				if a.ctx.Err() != nil {
					return
				}
				s.metrics.RecordAudioFrame(a.ctx, observe.DirectionOutbound, observe.OutcomeSendError)
				s.log.Warn("live: send audio frame", "err", err)
				continue
			}
			s.metrics.RecordAudioFrame(a.ctx, observe.DirectionOutbound, observe.OutcomeSent)
		}
	}
}

// receiveLoop handles inbound audio and transcripts in arrival order until
// the remote side ends the session.
func (s *Session) receiveLoop(a *attempt, remote s2s.SessionHandle) {
	audioCh := remote.Audio()
	transcripts := remote.Transcripts()
	for audioCh != nil || transcripts != nil {
		select {
		case chunk, ok := <-audioCh:
			if !ok {
				audioCh = nil
				continue
			}
			if a.ctx.Err() == nil {
				s.play(a, chunk)
			}
		case entry, ok := <-transcripts:
			if !ok {
				transcripts = nil
				continue
			}
			if a.ctx.Err() == nil && s.cb.OnTranscript != nil {
				s.cb.OnTranscript(entry)
			}
		}
	}

	if a.ctx.Err() != nil {
		return
	}
	if err := remote.Err(); err != nil {
		s.log.Warn("live: remote session ended with error", "err", err)
		s.end(a, "remote error")
		return
	}
	s.log.Info("live: remote session closed")
	s.end(a, "remote closed")
}

// play decodes one inbound chunk and schedules it. Undecodable chunks are
// dropped without touching the playback cursor.
func (s *Session) play(a *attempt, chunk s2s.MediaChunk) {
	buf, err := decodeChunk(chunk)
	if err != nil {
		s.metrics.RecordAudioFrame(a.ctx, observe.DirectionInbound, observe.OutcomeDecodeError)
		s.log.Warn("live: dropping undecodable audio", "err", err)
		return
	}
	if buf.Frames() == 0 {
		return
	}
	s.emitLevel(audio.RMS(buf.Channels[0]))

	at, err := a.sched.Schedule(buf)
	if err != nil {
		s.log.Warn("live: schedule playback", "at", at, "err", err)
		return
	}
	s.metrics.RecordAudioFrame(a.ctx, observe.DirectionInbound, observe.OutcomeScheduled)
}

func decodeChunk(chunk s2s.MediaChunk) (audio.PlaybackBuffer, error) {
	pcm, err := audio.Base64ToBytes(chunk.Data)
	if err != nil {
		return audio.PlaybackBuffer{}, err
	}
	return audio.PCMToBuffer(pcm, rateFromMIME(chunk.MIMEType, PlaybackSampleRate))
}

// rateFromMIME extracts the rate parameter of e.g. "audio/pcm;rate=24000".
func rateFromMIME(mime string, fallback int) int {
	for param := range strings.SplitSeq(mime, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(k, "rate") {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func (s *Session) emitLevel(rms float64) {
	if s.cb.OnAudioLevel == nil {
		return
	}
	s.cb.OnAudioLevel(min(1, rms*LevelGain))
}

// Disconnect stops streaming and releases every resource. It is idempotent
// and always finishes by invoking OnClose once for the current attempt. On a
// Session that never connected the first call invokes OnClose as well.
func (s *Session) Disconnect() {
	s.mu.Lock()
	a := s.att
	if a == nil {
		if s.notified {
			s.mu.Unlock()
			return
		}
		s.notified = true
		s.mu.Unlock()
		s.fireClose()
		return
	}
	s.mu.Unlock()
	s.end(a, "disconnect requested")
}

// end tears down a if it is still the current attempt.
func (s *Session) end(a *attempt, reason string) {
	s.mu.Lock()
	if s.att != a {
		s.mu.Unlock()
		return
	}
	s.att = nil
	s.notified = true
	s.mu.Unlock()

	if wasLive := s.teardown(a); wasLive {
		s.metrics.ActiveLiveSessions.Add(context.Background(), -1)
	}
	s.log.Info("live: session closed", "reason", reason)
	s.fireClose()
}

// teardown releases the resources of a in a fixed order and reports whether
// a had gone live. A failing step is logged and never prevents the later
// ones.
func (s *Session) teardown(a *attempt) bool {
	a.mu.Lock()
	a.torn = true
	wasLive := a.live.Swap(false)
	mic, spk, remote := a.mic, a.speaker, a.remote
	a.mu.Unlock()

	if mic != nil {
		s.step("stop capture", mic.Stop)
	}
	s.step("stop sender", func() error {
		a.cancel()
		a.senderWG.Wait()
		return nil
	})
	if mic != nil {
		s.step("close microphone", mic.Close)
	}
	if spk != nil {
		s.step("close speaker", spk.Close)
	}
	if remote != nil {
		s.step("close remote channel", remote.Close)
	}
	return wasLive
}

func (s *Session) step(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("live: teardown step panicked", "step", name, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		s.log.Warn("live: teardown step failed", "step", name, "err", err)
	}
}

func (s *Session) fireClose() {
	if s.cb.OnClose != nil {
		s.cb.OnClose()
	}
}

// Connected reports whether audio is currently flowing.
func (s *Session) Connected() bool {
	s.mu.Lock()
	a := s.att
	s.mu.Unlock()
	return a != nil && a.live.Load()
}

// NextStart returns the playback cursor of the current connection, or zero
// while idle.
func (s *Session) NextStart() time.Duration {
	s.mu.Lock()
	a := s.att
	s.mu.Unlock()
	if a == nil {
		return 0
	}
	a.mu.Lock()
	sched := a.sched
	a.mu.Unlock()
	if sched == nil {
		return 0
	}
	return sched.Next()
}
