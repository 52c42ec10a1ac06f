// Package speech reads persona lines aloud in text mode.
//
// Speech is a convenience on top of the text chat: every failure is logged
// and swallowed so that a missing key or a busy device never interrupts the
// conversation.
package speech

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/advisorsim/internal/observe"
	"github.com/MrWong99/advisorsim/pkg/audio"
	"github.com/MrWong99/advisorsim/pkg/provider/tts"
	"github.com/MrWong99/advisorsim/pkg/types"
)

// Voice names of the speech backend.
const (
	VoiceFemale = "nova"
	VoiceMale   = "onyx"
)

// VoiceFor maps a persona voice tag to a speech voice: "nova" keeps its
// voice and every other tag gets [VoiceMale].
func VoiceFor(tag string) types.VoiceProfile {
	id := VoiceMale
	if tag == VoiceFemale {
		id = VoiceFemale
	}
	return types.VoiceProfile{ID: id, Name: tag, Provider: "openai"}
}

// rateSynthesizer is implemented by providers that can tell which rate a
// specific clip was produced at, such as a fallback chain.
type rateSynthesizer interface {
	SynthesizeRate(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, int, error)
}

// Speaker synthesizes text and plays it on a fresh output device per line.
type Speaker struct {
	tts     tts.Provider
	devices audio.Devices
	log     *slog.Logger
	metrics *observe.Metrics
}

// Option is a functional option for [Speaker].
type Option func(*Speaker)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Speaker) { s.log = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Speaker) { s.metrics = m }
}

// New returns a Speaker. A nil provider makes Say a no-op; nil devices
// default to [audio.NoDevices].
func New(provider tts.Provider, devices audio.Devices, opts ...Option) *Speaker {
	s := &Speaker{tts: provider, devices: devices, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.devices == nil {
		s.devices = audio.NoDevices{}
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Enabled reports whether a speech backend is configured.
func (s *Speaker) Enabled() bool { return s != nil && s.tts != nil }

// Say synthesizes text with the voice for voiceTag and blocks until the clip
// has been handed to the device and played out, or ctx is done.
func (s *Speaker) Say(ctx context.Context, text, voiceTag string) {
	if !s.Enabled() || text == "" {
		return
	}
	ctx, span := observe.StartSpan(ctx, "speech.say")
	defer span.End()

	voice := VoiceFor(voiceTag)
	start := time.Now()
	pcm, rate, err := s.synthesize(ctx, text, voice)
	s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		observe.RecordError(span, err)
		s.metrics.RecordProviderError(ctx, "tts", "synthesize")
		s.log.Warn("speech synthesis failed", "voice", voice.ID, "err", err)
		return
	}
	s.metrics.RecordProviderRequest(ctx, "tts", "synthesize", "ok")

	buf, err := audio.PCMToBuffer(pcm, rate)
	if err != nil {
		s.log.Warn("speech audio undecodable", "err", err)
		return
	}
	spk, err := s.devices.OpenSpeaker(rate)
	if err != nil {
		s.log.Warn("speech playback unavailable", "err", err)
		return
	}
	defer func() {
		if err := spk.Close(); err != nil {
			s.log.Debug("closing speech output", "err", err)
		}
	}()

	at := spk.Now()
	if err := spk.ScheduleAt(buf, at); err != nil {
		s.log.Warn("speech playback failed", "err", err)
		return
	}
	// Closing the device stops playback, so wait for the clip to finish.
	t := time.NewTimer(buf.Duration())
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (s *Speaker) synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, int, error) {
	if rs, ok := s.tts.(rateSynthesizer); ok {
		return rs.SynthesizeRate(ctx, text, voice)
	}
	pcm, err := s.tts.Synthesize(ctx, text, voice)
	return pcm, s.tts.SampleRate(), err
}
