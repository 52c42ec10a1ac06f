package audio

import (
	"fmt"
	"sync"
	"time"
)

// Timeline is a software [PlaybackClock] for pull-based output devices. The
// device calls [Timeline.Render] for every output block; the clock advances
// by the number of samples rendered. Overlapping buffers are summed and the
// result clamped to [-1, 1].
type Timeline struct {
	rate int

	mu      sync.Mutex
	pos     int64 // samples rendered so far
	pending []scheduled
}

type scheduled struct {
	start   int64
	samples []float32
}

// NewTimeline returns a timeline clocked at sampleRate.
func NewTimeline(sampleRate int) *Timeline {
	return &Timeline{rate: sampleRate}
}

// SampleRate returns the timeline's clock rate in Hz.
func (t *Timeline) SampleRate() int { return t.rate }

// Now implements [PlaybackClock].
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offsetToDuration(t.pos)
}

// ScheduleAt implements [PlaybackClock]. Only the first channel of buf is
// played. Buffers at a different sample rate are resampled. Portions
// scheduled in the past are skipped.
func (t *Timeline) ScheduleAt(buf PlaybackBuffer, at time.Duration) error {
	if buf.Frames() == 0 {
		return nil
	}
	if buf.SampleRate <= 0 {
		return fmt.Errorf("audio: timeline: invalid sample rate %d", buf.SampleRate)
	}
	samples := buf.Channels[0]
	if buf.SampleRate != t.rate {
		samples = PCM16ToFloat(ResampleMono16(FloatToPCM16(samples), buf.SampleRate, t.rate))
	}

	start := t.durationToOffset(at)

	t.mu.Lock()
	defer t.mu.Unlock()
	if skip := t.pos - start; skip > 0 {
		if skip >= int64(len(samples)) {
			return nil
		}
		samples = samples[skip:]
		start = t.pos
	}
	t.pending = append(t.pending, scheduled{start: start, samples: samples})
	return nil
}

// Render fills out with the mix of everything scheduled for the next
// len(out) samples and advances the clock.
func (t *Timeline) Render(out []float32) {
	clear(out)

	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.pos
	to := from + int64(len(out))
	keep := t.pending[:0]
	for _, s := range t.pending {
		end := s.start + int64(len(s.samples))
		lo := max(s.start, from)
		hi := min(end, to)
		for i := lo; i < hi; i++ {
			out[i-from] += s.samples[i-s.start]
		}
		if end > to {
			keep = append(keep, s)
		}
	}
	t.pending = keep
	t.pos = to

	for i, v := range out {
		if v > 1 {
			out[i] = 1
		} else if v < -1 {
			out[i] = -1
		}
	}
}

// Pending reports how many scheduled buffers have not finished playing.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// durationToOffset rounds to the nearest sample so that back-to-back
// buffers whose durations were truncated to whole nanoseconds stay contiguous.
func (t *Timeline) durationToOffset(d time.Duration) int64 {
	return (int64(d)*int64(t.rate) + int64(time.Second)/2) / int64(time.Second)
}

func (t *Timeline) offsetToDuration(samples int64) time.Duration {
	return time.Duration(samples * int64(time.Second) / int64(t.rate))
}
