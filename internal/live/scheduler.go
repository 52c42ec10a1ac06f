package live

import (
	"sync"
	"time"

	"github.com/MrWong99/advisorsim/pkg/audio"
)

// Scheduler places received buffers back to back on a playback clock.
//
// The cursor never moves backwards and never lies in the clock's past at the
// moment a buffer is scheduled: when playback has drained, the next buffer
// starts immediately; otherwise it starts exactly where the previous one ends.
type Scheduler struct {
	clock audio.PlaybackClock

	mu   sync.Mutex
	next time.Duration
}

// NewScheduler returns a Scheduler whose cursor starts at zero.
func NewScheduler(clock audio.PlaybackClock) *Scheduler {
	return &Scheduler{clock: clock}
}

// Schedule queues buf and returns its start time. When the clock rejects the
// buffer the cursor is left where it was.
func (s *Scheduler) Schedule(buf audio.PlaybackBuffer) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now := s.clock.Now(); s.next < now {
		s.next = now
	}
	at := s.next
	if err := s.clock.ScheduleAt(buf, at); err != nil {
		return at, err
	}
	s.next += buf.Duration()
	return at, nil
}

// Next returns the start time the next buffer would get if the clock had not
// advanced.
func (s *Scheduler) Next() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
