// Package playback schedules inbound synthesized audio for gap-free,
// strictly ordered playback, and supports hard interruption.
//
// The [Scheduler] is the owner of all playback state. Its clock is the
// output device's clock, not wall time: time only advances when the device
// pulls samples through [Scheduler.Render], so scheduling is sample-accurate
// and immune to wall-clock jitter. Buffers are placed back-to-back — each
// one starts exactly where the previous one ends — and a buffer that
// arrives after its slot has already passed is played immediately rather
// than in the past.
//
// This package is internal because it encapsulates application-private
// pipeline logic and is not intended for import by external code.
package playback

import "sync"

// DefaultRate is the playback sample rate used when a non-positive rate is
// given to [NewScheduler].
const DefaultRate = 24000

// source is one scheduled buffer: a handle in the active set from the
// moment it is scheduled until it finishes rendering or is interrupted.
type source struct {
	start   int64 // absolute frame index of the first sample
	samples []float32
}

// Scheduler owns the playback timeline. All exported methods are safe for
// concurrent use; state is mutated only by [Scheduler.Render] (the device
// callback), [Scheduler.Schedule], and the interrupt/reset path.
type Scheduler struct {
	rate int

	mu        sync.Mutex
	sources   map[uint64]*source
	nextID    uint64
	rendered  int64 // frames pulled by the device so far: the playback clock
	nextStart int64 // frame index where the next scheduled buffer begins
}

// NewScheduler returns a Scheduler for the given playback sample rate.
func NewScheduler(rate int) *Scheduler {
	if rate <= 0 {
		rate = DefaultRate
	}
	return &Scheduler{
		rate:    rate,
		sources: make(map[uint64]*source),
	}
}

// Rate returns the playback sample rate in Hz.
func (s *Scheduler) Rate() int { return s.rate }

// Now returns the current playback-clock time in seconds: the number of
// frames the output device has rendered divided by the sample rate.
func (s *Scheduler) Now() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.rendered) / float64(s.rate)
}

// NextStart returns the time (seconds, playback clock) at which the next
// scheduled buffer will begin.
func (s *Scheduler) NextStart() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.nextStart) / float64(s.rate)
}

// Active returns the number of sources currently queued or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sources)
}

// Schedule queues samples for playback directly after the last scheduled
// buffer and returns the start time in seconds (playback clock). If the
// scheduled position has already passed — the stream stalled — the buffer
// catches up and starts at the clock's current time instead; it never
// starts in the past and never double-plays.
//
// A zero-length buffer still occupies a slot in the active set (it is
// removed on the next Render pass) but advances the timeline by nothing.
func (s *Scheduler) Schedule(samples []float32) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nextStart < s.rendered {
		s.nextStart = s.rendered
	}
	start := s.nextStart

	s.nextID++
	s.sources[s.nextID] = &source{start: start, samples: samples}
	s.nextStart += int64(len(samples))

	return float64(start) / float64(s.rate)
}

// Interrupt stops every queued and playing source immediately, empties the
// active set, and resets the next start time to zero so the next buffer
// schedules relative to the then-current clock. This is a hard cancellation:
// no fade, no drain. Interrupting an empty set is a no-op.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptLocked()
}

// Reset is the teardown form of Interrupt: same effect, called by the
// session controller when the session stops.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptLocked()
}

func (s *Scheduler) interruptLocked() {
	clear(s.sources)
	s.nextStart = 0
}

// Render mixes the due portion of every active source into out and advances
// the playback clock by len(out) frames. It is called by the output device
// callback with the exact number of frames the hardware wants; tests call
// it directly to step virtual time. Sources that finish within the rendered
// block are removed from the active set.
//
// Output samples are clamped to [-1, 1] in case scheduled buffers ever
// overlap transiently.
func (s *Scheduler) Render(out []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range out {
		out[i] = 0
	}

	blockStart := s.rendered
	blockEnd := blockStart + int64(len(out))

	for id, src := range s.sources {
		srcEnd := src.start + int64(len(src.samples))
		if srcEnd <= blockStart {
			// Finished before this block (also covers zero-length buffers).
			delete(s.sources, id)
			continue
		}
		if src.start >= blockEnd {
			continue // not due yet
		}

		from := max(src.start, blockStart)
		to := min(srcEnd, blockEnd)
		dst := from - blockStart
		for i, v := range src.samples[from-src.start : to-src.start] {
			sum := out[dst+int64(i)] + v
			if sum > 1 {
				sum = 1
			} else if sum < -1 {
				sum = -1
			}
			out[dst+int64(i)] = sum
		}

		if srcEnd <= blockEnd {
			delete(s.sources, id)
		}
	}

	s.rendered = blockEnd
}
