package playback

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/superslash/slashvoice/pkg/audio"
)

var (
	// ErrClosed is returned by [Scheduler.Enqueue] after [Scheduler.Shutdown].
	ErrClosed = errors.New("playback: scheduler closed")

	// ErrFormatMismatch is returned when a frame's format differs from the
	// scheduler's output format. Frames are never resampled.
	ErrFormatMismatch = errors.New("playback: frame format does not match output")
)

// Source describes one scheduled chunk on the playback timeline.
type Source struct {
	// ID is unique per Scheduler and increases with every Enqueue.
	ID uint64

	// Start is the timeline position at which the chunk begins playing.
	Start time.Duration

	// Duration is the chunk's playback length.
	Duration time.Duration
}

// End returns the timeline position at which the chunk finishes.
func (s Source) End() time.Duration { return s.Start + s.Duration }

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithIdleHandler sets the callback fired whenever the live set becomes
// empty, either naturally or through [Scheduler.Interrupt].
func WithIdleHandler(fn func()) Option {
	return func(s *Scheduler) {
		s.onIdle = fn
	}
}

// Scheduler owns an [audio.OutputDevice] and the set of chunks currently
// scheduled on it.
//
// The timeline clock is the number of samples the device has pulled through
// [Scheduler.Render]; it never runs ahead of the device and cannot drift from
// it. Each enqueued chunk starts at max(cursor, clock), and the cursor then
// advances by the chunk's duration.
//
// All exported methods are safe for concurrent use.
type Scheduler struct {
	out    audio.OutputDevice
	format audio.Format

	startMu sync.Mutex // serialises lazy device start

	mu      sync.Mutex
	next    int64 // cursor, samples per channel
	clock   int64 // samples per channel rendered so far
	seq     uint64
	live    map[uint64]*source
	ends    endHeap
	started bool
	closed  bool
	onIdle  func()
}

// New creates a Scheduler that plays through out. The device is not started
// until the first [Scheduler.Enqueue].
func New(out audio.OutputDevice, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:    out,
		format: out.Format(),
		live:   make(map[uint64]*source),
	}
	for _, o := range opts {
		o(s)
	}
	heap.Init(&s.ends)
	return s
}

// OnIdle registers fn as the idle callback. Only one callback may be active;
// subsequent calls replace the previous registration. fn is invoked without
// internal locks held, possibly on the device's render goroutine, and must
// not block.
func (s *Scheduler) OnIdle(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onIdle = fn
}

// Format returns the output format every enqueued frame must match.
func (s *Scheduler) Format() audio.Format { return s.format }

// Enqueue schedules frame directly after the previously enqueued chunk, or
// at the current clock if the timeline has already caught up.
//
// If the output device cannot be started, Enqueue returns an
// *[audio.PlaybackDeviceError] and the frame is not scheduled. The scheduler
// stays usable and the next Enqueue retries the device.
func (s *Scheduler) Enqueue(frame audio.Frame) (Source, error) {
	if frame.Format() != s.format {
		return Source{}, fmt.Errorf("%w: got %s, want %s", ErrFormatMismatch, frame.Format(), s.format)
	}
	if err := s.ensureStarted(); err != nil {
		return Source{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Source{}, ErrClosed
	}

	n := int64(frame.Len())
	startAt := max(s.next, s.clock)
	s.seq++
	src := &source{
		id:      s.seq,
		start:   startAt,
		end:     startAt + n,
		samples: frame.Samples[:n*int64(s.format.Channels)],
	}
	s.next = src.end

	if n > 0 {
		s.live[src.id] = src
		heap.Push(&s.ends, src)
	}

	return Source{
		ID:       src.id,
		Start:    s.toDuration(src.start),
		Duration: s.toDuration(n),
	}, nil
}

// Interrupt silences every live chunk immediately, empties the live set,
// resets the cursor to zero and fires the idle callback. It is safe to call
// with nothing playing.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	s.clearLocked()
	fn := s.onIdle
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Shutdown interrupts playback and releases the output device. It is
// idempotent; later calls return nil.
func (s *Scheduler) Shutdown() error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.clearLocked()
	fn := s.onIdle
	s.mu.Unlock()

	if fn != nil {
		fn()
	}

	if err := s.out.Close(); err != nil {
		return &audio.PlaybackDeviceError{Op: "close", Err: err}
	}
	return nil
}

// Playing reports whether any chunk is scheduled or audible.
func (s *Scheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live) > 0
}

// Live returns the number of chunks in the live set.
func (s *Scheduler) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Cursor returns the timeline position at which the next chunk would start
// if the clock has not yet caught up with it.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toDuration(s.next)
}

// Clock returns the amount of audio the device has rendered.
func (s *Scheduler) Clock() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toDuration(s.clock)
}

// Render fills out with the mix of every live chunk overlapping the next
// len(out) samples, advances the clock and retires chunks that have ended.
// It is the device pull callback and is normally only called by the
// [audio.OutputDevice].
func (s *Scheduler) Render(out []float32) {
	ch := s.format.Channels
	clear(out)

	s.mu.Lock()
	winStart := s.clock
	winEnd := winStart + int64(len(out)/ch)

	for _, src := range s.live {
		from := max(src.start, winStart)
		to := min(src.end, winEnd)
		for p := from; p < to; p++ {
			si := int((p - src.start) * int64(ch))
			oi := int((p - winStart) * int64(ch))
			for c := range ch {
				out[oi+c] += src.samples[si+c]
			}
		}
	}
	s.clock = winEnd

	retired := false
	for s.ends.Len() > 0 && s.ends[0].end <= s.clock {
		src := heap.Pop(&s.ends).(*source)
		delete(s.live, src.id)
		retired = true
	}
	idle := retired && len(s.live) == 0
	fn := s.onIdle
	s.mu.Unlock()

	for i, v := range out {
		if v > 1 {
			out[i] = 1
		} else if v < -1 {
			out[i] = -1
		}
	}

	if idle && fn != nil {
		fn()
	}
}

// ensureStarted starts the output device on first use. A failed start is
// reported and retried on the next call.
func (s *Scheduler) ensureStarted() error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	started, closed := s.started, s.closed
	s.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if started {
		return nil
	}
	if err := s.out.Start(s.Render); err != nil {
		return &audio.PlaybackDeviceError{Op: "start", Err: err}
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

// clearLocked drops every live chunk and resets the cursor. Must be called
// with s.mu held.
func (s *Scheduler) clearLocked() {
	clear(s.live)
	clear(s.ends)
	s.ends = s.ends[:0]
	s.next = 0
}

func (s *Scheduler) toDuration(samples int64) time.Duration {
	return audio.SamplesToDuration(samples, s.format.SampleRate)
}
