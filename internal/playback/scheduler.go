// Package playback schedules inbound model audio onto a speaker.
//
// The [Scheduler] keeps a FIFO of decoded buffers and a cursor on the
// speaker's own clock, counted in samples. A background dispatch goroutine
// hands the head buffer to the speaker whenever nothing is playing, starting
// it at max(cursor, speaker.Now()) and advancing the cursor by the buffer's
// length. Bursty, irregular chunks therefore play back to back without
// overlapping. [Scheduler.Flush] stops the playing buffer, clears the queue
// and resets the cursor in one critical section, so no buffer can start
// while a flush is in progress.
package playback

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/parivox/internal/observe"
	"github.com/MrWong99/parivox/pkg/audio"
)

// DefaultSourceRate is the rate of inbound wire audio.
const DefaultSourceRate = 24000

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithSourceRate sets the rate of buffers passed to [Scheduler.Enqueue].
// Buffers are resampled when it differs from the speaker rate.
func WithSourceRate(hz int) Option {
	return func(s *Scheduler) {
		if hz > 0 {
			s.srcRate = hz
		}
	}
}

// WithMetrics records scheduled and flushed buffers on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler is the playback queue for one session. All exported methods are
// safe for concurrent use.
type Scheduler struct {
	speaker audio.Speaker
	srcRate int
	metrics *observe.Metrics

	mu       sync.Mutex
	queue    [][]float32
	next     int64       // speaker-clock sample the next buffer may start at
	current  audio.Voice // scheduled buffer that has not finished, or nil
	curEnd   int64
	draining []tail // released voices that may still be audible
	closed   bool

	wake    chan struct{} // signalled on Enqueue
	done    chan struct{} // closed by Close
	stopped chan struct{} // closed when dispatch returns
}

// New creates a Scheduler that plays on speaker and starts its dispatch
// goroutine. Call [Scheduler.Close] to stop it.
func New(speaker audio.Speaker, opts ...Option) *Scheduler {
	s := &Scheduler{
		speaker: speaker,
		srcRate: DefaultSourceRate,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.next = s.nowSamples()
	go s.dispatch()
	return s
}

// Enqueue appends one decoded buffer. Empty buffers and buffers enqueued
// after Close are ignored.
func (s *Scheduler) Enqueue(samples []float32) {
	if len(samples) == 0 {
		return
	}
	samples = audio.Resample(samples, s.srcRate, s.speaker.SampleRate())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, samples)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Flush stops the playing buffer, discards every queued buffer and resets the
// cursor to the speaker's current time. It returns the number of buffers
// dropped, counting the one that was playing and any released tail that was
// still audible.
func (s *Scheduler) Flush() int {
	s.mu.Lock()
	n := s.resetLocked()
	s.mu.Unlock()

	if n > 0 && s.metrics != nil {
		s.metrics.RecordPlaybackBuffers(context.Background(), observe.OutcomeFlushed, n)
	}
	return n
}

// tail is a voice whose Done has closed before its last sample was played.
type tail struct {
	v   audio.Voice
	end int64
}

// resetLocked must be called with s.mu held.
func (s *Scheduler) resetLocked() int {
	n := len(s.queue)
	if s.current != nil {
		s.current.Stop()
		s.current = nil
		n++
	}
	n += s.pruneLocked()
	for _, t := range s.draining {
		t.v.Stop()
	}
	clear(s.draining)
	s.draining = s.draining[:0]
	clear(s.queue)
	s.queue = s.queue[:0]
	s.next = s.nowSamples()
	return n
}

// pruneLocked drops tails the speaker clock has passed and returns how many
// are still audible. Must be called with s.mu held.
func (s *Scheduler) pruneLocked() int {
	now := s.nowSamples()
	s.draining = slices.DeleteFunc(s.draining, func(t tail) bool { return t.end <= now })
	return len(s.draining)
}

func (s *Scheduler) nowSamples() int64 {
	return audio.DurationSamples(s.speaker.Now(), s.speaker.SampleRate())
}

// Active reports whether a buffer is playing, still audible after release,
// or waiting in the queue.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil || len(s.queue) > 0 || s.pruneLocked() > 0
}

// Queued returns the number of buffers waiting behind the playing one.
func (s *Scheduler) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Cursor returns the speaker-clock time at which the next buffer may start.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return audio.SamplesDuration(int(s.next), s.speaker.SampleRate())
}

// Close stops playback and the dispatch goroutine. It does not close the
// speaker. Close is idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.stopped
		return nil
	}
	s.closed = true
	s.resetLocked()
	s.mu.Unlock()

	close(s.done)
	<-s.stopped
	return nil
}

// dispatch schedules the head buffer whenever nothing is playing and waits
// for either the playing buffer to finish or new audio to arrive.
func (s *Scheduler) dispatch() {
	defer close(s.stopped)

	for {
		s.mu.Lock()
		if s.current == nil && !s.closed {
			s.scheduleLocked()
		}
		v := s.current
		s.mu.Unlock()

		var finished <-chan struct{}
		if v != nil {
			finished = v.Done()
		}

		select {
		case <-s.done:
			return
		case <-s.wake:
		case <-finished:
			s.mu.Lock()
			if s.current == v {
				s.draining = append(s.draining, tail{v: v, end: s.curEnd})
				s.current = nil
			}
			s.mu.Unlock()
		}
	}
}

// scheduleLocked pops queued buffers until one is accepted by the speaker.
// Must be called with s.mu held.
func (s *Scheduler) scheduleLocked() {
	s.pruneLocked()
	now := s.nowSamples()
	rate := s.speaker.SampleRate()
	for len(s.queue) > 0 {
		buf := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]

		start := max(s.next, now)
		v, err := s.speaker.Play(buf, audio.SamplesDuration(int(start), rate))
		if err != nil {
			slog.Warn("playback: speaker rejected buffer", "err", err, "samples", len(buf))
			continue
		}
		s.next = start + int64(len(buf))
		s.current = v
		s.curEnd = s.next
		if s.metrics != nil {
			s.metrics.RecordPlaybackBuffers(context.Background(), observe.OutcomeScheduled, 1)
		}
		return
	}
}
