// Package mock provides in-memory implementations of the [audio.Microphone],
// [audio.Speaker], and [audio.Devices] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. The [Speaker] runs on a manual clock:
// nothing finishes playing until the test calls [Speaker.Advance], which makes
// scheduling assertions deterministic.
//
// Typical usage:
//
//	mic := mock.NewMicrophone(48000, 8)
//	spk := mock.NewSpeaker(24000)
//	devs := &mock.Devices{Mic: mic, Speaker: spk}
//	mic.Push(samples)
//	spk.Advance(100 * time.Millisecond)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parivox/pkg/audio"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock [audio.Microphone] fed by the test via [Microphone.Push].
type Microphone struct {
	mu     sync.Mutex
	rate   int
	frames chan audio.AudioFrame
	closed bool
	pos    time.Duration

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewMicrophone returns a microphone at rate Hz with a frame buffer of depth.
func NewMicrophone(rate, depth int) *Microphone {
	return &Microphone{rate: rate, frames: make(chan audio.AudioFrame, depth)}
}

// Push delivers one captured frame. It reports false if the microphone is
// closed or the buffer is full.
func (m *Microphone) Push(samples []float32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	f := audio.AudioFrame{Samples: samples, SampleRate: m.rate, Timestamp: m.pos}
	select {
	case m.frames <- f:
		m.pos += f.Duration()
		return true
	default:
		return false
	}
}

// Frames implements [audio.Microphone].
func (m *Microphone) Frames() <-chan audio.AudioFrame { return m.frames }

// SampleRate implements [audio.Microphone].
func (m *Microphone) SampleRate() int { return m.rate }

// Close implements [audio.Microphone]. It closes the frame channel once.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountClose++
	if !m.closed {
		m.closed = true
		close(m.frames)
	}
	return nil
}

// Closed reports whether Close has been called.
func (m *Microphone) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// PlayCall records a single [Speaker.Play] invocation.
type PlayCall struct {
	Samples  []float32
	At       time.Duration
	Duration time.Duration
	Voice    *Voice
}

// Speaker is a mock [audio.Speaker] with a manually advanced clock.
type Speaker struct {
	mu     sync.Mutex
	rate   int
	now    time.Duration
	calls  []PlayCall
	closed bool

	// PlayErr, when non-nil, is returned by Play.
	PlayErr error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewSpeaker returns a speaker running at rate Hz with its clock at zero.
func NewSpeaker(rate int) *Speaker {
	return &Speaker{rate: rate}
}

// SampleRate implements [audio.Speaker].
func (s *Speaker) SampleRate() int { return s.rate }

// Now implements [audio.Speaker].
func (s *Speaker) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Play implements [audio.Speaker]. The returned voice finishes when the clock
// is advanced past max(at, now) plus the buffer duration.
func (s *Speaker) Play(samples []float32, at time.Duration) (audio.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PlayErr != nil {
		return nil, s.PlayErr
	}
	start := max(at, s.now)
	d := audio.SamplesDuration(len(samples), s.rate)
	v := &Voice{done: make(chan struct{}), end: start + d}
	s.calls = append(s.calls, PlayCall{Samples: samples, At: at, Duration: d, Voice: v})
	if d == 0 {
		v.finish()
	}
	return v, nil
}

// Advance moves the clock forward by d and finishes every voice whose end
// time has been reached.
func (s *Speaker) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	now := s.now
	calls := append([]PlayCall(nil), s.calls...)
	s.mu.Unlock()

	for _, c := range calls {
		if c.Voice.end <= now {
			c.Voice.finish()
		}
	}
}

// Calls returns a copy of every Play invocation so far.
func (s *Speaker) Calls() []PlayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PlayCall(nil), s.calls...)
}

// Close implements [audio.Speaker].
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *Speaker) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Voice is the mock [audio.Voice] returned by [Speaker.Play].
type Voice struct {
	done    chan struct{}
	once    sync.Once
	end     time.Duration
	mu      sync.Mutex
	stopped bool
}

// Done implements [audio.Voice].
func (v *Voice) Done() <-chan struct{} { return v.done }

// Stop implements [audio.Voice].
func (v *Voice) Stop() {
	v.mu.Lock()
	v.stopped = true
	v.mu.Unlock()
	v.finish()
}

// Stopped reports whether Stop was called.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

func (v *Voice) finish() { v.once.Do(func() { close(v.done) }) }

// ─── Devices ──────────────────────────────────────────────────────────────────

// Devices is a mock [audio.Devices]. Each Open call returns the configured
// device or error. Set MicFactory to hand out a fresh microphone per session.
type Devices struct {
	mu sync.Mutex

	Mic     *Microphone
	Speaker *Speaker

	// MicFactory, when set, takes precedence over Mic.
	MicFactory func() *Microphone

	// SpeakerFactory, when set, takes precedence over Speaker.
	SpeakerFactory func() *Speaker

	MicErr     error
	SpeakerErr error

	// CallCountOpenMicrophone records how many times OpenMicrophone was called.
	CallCountOpenMicrophone int

	// CallCountOpenSpeaker records how many times OpenSpeaker was called.
	CallCountOpenSpeaker int

	// Mics holds every microphone handed out, in order.
	Mics []*Microphone
}

// OpenMicrophone implements [audio.Devices].
func (d *Devices) OpenMicrophone(_ context.Context) (audio.Microphone, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenMicrophone++
	if d.MicErr != nil {
		return nil, d.MicErr
	}
	m := d.Mic
	if d.MicFactory != nil {
		m = d.MicFactory()
	}
	d.Mics = append(d.Mics, m)
	return m, nil
}

// OpenSpeaker implements [audio.Devices].
func (d *Devices) OpenSpeaker(_ context.Context) (audio.Speaker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpenSpeaker++
	if d.SpeakerErr != nil {
		return nil, d.SpeakerErr
	}
	if d.SpeakerFactory != nil {
		return d.SpeakerFactory(), nil
	}
	return d.Speaker, nil
}

// OpenMicCount returns CallCountOpenMicrophone under the lock.
func (d *Devices) OpenMicCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountOpenMicrophone
}

// LastMic returns the most recently opened microphone, or nil.
func (d *Devices) LastMic() *Microphone {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Mics) == 0 {
		return nil
	}
	return d.Mics[len(d.Mics)-1]
}
