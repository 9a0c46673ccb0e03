// Package bargein arbitrates between the user's voice and synthesized
// playback.
//
// The [Arbiter] has two phases. On every voiced capture frame it flushes
// playback if anything is playing, so the assistant never keeps talking once
// the user starts. Afterwards it holds a tail window: inbound audio is refused
// by [Arbiter.Admit] while the user is speaking and for a while after the last
// voiced frame, so audio already in flight does not resume over a short pause.
//
// The speaking flag and the last-speech timestamp live in one immutable
// [Snapshot] swapped atomically, so a reader never sees one without the other.
package bargein

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/parivox/internal/observe"
	"github.com/MrWong99/parivox/pkg/vad"
)

// DefaultTailWindow is how long inbound audio is refused after the last
// voiced frame.
const DefaultTailWindow = 1500 * time.Millisecond

// Flush reasons recorded on the barge-in counter.
const (
	ReasonSpeechStart    = "speech_start"
	ReasonSpeechContinue = "speech_continue"
)

// Snapshot is the speech activity state at one instant.
type Snapshot struct {
	// Speaking is the hysteresis-smoothed speaking flag.
	Speaking bool

	// LastSpeech is the capture time of the most recent voiced frame. Zero
	// means no speech has been heard yet.
	LastSpeech time.Time
}

// Activity holds the current [Snapshot]. The zero value is ready to use and
// reports silence with no speech heard.
type Activity struct {
	p atomic.Pointer[Snapshot]
}

// Snapshot returns the current state.
func (a *Activity) Snapshot() Snapshot {
	if s := a.p.Load(); s != nil {
		return *s
	}
	return Snapshot{}
}

func (a *Activity) store(s Snapshot) { a.p.Store(&s) }

// Player is the playback side the arbiter interrupts.
type Player interface {
	// Active reports whether a buffer is playing or queued.
	Active() bool

	// Flush stops playback and discards every queued buffer, returning the
	// number of buffers dropped.
	Flush() int
}

// Option configures an [Arbiter].
type Option func(*Arbiter)

// WithTailWindow overrides [DefaultTailWindow]. Negative values are ignored.
func WithTailWindow(d time.Duration) Option {
	return func(a *Arbiter) {
		if d >= 0 {
			a.window = d
		}
	}
}

// WithMetrics records flushes and suppressed chunks on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Arbiter) { a.metrics = m }
}

// Arbiter applies the barge-in policy for one session. Observe is called from
// the capture goroutine and Admit from the receive goroutine; both are safe to
// call concurrently.
type Arbiter struct {
	player   Player
	window   time.Duration
	metrics  *observe.Metrics
	activity Activity
}

// NewArbiter returns an Arbiter that interrupts player.
func NewArbiter(player Player, opts ...Option) *Arbiter {
	a := &Arbiter{player: player, window: DefaultTailWindow}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Activity exposes the shared speech activity state.
func (a *Arbiter) Activity() *Activity { return &a.activity }

// TailWindow returns the configured suppression window.
func (a *Arbiter) TailWindow() time.Duration { return a.window }

// Observe folds one VAD result captured at time at into the activity state.
// It reports whether playback was flushed.
func (a *Arbiter) Observe(ev vad.Event, at time.Time) bool {
	prev := a.activity.Snapshot()
	next := Snapshot{Speaking: ev.Speaking(), LastSpeech: prev.LastSpeech}
	if ev.Voiced {
		next.LastSpeech = at
	}
	a.activity.store(next)

	if !ev.Voiced || !a.player.Active() {
		return false
	}
	dropped := a.player.Flush()

	reason := ReasonSpeechContinue
	if !prev.Speaking {
		reason = ReasonSpeechStart
	}
	if a.metrics != nil {
		a.metrics.RecordBargeIn(context.Background(), reason)
	}
	slog.Debug("bargein: user speech, playback flushed", "reason", reason, "dropped", dropped, "level", ev.Level)
	return true
}

// Admit reports whether an inbound audio chunk arriving at time at may be
// queued for playback.
func (a *Arbiter) Admit(at time.Time) bool {
	s := a.activity.Snapshot()
	ok := !s.Speaking && (s.LastSpeech.IsZero() || at.Sub(s.LastSpeech) >= a.window)
	if !ok && a.metrics != nil {
		a.metrics.RecordPlaybackBuffers(context.Background(), observe.OutcomeSuppressed, 1)
	}
	return ok
}
