// Package capture turns microphone frames into outbound realtime audio.
//
// For every frame the [Pipeline] runs voice-activity detection, lets the
// barge-in arbiter react to it, and, if the transport is open, resamples the
// frame to the wire rate, converts it to 16-bit PCM, base64-encodes it and
// hands it to the uplink. Frames captured while the transport is not open are
// dropped, never queued. The pipeline never waits on the network: the uplink
// is expected to be an [Outbox] or something equally non-blocking.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/parivox/internal/observe"
	"github.com/MrWong99/parivox/pkg/audio"
	"github.com/MrWong99/parivox/pkg/live"
	"github.com/MrWong99/parivox/pkg/vad"
)

// DefaultWireRate is the sample rate of outbound wire audio.
const DefaultWireRate = 16000

// Observer receives the VAD result of every frame. [bargein.Arbiter]
// implements it.
type Observer interface {
	Observe(ev vad.Event, at time.Time) bool
}

// Uplink carries encoded chunks towards the transport.
type Uplink interface {
	// Open reports whether the transport can carry audio right now.
	Open() bool

	// SendAudio queues one base64 PCM chunk without blocking. It reports
	// false if an older chunk had to be discarded to make room.
	SendAudio(chunk string) bool
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithWireRate overrides [DefaultWireRate].
func WithWireRate(hz int) Option {
	return func(p *Pipeline) {
		if hz > 0 {
			p.wireRate = hz
		}
	}
}

// WithMetrics records per-frame outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock replaces time.Now as the source of frame timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline is the capture side of one session. It is not safe for concurrent
// use; run it on a single goroutine.
type Pipeline struct {
	mic      audio.Microphone
	vad      vad.SessionHandle
	observer Observer
	uplink   Uplink
	wireRate int
	metrics  *observe.Metrics
	now      func() time.Time
}

// New creates a Pipeline reading from mic.
func New(mic audio.Microphone, vadSession vad.SessionHandle, observer Observer, uplink Uplink, opts ...Option) *Pipeline {
	p := &Pipeline{
		mic:      mic,
		vad:      vadSession,
		observer: observer,
		uplink:   uplink,
		wireRate: DefaultWireRate,
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run processes frames until ctx is cancelled, returning nil, or until the
// microphone stops on its own, returning an error wrapping [audio.ErrDevice].
func (p *Pipeline) Run(ctx context.Context) error {
	frames := p.mic.Frames()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("capture: %w: microphone stream ended", audio.ErrDevice)
			}
			p.process(ctx, f)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, f audio.AudioFrame) {
	ev, err := p.vad.ProcessFrame(f.Samples)
	if err != nil {
		slog.Debug("capture: vad failed", "err", err)
	} else {
		p.observer.Observe(ev, p.now())
	}

	if !p.uplink.Open() {
		p.record(ctx, observe.OutcomeDroppedClosed)
		return
	}

	rate := f.SampleRate
	if rate <= 0 {
		rate = p.mic.SampleRate()
	}
	pcm := audio.FloatToInt16(audio.Resample(f.Samples, rate, p.wireRate))
	if !p.uplink.SendAudio(live.EncodeAudio(pcm)) {
		p.record(ctx, observe.OutcomeDroppedOverflow)
	}
	p.record(ctx, observe.OutcomeSent)
}

func (p *Pipeline) record(ctx context.Context, outcome string) {
	if p.metrics != nil {
		p.metrics.RecordCaptureFrame(ctx, outcome)
	}
}
