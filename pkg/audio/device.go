// Package audio defines the audio types, PCM conversions, and host device
// interfaces used by Parivox.
//
// The device abstractions are deliberately small:
//
//   - [Microphone] delivers fixed-size [AudioFrame] blocks at the device's
//     native rate on a channel.
//   - [Speaker] exposes its own clock and plays float buffers at a requested
//     start time on that clock, returning a [Voice] handle.
//   - [Devices] acquires both; the session controller owns the returned
//     handles for exactly one session.
//
// Implementations live in sub-packages (audio/ffmpeg for host devices,
// audio/mock for tests). This package lives under pkg/ so other device
// back-ends can be plugged in without touching the core.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrDevice is wrapped by every device acquisition failure (permission
// denied, missing binary, device busy).
var ErrDevice = errors.New("audio: device unavailable")

// Microphone is an open capture device.
type Microphone interface {
	// Frames returns the capture channel. It is closed when the device stops,
	// either because Close was called or because the device failed.
	Frames() <-chan AudioFrame

	// SampleRate returns the native capture rate in Hz.
	SampleRate() int

	// Close stops capture and releases the device. Safe to call more than once.
	Close() error
}

// Speaker is an open output device with its own monotonic clock.
type Speaker interface {
	// SampleRate returns the rate, in Hz, that Play expects.
	SampleRate() int

	// Now returns the current position of the device clock. The clock starts
	// at zero when the device is opened and advances as samples are consumed.
	Now() time.Duration

	// Play schedules samples to start at the given device-clock time. A start
	// time in the past begins immediately. Play must not block on I/O.
	Play(samples []float32, at time.Duration) (Voice, error)

	// Close stops output and releases the device. Safe to call more than once.
	Close() error
}

// Voice is a single scheduled buffer on a [Speaker].
type Voice interface {
	// Done is closed once a following buffer can be scheduled behind this
	// one: the buffer finished, was stopped, or a clocked device has
	// committed its remaining samples to its next write. In the last case
	// the tail is still audible after Done closes.
	Done() <-chan struct{}

	// Stop cancels the buffer immediately, including a tail still pending
	// after Done. Safe to call more than once.
	Stop()
}

// Devices acquires the host audio devices for one session.
type Devices interface {
	OpenMicrophone(ctx context.Context) (Microphone, error)
	OpenSpeaker(ctx context.Context) (Speaker, error)
}
