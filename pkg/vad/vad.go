// Package vad defines the Engine interface for voice activity detection.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session keeps its own hysteresis state so
// that independent capture streams never influence each other.
//
// VAD is synchronous: ProcessFrame returns immediately with a detection
// result, making it suitable for the capture loop, which must never block.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

// Config holds the thresholds for a VAD session. Both thresholds are in the
// engine's activity scale (RMS amplitude for the energy engine).
type Config struct {
	// SpeechThreshold is the level at or above which a frame counts as speech.
	SpeechThreshold float64

	// SilenceThreshold is the level at or below which an active speech segment
	// ends. Must be ≤ SpeechThreshold; levels in between keep the prior state.
	SilenceThreshold float64
}

// SessionHandle represents an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame analyses one frame of mono float samples and returns the
	// detection result. It must not block.
	ProcessFrame(samples []float32) (Event, error)

	// Reset clears the speaking state without closing the session.
	Reset()

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a session with the given configuration. Returns an
	// error if the thresholds are out of range or inverted.
	NewSession(cfg Config) (SessionHandle, error)
}

// Event represents a voice activity detection result for a single frame.
type Event struct {
	// Type is the detection result after hysteresis.
	Type EventType

	// Level is the raw activity level of the frame.
	Level float64

	// Voiced reports whether this frame itself crossed the speech threshold.
	// A frame between the thresholds can continue a segment without being
	// voiced.
	Voiced bool
}

// Speaking reports whether the stream is in a speech segment after this frame.
func (e Event) Speaking() bool {
	return e.Type == SpeechStart || e.Type == SpeechContinue
}

// EventType enumerates VAD detection states.
type EventType int

const (
	// SpeechStart indicates speech has just begun.
	SpeechStart EventType = iota

	// SpeechContinue indicates ongoing speech.
	SpeechContinue

	// SpeechEnd indicates speech has just ended.
	SpeechEnd

	// Silence indicates no speech.
	Silence
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "speech_start"
	case SpeechContinue:
		return "speech_continue"
	case SpeechEnd:
		return "speech_end"
	case Silence:
		return "silence"
	default:
		return "unknown"
	}
}
