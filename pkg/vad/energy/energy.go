// Package energy implements [vad.Engine] as a root-mean-square energy
// detector with two-threshold hysteresis. A frame at or above the speech
// threshold starts (or continues) speech; a frame at or below the silence
// threshold ends it; anything in between keeps the previous state.
package energy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/parivox/pkg/audio"
	"github.com/MrWong99/parivox/pkg/vad"
)

// Compile-time interface assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Default thresholds in RMS amplitude.
const (
	DefaultSpeechThreshold  = 0.02
	DefaultSilenceThreshold = 0.01
)

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("energy: session closed")

// Engine creates energy VAD sessions. The zero value is ready to use.
type Engine struct{}

// New returns an energy [Engine].
func New() *Engine { return &Engine{} }

// DefaultConfig returns the default thresholds.
func DefaultConfig() vad.Config {
	return vad.Config{
		SpeechThreshold:  DefaultSpeechThreshold,
		SilenceThreshold: DefaultSilenceThreshold,
	}
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy: speech threshold %v out of range (0, 1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy: silence threshold %v must be in [0, %v]", cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	return &Session{cfg: cfg}, nil
}

// Session is a single-stream energy detector.
type Session struct {
	cfg      vad.Config
	mu       sync.Mutex
	speaking bool
	closed   bool
}

// ProcessFrame implements [vad.SessionHandle].
func (s *Session) ProcessFrame(samples []float32) (vad.Event, error) {
	level := audio.RMS(samples)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{}, ErrClosed
	}

	ev := vad.Event{Level: level, Voiced: level >= s.cfg.SpeechThreshold}
	switch {
	case ev.Voiced:
		if s.speaking {
			ev.Type = vad.SpeechContinue
		} else {
			ev.Type = vad.SpeechStart
		}
		s.speaking = true
	case level <= s.cfg.SilenceThreshold:
		if s.speaking {
			ev.Type = vad.SpeechEnd
		} else {
			ev.Type = vad.Silence
		}
		s.speaking = false
	default:
		if s.speaking {
			ev.Type = vad.SpeechContinue
		} else {
			ev.Type = vad.Silence
		}
	}
	return ev, nil
}

// Reset implements [vad.SessionHandle].
func (s *Session) Reset() {
	s.mu.Lock()
	s.speaking = false
	s.mu.Unlock()
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
