package bargein

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parivox/pkg/vad"
)

type fakePlayer struct {
	mu      sync.Mutex
	active  bool
	queued  int
	flushes int
}

func (p *fakePlayer) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *fakePlayer) Flush() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
	n := p.queued
	p.queued = 0
	p.active = false
	return n
}

var (
	voicedStart = vad.Event{Type: vad.SpeechStart, Level: 0.05, Voiced: true}
	voicedCont  = vad.Event{Type: vad.SpeechContinue, Level: 0.05, Voiced: true}
	hold        = vad.Event{Type: vad.SpeechContinue, Level: 0.015}
	silence     = vad.Event{Type: vad.SpeechEnd, Level: 0.001}
)

func TestObserve_FlushesActivePlayback(t *testing.T) {
	t.Parallel()

	p := &fakePlayer{active: true, queued: 3}
	a := NewArbiter(p)
	now := time.Now()

	if !a.Observe(voicedStart, now) {
		t.Fatal("voiced frame during playback should flush")
	}
	if p.flushes != 1 || p.queued != 0 {
		t.Errorf("flushes=%d queued=%d, want 1 and 0", p.flushes, p.queued)
	}
	s := a.Activity().Snapshot()
	if !s.Speaking || !s.LastSpeech.Equal(now) {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestObserve_NoFlushWhenIdle(t *testing.T) {
	t.Parallel()

	p := &fakePlayer{}
	a := NewArbiter(p)
	if a.Observe(voicedStart, time.Now()) {
		t.Error("nothing playing, nothing to flush")
	}
	if p.flushes != 0 {
		t.Errorf("flushes = %d", p.flushes)
	}
}

func TestObserve_HoldFrameKeepsTimestamp(t *testing.T) {
	t.Parallel()

	p := &fakePlayer{}
	a := NewArbiter(p)
	t0 := time.Now()
	a.Observe(voicedStart, t0)

	p.active = true
	if a.Observe(hold, t0.Add(100*time.Millisecond)) {
		t.Error("frame between thresholds must not flush")
	}
	s := a.Activity().Snapshot()
	if !s.Speaking {
		t.Error("hysteresis hold should keep speaking")
	}
	if !s.LastSpeech.Equal(t0) {
		t.Errorf("LastSpeech = %v, want %v", s.LastSpeech, t0)
	}

	a.Observe(silence, t0.Add(200*time.Millisecond))
	if a.Activity().Snapshot().Speaking {
		t.Error("silence frame should clear speaking")
	}
}

func TestObserve_ContinuedSpeechFlushesNewPlayback(t *testing.T) {
	t.Parallel()

	p := &fakePlayer{}
	a := NewArbiter(p)
	t0 := time.Now()
	a.Observe(voicedStart, t0)

	p.active = true
	if !a.Observe(voicedCont, t0.Add(50*time.Millisecond)) {
		t.Error("voiced frame with active playback should flush")
	}
}

func TestAdmit_TailWindow(t *testing.T) {
	t.Parallel()

	t0 := time.Now()
	tests := []struct {
		name  string
		after time.Duration
		want  bool
	}{
		{name: "1000ms after speech", after: 1000 * time.Millisecond, want: false},
		{name: "just inside window", after: 1499 * time.Millisecond, want: false},
		{name: "at window edge", after: 1500 * time.Millisecond, want: true},
		{name: "2000ms after speech", after: 2000 * time.Millisecond, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := NewArbiter(&fakePlayer{})
			a.Observe(voicedStart, t0)
			a.Observe(silence, t0.Add(10*time.Millisecond))
			if got := a.Admit(t0.Add(tt.after)); got != tt.want {
				t.Errorf("Admit(+%v) = %v, want %v", tt.after, got, tt.want)
			}
		})
	}
}

func TestAdmit_RefusedWhileSpeaking(t *testing.T) {
	t.Parallel()

	a := NewArbiter(&fakePlayer{}, WithTailWindow(0))
	t0 := time.Now()
	a.Observe(voicedStart, t0)
	if a.Admit(t0.Add(time.Hour)) {
		t.Error("chunk admitted while user still speaking")
	}
}

func TestAdmit_NoSpeechYet(t *testing.T) {
	t.Parallel()

	a := NewArbiter(&fakePlayer{})
	if !a.Admit(time.Now()) {
		t.Error("chunk refused before any speech was heard")
	}
}

func TestActivity_ConcurrentSnapshots(t *testing.T) {
	t.Parallel()

	a := NewArbiter(&fakePlayer{})
	t0 := time.Now()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 1000 {
			if i%2 == 0 {
				a.Observe(voicedStart, t0.Add(time.Duration(i)*time.Millisecond))
			} else {
				a.Observe(silence, t0.Add(time.Duration(i)*time.Millisecond))
			}
		}
	}()
	go func() {
		defer wg.Done()
		for range 1000 {
			s := a.Activity().Snapshot()
			if s.Speaking && s.LastSpeech.IsZero() {
				t.Error("speaking without a speech timestamp")
				return
			}
		}
	}()
	wg.Wait()
}
