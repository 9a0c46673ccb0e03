package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parivox/pkg/audio"
	"github.com/MrWong99/parivox/pkg/audio/mock"
	"github.com/MrWong99/parivox/pkg/live"
	"github.com/MrWong99/parivox/pkg/vad"
	"github.com/MrWong99/parivox/pkg/vad/energy"
)

type recordingObserver struct {
	mu     sync.Mutex
	events []vad.Event
}

func (r *recordingObserver) Observe(ev vad.Event, _ time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return false
}

func (r *recordingObserver) Events() []vad.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]vad.Event(nil), r.events...)
}

type fakeUplink struct {
	mu     sync.Mutex
	open   bool
	box    *Outbox
	chunks int
}

func (u *fakeUplink) setOpen(v bool) {
	u.mu.Lock()
	u.open = v
	u.mu.Unlock()
}

func (u *fakeUplink) Open() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.open
}

func (u *fakeUplink) SendAudio(chunk string) bool {
	u.mu.Lock()
	u.chunks++
	u.mu.Unlock()
	return !u.box.Push(chunk)
}

func (u *fakeUplink) Chunks() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.chunks
}

func constFrame(n int, v float32) []float32 {
	f := make([]float32, n)
	for i := range f {
		f[i] = v
	}
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

type harness struct {
	mic    *mock.Microphone
	obs    *recordingObserver
	uplink *fakeUplink
	done   chan error
	cancel context.CancelFunc
}

func start(t *testing.T, micRate int, open bool) *harness {
	t.Helper()
	sess, err := energy.New().NewSession(energy.DefaultConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	h := &harness{
		mic:    mock.NewMicrophone(micRate, 16),
		obs:    &recordingObserver{},
		uplink: &fakeUplink{open: open, box: NewOutbox(4)},
		done:   make(chan error, 1),
	}
	p := New(h.mic, sess, h.obs, h.uplink)
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- p.Run(ctx) }()
	t.Cleanup(cancel)
	return h
}

func TestPipeline_EncodesAtWireRate(t *testing.T) {
	t.Parallel()

	h := start(t, 48000, true)
	h.mic.Push(constFrame(4800, 0.5))

	select {
	case chunk := <-h.uplink.box.C():
		pcm, err := live.DecodeAudio(chunk)
		if err != nil {
			t.Fatalf("DecodeAudio: %v", err)
		}
		if len(pcm) != 1600 {
			t.Errorf("chunk has %d samples, want 1600 at 16 kHz", len(pcm))
		}
		if pcm[0] != 16384 {
			t.Errorf("pcm[0] = %d, want 16384", pcm[0])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no chunk sent")
	}
	waitFor(t, "vad event", func() bool { return len(h.obs.Events()) == 1 })
	if ev := h.obs.Events()[0]; ev.Type != vad.SpeechStart || !ev.Voiced {
		t.Errorf("event = %+v, want voiced speech start", ev)
	}
}

func TestPipeline_DropsWhileTransportClosed(t *testing.T) {
	t.Parallel()

	h := start(t, 16000, false)
	h.mic.Push(constFrame(160, 0.5))
	h.mic.Push(constFrame(160, 0.5))
	waitFor(t, "vad events", func() bool { return len(h.obs.Events()) == 2 })
	if got := h.uplink.Chunks(); got != 0 {
		t.Errorf("sent %d chunks while closed", got)
	}

	// Frames from before the transport opened are not replayed.
	h.uplink.setOpen(true)
	h.mic.Push(constFrame(160, 0))
	waitFor(t, "chunk", func() bool { return h.uplink.Chunks() == 1 })
	if n := len(h.uplink.box.C()); n != 1 {
		t.Errorf("outbox holds %d chunks, want 1", n)
	}
}

func TestPipeline_StopsOnCancel(t *testing.T) {
	t.Parallel()

	h := start(t, 16000, true)
	h.cancel()
	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("Run = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestPipeline_MicrophoneEndIsDeviceError(t *testing.T) {
	t.Parallel()

	h := start(t, 16000, true)
	_ = h.mic.Close()
	select {
	case err := <-h.done:
		if !errors.Is(err, audio.ErrDevice) {
			t.Errorf("Run = %v, want audio.ErrDevice", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
