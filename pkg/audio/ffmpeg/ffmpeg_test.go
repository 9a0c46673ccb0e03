package ffmpeg

import (
	"bytes"
	"os/exec"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/parivox/internal/playback"
	"github.com/MrWong99/parivox/pkg/audio"
)

func TestCaptureArgs(t *testing.T) {
	t.Parallel()

	args, err := captureArgs("linux", Config{CaptureRate: 48000})
	if err != nil {
		t.Fatalf("captureArgs: %v", err)
	}
	for _, want := range [][]string{{"-f", "pulse"}, {"-i", "default"}, {"-ar", "48000"}, {"-f", "f32le"}} {
		if !containsPair(args, want[0], want[1]) {
			t.Errorf("args %v missing %s %s", args, want[0], want[1])
		}
	}

	args, err = captureArgs("darwin", Config{CaptureRate: 44100})
	if err != nil {
		t.Fatalf("captureArgs darwin: %v", err)
	}
	if !containsPair(args, "-i", ":0") || !containsPair(args, "-f", "avfoundation") {
		t.Errorf("darwin args %v", args)
	}

	if _, err := captureArgs("plan9", Config{}); err == nil {
		t.Error("expected error for unknown OS without explicit device")
	}
	if _, err := captureArgs("plan9", Config{InputFormat: "oss", InputDevice: "/dev/dsp"}); err != nil {
		t.Errorf("explicit device on unknown OS: %v", err)
	}
}

func containsPair(args []string, k, v string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == k && args[i+1] == v {
			return true
		}
	}
	return false
}

func TestSpeaker_StepFeedsSilenceAndAdvancesClock(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	s := newSpeaker(&out, 1000, 10*time.Millisecond)

	if err := s.step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if out.Len() != 20 {
		t.Fatalf("wrote %d bytes, want 20", out.Len())
	}
	if !slices.Equal(out.Bytes(), make([]byte, 20)) {
		t.Error("idle step should write silence")
	}
	if got := s.Now(); got != 10*time.Millisecond {
		t.Errorf("Now = %v, want 10ms", got)
	}
}

func TestSpeaker_PlayAtFutureTime(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	s := newSpeaker(&out, 1000, 10*time.Millisecond)

	v, err := s.Play(constant(10, 0.5), 5*time.Millisecond)
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	select {
	case <-v.Done():
		t.Fatal("voice reaching past the next write reported Done at Play")
	default:
	}

	// First window [0,10) holds 5 silent + 5 voiced samples.
	if err := s.step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	pcm := audio.DecodePCM16LE(out.Bytes())
	if pcm[4] != 0 || pcm[5] == 0 {
		t.Errorf("voice should begin at sample 5: %v", pcm)
	}
	select {
	case <-v.Done():
	default:
		t.Fatal("voice whose tail fits the next write should report Done")
	}

	// The tail is still written after Done.
	if err := s.step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	pcm = audio.DecodePCM16LE(out.Bytes())
	if pcm[14] == 0 || pcm[15] != 0 {
		t.Errorf("voice should end after sample 14: %v", pcm[10:])
	}
	if n := voiceCount(s); n != 0 {
		t.Errorf("voices after last sample = %d, want 0", n)
	}
}

func TestSpeaker_StopSilencesTailAfterDone(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	s := newSpeaker(&out, 1000, 10*time.Millisecond)
	v, _ := s.Play(constant(15, 0.5), 0)
	_ = s.step()
	<-v.Done()

	v.Stop()
	out.Reset()
	_ = s.step()
	if !slices.Equal(out.Bytes(), make([]byte, 20)) {
		t.Error("stopped tail must not be written")
	}
}

func TestSpeaker_SchedulerPlaysBuffersWithoutGaps(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	spk := newSpeaker(&out, 24000, 20*time.Millisecond)
	sched := playback.New(spk)
	t.Cleanup(func() { _ = sched.Close() })

	// 500 samples is not a whole number of milliseconds at 24 kHz.
	sched.Enqueue(constant(500, 0.5))
	sched.Enqueue(constant(500, 0.5))
	waitForVoices(t, spk, 1)

	if err := spk.step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	waitForVoices(t, spk, 2)
	for range 2 {
		if err := spk.step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}

	pcm := audio.DecodePCM16LE(out.Bytes())
	if len(pcm) != 3*480 {
		t.Fatalf("wrote %d samples, want %d", len(pcm), 3*480)
	}
	want := audio.FloatToInt16([]float32{0.5})[0]
	for i := range 1000 {
		if pcm[i] != want {
			t.Fatalf("sample %d = %d, want %d (gap or overlap at a buffer boundary)", i, pcm[i], want)
		}
	}
	for i := 1000; i < len(pcm); i++ {
		if pcm[i] != 0 {
			t.Fatalf("sample %d = %d after the last buffer, want silence", i, pcm[i])
		}
	}
}

func constant(n int, v float32) []float32 {
	b := make([]float32, n)
	for i := range b {
		b[i] = v
	}
	return b
}

func voiceCount(s *Speaker) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.voices)
}

func waitForVoices(t *testing.T, s *Speaker, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for voiceCount(s) != n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d voices, have %d", n, voiceCount(s))
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSpeaker_PastStartClampsToClock(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	s := newSpeaker(&out, 1000, 10*time.Millisecond)
	_ = s.step()
	out.Reset()

	if _, err := s.Play([]float32{1, 1}, 0); err != nil {
		t.Fatalf("Play: %v", err)
	}
	_ = s.step()
	pcm := audio.DecodePCM16LE(out.Bytes())
	if pcm[0] != 32767 || pcm[1] != 32767 || pcm[2] != 0 {
		t.Errorf("late voice should start at the current clock: %v", pcm[:3])
	}
}

func TestSpeaker_StopRemovesVoice(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	s := newSpeaker(&out, 1000, 10*time.Millisecond)
	v, _ := s.Play([]float32{1, 1, 1, 1}, 0)
	v.Stop()
	<-v.Done()

	_ = s.step()
	if !slices.Equal(out.Bytes(), make([]byte, 20)) {
		t.Error("stopped voice must not be written")
	}
}

func TestSpeaker_CloseRejectsPlay(t *testing.T) {
	t.Parallel()

	s := newSpeaker(&bytes.Buffer{}, 1000, 10*time.Millisecond)
	v, _ := s.Play([]float32{1}, time.Second)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	<-v.Done()
	if _, err := s.Play([]float32{1}, 0); err == nil {
		t.Error("Play after Close should fail")
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestMicrophone_CloseReapsAfterReader(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	cmd := exec.Command("sleep", "30")
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("StdoutPipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m := startMicrophone(cmd, stdout, 1000, 4)

	closed := make(chan struct{})
	go func() {
		_ = m.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}

	// readLoop has returned, so the frame channel is already closed.
	select {
	case _, ok := <-m.Frames():
		if ok {
			t.Error("unexpected frame after Close")
		}
	default:
		t.Error("frame channel still open after Close")
	}
	if cmd.ProcessState == nil {
		t.Error("child was not reaped")
	}
	_ = m.Close()
}
