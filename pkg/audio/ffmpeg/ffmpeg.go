// Package ffmpeg implements [audio.Devices] on top of the ffmpeg and ffplay
// command-line tools. Capture runs "ffmpeg" reading the default input device
// as 32-bit float mono; playback pipes 16-bit PCM into "ffplay".
//
// The speaker keeps its own sample-counted clock and writes a fixed slice of
// audio on every tick, mixing whatever voices overlap that slice and writing
// silence otherwise. Buffer underruns therefore never stall the clock. A
// voice reports Done one tick ahead, as soon as its remaining samples fit in
// the next write, so the buffer scheduled behind it lands before the device
// writes past its start.
package ffmpeg

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/MrWong99/parivox/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Devices    = (*Devices)(nil)
	_ audio.Microphone = (*Microphone)(nil)
	_ audio.Speaker    = (*Speaker)(nil)
)

const (
	defaultCaptureRate  = 48000
	defaultFrameSize    = 4096
	defaultPlaybackRate = 24000
	defaultTick         = 20 * time.Millisecond
	defaultFrameBuffer  = 8
)

// Config selects the host devices and formats.
type Config struct {
	// InputFormat is the ffmpeg input demuxer ("pulse", "alsa", "avfoundation").
	// Empty picks one for the current OS.
	InputFormat string

	// InputDevice is the ffmpeg input name. Empty picks the OS default.
	InputDevice string

	// CaptureRate is the native capture rate in Hz. Default: 48000.
	CaptureRate int

	// FrameSize is the number of samples per captured frame. Default: 4096.
	FrameSize int

	// PlaybackRate is the speaker rate in Hz. Default: 24000.
	PlaybackRate int

	// Tick is the speaker write cadence. Default: 20ms.
	Tick time.Duration
}

func (c Config) withDefaults() Config {
	if c.CaptureRate <= 0 {
		c.CaptureRate = defaultCaptureRate
	}
	if c.FrameSize <= 0 {
		c.FrameSize = defaultFrameSize
	}
	if c.PlaybackRate <= 0 {
		c.PlaybackRate = defaultPlaybackRate
	}
	if c.Tick <= 0 {
		c.Tick = defaultTick
	}
	return c
}

// Devices opens ffmpeg-backed microphones and ffplay-backed speakers.
type Devices struct {
	cfg Config
}

// New returns a [Devices] for cfg.
func New(cfg Config) *Devices {
	return &Devices{cfg: cfg.withDefaults()}
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone captures mono float frames from an ffmpeg child process.
type Microphone struct {
	rate      int
	frameSize int
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	frames    chan audio.AudioFrame
	readDone  chan struct{} // closed when readLoop returns
	closeOnce sync.Once
}

// OpenMicrophone implements [audio.Devices]. It fails with an error wrapping
// [audio.ErrDevice] when ffmpeg is missing or cannot be started.
func (d *Devices) OpenMicrophone(_ context.Context) (audio.Microphone, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found in PATH", audio.ErrDevice)
	}
	args, err := captureArgs(runtime.GOOS, d.cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrDevice, err)
	}
	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: open ffmpeg stdout: %w", audio.ErrDevice, err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg capture: %w", audio.ErrDevice, err)
	}

	return startMicrophone(cmd, stdout, d.cfg.CaptureRate, d.cfg.FrameSize), nil
}

// startMicrophone wraps a started child whose stdout carries f32le frames.
func startMicrophone(cmd *exec.Cmd, stdout io.ReadCloser, rate, frameSize int) *Microphone {
	m := &Microphone{
		rate:      rate,
		frameSize: frameSize,
		cmd:       cmd,
		stdout:    stdout,
		frames:    make(chan audio.AudioFrame, defaultFrameBuffer),
		readDone:  make(chan struct{}),
	}
	go m.readLoop()
	return m
}

// captureArgs builds the ffmpeg argument list for goos.
func captureArgs(goos string, cfg Config) ([]string, error) {
	format, device := cfg.InputFormat, cfg.InputDevice
	switch goos {
	case "darwin":
		if format == "" {
			format = "avfoundation"
		}
		if device == "" {
			device = ":0"
		}
	case "linux":
		if format == "" {
			format = "pulse"
		}
		if device == "" {
			device = "default"
		}
	default:
		if format == "" || device == "" {
			return nil, fmt.Errorf("no default capture device for %s; set audio.capture.format and audio.capture.device", goos)
		}
	}
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", format, "-i", device,
		"-ac", "1", "-ar", strconv.Itoa(cfg.CaptureRate),
		"-f", "f32le", "-",
	}, nil
}

// readLoop reads fixed-size frames until ffmpeg exits. A full frame channel
// drops the frame rather than stalling the pipe.
func (m *Microphone) readLoop() {
	defer close(m.readDone)
	defer close(m.frames)
	buf := make([]byte, m.frameSize*4)
	var pos time.Duration
	for {
		if _, err := io.ReadFull(m.stdout, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.ErrClosedPipe) {
				slog.Debug("ffmpeg capture: read ended", "err", err)
			}
			return
		}
		samples := make([]float32, m.frameSize)
		for i := range samples {
			samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
		f := audio.AudioFrame{Samples: samples, SampleRate: m.rate, Timestamp: pos}
		pos += f.Duration()
		select {
		case m.frames <- f:
		default:
			slog.Debug("ffmpeg capture: consumer behind, dropping frame")
		}
	}
}

// Frames implements [audio.Microphone].
func (m *Microphone) Frames() <-chan audio.AudioFrame { return m.frames }

// SampleRate implements [audio.Microphone].
func (m *Microphone) SampleRate() int { return m.rate }

// Close implements [audio.Microphone]. The child is killed and its stdout
// drained by readLoop before the process is reaped.
func (m *Microphone) Close() error {
	m.closeOnce.Do(func() {
		if m.cmd != nil && m.cmd.Process != nil {
			_ = m.cmd.Process.Kill()
		}
		<-m.readDone
		if m.cmd != nil && m.cmd.Process != nil {
			_ = m.cmd.Wait()
		}
	})
	return nil
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker plays scheduled float buffers through ffplay.
type Speaker struct {
	rate int
	tick time.Duration
	n    int64 // samples per tick
	out  io.Writer
	cmd  *exec.Cmd

	mu      sync.Mutex
	written int64 // samples handed to the device
	voices  []*voice

	done      chan struct{}
	closeOnce sync.Once
}

// OpenSpeaker implements [audio.Devices]. It fails with an error wrapping
// [audio.ErrDevice] when ffplay is missing or cannot be started.
func (d *Devices) OpenSpeaker(_ context.Context) (audio.Speaker, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, fmt.Errorf("%w: ffplay not found in PATH", audio.ErrDevice)
	}
	cmd := exec.Command("ffplay",
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(d.cfg.PlaybackRate),
		"-ac", "1",
		"-i", "pipe:0",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: open ffplay stdin: %w", audio.ErrDevice, err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffplay: %w", audio.ErrDevice, err)
	}

	s := newSpeaker(stdin, d.cfg.PlaybackRate, d.cfg.Tick)
	s.cmd = cmd
	go s.run()
	return s, nil
}

func newSpeaker(out io.Writer, rate int, tick time.Duration) *Speaker {
	return &Speaker{
		rate: rate,
		tick: tick,
		n:    max(1, int64(rate)*int64(tick)/int64(time.Second)),
		out:  out,
		done: make(chan struct{}),
	}
}

// run writes one tick of audio per tick until Close.
func (s *Speaker) run() {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.step(); err != nil {
				slog.Warn("ffplay playback: write failed", "err", err)
				return
			}
		}
	}
}

// step mixes the next tick of every overlapping voice, writes it as PCM, and
// advances the device clock. Voices that end inside the window are dropped;
// voices that end inside the following window are released early.
func (s *Speaker) step() error {
	s.mu.Lock()
	start := s.written
	end := start + s.n
	mix := make([]float32, s.n)
	kept := s.voices[:0]
	for _, v := range s.voices {
		if v.isStopped() {
			continue
		}
		vEnd := v.start + int64(len(v.samples))
		lo, hi := max(v.start, start), min(vEnd, end)
		for i := lo; i < hi; i++ {
			mix[i-start] += v.samples[i-v.start]
		}
		if vEnd <= end {
			v.finish()
			continue
		}
		if vEnd <= end+s.n {
			v.finish()
		}
		kept = append(kept, v)
	}
	clear(s.voices[len(kept):])
	s.voices = kept
	s.written = end

	pcm := audio.EncodePCM16LE(audio.FloatToInt16(mix))
	s.mu.Unlock()

	_, err := s.out.Write(pcm)
	return err
}

// SampleRate implements [audio.Speaker].
func (s *Speaker) SampleRate() int { return s.rate }

// Now implements [audio.Speaker].
func (s *Speaker) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return audio.SamplesDuration(int(s.written), s.rate)
}

// Play implements [audio.Speaker].
func (s *Speaker) Play(samples []float32, at time.Duration) (audio.Voice, error) {
	select {
	case <-s.done:
		return nil, fmt.Errorf("%w: speaker closed", audio.ErrDevice)
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	startSample := max(audio.DurationSamples(at, s.rate), s.written)
	v := &voice{start: startSample, samples: samples, done: make(chan struct{})}
	if len(samples) == 0 {
		v.finish()
		return v, nil
	}
	if startSample+int64(len(samples)) <= s.written+s.n {
		v.finish()
	}
	s.voices = append(s.voices, v)
	return v, nil
}

// Close implements [audio.Speaker]. Pending voices are stopped.
func (s *Speaker) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		for _, v := range s.voices {
			v.Stop()
		}
		s.voices = nil
		s.mu.Unlock()
		if c, ok := s.out.(io.Closer); ok {
			_ = c.Close()
		}
		if s.cmd != nil && s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
			_ = s.cmd.Wait()
		}
	})
	return nil
}

type voice struct {
	start   int64
	samples []float32
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	stopped bool
}

func (v *voice) Done() <-chan struct{} { return v.done }

func (v *voice) Stop() {
	v.mu.Lock()
	v.stopped = true
	v.mu.Unlock()
	v.finish()
}

func (v *voice) isStopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

func (v *voice) finish() { v.once.Do(func() { close(v.done) }) }
