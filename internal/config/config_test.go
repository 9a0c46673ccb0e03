package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/parivox/internal/config"
	"github.com/MrWong99/parivox/pkg/audio"
	"github.com/MrWong99/parivox/pkg/vad"
)

const validYAML = `
server:
  listen_addr: ":8088"
  log_level: debug
live:
  api_key: test-key
  connect_timeout: 5s
audio:
  capture:
    device: default
  outbox_depth: 4
bargein:
  speech_threshold: 0.05
  silence_threshold: 0.02
  tail_window: 1s
user:
  name: Asha
  timezone: Asia/Kolkata
personas:
  default: BadeBhaiya
  entries:
    - key: BadeBhaiya
      name: Bade Bhaiya
      voice: Charon
      instruction: You are a friendly elder brother.
      tools: [connect_to_specialist]
    - key: ResumeAgent
      voice: Umbriel
      tools: [generate_resume, update_resume_layout, return_to_master_agent]
      aliases: [resume, cv]
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8088" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Live.ConnectTimeout != 5*time.Second {
		t.Errorf("connect_timeout: got %v, want 5s", cfg.Live.ConnectTimeout)
	}
	if cfg.BargeIn.TailWindow != time.Second {
		t.Errorf("tail_window: got %v, want 1s", cfg.BargeIn.TailWindow)
	}
	if cfg.Audio.OutboxDepth != 4 {
		t.Errorf("outbox_depth: got %d, want 4", cfg.Audio.OutboxDepth)
	}
	if got := len(cfg.Personas.Entries); got != 2 {
		t.Fatalf("personas: got %d, want 2", got)
	}
	if cfg.Personas.Entries[1].Aliases[1] != "cv" {
		t.Errorf("aliases: got %v", cfg.Personas.Entries[1].Aliases)
	}
}

func TestLoadFromReader_AppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(`
personas:
  entries:
    - key: Solo
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"listen_addr", cfg.Server.ListenAddr, config.DefaultListenAddr},
		{"log_level", cfg.Server.LogLevel, config.LogInfo},
		{"connect_timeout", cfg.Live.ConnectTimeout, config.DefaultConnectTimeout},
		{"dial_failures", cfg.Live.DialFailures, config.DefaultDialFailures},
		{"dial_cooldown", cfg.Live.DialCooldown, config.DefaultDialCooldown},
		{"backend", cfg.Audio.Backend, config.DefaultAudioBackend},
		{"capture.rate", cfg.Audio.Capture.Rate, config.DefaultCaptureRate},
		{"capture_wire_rate", cfg.Audio.CaptureWireRate, config.DefaultCaptureWireRate},
		{"playback_wire_rate", cfg.Audio.PlaybackWireRate, config.DefaultPlaybackWireRate},
		{"outbox_depth", cfg.Audio.OutboxDepth, config.DefaultOutboxDepth},
		{"vad", cfg.BargeIn.VAD, config.DefaultVAD},
		{"tail_window", cfg.BargeIn.TailWindow, config.DefaultTailWindow},
		{"default persona", cfg.Personas.Default, "Solo"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadFromReader_ExplicitZeroKept(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(`
live:
  keepalive: 0s
  connect_timeout: 0s
bargein:
  silence_threshold: 0
  tail_window: 0s
personas:
  entries:
    - key: Solo
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Live.Keepalive != 0 {
		t.Errorf("keepalive = %v, want 0 (pings disabled)", cfg.Live.Keepalive)
	}
	if cfg.Live.ConnectTimeout != 0 {
		t.Errorf("connect_timeout = %v, want 0", cfg.Live.ConnectTimeout)
	}
	if cfg.BargeIn.SilenceThreshold != 0 {
		t.Errorf("silence_threshold = %v, want 0", cfg.BargeIn.SilenceThreshold)
	}
	if cfg.BargeIn.TailWindow != config.DefaultTailWindow {
		t.Errorf("tail_window = %v, want default %v", cfg.BargeIn.TailWindow, config.DefaultTailWindow)
	}
}

func TestLoadFromReader_OmittedZeroableKeysDefault(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(`
personas:
  entries:
    - key: Solo
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Live.Keepalive != config.DefaultKeepalive || cfg.BargeIn.SilenceThreshold != config.DefaultSilenceThreshold {
		t.Errorf("keepalive = %v silence = %v, want defaults", cfg.Live.Keepalive, cfg.BargeIn.SilenceThreshold)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
personas:
  entries:
    - key: Solo
      personality: grumpy
`))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv(config.APIKeyEnv, "from-env")

	if got := (config.LiveConfig{APIKey: "inline"}).ResolveAPIKey(); got != "inline" {
		t.Errorf("inline key: got %q", got)
	}
	if got := (config.LiveConfig{}).ResolveAPIKey(); got != "from-env" {
		t.Errorf("env key: got %q", got)
	}
}

func TestUserLocation(t *testing.T) {
	t.Parallel()
	loc, err := config.UserConfig{Timezone: "Asia/Kolkata"}.Location()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.String() != "Asia/Kolkata" {
		t.Errorf("location: got %q", loc)
	}
	if loc, _ := (config.UserConfig{}).Location(); loc != time.Local {
		t.Errorf("empty timezone: got %v, want Local", loc)
	}
}

func TestPersonasBuild(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ps := cfg.Personas.Build()
	if len(ps) != 2 {
		t.Fatalf("got %d personas, want 2", len(ps))
	}
	if ps[0].Key != "BadeBhaiya" || ps[0].Name != "Bade Bhaiya" || ps[0].Voice != "Charon" {
		t.Errorf("persona[0]: %+v", ps[0])
	}
	// Build copies slices so registry entries never alias config memory.
	ps[1].Tools[0] = "mutated"
	if cfg.Personas.Entries[1].Tools[0] != "generate_resume" {
		t.Error("Build must copy tool slices")
	}
}

// ─── Registry ────────────────────────────────────────────────────────────────

type stubDevices struct{}

func (stubDevices) OpenMicrophone(context.Context) (audio.Microphone, error) { return nil, nil }
func (stubDevices) OpenSpeaker(context.Context) (audio.Speaker, error)       { return nil, nil }

type stubVAD struct{ cfg config.BargeInConfig }

func (stubVAD) NewSession(vad.Config) (vad.SessionHandle, error) { return nil, nil }

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	if _, err := r.CreateDevices(config.AudioConfig{Backend: "portaudio"}); !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("CreateDevices: got %v, want ErrBackendNotRegistered", err)
	}
	if _, err := r.CreateVAD(config.BargeInConfig{VAD: "silero"}); !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Errorf("CreateVAD: got %v, want ErrBackendNotRegistered", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	r.RegisterDevices("stub", func(config.AudioConfig) (audio.Devices, error) { return stubDevices{}, nil })
	r.RegisterVAD("stub", func(c config.BargeInConfig) (vad.Engine, error) { return stubVAD{cfg: c}, nil })

	if d, err := r.CreateDevices(config.AudioConfig{Backend: "stub"}); err != nil || d == nil {
		t.Errorf("CreateDevices: got (%v, %v)", d, err)
	}
	eng, err := r.CreateVAD(config.BargeInConfig{VAD: "stub", SpeechThreshold: 0.3})
	if err != nil {
		t.Fatalf("CreateVAD: %v", err)
	}
	if eng.(stubVAD).cfg.SpeechThreshold != 0.3 {
		t.Error("factory did not receive the barge-in config")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	boom := errors.New("no ffmpeg on PATH")
	r.RegisterDevices("broken", func(config.AudioConfig) (audio.Devices, error) { return nil, boom })

	if _, err := r.CreateDevices(config.AudioConfig{Backend: "broken"}); !errors.Is(err, boom) {
		t.Errorf("got %v, want factory error", err)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load("../../configs/example.yaml")
	if err != nil {
		t.Fatalf("example config must load: %v", err)
	}
	if cfg.Personas.Default != "BadeBhaiya" {
		t.Errorf("default persona: got %q", cfg.Personas.Default)
	}
	want := []string{"BadeBhaiya", "ResumeAgent", "IncomeAgent", "DayPlannerAgent"}
	if len(cfg.Personas.Entries) != len(want) {
		t.Fatalf("got %d personas, want %d", len(cfg.Personas.Entries), len(want))
	}
	for i, k := range want {
		if cfg.Personas.Entries[i].Key != k {
			t.Errorf("persona[%d]: got %q, want %q", i, cfg.Personas.Entries[i].Key, k)
		}
	}
}
