package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/parivox/internal/tools"
)

// Defaults applied by [Defaults] and [ApplyDefaults].
const (
	DefaultListenAddr       = ":9090"
	DefaultAudioBackend     = "ffmpeg"
	DefaultVAD              = "energy"
	DefaultConnectTimeout   = 15 * time.Second
	DefaultKeepalive        = 20 * time.Second
	DefaultDialFailures     = 3
	DefaultDialCooldown     = 30 * time.Second
	DefaultCaptureRate      = 48000
	DefaultFrameSize        = 4096
	DefaultPlaybackRate     = 24000
	DefaultPlaybackTick     = 20 * time.Millisecond
	DefaultCaptureWireRate  = 16000
	DefaultPlaybackWireRate = 24000
	DefaultOutboxDepth      = 8
	DefaultSpeechThreshold  = 0.02
	DefaultSilenceThreshold = 0.01
	DefaultTailWindow       = 1500 * time.Millisecond
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a config holding every default. The loader decodes YAML
// on top of it, so a key that is present keeps its value even when it is
// zero: "keepalive: 0" disables pings, "connect_timeout: 0" removes the dial
// bound and "silence_threshold: 0" ends speech only on digital silence.
func Defaults() *Config {
	cfg := &Config{
		Live: LiveConfig{
			ConnectTimeout: DefaultConnectTimeout,
			Keepalive:      DefaultKeepalive,
		},
		BargeIn: BargeInConfig{
			SilenceThreshold: DefaultSilenceThreshold,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every zero-valued setting whose zero value means
// nothing. Settings where zero is meaningful are defaulted by [Defaults]
// only.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Live.DialFailures, DefaultDialFailures)
	setDefault(&cfg.Live.DialCooldown, DefaultDialCooldown)

	setDefault(&cfg.Audio.Backend, DefaultAudioBackend)
	setDefault(&cfg.Audio.Capture.Rate, DefaultCaptureRate)
	setDefault(&cfg.Audio.Capture.FrameSize, DefaultFrameSize)
	setDefault(&cfg.Audio.PlaybackRate, DefaultPlaybackRate)
	setDefault(&cfg.Audio.PlaybackTick, DefaultPlaybackTick)
	setDefault(&cfg.Audio.CaptureWireRate, DefaultCaptureWireRate)
	setDefault(&cfg.Audio.PlaybackWireRate, DefaultPlaybackWireRate)
	setDefault(&cfg.Audio.OutboxDepth, DefaultOutboxDepth)

	setDefault(&cfg.BargeIn.VAD, DefaultVAD)
	setDefault(&cfg.BargeIn.SpeechThreshold, DefaultSpeechThreshold)
	setDefault(&cfg.BargeIn.TailWindow, DefaultTailWindow)

	if cfg.Personas.Default == "" && len(cfg.Personas.Entries) > 0 {
		cfg.Personas.Default = cfg.Personas.Entries[0].Key
	}
}

func setDefault[T comparable](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Live
	if cfg.Live.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("live.connect_timeout %v must not be negative", cfg.Live.ConnectTimeout))
	}
	if cfg.Live.Keepalive < 0 {
		errs = append(errs, fmt.Errorf("live.keepalive %v must not be negative", cfg.Live.Keepalive))
	}
	if cfg.Live.DialFailures < 0 {
		errs = append(errs, fmt.Errorf("live.dial_failures %d must not be negative", cfg.Live.DialFailures))
	}
	if cfg.Live.DialCooldown < 0 {
		errs = append(errs, fmt.Errorf("live.dial_cooldown %v must not be negative", cfg.Live.DialCooldown))
	}
	if cfg.Live.ReadLimit < 0 {
		errs = append(errs, fmt.Errorf("live.read_limit %d must not be negative", cfg.Live.ReadLimit))
	}
	if cfg.Live.ResolveAPIKey() == "" {
		slog.Warn("no API key configured; set live.api_key or " + APIKeyEnv + " before starting a session")
	}

	// Audio
	for name, v := range map[string]int{
		"audio.capture.rate":       cfg.Audio.Capture.Rate,
		"audio.capture.frame_size": cfg.Audio.Capture.FrameSize,
		"audio.playback_rate":      cfg.Audio.PlaybackRate,
		"audio.capture_wire_rate":  cfg.Audio.CaptureWireRate,
		"audio.playback_wire_rate": cfg.Audio.PlaybackWireRate,
		"audio.outbox_depth":       cfg.Audio.OutboxDepth,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", name, v))
		}
	}

	// Barge-in
	b := cfg.BargeIn
	if b.SpeechThreshold < 0 || b.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("bargein.speech_threshold %v is out of range [0, 1]", b.SpeechThreshold))
	}
	if b.SilenceThreshold < 0 || b.SilenceThreshold > b.SpeechThreshold {
		errs = append(errs, fmt.Errorf("bargein.silence_threshold %v must be in [0, speech_threshold]", b.SilenceThreshold))
	}
	if b.TailWindow < 0 {
		errs = append(errs, fmt.Errorf("bargein.tail_window %v must not be negative", b.TailWindow))
	}

	// User
	if _, err := cfg.User.Location(); err != nil {
		errs = append(errs, fmt.Errorf("user.timezone %q: %w", cfg.User.Timezone, err))
	}

	// Personas
	if len(cfg.Personas.Entries) == 0 {
		errs = append(errs, errors.New("personas.entries must define at least one persona"))
	}
	seen := make(map[string]int, len(cfg.Personas.Entries))
	for i, p := range cfg.Personas.Entries {
		prefix := fmt.Sprintf("personas.entries[%d]", i)
		if p.Key == "" {
			errs = append(errs, fmt.Errorf("%s.key is required", prefix))
		} else {
			if prev, ok := seen[p.Key]; ok {
				errs = append(errs, fmt.Errorf("%s.key %q is a duplicate of personas.entries[%d]", prefix, p.Key, prev))
			}
			seen[p.Key] = i
		}
		for _, t := range p.Tools {
			if !tools.Known(t) {
				errs = append(errs, fmt.Errorf("%s.tools: unknown tool %q; valid values: %v", prefix, t, tools.Names()))
			}
		}
		if p.Voice == "" {
			slog.Warn("persona has no voice; the service default will be used", "persona", p.Key)
		}
	}
	if len(cfg.Personas.Entries) > 0 {
		if _, ok := seen[cfg.Personas.Default]; !ok {
			errs = append(errs, fmt.Errorf("personas.default %q does not name a persona", cfg.Personas.Default))
		}
	}

	return errors.Join(errs...)
}
