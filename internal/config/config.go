// Package config provides the configuration schema, loader, hot-reload
// watcher, and backend registry for the Parivox voice assistant.
package config

import (
	"os"
	"time"
	_ "time/tzdata" // user.timezone must resolve without host zoneinfo

	"github.com/MrWong99/parivox/internal/persona"
)

// APIKeyEnv is the environment variable consulted when live.api_key is empty.
const APIKeyEnv = "GEMINI_API_KEY"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Parivox.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Live     LiveConfig     `yaml:"live"`
	Audio    AudioConfig    `yaml:"audio"`
	BargeIn  BargeInConfig  `yaml:"bargein"`
	User     UserConfig     `yaml:"user"`
	Personas PersonasConfig `yaml:"personas"`
}

// ServerConfig holds the ops HTTP server and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the ops server (metrics, probes,
	// workspace). Default: ":9090".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`
}

// LiveConfig configures the connection to the remote speech service.
type LiveConfig struct {
	// APIKey authenticates the WebSocket. Falls back to $GEMINI_API_KEY.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the WebSocket root. Leave empty for the public
	// endpoint.
	BaseURL string `yaml:"base_url"`

	// APIVersion selects the service version segment (e.g. "v1alpha").
	APIVersion string `yaml:"api_version"`

	// Model is the native-audio model resource name.
	Model string `yaml:"model"`

	// ConnectTimeout bounds dialing and the setup handshake. Default: 15s.
	// Zero removes the bound.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// Keepalive is the WebSocket ping interval. Default: 20s. Zero disables
	// pings.
	Keepalive time.Duration `yaml:"keepalive"`

	// ReadLimit is the maximum inbound message size in bytes. Zero keeps the
	// transport default.
	ReadLimit int64 `yaml:"read_limit"`

	// DialFailures is the number of consecutive failed dials after which
	// further starts fail fast until DialCooldown has passed. Default: 3.
	DialFailures int `yaml:"dial_failures"`

	// DialCooldown is how long starts fail fast. Default: 30s.
	DialCooldown time.Duration `yaml:"dial_cooldown"`
}

// ResolveAPIKey returns APIKey, or the value of [APIKeyEnv] when it is empty.
func (l LiveConfig) ResolveAPIKey() string {
	if l.APIKey != "" {
		return l.APIKey
	}
	return os.Getenv(APIKeyEnv)
}

// AudioConfig selects the audio backend and the wire formats.
type AudioConfig struct {
	// Backend names a devices factory in the [Registry]. Default: "ffmpeg".
	Backend string `yaml:"backend"`

	Capture CaptureConfig `yaml:"capture"`

	// PlaybackRate is the speaker rate in Hz. Default: 24000.
	PlaybackRate int `yaml:"playback_rate"`

	// PlaybackTick is how much audio the speaker writes per step. Default: 20ms.
	PlaybackTick time.Duration `yaml:"playback_tick"`

	// CaptureWireRate is the outbound wire rate in Hz. Default: 16000.
	CaptureWireRate int `yaml:"capture_wire_rate"`

	// PlaybackWireRate is the inbound wire rate in Hz. Default: 24000.
	PlaybackWireRate int `yaml:"playback_wire_rate"`

	// OutboxDepth is the number of encoded chunks buffered between capture
	// and the transport before the oldest is dropped. Default: 8.
	OutboxDepth int `yaml:"outbox_depth"`
}

// CaptureConfig describes the microphone.
type CaptureConfig struct {
	// Format is the capture demuxer ("pulse", "alsa", "avfoundation"). Empty
	// picks one for the host OS.
	Format string `yaml:"format"`

	// Device is the capture device name. Empty picks the OS default.
	Device string `yaml:"device"`

	// Rate is the native capture rate in Hz. Default: 48000.
	Rate int `yaml:"rate"`

	// FrameSize is the number of samples per frame. Default: 4096.
	FrameSize int `yaml:"frame_size"`
}

// BargeInConfig tunes speech detection and the tail suppression window.
type BargeInConfig struct {
	// VAD names a VAD engine factory in the [Registry]. Default: "energy".
	VAD string `yaml:"vad"`

	// SpeechThreshold is the RMS level that counts as speech. Default: 0.02.
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// SilenceThreshold is the RMS level that ends speech. Default: 0.01.
	// Zero is honoured.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// TailWindow is how long inbound audio is refused after the last voiced
	// frame. Default: 1500ms. Zero also selects the default; the window
	// cannot be turned off.
	TailWindow time.Duration `yaml:"tail_window"`
}

// UserConfig seeds the workspace profile.
type UserConfig struct {
	Name    string `yaml:"name"`
	Age     string `yaml:"age"`
	Gender  string `yaml:"gender"`
	Summary string `yaml:"summary"`

	// Timezone is an IANA zone name for the date sent to the model. Empty
	// means the host's local zone.
	Timezone string `yaml:"timezone"`
}

// Location resolves Timezone.
func (u UserConfig) Location() (*time.Location, error) {
	if u.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(u.Timezone)
}

// PersonasConfig is the persona catalog.
type PersonasConfig struct {
	// Default is the key of the persona sessions start with and transfers
	// fall back to.
	Default string `yaml:"default"`

	Entries []PersonaConfig `yaml:"entries"`
}

// PersonaConfig describes one voice agent.
type PersonaConfig struct {
	// Key identifies the persona. Required and unique.
	Key string `yaml:"key"`

	// Name is the display name the model is told to be. Default: Key.
	Name string `yaml:"name"`

	// Voice is the prebuilt voice name.
	Voice string `yaml:"voice"`

	// Instruction is the system instruction.
	Instruction string `yaml:"instruction"`

	// Tools lists the tool names offered to the model.
	Tools []string `yaml:"tools"`

	// Aliases are keywords that route a transfer request to this persona.
	Aliases []string `yaml:"aliases"`
}

// Build converts the catalog into registry entries.
func (p PersonasConfig) Build() []persona.Persona {
	out := make([]persona.Persona, len(p.Entries))
	for i, e := range p.Entries {
		out[i] = persona.Persona{
			Key:         e.Key,
			Name:        e.Name,
			Voice:       e.Voice,
			Instruction: e.Instruction,
			Tools:       append([]string(nil), e.Tools...),
			Aliases:     append([]string(nil), e.Aliases...),
		}
	}
	return out
}
