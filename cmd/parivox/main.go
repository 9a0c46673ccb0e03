// Command parivox runs a realtime voice session against the Gemini Live
// service from the host microphone and speaker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/parivox/internal/config"
	"github.com/MrWong99/parivox/internal/health"
	"github.com/MrWong99/parivox/internal/observe"
	"github.com/MrWong99/parivox/internal/persona"
	"github.com/MrWong99/parivox/internal/resilience"
	"github.com/MrWong99/parivox/internal/session"
	"github.com/MrWong99/parivox/internal/workspace"
	"github.com/MrWong99/parivox/pkg/audio"
	"github.com/MrWong99/parivox/pkg/audio/ffmpeg"
	"github.com/MrWong99/parivox/pkg/live"
	"github.com/MrWong99/parivox/pkg/vad"
	"github.com/MrWong99/parivox/pkg/vad/energy"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the config")
	autostart := flag.Bool("autostart", false, "start a session with the default persona immediately")
	flag.Parse()

	// ── Environment ────────────────────────────────────────────────────────────
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "parivox: load %s: %v\n", *envPath, err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// ── Configuration (hot-reloaded) ──────────────────────────────────────────
	var personas atomic.Pointer[persona.Registry]
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(level, personas.Load(), old, new)
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parivox: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parivox: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()
	cfg := watcher.Current()
	level.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("parivox starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "parivox",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Domain wiring ─────────────────────────────────────────────────────────
	catalog, err := persona.NewRegistry(cfg.Personas.Build(), cfg.Personas.Default)
	if err != nil {
		slog.Error("invalid persona catalog", "err", err)
		return 1
	}
	personas.Store(catalog)

	reg := config.NewRegistry()
	registerBackends(reg)
	devices, err := reg.CreateDevices(cfg.Audio)
	if err != nil {
		slog.Error("failed to create audio devices", "err", err)
		return 1
	}
	vadEngine, err := reg.CreateVAD(cfg.BargeIn)
	if err != nil {
		slog.Error("failed to create vad engine", "err", err)
		return 1
	}

	loc, err := cfg.User.Location()
	if err != nil {
		slog.Error("invalid timezone", "err", err)
		return 1
	}

	ws := workspace.New(workspace.Profile{
		Name:    cfg.User.Name,
		Age:     cfg.User.Age,
		Gender:  cfg.User.Gender,
		Summary: cfg.User.Summary,
	})

	dialBreaker := resilience.NewBreaker(resilience.Config{
		Name:        "live-dial",
		MaxFailures: cfg.Live.DialFailures,
		Cooldown:    cfg.Live.DialCooldown,
	})
	ctrl := session.New(session.Config{
		Transport: resilience.GuardTransport(newDialer(cfg.Live), dialBreaker),
		Devices:   devices,
		VAD:       vadEngine,
		VADConfig: vad.Config{
			SpeechThreshold:  cfg.BargeIn.SpeechThreshold,
			SilenceThreshold: cfg.BargeIn.SilenceThreshold,
		},
		Personas:         catalog,
		Workspace:        ws,
		Model:            cfg.Live.Model,
		Location:         loc,
		ConnectTimeout:   cfg.Live.ConnectTimeout,
		TailWindow:       cfg.BargeIn.TailWindow,
		CaptureWireRate:  cfg.Audio.CaptureWireRate,
		PlaybackWireRate: cfg.Audio.PlaybackWireRate,
		OutboxDepth:      cfg.Audio.OutboxDepth,
		Metrics:          metrics,
	})
	go logEvents(ctrl.Events())

	// ── Ops server ────────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", telemetry.Handler())
	mux.Handle("GET /workspace", ws)
	mux.HandleFunc("POST /workspace/tasks/{id}/toggle", ws.ServeToggleTask)
	health.New(
		health.SessionChecker(ctrl),
		health.ConfigChecker(func() bool { return watcher.Current() != nil }),
	).Register(mux)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	printStartupSummary(cfg)

	if *autostart {
		if err := ctrl.Start(ctx, ""); err != nil {
			slog.Error("autostart failed", "err", err)
		}
	}

	// ── Console loop ──────────────────────────────────────────────────────────
	con := newConsole(ctrl, catalog, dialBreaker, os.Stdout)
	lines := readLines(os.Stdin)
	exitCode := 0
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-serveErr:
			slog.Error("ops server failed", "err", err)
			exitCode = 1
			break loop
		case line, ok := <-lines:
			if !ok || !con.handle(ctx, line) {
				break loop
			}
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := errors.Join(
		ctrl.Stop(shutdownCtx),
		srv.Shutdown(shutdownCtx),
		telemetry.Shutdown(shutdownCtx),
	); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exitCode
}

// registerBackends wires the built-in audio and VAD backends into reg.
func registerBackends(reg *config.Registry) {
	reg.RegisterDevices("ffmpeg", func(c config.AudioConfig) (audio.Devices, error) {
		return ffmpeg.New(ffmpeg.Config{
			InputFormat:  c.Capture.Format,
			InputDevice:  c.Capture.Device,
			CaptureRate:  c.Capture.Rate,
			FrameSize:    c.Capture.FrameSize,
			PlaybackRate: c.PlaybackRate,
			Tick:         c.PlaybackTick,
		}), nil
	})
	reg.RegisterVAD("energy", func(config.BargeInConfig) (vad.Engine, error) {
		return energy.New(), nil
	})
}

func newDialer(c config.LiveConfig) *live.Dialer {
	opts := []live.Option{live.WithKeepalive(c.Keepalive)}
	if c.BaseURL != "" {
		opts = append(opts, live.WithBaseURL(c.BaseURL))
	}
	if c.APIVersion != "" {
		opts = append(opts, live.WithAPIVersion(c.APIVersion))
	}
	if c.ReadLimit > 0 {
		opts = append(opts, live.WithReadLimit(c.ReadLimit))
	}
	return live.NewDialer(c.ResolveAPIKey(), opts...)
}

// applyReload pushes the hot-reloadable parts of a new config into the
// running process. Sessions already connected keep their persona.
func applyReload(level *slog.LevelVar, personas *persona.Registry, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if personas != nil && (d.PersonasChanged || d.DefaultChanged) {
		if err := personas.Replace(new.Personas.Build(), new.Personas.Default); err != nil {
			slog.Warn("persona reload rejected", "err", err)
		} else {
			slog.Info("persona catalog reloaded", "changes", len(d.PersonaChanges), "default", new.Personas.Default)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that need a restart", "sections", d.RestartRequired)
	}
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func logEvents(events <-chan session.Event) {
	for ev := range events {
		switch ev.Type {
		case session.EventTranscript:
			slog.Info("transcript", "session_id", ev.SessionID, "persona", ev.Persona, "role", ev.Role, "text", ev.Text)
		case session.EventSessionFailed:
			slog.Error("session failed", "session_id", ev.SessionID, "persona", ev.Persona, "err", ev.Err)
		case session.EventPersonaChanged:
			slog.Info("persona changed", "persona", ev.Persona)
		default:
			slog.Debug("session event", "type", ev.Type, "state", ev.State)
		}
	}
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║               parivox                    ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Default persona : %-21s ║\n", cfg.Personas.Default)
	fmt.Printf("║  Personas        : %-21d ║\n", len(cfg.Personas.Entries))
	fmt.Printf("║  Audio backend   : %-21s ║\n", cfg.Audio.Backend)
	fmt.Printf("║  Ops server      : %-21s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚══════════════════════════════════════════╝")
	fmt.Println("commands: start [persona] | stop | switch <persona> | status | personas | reset | quit")
}
