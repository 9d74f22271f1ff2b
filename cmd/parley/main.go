// Command parley is a real-time voice client: it streams microphone audio to
// a conversational voice service over WebSocket and plays the spoken replies.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/iot"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/protocol"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/transport"
	"github.com/MrWong99/parley/pkg/audio/opus"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	console := flag.Bool("console", true, "read operator commands from stdin")
	flag.Parse()

	// A .env next to the binary may carry PARLEY_ACCESS_TOKEN and friends.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	var onChange func(d config.ConfigDiff)
	watcher, err := config.NewWatcher(*configPath, func(d config.ConfigDiff, _ *config.Config) { onChange(d) })
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parley: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("parley starting",
		"version", version,
		"config", *configPath,
		"url", cfg.Connection.URL,
		"device_id", cfg.Connection.DeviceID,
		"mode", cfg.Session.Mode,
		"backend", cfg.Audio.Backend,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		DeviceID:       cfg.Connection.DeviceID,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Audio ─────────────────────────────────────────────────────────────────
	dev, err := openDevices(cfg.Audio, cfg.Playback)
	if err != nil {
		slog.Error("failed to open audio devices", "err", err)
		return 1
	}
	defer dev.close()

	enc, err := opus.NewEncoder(opus.Params{
		SampleRate:    cfg.Audio.CaptureSampleRate,
		Channels:      cfg.Audio.Channels,
		FrameDuration: cfg.Audio.FrameDuration(),
	})
	if err != nil {
		slog.Error("failed to create encoder", "err", err)
		return 1
	}
	playFormat := dev.playFormat
	dec, err := opus.NewDecoder(opus.Params{
		SampleRate:    playFormat.SampleRate,
		Channels:      playFormat.Channels,
		FrameDuration: cfg.Audio.FrameDuration(),
	})
	if err != nil {
		slog.Error("failed to create decoder", "err", err)
		return 1
	}

	// ── Devices exposed to the assistant ──────────────────────────────────────
	lamp := &iot.Lamp{}
	speaker := iot.NewSpeaker(100)
	things, err := iot.NewRegistry(lamp.Thing(), speaker.Thing())
	if err != nil {
		slog.Error("failed to register devices", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	conn := cfg.Connection
	dialer := transport.NewWebSocketDialer(conn.URL, transport.Identity{
		AccessToken:     conn.AccessToken,
		DeviceID:        conn.DeviceID,
		ClientID:        conn.ClientID,
		ProtocolVersion: conn.ProtocolVersion,
	},
		transport.WithDialTimeout(conn.DialTimeout),
		transport.WithKeepalive(conn.KeepaliveInterval),
		transport.WithCircuitBreaker(5, 30*time.Second),
	)

	application, err := app.New(app.Deps{
		Dialer:   dialer,
		Capture:  dev.capture,
		Playback: dev.playback,
		Encoder:  enc,
		Decoder:  dec,
	},
		app.WithMode(session.Mode(cfg.Session.Mode)),
		app.WithBridge(things),
		app.WithClientHello(protocol.NewClientHello(
			conn.ProtocolVersion, cfg.Audio.CaptureSampleRate, cfg.Audio.Channels, cfg.Audio.FrameDurationMs)),
		app.WithHandshakeTimeout(conn.HandshakeTimeout),
		app.WithWakePhrase(cfg.Session.WakePhrase),
		app.WithPlayback(app.PlaybackConfig{
			JitterCapacity: cfg.Playback.JitterCapacity,
			Preroll:        cfg.Playback.Preroll,
			Batch:          cfg.Playback.Batch,
			Idle:           cfg.Playback.Idle,
			HighWater:      cfg.Playback.HighWater,
			Format:         playFormat,
		}),
		app.WithReconnect(app.ReconnectConfig{
			Enabled:    cfg.Reconnect.Enabled,
			MaxRetries: cfg.Reconnect.MaxRetries,
			Backoff:    cfg.Reconnect.Backoff,
			MaxBackoff: cfg.Reconnect.MaxBackoff,
		}),
		app.WithVolume(speaker.Volume),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	onChange = func(d config.ConfigDiff) {
		applyReload(d, level, application.Machine())
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return application.Run(gctx) })
	g.Go(func() error { return watcher.Run(gctx) })
	g.Go(func() error {
		reloadOnHangup(gctx, watcher)
		return nil
	})
	if addr := cfg.Server.HealthAddr; addr != "" {
		h := health.New(
			health.Checker{Name: "session", Check: application.Ready},
		)
		g.Go(func() error { return health.Serve(gctx, addr, h, observe.DefaultMetrics()) })
	}
	if *console && !dev.usesStdin {
		g.Go(func() error {
			err := runConsole(gctx, os.Stdin, os.Stderr, application.Machine())
			if errors.Is(err, errQuit) {
				stop()
				return nil
			}
			return err
		})
	}

	slog.Info("client ready; press Enter to talk, /quit or Ctrl+C to exit")

	<-gctx.Done()
	slog.Info("shutdown signal received, stopping…")

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	code := 0
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	watcher.Stop()
	stop()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}
	slog.Info("goodbye")
	return code
}

// reloadOnHangup re-reads the config file on each SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			slog.Info("SIGHUP received, reloading config")
			w.Reload()
		}
	}
}

// applyReload applies the hot-reloadable parts of a config change and warns
// about the rest.
func applyReload(d config.ConfigDiff, level *slog.LevelVar, m *session.Machine) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ModeChanged {
		m.SetMode(context.Background(), session.Mode(d.NewMode))
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "fields", d.RestartRequired)
	}
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
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
