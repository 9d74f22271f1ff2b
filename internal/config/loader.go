package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the YAML file. They are typically
// set from a .env file loaded by the binary at startup.
const (
	EnvAccessToken = "PARLEY_ACCESS_TOKEN"
	EnvURL         = "PARLEY_URL"
	EnvDeviceID    = "PARLEY_DEVICE_ID"
)

// Opus accepts these sample rates and frame durations.
var (
	validSampleRates    = map[int]bool{8000: true, 12000: true, 16000: true, 24000: true, 48000: true}
	validFrameDurations = map[int]bool{10: true, 20: true, 40: true, 60: true}
)

// Load reads the YAML configuration file at path, applies environment
// overrides and defaults, and validates the result.
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

// LoadFromReader decodes a YAML config from r, applies environment
// overrides from the process environment and defaults, and validates it.
// An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides credentials and endpoint from the environment. lookup
// has the signature of [os.LookupEnv]; set but empty variables are ignored.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	for _, o := range []struct {
		key string
		dst *string
	}{
		{EnvAccessToken, &cfg.Connection.AccessToken},
		{EnvURL, &cfg.Connection.URL},
		{EnvDeviceID, &cfg.Connection.DeviceID},
	} {
		if v, ok := lookup(o.key); ok && v != "" {
			*o.dst = v
		}
	}
}

// ApplyDefaults fills every unset field. A missing Client-Id gets a fresh
// random UUID.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.LogLevel, LogInfo)

	c := &cfg.Connection
	setDefault(&c.ClientID, uuid.NewString())
	setDefault(&c.ProtocolVersion, 1)
	setDefault(&c.DialTimeout, 10*time.Second)
	setDefault(&c.HandshakeTimeout, 10*time.Second)
	setDefault(&c.KeepaliveInterval, 20*time.Second)

	setDefault(&cfg.Session.Mode, ModeAuto)

	a := &cfg.Audio
	setDefault(&a.Backend, BackendMalgo)
	setDefault(&a.CaptureSampleRate, 16000)
	setDefault(&a.PlaybackSampleRate, 24000)
	setDefault(&a.Channels, 1)
	setDefault(&a.FrameDurationMs, 60)
	setDefault(&a.Stream.InputSampleRate, a.CaptureSampleRate)

	p := &cfg.Playback
	setDefault(&p.JitterCapacity, 20)
	setDefault(&p.Preroll, 300*time.Millisecond)
	setDefault(&p.Batch, 3)
	setDefault(&p.Idle, 10*time.Millisecond)
	setDefault(&p.HighWater, 0.8)
	setDefault(&p.SinkCapacityMs, 2000)

	rc := &cfg.Reconnect
	setDefault(&rc.MaxRetries, 5)
	setDefault(&rc.Backoff, time.Second)
	setDefault(&rc.MaxBackoff, 30*time.Second)
}

func setDefault[T comparable](dst *T, v T) {
	var zero T
	if *dst == zero {
		*dst = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	c := cfg.Connection
	if c.URL == "" {
		errs = append(errs, fmt.Errorf("connection.url is required (or set %s)", EnvURL))
	} else if u, err := url.Parse(c.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("connection.url %q must be a ws:// or wss:// URL", c.URL))
	}
	if c.DeviceID == "" {
		errs = append(errs, fmt.Errorf("connection.device_id is required (or set %s)", EnvDeviceID))
	}
	if c.ProtocolVersion < 0 {
		errs = append(errs, fmt.Errorf("connection.protocol_version %d must not be negative", c.ProtocolVersion))
	}
	for name, d := range map[string]time.Duration{
		"dial_timeout":       c.DialTimeout,
		"handshake_timeout":  c.HandshakeTimeout,
		"keepalive_interval": c.KeepaliveInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("connection.%s %s must not be negative", name, d))
		}
	}

	if cfg.Session.Mode != "" && !cfg.Session.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("session.mode %q is invalid; valid values: auto, manual", cfg.Session.Mode))
	}

	a := cfg.Audio
	if a.Backend != "" && !a.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: malgo, stream", a.Backend))
	}
	for name, rate := range map[string]int{
		"capture_sample_rate":  a.CaptureSampleRate,
		"playback_sample_rate": a.PlaybackSampleRate,
	} {
		if rate != 0 && !validSampleRates[rate] {
			errs = append(errs, fmt.Errorf("audio.%s %d is not an Opus rate (8000, 12000, 16000, 24000, 48000)", name, rate))
		}
	}
	if a.Channels < 0 || a.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is out of range [1, 2]", a.Channels))
	}
	if a.FrameDurationMs != 0 && !validFrameDurations[a.FrameDurationMs] {
		errs = append(errs, fmt.Errorf("audio.frame_duration_ms %d is invalid; valid values: 10, 20, 40, 60", a.FrameDurationMs))
	}
	if a.Stream.InputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.stream.input_sample_rate %d must not be negative", a.Stream.InputSampleRate))
	}
	if a.Backend == BackendStream && a.Stream.Input == "" && a.Stream.Output == "" {
		errs = append(errs, errors.New("audio.stream needs input or output when backend is stream"))
	}

	p := cfg.Playback
	if p.JitterCapacity < 0 || p.Batch < 0 || p.SinkCapacityMs < 0 {
		errs = append(errs, errors.New("playback.jitter_capacity, batch and sink_capacity_ms must not be negative"))
	}
	if p.Preroll < 0 || p.Idle < 0 {
		errs = append(errs, errors.New("playback.preroll and idle must not be negative"))
	}
	if p.HighWater < 0 || p.HighWater > 1 {
		errs = append(errs, fmt.Errorf("playback.high_water %.2f is out of range [0, 1]", p.HighWater))
	}

	rc := cfg.Reconnect
	if rc.MaxRetries < 0 || rc.Backoff < 0 || rc.MaxBackoff < 0 {
		errs = append(errs, errors.New("reconnect.max_retries, backoff and max_backoff must not be negative"))
	}
	if rc.MaxBackoff > 0 && rc.Backoff > rc.MaxBackoff {
		errs = append(errs, fmt.Errorf("reconnect.backoff %s exceeds max_backoff %s", rc.Backoff, rc.MaxBackoff))
	}

	return errors.Join(errs...)
}
