// Package config provides the configuration schema, loader, hot-reload diff,
// and file watcher for the parley voice client.
package config

import "time"

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

// Mode selects how listening turns start.
type Mode string

const (
	// ModeAuto listens again whenever the assistant stops speaking.
	ModeAuto Mode = "auto"

	// ModeManual listens only while the operator engages.
	ModeManual Mode = "manual"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	return m == ModeAuto || m == ModeManual
}

// Backend selects the audio device implementation.
type Backend string

const (
	// BackendMalgo uses the system's default capture and playback devices.
	BackendMalgo Backend = "malgo"

	// BackendStream reads raw PCM from a file or stdin and writes received
	// audio to a file or stdout.
	BackendStream Backend = "stream"
)

// IsValid reports whether b is a recognised backend.
func (b Backend) IsValid() bool {
	return b == BackendMalgo || b == BackendStream
}

// Config is the root configuration structure. It is loaded from YAML with
// [Load] or [LoadFromReader]; credentials may come from the environment.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Connection ConnectionConfig `yaml:"connection"`
	Session    SessionConfig    `yaml:"session"`
	Audio      AudioConfig      `yaml:"audio"`
	Playback   PlaybackConfig   `yaml:"playback"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
}

// ServerConfig holds logging and the optional health side channel.
type ServerConfig struct {
	LogLevel LogLevel `yaml:"log_level"`

	// HealthAddr is the TCP address for /healthz, /readyz and /metrics
	// (e.g. ":9090"). Empty disables the side channel.
	HealthAddr string `yaml:"health_addr"`
}

// ConnectionConfig identifies the device to the voice service.
type ConnectionConfig struct {
	// URL is the WebSocket endpoint, ws:// or wss://.
	URL string `yaml:"url"`

	// AccessToken is sent as a Bearer token. PARLEY_ACCESS_TOKEN overrides it.
	AccessToken string `yaml:"access_token"`

	// DeviceID is usually the device's MAC address.
	DeviceID string `yaml:"device_id"`

	// ClientID identifies this installation. A random UUID is generated
	// when empty.
	ClientID string `yaml:"client_id"`

	ProtocolVersion int `yaml:"protocol_version"`

	DialTimeout       time.Duration `yaml:"dial_timeout"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

// SessionConfig controls turn-taking.
type SessionConfig struct {
	Mode Mode `yaml:"mode"`

	// WakePhrase, when set, is reported as a detected wake word once the
	// first session is ready.
	WakePhrase string `yaml:"wake_phrase"`
}

// AudioConfig fixes the audio geometry for the lifetime of the process.
type AudioConfig struct {
	Backend            Backend `yaml:"backend"`
	CaptureSampleRate  int     `yaml:"capture_sample_rate"`
	PlaybackSampleRate int     `yaml:"playback_sample_rate"`
	Channels           int     `yaml:"channels"`
	FrameDurationMs    int     `yaml:"frame_duration_ms"`

	// Stream configures [BackendStream]. "-" means stdin or stdout.
	Stream StreamConfig `yaml:"stream"`
}

// StreamConfig configures file or pipe based audio.
type StreamConfig struct {
	Input string `yaml:"input"`

	// InputSampleRate is the rate of the raw PCM in Input. Defaults to the
	// capture rate; other rates are resampled.
	InputSampleRate int    `yaml:"input_sample_rate"`
	Output          string `yaml:"output"`
}

// FrameDuration returns FrameDurationMs as a [time.Duration].
func (a AudioConfig) FrameDuration() time.Duration {
	return time.Duration(a.FrameDurationMs) * time.Millisecond
}

// PlaybackConfig tunes the receive side.
type PlaybackConfig struct {
	// JitterCapacity bounds the decoded frame queue. The oldest frame is
	// dropped when it is full.
	JitterCapacity int `yaml:"jitter_capacity"`

	// Preroll is how long the playback loop waits before its first write
	// after the sink starts.
	Preroll time.Duration `yaml:"preroll"`

	// Batch is the number of frames pulled from the jitter buffer per pass.
	Batch int `yaml:"batch"`

	// Idle is the sleep between passes when no frames are buffered.
	Idle time.Duration `yaml:"idle"`

	// HighWater is the fraction of sink capacity above which the sink
	// backlog is cleared.
	HighWater float64 `yaml:"high_water"`

	// SinkCapacityMs is the playback device backlog in milliseconds.
	SinkCapacityMs int `yaml:"sink_capacity_ms"`
}

// ReconnectConfig enables automatic reconnection after unexpected
// disconnects. Disabled by default; the operator reconnects by engaging.
type ReconnectConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}
