package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/parley/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server:     config.ServerConfig{LogLevel: config.LogInfo},
		Connection: config.ConnectionConfig{URL: "wss://a", DeviceID: "d", ClientID: "c1"},
		Session:    config.SessionConfig{Mode: config.ModeAuto},
		Audio:      config.AudioConfig{Backend: config.BackendMalgo, CaptureSampleRate: 16000},
		Playback:   config.PlaybackConfig{Batch: 3},
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(*config.Config)
		wantLevel   config.LogLevel
		wantMode    config.Mode
		wantRestart []string
	}{
		{name: "identical", mutate: func(*config.Config) {}},
		{
			name:      "log level",
			mutate:    func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			wantLevel: config.LogDebug,
		},
		{
			name:     "mode",
			mutate:   func(c *config.Config) { c.Session.Mode = config.ModeManual },
			wantMode: config.ModeManual,
		},
		{
			name:   "regenerated client id is ignored",
			mutate: func(c *config.Config) { c.Connection.ClientID = "c2" },
		},
		{
			name:        "connection url",
			mutate:      func(c *config.Config) { c.Connection.URL = "wss://b" },
			wantRestart: []string{"connection"},
		},
		{
			name: "restart sections",
			mutate: func(c *config.Config) {
				c.Audio.CaptureSampleRate = 24000
				c.Playback.Batch = 5
				c.Reconnect.Enabled = true
				c.Server.HealthAddr = ":9090"
			},
			wantRestart: []string{"server.health_addr", "audio", "playback", "reconnect"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			tt.mutate(new)
			d := config.Diff(old, new)

			if d.LogLevelChanged != (tt.wantLevel != "") || d.NewLogLevel != tt.wantLevel {
				t.Errorf("log level: changed=%v new=%q, want %q", d.LogLevelChanged, d.NewLogLevel, tt.wantLevel)
			}
			if d.ModeChanged != (tt.wantMode != "") || d.NewMode != tt.wantMode {
				t.Errorf("mode: changed=%v new=%q, want %q", d.ModeChanged, d.NewMode, tt.wantMode)
			}
			if !slices.Equal(d.RestartRequired, tt.wantRestart) {
				t.Errorf("restart = %v, want %v", d.RestartRequired, tt.wantRestart)
			}
			wantEmpty := tt.wantLevel == "" && tt.wantMode == "" && len(tt.wantRestart) == 0
			if d.Empty() != wantEmpty {
				t.Errorf("Empty() = %v, want %v", d.Empty(), wantEmpty)
			}
		})
	}
}
