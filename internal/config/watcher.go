package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// fingerprint identifies one version of the file on disk without reading it.
type fingerprint struct {
	size    int64
	modTime time.Time
}

func stat(path string) (fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fingerprint{}, err
	}
	return fingerprint{size: info.Size(), modTime: info.ModTime()}, nil
}

// Watcher keeps the running client in step with its config file. The file
// is re-read when its size or modification time changes, or on [Watcher.Reload].
// A new version that validates and differs from the current config in any
// tracked field is handed to onChange as a [ConfigDiff]. Invalid versions are
// logged once and the last good config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(d ConfigDiff, cfg *Config)

	mu      sync.Mutex
	current *Config
	seen    fingerprint

	reload   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once and returns a watcher for it. Polling starts
// with [Watcher.Run]. onChange may be nil.
func NewWatcher(path string, onChange func(d ConfigDiff, cfg *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		reload:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	fp, err := stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.seen = cfg, fp
	return w, nil
}

// Current returns the most recently applied config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload asks Run to re-read the file now, regardless of its fingerprint.
// It never blocks; requests made while one is pending are merged.
func (w *Watcher) Reload() {
	select {
	case w.reload <- struct{}{}:
	default:
	}
}

// Run polls until ctx ends or Stop is called.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			return nil
		case <-w.reload:
			w.check(true)
		case <-ticker.C:
			w.check(false)
		}
	}
}

// Stop ends Run. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) check(force bool) {
	fp, err := stat(w.path)
	if err != nil {
		slog.Warn("config: watcher stat failed", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	seen := w.seen
	w.seen = fp
	w.mu.Unlock()
	if fp == seen && !force {
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		slog.Warn("config: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	d := Diff(w.current, cfg)
	if d.Empty() {
		w.mu.Unlock()
		slog.Debug("config: file changed without effect", "path", w.path)
		return
	}
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config: reloaded", "path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"mode_changed", d.ModeChanged,
		"restart_required", d.RestartRequired,
	)
	if w.onChange != nil {
		w.onChange(d, cfg)
	}
}
