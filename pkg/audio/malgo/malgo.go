// Package malgo implements the audio device interfaces on top of miniaudio
// through github.com/gen2brain/malgo, giving the client access to the system
// default microphone and speaker.
package malgo

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/parley/pkg/audio"
)

var (
	_ audio.CaptureSource = (*Capture)(nil)
	_ audio.PlaybackSink  = (*Playback)(nil)
)

// Host owns the miniaudio context shared by all devices.
type Host struct {
	ctx *malgo.AllocatedContext
}

// NewHost initialises miniaudio with the platform's default backends.
func NewHost() (*Host, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("malgo: " + msg)
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	return &Host{ctx: ctx}, nil
}

// Close releases the miniaudio context. Devices must be closed first.
func (h *Host) Close() error {
	if h.ctx == nil {
		return nil
	}
	err := h.ctx.Uninit()
	h.ctx.Free()
	h.ctx = nil
	if err != nil {
		return fmt.Errorf("malgo: uninit context: %w", err)
	}
	return nil
}

// ── Capture ──────────────────────────────────────────────────────────────────

// Capture records from the default input device and slices the callback
// stream into frames of a fixed duration.
type Capture struct {
	host   *Host
	format audio.Format
	frame  time.Duration
	frames chan audio.AudioFrame

	mu        sync.Mutex
	dev       *malgo.Device
	pending   []byte
	ts        time.Duration
	recording bool
	closed    bool
	err       error
}

// NewCapture prepares a capture source. The device is opened on first Start.
func NewCapture(h *Host, format audio.Format, frame time.Duration) *Capture {
	return &Capture{
		host:   h,
		format: format,
		frame:  frame,
		frames: make(chan audio.AudioFrame, 8),
	}
}

// Start implements [audio.CaptureSource].
func (c *Capture) Start() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("malgo: start capture: %w", audio.ErrDeviceUnavailable)
	}
	if c.recording {
		c.mu.Unlock()
		return nil
	}
	if c.dev == nil {
		cfg := malgo.DefaultDeviceConfig(malgo.Capture)
		cfg.Capture.Format = malgo.FormatS16
		cfg.Capture.Channels = uint32(c.format.Channels)
		cfg.SampleRate = uint32(c.format.SampleRate)
		cfg.Alsa.NoMMap = 1
		dev, err := malgo.InitDevice(c.host.ctx.Context, cfg, malgo.DeviceCallbacks{Data: c.onData})
		if err != nil {
			c.err = fmt.Errorf("malgo: open capture device: %w", err)
			c.mu.Unlock()
			return c.err
		}
		c.dev = dev
	}
	dev := c.dev
	c.recording = true
	c.mu.Unlock()

	// The device lock is released here: miniaudio joins its worker thread,
	// which may be inside onData.
	if err := dev.Start(); err != nil {
		c.mu.Lock()
		c.recording = false
		c.err = fmt.Errorf("malgo: start capture device: %w", err)
		c.mu.Unlock()
		return c.err
	}
	return nil
}

// Stop implements [audio.CaptureSource].
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return nil
	}
	c.recording = false
	c.pending = c.pending[:0]
	dev := c.dev
flush:
	for {
		select {
		case _, ok := <-c.frames:
			if !ok {
				break flush
			}
		default:
			break flush
		}
	}
	c.mu.Unlock()

	if err := dev.Stop(); err != nil {
		return fmt.Errorf("malgo: stop capture device: %w", err)
	}
	return nil
}

// Recording implements [audio.CaptureSource].
func (c *Capture) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// Frames implements [audio.CaptureSource].
func (c *Capture) Frames() <-chan audio.AudioFrame { return c.frames }

// Err implements [audio.CaptureSource].
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close implements [audio.CaptureSource].
func (c *Capture) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.recording = false
	dev := c.dev
	c.dev = nil
	c.mu.Unlock()

	if dev != nil {
		dev.Uninit()
	}
	close(c.frames)
	return nil
}

// onData runs on the miniaudio thread.
func (c *Capture) onData(_, in []byte, _ uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recording {
		return
	}
	c.pending = append(c.pending, in...)
	size := audio.FrameBytes(c.format.SampleRate, c.format.Channels, c.frame)
	for len(c.pending) >= size {
		data := make([]byte, size)
		copy(data, c.pending)
		c.pending = c.pending[:copy(c.pending, c.pending[size:])]
		f := audio.AudioFrame{Data: data, SampleRate: c.format.SampleRate, Channels: c.format.Channels, Timestamp: c.ts}
		c.ts += c.frame
		select {
		case c.frames <- f:
		default:
		}
	}
}

// ── Playback ─────────────────────────────────────────────────────────────────

// Playback plays PCM through the default output device. The miniaudio data
// callback pulls from a bounded backlog and fills silence on underrun.
type Playback struct {
	host     *Host
	format   audio.Format
	capacity int

	mu      sync.Mutex
	dev     *malgo.Device
	backlog []byte
}

// NewPlayback prepares a sink with a backlog holding backlog worth of audio.
func NewPlayback(h *Host, format audio.Format, backlog time.Duration) *Playback {
	return &Playback{
		host:     h,
		format:   format,
		capacity: audio.FrameBytes(format.SampleRate, format.Channels, backlog),
	}
}

// Start implements [audio.PlaybackSink].
func (p *Playback) Start() error {
	p.mu.Lock()
	if p.dev != nil {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	if p.host.ctx == nil {
		return fmt.Errorf("malgo: start playback: %w", audio.ErrDeviceUnavailable)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(p.format.Channels)
	cfg.SampleRate = uint32(p.format.SampleRate)
	cfg.Alsa.NoMMap = 1
	dev, err := malgo.InitDevice(p.host.ctx.Context, cfg, malgo.DeviceCallbacks{Data: p.onData})
	if err != nil {
		return fmt.Errorf("malgo: open playback device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("malgo: start playback device: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dev != nil {
		// Lost a race with a concurrent Start.
		go dev.Uninit()
		return nil
	}
	p.dev = dev
	return nil
}

// Active implements [audio.PlaybackSink].
func (p *Playback) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dev != nil && p.dev.IsStarted()
}

// Write implements [audio.PlaybackSink].
func (p *Playback) Write(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dev == nil {
		return fmt.Errorf("malgo: write playback: %w", audio.ErrDeviceUnavailable)
	}
	room := p.capacity - len(p.backlog)
	if room < len(pcm) {
		p.backlog = append(p.backlog, pcm[:max(room, 0)]...)
		return audio.ErrBacklogFull
	}
	p.backlog = append(p.backlog, pcm...)
	return nil
}

// Buffered implements [audio.PlaybackSink].
func (p *Playback) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.backlog)
}

// Capacity implements [audio.PlaybackSink].
func (p *Playback) Capacity() int { return p.capacity }

// Clear implements [audio.PlaybackSink].
func (p *Playback) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backlog = p.backlog[:0]
}

// Close implements [audio.PlaybackSink].
func (p *Playback) Close() error {
	p.mu.Lock()
	dev := p.dev
	p.dev = nil
	p.backlog = nil
	p.mu.Unlock()
	if dev != nil {
		dev.Uninit()
	}
	return nil
}

// onData runs on the miniaudio thread.
func (p *Playback) onData(out, _ []byte, _ uint32) {
	p.mu.Lock()
	n := copy(out, p.backlog)
	p.backlog = p.backlog[:copy(p.backlog, p.backlog[n:])]
	p.mu.Unlock()
	clear(out[n:])
}
