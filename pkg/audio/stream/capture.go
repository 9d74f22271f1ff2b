// Package stream adapts plain byte streams to the audio device interfaces.
//
// [Capture] reads raw PCM from an io.Reader (a FIFO fed by arecord, a file,
// a pipe) and slices it into codec frames. [Playback] writes PCM to an
// io.Writer at real-time pace from a bounded backlog. Together they let the
// client run headless or in tests without sound hardware.
package stream

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.CaptureSource = (*Capture)(nil)

const defaultFrameQueue = 8

// Capture implements [audio.CaptureSource] over an io.Reader. The reader is
// consumed continuously once started for the first time, the way a live
// microphone keeps producing; frames read while not recording are discarded.
type Capture struct {
	r      io.Reader
	input  audio.Format
	conv   audio.Converter
	frame  time.Duration
	pace   bool
	frames chan audio.AudioFrame
	done   chan struct{}

	mu        sync.Mutex
	started   bool
	recording bool
	closed    bool
	err       error
	closeOnce sync.Once
}

// CaptureOption is a functional option for [NewCapture].
type CaptureOption func(*Capture)

// WithInputFormat sets the format of the bytes read from the reader. Frames
// are converted to the target format before delivery. Defaults to the target.
func WithInputFormat(f audio.Format) CaptureOption {
	return func(c *Capture) { c.input = f }
}

// WithFrameDuration sets the emitted frame duration. Default 60ms.
func WithFrameDuration(d time.Duration) CaptureOption {
	return func(c *Capture) { c.frame = d }
}

// WithRealtime controls whether reads are paced to the frame duration.
// Disable it for pre-recorded input in tests. Default true.
func WithRealtime(on bool) CaptureOption {
	return func(c *Capture) { c.pace = on }
}

// NewCapture returns a capture source reading PCM from r and emitting frames
// in target format.
func NewCapture(r io.Reader, target audio.Format, opts ...CaptureOption) *Capture {
	c := &Capture{
		r:      r,
		input:  target,
		conv:   audio.Converter{Target: target},
		frame:  60 * time.Millisecond,
		pace:   true,
		frames: make(chan audio.AudioFrame, defaultFrameQueue),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start implements [audio.CaptureSource].
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("stream: start capture: %w", audio.ErrDeviceUnavailable)
	}
	c.recording = true
	if !c.started {
		c.started = true
		go c.readLoop()
	}
	return nil
}

// Stop implements [audio.CaptureSource].
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recording = false
	for {
		select {
		case _, ok := <-c.frames:
			if !ok {
				return nil
			}
		default:
			return nil
		}
	}
}

// Recording implements [audio.CaptureSource].
func (c *Capture) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// Frames implements [audio.CaptureSource].
func (c *Capture) Frames() <-chan audio.AudioFrame { return c.frames }

// Err implements [audio.CaptureSource]. A reader that reached EOF ends the
// source without an error.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close implements [audio.CaptureSource]. If the reader is an io.Closer it is
// closed as well, which unblocks a pending read.
func (c *Capture) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.recording = false
		if !c.started {
			close(c.frames)
		}
		c.mu.Unlock()
		close(c.done)
		if rc, ok := c.r.(io.Closer); ok {
			err = rc.Close()
		}
	})
	return err
}

func (c *Capture) readLoop() {
	defer close(c.frames)

	var tick <-chan time.Time
	if c.pace {
		t := time.NewTicker(c.frame)
		defer t.Stop()
		tick = t.C
	}

	buf := make([]byte, audio.FrameBytes(c.input.SampleRate, c.input.Channels, c.frame))
	var ts time.Duration
	for {
		if tick != nil {
			select {
			case <-c.done:
				return
			case <-tick:
			}
		}
		if _, err := io.ReadFull(c.r, buf); err != nil {
			c.fail(err)
			return
		}
		select {
		case <-c.done:
			return
		default:
		}

		data := make([]byte, len(buf))
		copy(data, buf)
		f := c.conv.Convert(audio.AudioFrame{
			Data:       data,
			SampleRate: c.input.SampleRate,
			Channels:   c.input.Channels,
			Timestamp:  ts,
		})
		ts += c.frame
		c.deliver(f)
	}
}

func (c *Capture) deliver(f audio.AudioFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recording || len(f.Data) == 0 {
		return
	}
	select {
	case c.frames <- f:
	default:
		slog.Debug("stream: capture queue full, dropping frame", "timestamp", f.Timestamp)
	}
}

func (c *Capture) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return
	}
	c.err = fmt.Errorf("stream: read capture: %w", err)
}
