// Package mock provides in-memory implementations of [audio.CaptureSource]
// and [audio.PlaybackSink] for unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// tests can assert on call counts and arguments, and expose fields the test
// can set to control return values.
//
// Typical usage:
//
//	capture := mock.NewCapture(4)
//	capture.Emit(audio.AudioFrame{Data: pcm})
//	sink := &mock.Playback{CapacityResult: 4096}
package mock

import (
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
)

var (
	_ audio.CaptureSource = (*Capture)(nil)
	_ audio.PlaybackSink  = (*Playback)(nil)
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock [audio.CaptureSource]. Frames pushed with Emit are only
// delivered while recording, mirroring a real device.
type Capture struct {
	mu sync.Mutex

	frames    chan audio.AudioFrame
	recording bool
	closed    bool

	// StartError is returned by Start.
	StartError error

	// ErrResult is returned by Err.
	ErrResult error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewCapture returns a capture mock whose frame channel has the given buffer.
func NewCapture(buffer int) *Capture {
	return &Capture{frames: make(chan audio.AudioFrame, buffer)}
}

// Emit delivers f if the mock is recording and reports whether it did. It
// never blocks; a full channel drops the frame.
func (c *Capture) Emit(f audio.AudioFrame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recording || c.closed {
		return false
	}
	select {
	case c.frames <- f:
		return true
	default:
		return false
	}
}

// Start implements [audio.CaptureSource].
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStart++
	if c.StartError != nil {
		return c.StartError
	}
	c.recording = true
	return nil
}

// Stop implements [audio.CaptureSource]. Pending frames are discarded.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStop++
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

// Err implements [audio.CaptureSource]. Returns ErrResult.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ErrResult
}

// Close implements [audio.CaptureSource].
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	if !c.closed {
		c.closed = true
		c.recording = false
		close(c.frames)
	}
	return nil
}

// Counts returns Start and Stop call counts under the lock.
func (c *Capture) Counts() (starts, stops int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountStart, c.CallCountStop
}

// ─── Playback ─────────────────────────────────────────────────────────────────

// Playback is a mock [audio.PlaybackSink]. Written PCM accumulates in an
// in-memory backlog that never drains unless the test calls Consume.
type Playback struct {
	mu sync.Mutex

	active  bool
	backlog int
	writes  [][]byte

	// CapacityResult is returned by Capacity.
	CapacityResult int

	// StartError is returned by Start while non-nil.
	StartError error

	// WriteError is returned by Write while non-nil; a write error also
	// deactivates the sink, as a failing device would.
	WriteError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClear records how many times Clear was called.
	CallCountClear int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Start implements [audio.PlaybackSink].
func (p *Playback) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountStart++
	if p.StartError != nil {
		return p.StartError
	}
	p.active = true
	return nil
}

// Active implements [audio.PlaybackSink].
func (p *Playback) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Write implements [audio.PlaybackSink].
func (p *Playback) Write(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.WriteError != nil {
		p.active = false
		return p.WriteError
	}
	if !p.active {
		return audio.ErrDeviceUnavailable
	}
	p.writes = append(p.writes, pcm)
	p.backlog += len(pcm)
	return nil
}

// Buffered implements [audio.PlaybackSink].
func (p *Playback) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.backlog
}

// Capacity implements [audio.PlaybackSink].
func (p *Playback) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CapacityResult
}

// Clear implements [audio.PlaybackSink].
func (p *Playback) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountClear++
	p.backlog = 0
}

// Close implements [audio.PlaybackSink].
func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountClose++
	p.active = false
	return nil
}

// Consume simulates the device playing n bytes.
func (p *Playback) Consume(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.backlog = max(p.backlog-n, 0)
}

// Writes returns a copy of every successfully written frame.
func (p *Playback) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.writes))
	copy(out, p.writes)
	return out
}

// Clears returns the number of Clear calls.
func (p *Playback) Clears() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CallCountClear
}

// SetWriteError replaces WriteError under the lock.
func (p *Playback) SetWriteError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.WriteError = err
}

// Starts returns the number of Start calls.
func (p *Playback) Starts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CallCountStart
}
