package stream

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
)

var _ audio.PlaybackSink = (*Playback)(nil)

// Playback implements [audio.PlaybackSink] over an io.Writer. A drain
// goroutine writes the backlog to w in real time, one tick's worth of bytes
// per tick.
type Playback struct {
	w        io.Writer
	format   audio.Format
	capacity int
	tick     time.Duration

	mu      sync.Mutex
	backlog []byte
	active  bool
	stop    chan struct{}
	stopped chan struct{}
	err     error
}

// PlaybackOption is a functional option for [NewPlayback].
type PlaybackOption func(*Playback)

// WithBacklog sets the backlog capacity as a duration of audio. Default 2s.
func WithBacklog(d time.Duration) PlaybackOption {
	return func(p *Playback) {
		p.capacity = audio.FrameBytes(p.format.SampleRate, p.format.Channels, d)
	}
}

// WithTick sets the drain interval. Default 10ms.
func WithTick(d time.Duration) PlaybackOption {
	return func(p *Playback) { p.tick = d }
}

// NewPlayback returns a sink writing PCM in format to w.
func NewPlayback(w io.Writer, format audio.Format, opts ...PlaybackOption) *Playback {
	p := &Playback{
		w:        w,
		format:   format,
		capacity: audio.FrameBytes(format.SampleRate, format.Channels, 2*time.Second),
		tick:     10 * time.Millisecond,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start implements [audio.PlaybackSink].
func (p *Playback) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return nil
	}
	if p.w == nil {
		return fmt.Errorf("stream: start playback: %w", audio.ErrDeviceUnavailable)
	}
	p.active = true
	p.err = nil
	p.stop = make(chan struct{})
	p.stopped = make(chan struct{})
	go p.drain(p.stop, p.stopped)
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
	if !p.active {
		if p.err != nil {
			return p.err
		}
		return fmt.Errorf("stream: write playback: %w", audio.ErrDeviceUnavailable)
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

// Err returns the write error that deactivated the sink, if any.
func (p *Playback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Close implements [audio.PlaybackSink]. The writer itself is closed when it
// implements io.Closer.
func (p *Playback) Close() error {
	p.mu.Lock()
	stop, stopped := p.stop, p.stopped
	wasActive := p.active
	p.active = false
	p.backlog = nil
	p.stop = nil
	p.mu.Unlock()

	if wasActive && stop != nil {
		close(stop)
		<-stopped
	}
	if wc, ok := p.w.(io.Closer); ok {
		return wc.Close()
	}
	return nil
}

func (p *Playback) drain(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	perTick := audio.FrameBytes(p.format.SampleRate, p.format.Channels, p.tick)
	if perTick == 0 {
		perTick = 2 * p.format.Channels
	}
	t := time.NewTicker(p.tick)
	defer t.Stop()

	chunk := make([]byte, perTick)
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}

		p.mu.Lock()
		n := copy(chunk, p.backlog)
		p.backlog = p.backlog[:copy(p.backlog, p.backlog[n:])]
		p.mu.Unlock()
		if n == 0 {
			continue
		}
		if _, err := p.w.Write(chunk[:n]); err != nil {
			p.mu.Lock()
			p.active = false
			p.err = fmt.Errorf("stream: write playback: %w", err)
			p.mu.Unlock()
			return
		}
	}
}
