package stream_test

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/stream"
)

var mono16k = audio.Format{SampleRate: 16000, Channels: 1}

func TestCaptureEmitsFramesWhileRecording(t *testing.T) {
	t.Parallel()

	frameBytes := audio.FrameBytes(16000, 1, 60*time.Millisecond)
	src := bytes.NewReader(make([]byte, 3*frameBytes))
	c := stream.NewCapture(src, mono16k, stream.WithRealtime(false))
	t.Cleanup(func() { _ = c.Close() })

	if c.Recording() {
		t.Fatal("Recording() before Start")
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var got int
	for f := range c.Frames() {
		if len(f.Data) != frameBytes {
			t.Errorf("frame %d: %d bytes, want %d", got, len(f.Data), frameBytes)
		}
		got++
	}
	if got != 3 {
		t.Errorf("got %d frames, want 3", got)
	}
	if err := c.Err(); err != nil {
		t.Errorf("Err() after EOF = %v, want nil", err)
	}
}

func TestCaptureConvertsInputFormat(t *testing.T) {
	t.Parallel()

	in := audio.Format{SampleRate: 48000, Channels: 2}
	src := bytes.NewReader(make([]byte, audio.FrameBytes(48000, 2, 60*time.Millisecond)))
	c := stream.NewCapture(src, mono16k, stream.WithInputFormat(in), stream.WithRealtime(false))
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	f, ok := <-c.Frames()
	if !ok {
		t.Fatal("no frame delivered")
	}
	if want := audio.FrameBytes(16000, 1, 60*time.Millisecond); len(f.Data) != want {
		t.Errorf("frame = %d bytes, want %d", len(f.Data), want)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("device gone") }

func TestCaptureReadErrorSurfaces(t *testing.T) {
	t.Parallel()

	c := stream.NewCapture(failingReader{}, mono16k, stream.WithRealtime(false))
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	for range c.Frames() {
	}
	if c.Err() == nil {
		t.Error("Err() = nil, want read error")
	}
}

func TestCaptureCloseBeforeStart(t *testing.T) {
	t.Parallel()

	c := stream.NewCapture(bytes.NewReader(nil), mono16k)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-c.Frames(); ok {
		t.Error("Frames() not closed")
	}
	if err := c.Start(); !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("Start after Close: got %v, want ErrDeviceUnavailable", err)
	}
}

func TestCaptureStopAfterFramesClosed(t *testing.T) {
	t.Parallel()

	frameBytes := audio.FrameBytes(16000, 1, 60*time.Millisecond)
	tests := []struct {
		name string
		end  func(c *stream.Capture)
	}{
		{
			name: "reader at EOF",
			end: func(c *stream.Capture) {
				for range c.Frames() {
				}
			},
		},
		{
			name: "closed",
			end: func(c *stream.Capture) {
				_ = c.Close()
				for range c.Frames() {
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := stream.NewCapture(bytes.NewReader(make([]byte, 2*frameBytes)), mono16k, stream.WithRealtime(false))
			t.Cleanup(func() { _ = c.Close() })
			if err := c.Start(); err != nil {
				t.Fatal(err)
			}
			tt.end(c)

			done := make(chan error, 1)
			go func() { done <- c.Stop() }()
			select {
			case err := <-done:
				if err != nil {
					t.Errorf("Stop: %v", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("Stop did not return once the frame channel was closed")
			}
			if c.Recording() {
				t.Error("Recording() after Stop")
			}
		})
	}
}

// syncBuffer is a goroutine-safe bytes.Buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func TestPlaybackDrainsBacklog(t *testing.T) {
	t.Parallel()

	out := &syncBuffer{}
	p := stream.NewPlayback(out, mono16k, stream.WithTick(time.Millisecond))
	t.Cleanup(func() { _ = p.Close() })

	if err := p.Write(make([]byte, 10)); !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("Write before Start: got %v, want ErrDeviceUnavailable", err)
	}
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	if !p.Active() {
		t.Fatal("Active() = false after Start")
	}
	if err := p.Write(make([]byte, 640)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for out.Len() < 640 {
		select {
		case <-deadline:
			t.Fatalf("drained %d bytes, want 640", out.Len())
		case <-time.After(5 * time.Millisecond):
		}
	}
	if p.Buffered() != 0 {
		t.Errorf("Buffered() = %d after drain", p.Buffered())
	}
}

func TestPlaybackBacklogBoundAndClear(t *testing.T) {
	t.Parallel()

	p := stream.NewPlayback(io.Discard, mono16k, stream.WithBacklog(100*time.Millisecond), stream.WithTick(time.Hour))
	t.Cleanup(func() { _ = p.Close() })
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	if p.Capacity() != 3200 {
		t.Fatalf("Capacity() = %d, want 3200", p.Capacity())
	}
	if err := p.Write(make([]byte, 3000)); err != nil {
		t.Fatal(err)
	}
	if err := p.Write(make([]byte, 400)); !errors.Is(err, audio.ErrBacklogFull) {
		t.Errorf("overflow Write: got %v, want ErrBacklogFull", err)
	}
	if p.Buffered() != 3200 {
		t.Errorf("Buffered() = %d, want 3200", p.Buffered())
	}
	p.Clear()
	if p.Buffered() != 0 {
		t.Errorf("Buffered() after Clear = %d", p.Buffered())
	}
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("speaker unplugged") }

func TestPlaybackWriteErrorDeactivates(t *testing.T) {
	t.Parallel()

	p := stream.NewPlayback(brokenWriter{}, mono16k, stream.WithTick(time.Millisecond))
	t.Cleanup(func() { _ = p.Close() })
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	if err := p.Write(make([]byte, 64)); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(2 * time.Second)
	for p.Active() {
		select {
		case <-deadline:
			t.Fatal("sink still active after write failure")
		case <-time.After(2 * time.Millisecond):
		}
	}
	if p.Err() == nil {
		t.Error("Err() = nil after write failure")
	}
	if err := p.Start(); err != nil {
		t.Errorf("restart: %v", err)
	}
}
