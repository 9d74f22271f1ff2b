package mock_test

import (
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/mock"
)

func TestCaptureStopDiscardsPending(t *testing.T) {
	t.Parallel()
	c := mock.NewCapture(4)
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	c.Emit(audio.AudioFrame{Data: []byte{1}})
	c.Emit(audio.AudioFrame{Data: []byte{2}})

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case f := <-c.Frames():
		t.Errorf("frame %v survived Stop", f.Data)
	default:
	}
	if c.Emit(audio.AudioFrame{Data: []byte{3}}) {
		t.Error("Emit accepted a frame while stopped")
	}
}

func TestCaptureStopAfterClose(t *testing.T) {
	t.Parallel()
	c := mock.NewCapture(4)
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	c.Emit(audio.AudioFrame{Data: []byte{1}})
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after Close")
	}
	if starts, stops := c.Counts(); starts != 1 || stops != 1 {
		t.Errorf("counts = %d starts, %d stops", starts, stops)
	}
}
