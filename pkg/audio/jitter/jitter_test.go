package jitter_test

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/jitter"
)

func frame(i int) audio.AudioFrame {
	return audio.AudioFrame{Data: []byte{byte(i)}, Timestamp: time.Duration(i) * time.Millisecond}
}

func TestDropOldest(t *testing.T) {
	t.Parallel()

	b := jitter.New(20)
	evictions := 0
	for i := range 25 {
		if b.Push(frame(i)) {
			evictions++
		}
		if b.Len() > b.Cap() {
			t.Fatalf("after push %d: len %d exceeds cap %d", i, b.Len(), b.Cap())
		}
	}
	if evictions != 5 {
		t.Errorf("evictions = %d, want 5", evictions)
	}
	if b.Evicted() != 5 {
		t.Errorf("Evicted() = %d, want 5", b.Evicted())
	}
	if b.Len() != 20 {
		t.Fatalf("Len() = %d, want 20", b.Len())
	}
	for want := 5; want < 25; want++ {
		f, ok := b.Pop()
		if !ok {
			t.Fatalf("Pop at %d: buffer empty", want)
		}
		if int(f.Data[0]) != want {
			t.Fatalf("Pop order: got frame %d, want %d", f.Data[0], want)
		}
	}
	if _, ok := b.Pop(); ok {
		t.Error("Pop on empty buffer returned ok")
	}
}

func TestPopBatch(t *testing.T) {
	t.Parallel()

	b := jitter.New(10)
	for i := range 5 {
		b.Push(frame(i))
	}

	got := b.PopBatch(nil, 3)
	if len(got) != 3 {
		t.Fatalf("first batch: got %d frames, want 3", len(got))
	}
	for i, f := range got {
		if int(f.Data[0]) != i {
			t.Errorf("first batch[%d] = %d, want %d", i, f.Data[0], i)
		}
	}
	got = b.PopBatch(got[:0], 3)
	if len(got) != 2 {
		t.Fatalf("second batch: got %d frames, want 2", len(got))
	}
	if got = b.PopBatch(got[:0], 3); len(got) != 0 {
		t.Errorf("empty batch: got %d frames", len(got))
	}
}

func TestDefaultCapacity(t *testing.T) {
	t.Parallel()
	if got := jitter.New(0).Cap(); got != jitter.DefaultCapacity {
		t.Errorf("Cap() = %d, want %d", got, jitter.DefaultCapacity)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	b := jitter.New(4)
	for i := range 6 {
		b.Push(frame(i))
	}
	b.Reset()
	if b.Len() != 0 {
		t.Errorf("Len() after Reset = %d", b.Len())
	}
	b.Push(frame(9))
	if f, _ := b.Pop(); f.Data[0] != 9 {
		t.Errorf("Pop after Reset = %d, want 9", f.Data[0])
	}
}

func TestConcurrentPushPop(t *testing.T) {
	t.Parallel()

	b := jitter.New(20)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 1000 {
			b.Push(frame(i))
		}
	}()
	go func() {
		defer wg.Done()
		var dst []audio.AudioFrame
		for range 1000 {
			dst = b.PopBatch(dst[:0], 3)
			if b.Len() > b.Cap() {
				t.Errorf("len %d exceeds cap", b.Len())
				return
			}
		}
	}()
	wg.Wait()
	if b.Len() > 20 {
		t.Errorf("Len() = %d, want <= 20", b.Len())
	}
}
