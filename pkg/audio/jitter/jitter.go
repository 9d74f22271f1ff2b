// Package jitter provides the bounded FIFO that absorbs network jitter between
// the receive path and the playback device.
//
// The buffer never blocks the producer: pushing onto a full buffer evicts the
// oldest frame, trading completeness for bounded latency.
package jitter

import (
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
)

// DefaultCapacity is the frame capacity used when New receives a value < 1.
const DefaultCapacity = 20

// Buffer is a fixed-capacity ring of decoded frames. It is safe for
// concurrent use; its lock is held only for the duration of a push or pop.
type Buffer struct {
	mu      sync.Mutex
	ring    []audio.AudioFrame
	head    int
	size    int
	evicted uint64
}

// New returns an empty buffer holding at most capacity frames.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Buffer{ring: make([]audio.AudioFrame, capacity)}
}

// Push appends f. When the buffer is full the oldest frame is discarded and
// Push reports true.
func (b *Buffer) Push(f audio.AudioFrame) (evicted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == len(b.ring) {
		b.ring[b.head] = audio.AudioFrame{}
		b.head = (b.head + 1) % len(b.ring)
		b.size--
		b.evicted++
		evicted = true
	}
	b.ring[(b.head+b.size)%len(b.ring)] = f
	b.size++
	return evicted
}

// Pop removes and returns the oldest frame.
func (b *Buffer) Pop() (audio.AudioFrame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return audio.AudioFrame{}, false
	}
	return b.popLocked(), true
}

// PopBatch appends up to n of the oldest frames to dst and returns it.
func (b *Buffer) PopBatch(dst []audio.AudioFrame, n int) []audio.AudioFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	for range min(n, b.size) {
		dst = append(dst, b.popLocked())
	}
	return dst
}

func (b *Buffer) popLocked() audio.AudioFrame {
	f := b.ring[b.head]
	b.ring[b.head] = audio.AudioFrame{}
	b.head = (b.head + 1) % len(b.ring)
	b.size--
	return f
}

// Len returns the number of buffered frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int { return len(b.ring) }

// Evicted returns the number of frames discarded by Push since creation.
func (b *Buffer) Evicted() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted
}

// Reset discards all buffered frames.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.ring)
	b.head, b.size = 0, 0
}
