// Package audio defines the frame type and the device abstractions used by the
// voice client.
//
// The two device abstractions are:
//
//   - [CaptureSource] delivers fixed-duration PCM frames from a microphone
//     (or any other producer) on a single channel for the device lifetime.
//   - [PlaybackSink] accepts decoded PCM into a bounded backlog that the
//     output device drains at its own pace.
//
// Implementations live in sub-packages: audio/malgo talks to the system sound
// devices, audio/stream adapts plain io.Reader / io.Writer values, and
// audio/mock provides test doubles.
package audio

import "errors"

// ErrDeviceUnavailable is returned when a device cannot be opened or has been
// closed.
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// ErrBacklogFull is returned by [PlaybackSink.Write] when the backlog cannot
// hold the whole frame. The excess is discarded.
var ErrBacklogFull = errors.New("audio: playback backlog full")

// CaptureSource produces PCM frames of exactly one codec frame duration.
//
// Frames returns the same channel for the lifetime of the source; it is
// closed by Close or when the device fails. Frames are only emitted between
// Start and Stop. Stop discards frames that were captured but not yet
// consumed, so a paused source never replays stale audio.
//
// Implementations must be safe for concurrent use.
type CaptureSource interface {
	// Start begins recording. Starting a running source is a no-op.
	Start() error

	// Stop pauses recording and flushes pending frames. Stopping a stopped
	// source is a no-op.
	Stop() error

	// Recording reports whether the source is between Start and Stop.
	Recording() bool

	// Frames returns the single frame channel.
	Frames() <-chan AudioFrame

	// Err returns the error that terminated the source, if any.
	Err() error

	// Close releases the device and closes the frame channel.
	Close() error
}

// PlaybackSink plays PCM frames through an output device.
//
// The device is initialised lazily: callers invoke Start before writing and
// may call it again after an error to re-initialise. Write appends to the
// backlog without waiting for the device.
//
// Implementations must be safe for concurrent use.
type PlaybackSink interface {
	// Start initialises (or re-initialises) the device and begins draining
	// the backlog. Starting an active sink is a no-op.
	Start() error

	// Active reports whether the device is initialised and draining.
	Active() bool

	// Write appends pcm to the backlog.
	Write(pcm []byte) error

	// Buffered returns the number of backlog bytes not yet played.
	Buffered() int

	// Capacity returns the backlog capacity in bytes.
	Capacity() int

	// Clear discards the backlog.
	Clear()

	// Close stops the device and releases it.
	Close() error
}
