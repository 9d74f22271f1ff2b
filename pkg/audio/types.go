package audio

import "time"

// AudioFrame is a single frame of audio flowing through the client. Frames
// carry either PCM (signed 16-bit little-endian, interleaved) or one encoded
// Opus packet, depending on the pipeline stage. A frame is treated as
// immutable once produced; consumers must copy Data before modifying it.
type AudioFrame struct {
	// Data is the PCM or packet payload.
	Data []byte

	// SampleRate in Hz (16000 for capture, 24000 for assistant speech by default).
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when the frame was produced, relative to stream start.
	Timestamp time.Duration
}

// FrameSize returns the number of samples per channel in a frame of the given
// duration at rate.
func FrameSize(rate int, d time.Duration) int {
	return int(int64(rate) * d.Milliseconds() / 1000)
}

// FrameBytes returns the PCM byte length of one frame of d at rate and channels.
func FrameBytes(rate, channels int, d time.Duration) int {
	return FrameSize(rate, d) * channels * 2
}

// Duration returns the playback duration of pcm at the given format.
func Duration(pcm int, rate, channels int) time.Duration {
	if rate <= 0 || channels <= 0 {
		return 0
	}
	samples := pcm / (2 * channels)
	return time.Duration(samples) * time.Second / time.Duration(rate)
}
