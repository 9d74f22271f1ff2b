package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "16000Hz mono".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// Converter brings PCM frames to the Target format. Sources whose format
// already matches are passed through untouched. A Converter keeps per-stream
// warning state and is not safe for concurrent use.
type Converter struct {
	Target Format

	warnOnce sync.Once
}

// Convert returns frame in the Target format. Frames with an odd byte count
// cannot be int16 PCM and are returned with nil Data.
func (c *Converter) Convert(frame AudioFrame) AudioFrame {
	out := AudioFrame{
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
	if len(frame.Data)%2 != 0 {
		return out
	}
	src := Format{SampleRate: frame.SampleRate, Channels: frame.Channels}
	if src == c.Target {
		return frame
	}
	c.warnOnce.Do(func() {
		slog.Warn("audio: converting capture format", "from", src, "to", c.Target)
	})

	samples := Int16s(frame.Data)
	// Downmix before resampling so the resampler touches fewer samples.
	if src.Channels == 2 && c.Target.Channels == 1 {
		samples = Downmix(samples)
	}
	samples = Resample(samples, src.SampleRate, c.Target.SampleRate, min(src.Channels, c.Target.Channels))
	if src.Channels == 1 && c.Target.Channels == 2 {
		samples = Upmix(samples)
	}
	out.Data = Bytes(samples)
	return out
}

// Int16s decodes little-endian int16 PCM. A trailing odd byte is ignored.
func Int16s(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Bytes encodes samples as little-endian int16 PCM.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Downmix averages interleaved stereo pairs into mono.
func Downmix(stereo []int16) []int16 {
	out := make([]int16, len(stereo)/2)
	for i := range out {
		out[i] = int16((int32(stereo[2*i]) + int32(stereo[2*i+1])) / 2)
	}
	return out
}

// Upmix duplicates each mono sample into a stereo pair.
func Upmix(mono []int16) []int16 {
	out := make([]int16, len(mono)*2)
	for i, s := range mono {
		out[2*i] = s
		out[2*i+1] = s
	}
	return out
}

// Resample converts interleaved samples with the given channel count from
// srcRate to dstRate using linear interpolation. Equal or invalid rates
// return the input unchanged.
func Resample(samples []int16, srcRate, dstRate, channels int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return samples
	}
	srcFrames := len(samples) / channels
	if srcFrames == 0 {
		return samples
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	out := make([]int16, dstFrames*channels)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for ch := range channels {
			a := float64(samples[idx*channels+ch])
			b := float64(samples[next*channels+ch])
			out[i*channels+ch] = int16(a + (b-a)*frac)
		}
	}
	return out
}

// Gain scales s16le PCM to percent of its amplitude. percent is clamped to
// [0, 100]; at 100 pcm is returned as is, otherwise a new slice is returned.
func Gain(pcm []byte, percent int) []byte {
	percent = min(max(percent, 0), 100)
	if percent == 100 {
		return pcm
	}
	samples := Int16s(pcm)
	for i, s := range samples {
		samples[i] = int16(int32(s) * int32(percent) / 100)
	}
	return Bytes(samples)
}
