// Package opus wraps the gopus bindings with the fixed frame geometry the
// voice protocol negotiates: one packet per frame, a constant sample rate and
// channel count per direction.
package opus

import (
	"errors"
	"fmt"
	"time"

	"layeh.com/gopus"

	"github.com/MrWong99/parley/pkg/audio"
)

// ErrInvalidFrame is returned when a PCM frame does not have exactly the
// configured frame size, or an empty packet is passed to Decode.
var ErrInvalidFrame = errors.New("opus: invalid frame")

// maxPacketBytes bounds a single encoded packet (RFC 6716 allows up to 1275
// bytes per frame, three frames per packet).
const maxPacketBytes = 4000

// maxFrameDuration is the longest duration a single Opus packet can hold.
const maxFrameDuration = 120 * time.Millisecond

// Params fixes the stream geometry for one direction.
type Params struct {
	SampleRate    int
	Channels      int
	FrameDuration time.Duration
}

// FrameSize returns the samples per channel in one frame.
func (p Params) FrameSize() int { return audio.FrameSize(p.SampleRate, p.FrameDuration) }

// FrameBytes returns the PCM byte length of one frame.
func (p Params) FrameBytes() int {
	return audio.FrameBytes(p.SampleRate, p.Channels, p.FrameDuration)
}

func (p Params) validate() error {
	switch p.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return fmt.Errorf("opus: unsupported sample rate %d", p.SampleRate)
	}
	if p.Channels != 1 && p.Channels != 2 {
		return fmt.Errorf("opus: unsupported channel count %d", p.Channels)
	}
	switch p.FrameDuration {
	case 10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond:
	default:
		return fmt.Errorf("opus: unsupported frame duration %v", p.FrameDuration)
	}
	return nil
}

// Encoder compresses PCM frames. It keeps codec state across frames and must
// only be used from one goroutine.
type Encoder struct {
	enc    *gopus.Encoder
	params Params
}

// NewEncoder creates an encoder for p.
func NewEncoder(p Params) (*Encoder, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	enc, err := gopus.NewEncoder(p.SampleRate, p.Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder: %w", err)
	}
	return &Encoder{enc: enc, params: p}, nil
}

// Params returns the encoder geometry.
func (e *Encoder) Params() Params { return e.params }

// Encode compresses one PCM frame into one packet.
func (e *Encoder) Encode(pcm []byte) ([]byte, error) {
	if len(pcm) != e.params.FrameBytes() {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidFrame, len(pcm), e.params.FrameBytes())
	}
	pkt, err := e.enc.Encode(audio.Int16s(pcm), e.params.FrameSize(), maxPacketBytes)
	if err != nil {
		return nil, fmt.Errorf("opus: encode: %w", err)
	}
	return pkt, nil
}

// Decoder expands packets into PCM at a fixed output rate. Opus decoders
// resample internally, so packets encoded at any supported rate decode to the
// configured one. Must only be used from one goroutine.
type Decoder struct {
	dec    *gopus.Decoder
	params Params
}

// NewDecoder creates a decoder for p.
func NewDecoder(p Params) (*Decoder, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	dec, err := gopus.NewDecoder(p.SampleRate, p.Channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder: %w", err)
	}
	return &Decoder{dec: dec, params: p}, nil
}

// Params returns the decoder geometry.
func (d *Decoder) Params() Params { return d.params }

// Decode expands one packet into interleaved little-endian PCM.
func (d *Decoder) Decode(pkt []byte) ([]byte, error) {
	if len(pkt) == 0 {
		return nil, fmt.Errorf("%w: empty packet", ErrInvalidFrame)
	}
	pcm, err := d.dec.Decode(pkt, audio.FrameSize(d.params.SampleRate, maxFrameDuration), false)
	if err != nil {
		return nil, fmt.Errorf("opus: decode: %w", err)
	}
	return audio.Bytes(pcm), nil
}
