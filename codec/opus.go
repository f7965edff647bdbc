// Package codec adapts the hraban/opus bindings to the fixed 8 kHz
// mono 20 ms framing the bridge uses on its Zello edge, matching the
// codec_header Zello Channels advertises for this stream.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/hraban/opus"
)

const (
	// SampleRate is the only rate the bridge ever speaks on its Opus
	// edge, fixed by the Zello codec_header this stream advertises.
	SampleRate = 8000
	// Channels is fixed mono; USRP and Zello Channels voice are both
	// single-channel, so there's nothing to multiplex.
	Channels = 1
	// FrameMillis is the fixed 20 ms frame duration the bridge encodes
	// and decodes at.
	FrameMillis = 20
	// FrameSamples is the PCM sample count per 20 ms frame at 8 kHz.
	FrameSamples = SampleRate * FrameMillis / 1000
	// FrameBytes is the raw PCM byte count per 20 ms frame (16-bit
	// signed little-endian mono).
	FrameBytes = FrameSamples * 2
	// maxOpusFrameBytes bounds a single encoded Opus packet; 20 ms at
	// 8 kHz mono never approaches this, but Encode needs an output
	// buffer size.
	maxOpusFrameBytes = 1275
)

// Codec wraps a paired Opus encoder and decoder, both fixed to
// 8 kHz/mono/20 ms. Encode and Decode are each not safe for concurrent
// use by multiple goroutines. The Session's TX and RX tasks share one
// Codec: TX only calls Encode and RX only calls Decode, so each task
// uses its own half.
type Codec struct {
	encoder *opus.Encoder
	decoder *opus.Decoder
}

// Options tunes encoder behavior, sourced from OPUS_COMPLEXITY and
// OPUS_BITRATE. Zero values leave the library default in place.
type Options struct {
	Complexity int
	BitrateBPS int
}

// New builds a Codec ready to encode and decode 20 ms frames.
func New(opts Options) (*Codec, error) {
	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("creating Opus encoder: %w", err)
	}
	if opts.Complexity > 0 {
		if err := enc.SetComplexity(opts.Complexity); err != nil {
			return nil, fmt.Errorf("setting Opus complexity: %w", err)
		}
	}
	if opts.BitrateBPS > 0 {
		if err := enc.SetBitrate(opts.BitrateBPS); err != nil {
			return nil, fmt.Errorf("setting Opus bitrate: %w", err)
		}
	}
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("creating Opus decoder: %w", err)
	}
	return &Codec{encoder: enc, decoder: dec}, nil
}

// Encode Opus-encodes exactly one 20 ms frame of raw PCM
// (FrameBytes of 16-bit signed little-endian mono samples).
func (c *Codec) Encode(pcm []byte) ([]byte, error) {
	if len(pcm) != FrameBytes {
		return nil, fmt.Errorf("codec: encode expects %d bytes, got %d", FrameBytes, len(pcm))
	}
	samples := bytesToInt16(pcm)
	out := make([]byte, maxOpusFrameBytes)
	n, err := c.encoder.Encode(samples, out)
	if err != nil {
		return nil, fmt.Errorf("Opus encode: %w", err)
	}
	return out[:n], nil
}

// Decode decodes one Opus packet into exactly one 20 ms frame of raw
// PCM (FrameBytes of 16-bit signed little-endian mono samples).
func (c *Codec) Decode(payload []byte) ([]byte, error) {
	pcm := make([]int16, FrameSamples)
	n, err := c.decoder.Decode(payload, pcm)
	if err != nil {
		return nil, fmt.Errorf("Opus decode: %w", err)
	}
	return int16ToBytes(pcm[:n]), nil
}

func bytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func int16ToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
