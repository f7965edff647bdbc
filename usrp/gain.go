package usrp

import (
	"encoding/binary"
	"math"
)

// LinearGain converts a dB value to the linear multiplier applied to
// each PCM sample: 10^(dB/10).
func LinearGain(db float64) float64 {
	return math.Pow(10, db/10)
}

// ApplyGain scales each 16-bit signed little-endian sample in pcm by
// gain, saturating to the int16 range. A gain of exactly 1.0 is a
// no-op and pcm is returned unmodified, since unity gain changes
// nothing and a full copy would be wasted work.
func ApplyGain(pcm []byte, gain float64) []byte {
	if gain == 1.0 {
		return pcm
	}
	out := make([]byte, len(pcm))
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		scaled := float64(sample) * gain
		binary.LittleEndian.PutUint16(out[i:i+2], uint16(saturate(scaled)))
	}
	return out
}

func saturate(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
