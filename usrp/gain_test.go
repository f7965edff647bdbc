package usrp

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func int16PCM(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestLinearGainUnityAtZeroDB(t *testing.T) {
	assert.InDelta(t, 1.0, LinearGain(0), 1e-9)
}

func TestLinearGainTenDBIsTenX(t *testing.T) {
	assert.InDelta(t, 10.0, LinearGain(10), 1e-9)
}

func TestApplyGainUnityIsNoOp(t *testing.T) {
	pcm := int16PCM(100, -100, 32000)
	got := ApplyGain(pcm, 1.0)
	assert.Equal(t, pcm, got)
}

func TestApplyGainScalesSamples(t *testing.T) {
	pcm := int16PCM(100, -100)
	got := ApplyGain(pcm, 2.0)
	samples := []int16{
		int16(binary.LittleEndian.Uint16(got[0:2])),
		int16(binary.LittleEndian.Uint16(got[2:4])),
	}
	assert.Equal(t, int16(200), samples[0])
	assert.Equal(t, int16(-200), samples[1])
}

func TestApplyGainSaturatesPositive(t *testing.T) {
	pcm := int16PCM(32000)
	got := ApplyGain(pcm, 10.0)
	sample := int16(binary.LittleEndian.Uint16(got[0:2]))
	assert.Equal(t, int16(32767), sample)
}

func TestApplyGainSaturatesNegative(t *testing.T) {
	pcm := int16PCM(-32000)
	got := ApplyGain(pcm, 10.0)
	sample := int16(binary.LittleEndian.Uint16(got[0:2]))
	assert.Equal(t, int16(-32768), sample)
}
