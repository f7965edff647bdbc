package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineWavePCM(t *testing.T) []byte {
	t.Helper()
	pcm := make([]byte, FrameBytes)
	samples := make([]int16, FrameSamples)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
	}
	copy(pcm, int16ToBytes(samples))
	return pcm
}

func TestCodecEncodeDecodeRoundTrip(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)

	pcm := sineWavePCM(t)
	encoded, err := c.Encode(pcm)
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)

	decoded, err := c.Decode(encoded)
	require.NoError(t, err)
	assert.Len(t, decoded, FrameBytes)
}

func TestCodecEncodeRejectsWrongFrameSize(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)

	_, err = c.Encode(make([]byte, FrameBytes-1))
	assert.Error(t, err)
}

func TestCodecAppliesTuningOptions(t *testing.T) {
	c, err := New(Options{Complexity: 5, BitrateBPS: 16000})
	require.NoError(t, err)

	pcm := sineWavePCM(t)
	_, err = c.Encode(pcm)
	require.NoError(t, err)
}

func TestInt16ByteConversionRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345}
	b := int16ToBytes(samples)
	assert.Equal(t, samples, bytesToInt16(b))
}
