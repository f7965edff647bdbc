package usrp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := make([]byte, VoiceSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	frame := Frame{
		Header:  Header{Seq: 42, PTT: true, Type: TypeVoice},
		Payload: payload,
	}
	buf := Encode(frame)
	assert.Len(t, buf, FrameSize)

	decoded, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, int32(42), decoded.Header.Seq)
	assert.True(t, decoded.Header.PTT)
	assert.Equal(t, payload, decoded.Payload)
}

func TestDecodeRejectsWrongSize(t *testing.T) {
	_, err := Decode(make([]byte, FrameSize-1))
	assert.Error(t, err)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	buf := Encode(Frame{})
	buf[0] = 'X'
	_, err := Decode(buf)
	assert.Error(t, err)
}

func TestUnkeyFrameHasZeroPayloadAndPTTFalse(t *testing.T) {
	buf := UnkeyFrame(7)
	decoded, err := Decode(buf)
	require.NoError(t, err)
	assert.False(t, decoded.Header.PTT)
	assert.Equal(t, int32(7), decoded.Header.Seq)
	for _, b := range decoded.Payload {
		assert.Equal(t, byte(0), b)
	}
}

func TestVoiceFramePreservesPayload(t *testing.T) {
	payload := make([]byte, VoiceSize)
	payload[0] = 0xAB
	buf := VoiceFrame(1, payload)
	decoded, err := Decode(buf)
	require.NoError(t, err)
	assert.True(t, decoded.Header.PTT)
	assert.Equal(t, byte(0xAB), decoded.Payload[0])
}

func TestEncodeZeroPadsShortPayload(t *testing.T) {
	buf := Encode(Frame{Header: Header{Seq: 1}, Payload: []byte{1, 2, 3}})
	decoded, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, byte(1), decoded.Payload[0])
	assert.Equal(t, byte(0), decoded.Payload[3])
}
