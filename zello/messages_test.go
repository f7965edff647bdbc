package zello

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptrBool(b bool) *bool { return &b }
func ptrInt32(i int32) *int32 { return &i }

func TestInboundMessageKindAuthSuccess(t *testing.T) {
	m := InboundMessage{Success: ptrBool(true), RefreshToken: "rt"}
	assert.Equal(t, KindAuthSuccess, m.Kind())
}

func TestInboundMessageKindStreamStartAck(t *testing.T) {
	m := InboundMessage{Success: ptrBool(true), StreamID: ptrInt32(42)}
	assert.Equal(t, KindStreamStartAck, m.Kind())
}

func TestInboundMessageKindError(t *testing.T) {
	m := InboundMessage{Error: "invalid channel"}
	assert.Equal(t, KindError, m.Kind())
}

func TestInboundMessageKindStreamStartStop(t *testing.T) {
	assert.Equal(t, KindStreamStart, InboundMessage{Command: "on_stream_start", From: "alice"}.Kind())
	assert.Equal(t, KindStreamStop, InboundMessage{Command: "on_stream_stop"}.Kind())
}

func TestInboundMessageKindChannelStatus(t *testing.T) {
	m := InboundMessage{Command: "on_channel_status", Status: "online"}
	assert.Equal(t, KindChannelStatus, m.Kind())
}

func TestParseInboundStreamStartAck(t *testing.T) {
	raw := []byte(`{"success":true,"stream_id":42}`)
	m, err := ParseInbound(raw)
	require.NoError(t, err)
	require.NotNil(t, m.StreamID)
	assert.Equal(t, int32(42), *m.StreamID)
	assert.Equal(t, KindStreamStartAck, m.Kind())
}

func TestNewLogonPrefersRefreshToken(t *testing.T) {
	req := NewLogon(0, "user", "pass", "chan", "authtok", "refreshtok")
	assert.Equal(t, "refreshtok", req.RefreshToken)
	assert.Empty(t, req.AuthToken)
}

func TestNewLogonFallsBackToAuthToken(t *testing.T) {
	req := NewLogon(0, "user", "pass", "chan", "authtok", "")
	assert.Equal(t, "authtok", req.AuthToken)
	assert.Empty(t, req.RefreshToken)
}

func TestCodecHeaderMatchesFixedParameters(t *testing.T) {
	h := CodecHeader()
	assert.Equal(t, "QB8BFA==", h)
}

func TestEncodeDecodeMediaFrame(t *testing.T) {
	opus := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	frame := EncodeMediaFrame(42, 7, opus)
	assert.Equal(t, byte(0x01), frame[0])

	payload, err := DecodeMediaFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, opus, payload)
}

func TestDecodeMediaFrameRejectsShortFrame(t *testing.T) {
	_, err := DecodeMediaFrame([]byte{0x01, 0x00})
	assert.Error(t, err)
}
