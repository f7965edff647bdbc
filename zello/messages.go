// Package zello implements the Zello Channels WebSocket session:
// authentication, stream start/stop, binary media framing, backoff
// handling and the reconnect loop.
package zello

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/bytedance/sonic"
)

// mediaFrameType is the single byte prefixing every binary audio
// frame on the wire.
const mediaFrameType = 0x01

// mediaFramePrefix is the fixed header length (type + stream_id +
// pkt_id) before the Opus payload in every binary frame.
const mediaFramePrefix = 9

// InboundMessage is the union of every JSON text frame the server can
// send. Only the fields relevant to a given Kind are populated; this
// mirrors the server's actual wire shape rather than imposing a
// closed set of message structs, since Zello's JSON messages are not
// tagged by a single discriminant field the way on_stream_start/stop
// are.
type InboundMessage struct {
	Command      string `json:"command,omitempty"`
	Seq          *int   `json:"seq,omitempty"`
	Success      *bool  `json:"success,omitempty"`
	Error        string `json:"error,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	StreamID     *int32 `json:"stream_id,omitempty"`
	Status       string `json:"status,omitempty"`
	From         string `json:"from,omitempty"`
}

// Kind classifies an inbound message's meaning to the session state
// machine.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthSuccess
	KindStreamStartAck
	KindError
	KindStreamStart
	KindStreamStop
	KindChannelStatus
)

// Kind determines what this message means to the session, following
// the same presence-of-field dispatch the server itself uses (there
// is no single "type" discriminant on the wire).
func (m InboundMessage) Kind() Kind {
	if m.Error != "" {
		return KindError
	}
	switch m.Command {
	case "on_stream_start":
		return KindStreamStart
	case "on_stream_stop":
		return KindStreamStop
	case "on_channel_status":
		return KindChannelStatus
	}
	if m.Success != nil && *m.Success {
		if m.StreamID != nil {
			return KindStreamStartAck
		}
		return KindAuthSuccess
	}
	return KindUnknown
}

// ParseInbound decodes a received text frame.
func ParseInbound(data []byte) (InboundMessage, error) {
	var m InboundMessage
	if err := sonic.Unmarshal(data, &m); err != nil {
		return InboundMessage{}, fmt.Errorf("zello: parsing inbound message: %w", err)
	}
	return m, nil
}

// LogonRequest is the client -> server authentication frame.
type LogonRequest struct {
	Command      string `json:"command"`
	Seq          int    `json:"seq"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	Channel      string `json:"channel"`
	AuthToken    string `json:"auth_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// NewLogon builds a logon request. It prefers refreshToken over
// authToken when both are non-empty, since a refresh_token logon
// doesn't need a freshly minted auth_token.
func NewLogon(seq int, username, password, channel, authToken, refreshToken string) LogonRequest {
	req := LogonRequest{
		Command:  "logon",
		Seq:      seq,
		Username: username,
		Password: password,
		Channel:  channel,
	}
	if refreshToken != "" {
		req.RefreshToken = refreshToken
	} else {
		req.AuthToken = authToken
	}
	return req
}

// StartStreamRequest requests a new outbound audio stream.
type StartStreamRequest struct {
	Command        string `json:"command"`
	Seq            int    `json:"seq"`
	Channel        string `json:"channel"`
	Type           string `json:"type"`
	Codec          string `json:"codec"`
	CodecHeader    string `json:"codec_header"`
	PacketDuration int    `json:"packet_duration"`
}

// NewStartStream builds a start_stream request carrying the fixed
// 8 kHz/mono/20 ms codec header this bridge always encodes at.
func NewStartStream(seq int, channel string) StartStreamRequest {
	return StartStreamRequest{
		Command:        "start_stream",
		Seq:            seq,
		Channel:        channel,
		Type:           "audio",
		Codec:          "opus",
		CodecHeader:    CodecHeader(),
		PacketDuration: 20,
	}
}

// StopStreamRequest ends an outbound audio stream.
type StopStreamRequest struct {
	Command  string `json:"command"`
	Seq      int    `json:"seq"`
	Channel  string `json:"channel"`
	StreamID int32  `json:"stream_id"`
}

// NewStopStream builds a stop_stream request.
func NewStopStream(seq int, channel string, streamID int32) StopStreamRequest {
	return StopStreamRequest{
		Command:  "stop_stream",
		Seq:      seq,
		Channel:  channel,
		StreamID: streamID,
	}
}

// CodecHeader returns the base64 of the fixed little-endian
// {sample_rate:int16, channels:int8, frame_ms:int8} tuple Zello
// Channels expects for an Opus audio stream.
func CodecHeader() string {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint16(buf[0:2], 8000)
	buf[2] = 1
	buf[3] = 20
	return base64.StdEncoding.EncodeToString(buf)
}

// EncodeMediaFrame builds the binary WebSocket frame carrying one
// Opus packet: [0x01][stream_id:be32][pkt_id:be32][opus...].
func EncodeMediaFrame(streamID, pktID uint32, opusPayload []byte) []byte {
	buf := make([]byte, mediaFramePrefix+len(opusPayload))
	buf[0] = mediaFrameType
	binary.BigEndian.PutUint32(buf[1:5], streamID)
	binary.BigEndian.PutUint32(buf[5:9], pktID)
	copy(buf[mediaFramePrefix:], opusPayload)
	return buf
}

// DecodeMediaFrame strips the fixed 9-byte prefix from a received
// binary frame, returning the Opus payload.
func DecodeMediaFrame(buf []byte) ([]byte, error) {
	if len(buf) < mediaFramePrefix {
		return nil, fmt.Errorf("zello: binary frame too short (%d bytes)", len(buf))
	}
	return buf[mediaFramePrefix:], nil
}
