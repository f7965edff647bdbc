// Package usrp implements the USRP UDP voice endpoint: frame
// encode/decode, linear gain, and the ingress/egress loops that wire
// it to the bridge's PTT events and byte queues.
package usrp

import (
	"fmt"

	dusrp "github.com/dbehnke/usrp-go/pkg/usrp"
)

const (
	// FrameSize is the fixed total size of every USRP UDP datagram.
	FrameSize = 352
	// HeaderSize is the fixed control header preceding the payload.
	HeaderSize = 32
	// VoiceSize is the PCM payload size: 160 samples * 2 bytes = 20 ms
	// at 8 kHz mono.
	VoiceSize = FrameSize - HeaderSize

	// TypeVoice is the only frame type this bridge emits or expects.
	TypeVoice = 0
)

// Header is the 32-byte USRP control header this bridge cares about.
// Every field beyond Seq and PTT is carried as a fixed zero; this
// bridge neither reads nor sets memory channel, talkgroup, MPX id, or
// reserved beyond what the wire format requires.
type Header struct {
	Seq       int32
	Memory    int32
	PTT       bool
	Talkgroup int32
	Type      int32
	MPX       int32
	Reserved  int32
}

// Frame is a decoded USRP datagram: header plus up to VoiceSize bytes
// of raw 16-bit signed little-endian PCM.
type Frame struct {
	Header  Header
	Payload []byte
}

// Encode serializes a Frame into a FrameSize-byte datagram using the
// dbehnke/usrp-go voice message codec. Payload shorter than VoiceSize
// is zero-padded; this is how unkey frames are sent (zero-filled
// payload, PTT false).
func Encode(f Frame) []byte {
	hdr := dusrp.NewHeader(dusrp.USRP_TYPE_VOICE, uint32(f.Header.Seq))
	hdr.Memory = uint32(f.Header.Memory)
	if f.Header.PTT {
		hdr.Keyup = 1
	}
	hdr.Talkgroup = uint32(f.Header.Talkgroup)
	hdr.MpxId = uint32(f.Header.MPX)
	hdr.Reserved = uint32(f.Header.Reserved)

	msg := dusrp.VoiceMessage{Header: hdr}
	payload := f.Payload
	if len(payload) < VoiceSize {
		padded := make([]byte, VoiceSize)
		copy(padded, payload)
		payload = padded
	}
	for i := 0; i < dusrp.VoiceFrameSize; i++ {
		msg.AudioData[i] = int16(payload[i*2]) | int16(payload[i*2+1])<<8
	}

	buf, err := msg.MarshalBinary()
	if err != nil {
		// AudioData is a fixed-size array matching VoiceFrameSize and
		// every header field above is a plain uint32 cast; nothing here
		// can actually fail to marshal.
		panic(fmt.Sprintf("usrp: marshaling voice frame: %v", err))
	}
	return buf
}

// Decode parses a received USRP datagram using the dbehnke/usrp-go
// voice message codec. It rejects anything that isn't a well-formed
// FrameSize-byte frame with the expected magic.
func Decode(buf []byte) (Frame, error) {
	if len(buf) != FrameSize {
		return Frame{}, fmt.Errorf("usrp: frame is %d bytes, want %d", len(buf), FrameSize)
	}
	var msg dusrp.VoiceMessage
	if err := msg.UnmarshalBinary(buf); err != nil {
		return Frame{}, fmt.Errorf("usrp: decoding frame: %w", err)
	}
	h := Header{
		Seq:       int32(msg.Header.Seq),
		Memory:    int32(msg.Header.Memory),
		PTT:       msg.Header.Keyup != 0,
		Talkgroup: int32(msg.Header.Talkgroup),
		Type:      int32(msg.Header.Type),
		MPX:       int32(msg.Header.MpxId),
		Reserved:  int32(msg.Header.Reserved),
	}
	payload := make([]byte, VoiceSize)
	for i := 0; i < dusrp.VoiceFrameSize; i++ {
		sample := msg.AudioData[i]
		payload[i*2] = byte(sample)
		payload[i*2+1] = byte(sample >> 8)
	}
	return Frame{Header: h, Payload: payload}, nil
}

// UnkeyFrame builds a zero-payload, PTT-false frame used to keep the
// remote USRP peer in an unkeyed state while zello_ptt holds the
// channel.
func UnkeyFrame(seq int32) []byte {
	return Encode(Frame{Header: Header{Seq: seq, Type: TypeVoice}})
}

// VoiceFrame builds a keyed frame carrying one 20 ms PCM payload.
func VoiceFrame(seq int32, payload []byte) []byte {
	return Encode(Frame{
		Header:  Header{Seq: seq, PTT: true, Type: TypeVoice},
		Payload: payload,
	})
}
