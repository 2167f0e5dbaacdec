package transport

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/opd-ai/volstream/limits"
)

// Message is one of the fixed packet kinds exchanged between receivers and
// senders. The set is closed: only the types in this file implement it, and
// consumers dispatch with a type switch.
type Message interface {
	// Type returns the wire discriminator of the message.
	Type() PacketType

	appendBody(b []byte) []byte
}

// ConnectPacket asks a sender to start streaming to this receiver.
type ConnectPacket struct {
	ReceiverSessionID uint32
	WantsVideo        bool
	WantsAudio        bool
	WantsFloor        bool
}

// ConfirmPacket is the sender's answer to a ConnectPacket.
type ConfirmPacket struct {
	SenderSessionID   uint32
	ReceiverSessionID uint32
}

// HeartbeatPacket keeps a session alive. SessionID is the receiver's session
// ID when sent by a receiver and the sender's session ID when sent by a sender.
type HeartbeatPacket struct {
	SessionID uint32
}

// VideoPacket carries one fragment of a video message.
type VideoPacket struct {
	SenderSessionID uint32
	FrameID         int32
	Keyframe        bool
	FragmentIndex   uint16
	FragmentCount   uint16
	Chunk           []byte
}

// FECPacket carries XOR parity over a group of fragments of one frame.
type FECPacket struct {
	SenderSessionID uint32
	FrameID         int32
	Keyframe        bool
	ParityIndex     uint16
	FragmentCount   uint16
	GroupSize       uint16
	LengthParity    uint16
	Parity          []byte
}

// AudioPacket carries one Opus frame.
type AudioPacket struct {
	SenderSessionID uint32
	FrameID         int32
	Opus            []byte
}

// FloorPacket carries the floor plane ax+by+cz+d=0 seen by the sender.
type FloorPacket struct {
	SenderSessionID uint32
	A, B, C, D      float32
}

// ReportPacket is the receiver's per-frame performance report.
type ReportPacket struct {
	ReceiverSessionID    uint32
	FrameID              int32
	DecodeDurationMs     float32
	InterFrameDurationMs float32
}

func (*ConnectPacket) Type() PacketType   { return PacketConnect }
func (*ConfirmPacket) Type() PacketType   { return PacketConfirm }
func (*HeartbeatPacket) Type() PacketType { return PacketHeartbeat }
func (*VideoPacket) Type() PacketType     { return PacketVideo }
func (*FECPacket) Type() PacketType       { return PacketFEC }
func (*AudioPacket) Type() PacketType     { return PacketAudio }
func (*FloorPacket) Type() PacketType     { return PacketFloor }
func (*ReportPacket) Type() PacketType    { return PacketReport }

const (
	connectBodySize   = 4 + 3
	confirmBodySize   = 4 + 4
	heartbeatBodySize = 4
	videoHeaderSize   = 4 + 4 + 1 + 2 + 2
	fecHeaderSize     = 4 + 4 + 1 + 2 + 2 + 2 + 2
	audioHeaderSize   = 4 + 4
	floorBodySize     = 4 + 4*4
	reportBodySize    = 4 + 4 + 4 + 4
)

var le = binary.LittleEndian

func appendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

func appendFloat32(b []byte, v float32) []byte {
	return le.AppendUint32(b, math.Float32bits(v))
}

func (p *ConnectPacket) appendBody(b []byte) []byte {
	b = le.AppendUint32(b, p.ReceiverSessionID)
	b = appendBool(b, p.WantsVideo)
	b = appendBool(b, p.WantsAudio)
	return appendBool(b, p.WantsFloor)
}

func (p *ConfirmPacket) appendBody(b []byte) []byte {
	b = le.AppendUint32(b, p.SenderSessionID)
	return le.AppendUint32(b, p.ReceiverSessionID)
}

func (p *HeartbeatPacket) appendBody(b []byte) []byte {
	return le.AppendUint32(b, p.SessionID)
}

func (p *VideoPacket) appendBody(b []byte) []byte {
	b = le.AppendUint32(b, p.SenderSessionID)
	b = le.AppendUint32(b, uint32(p.FrameID))
	b = appendBool(b, p.Keyframe)
	b = le.AppendUint16(b, p.FragmentIndex)
	b = le.AppendUint16(b, p.FragmentCount)
	return append(b, p.Chunk...)
}

func (p *FECPacket) appendBody(b []byte) []byte {
	b = le.AppendUint32(b, p.SenderSessionID)
	b = le.AppendUint32(b, uint32(p.FrameID))
	b = appendBool(b, p.Keyframe)
	b = le.AppendUint16(b, p.ParityIndex)
	b = le.AppendUint16(b, p.FragmentCount)
	b = le.AppendUint16(b, p.GroupSize)
	b = le.AppendUint16(b, p.LengthParity)
	return append(b, p.Parity...)
}

func (p *AudioPacket) appendBody(b []byte) []byte {
	b = le.AppendUint32(b, p.SenderSessionID)
	b = le.AppendUint32(b, uint32(p.FrameID))
	return append(b, p.Opus...)
}

func (p *FloorPacket) appendBody(b []byte) []byte {
	b = le.AppendUint32(b, p.SenderSessionID)
	b = appendFloat32(b, p.A)
	b = appendFloat32(b, p.B)
	b = appendFloat32(b, p.C)
	return appendFloat32(b, p.D)
}

func (p *ReportPacket) appendBody(b []byte) []byte {
	b = le.AppendUint32(b, p.ReceiverSessionID)
	b = le.AppendUint32(b, uint32(p.FrameID))
	b = appendFloat32(b, p.DecodeDurationMs)
	return appendFloat32(b, p.InterFrameDurationMs)
}

// Encode serializes a message into a datagram.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformedPacket)
	}
	packet := &Packet{
		PacketType: m.Type(),
		Data:       m.appendBody(make([]byte, 0, 32)),
	}
	data, err := packet.Serialize()
	if err != nil {
		return nil, err
	}
	if err := limits.ValidateDatagram(data); err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type(), err)
	}
	return data, nil
}

// Decode parses a datagram into its message. Payload slices of the returned
// message do not alias data.
func Decode(data []byte) (Message, error) {
	if err := limits.ValidateDatagram(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}

	packet, err := ParsePacket(data)
	if err != nil {
		return nil, err
	}

	body := packet.Data
	switch packet.PacketType {
	case PacketConnect:
		if len(body) != connectBodySize {
			return nil, malformed(packet.PacketType, len(body))
		}
		return &ConnectPacket{
			ReceiverSessionID: le.Uint32(body[0:4]),
			WantsVideo:        body[4] != 0,
			WantsAudio:        body[5] != 0,
			WantsFloor:        body[6] != 0,
		}, nil

	case PacketConfirm:
		if len(body) != confirmBodySize {
			return nil, malformed(packet.PacketType, len(body))
		}
		return &ConfirmPacket{
			SenderSessionID:   le.Uint32(body[0:4]),
			ReceiverSessionID: le.Uint32(body[4:8]),
		}, nil

	case PacketHeartbeat:
		if len(body) != heartbeatBodySize {
			return nil, malformed(packet.PacketType, len(body))
		}
		return &HeartbeatPacket{SessionID: le.Uint32(body[0:4])}, nil

	case PacketVideo:
		return decodeVideo(body)

	case PacketFEC:
		return decodeFEC(body)

	case PacketAudio:
		if len(body) < audioHeaderSize {
			return nil, malformed(packet.PacketType, len(body))
		}
		return &AudioPacket{
			SenderSessionID: le.Uint32(body[0:4]),
			FrameID:         int32(le.Uint32(body[4:8])),
			Opus:            body[audioHeaderSize:],
		}, nil

	case PacketFloor:
		if len(body) != floorBodySize {
			return nil, malformed(packet.PacketType, len(body))
		}
		return &FloorPacket{
			SenderSessionID: le.Uint32(body[0:4]),
			A:               math.Float32frombits(le.Uint32(body[4:8])),
			B:               math.Float32frombits(le.Uint32(body[8:12])),
			C:               math.Float32frombits(le.Uint32(body[12:16])),
			D:               math.Float32frombits(le.Uint32(body[16:20])),
		}, nil

	case PacketReport:
		if len(body) != reportBodySize {
			return nil, malformed(packet.PacketType, len(body))
		}
		return &ReportPacket{
			ReceiverSessionID:    le.Uint32(body[0:4]),
			FrameID:              int32(le.Uint32(body[4:8])),
			DecodeDurationMs:     math.Float32frombits(le.Uint32(body[8:12])),
			InterFrameDurationMs: math.Float32frombits(le.Uint32(body[12:16])),
		}, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownPacketType, byte(packet.PacketType))
	}
}

func decodeVideo(body []byte) (Message, error) {
	if len(body) < videoHeaderSize {
		return nil, malformed(PacketVideo, len(body))
	}
	p := &VideoPacket{
		SenderSessionID: le.Uint32(body[0:4]),
		FrameID:         int32(le.Uint32(body[4:8])),
		Keyframe:        body[8] != 0,
		FragmentIndex:   le.Uint16(body[9:11]),
		FragmentCount:   le.Uint16(body[11:13]),
		Chunk:           body[videoHeaderSize:],
	}
	if err := limits.ValidateFragmentCount(int(p.FragmentCount)); err != nil {
		return nil, fmt.Errorf("%w: video: %v", ErrMalformedPacket, err)
	}
	if p.FragmentIndex >= p.FragmentCount {
		return nil, fmt.Errorf("%w: video fragment index %d out of %d", ErrMalformedPacket, p.FragmentIndex, p.FragmentCount)
	}
	return p, nil
}

func decodeFEC(body []byte) (Message, error) {
	if len(body) < fecHeaderSize {
		return nil, malformed(PacketFEC, len(body))
	}
	p := &FECPacket{
		SenderSessionID: le.Uint32(body[0:4]),
		FrameID:         int32(le.Uint32(body[4:8])),
		Keyframe:        body[8] != 0,
		ParityIndex:     le.Uint16(body[9:11]),
		FragmentCount:   le.Uint16(body[11:13]),
		GroupSize:       le.Uint16(body[13:15]),
		LengthParity:    le.Uint16(body[15:17]),
		Parity:          body[fecHeaderSize:],
	}
	if err := limits.ValidateFragmentCount(int(p.FragmentCount)); err != nil {
		return nil, fmt.Errorf("%w: fec: %v", ErrMalformedPacket, err)
	}
	if p.GroupSize == 0 || p.GroupSize > limits.MaxFECGroupSize {
		return nil, fmt.Errorf("%w: fec group size %d", ErrMalformedPacket, p.GroupSize)
	}
	if int(p.ParityIndex)*int(p.GroupSize) >= int(p.FragmentCount) {
		return nil, fmt.Errorf("%w: fec parity index %d out of range", ErrMalformedPacket, p.ParityIndex)
	}
	return p, nil
}

func malformed(t PacketType, bodyLen int) error {
	return fmt.Errorf("%w: %s body of %d bytes", ErrMalformedPacket, t, bodyLen)
}
