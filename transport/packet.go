package transport

import (
	"errors"
	"fmt"
)

// PacketType identifies the type of a volstream packet.
type PacketType byte

const (
	// Receiver to sender
	PacketConnect PacketType = iota + 1
	// Sender to receiver
	PacketConfirm
	// Both directions
	PacketHeartbeat
	// Sender to receiver media
	PacketVideo
	PacketFEC
	PacketAudio
	PacketFloor
	// Receiver to sender telemetry
	PacketReport
)

// String returns the packet type name used in logs and metric labels.
func (t PacketType) String() string {
	switch t {
	case PacketConnect:
		return "connect"
	case PacketConfirm:
		return "confirm"
	case PacketHeartbeat:
		return "heartbeat"
	case PacketVideo:
		return "video"
	case PacketFEC:
		return "fec"
	case PacketAudio:
		return "audio"
	case PacketFloor:
		return "floor"
	case PacketReport:
		return "report"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

var (
	// ErrPacketTooShort indicates a datagram too short to carry a packet type.
	ErrPacketTooShort = errors.New("packet too short")

	// ErrUnknownPacketType indicates a packet type this receiver does not understand.
	ErrUnknownPacketType = errors.New("unknown packet type")

	// ErrMalformedPacket indicates a packet body that does not match its type.
	ErrMalformedPacket = errors.New("malformed packet")
)

// Packet is the raw envelope of every datagram.
type Packet struct {
	PacketType PacketType
	Data       []byte
}

// Serialize converts a packet to a byte slice for transmission.
func (p *Packet) Serialize() ([]byte, error) {
	if p.Data == nil {
		return nil, errors.New("packet data is nil")
	}

	// Format: [packet type (1 byte)][data (variable length)]
	result := make([]byte, 1+len(p.Data))
	result[0] = byte(p.PacketType)
	copy(result[1:], p.Data)

	return result, nil
}

// ParsePacket converts a byte slice to a Packet structure.
// The returned packet shares no memory with data.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < 1 {
		return nil, ErrPacketTooShort
	}

	packet := &Packet{
		PacketType: PacketType(data[0]),
		Data:       make([]byte, len(data)-1),
	}

	copy(packet.Data, data[1:])

	return packet, nil
}
