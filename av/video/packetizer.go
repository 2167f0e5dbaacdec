package video

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/volstream/limits"
	"github.com/opd-ai/volstream/transport"
)

const (
	// packetOverhead is the type byte plus the FEC header, the larger of the
	// two headers a chunk travels behind.
	packetOverhead = 1 + 4 + 4 + 1 + 2 + 2 + 2 + 2

	// DefaultChunkSize keeps a Video datagram under a conservative MTU.
	DefaultChunkSize = 1200

	// DefaultFECGroupSize is the number of fragments one parity packet covers.
	DefaultFECGroupSize = 4
)

// Packetizer splits video messages into Video fragments and XOR parity
// packets. It is the sending counterpart of Assembler.
type Packetizer struct {
	senderSessionID uint32
	chunkSize       int
	groupSize       int // zero disables parity
}

// NewPacketizer creates a packetizer for one sender session. A groupSize of
// zero disables FEC.
func NewPacketizer(senderSessionID uint32, chunkSize, groupSize int) (*Packetizer, error) {
	if chunkSize <= 0 || chunkSize > limits.MaxDatagramSize-packetOverhead {
		return nil, fmt.Errorf("chunk size %d out of range (1-%d)", chunkSize, limits.MaxDatagramSize-packetOverhead)
	}
	if groupSize < 0 || groupSize > limits.MaxFECGroupSize {
		return nil, fmt.Errorf("fec group size %d out of range (0-%d)", groupSize, limits.MaxFECGroupSize)
	}

	return &Packetizer{
		senderSessionID: senderSessionID,
		chunkSize:       chunkSize,
		groupSize:       groupSize,
	}, nil
}

// Packetize converts a message into its fragments and parity packets.
func (p *Packetizer) Packetize(msg *Message) ([]*transport.VideoPacket, []*transport.FECPacket, error) {
	payload := msg.Marshal()
	if err := limits.ValidateAssembledMessage(payload); err != nil {
		return nil, nil, err
	}

	count := (len(payload) + p.chunkSize - 1) / p.chunkSize
	if err := limits.ValidateFragmentCount(count); err != nil {
		return nil, nil, err
	}

	chunks := make([][]byte, count)
	videoPackets := make([]*transport.VideoPacket, count)
	for i := 0; i < count; i++ {
		start := i * p.chunkSize
		end := start + p.chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunks[i] = payload[start:end]
		videoPackets[i] = &transport.VideoPacket{
			SenderSessionID: p.senderSessionID,
			FrameID:         msg.FrameID,
			Keyframe:        msg.Keyframe,
			FragmentIndex:   uint16(i),
			FragmentCount:   uint16(count),
			Chunk:           chunks[i],
		}
	}

	if p.groupSize == 0 {
		return videoPackets, nil, nil
	}

	groups, err := BuildParity(chunks, p.groupSize)
	if err != nil {
		return nil, nil, err
	}

	fecPackets := make([]*transport.FECPacket, len(groups))
	for i, g := range groups {
		fecPackets[i] = &transport.FECPacket{
			SenderSessionID: p.senderSessionID,
			FrameID:         msg.FrameID,
			Keyframe:        msg.Keyframe,
			ParityIndex:     uint16(g.Index),
			FragmentCount:   uint16(count),
			GroupSize:       uint16(p.groupSize),
			LengthParity:    g.LengthParity,
			Parity:          g.Parity,
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Packetizer.Packetize",
		"frame_id":  msg.FrameID,
		"keyframe":  msg.Keyframe,
		"fragments": count,
		"parity":    len(fecPackets),
	}).Debug("Packetized video message")

	return videoPackets, fecPackets, nil
}
