package video

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/opd-ai/volstream/limits"
)

// ErrInvalidMessage indicates an assembled payload that does not follow the
// video message layout.
var ErrInvalidMessage = errors.New("invalid video message")

// Message is one reassembled video frame from a sender.
//
// Wire layout of the assembled payload:
//
//	[frameTimeStamp f32][colorLen u32][color...][depthLen u32][depth...]
type Message struct {
	FrameID        int32
	Keyframe       bool
	FrameTimeStamp float32 // sender device time in milliseconds
	ColorPayload   []byte
	DepthPayload   []byte
}

// Marshal returns the assembled payload layout of the message.
func (m *Message) Marshal() []byte {
	b := make([]byte, 0, 12+len(m.ColorPayload)+len(m.DepthPayload))
	b = binary.LittleEndian.AppendUint32(b, math.Float32bits(m.FrameTimeStamp))
	b = binary.LittleEndian.AppendUint32(b, uint32(len(m.ColorPayload)))
	b = append(b, m.ColorPayload...)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(m.DepthPayload)))
	return append(b, m.DepthPayload...)
}

// ParseMessage parses an assembled payload. The returned payload slices alias data.
func ParseMessage(frameID int32, keyframe bool, data []byte) (*Message, error) {
	if err := limits.ValidateAssembledMessage(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrInvalidMessage, len(data))
	}

	m := &Message{
		FrameID:        frameID,
		Keyframe:       keyframe,
		FrameTimeStamp: math.Float32frombits(binary.LittleEndian.Uint32(data[0:4])),
	}

	offset := 4
	colorLen := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if colorLen < 0 || colorLen > len(data)-offset-4 {
		return nil, fmt.Errorf("%w: color length %d exceeds payload", ErrInvalidMessage, colorLen)
	}
	m.ColorPayload = data[offset : offset+colorLen]
	offset += colorLen

	depthLen := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
	offset += 4
	if depthLen < 0 || depthLen != len(data)-offset {
		return nil, fmt.Errorf("%w: depth length %d does not match remaining %d bytes", ErrInvalidMessage, depthLen, len(data)-offset)
	}
	m.DepthPayload = data[offset : offset+depthLen]

	return m, nil
}
