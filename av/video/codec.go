package video

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Codec errors
var (
	ErrPayloadTooShort   = errors.New("payload too short")
	ErrDimensionMismatch = errors.New("payload size does not match dimensions")
	ErrMissingReference  = errors.New("delta frame without reference frame")
)

// ColorFrame is a decoded color image in I420 (YUV 4:2:0) layout.
type ColorFrame struct {
	Width   uint16
	Height  uint16
	Y       []byte // Luminance plane
	U       []byte // Chrominance U plane
	V       []byte // Chrominance V plane
	YStride int
	UStride int
	VStride int
}

// DepthFrame is a decoded depth image with one sample per pixel in
// millimeters. Zero marks an invalid pixel.
type DepthFrame struct {
	Width   uint16
	Height  uint16
	Samples []uint16
}

// ColorDecoder turns a color payload into a frame.
type ColorDecoder interface {
	Decode(payload []byte) (*ColorFrame, error)
}

// DepthDecoder turns a depth payload into a frame. Implementations may keep
// state between calls; a keyframe resets that state.
type DepthDecoder interface {
	Decode(payload []byte, keyframe bool) (*DepthFrame, error)
}

// frameHeaderSize is the [width u16][height u16] prefix of both raw formats.
const frameHeaderSize = 4

func readDimensions(payload []byte) (uint16, uint16, error) {
	if len(payload) < frameHeaderSize {
		return 0, 0, fmt.Errorf("%w: %d bytes", ErrPayloadTooShort, len(payload))
	}
	return binary.LittleEndian.Uint16(payload[0:2]), binary.LittleEndian.Uint16(payload[2:4]), nil
}

// RawColorDecoder decodes uncompressed I420 payloads:
//
//	[width u16][height u16][Y...][U...][V...]
type RawColorDecoder struct{}

// NewRawColorDecoder creates a decoder for uncompressed I420 payloads.
func NewRawColorDecoder() *RawColorDecoder {
	return &RawColorDecoder{}
}

// Decode copies the planes out of payload.
func (d *RawColorDecoder) Decode(payload []byte) (*ColorFrame, error) {
	width, height, err := readDimensions(payload)
	if err != nil {
		return nil, err
	}

	ySize := int(width) * int(height)
	uvSize := ySize / 4

	expectedSize := frameHeaderSize + ySize + 2*uvSize
	if len(payload) != expectedSize {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, expectedSize, len(payload))
	}

	frame := &ColorFrame{
		Width:   width,
		Height:  height,
		YStride: int(width),
		UStride: int(width) / 2,
		VStride: int(width) / 2,
		Y:       make([]byte, ySize),
		U:       make([]byte, uvSize),
		V:       make([]byte, uvSize),
	}

	offset := frameHeaderSize
	copy(frame.Y, payload[offset:offset+ySize])
	offset += ySize
	copy(frame.U, payload[offset:offset+uvSize])
	offset += uvSize
	copy(frame.V, payload[offset:offset+uvSize])

	return frame, nil
}

// EncodeRawColor packs a color frame in the RawColorDecoder format.
func EncodeRawColor(frame *ColorFrame) []byte {
	data := make([]byte, frameHeaderSize, frameHeaderSize+len(frame.Y)+len(frame.U)+len(frame.V))
	binary.LittleEndian.PutUint16(data[0:2], frame.Width)
	binary.LittleEndian.PutUint16(data[2:4], frame.Height)
	data = append(data, frame.Y...)
	data = append(data, frame.U...)
	return append(data, frame.V...)
}

// DeltaDepthDecoder decodes depth payloads where a keyframe carries absolute
// samples and every other frame carries signed differences to the previously
// decoded frame:
//
//	keyframe: [width u16][height u16][sample u16 ...]
//	delta:    [width u16][height u16][diff i16 ...]
//
// It is safe for concurrent use, although a session only decodes serially.
type DeltaDepthDecoder struct {
	mu       sync.Mutex
	previous *DepthFrame
}

// NewDeltaDepthDecoder creates a new depth decoder without a reference frame.
func NewDeltaDepthDecoder() *DeltaDepthDecoder {
	return &DeltaDepthDecoder{}
}

// Decode reconstructs a depth frame. The returned frame is never modified by
// later calls.
func (d *DeltaDepthDecoder) Decode(payload []byte, keyframe bool) (*DepthFrame, error) {
	width, height, err := readDimensions(payload)
	if err != nil {
		return nil, err
	}

	pixels := int(width) * int(height)
	if len(payload) != frameHeaderSize+2*pixels {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, frameHeaderSize+2*pixels, len(payload))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	frame := &DepthFrame{Width: width, Height: height, Samples: make([]uint16, pixels)}
	body := payload[frameHeaderSize:]

	if keyframe {
		for i := range frame.Samples {
			frame.Samples[i] = binary.LittleEndian.Uint16(body[2*i:])
		}
		d.previous = frame
		return frame, nil
	}

	if d.previous == nil {
		return nil, ErrMissingReference
	}
	if d.previous.Width != width || d.previous.Height != height {
		logrus.WithFields(logrus.Fields{
			"function":        "DeltaDepthDecoder.Decode",
			"previous_width":  d.previous.Width,
			"previous_height": d.previous.Height,
			"width":           width,
			"height":          height,
		}).Warn("Delta frame dimensions differ from reference")
		return nil, fmt.Errorf("%w: delta %dx%d against reference %dx%d",
			ErrDimensionMismatch, width, height, d.previous.Width, d.previous.Height)
	}

	for i := range frame.Samples {
		diff := int16(binary.LittleEndian.Uint16(body[2*i:]))
		frame.Samples[i] = uint16(int32(d.previous.Samples[i]) + int32(diff))
	}
	d.previous = frame
	return frame, nil
}

// Reset forgets the reference frame so the next payload must be a keyframe.
func (d *DeltaDepthDecoder) Reset() {
	d.mu.Lock()
	d.previous = nil
	d.mu.Unlock()
}

// EncodeDepthKeyframe packs a depth frame as absolute samples.
func EncodeDepthKeyframe(frame *DepthFrame) []byte {
	data := make([]byte, frameHeaderSize+2*len(frame.Samples))
	binary.LittleEndian.PutUint16(data[0:2], frame.Width)
	binary.LittleEndian.PutUint16(data[2:4], frame.Height)
	for i, s := range frame.Samples {
		binary.LittleEndian.PutUint16(data[frameHeaderSize+2*i:], s)
	}
	return data
}

// EncodeDepthDelta packs frame as differences to previous. Both frames must
// have the same dimensions.
func EncodeDepthDelta(previous, frame *DepthFrame) ([]byte, error) {
	if previous.Width != frame.Width || previous.Height != frame.Height {
		return nil, ErrDimensionMismatch
	}
	data := make([]byte, frameHeaderSize+2*len(frame.Samples))
	binary.LittleEndian.PutUint16(data[0:2], frame.Width)
	binary.LittleEndian.PutUint16(data[2:4], frame.Height)
	for i, s := range frame.Samples {
		diff := uint16(int16(int32(s) - int32(previous.Samples[i])))
		binary.LittleEndian.PutUint16(data[frameHeaderSize+2*i:], diff)
	}
	return data, nil
}
