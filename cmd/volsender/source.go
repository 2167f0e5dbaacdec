package main

import (
	"github.com/opd-ai/volstream/av/video"
)

// frameSource generates a moving test pattern: a luma gradient scrolling
// horizontally and a depth ramp that slowly approaches the camera.
type frameSource struct {
	width, height uint16
	keyframeEvery int

	frameID int32
	depth   *video.DepthFrame
}

func newFrameSource(width, height uint16, keyframeEvery int) *frameSource {
	return &frameSource{width: width, height: height, keyframeEvery: keyframeEvery}
}

func (s *frameSource) color() *video.ColorFrame {
	w, h := int(s.width), int(s.height)
	frame := &video.ColorFrame{
		Width:  s.width,
		Height: s.height,
		Y:      make([]byte, w*h),
		U:      make([]byte, w*h/4),
		V:      make([]byte, w*h/4),
	}
	shift := int(s.frameID)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			frame.Y[y*w+x] = byte((x + shift) * 255 / w)
		}
	}
	for i := range frame.U {
		frame.U[i] = 128
		frame.V[i] = 128
	}
	return frame
}

func (s *frameSource) nextDepth() *video.DepthFrame {
	w, h := int(s.width), int(s.height)
	frame := &video.DepthFrame{Width: s.width, Height: s.height, Samples: make([]uint16, w*h)}
	base := 3000 - int(s.frameID%1000)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			frame.Samples[y*w+x] = uint16(base + y*4)
		}
	}
	return frame
}

// next returns the next message of the sequence.
func (s *frameSource) next(timestampMs float32) (*video.Message, error) {
	keyframe := s.depth == nil || int(s.frameID)%s.keyframeEvery == 0
	depth := s.nextDepth()

	var depthPayload []byte
	if keyframe {
		depthPayload = video.EncodeDepthKeyframe(depth)
	} else {
		payload, err := video.EncodeDepthDelta(s.depth, depth)
		if err != nil {
			return nil, err
		}
		depthPayload = payload
	}

	msg := &video.Message{
		FrameID:        s.frameID,
		Keyframe:       keyframe,
		FrameTimeStamp: timestampMs,
		ColorPayload:   video.EncodeRawColor(s.color()),
		DepthPayload:   depthPayload,
	}

	s.depth = depth
	s.frameID++
	return msg, nil
}
