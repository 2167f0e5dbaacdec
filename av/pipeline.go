package av

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/volstream/av/video"
	"github.com/opd-ai/volstream/transport"
)

// DecodedFrame is a color and depth image pair ready for rendering.
type DecodedFrame struct {
	ReceiverSessionID uint32
	FrameID           int32
	Keyframe          bool
	FrameTimeStamp    float32
	Color             *video.ColorFrame
	Depth             *video.DepthFrame
}

// PipelineResult describes one Process call.
type PipelineResult struct {
	Decoded            int
	DecodeErrors       int
	LastFrameID        int32
	DecodeDuration     time.Duration
	InterFrameDuration time.Duration
	// Frame is the last frame of the batch, nil when it failed to decode.
	Frame *DecodedFrame
	// ReportErr is the send error of the Report packet, if any.
	ReportErr error
}

// Pipeline decodes the frames selected for one session and reports decoder
// performance back to the sender. It owns the session's decoders, which keep
// state across frames.
type Pipeline struct {
	receiverSessionID uint32
	endpoint          net.Addr
	transport         transport.Transport
	color             video.ColorDecoder
	depth             video.DepthDecoder
	timeProvider      TimeProvider
	lastReportAt      time.Time
}

// NewPipeline creates a decode pipeline for one session.
func NewPipeline(receiverSessionID uint32, endpoint net.Addr, tr transport.Transport, color video.ColorDecoder, depth video.DepthDecoder) (*Pipeline, error) {
	if color == nil || depth == nil {
		return nil, ErrNoDecoder
	}
	if tr == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}

	tp := TimeProvider(DefaultTimeProvider{})
	return &Pipeline{
		receiverSessionID: receiverSessionID,
		endpoint:          endpoint,
		transport:         tr,
		color:             color,
		depth:             depth,
		timeProvider:      tp,
		lastReportAt:      tp.Now(),
	}, nil
}

// SetTimeProvider sets the time provider for deterministic testing.
func (p *Pipeline) SetTimeProvider(tp TimeProvider) {
	p.timeProvider = tp
	p.lastReportAt = tp.Now()
}

// Process decodes every frame in order, since delta codecs need each step,
// then sends one Report for the last frame. Only the last frame is returned
// for rendering. Decode failures are counted and do not stop the batch.
func (p *Pipeline) Process(frames []*video.Message) PipelineResult {
	result := PipelineResult{LastFrameID: video.NoFrameRendered}
	if len(frames) == 0 {
		return result
	}

	start := p.timeProvider.Now()

	var last *DecodedFrame
	for _, msg := range frames {
		decoded, err := p.decode(msg)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":         "Pipeline.Process",
				"receiver_session": p.receiverSessionID,
				"frame_id":         msg.FrameID,
				"keyframe":         msg.Keyframe,
				"error":            err.Error(),
			}).Warn("Frame decode failed")
			result.DecodeErrors++
			last = nil
		} else {
			result.Decoded++
			last = decoded
		}
		result.LastFrameID = msg.FrameID
	}

	result.DecodeDuration = p.timeProvider.Since(start)
	now := p.timeProvider.Now()
	result.InterFrameDuration = now.Sub(p.lastReportAt)
	p.lastReportAt = now
	result.Frame = last

	report := &transport.ReportPacket{
		ReceiverSessionID:    p.receiverSessionID,
		FrameID:              result.LastFrameID,
		DecodeDurationMs:     durationMs(result.DecodeDuration),
		InterFrameDurationMs: durationMs(result.InterFrameDuration),
	}
	if err := p.transport.Send(report, p.endpoint); err != nil {
		result.ReportErr = err
	}

	return result
}

func (p *Pipeline) decode(msg *video.Message) (*DecodedFrame, error) {
	// Depth first: it is the stateful decoder and must see every frame.
	depth, depthErr := p.depth.Decode(msg.DepthPayload, msg.Keyframe)
	color, colorErr := p.color.Decode(msg.ColorPayload)

	if depthErr != nil {
		return nil, fmt.Errorf("%w: depth: %v", ErrDecodeFailed, depthErr)
	}
	if colorErr != nil {
		return nil, fmt.Errorf("%w: color: %v", ErrDecodeFailed, colorErr)
	}

	return &DecodedFrame{
		ReceiverSessionID: p.receiverSessionID,
		FrameID:           msg.FrameID,
		Keyframe:          msg.Keyframe,
		FrameTimeStamp:    msg.FrameTimeStamp,
		Color:             color,
		Depth:             depth,
	}, nil
}

// SetEndpoint updates where reports are sent.
func (p *Pipeline) SetEndpoint(endpoint net.Addr) {
	p.endpoint = endpoint
}

func durationMs(d time.Duration) float32 {
	return float32(d.Seconds() * 1000)
}
