package av

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/volstream/av/audio"
	"github.com/opd-ai/volstream/av/video"
	"github.com/opd-ai/volstream/transport"
)

// FloorPlane is the floor plane a sender estimated, as ax + by + cz + d = 0
// in the sender's camera space.
type FloorPlane struct {
	A, B, C, D float32
}

// FloorSink receives the latest floor plane of a session.
type FloorSink interface {
	UpdateFloor(receiverSessionID uint32, plane FloorPlane)
}

// ReceiverConfig assembles the collaborators of one session's receiver.
type ReceiverConfig struct {
	ColorDecoder      video.ColorDecoder
	DepthDecoder      video.DepthDecoder
	Renderer          Renderer
	AudioDecoder      audio.Decoder // nil disables audio
	AudioSink         audio.Sink
	FloorSink         FloorSink
	MaxInFlightFrames int
	HandoffQueueSize  int
}

// UpdateResult is the outcome of one Receiver.Update call.
type UpdateResult struct {
	Assembly video.AssembleResult
	Pipeline PipelineResult
	Audio    audio.ReceiveResult
	Rendered bool

	// TransportErr is a send failure of this update, such as the Report. The
	// caller ends the sessions of the affected endpoint.
	TransportErr error
}

// Receiver runs the per-session media path: frame assembly, decode and
// report, render handoff, audio and floor updates. Each confirmed session
// owns one; nothing in it is shared with other sessions.
type Receiver struct {
	receiverSessionID uint32

	assembler *video.Assembler
	pipeline  *Pipeline
	handoff   *Handoff
	audio     *audio.Receiver
	floorSink FloorSink

	lastRendered int32

	mu    sync.RWMutex
	stats ReceiverStats
}

// NewReceiver creates the media path for a confirmed session.
func NewReceiver(info SessionInfo, tr transport.Transport, config ReceiverConfig) (*Receiver, error) {
	pipeline, err := NewPipeline(info.ReceiverSessionID, info.Endpoint, tr, config.ColorDecoder, config.DepthDecoder)
	if err != nil {
		return nil, err
	}

	r := &Receiver{
		receiverSessionID: info.ReceiverSessionID,
		assembler:         video.NewAssembler(config.MaxInFlightFrames),
		pipeline:          pipeline,
		handoff:           NewHandoff(config.Renderer, config.HandoffQueueSize),
		floorSink:         config.FloorSink,
		lastRendered:      video.NoFrameRendered,
		stats:             ReceiverStats{LastFrameID: video.NoFrameRendered},
	}
	if config.AudioDecoder != nil {
		r.audio = audio.NewReceiver(config.AudioDecoder, config.AudioSink)
	}
	return r, nil
}

// SetTimeProvider sets the time provider for deterministic testing.
func (r *Receiver) SetTimeProvider(tp TimeProvider) {
	r.pipeline.SetTimeProvider(tp)
}

// Update processes one tick's packets. Frames are decoded and reported
// whatever the session state; a frame reaches the renderer only when
// prepared is true.
func (r *Receiver) Update(set *transport.SenderPacketSet, prepared bool) UpdateResult {
	var result UpdateResult
	if set == nil {
		return result
	}

	if set.ReceivedAny {
		result.Assembly = r.assembler.Assemble(set.Video, set.FEC, r.lastRendered)
		if r.audio != nil {
			result.Audio = r.audio.Receive(set.Audio)
		}
	}

	if len(result.Assembly.Frames) > 0 {
		result.Pipeline = r.pipeline.Process(result.Assembly.Frames)
		r.lastRendered = result.Pipeline.LastFrameID

		if result.Pipeline.ReportErr != nil {
			result.TransportErr = result.Pipeline.ReportErr
			logrus.WithFields(logrus.Fields{
				"function":         "Receiver.Update",
				"receiver_session": r.receiverSessionID,
				"error":            result.Pipeline.ReportErr.Error(),
			}).Warn("Report send failed")
		}

		if prepared && result.Pipeline.Frame != nil {
			if err := r.handoff.Deliver(result.Pipeline.Frame); err == nil {
				result.Rendered = true
			} else if !errors.Is(err, ErrHandoffClosed) {
				logrus.WithFields(logrus.Fields{
					"function":         "Receiver.Update",
					"receiver_session": r.receiverSessionID,
					"error":            err.Error(),
				}).Warn("Render handoff failed")
			}
		}
	}

	if n := len(set.Floor); n > 0 && r.floorSink != nil {
		f := set.Floor[n-1]
		r.floorSink.UpdateFloor(r.receiverSessionID, FloorPlane{A: f.A, B: f.B, C: f.C, D: f.D})
	}

	r.record(set, result)
	return result
}

func (r *Receiver) record(set *transport.SenderPacketSet, result UpdateResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &r.stats
	s.PacketsReceived += uint64(len(set.Confirms) + len(set.Heartbeats) + len(set.Video) +
		len(set.FEC) + len(set.Audio) + len(set.Floor))
	s.FramesCompleted += uint64(result.Assembly.FramesCompleted)
	s.FramesRecovered += uint64(result.Assembly.FramesRecovered)
	s.FramesAbandoned += uint64(result.Assembly.FramesAbandoned)
	s.FragmentsRejected += uint64(result.Assembly.FragmentsRejected)
	s.InvalidMessages += uint64(result.Assembly.InvalidMessages)
	s.FramesDecoded += uint64(result.Pipeline.Decoded)
	s.DecodeErrors += uint64(result.Pipeline.DecodeErrors)
	s.AudioFrames += uint64(result.Audio.Decoded)

	if len(result.Assembly.Frames) > 0 {
		s.LastFrameID = result.Pipeline.LastFrameID
		s.LastDecodeTime = result.Pipeline.DecodeDuration
		if result.Pipeline.ReportErr == nil {
			s.ReportsSent++
		}
	}
	if result.Rendered {
		s.FramesRendered++
	}
}

// LastRenderedFrameID returns the session's watermark.
func (r *Receiver) LastRenderedFrameID() int32 {
	return r.lastRendered
}

// Stats returns a copy of the session's counters.
func (r *Receiver) Stats() ReceiverStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// HandoffDropped returns how many decoded frames were replaced in the render
// queue before the renderer took them.
func (r *Receiver) HandoffDropped() uint64 {
	return r.handoff.Dropped()
}

// Close stops the render handoff without waiting for the renderer.
func (r *Receiver) Close() {
	r.handoff.Close()
	r.assembler.Reset()
}

// Wait waits up to timeout for the renderer to finish the frames queued
// before Close. It reports whether the renderer finished.
func (r *Receiver) Wait(timeout time.Duration) bool {
	return r.handoff.Wait(timeout)
}
