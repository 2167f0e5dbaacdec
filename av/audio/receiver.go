package audio

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/volstream/transport"
)

// Sink consumes decoded audio, typically a playback ring buffer.
type Sink interface {
	WriteAudio(frameID int32, frame Frame)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(frameID int32, frame Frame)

// WriteAudio calls f.
func (f SinkFunc) WriteAudio(frameID int32, frame Frame) { f(frameID, frame) }

// ReceiveResult counts the outcome of one Receive call.
type ReceiveResult struct {
	Decoded int
	Stale   int // older than or equal to the last decoded frame
	Errors  int
}

// Receiver decodes the audio packets of one sender in frame ID order.
// It is not safe for concurrent use.
type Receiver struct {
	decoder     Decoder
	sink        Sink
	lastFrameID int32
	started     bool
}

// NewReceiver creates an audio receiver writing to sink. A nil sink discards
// decoded audio.
func NewReceiver(decoder Decoder, sink Sink) *Receiver {
	return &Receiver{decoder: decoder, sink: sink}
}

// Receive decodes packets newer than the last decoded frame, oldest first.
// Frames that fail to decode are skipped.
func (r *Receiver) Receive(packets []*transport.AudioPacket) ReceiveResult {
	var result ReceiveResult
	if len(packets) == 0 {
		return result
	}

	ordered := make([]*transport.AudioPacket, len(packets))
	copy(ordered, packets)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].FrameID < ordered[j].FrameID })

	for _, p := range ordered {
		if r.started && p.FrameID <= r.lastFrameID {
			result.Stale++
			continue
		}
		r.lastFrameID = p.FrameID
		r.started = true

		frame, err := r.decoder.Decode(p.Opus)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Receiver.Receive",
				"frame_id": p.FrameID,
				"error":    err.Error(),
			}).Debug("Skipping undecodable audio frame")
			result.Errors++
			continue
		}

		result.Decoded++
		if r.sink != nil {
			r.sink.WriteAudio(p.FrameID, frame)
		}
	}

	return result
}

// LastFrameID returns the newest frame ID seen and whether any was seen.
func (r *Receiver) LastFrameID() (int32, bool) {
	return r.lastFrameID, r.started
}
