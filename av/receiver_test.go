package av

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/volstream/av/audio"
	"github.com/opd-ai/volstream/av/video"
	vstesting "github.com/opd-ai/volstream/testing"
	"github.com/opd-ai/volstream/transport"
)

type collectingRenderer struct {
	mu     sync.Mutex
	frames []*DecodedFrame
}

func (r *collectingRenderer) Render(frame *DecodedFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
}

func (r *collectingRenderer) ids() []int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int32, 0, len(r.frames))
	for _, f := range r.frames {
		ids = append(ids, f.FrameID)
	}
	return ids
}

type floorRecorder struct {
	planes []FloorPlane
}

func (f *floorRecorder) UpdateFloor(_ uint32, plane FloorPlane) {
	f.planes = append(f.planes, plane)
}

type nopAudioDecoder struct{}

func (nopAudioDecoder) Decode(data []byte) (audio.Frame, error) {
	return audio.Frame{PCM: make([]int16, len(data)), SampleRate: 48000, Channels: 1}, nil
}

// depthSequence produces consecutive depth frames and their encoded payloads.
type depthSequence struct {
	previous *video.DepthFrame
}

func (s *depthSequence) next(t *testing.T, id int32, keyframe bool) []byte {
	t.Helper()
	frame := &video.DepthFrame{Width: 2, Height: 2, Samples: []uint16{
		uint16(1000 + id), uint16(2000 + id), uint16(3000 - id), 0,
	}}
	defer func() { s.previous = frame }()

	if keyframe || s.previous == nil {
		return video.EncodeDepthKeyframe(frame)
	}
	payload, err := video.EncodeDepthDelta(s.previous, frame)
	require.NoError(t, err)
	return payload
}

func senderPackets(t *testing.T, packetizer *video.Packetizer, depth *depthSequence, id int32, keyframe bool) *transport.SenderPacketSet {
	t.Helper()
	color := video.EncodeRawColor(&video.ColorFrame{
		Width: 2, Height: 2,
		Y: []byte{byte(id), 1, 2, 3}, U: []byte{4}, V: []byte{5},
	})
	msg := &video.Message{
		FrameID:        id,
		Keyframe:       keyframe,
		FrameTimeStamp: float32(id),
		ColorPayload:   color,
		DepthPayload:   depth.next(t, id, keyframe),
	}
	videoPackets, fecPackets, err := packetizer.Packetize(msg)
	require.NoError(t, err)
	return &transport.SenderPacketSet{ReceivedAny: true, Video: videoPackets, FEC: fecPackets}
}

func newTestReceiver(t *testing.T, renderer Renderer, floor FloorSink) (*Receiver, *vstesting.SimulatedTransport) {
	t.Helper()
	sim := vstesting.NewSimulatedTransport(vstesting.Addr("receiver"))
	info := SessionInfo{ReceiverSessionID: 21, SenderSessionID: 8, Endpoint: senderAddr, State: SessionPreparing}

	r, err := NewReceiver(info, sim, ReceiverConfig{
		ColorDecoder: video.NewRawColorDecoder(),
		DepthDecoder: video.NewDeltaDepthDecoder(),
		Renderer:     renderer,
		AudioDecoder: nopAudioDecoder{},
		FloorSink:    floor,
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r, sim
}

func mergeSets(sets ...*transport.SenderPacketSet) *transport.SenderPacketSet {
	merged := &transport.SenderPacketSet{ReceivedAny: true}
	for _, s := range sets {
		merged.Video = append(merged.Video, s.Video...)
		merged.FEC = append(merged.FEC, s.FEC...)
	}
	return merged
}

func TestReceiver_RendersOnlyLastOfBurst(t *testing.T) {
	renderer := &collectingRenderer{}
	r, sim := newTestReceiver(t, renderer, nil)

	packetizer, err := video.NewPacketizer(8, 16, 2)
	require.NoError(t, err)
	depth := &depthSequence{}

	burst := mergeSets(
		senderPackets(t, packetizer, depth, 0, true),
		senderPackets(t, packetizer, depth, 1, false),
		senderPackets(t, packetizer, depth, 2, false),
	)

	result := r.Update(burst, true)
	assert.Len(t, result.Assembly.Frames, 3)
	assert.Equal(t, 3, result.Pipeline.Decoded)
	assert.True(t, result.Rendered)
	assert.Equal(t, int32(2), r.LastRenderedFrameID())

	r.Close()
	require.True(t, r.Wait(2*time.Second))
	assert.Equal(t, []int32{2}, renderer.ids())

	// The rendered depth is the result of applying both deltas.
	renderer.mu.Lock()
	assert.Equal(t, []uint16{1002, 2002, 2998, 0}, renderer.frames[0].Depth.Samples)
	renderer.mu.Unlock()

	reports := sim.SentOfType(transport.PacketReport)
	require.Len(t, reports, 1)
	assert.Equal(t, int32(2), reports[0].(*transport.ReportPacket).FrameID)

	stats := r.Stats()
	assert.Equal(t, uint64(3), stats.FramesDecoded)
	assert.Equal(t, uint64(1), stats.FramesRendered)
	assert.Equal(t, uint64(1), stats.ReportsSent)
	assert.Equal(t, int32(2), stats.LastFrameID)
}

func TestReceiver_NotPreparedDecodesWithoutRendering(t *testing.T) {
	renderer := &collectingRenderer{}
	r, sim := newTestReceiver(t, renderer, nil)

	packetizer, err := video.NewPacketizer(8, 64, 0)
	require.NoError(t, err)
	depth := &depthSequence{}

	result := r.Update(senderPackets(t, packetizer, depth, 0, true), false)
	assert.Equal(t, 1, result.Pipeline.Decoded)
	assert.False(t, result.Rendered)

	result = r.Update(senderPackets(t, packetizer, depth, 1, false), true)
	assert.True(t, result.Rendered)

	r.Close()
	require.True(t, r.Wait(2*time.Second))
	assert.Equal(t, []int32{1}, renderer.ids())
	assert.Len(t, sim.SentOfType(transport.PacketReport), 2)
}

func TestReceiver_NothingReceived(t *testing.T) {
	r, sim := newTestReceiver(t, &collectingRenderer{}, nil)

	result := r.Update(&transport.SenderPacketSet{}, true)
	assert.Empty(t, result.Assembly.Frames)
	assert.False(t, result.Rendered)
	assert.Empty(t, sim.Sent())

	assert.Equal(t, UpdateResult{}, r.Update(nil, true))
}

func TestReceiver_RecoversLostFragment(t *testing.T) {
	renderer := &collectingRenderer{}
	r, _ := newTestReceiver(t, renderer, nil)

	packetizer, err := video.NewPacketizer(8, 8, 4)
	require.NoError(t, err)
	set := senderPackets(t, packetizer, &depthSequence{}, 0, true)
	require.Greater(t, len(set.Video), 2)
	set.Video = append(set.Video[:1], set.Video[2:]...)

	result := r.Update(set, true)
	assert.Equal(t, 1, result.Assembly.FramesRecovered)
	assert.True(t, result.Rendered)
	assert.Equal(t, uint64(1), r.Stats().FramesRecovered)
}

func TestReceiver_AudioAndFloor(t *testing.T) {
	floor := &floorRecorder{}
	r, _ := newTestReceiver(t, &collectingRenderer{}, floor)

	set := &transport.SenderPacketSet{
		ReceivedAny: true,
		Audio: []*transport.AudioPacket{
			{SenderSessionID: 8, FrameID: 1, Opus: []byte{1}},
			{SenderSessionID: 8, FrameID: 2, Opus: []byte{2}},
		},
		Floor: []*transport.FloorPacket{
			{SenderSessionID: 8, A: 0, B: 1, C: 0, D: 1.5},
			{SenderSessionID: 8, A: 0, B: 1, C: 0, D: 1.6},
		},
	}

	result := r.Update(set, true)
	assert.Equal(t, 2, result.Audio.Decoded)
	assert.Equal(t, []FloorPlane{{A: 0, B: 1, C: 0, D: 1.6}}, floor.planes)
	assert.Equal(t, uint64(2), r.Stats().AudioFrames)
	assert.Equal(t, uint64(4), r.Stats().PacketsReceived)
}

func TestReceiver_ReportFailureIsSurfaced(t *testing.T) {
	r, sim := newTestReceiver(t, &collectingRenderer{}, nil)
	sim.FailSendsTo(senderAddr)

	packetizer, err := video.NewPacketizer(8, 64, 0)
	require.NoError(t, err)

	result := r.Update(senderPackets(t, packetizer, &depthSequence{}, 0, true), true)
	require.Error(t, result.TransportErr)

	var transportErr *transport.TransportError
	require.ErrorAs(t, result.TransportErr, &transportErr)
	assert.Equal(t, senderAddr.String(), transportErr.Addr.String())
	assert.Zero(t, r.Stats().ReportsSent)
}

func TestReceiver_CloseDoesNotWaitForRenderer(t *testing.T) {
	renderer := newBlockingRenderer()
	r, _ := newTestReceiver(t, renderer, nil)

	packetizer, err := video.NewPacketizer(8, 64, 0)
	require.NoError(t, err)
	require.True(t, r.Update(senderPackets(t, packetizer, &depthSequence{}, 0, true), true).Rendered)

	select {
	case <-renderer.started:
	case <-time.After(2 * time.Second):
		t.Fatal("renderer did not start")
	}

	closed := make(chan struct{})
	go func() {
		r.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close waited for a stuck renderer")
	}
	assert.False(t, r.Wait(10*time.Millisecond))

	close(renderer.release)
	assert.True(t, r.Wait(2*time.Second))
	assert.Equal(t, []int32{0}, renderer.renderedIDs())
}
