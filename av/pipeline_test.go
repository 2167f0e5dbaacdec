package av

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/volstream/av/video"
	vstesting "github.com/opd-ai/volstream/testing"
	"github.com/opd-ai/volstream/transport"
)

var errCorrupt = errors.New("corrupt payload")

// stubColorDecoder fails on payloads starting with 0xFF and advances the
// clock to simulate decode time.
type stubColorDecoder struct {
	clock *mockTimeProvider
	cost  time.Duration
	calls int
}

func (d *stubColorDecoder) Decode(payload []byte) (*video.ColorFrame, error) {
	d.calls++
	if d.clock != nil {
		d.clock.Advance(d.cost)
	}
	if len(payload) > 0 && payload[0] == 0xFF {
		return nil, errCorrupt
	}
	return &video.ColorFrame{Width: 2, Height: 2, Y: append([]byte{}, payload...)}, nil
}

// stubDepthDecoder records the keyframe flags it was called with.
type stubDepthDecoder struct {
	keyframes []bool
}

func (d *stubDepthDecoder) Decode(payload []byte, keyframe bool) (*video.DepthFrame, error) {
	d.keyframes = append(d.keyframes, keyframe)
	return &video.DepthFrame{Width: 1, Height: 1, Samples: []uint16{uint16(len(payload))}}, nil
}

func frame(id int32, keyframe bool, color ...byte) *video.Message {
	if len(color) == 0 {
		color = []byte{byte(id)}
	}
	return &video.Message{FrameID: id, Keyframe: keyframe, ColorPayload: color, DepthPayload: []byte{1, 2}}
}

func newTestPipeline(t *testing.T) (*Pipeline, *vstesting.SimulatedTransport, *stubColorDecoder, *stubDepthDecoder, *mockTimeProvider) {
	t.Helper()
	sim := vstesting.NewSimulatedTransport(vstesting.Addr("receiver"))
	clock := newMockTimeProvider()
	color := &stubColorDecoder{clock: clock, cost: 2 * time.Millisecond}
	depth := &stubDepthDecoder{}

	p, err := NewPipeline(11, senderAddr, sim, color, depth)
	require.NoError(t, err)
	p.SetTimeProvider(clock)
	return p, sim, color, depth, clock
}

func TestNewPipeline_RequiresDecoders(t *testing.T) {
	sim := vstesting.NewSimulatedTransport(vstesting.Addr("receiver"))
	_, err := NewPipeline(1, senderAddr, sim, nil, &stubDepthDecoder{})
	assert.ErrorIs(t, err, ErrNoDecoder)
	_, err = NewPipeline(1, senderAddr, nil, &stubColorDecoder{}, &stubDepthDecoder{})
	assert.Error(t, err)
}

func TestPipeline_DecodesAllReturnsLast(t *testing.T) {
	p, _, color, depth, _ := newTestPipeline(t)

	result := p.Process([]*video.Message{frame(4, true), frame(5, false), frame(6, false)})

	assert.Equal(t, 3, result.Decoded)
	assert.Equal(t, 3, color.calls)
	assert.Equal(t, []bool{true, false, false}, depth.keyframes)
	require.NotNil(t, result.Frame)
	assert.Equal(t, int32(6), result.Frame.FrameID)
	assert.Equal(t, uint32(11), result.Frame.ReceiverSessionID)
	assert.Equal(t, int32(6), result.LastFrameID)
}

func TestPipeline_SendsReport(t *testing.T) {
	p, sim, _, _, clock := newTestPipeline(t)

	clock.Advance(30 * time.Millisecond)
	result := p.Process([]*video.Message{frame(1, true), frame(2, false)})
	require.NoError(t, result.ReportErr)

	reports := sim.SentOfType(transport.PacketReport)
	require.Len(t, reports, 1)
	report := reports[0].(*transport.ReportPacket)
	assert.Equal(t, uint32(11), report.ReceiverSessionID)
	assert.Equal(t, int32(2), report.FrameID)
	assert.InDelta(t, 4.0, report.DecodeDurationMs, 0.001)
	assert.InDelta(t, 34.0, report.InterFrameDurationMs, 0.001)
	assert.Equal(t, senderAddr, sim.Sent()[0].Addr)

	// The next inter-frame duration is measured from this report.
	clock.Advance(10 * time.Millisecond)
	p.Process([]*video.Message{frame(3, false)})
	reports = sim.SentOfType(transport.PacketReport)
	require.Len(t, reports, 2)
	assert.InDelta(t, 12.0, reports[1].(*transport.ReportPacket).InterFrameDurationMs, 0.001)
}

func TestPipeline_EmptyBatchSendsNothing(t *testing.T) {
	p, sim, _, _, _ := newTestPipeline(t)

	result := p.Process(nil)
	assert.Nil(t, result.Frame)
	assert.Equal(t, video.NoFrameRendered, result.LastFrameID)
	assert.Empty(t, sim.Sent())
}

func TestPipeline_DecodeErrors(t *testing.T) {
	tests := []struct {
		name        string
		frames      []*video.Message
		wantDecoded int
		wantErrors  int
		wantFrame   bool
	}{
		{"middle frame fails", []*video.Message{frame(1, true), frame(2, false, 0xFF), frame(3, false)}, 2, 1, true},
		{"last frame fails", []*video.Message{frame(1, true), frame(2, false, 0xFF)}, 1, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, sim, _, _, _ := newTestPipeline(t)

			result := p.Process(tt.frames)
			assert.Equal(t, tt.wantDecoded, result.Decoded)
			assert.Equal(t, tt.wantErrors, result.DecodeErrors)
			assert.Equal(t, tt.wantFrame, result.Frame != nil)

			// The watermark still advances and the sender still hears about it.
			last := tt.frames[len(tt.frames)-1].FrameID
			assert.Equal(t, last, result.LastFrameID)
			assert.Len(t, sim.SentOfType(transport.PacketReport), 1)
		})
	}
}

func TestPipeline_ReportFailure(t *testing.T) {
	p, sim, _, _, _ := newTestPipeline(t)
	sim.FailSendsTo(senderAddr)

	result := p.Process([]*video.Message{frame(1, true)})
	assert.Error(t, result.ReportErr)
	assert.NotNil(t, result.Frame)
}
