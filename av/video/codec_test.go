package video

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testColorFrame(width, height uint16) *ColorFrame {
	ySize := int(width) * int(height)
	frame := &ColorFrame{
		Width:   width,
		Height:  height,
		YStride: int(width),
		UStride: int(width) / 2,
		VStride: int(width) / 2,
		Y:       make([]byte, ySize),
		U:       make([]byte, ySize/4),
		V:       make([]byte, ySize/4),
	}
	for i := range frame.Y {
		frame.Y[i] = byte(i)
	}
	for i := range frame.U {
		frame.U[i] = byte(100 + i)
		frame.V[i] = byte(200 + i)
	}
	return frame
}

func TestRawColorDecoder_Decode(t *testing.T) {
	frame := testColorFrame(8, 4)

	decoded, err := NewRawColorDecoder().Decode(EncodeRawColor(frame))
	require.NoError(t, err)
	assert.Equal(t, frame, decoded)
}

func TestRawColorDecoder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		wantErr error
	}{
		{"too short", []byte{1, 0}, ErrPayloadTooShort},
		{"truncated planes", append(EncodeRawColor(testColorFrame(4, 4)), 0)[:10], ErrDimensionMismatch},
		{"extra bytes", append(EncodeRawColor(testColorFrame(4, 4)), 0), ErrDimensionMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRawColorDecoder().Decode(tt.payload)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDeltaDepthDecoder_KeyframeAndDeltas(t *testing.T) {
	frames := []*DepthFrame{
		{Width: 3, Height: 2, Samples: []uint16{1000, 1200, 0, 65535, 500, 40000}},
		{Width: 3, Height: 2, Samples: []uint16{1010, 1190, 0, 0, 501, 2}},
		{Width: 3, Height: 2, Samples: []uint16{1020, 1180, 300, 65000, 502, 60000}},
	}

	decoder := NewDeltaDepthDecoder()

	first, err := decoder.Decode(EncodeDepthKeyframe(frames[0]), true)
	require.NoError(t, err)
	assert.Equal(t, frames[0], first)

	var decoded []*DepthFrame
	for i := 1; i < len(frames); i++ {
		payload, err := EncodeDepthDelta(frames[i-1], frames[i])
		require.NoError(t, err)

		frame, err := decoder.Decode(payload, false)
		require.NoError(t, err)
		assert.Equal(t, frames[i], frame)
		decoded = append(decoded, frame)
	}

	// Earlier results stay untouched by later decodes.
	assert.Equal(t, frames[0], first)
	assert.Equal(t, frames[1], decoded[0])
}

func TestDeltaDepthDecoder_Errors(t *testing.T) {
	key := &DepthFrame{Width: 2, Height: 1, Samples: []uint16{1, 2}}
	delta, err := EncodeDepthDelta(key, &DepthFrame{Width: 2, Height: 1, Samples: []uint16{3, 4}})
	require.NoError(t, err)

	t.Run("delta without reference", func(t *testing.T) {
		_, err := NewDeltaDepthDecoder().Decode(delta, false)
		assert.ErrorIs(t, err, ErrMissingReference)
	})

	t.Run("delta after reset", func(t *testing.T) {
		decoder := NewDeltaDepthDecoder()
		_, err := decoder.Decode(EncodeDepthKeyframe(key), true)
		require.NoError(t, err)

		decoder.Reset()
		_, err = decoder.Decode(delta, false)
		assert.ErrorIs(t, err, ErrMissingReference)
	})

	t.Run("dimension change on delta", func(t *testing.T) {
		decoder := NewDeltaDepthDecoder()
		_, err := decoder.Decode(EncodeDepthKeyframe(key), true)
		require.NoError(t, err)

		other := &DepthFrame{Width: 1, Height: 2, Samples: []uint16{0, 0}}
		otherDelta, err := EncodeDepthDelta(other, other)
		require.NoError(t, err)
		_, err = decoder.Decode(otherDelta, false)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("size mismatch", func(t *testing.T) {
		_, err := NewDeltaDepthDecoder().Decode(EncodeDepthKeyframe(key)[:5], true)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := NewDeltaDepthDecoder().Decode([]byte{2}, true)
		assert.ErrorIs(t, err, ErrPayloadTooShort)
	})
}

func TestEncodeDepthDelta_DimensionMismatch(t *testing.T) {
	_, err := EncodeDepthDelta(
		&DepthFrame{Width: 1, Height: 1, Samples: []uint16{0}},
		&DepthFrame{Width: 2, Height: 1, Samples: []uint16{0, 0}},
	)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
