package audio

import (
	"errors"
	"fmt"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

// ErrEmptyFrame indicates an audio packet without Opus data.
var ErrEmptyFrame = errors.New("empty audio frame")

// maxFrameSamples is the largest Opus frame per channel: 120 ms at 48 kHz.
const maxFrameSamples = 5760

// Frame is one block of decoded PCM.
type Frame struct {
	PCM        []int16 // interleaved when Channels is 2
	SampleRate uint32
	Channels   int
}

// Decoder turns one encoded audio frame into PCM.
type Decoder interface {
	Decode(data []byte) (Frame, error)
}

// OpusDecoder decodes Opus frames with pion/opus.
type OpusDecoder struct {
	decoder opus.Decoder
	buffer  []byte
}

// NewOpusDecoder creates a new Opus decoder.
func NewOpusDecoder() *OpusDecoder {
	return &OpusDecoder{
		decoder: opus.NewDecoder(),
		buffer:  make([]byte, maxFrameSamples*2*2), // stereo, 16-bit
	}
}

// Decode decodes one Opus frame into 16-bit little-endian PCM samples.
func (d *OpusDecoder) Decode(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, ErrEmptyFrame
	}

	bandwidth, isStereo, err := d.decoder.Decode(data, d.buffer)
	if err != nil {
		return Frame{}, fmt.Errorf("opus decode failed: %w", err)
	}

	channels := 1
	if isStereo {
		channels = 2
	}

	// 20 ms is the frame duration senders use.
	sampleRate := uint32(bandwidth.SampleRate())
	samples := int(sampleRate) / 50 * channels
	if samples*2 > len(d.buffer) {
		samples = len(d.buffer) / 2
	}

	pcm := make([]int16, samples)
	for i := range pcm {
		pcm[i] = int16(uint16(d.buffer[2*i]) | uint16(d.buffer[2*i+1])<<8)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "OpusDecoder.Decode",
		"input_size":  len(data),
		"bandwidth":   bandwidth.String(),
		"is_stereo":   isStereo,
		"pcm_samples": len(pcm),
	}).Debug("Decoded opus frame")

	return Frame{PCM: pcm, SampleRate: sampleRate, Channels: channels}, nil
}
