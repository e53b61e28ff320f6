package audio

import (
	"fmt"
	"sync"

	"github.com/saker-ai/presence-engine/pkg/audio/opusx"
)

// OpusEncoder encodes fixed-duration PCM frames.
type OpusEncoder struct {
	mu        sync.Mutex
	enc       *opusx.Encoder
	format    Format
	frameMs   int
	frameSize int
	scratch   []int16
	packet    []byte
}

// NewOpusEncoder creates an encoder for frames of frameMs milliseconds.
// bitrate <= 0 keeps the codec default.
func NewOpusEncoder(format Format, frameMs, bitrate int) (*OpusEncoder, error) {
	switch format.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("opus: unsupported sample rate %d", format.SampleRate)
	}
	if frameMs <= 0 {
		frameMs = 20
	}
	enc, err := opusx.NewVoIPEncoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	if bitrate > 0 {
		if err := enc.SetBitrate(bitrate); err != nil {
			return nil, fmt.Errorf("set opus bitrate: %w", err)
		}
	}
	frameSize := format.SampleRate * frameMs / 1000
	return &OpusEncoder{
		enc:       enc,
		format:    format,
		frameMs:   frameMs,
		frameSize: frameSize,
		scratch:   make([]int16, frameSize*format.Channels),
		packet:    make([]byte, 4000),
	}, nil
}

// FrameBytes is the PCM byte length of one frame.
func (e *OpusEncoder) FrameBytes() int {
	return e.frameSize * e.format.BytesPerFrame()
}

// FrameMs is the frame duration in milliseconds.
func (e *OpusEncoder) FrameMs() int {
	return e.frameMs
}

// Encode encodes one frame. Short input is padded with silence.
func (e *OpusEncoder) Encode(pcm []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	samples := BytesToInt16Into(e.scratch[:0], pcm)
	want := e.frameSize * e.format.Channels
	if len(samples) > want {
		samples = samples[:want]
	}
	for len(samples) < want {
		samples = append(samples, 0)
	}
	e.scratch = samples

	n, err := e.enc.Encode(samples, e.packet)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, e.packet[:n])
	return out, nil
}

// Backend reports the compiled opus implementation.
func Backend() string {
	return opusx.Backend()
}
