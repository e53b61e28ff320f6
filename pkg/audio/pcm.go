// Package audio holds PCM helpers shared by the playback outputs.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Format describes interleaved signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

// Valid reports whether the format can be played.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// Duration returns the playing time of n bytes in this format.
func (f Format) Duration(n int) time.Duration {
	if !f.Valid() {
		return 0
	}
	frames := n / (2 * f.Channels)
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// BytesPerFrame is the size of one sample across all channels.
func (f Format) BytesPerFrame() int {
	return 2 * f.Channels
}

func float32ToInt16(sample float32) int16 {
	if sample > 1.0 {
		return math.MaxInt16
	}
	if sample < -1.0 {
		return math.MinInt16
	}
	return int16(sample * math.MaxInt16)
}

// Float32ToInt16Into converts samples into dst, growing it when needed.
func Float32ToInt16Into(dst []int16, samples []float32) []int16 {
	if cap(dst) < len(samples) {
		dst = make([]int16, len(samples))
	} else {
		dst = dst[:len(samples)]
	}
	for i, s := range samples {
		dst[i] = float32ToInt16(s)
	}
	return dst
}

// Int16ToFloat32Into converts samples into dst scaled to [-1,1].
func Int16ToFloat32Into(dst []float32, samples []int16) []float32 {
	if cap(dst) < len(samples) {
		dst = make([]float32, len(samples))
	} else {
		dst = dst[:len(samples)]
	}
	for i, s := range samples {
		dst[i] = float32(s) / float32(math.MaxInt16)
	}
	return dst
}

// Int16ToBytesInto encodes samples as little-endian bytes.
func Int16ToBytesInto(dst []byte, samples []int16) []byte {
	needed := len(samples) * 2
	if cap(dst) < needed {
		dst = make([]byte, needed)
	} else {
		dst = dst[:needed]
	}
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(s))
	}
	return dst
}

// BytesToInt16Into decodes little-endian bytes. A trailing odd byte is dropped.
func BytesToInt16Into(dst []int16, pcm []byte) []int16 {
	n := len(pcm) / 2
	if cap(dst) < n {
		dst = make([]int16, n)
	} else {
		dst = dst[:n]
	}
	for i := 0; i < n; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return dst
}

// MixToMono averages interleaved channels into one.
func MixToMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for f := 0; f < frames; f++ {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += int(samples[f*channels+ch])
		}
		out[f] = int16(sum / channels)
	}
	return out
}

// Float64ToPCM16 encodes browser-style float samples as PCM bytes.
func Float64ToPCM16(samples []float64) []byte {
	if len(samples) == 0 {
		return nil
	}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, s))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(math.Round(v*math.MaxInt16))))
	}
	return pcm
}
