// Package playback owns the single active speech playback.
package playback

import (
	"errors"
	"time"

	"github.com/saker-ai/presence-engine/pkg/audio"
)

// Resource sources.
const (
	SourceRemote = "remote"
	SourceLocal  = "local"
)

var (
	// ErrInvalidResource is returned for empty or malformed audio.
	ErrInvalidResource = errors.New("playback: invalid audio resource")
	// ErrStopped marks a playback that was stopped or superseded.
	ErrStopped = errors.New("playback: stopped")
	// ErrTimeout marks a playback that outlived its expected duration.
	ErrTimeout = errors.New("playback: timed out")
	// ErrNoOutput is returned when no audio output is configured.
	ErrNoOutput = errors.New("playback: no audio output")
	// ErrVoiceUnavailable is returned when the local voice cannot run.
	ErrVoiceUnavailable = errors.New("playback: local voice unavailable")
)

// Resource is decoded speech ready to play.
type Resource struct {
	PCM    []byte
	Format audio.Format
	Source string
	Text   string
}

// Validate checks that the resource holds playable audio.
func (r Resource) Validate() error {
	if !r.Format.Valid() {
		return ErrInvalidResource
	}
	if len(r.PCM) < r.Format.BytesPerFrame() {
		return ErrInvalidResource
	}
	return nil
}

// Duration is the playing time of the resource.
func (r Resource) Duration() time.Duration {
	return r.Format.Duration(len(r.PCM))
}

// convert mixes down and resamples r to the output format.
func convert(r Resource, out audio.Format) (Resource, error) {
	if r.Format == out {
		return r, nil
	}
	samples := audio.BytesToInt16Into(nil, r.PCM)
	samples = audio.MixToMono(samples, r.Format.Channels)
	if r.Format.SampleRate != out.SampleRate {
		resampled, err := audio.Resample(samples, r.Format.SampleRate, out.SampleRate)
		if err != nil {
			return Resource{}, err
		}
		samples = resampled
	}
	if out.Channels > 1 {
		wide := make([]int16, 0, len(samples)*out.Channels)
		for _, s := range samples {
			for ch := 0; ch < out.Channels; ch++ {
				wide = append(wide, s)
			}
		}
		samples = wide
	}
	r.PCM = audio.Int16ToBytesInto(nil, samples)
	r.Format = out
	return r, nil
}

// window copies up to len(dst) mono samples that end at byte offset pos.
func window(pcm []byte, f audio.Format, pos int, dst []float32) int {
	if len(dst) == 0 || !f.Valid() {
		return 0
	}
	frameBytes := f.BytesPerFrame()
	if pos > len(pcm) {
		pos = len(pcm)
	}
	end := pos / frameBytes
	start := end - len(dst)
	if start < 0 {
		start = 0
	}
	n := 0
	for i := start; i < end; i++ {
		off := i * frameBytes
		s := int16(uint16(pcm[off]) | uint16(pcm[off+1])<<8)
		dst[n] = float32(s) / 32767
		n++
	}
	return n
}
