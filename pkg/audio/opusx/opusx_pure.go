//go:build !cgo

// Package opusx selects an opus encoder backend at build time.
package opusx

import "github.com/godeps/opus"

// Backend names the compiled encoder.
func Backend() string {
	return "pure-godeps/opus"
}

// Encoder wraps the pure Go encoder.
type Encoder struct {
	enc *opus.Encoder
}

// NewVoIPEncoder creates an encoder tuned for speech.
func NewVoIPEncoder(sampleRate, channels int) (*Encoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	return &Encoder{enc: enc}, nil
}

// Encode encodes one frame of pcm into data.
func (e *Encoder) Encode(pcm []int16, data []byte) (int, error) {
	return e.enc.Encode(pcm, data)
}

// SetBitrate sets the target bitrate in bits per second.
func (e *Encoder) SetBitrate(bitrate int) error {
	return e.enc.SetBitrate(bitrate)
}
