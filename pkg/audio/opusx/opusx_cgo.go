//go:build cgo

package opusx

import "github.com/hraban/opus"

// Backend names the compiled encoder.
func Backend() string {
	return "cgo-libopus"
}

// Encoder wraps libopus.
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
