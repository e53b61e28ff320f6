package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidWAV is returned for buffers that are not 16-bit PCM wav.
var ErrInvalidWAV = errors.New("invalid wav")

const wavHeaderSize = 44

// EncodeWAV wraps PCM in a canonical 44-byte header.
func EncodeWAV(pcm []byte, f Format) []byte {
	out := make([]byte, wavHeaderSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1)
	binary.LittleEndian.PutUint16(out[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(f.SampleRate*f.BytesPerFrame()))
	binary.LittleEndian.PutUint16(out[32:34], uint16(f.BytesPerFrame()))
	binary.LittleEndian.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}

// DecodeWAV reads a 16-bit PCM RIFF/WAVE buffer. Streaming writers leave the
// data size unset, so an oversized data chunk is truncated to what is present.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, fmt.Errorf("%w: missing RIFF header", ErrInvalidWAV)
	}
	var format Format
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		switch id {
		case "fmt ":
			if body+16 > len(data) {
				return nil, Format{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			tag := binary.LittleEndian.Uint16(data[body:])
			bits := binary.LittleEndian.Uint16(data[body+14:])
			if tag != 1 || bits != 16 {
				return nil, Format{}, fmt.Errorf("%w: encoding tag=%d bits=%d", ErrInvalidWAV, tag, bits)
			}
			format.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			if !format.Valid() {
				return nil, Format{}, fmt.Errorf("%w: bad format", ErrInvalidWAV)
			}
		case "data":
			if !format.Valid() {
				return nil, Format{}, fmt.Errorf("%w: data before fmt", ErrInvalidWAV)
			}
			end := body + size
			if size < 0 || end < body || end > len(data) {
				end = len(data)
			}
			pcm := data[body:end]
			return pcm[:len(pcm)-len(pcm)%format.BytesPerFrame()], format, nil
		}
		next := body + size + size%2
		if next <= off || next > len(data) {
			break
		}
		off = next
	}
	return nil, Format{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
}
