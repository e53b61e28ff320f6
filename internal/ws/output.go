package ws

import (
	"encoding/base64"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/saker-ai/presence-engine/internal/playback"
	"github.com/saker-ai/presence-engine/internal/protocol"
	"github.com/saker-ai/presence-engine/pkg/audio"
)

// Browser audio encodings.
const (
	EncodingPCM  = "pcm16"
	EncodingOpus = "opus"
)

// BrowserOutput plays speech on connected clients. Audio is paced in real
// time on the server so completion and reactivity track what clients hear.
type BrowserOutput struct {
	hub     *Hub
	format  audio.Format
	frameMs int
	enc     *audio.OpusEncoder
	logger  *zap.Logger
	seq     atomic.Uint64
}

// NewBrowserOutput creates an output broadcasting through hub. With
// EncodingOpus the format must be an opus rate; on encoder errors it falls
// back to pcm16.
func NewBrowserOutput(hub *Hub, format audio.Format, encoding string, frameMs int, logger *zap.Logger) *BrowserOutput {
	if logger == nil {
		logger = zap.NewNop()
	}
	if frameMs <= 0 {
		frameMs = 20
	}
	o := &BrowserOutput{hub: hub, format: format, frameMs: frameMs, logger: logger}
	if encoding == EncodingOpus {
		enc, err := audio.NewOpusEncoder(format, frameMs, 0)
		if err != nil {
			logger.Warn("opus unavailable; sending pcm16", zap.Error(err))
		} else {
			o.enc = enc
		}
	}
	return o
}

// Name implements playback.Output.
func (o *BrowserOutput) Name() string { return "browser" }

// Format implements playback.Output.
func (o *BrowserOutput) Format() audio.Format { return o.format }

// Encoding reports the wire encoding in use.
func (o *BrowserOutput) Encoding() string {
	if o.enc != nil {
		return EncodingOpus
	}
	return EncodingPCM
}

// Open implements playback.Output.
func (o *BrowserOutput) Open(pcm []byte) (playback.Stream, error) {
	id := o.seq.Add(1)
	seq := 0
	stream := playback.NewPacedStream(pcm, o.format, o.frameMs, func(chunk []byte) {
		o.hub.Broadcast(o.payload(id, seq, chunk))
		seq++
	})
	go func() {
		<-stream.Done()
		o.hub.Broadcast(map[string]any{
			"type":        protocol.TypeAudioEnd,
			"playback_id": id,
			"stopped":     stream.Err() != nil,
		})
	}()
	return stream, nil
}

func (o *BrowserOutput) payload(id uint64, seq int, chunk []byte) protocol.AudioPayload {
	p := protocol.AudioPayload{
		Type:       protocol.TypeAudio,
		PlaybackID: id,
		Seq:        seq,
		Format:     EncodingPCM,
		SampleRate: o.format.SampleRate,
		Channels:   o.format.Channels,
		FrameMs:    o.frameMs,
	}
	if o.enc != nil {
		packet, err := o.enc.Encode(chunk)
		if err == nil {
			p.Format = EncodingOpus
			p.Data = base64.StdEncoding.EncodeToString(packet)
			return p
		}
		o.logger.Debug("opus encode failed", zap.Error(err))
	}
	p.Data = base64.StdEncoding.EncodeToString(chunk)
	return p
}
