// Package capture relays speech capture between connected clients and the
// turn controller.
package capture

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saker-ai/presence-engine/internal/provider"
	"github.com/saker-ai/presence-engine/pkg/audio"
)

// Capture modes.
const (
	// ModeBrowser: the client runs speech recognition and sends transcripts.
	ModeBrowser = "browser"
	// ModeWhisper: the client streams microphone PCM, transcribed here.
	ModeWhisper = "whisper"
)

// Commander reaches the connected capture clients.
type Commander interface {
	// CaptureClients counts clients able to capture in mode.
	CaptureClients(mode string) int
	// SendCapture asks those clients to start or stop capturing.
	SendCapture(start bool, mode string)
}

// Sink receives capture results. *turn.Controller implements it.
type Sink interface {
	HandlePartial(text string)
	HandleFinal(text string)
	HandleCaptureError(reason string)
}

// Config tunes a Relay.
type Config struct {
	Mode              string
	MaxRecording      time.Duration
	TranscribeTimeout time.Duration
}

// Relay implements the capture capability over client connections.
type Relay struct {
	cfg         Config
	commander   Commander
	transcriber provider.Transcriber
	logger      *zap.Logger

	mu     sync.Mutex
	sink   Sink
	active bool
	pcm    []int16
	format audio.Format
}

// NewRelay creates a relay. transcriber is only used in ModeWhisper.
func NewRelay(cfg Config, commander Commander, transcriber provider.Transcriber, logger *zap.Logger) *Relay {
	if cfg.Mode != ModeWhisper {
		cfg.Mode = ModeBrowser
	}
	if cfg.MaxRecording <= 0 {
		cfg.MaxRecording = 60 * time.Second
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{cfg: cfg, commander: commander, transcriber: transcriber, logger: logger}
}

// SetSink installs the result receiver.
func (r *Relay) SetSink(sink Sink) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

// Mode returns the capture mode.
func (r *Relay) Mode() string { return r.cfg.Mode }

// Active reports whether a capture is running.
func (r *Relay) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Start asks capable clients to begin capturing.
func (r *Relay) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.cfg.Mode == ModeWhisper && r.transcriber == nil {
		return fmt.Errorf("capture: %w: no transcriber configured", provider.ErrUnsupportedCapability)
	}
	if r.commander == nil || r.commander.CaptureClients(r.cfg.Mode) == 0 {
		return fmt.Errorf("capture: %w: no %s capture client connected", provider.ErrUnsupportedCapability, r.cfg.Mode)
	}
	r.mu.Lock()
	r.active = true
	r.pcm = r.pcm[:0]
	r.format = audio.Format{}
	r.mu.Unlock()
	r.commander.SendCapture(true, r.cfg.Mode)
	r.logger.Info("capture started", zap.String("mode", r.cfg.Mode))
	return nil
}

// Stop asks clients to stop capturing. Buffered audio is discarded.
func (r *Relay) Stop() {
	r.mu.Lock()
	wasActive := r.active
	r.active = false
	r.pcm = r.pcm[:0]
	r.mu.Unlock()
	if wasActive && r.commander != nil {
		r.commander.SendCapture(false, r.cfg.Mode)
		r.logger.Debug("capture stopped", zap.String("mode", r.cfg.Mode))
	}
}

// Partial forwards an interim transcript.
func (r *Relay) Partial(text string) {
	if sink := r.activeSink(); sink != nil {
		sink.HandlePartial(text)
	}
}

// Final forwards a final transcript.
func (r *Relay) Final(text string) {
	if sink := r.activeSink(); sink != nil {
		sink.HandleFinal(strings.TrimSpace(text))
	}
}

// Fail forwards a client-side recognition error.
func (r *Relay) Fail(reason string) {
	if sink := r.activeSink(); sink != nil {
		sink.HandleCaptureError(reason)
	}
}

// AppendAudio buffers microphone samples in ModeWhisper. Samples past the
// recording limit are dropped.
func (r *Relay) AppendAudio(samples []int16, format audio.Format) {
	if len(samples) == 0 || !format.Valid() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active || r.cfg.Mode != ModeWhisper {
		return
	}
	if r.format != format {
		if len(r.pcm) > 0 {
			r.logger.Warn("microphone format changed mid-recording; restarting buffer",
				zap.Int("sample_rate", format.SampleRate),
				zap.Int("channels", format.Channels),
			)
		}
		r.pcm = r.pcm[:0]
		r.format = format
	}
	limit := int(r.cfg.MaxRecording.Seconds() * float64(format.SampleRate*format.Channels))
	room := limit - len(r.pcm)
	if room <= 0 {
		return
	}
	if len(samples) > room {
		samples = samples[:room]
	}
	r.pcm = append(r.pcm, samples...)
}

// EndAudio transcribes the buffered recording and reports the result. It
// blocks for the transcription; callers on a read loop run it in a goroutine.
func (r *Relay) EndAudio(ctx context.Context) {
	r.mu.Lock()
	if !r.active || r.cfg.Mode != ModeWhisper {
		r.mu.Unlock()
		return
	}
	samples := append([]int16(nil), r.pcm...)
	format := r.format
	r.pcm = r.pcm[:0]
	sink := r.sink
	r.mu.Unlock()
	if sink == nil {
		return
	}
	if len(samples) == 0 {
		sink.HandleCaptureError("no-speech")
		return
	}

	mono := audio.MixToMono(samples, format.Channels)
	wav := audio.EncodeWAV(audio.Int16ToBytesInto(nil, mono), audio.Format{SampleRate: format.SampleRate, Channels: 1})
	ctx, cancel := context.WithTimeout(ctx, r.cfg.TranscribeTimeout)
	defer cancel()
	start := time.Now()
	text, err := r.transcriber.Transcribe(ctx, wav)
	if err != nil {
		r.logger.Warn("transcription failed", zap.Error(err))
		if provider.Classify(err) == provider.KindCanceled {
			return
		}
		sink.HandleCaptureError(reason(err))
		return
	}
	r.logger.Debug("transcription done",
		zap.Duration("latency", time.Since(start)),
		zap.Duration("recording", format.Duration(len(samples)*2)),
	)
	if strings.TrimSpace(text) == "" {
		sink.HandleCaptureError("no-speech")
		return
	}
	sink.HandleFinal(strings.TrimSpace(text))
}

func (r *Relay) activeSink() Sink {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return nil
	}
	return r.sink
}

func reason(err error) string {
	switch provider.Classify(err) {
	case provider.KindConfiguration:
		return "not-allowed"
	case provider.KindTransport, provider.KindProtocol:
		return "network"
	default:
		return err.Error()
	}
}
