package ws

import (
	"context"
	"encoding/base64"

	"go.uber.org/zap"

	"github.com/saker-ai/presence-engine/internal/protocol"
	"github.com/saker-ai/presence-engine/pkg/audio"
)

type incomingHandler func(context.Context, protocol.ClientCommand)

func (s *session) dispatchIncoming(ctx context.Context, msg protocol.ClientCommand) {
	handlers := map[string]incomingHandler{
		protocol.TypeTextInput:      s.onTextInput,
		protocol.TypeInterrupt:      s.onInterruptSignal,
		protocol.TypeStartListening: s.onStartListening,
		protocol.TypeStopListening:  s.onStopListening,
		protocol.TypeCaptureReady:   s.onCaptureReady,
		protocol.TypeCapturePartial: s.onCapturePartial,
		protocol.TypeCaptureFinal:   s.onCaptureFinal,
		protocol.TypeCaptureError:   s.onCaptureError,
		protocol.TypeMicAudioData:   s.onMicAudioData,
		protocol.TypeMicAudioEnd:    s.onMicAudioEnd,
		protocol.TypeHeartbeat:      s.onNoop,
	}

	if handler, ok := handlers[msg.Type]; ok {
		handler(ctx, msg)
		return
	}
	s.logger.Debug("ws unknown message type",
		zap.String("session_id", s.id),
		zap.String("type", msg.Type),
	)
}

func (s *session) onTextInput(_ context.Context, msg protocol.ClientCommand) {
	conv, _ := s.hub.bound()
	if conv == nil {
		s.sendJSON(map[string]any{"type": protocol.TypeError, "message": "conversation unavailable"})
		return
	}
	conv.Submit(msg.Text)
}

func (s *session) onInterruptSignal(_ context.Context, _ protocol.ClientCommand) {
	if conv, _ := s.hub.bound(); conv != nil {
		conv.Interrupt()
	}
}

func (s *session) onStartListening(ctx context.Context, _ protocol.ClientCommand) {
	conv, _ := s.hub.bound()
	if conv == nil {
		return
	}
	if err := conv.StartListening(ctx); err != nil {
		s.logger.Debug("start listening failed", zap.String("session_id", s.id), zap.Error(err))
	}
}

func (s *session) onStopListening(_ context.Context, _ protocol.ClientCommand) {
	if conv, _ := s.hub.bound(); conv != nil {
		conv.StopListening()
	}
}

func (s *session) onCaptureReady(_ context.Context, msg protocol.ClientCommand) {
	s.mu.Lock()
	s.modes = append(s.modes[:0], msg.Modes...)
	s.mu.Unlock()
	s.logger.Info("capture client ready",
		zap.String("session_id", s.id),
		zap.Strings("modes", msg.Modes),
	)
}

func (s *session) onCapturePartial(_ context.Context, msg protocol.ClientCommand) {
	if _, relay := s.hub.bound(); relay != nil {
		relay.Partial(msg.Text)
	}
}

func (s *session) onCaptureFinal(_ context.Context, msg protocol.ClientCommand) {
	if _, relay := s.hub.bound(); relay != nil {
		relay.Final(msg.Text)
	}
}

func (s *session) onCaptureError(_ context.Context, msg protocol.ClientCommand) {
	if _, relay := s.hub.bound(); relay != nil {
		relay.Fail(msg.Reason)
	}
}

func (s *session) onMicAudioData(_ context.Context, msg protocol.ClientCommand) {
	_, relay := s.hub.bound()
	if relay == nil {
		return
	}
	var pcm []byte
	if msg.AudioPCM != "" {
		decoded, err := base64.StdEncoding.DecodeString(msg.AudioPCM)
		if err != nil {
			s.logger.Debug("invalid mic pcm", zap.String("session_id", s.id), zap.Error(err))
			return
		}
		pcm = decoded
	} else {
		pcm = audio.Float64ToPCM16(msg.Audio)
	}
	if len(pcm) == 0 {
		return
	}

	format := audio.Format{SampleRate: msg.AudioRate, Channels: msg.AudioCh}
	s.mu.Lock()
	if format.SampleRate <= 0 {
		format.SampleRate = s.audio.SampleRate
	}
	if format.Channels <= 0 {
		format.Channels = s.audio.Channels
	}
	if !format.Valid() {
		format = audio.Format{SampleRate: 16000, Channels: 1}
	}
	s.audio = format
	s.mu.Unlock()

	relay.AppendAudio(audio.BytesToInt16Into(nil, pcm), format)
}

func (s *session) onMicAudioEnd(ctx context.Context, _ protocol.ClientCommand) {
	if _, relay := s.hub.bound(); relay != nil {
		go relay.EndAudio(ctx)
	}
}

func (s *session) onNoop(_ context.Context, _ protocol.ClientCommand) {}
