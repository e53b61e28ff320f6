package openai

import (
	"context"
	"fmt"
	"io"
	"strings"

	oai "github.com/openai/openai-go"

	"github.com/saker-ai/presence-engine/internal/provider"
	"github.com/saker-ai/presence-engine/pkg/audio"
)

// maxSpeechBytes bounds a single synthesized reply (about five minutes).
const maxSpeechBytes = SpeechSampleRate * 2 * 300

// Speech implements provider.SpeechEndpoint. It requests raw PCM so the
// result can be played and analysed without a decoder.
type Speech struct {
	client *Client
	model  string
	voice  string
	speed  float64
}

// NewSpeech creates a speech adapter.
func NewSpeech(client *Client, model, voice string, speed float64) *Speech {
	if model == "" {
		model = DefaultSpeechModel
	}
	if voice == "" {
		voice = DefaultVoice
	}
	return &Speech{client: client, model: model, voice: voice, speed: speed}
}

// Synthesize implements provider.SpeechEndpoint.
func (s *Speech) Synthesize(ctx context.Context, req provider.SpeechRequest) (provider.Audio, error) {
	if err := s.client.ready("speech"); err != nil {
		return provider.Audio{}, err
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return provider.Audio{}, fmt.Errorf("openai speech: %w: empty text", provider.ErrProtocol)
	}
	voice := req.Voice
	if voice == "" {
		voice = s.voice
	}

	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(s.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if s.speed > 0 {
		params.Speed = oai.Float(s.speed)
	}
	resp, err := s.client.sdk.Audio.Speech.New(ctx, params)
	if err != nil {
		return provider.Audio{}, wrapErr(ctx, "speech", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(io.LimitReader(resp.Body, maxSpeechBytes))
	if err != nil {
		return provider.Audio{}, wrapErr(ctx, "speech", err)
	}
	if len(pcm) < 2 {
		return provider.Audio{}, fmt.Errorf("openai speech: %w: empty audio", provider.ErrProtocol)
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	return provider.Audio{
		PCM:    pcm,
		Format: audio.Format{SampleRate: SpeechSampleRate, Channels: 1},
	}, nil
}
