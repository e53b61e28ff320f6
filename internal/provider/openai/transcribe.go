package openai

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"

	"github.com/saker-ai/presence-engine/internal/provider"
)

// Transcriber implements provider.Transcriber with the transcription endpoint.
type Transcriber struct {
	client   *Client
	model    string
	language string
}

// NewTranscriber creates a transcription adapter. language may be empty.
func NewTranscriber(client *Client, model, language string) *Transcriber {
	if model == "" {
		model = DefaultTranscribeModel
	}
	return &Transcriber{client: client, model: model, language: language}
}

// Transcribe implements provider.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if err := t.client.ready("transcribe"); err != nil {
		return "", err
	}
	if len(wav) == 0 {
		return "", fmt.Errorf("openai transcribe: %w: empty recording", provider.ErrProtocol)
	}
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "speech.wav", "audio/wav"),
		Model: oai.AudioModel(t.model),
	}
	if t.language != "" {
		params.Language = oai.String(t.language)
	}
	res, err := t.client.sdk.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", wrapErr(ctx, "transcribe", err)
	}
	return strings.TrimSpace(res.Text), nil
}
