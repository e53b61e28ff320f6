// Package provider defines the remote capabilities a turn depends on.
package provider

import (
	"context"

	"github.com/saker-ai/presence-engine/pkg/audio"
)

// Role is a transcript message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is an ordered transcript plus generation limits.
type ChatRequest struct {
	Messages  []Message
	Model     string
	MaxTokens int
}

// SpeechRequest asks for text to be spoken in a voice.
type SpeechRequest struct {
	Text  string
	Voice string
}

// Audio is decoded speech.
type Audio struct {
	PCM    []byte
	Format audio.Format
}

// ChatEndpoint returns the assistant reply text.
type ChatEndpoint interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// SpeechEndpoint synthesizes speech.
type SpeechEndpoint interface {
	Synthesize(ctx context.Context, req SpeechRequest) (Audio, error)
}

// Transcriber turns a WAV recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}
