// Package openai adapts the OpenAI API to the provider interfaces.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/saker-ai/presence-engine/internal/provider"
)

// Defaults for the adapters.
const (
	DefaultChatModel       = "gpt-4o-mini"
	DefaultMaxTokens       = 200
	DefaultSpeechModel     = "tts-1"
	DefaultVoice           = "nova"
	DefaultTranscribeModel = "whisper-1"
	SpeechSampleRate       = 24000
	defaultRequestTimeout  = 60 * time.Second
)

// Config holds the shared client settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// Client is the shared SDK client behind every adapter. An empty API key
// is accepted; every call then fails with provider.ErrMissingCredential.
type Client struct {
	sdk    oai.Client
	hasKey bool
}

// NewClient builds the SDK client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		sdk:    oai.NewClient(opts...),
		hasKey: strings.TrimSpace(cfg.APIKey) != "",
	}
}

func (c *Client) ready(op string) error {
	if c == nil || !c.hasKey {
		return fmt.Errorf("openai %s: %w: OPENAI_API_KEY is not set", op, provider.ErrMissingCredential)
	}
	return nil
}

// wrapErr maps SDK failures onto the provider taxonomy. Cancellation is
// passed through so callers can tell preemption from failure.
func wrapErr(ctx context.Context, op string, err error) error {
	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.Canceled):
		return fmt.Errorf("openai %s: %w", op, ctxErr)
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return fmt.Errorf("openai %s: %w: %w", op, provider.ErrTransport, ctxErr)
	}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return fmt.Errorf("openai %s: %w: %d %s", op, provider.ErrTransport, apiErr.StatusCode, msg)
	}
	return fmt.Errorf("openai %s: %w: %v", op, provider.ErrTransport, err)
}
