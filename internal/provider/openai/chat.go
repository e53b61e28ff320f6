package openai

import (
	"context"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/saker-ai/presence-engine/internal/provider"
)

// Chat implements provider.ChatEndpoint with chat completions.
type Chat struct {
	client    *Client
	model     string
	maxTokens int
}

// NewChat creates a chat adapter. Empty values fall back to the defaults.
func NewChat(client *Client, model string, maxTokens int) *Chat {
	if model == "" {
		model = DefaultChatModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Chat{client: client, model: model, maxTokens: maxTokens}
}

// Complete implements provider.ChatEndpoint.
func (c *Chat) Complete(ctx context.Context, req provider.ChatRequest) (string, error) {
	if err := c.client.ready("chat"); err != nil {
		return "", err
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := oai.ChatCompletionNewParams{
		Model:     shared.ChatModel(model),
		Messages:  convertMessages(req.Messages),
		MaxTokens: param.NewOpt(int64(maxTokens)),
	}
	resp, err := c.client.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", wrapErr(ctx, "chat", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat: %w: no choices", provider.ErrProtocol)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("openai chat: %w: empty reply", provider.ErrProtocol)
	}
	return content, nil
}

func convertMessages(msgs []provider.Message) []oai.ChatCompletionMessageParamUnion {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case provider.RoleSystem:
			out = append(out, oai.SystemMessage(m.Content))
		case provider.RoleAssistant:
			out = append(out, oai.AssistantMessage(m.Content))
		default:
			out = append(out, oai.UserMessage(m.Content))
		}
	}
	return out
}
