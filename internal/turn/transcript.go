package turn

import "github.com/saker-ai/presence-engine/internal/provider"

// DefaultSystemPrompt seeds every transcript. It asks for the trailing mood tag.
const DefaultSystemPrompt = "You are a warm, expressive AI personality. You respond conversationally and naturally. " +
	"At the END of every response, on a new line, include a mood tag in the format [mood:X] where X is one of: " +
	"neutral, happy, excited, calm, sad, thinking, angry. " +
	"Choose the mood that best matches the emotional tone of your response. " +
	"Keep responses concise (2-3 sentences max)."

// DefaultMaxHistory is the number of messages kept after the seed.
const DefaultMaxHistory = 40

// Transcript is the append-only conversation sent to the chat endpoint.
// Only the newest maxHistory messages are kept; the seed is never dropped.
// Not safe for concurrent use.
type Transcript struct {
	seed       provider.Message
	messages   []provider.Message
	maxHistory int
}

// NewTranscript creates a transcript seeded with prompt.
func NewTranscript(prompt string, maxHistory int) *Transcript {
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if maxHistory%2 != 0 {
		maxHistory++
	}
	return &Transcript{
		seed:       provider.Message{Role: provider.RoleSystem, Content: prompt},
		maxHistory: maxHistory,
	}
}

// Append adds a message and trims the oldest ones past the bound.
func (t *Transcript) Append(role provider.Role, content string) {
	t.messages = append(t.messages, provider.Message{Role: role, Content: content})
	if len(t.messages) <= t.maxHistory {
		return
	}
	drop := len(t.messages) - t.maxHistory
	// The kept history always opens with a user message.
	for drop < len(t.messages) && t.messages[drop].Role == provider.RoleAssistant {
		drop++
	}
	t.messages = append(t.messages[:0:0], t.messages[drop:]...)
}

// Messages returns a copy with the seed first.
func (t *Transcript) Messages() []provider.Message {
	out := make([]provider.Message, 0, len(t.messages)+1)
	out = append(out, t.seed)
	return append(out, t.messages...)
}
