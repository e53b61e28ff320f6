package mood

import (
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`\[mood:(\w+)\]`)

// Reply is a model reply split into display text and mood.
type Reply struct {
	Text   string
	Mood   ID
	Tagged bool
	// Raw holds the identifier as written, before resolution.
	Raw string
}

// ParseReply extracts the first [mood:<id>] marker from text and strips it.
// Without a marker the full text is kept and the mood is neutral.
func ParseReply(text string) Reply {
	loc := tagPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return Reply{Text: strings.TrimSpace(text), Mood: Neutral}
	}
	raw := text[loc[2]:loc[3]]
	display := text[:loc[0]] + text[loc[1]:]
	return Reply{
		Text:   strings.TrimSpace(display),
		Mood:   Resolve(raw),
		Tagged: true,
		Raw:    raw,
	}
}
