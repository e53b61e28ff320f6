package playback

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/saker-ai/presence-engine/pkg/audio"
)

// LocalVoice synthesizes speech without the remote endpoint.
type LocalVoice interface {
	Synthesize(ctx context.Context, text string) (Resource, error)
}

// CommandVoice runs a text-to-speech program that writes WAV to stdout.
// The text is passed as the last argument.
type CommandVoice struct {
	Path    string
	Args    []string
	Timeout time.Duration
}

// DefaultVoiceArgs target espeak-ng at roughly conversational rate.
var DefaultVoiceArgs = []string{"--stdout", "-s", "175"}

// NewCommandVoice resolves the program on PATH. A missing program is not an
// error here; Synthesize reports ErrVoiceUnavailable instead.
func NewCommandVoice(command string, args []string, timeout time.Duration) *CommandVoice {
	if command == "" {
		command = "espeak-ng"
	}
	if args == nil {
		args = DefaultVoiceArgs
	}
	path, err := exec.LookPath(command)
	if err != nil {
		path = ""
	}
	return &CommandVoice{Path: path, Args: args, Timeout: timeout}
}

// Available reports whether the program was found.
func (v *CommandVoice) Available() bool {
	return v != nil && v.Path != ""
}

// Synthesize implements LocalVoice.
func (v *CommandVoice) Synthesize(ctx context.Context, text string) (Resource, error) {
	if !v.Available() {
		return Resource{}, ErrVoiceUnavailable
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Resource{}, ErrInvalidResource
	}
	if v.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, v.Args...), text)
	cmd := exec.CommandContext(ctx, v.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Resource{}, fmt.Errorf("%w: %v: %s", ErrVoiceUnavailable, err, strings.TrimSpace(stderr.String()))
	}

	pcm, format, err := audio.DecodeWAV(stdout.Bytes())
	if err != nil {
		return Resource{}, fmt.Errorf("%w: %v", ErrInvalidResource, err)
	}
	return Resource{PCM: pcm, Format: format, Source: SourceLocal, Text: text}, nil
}
