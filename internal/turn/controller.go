// Package turn drives one conversation turn at a time: chat, mood tag,
// speech, playback. A newer input preempts the turn in flight.
package turn

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saker-ai/presence-engine/internal/mood"
	"github.com/saker-ai/presence-engine/internal/observe"
	"github.com/saker-ai/presence-engine/internal/playback"
	"github.com/saker-ai/presence-engine/internal/provider"
	"github.com/saker-ai/presence-engine/internal/resilience"
	"github.com/saker-ai/presence-engine/internal/session/fsm"
)

// Status lines shown to the user.
const (
	StatusReady        = "Ready"
	StatusThinking     = "Thinking..."
	StatusListening    = "Listening..."
	StatusSpeaking     = "Speaking..."
	StatusUnsupported  = "Speech recognition not supported"
	statusMoodPrefix   = "Mood: "
	statusErrorPrefix  = "Error: "
	statusSpeechPrefix = "Speech error: "
)

// Animator receives mood targets.
type Animator interface {
	SetTarget(id string) mood.ID
}

// Player plays speech. *playback.Manager implements it.
type Player interface {
	Play(ctx context.Context, res playback.Resource) (*playback.Handle, error)
	PlayLocal(ctx context.Context, text string) (*playback.Handle, error)
	StopCurrent()
}

// Capture starts and stops speech recognition. Results come back through
// HandlePartial, HandleFinal and HandleCaptureError.
type Capture interface {
	Start(ctx context.Context) error
	Stop()
}

// Reply is a parsed assistant reply.
type Reply struct {
	TurnID string  `json:"turn_id"`
	Text   string  `json:"text"`
	Mood   mood.ID `json:"mood"`
}

// Callbacks receive controller events. Any field may be nil. They are
// called with the controller lock held and must not call back into it.
type Callbacks struct {
	OnStatus     func(status string)
	OnState      func(state fsm.State)
	OnMood       func(id mood.ID)
	OnReply      func(reply Reply)
	OnTranscript func(text string, final bool)
}

// Config tunes the controller. Zero fields take defaults.
type Config struct {
	SystemPrompt      string
	Model             string
	MaxTokens         int
	Voice             string
	MaxHistory        int
	ChatTimeout       time.Duration
	SpeechTimeout     time.Duration
	LocalVoiceTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChatTimeout <= 0 {
		c.ChatTimeout = 30 * time.Second
	}
	if c.SpeechTimeout <= 0 {
		c.SpeechTimeout = 20 * time.Second
	}
	if c.LocalVoiceTimeout <= 0 {
		c.LocalVoiceTimeout = 15 * time.Second
	}
	return c
}

// Deps are the collaborators of a Controller. Chat, Speech, Player and
// Animator are required.
type Deps struct {
	Chat     provider.ChatEndpoint
	Speech   provider.SpeechEndpoint
	Player   Player
	Animator Animator
	Capture  Capture
	Breaker  *resilience.Breaker
	Metrics  *observe.Metrics
	Logger   *zap.Logger
}

// Snapshot is a read-only view for status endpoints.
type Snapshot struct {
	State      fsm.State          `json:"state"`
	Generation uint64             `json:"generation"`
	Status     string             `json:"status"`
	Mood       mood.ID            `json:"mood"`
	LastReply  *Reply             `json:"last_reply,omitempty"`
	Transcript []provider.Message `json:"transcript"`
}

// Controller owns the transcript and the turn state machine.
type Controller struct {
	cfg      Config
	chat     provider.ChatEndpoint
	speech   provider.SpeechEndpoint
	player   Player
	animator Animator
	capture  Capture
	breaker  *resilience.Breaker
	metrics  *observe.Metrics
	logger   *zap.Logger

	base       context.Context
	baseCancel context.CancelFunc

	mu         sync.Mutex
	cb         Callbacks
	machine    *fsm.Machine
	transcript *Transcript
	status     string
	mood       mood.ID
	lastReply  *Reply
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates an idle controller.
func New(cfg Config, deps Deps) *Controller {
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	breaker := deps.Breaker
	if breaker == nil {
		breaker = resilience.NewBreaker(resilience.BreakerConfig{
			Name:   "speech",
			Ignore: func(err error) bool { return errors.Is(err, context.Canceled) },
		}, logger)
	}
	base, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:        cfg,
		chat:       deps.Chat,
		speech:     deps.Speech,
		player:     deps.Player,
		animator:   deps.Animator,
		capture:    deps.Capture,
		breaker:    breaker,
		metrics:    deps.Metrics,
		logger:     logger,
		base:       base,
		baseCancel: cancel,
		machine:    fsm.New(),
		transcript: NewTranscript(cfg.SystemPrompt, cfg.MaxHistory),
		status:     StatusReady,
		mood:       mood.Neutral,
	}
}

// SetCallbacks replaces the event callbacks.
func (c *Controller) SetCallbacks(cb Callbacks) {
	c.mu.Lock()
	c.cb = cb
	c.mu.Unlock()
}

// SetCapture installs the capture capability after construction.
func (c *Controller) SetCapture(capture Capture) {
	c.mu.Lock()
	c.capture = capture
	c.mu.Unlock()
}

// Submit starts a turn for text and returns its id. Any turn in flight is
// cancelled and its playback stopped first. Blank input is ignored.
func (c *Controller) Submit(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}

	c.mu.Lock()
	if c.base.Err() != nil {
		c.mu.Unlock()
		return "", false
	}
	gen, prev := c.machine.Begin()
	c.abortLocked()
	if prev != fsm.StateIdle {
		c.logger.Info("turn preempted", zap.String("state", string(prev)), zap.Uint64("generation", gen))
	}

	ctx, cancel := context.WithCancel(c.base)
	prevDone := c.done
	done := make(chan struct{})
	c.cancel, c.done = cancel, done

	t := &turnRun{
		id:       uuid.NewString(),
		gen:      gen,
		started:  time.Now(),
		prevDone: prevDone,
		done:     done,
	}
	c.emitStateLocked()
	c.setMoodLocked(string(mood.Thinking))
	c.transcript.Append(provider.RoleUser, text)
	t.messages = c.transcript.Messages()
	c.setStatusLocked(StatusThinking)
	c.mu.Unlock()

	c.logger.Debug("turn started", zap.String("turn_id", t.id), zap.Uint64("generation", gen))
	go c.run(ctx, t)
	return t.id, true
}

// Interrupt cancels the turn in flight and returns to idle. The mood target
// is left as it is.
func (c *Controller) Interrupt() {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen, prev := c.machine.Interrupt()
	c.abortLocked()
	c.emitStateLocked()
	c.setStatusLocked(StatusReady)
	c.logger.Info("turn interrupted", zap.String("state", string(prev)), zap.Uint64("generation", gen))
}

// StartListening starts speech capture.
func (c *Controller) StartListening(ctx context.Context) error {
	c.mu.Lock()
	capture := c.capture
	c.mu.Unlock()
	if capture == nil {
		c.updateStatus(StatusUnsupported)
		return provider.ErrUnsupportedCapability
	}
	if err := capture.Start(ctx); err != nil {
		if errors.Is(err, provider.ErrUnsupportedCapability) {
			c.updateStatus(StatusUnsupported)
		} else {
			c.updateStatus(statusSpeechPrefix + err.Error())
		}
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.setMoodLocked(string(mood.Thinking))
	c.setStatusLocked(StatusListening)
	return nil
}

// StopListening stops speech capture.
func (c *Controller) StopListening() {
	c.mu.Lock()
	capture := c.capture
	c.mu.Unlock()
	if capture != nil {
		capture.Stop()
	}
}

// HandlePartial forwards an interim transcript.
func (c *Controller) HandlePartial(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cb.OnTranscript != nil {
		c.cb.OnTranscript(text, false)
	}
}

// HandleFinal stops capture and submits the transcript.
func (c *Controller) HandleFinal(text string) {
	c.StopListening()
	c.mu.Lock()
	if c.cb.OnTranscript != nil {
		c.cb.OnTranscript(text, true)
	}
	c.mu.Unlock()
	if _, ok := c.Submit(text); !ok {
		c.updateStatus(StatusReady)
	}
}

// HandleCaptureError reports a recognition failure.
func (c *Controller) HandleCaptureError(reason string) {
	c.StopListening()
	if reason == "" {
		reason = "unknown"
	}
	c.logger.Warn("speech capture failed", zap.String("reason", reason))
	c.updateStatus(statusSpeechPrefix + reason)
}

// Snapshot returns the current view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, gen := c.machine.Snapshot()
	s := Snapshot{
		State:      state,
		Generation: gen,
		Status:     c.status,
		Mood:       c.mood,
		Transcript: c.transcript.Messages(),
	}
	if c.lastReply != nil {
		r := *c.lastReply
		s.LastReply = &r
	}
	return s
}

// State returns the turn state.
func (c *Controller) State() fsm.State { return c.machine.State() }

// Status returns the status line.
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Close cancels the turn in flight and waits for it to unwind.
func (c *Controller) Close() {
	c.mu.Lock()
	c.baseCancel()
	c.abortLocked()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

type turnRun struct {
	id       string
	gen      uint64
	started  time.Time
	messages []provider.Message
	prevDone <-chan struct{}
	done     chan struct{}
}

func (c *Controller) run(ctx context.Context, t *turnRun) {
	defer close(t.done)
	// The preempted turn unwinds first, so at most one chat call is in flight.
	if t.prevDone != nil {
		<-t.prevDone
	}
	if ctx.Err() != nil {
		return
	}
	log := c.logger.With(zap.String("turn_id", t.id), zap.Uint64("generation", t.gen))

	text, err := c.complete(ctx, t.messages)
	if err != nil {
		c.failChat(ctx, t, err, log)
		return
	}

	reply := mood.ParseReply(text)
	c.mu.Lock()
	if !c.machine.IsCurrent(t.gen) {
		c.mu.Unlock()
		log.Debug("stale chat reply discarded")
		return
	}
	c.transcript.Append(provider.RoleAssistant, text)
	if err := c.machine.OnReply(t.gen); err != nil {
		c.mu.Unlock()
		log.Warn("turn transition rejected", zap.Error(err))
		return
	}
	c.emitStateLocked()
	target := c.setMoodLocked(string(reply.Mood))
	c.lastReply = &Reply{TurnID: t.id, Text: reply.Text, Mood: target}
	if c.cb.OnReply != nil {
		c.cb.OnReply(*c.lastReply)
	}
	c.setStatusLocked(statusMoodPrefix + string(target))
	c.mu.Unlock()
	log.Info("reply received", zap.String("mood", string(target)), zap.Bool("tagged", reply.Tagged))

	if reply.Text == "" {
		c.finish(ctx, t, "silent", log)
		return
	}

	handle, err := c.speak(ctx, t, reply.Text, log)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn("speech unavailable", zap.Error(err))
		if provider.Classify(err) == provider.KindConfiguration {
			c.updateMood(t.gen, string(mood.Sad))
		}
		c.finishWithStatus(ctx, t, "unspoken", statusErrorPrefix+statusMessage(err))
		return
	}

	c.mu.Lock()
	if err := c.machine.OnSpeechStart(t.gen); err != nil {
		c.mu.Unlock()
		log.Debug("speech started for a stale turn", zap.Error(err))
		return
	}
	c.emitStateLocked()
	c.setStatusLocked(StatusSpeaking)
	c.mu.Unlock()

	select {
	case <-handle.Done():
	case <-ctx.Done():
		return
	}
	if err := handle.Err(); err != nil && !errors.Is(err, playback.ErrStopped) {
		log.Warn("playback ended with error", zap.Error(err))
	}
	c.finish(ctx, t, "spoken", log)
}

func (c *Controller) complete(ctx context.Context, messages []provider.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ChatTimeout)
	defer cancel()
	start := time.Now()
	text, err := c.chat.Complete(ctx, provider.ChatRequest{
		Messages:  messages,
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
	})
	c.metrics.RecordChat(ctx, time.Since(start), provider.Classify(err).String())
	if err == nil && strings.TrimSpace(text) == "" {
		err = provider.ErrProtocol
	}
	return text, err
}

// speak synthesizes remotely and falls back to the local voice on transport
// or protocol failures and while the breaker is open. Configuration and
// capability errors are returned. The returned handle is already playing.
func (c *Controller) speak(ctx context.Context, t *turnRun, text string, log *zap.Logger) (*playback.Handle, error) {
	var (
		audio  provider.Audio
		reason string
	)
	sctx, cancel := context.WithTimeout(ctx, c.cfg.SpeechTimeout)
	start := time.Now()
	err := c.breaker.Execute(func() error {
		var err error
		audio, err = c.speech.Synthesize(sctx, provider.SpeechRequest{Text: text, Voice: c.cfg.Voice})
		return err
	})
	cancel()
	kind := provider.Classify(err)
	c.metrics.RecordSpeech(ctx, time.Since(start), kind.String())

	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err == nil:
		handle, perr := c.player.Play(ctx, playback.Resource{
			PCM:    audio.PCM,
			Format: audio.Format,
			Source: playback.SourceRemote,
			Text:   text,
		})
		if perr == nil {
			return handle, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		err, reason = perr, "playback"
	case errors.Is(err, resilience.ErrCircuitOpen):
		reason = "circuit_open"
	case kind.Recoverable():
		reason = kind.String()
	default:
		return nil, err
	}

	log.Warn("remote speech failed, using local voice", zap.String("reason", reason), zap.Error(err))
	c.metrics.RecordFallback(ctx, reason)
	lctx, lcancel := context.WithTimeout(ctx, c.cfg.LocalVoiceTimeout)
	defer lcancel()
	handle, lerr := c.player.PlayLocal(lctx, text)
	if lerr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Join(err, lerr)
	}
	return handle, nil
}

func (c *Controller) failChat(ctx context.Context, t *turnRun, err error, log *zap.Logger) {
	if ctx.Err() != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.machine.IsCurrent(t.gen) {
		return
	}
	log.Warn("chat failed", zap.String("kind", provider.Classify(err).String()), zap.Error(err))
	c.setMoodLocked(string(mood.Sad))
	if ferr := c.machine.Finish(t.gen); ferr != nil {
		log.Warn("turn transition rejected", zap.Error(ferr))
	}
	c.emitStateLocked()
	c.setStatusLocked(statusErrorPrefix + statusMessage(err))
	c.metrics.RecordTurn(ctx, time.Since(t.started), "failed")
}

func (c *Controller) finish(ctx context.Context, t *turnRun, outcome string, log *zap.Logger) {
	c.finishWithStatus(ctx, t, outcome, StatusReady)
	log.Debug("turn finished", zap.String("outcome", outcome))
}

func (c *Controller) finishWithStatus(ctx context.Context, t *turnRun, outcome, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.machine.Finish(t.gen); err != nil {
		return
	}
	c.emitStateLocked()
	c.setStatusLocked(status)
	c.metrics.RecordTurn(ctx, time.Since(t.started), outcome)
}

// abortLocked cancels the running turn before stopping playback, so a Play
// racing with it is refused.
func (c *Controller) abortLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.player.StopCurrent()
}

func (c *Controller) updateStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStatusLocked(status)
}

func (c *Controller) updateMood(gen uint64, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.machine.IsCurrent(gen) {
		c.setMoodLocked(id)
	}
}

func (c *Controller) setStatusLocked(status string) {
	c.status = status
	if c.cb.OnStatus != nil {
		c.cb.OnStatus(status)
	}
}

func (c *Controller) setMoodLocked(id string) mood.ID {
	target := c.animator.SetTarget(id)
	c.mood = target
	if c.cb.OnMood != nil {
		c.cb.OnMood(target)
	}
	return target
}

func (c *Controller) emitStateLocked() {
	if c.cb.OnState != nil {
		c.cb.OnState(c.machine.State())
	}
}

func statusMessage(err error) string {
	switch {
	case errors.Is(err, provider.ErrMissingCredential):
		return "OPENAI_API_KEY not set"
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	}
	return err.Error()
}
