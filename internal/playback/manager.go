package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handle is a single playback. Done is closed exactly once.
type Handle struct {
	id       uint64
	source   string
	text     string
	duration time.Duration
	stream   Stream

	once sync.Once
	mu   sync.Mutex
	err  error
	done chan struct{}
}

// ID identifies the playback within its manager.
func (h *Handle) ID() uint64 { return h.id }

// Source is SourceRemote or SourceLocal.
func (h *Handle) Source() string { return h.source }

// Text is the spoken text, when known.
func (h *Handle) Text() string { return h.text }

// Duration is the expected playing time.
func (h *Handle) Duration() time.Duration { return h.duration }

// Done is the completion signal.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err is valid after Done: nil on a natural end, ErrStopped when stopped or
// superseded, anything else on a playback failure.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) finish(err error) bool {
	finished := false
	h.once.Do(func() {
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		close(h.done)
		finished = true
	})
	return finished
}

// Manager owns at most one active playback.
type Manager struct {
	output Output
	voice  LocalVoice
	logger *zap.Logger
	grace  time.Duration

	mu      sync.Mutex
	current *Handle
	seq     uint64
	started bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLocalVoice sets the fallback voice.
func WithLocalVoice(v LocalVoice) ManagerOption {
	return func(m *Manager) { m.voice = v }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithGrace sets how long past its duration a playback may run before it is
// stopped with ErrTimeout.
func WithGrace(d time.Duration) ManagerOption {
	return func(m *Manager) { m.grace = d }
}

// NewManager creates a manager on output.
func NewManager(output Output, opts ...ManagerOption) *Manager {
	m := &Manager{
		output: output,
		logger: zap.NewNop(),
		grace:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Play stops the current playback, then starts res. ctx guards against
// starting after the caller was cancelled; it does not bound the playback.
func (m *Manager) Play(ctx context.Context, res Resource) (*Handle, error) {
	if m.output == nil {
		return nil, ErrNoOutput
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	converted, err := convert(res, m.output.Format())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResource, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.stopLocked()

	stream, err := m.output.Open(converted.PCM)
	if err != nil {
		return nil, fmt.Errorf("open %s output: %w", m.output.Name(), err)
	}
	m.seq++
	h := &Handle{
		id:       m.seq,
		source:   res.Source,
		text:     res.Text,
		duration: converted.Duration(),
		stream:   stream,
		done:     make(chan struct{}),
	}
	m.current = h
	m.started = true
	m.logger.Debug("playback started",
		zap.Uint64("playback_id", h.id),
		zap.String("source", h.source),
		zap.String("output", m.output.Name()),
		zap.Duration("duration", h.duration),
	)
	go m.watch(h)
	return h, nil
}

// PlayLocal synthesizes text with the local voice and plays it.
func (m *Manager) PlayLocal(ctx context.Context, text string) (*Handle, error) {
	if m.voice == nil {
		return nil, ErrVoiceUnavailable
	}
	res, err := m.voice.Synthesize(ctx, text)
	if err != nil {
		return nil, err
	}
	res.Source = SourceLocal
	return m.Play(ctx, res)
}

// StopCurrent stops the active playback, if any, before returning.
func (m *Manager) StopCurrent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

// Current returns the active handle or nil.
func (m *Manager) Current() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Started reports whether any playback has begun.
func (m *Manager) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// OutputName names the configured output.
func (m *Manager) OutputName() string {
	if m.output == nil {
		return ""
	}
	return m.output.Name()
}

// Window copies the latest samples of the active playback.
func (m *Manager) Window(dst []float32) int {
	m.mu.Lock()
	h := m.current
	m.mu.Unlock()
	if h == nil {
		return 0
	}
	return h.stream.Window(dst)
}

func (m *Manager) stopLocked() {
	h := m.current
	if h == nil {
		return
	}
	m.current = nil
	h.stream.Stop()
	h.finish(ErrStopped)
	m.logger.Debug("playback stopped", zap.Uint64("playback_id", h.id))
}

func (m *Manager) watch(h *Handle) {
	var timeout <-chan time.Time
	if h.duration > 0 {
		timer := time.NewTimer(h.duration + m.grace)
		defer timer.Stop()
		timeout = timer.C
	}

	var err error
	select {
	case <-h.stream.Done():
		err = h.stream.Err()
	case <-timeout:
		h.stream.Stop()
		err = ErrTimeout
	}

	m.mu.Lock()
	if m.current != h {
		m.mu.Unlock()
		m.logger.Debug("stale playback completion ignored", zap.Uint64("playback_id", h.id))
		return
	}
	m.current = nil
	m.mu.Unlock()

	h.finish(err)
	if err != nil {
		m.logger.Warn("playback failed", zap.Uint64("playback_id", h.id), zap.Error(err))
		return
	}
	m.logger.Debug("playback finished", zap.Uint64("playback_id", h.id))
}
