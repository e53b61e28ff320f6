// Package frame composes the per-frame parameters handed to the renderer.
package frame

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saker-ai/presence-engine/internal/mood"
)

const (
	// BoostFactor scales the audio level added to distortion.
	BoostFactor = 0.3
	// NoiseFloor is the level at or below which audio is ignored.
	NoiseFloor = 0.01
)

// Params is one frame of renderer input.
type Params struct {
	Time       float64    `json:"time"`
	Distortion float64    `json:"distortion"`
	Speed      float64    `json:"speed"`
	Glow       float64    `json:"glow"`
	Color1     mood.Color `json:"color1"`
	Color2     mood.Color `json:"color2"`
	Level      float64    `json:"level"`
	Mood       mood.ID    `json:"mood"`
}

// Sink receives published frames. Publish must not block.
type Sink interface {
	Publish(Params)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Params)

// Publish calls f.
func (f SinkFunc) Publish(p Params) { f(p) }

// Sampler yields the current audio level.
type Sampler interface {
	Sample() float64
}

// Animator advances the visual state.
type Animator interface {
	Advance(dt time.Duration) mood.State
	Target() mood.Profile
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

// WithFrameHook is called after every published frame.
func WithFrameHook(fn func(Params)) Option {
	return func(p *Publisher) { p.hook = fn }
}

// Publisher combines the animator, the sampler and a monotonic clock.
type Publisher struct {
	animator Animator
	sampler  Sampler
	logger   *zap.Logger
	now      func() time.Time
	hook     func(Params)

	mu     sync.Mutex
	sinks  []Sink
	start  time.Time
	last   time.Time
	latest Params
}

// NewPublisher creates a publisher. sampler may be nil.
func NewPublisher(animator Animator, sampler Sampler, opts ...Option) *Publisher {
	p := &Publisher{
		animator: animator,
		sampler:  sampler,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddSink registers a renderer sink.
func (p *Publisher) AddSink(s Sink) {
	p.mu.Lock()
	p.sinks = append(p.sinks, s)
	p.mu.Unlock()
}

// Tick runs one frame: sample, advance, compose, publish.
func (p *Publisher) Tick() Params {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.start.IsZero() {
		p.start = now
		p.last = now
	}
	dt := now.Sub(p.last)
	p.last = now

	level := 0.0
	if p.sampler != nil {
		level = p.sampler.Sample()
	}
	state := p.animator.Advance(dt)

	distortion := state.Distortion
	if level > NoiseFloor {
		distortion += level * BoostFactor
	}
	params := Params{
		Time:       now.Sub(p.start).Seconds(),
		Distortion: distortion,
		Speed:      state.Speed,
		Glow:       state.Glow,
		Color1:     state.Color1,
		Color2:     state.Color2,
		Level:      level,
		Mood:       p.animator.Target().ID,
	}
	for _, s := range p.sinks {
		s.Publish(params)
	}
	p.latest = params
	if p.hook != nil {
		p.hook(params)
	}
	return params
}

// Last returns the most recently published frame.
func (p *Publisher) Last() Params {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

// Run ticks at fps until ctx is done.
func (p *Publisher) Run(ctx context.Context, fps int) error {
	if fps <= 0 {
		fps = 60
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	p.logger.Info("frame loop started", zap.Int("fps", fps))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("frame loop stopped")
			return nil
		case <-ticker.C:
			p.Tick()
		}
	}
}
