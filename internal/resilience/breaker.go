// Package resilience isolates failing remote endpoints.
package resilience

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen is returned without calling through while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker mode.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a Breaker. Zero fields take defaults.
type BreakerConfig struct {
	Name string
	// MaxFailures consecutive failures open the breaker. Default 5.
	MaxFailures int
	// ResetTimeout is the open period before probing. Default 30s.
	ResetTimeout time.Duration
	// HalfOpenMax successful probes close it again. Default 3.
	HalfOpenMax int
	// Ignore marks errors that should not count as failures, such as
	// cancellation by the caller.
	Ignore func(error) bool
}

// Breaker is a closed/open/half-open circuit breaker.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	ignore       func(error) bool
	logger       *zap.Logger
	now          func() time.Time

	mu           sync.Mutex
	state        State
	failures     int
	openedAt     time.Time
	probes       int
	probeSuccess int
}

// NewBreaker creates a breaker.
func NewBreaker(cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		ignore:       cfg.Ignore,
		logger:       logger.With(zap.String("breaker", cfg.Name)),
		now:          time.Now,
	}
}

// Execute calls fn unless the breaker is open.
func (b *Breaker) Execute(fn func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	if err != nil && b.ignore != nil && b.ignore(err) {
		b.release(probe)
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failLocked(probe)
	} else {
		b.succeedLocked(probe)
	}
	return err
}

func (b *Breaker) admit() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return false, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probes = 0
		b.probeSuccess = 0
		b.logger.Info("circuit breaker half-open")
	case StateHalfOpen:
		if b.probes >= b.halfOpenMax {
			return false, ErrCircuitOpen
		}
	}
	if b.state == StateHalfOpen {
		b.probes++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) release(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	if b.state == StateHalfOpen && b.probes > 0 {
		b.probes--
	}
	b.mu.Unlock()
}

func (b *Breaker) failLocked(probe bool) {
	if probe {
		if b.state == StateHalfOpen {
			b.tripLocked()
			b.logger.Warn("circuit breaker re-opened by failed probe")
		}
		return
	}
	b.failures++
	if b.state == StateClosed && b.failures >= b.maxFailures {
		b.tripLocked()
		b.logger.Warn("circuit breaker opened", zap.Int("consecutive_failures", b.failures))
	}
}

func (b *Breaker) succeedLocked(probe bool) {
	if !probe {
		b.failures = 0
		return
	}
	if b.state != StateHalfOpen {
		return
	}
	b.probeSuccess++
	if b.probeSuccess >= b.halfOpenMax {
		b.state = StateClosed
		b.failures = 0
		b.logger.Info("circuit breaker closed")
	}
}

func (b *Breaker) tripLocked() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failures = b.maxFailures
}

// State reports the mode. An open breaker past its reset timeout reads as
// half-open; the transition itself happens on the next Execute.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probes = 0
	b.probeSuccess = 0
}
