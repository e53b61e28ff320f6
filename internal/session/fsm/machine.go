package fsm

import (
	"errors"
	"fmt"
	"sync"
)

// State is the conversation turn state.
type State string

const (
	StateIdle              State = "idle"
	StateAwaitingInference State = "awaiting_inference"
	StateAwaitingSpeech    State = "awaiting_speech"
	StateSpeaking          State = "speaking"
)

var (
	// ErrStale is returned for a transition requested by a superseded turn.
	ErrStale = errors.New("fsm: stale turn generation")
	// ErrInvalidTransition is returned for a move the turn table does not allow.
	ErrInvalidTransition = errors.New("fsm: invalid transition")
)

// Legal moves within one generation. Begin and Interrupt bypass the table.
var transitions = map[State][]State{
	StateIdle:              {},
	StateAwaitingInference: {StateAwaitingSpeech, StateIdle},
	StateAwaitingSpeech:    {StateSpeaking, StateIdle},
	StateSpeaking:          {StateIdle},
}

// Machine tracks the single turn state. Every Begin starts a new generation;
// transitions carry the generation they belong to so that completions of a
// superseded turn are rejected.
type Machine struct {
	mu         sync.RWMutex
	state      State
	generation uint64
}

// New creates an idle machine at generation 0.
func New() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Generation returns the current turn generation.
func (m *Machine) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

// Snapshot returns state and generation together.
func (m *Machine) Snapshot() (State, uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.generation
}

// IsCurrent reports whether gen is still the active generation.
func (m *Machine) IsCurrent(gen uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return gen == m.generation
}

// Begin starts a new turn from any state. The previous state is returned so
// the caller knows whether it preempted work in flight.
func (m *Machine) Begin() (uint64, State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.state
	m.generation++
	m.state = StateAwaitingInference
	return m.generation, prev
}

// Interrupt abandons the current turn and returns to idle.
func (m *Machine) Interrupt() (uint64, State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.state
	m.generation++
	m.state = StateIdle
	return m.generation, prev
}

// Transition moves turn gen to next.
func (m *Machine) Transition(gen uint64, next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return ErrStale
	}
	if !allowed(m.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, next)
	}
	m.state = next
	return nil
}

// OnReply marks the chat reply received.
func (m *Machine) OnReply(gen uint64) error { return m.Transition(gen, StateAwaitingSpeech) }

// OnSpeechStart marks playback started.
func (m *Machine) OnSpeechStart(gen uint64) error { return m.Transition(gen, StateSpeaking) }

// Finish ends turn gen, successfully or not.
func (m *Machine) Finish(gen uint64) error { return m.Transition(gen, StateIdle) }

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
