package fsm

import (
	"errors"
	"sync"
	"testing"
)

func TestMachineDefault(t *testing.T) {
	m := New()
	if got := m.State(); got != StateIdle {
		t.Fatalf("state=%s, want %s", got, StateIdle)
	}
	if got := m.Generation(); got != 0 {
		t.Fatalf("generation=%d, want 0", got)
	}
}

func TestMachineTurnLifecycle(t *testing.T) {
	m := New()
	gen, prev := m.Begin()
	if prev != StateIdle || m.State() != StateAwaitingInference {
		t.Fatalf("prev=%s state=%s", prev, m.State())
	}
	for _, step := range []func(uint64) error{m.OnReply, m.OnSpeechStart, m.Finish} {
		if err := step(gen); err != nil {
			t.Fatalf("step error: %v", err)
		}
	}
	if got := m.State(); got != StateIdle {
		t.Fatalf("state=%s, want %s", got, StateIdle)
	}
}

func TestMachineRejectsStaleGeneration(t *testing.T) {
	m := New()
	old, _ := m.Begin()
	if err := m.OnReply(old); err != nil {
		t.Fatalf("OnReply error: %v", err)
	}
	gen, prev := m.Begin()
	if prev != StateAwaitingSpeech {
		t.Fatalf("prev=%s, want %s", prev, StateAwaitingSpeech)
	}
	if err := m.OnSpeechStart(old); !errors.Is(err, ErrStale) {
		t.Fatalf("err=%v, want ErrStale", err)
	}
	if err := m.Finish(old); !errors.Is(err, ErrStale) {
		t.Fatalf("err=%v, want ErrStale", err)
	}
	if m.State() != StateAwaitingInference || !m.IsCurrent(gen) || m.IsCurrent(old) {
		t.Fatalf("state=%s gen=%d", m.State(), m.Generation())
	}
}

func TestMachineInvalidTransition(t *testing.T) {
	m := New()
	gen, _ := m.Begin()
	if err := m.OnSpeechStart(gen); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err=%v, want ErrInvalidTransition", err)
	}
	if err := m.Finish(gen); err != nil {
		t.Fatalf("Finish error: %v", err)
	}
	if err := m.Finish(gen); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err=%v, want ErrInvalidTransition from idle", err)
	}
}

func TestMachineInterrupt(t *testing.T) {
	m := New()
	gen, _ := m.Begin()
	_ = m.OnReply(gen)
	_ = m.OnSpeechStart(gen)
	next, prev := m.Interrupt()
	if prev != StateSpeaking || m.State() != StateIdle || next == gen {
		t.Fatalf("prev=%s state=%s next=%d", prev, m.State(), next)
	}
	if err := m.Finish(gen); !errors.Is(err, ErrStale) {
		t.Fatalf("err=%v, want ErrStale", err)
	}
}

func TestMachineConcurrentBegin(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Begin()
		}()
	}
	wg.Wait()
	if got := m.Generation(); got != 50 {
		t.Fatalf("generation=%d, want 50", got)
	}
}
