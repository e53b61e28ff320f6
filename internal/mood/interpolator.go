package mood

import (
	"sync"
	"time"
)

const (
	// Smoothing is the exponential approach rate per second.
	Smoothing = 2.0
	// MaxStep caps a single advance so a stalled frame cannot jump.
	MaxStep = 100 * time.Millisecond
)

// State is the live visual state nudged toward the target each frame.
type State struct {
	Color1     Color   `json:"color1"`
	Color2     Color   `json:"color2"`
	Distortion float64 `json:"distortion"`
	Speed      float64 `json:"speed"`
	Glow       float64 `json:"glow"`
}

func stateOf(p Profile) State {
	return State{
		Color1:     p.Color1,
		Color2:     p.Color2,
		Distortion: p.Distortion,
		Speed:      p.Speed,
		Glow:       p.Glow,
	}
}

// Interpolator owns the visual state and its mood target.
// It is safe for concurrent use.
type Interpolator struct {
	catalog *Catalog

	mu      sync.Mutex
	current State
	target  Profile
}

// NewInterpolator starts at rest on the neutral profile.
func NewInterpolator(catalog *Catalog) *Interpolator {
	if catalog == nil {
		catalog = Default()
	}
	neutral := catalog.ProfileFor(string(Neutral))
	return &Interpolator{
		catalog: catalog,
		current: stateOf(neutral),
		target:  neutral,
	}
}

// SetTarget retargets the interpolation. The current state does not jump.
func (i *Interpolator) SetTarget(id string) ID {
	p := i.catalog.ProfileFor(id)
	i.mu.Lock()
	i.target = p
	i.mu.Unlock()
	return p.ID
}

// Advance moves the current state toward the target by dt and returns the result.
func (i *Interpolator) Advance(dt time.Duration) State {
	if dt < 0 {
		dt = 0
	}
	if dt > MaxStep {
		dt = MaxStep
	}
	f := Smoothing * dt.Seconds()
	if f > 1 {
		f = 1
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	t := i.target
	c := &i.current
	for ch := 0; ch < 3; ch++ {
		c.Color1[ch] = lerp(c.Color1[ch], t.Color1[ch], f)
		c.Color2[ch] = lerp(c.Color2[ch], t.Color2[ch], f)
	}
	c.Distortion = lerp(c.Distortion, t.Distortion, f)
	c.Speed = lerp(c.Speed, t.Speed, f)
	c.Glow = lerp(c.Glow, t.Glow, f)
	return *c
}

// Current returns a copy of the visual state.
func (i *Interpolator) Current() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.current
}

// Target returns the targeted profile.
func (i *Interpolator) Target() Profile {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.target
}

func lerp(from, to, f float64) float64 {
	return from + (to-from)*f
}
