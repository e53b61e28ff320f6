package mood

import (
	"fmt"
	"sort"
)

// ID names a mood.
type ID string

const (
	Neutral  ID = "neutral"
	Happy    ID = "happy"
	Excited  ID = "excited"
	Calm     ID = "calm"
	Sad      ID = "sad"
	Thinking ID = "thinking"
	Angry    ID = "angry"
)

// IDs lists every mood in a stable order.
var IDs = []ID{Neutral, Happy, Excited, Calm, Sad, Thinking, Angry}

// Color is an RGB triple with components in [0,1].
type Color [3]float64

// Profile is the visual target associated with a mood.
type Profile struct {
	ID         ID      `json:"id" yaml:"id"`
	Color1     Color   `json:"color1" yaml:"color1"`
	Color2     Color   `json:"color2" yaml:"color2"`
	Distortion float64 `json:"distortion" yaml:"distortion"`
	Speed      float64 `json:"speed" yaml:"speed"`
	Glow       float64 `json:"glow" yaml:"glow"`
}

var builtin = map[ID]Profile{
	Neutral:  {ID: Neutral, Color1: Color{0.29, 0.42, 0.97}, Color2: Color{0.55, 0.36, 0.96}, Distortion: 0.15, Speed: 0.3, Glow: 0.5},
	Happy:    {ID: Happy, Color1: Color{1.0, 0.84, 0.0}, Color2: Color{1.0, 0.55, 0.0}, Distortion: 0.25, Speed: 0.6, Glow: 0.8},
	Excited:  {ID: Excited, Color1: Color{1.0, 0.2, 0.4}, Color2: Color{1.0, 0.6, 0.0}, Distortion: 0.35, Speed: 0.8, Glow: 1.0},
	Calm:     {ID: Calm, Color1: Color{0.0, 0.8, 0.7}, Color2: Color{0.2, 0.5, 0.9}, Distortion: 0.08, Speed: 0.15, Glow: 0.3},
	Sad:      {ID: Sad, Color1: Color{0.2, 0.2, 0.5}, Color2: Color{0.3, 0.15, 0.4}, Distortion: 0.05, Speed: 0.1, Glow: 0.2},
	Thinking: {ID: Thinking, Color1: Color{0.5, 0.3, 0.9}, Color2: Color{0.3, 0.5, 1.0}, Distortion: 0.2, Speed: 0.5, Glow: 0.6},
	Angry:    {ID: Angry, Color1: Color{0.9, 0.1, 0.1}, Color2: Color{0.6, 0.0, 0.0}, Distortion: 0.4, Speed: 1.0, Glow: 0.9},
}

// Catalog is an immutable table of mood profiles.
type Catalog struct {
	profiles map[ID]Profile
}

// Default returns the built-in catalog.
func Default() *Catalog {
	profiles := make(map[ID]Profile, len(builtin))
	for id, p := range builtin {
		profiles[id] = p
	}
	return &Catalog{profiles: profiles}
}

// NewCatalog builds a catalog from the built-in table with overrides applied.
// Overrides may only name known moods.
func NewCatalog(overrides map[ID]Profile) (*Catalog, error) {
	c := Default()
	for id, p := range overrides {
		if !Known(string(id)) {
			return nil, fmt.Errorf("unknown mood %q", id)
		}
		if err := validate(p); err != nil {
			return nil, fmt.Errorf("mood %s: %w", id, err)
		}
		p.ID = id
		c.profiles[id] = p
	}
	return c, nil
}

// ProfileFor returns the profile for id. Unknown ids resolve to neutral.
func (c *Catalog) ProfileFor(id string) Profile {
	if c == nil {
		return builtin[Neutral]
	}
	if p, ok := c.profiles[ID(id)]; ok {
		return p
	}
	return c.profiles[Neutral]
}

// Profiles returns every profile ordered by IDs.
func (c *Catalog) Profiles() []Profile {
	out := make([]Profile, 0, len(IDs))
	for _, id := range IDs {
		out = append(out, c.ProfileFor(string(id)))
	}
	return out
}

// Known reports whether id is one of the enumerated moods. Matching is case-sensitive.
func Known(id string) bool {
	_, ok := builtin[ID(id)]
	return ok
}

// Resolve maps an arbitrary string to a known mood id.
func Resolve(id string) ID {
	if Known(id) {
		return ID(id)
	}
	return Neutral
}

// Names returns the sorted mood names.
func Names() []string {
	names := make([]string, 0, len(IDs))
	for _, id := range IDs {
		names = append(names, string(id))
	}
	sort.Strings(names)
	return names
}

func validate(p Profile) error {
	for _, c := range []Color{p.Color1, p.Color2} {
		for _, v := range c {
			if v < 0 || v > 1 {
				return fmt.Errorf("color component %v out of range", v)
			}
		}
	}
	if p.Distortion < 0 || p.Speed < 0 || p.Glow < 0 {
		return fmt.Errorf("negative scalar")
	}
	return nil
}
