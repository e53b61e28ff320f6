package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/saker-ai/presence-engine/internal/mood"
)

type moodsFilePayload struct {
	Moods map[string]yaml.Node `yaml:"moods"`
}

// LoadMoods builds the mood catalog, applying overrides from path. Each
// override starts from the built-in profile, so a file may set only the
// fields it changes. An empty path yields the built-in catalog.
func LoadMoods(path string) (*mood.Catalog, error) {
	if path == "" {
		return mood.Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read moods file: %w", err)
	}
	var payload moodsFilePayload
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse moods file %s: %w", path, err)
	}

	base := mood.Default()
	overrides := make(map[mood.ID]mood.Profile, len(payload.Moods))
	for name, node := range payload.Moods {
		if !mood.Known(name) {
			return nil, fmt.Errorf("moods file %s: unknown mood %q", path, name)
		}
		profile := base.ProfileFor(name)
		if err := node.Decode(&profile); err != nil {
			return nil, fmt.Errorf("moods file %s: mood %s: %w", path, name, err)
		}
		overrides[mood.ID(name)] = profile
	}
	return mood.NewCatalog(overrides)
}

// MarshalMoods renders a catalog in the moods file format.
func MarshalMoods(c *mood.Catalog) ([]byte, error) {
	type entry struct {
		Color1     mood.Color `yaml:"color1,flow"`
		Color2     mood.Color `yaml:"color2,flow"`
		Distortion float64    `yaml:"distortion"`
		Speed      float64    `yaml:"speed"`
		Glow       float64    `yaml:"glow"`
	}
	var root yaml.Node
	root.Kind = yaml.MappingNode
	moods := &yaml.Node{Kind: yaml.MappingNode}
	for _, p := range c.Profiles() {
		var value yaml.Node
		if err := value.Encode(entry{p.Color1, p.Color2, p.Distortion, p.Speed, p.Glow}); err != nil {
			return nil, err
		}
		moods.Content = append(moods.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: string(p.ID)}, &value)
	}
	root.Content = []*yaml.Node{{Kind: yaml.ScalarNode, Value: "moods"}, moods}
	return yaml.Marshal(&root)
}
