package main

import (
	"io"
	"os"

	appconfig "github.com/saker-ai/presence-engine/internal/config"
)

// MoodsCmd prints the catalog after file overrides are applied.
type MoodsCmd struct {
	File string `long:"file" description:"moods YAML to resolve instead of the configured moods_file"`

	out io.Writer
}

func (m *MoodsCmd) Execute(_ []string) error {
	path := m.File
	if path == "" {
		cfg, err := appconfig.LoadConfig(options.Config)
		if err != nil {
			return err
		}
		path = cfg.MoodsFile
	}
	catalog, err := appconfig.LoadMoods(path)
	if err != nil {
		return err
	}
	data, err := appconfig.MarshalMoods(catalog)
	if err != nil {
		return err
	}
	out := m.out
	if out == nil {
		out = os.Stdout
	}
	_, err = out.Write(data)
	return err
}
