package config

import (
	"fmt"
	"os"

	"github.com/journalctl/core/internal/models"
	"gopkg.in/yaml.v3"
)

// FilterProfileFile is the on-disk shape of a named filter profile fixture.
type FilterProfileFile struct {
	Name       string            `yaml:"name"`
	Mode       models.FilterMode `yaml:"mode"`
	Categories []models.Category `yaml:"categories"`
}

// LoadFilterProfilesYAML parses a filter-profile fixture file containing a
// list of named profiles, returning them keyed by name.
func LoadFilterProfilesYAML(path string) (map[string]FilterProfileFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read filter profiles %s: %w", path, err)
	}

	var raw []FilterProfileFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse filter profiles %s: %w", path, err)
	}

	out := make(map[string]FilterProfileFile, len(raw))
	for _, p := range raw {
		out[p.Name] = p
	}
	return out, nil
}

// Snapshot converts a loaded profile into the value-object form frozen into
// a Run's configJson.
func (f FilterProfileFile) Snapshot() models.FilterProfileSnapshot {
	cats := make([]models.Category, len(f.Categories))
	copy(cats, f.Categories)
	return models.FilterProfileSnapshot{Mode: f.Mode, Categories: cats}
}
