package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"chemplumb/internal/pipeline"
)

// LoadManifest parses a batch manifest. Relative paths resolve against the
// manifest's directory.
func LoadManifest(path string) (pipeline.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m pipeline.Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return pipeline.Manifest{}, fmt.Errorf("decode manifest %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	m.Inventory = resolve(dir, m.Inventory)
	for i := range m.Tables {
		m.Tables[i].Path = resolve(dir, m.Tables[i].Path)
	}
	if err := m.Validate(); err != nil {
		return pipeline.Manifest{}, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
