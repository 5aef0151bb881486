package pipeline

import (
	"errors"
	"fmt"
)

// TableSource is one raw experiment table of a batch.
type TableSource struct {
	Name                   string `yaml:"name"`
	Path                   string `yaml:"path"`
	TolerateMissingOutcome bool   `yaml:"tolerate_missing_outcome"`
}

// Manifest lists the inputs of one run. Tables are read in order; a reaction
// seen again replaces the earlier copy but keeps its first-seen position.
type Manifest struct {
	Inventory string        `yaml:"inventory"`
	Tables    []TableSource `yaml:"tables"`
}

// Validate checks that every input is named.
func (m Manifest) Validate() error {
	if m.Inventory == "" {
		return errors.New("manifest: inventory path required")
	}
	if len(m.Tables) == 0 {
		return errors.New("manifest: at least one table required")
	}
	names := make(map[string]struct{}, len(m.Tables))
	for i, t := range m.Tables {
		if t.Path == "" {
			return fmt.Errorf("manifest: table %d has no path", i)
		}
		name := t.DisplayName()
		if _, dup := names[name]; dup {
			return fmt.Errorf("manifest: duplicate table %q", name)
		}
		names[name] = struct{}{}
	}
	return nil
}

// DisplayName is the table name, defaulting to its path.
func (t TableSource) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Path
}
