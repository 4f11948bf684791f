// Package config loads the paper-split file consumed by the run-eval
// subcommand.
package config

import (
	"fmt"

	"github.com/goccy/go-yaml"
)

// PaperSpec names one paper's rubric and source material, one entry of a
// PaperSplit file.
type PaperSpec struct {
	ID               string `yaml:"id"`
	RubricPath       string `yaml:"rubric_path"`
	PaperPath        string `yaml:"paper_path"`
	InstructionsPath string `yaml:"instructions_path,omitempty"`
}

// PaperSplit is the `--paper-split` file: the set of papers a run-eval
// invocation schedules against.
type PaperSplit struct {
	Papers []PaperSpec `yaml:"papers"`
}

// LoadPaperSplit parses a paper-split YAML document and validates that
// every entry names a non-empty id and rubric path.
func LoadPaperSplit(data []byte) (*PaperSplit, error) {
	var split PaperSplit
	if err := yaml.Unmarshal(data, &split); err != nil {
		return nil, fmt.Errorf("parsing paper split\n%s", yaml.FormatError(err, true, true))
	}
	if len(split.Papers) == 0 {
		return nil, fmt.Errorf("paper split contains no papers")
	}
	seen := make(map[string]bool, len(split.Papers))
	for _, p := range split.Papers {
		if p.ID == "" {
			return nil, fmt.Errorf("paper split entry missing id")
		}
		if p.RubricPath == "" {
			return nil, fmt.Errorf("paper split entry %q missing rubric_path", p.ID)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("paper split has duplicate id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return &split, nil
}

// IDs returns the paper split's ids in file order.
func (s *PaperSplit) IDs() []string {
	ids := make([]string, len(s.Papers))
	for i, p := range s.Papers {
		ids[i] = p.ID
	}
	return ids
}

// Lookup returns the PaperSpec for id, if present.
func (s *PaperSplit) Lookup(id string) (PaperSpec, bool) {
	for _, p := range s.Papers {
		if p.ID == id {
			return p, true
		}
	}
	return PaperSpec{}, false
}
