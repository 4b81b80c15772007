package sem

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// candidateDoc mirrors the on-disk candidate set layout:
//
//	models:
//	  - name: flow-light
//	    equations:
//	      - gpp ~ light + ar1
//	      - er ~ gpp + area
type candidateDoc struct {
	Models []candidateEntry `yaml:"models"`
}

type candidateEntry struct {
	Name      string   `yaml:"name"`
	Equations []string `yaml:"equations"`
}

// ParseCandidates decodes a YAML candidate set into ordered specs. The
// document order is preserved; it is the order comparisons report in.
func ParseCandidates(data []byte) ([]Spec, error) {
	var doc candidateDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse candidate set: %w", err)
	}
	if len(doc.Models) == 0 {
		return nil, fmt.Errorf("candidate set declares no models")
	}

	seen := make(map[string]bool, len(doc.Models))
	specs := make([]Spec, 0, len(doc.Models))
	for i, entry := range doc.Models {
		if entry.Name == "" {
			return nil, fmt.Errorf("candidate %d: name required", i+1)
		}
		if seen[entry.Name] {
			return nil, fmt.Errorf("candidate %q declared twice", entry.Name)
		}
		seen[entry.Name] = true

		spec, err := NewSpec(entry.Name, entry.Equations)
		if err != nil {
			return nil, err
		}
		if len(spec.Equations) == 0 {
			return nil, &SpecificationError{Model: entry.Name, Detail: "no equations"}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// LoadCandidates reads and parses a candidate set file.
func LoadCandidates(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read candidate set: %w", err)
	}
	return ParseCandidates(data)
}
