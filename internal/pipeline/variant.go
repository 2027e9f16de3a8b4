package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultVariant is used when Start is called without a variant name.
const DefaultVariant = "completo"

// Variant is a named agent sequence.
type Variant struct {
	Name   string   `yaml:"-"`
	Agents []string `yaml:"agents"`
	// Approvals lists the agents whose artifact needs a human decision.
	Approvals []string `yaml:"approvals"`
	// ThemeAgent is the agent that waits for a visual theme before running.
	ThemeAgent string `yaml:"theme_agent"`
}

// ApprovalMap returns the variant's approval set as a map.
func (v Variant) ApprovalMap() map[string]bool {
	m := make(map[string]bool, len(v.Approvals))
	for _, a := range v.Approvals {
		m[a] = true
	}
	return m
}

// DefaultVariants returns the built-in variants.
func DefaultVariants() map[string]Variant {
	return map[string]Variant{
		"completo": {
			Name:       "completo",
			Agents:     []string{"pesquisa", "persona", "oferta", "copy", "landing"},
			Approvals:  []string{"oferta", "copy"},
			ThemeAgent: "landing",
		},
		"rapido": {
			Name:       "rapido",
			Agents:     []string{"pesquisa", "copy", "landing"},
			Approvals:  []string{"copy"},
			ThemeAgent: "landing",
		},
	}
}

type variantsFile struct {
	Variants map[string]Variant `yaml:"variants"`
}

// LoadVariants reads a variants YAML file and merges it over the built-ins.
// A missing file yields the built-ins.
//
//	variants:
//	  curto:
//	    agents: [pesquisa, copy]
//	    approvals: [copy]
func LoadVariants(path string) (map[string]Variant, error) {
	variants := DefaultVariants()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return variants, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read variants: %w", err)
	}

	var file variantsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse variants %s: %w", path, err)
	}
	for name, v := range file.Variants {
		if len(v.Agents) == 0 {
			return nil, fmt.Errorf("variant %q has no agents", name)
		}
		v.Name = name
		variants[name] = v
	}
	return variants, nil
}
