package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/chosa/internal/model"
)

// Playbook describes what a run analyzes: which domains to cover, the
// categories expected within each, and which engagement scopes to examine.
// One analysis task is scheduled per (document, domain, scope).
type Playbook struct {
	Scopes  []model.Scope `yaml:"scopes"`
	Domains []Domain      `yaml:"domains"`
}

// Domain is one area of review.
type Domain struct {
	Name       string   `yaml:"name"`
	Categories []string `yaml:"categories"`
	// Guidance is appended to the extraction prompt for this domain.
	Guidance string `yaml:"guidance,omitempty"`
}

// DefaultPlaybook returns the built-in review program used when no playbook
// file is configured.
func DefaultPlaybook() Playbook {
	return Playbook{
		Scopes: []model.Scope{model.ScopeTarget},
		Domains: []Domain{
			{
				Name:       "financial",
				Categories: []string{"revenue", "profitability", "working_capital", "debt", "audit"},
			},
			{
				Name:       "legal",
				Categories: []string{"contracts", "litigation", "ip", "compliance"},
			},
			{
				Name:       "commercial",
				Categories: []string{"customers", "pipeline", "pricing", "competition"},
			},
			{
				Name:       "hr",
				Categories: []string{"headcount", "key_people", "compensation", "attrition"},
			},
			{
				Name:       "it",
				Categories: []string{"architecture", "licences", "security", "data_protection"},
			},
		},
	}
}

// LoadPlaybook reads and validates a playbook YAML file. An empty path
// returns the default playbook.
func LoadPlaybook(path string) (Playbook, error) {
	if path == "" {
		return DefaultPlaybook(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Playbook{}, fmt.Errorf("config: read playbook: %w", err)
	}
	var pb Playbook
	if err := yaml.Unmarshal(raw, &pb); err != nil {
		return Playbook{}, fmt.Errorf("config: parse playbook: %w", err)
	}
	if len(pb.Scopes) == 0 {
		pb.Scopes = []model.Scope{model.ScopeTarget}
	}
	if err := pb.Validate(); err != nil {
		return Playbook{}, err
	}
	return pb, nil
}

// Validate checks the playbook's structure.
func (p Playbook) Validate() error {
	if len(p.Domains) == 0 {
		return fmt.Errorf("config: playbook has no domains")
	}
	seen := make(map[string]bool, len(p.Domains))
	for _, d := range p.Domains {
		if d.Name == "" {
			return fmt.Errorf("config: playbook domain with empty name")
		}
		if seen[d.Name] {
			return fmt.Errorf("config: duplicate playbook domain %q", d.Name)
		}
		seen[d.Name] = true
		if len(d.Categories) == 0 {
			return fmt.Errorf("config: playbook domain %q has no categories", d.Name)
		}
	}
	for _, s := range p.Scopes {
		if err := model.ValidateScope(s); err != nil {
			return fmt.Errorf("config: playbook: %w", err)
		}
	}
	return nil
}

// DomainNames lists the playbook's domains in order.
func (p Playbook) DomainNames() []string {
	out := make([]string, len(p.Domains))
	for i, d := range p.Domains {
		out[i] = d.Name
	}
	return out
}

// DomainByName looks up one domain.
func (p Playbook) DomainByName(name string) (Domain, bool) {
	for _, d := range p.Domains {
		if d.Name == name {
			return d, true
		}
	}
	return Domain{}, false
}
