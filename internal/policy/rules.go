package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rule is one keyword-triggered rule from the rule file. Handoff rules use
// Reason (and optionally Response as a parting notice); automation rules must
// carry a Response.
type Rule struct {
	ID              string   `yaml:"id"`
	Enabled         bool     `yaml:"enabled"`
	TriggerKeywords []string `yaml:"triggerKeywords"`
	Reason          string   `yaml:"reason,omitempty"`
	Response        string   `yaml:"response,omitempty"`
}

// RuleSet is the full policy configuration, loaded from a YAML file. Rules
// are evaluated in document order.
type RuleSet struct {
	HandoffKeywords []string `yaml:"handoffKeywords"`
	HandoffRules    []Rule   `yaml:"handoffRules"`
	AutomationRules []Rule   `yaml:"automationRules"`
}

// LoadRules reads and validates a rule file. An empty path yields an empty
// rule set, so running without a rule file is fine.
func LoadRules(path string) (*RuleSet, error) {
	if path == "" {
		return &RuleSet{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Validate checks structural invariants: unique IDs, keywords on every
// enabled rule, and a response on every enabled automation rule.
func (rs *RuleSet) Validate() error {
	seen := make(map[string]bool)
	check := func(kind string, r Rule) error {
		if r.ID == "" {
			return fmt.Errorf("%s rule with empty id", kind)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		if r.Enabled && len(r.TriggerKeywords) == 0 {
			return fmt.Errorf("%s rule %q is enabled but has no trigger keywords", kind, r.ID)
		}
		return nil
	}

	for _, r := range rs.HandoffRules {
		if err := check("handoff", r); err != nil {
			return err
		}
	}
	for _, r := range rs.AutomationRules {
		if err := check("automation", r); err != nil {
			return err
		}
		if r.Enabled && r.Response == "" {
			return fmt.Errorf("automation rule %q is enabled but has no response", r.ID)
		}
	}
	return nil
}
