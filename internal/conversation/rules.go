package conversation

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tag names the rule family a pattern belongs to.
type Tag string

const (
	TagFollowUp     Tag = "follow_up"
	TagExplainAgain Tag = "explain_again"
)

// Rule maps a case-insensitive substring to a classification tag.
type Rule struct {
	Pattern string `yaml:"pattern"`
	Tag     Tag    `yaml:"tag"`
}

// RuleSet is the data-driven classification table plus the subject vocabulary.
type RuleSet struct {
	Rules    []Rule   `yaml:"rules"`
	Subjects []string `yaml:"subjects"`
}

//go:embed rules.yaml
var defaultRulesYAML []byte

// DefaultRules returns the built-in rule table.
func DefaultRules() RuleSet {
	rs, err := ParseRules(defaultRulesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded rules.yaml is invalid: %v", err))
	}
	return rs
}

// LoadRules reads a rule table from a YAML file.
func LoadRules(path string) (RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(raw)
}

// ParseRules decodes and normalizes a YAML rule table.
func ParseRules(raw []byte) (RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(raw, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("decode rules: %w", err)
	}

	rules := make([]Rule, 0, len(rs.Rules))
	for i, r := range rs.Rules {
		pattern := strings.ToLower(strings.TrimSpace(r.Pattern))
		if pattern == "" {
			return RuleSet{}, fmt.Errorf("rule %d: empty pattern", i)
		}
		switch r.Tag {
		case TagFollowUp, TagExplainAgain:
		default:
			return RuleSet{}, fmt.Errorf("rule %d: unknown tag %q", i, r.Tag)
		}
		rules = append(rules, Rule{Pattern: pattern, Tag: r.Tag})
	}
	if len(rules) == 0 {
		return RuleSet{}, fmt.Errorf("rule table is empty")
	}

	subjects := make([]string, 0, len(rs.Subjects))
	for _, s := range rs.Subjects {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			subjects = append(subjects, s)
		}
	}

	return RuleSet{Rules: rules, Subjects: subjects}, nil
}

// Classify evaluates every rule once against text.
func (rs RuleSet) Classify(text string) Classification {
	lower := strings.ToLower(text)
	var c Classification
	for _, r := range rs.Rules {
		if !strings.Contains(lower, r.Pattern) {
			continue
		}
		switch r.Tag {
		case TagFollowUp:
			c.FollowUp = true
		case TagExplainAgain:
			c.ExplainAgain = true
		}
	}
	return c
}
