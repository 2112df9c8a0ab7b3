package classify

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Rule is one destructive-command pattern.
type Rule struct {
	Pattern string `yaml:"pattern"`
	Message string `yaml:"message"`
}

// RulesFile is the YAML schema of a policy file:
//
//	rules:
//	  extend_defaults: true
//	  destructive:
//	    - pattern: '\bdocker\s+system\s+prune\b'
//	      message: prunes docker data
type RulesFile struct {
	Rules struct {
		ExtendDefaults bool   `yaml:"extend_defaults"`
		Destructive    []Rule `yaml:"destructive"`
	} `yaml:"rules"`
}

// RulePolicy flags commands that match any of its regular expressions.
// Patterns match anywhere in the command, so chained and piped commands are
// caught by their most dangerous part.
type RulePolicy struct {
	rules []compiledRule
}

type compiledRule struct {
	re   *regexp.Regexp
	rule Rule
}

var _ Policy = (*RulePolicy)(nil)

// NewRulePolicy compiles rules.
func NewRulePolicy(rules []Rule) (*RulePolicy, error) {
	p := &RulePolicy{}
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("classify: rule %q: %w", r.Pattern, err)
		}
		p.rules = append(p.rules, compiledRule{re: re, rule: r})
	}
	return p, nil
}

// LoadRulePolicy reads a policy file. An empty path yields DefaultPolicy. A
// file with no destructive rules also yields the defaults; a file that sets
// extend_defaults adds its rules to them.
func LoadRulePolicy(path string) (*RulePolicy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("classify: read policy: %w", err)
	}
	var f RulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("classify: parse policy: %w", err)
	}
	rules := f.Rules.Destructive
	if len(rules) == 0 {
		return DefaultPolicy(), nil
	}
	if f.Rules.ExtendDefaults {
		rules = append(DefaultRules(), rules...)
	}
	return NewRulePolicy(rules)
}

// Destructive implements Policy.
func (p *RulePolicy) Destructive(command string) (bool, []string) {
	var reasons []string
	for _, r := range p.rules {
		if r.re.MatchString(command) {
			reasons = append(reasons, r.rule.Message)
		}
	}
	return len(reasons) > 0, reasons
}

// DefaultPolicy returns a RulePolicy built from DefaultRules.
func DefaultPolicy() *RulePolicy {
	p, err := NewRulePolicy(DefaultRules())
	if err != nil {
		panic(err)
	}
	return p
}

// DefaultRules errs towards asking: anything that deletes, formats, stops,
// restarts, kills or powers off requires confirmation.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: `\brm\b`, Message: "removes files"},
		{Pattern: `\brmdir\b`, Message: "removes directories"},
		{Pattern: `\bmkfs\b|\bmkfs\.`, Message: "creates a filesystem"},
		{Pattern: `\bdd\b`, Message: "raw disk copy"},
		{Pattern: `\b(shutdown|reboot|halt|poweroff)\b`, Message: "powers off or restarts the host"},
		{Pattern: `\b(kill|killall|pkill)\b`, Message: "terminates processes"},
		{Pattern: `\bsystemctl\s+(\S+\s+)*(stop|restart|disable|mask|kill|isolate|poweroff|reboot|halt)\b`, Message: "stops or restarts a service"},
		{Pattern: `\bservice\b`, Message: "controls a service"},
		{Pattern: `\b(fdisk|sfdisk|mkswap|parted|gparted|wipefs)\b`, Message: "modifies disk partitions"},
		{Pattern: `\bformat\b`, Message: "formats a device"},
		{Pattern: `\b(lvremove|vgremove|pvremove)\b`, Message: "removes LVM volumes"},
		{Pattern: `>\s*/dev/(sd|hd|vd|xvd|nvme)`, Message: "writes to a block device"},
		{Pattern: `\bcrontab\s+-r\b`, Message: "removes the crontab"},
		{Pattern: `:\(\)\s*\{`, Message: "fork bomb"},
	}
}
