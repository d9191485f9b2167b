package scoring

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Rule targets
const (
	TargetAdditive            = "additive"
	TargetSeedOil             = "seed_oil"
	TargetArtificialColor     = "artificial_color"
	TargetSweetener           = "sweetener"
	TargetPreferred           = "preferred"
	TargetGluten              = "gluten"
	TargetGlutenExemption     = "gluten_exemption"
	TargetVeganExclusion      = "vegan_exclusion"
	TargetVegetarianExclusion = "vegetarian_exclusion"
	TargetVeganExemption      = "vegan_exemption"
	TargetPlant               = "plant"
	TargetUltraProcessed      = "ultra_processed"
	TargetAddedSugar          = "added_sugar"
	TargetPalmOil             = "palm_oil"
)

var knownTargets = map[string]bool{
	TargetAdditive: true, TargetSeedOil: true, TargetArtificialColor: true,
	TargetSweetener: true, TargetPreferred: true, TargetGluten: true,
	TargetGlutenExemption: true, TargetVeganExclusion: true,
	TargetVegetarianExclusion: true, TargetVeganExemption: true, TargetPlant: true,
	TargetUltraProcessed: true, TargetAddedSugar: true, TargetPalmOil: true,
}

//go:embed rules.json
var defaultRulesJSON []byte

// RuleDef is one entry of the rule table file
type RuleDef struct {
	Target  string  `json:"target"`
	Name    string  `json:"name"`
	Pattern string  `json:"pattern"`
	Weight  float64 `json:"weight"`
}

type ruleFile struct {
	Rules []RuleDef `json:"rules"`
}

type rule struct {
	name   string
	re     *regexp.Regexp
	weight float64
}

// Match is one rule that fired on a text
type Match struct {
	Rule   string  `json:"rule"`
	Count  int     `json:"count"`
	Weight float64 `json:"weight"`
}

// RuleSet is a compiled target -> pattern -> weight table. Patterns are case-insensitive.
type RuleSet struct {
	byTarget map[string][]rule
	digest   string
}

// DefaultRules compiles the embedded rule table
func DefaultRules() (*RuleSet, error) {
	return ParseRules(defaultRulesJSON)
}

// LoadRules compiles a rule table file
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules compiles a JSON rule table
func ParseRules(data []byte) (*RuleSet, error) {
	var file ruleFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("rule table is empty")
	}

	rs := &RuleSet{byTarget: make(map[string][]rule)}
	seen := make(map[string]bool)
	for i, def := range file.Rules {
		if !knownTargets[def.Target] {
			return nil, fmt.Errorf("rule %d: unknown target %q", i, def.Target)
		}
		if def.Name == "" || def.Pattern == "" {
			return nil, fmt.Errorf("rule %d: name and pattern are required", i)
		}
		key := def.Target + "/" + def.Name
		if seen[key] {
			return nil, fmt.Errorf("rule %d: duplicate rule %s", i, key)
		}
		seen[key] = true
		if def.Weight < 0 {
			return nil, fmt.Errorf("rule %s: weight must not be negative", key)
		}

		re, err := regexp.Compile("(?i)" + def.Pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule %s: %w", key, err)
		}
		rs.byTarget[def.Target] = append(rs.byTarget[def.Target], rule{name: def.Name, re: re, weight: def.Weight})
	}

	sum := sha256.Sum256(data)
	rs.digest = hex.EncodeToString(sum[:])
	return rs, nil
}

// Digest identifies the rule table content
func (rs *RuleSet) Digest() string {
	return rs.digest
}

// Targets lists the targets that have at least one rule
func (rs *RuleSet) Targets() []string {
	out := make([]string, 0, len(rs.byTarget))
	for t := range rs.byTarget {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Match returns the rules of target that fire on text, in table order
func (rs *RuleSet) Match(target, text string) []Match {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var out []Match
	for _, r := range rs.byTarget[target] {
		if n := len(r.re.FindAllStringIndex(text, -1)); n > 0 {
			out = append(out, Match{Rule: r.name, Count: n, Weight: r.weight})
		}
	}
	return out
}

// Strip blanks out every match of target, so exemptions ("peanut butter")
// cannot trigger exclusions ("butter")
func (rs *RuleSet) Strip(target, text string) string {
	for _, r := range rs.byTarget[target] {
		text = r.re.ReplaceAllString(text, " ")
	}
	return text
}

// Occurrences is the total match count
func Occurrences(matches []Match) int {
	n := 0
	for _, m := range matches {
		n += m.Count
	}
	return n
}

// Names lists the rule names that fired
func Names(matches []Match) []string {
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Rule
	}
	return out
}
