// Package rules holds the scanner's policy: which imported symbols and which
// source patterns are considered dangerous, and how severe each match is. The
// table is declarative data loaded once at startup and immutable afterwards;
// the classifiers never hardcode symbol names.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Severity ranks a finding.
type Severity int

const (
	Info Severity = iota
	Warn
	Critical
)

func (s Severity) String() string {
	switch s {
	case Critical:
		return "critical"
	case Warn:
		return "warn"
	default:
		return "info"
	}
}

// MarshalText implements encoding.TextMarshaler for report serialization.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for rule-table loading.
func (s *Severity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "info":
		*s = Info
	case "warn":
		*s = Warn
	case "critical":
		*s = Critical
	default:
		return fmt.Errorf("unknown severity %q", string(b))
	}
	return nil
}

// A DenyRule names importable symbols whose presence in a deserialization
// stream is a finding. A symbol of the form "module.*" matches any attribute
// of the module.
type DenyRule struct {
	ID        string   `toml:"id"`
	Severity  Severity `toml:"severity"`
	Rationale string   `toml:"rationale"`
	Symbols   []string `toml:"symbols"`
}

// A SourceRule is a pattern applied to source text, line by line.
type SourceRule struct {
	ID        string   `toml:"id"`
	Severity  Severity `toml:"severity"`
	Rationale string   `toml:"rationale"`
	Pattern   string   `toml:"pattern"`

	re *regexp.Regexp
}

// Find returns the column (1-based) and matched text of the rule's first
// occurrence in line, or ok == false.
func (r *SourceRule) Find(line string) (col int, match string, ok bool) {
	loc := r.re.FindStringIndex(line)
	if loc == nil {
		return 0, "", false
	}
	return loc[0] + 1, line[loc[0]:loc[1]], true
}

// Heuristic describes the fallback rule applied to global references that hit
// no deny entry but fall outside the module allowlist.
type Heuristic struct {
	ID        string   `toml:"id"`
	Severity  Severity `toml:"severity"`
	Rationale string   `toml:"rationale"`
}

type tableFile struct {
	Deny      []DenyRule   `toml:"deny"`
	Source    []SourceRule `toml:"source"`
	Heuristic Heuristic    `toml:"heuristic"`
	Allow     struct {
		Modules []string `toml:"modules"`
	} `toml:"allow"`
}

// A Table is the compiled, immutable rule set. One Table serves all workers
// concurrently; it is never mutated after Load.
type Table struct {
	deny      map[string]*DenyRule // exact "module.name" matches
	denyAny   map[string]*DenyRule // "module.*" matches
	allow     map[string]struct{}  // allowlisted module roots
	source    []*SourceRule
	heuristic Heuristic
}

//go:embed default_rules.toml
var defaultRules []byte

// Load compiles a rule table from TOML. A malformed table is the one fatal
// error class in the scanner; callers must surface it before scanning begins.
func Load(b []byte) (*Table, error) {
	var file tableFile
	if err := toml.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("parsing rule table: %w", err)
	}

	t := &Table{
		deny:      make(map[string]*DenyRule),
		denyAny:   make(map[string]*DenyRule),
		allow:     make(map[string]struct{}),
		heuristic: file.Heuristic,
	}
	if t.heuristic.ID == "" {
		return nil, fmt.Errorf("rule table missing heuristic rule")
	}

	for i := range file.Deny {
		rule := &file.Deny[i]
		if rule.ID == "" {
			return nil, fmt.Errorf("deny rule %d missing id", i)
		}
		for _, sym := range rule.Symbols {
			if module, ok := strings.CutSuffix(sym, ".*"); ok {
				t.denyAny[module] = rule
			} else {
				t.deny[sym] = rule
			}
		}
	}

	for _, module := range file.Allow.Modules {
		t.allow[module] = struct{}{}
	}

	for i := range file.Source {
		rule := &file.Source[i]
		if rule.ID == "" {
			return nil, fmt.Errorf("source rule %d missing id", i)
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("source rule %s: %w", rule.ID, err)
		}
		rule.re = re
		t.source = append(t.source, rule)
	}

	return t, nil
}

// LoadFile loads a rule table from a TOML file on disk.
func LoadFile(path string) (*Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule table: %w", err)
	}
	return Load(b)
}

// Default returns the embedded rule table. The embedded table is part of the
// binary; failing to parse it is a programming error.
func Default() *Table {
	t, err := Load(defaultRules)
	if err != nil {
		panic(err)
	}
	return t
}

// MatchSymbol returns the deny rule covering module.name, if any. Exact
// symbol entries take precedence over module wildcards.
func (t *Table) MatchSymbol(module, name string) *DenyRule {
	if rule, ok := t.deny[module+"."+name]; ok {
		return rule
	}
	return t.denyAny[module]
}

// AllowedModule reports whether the module's root package is on the expected
// ML-framework/serialization allowlist.
func (t *Table) AllowedModule(module string) bool {
	root := module
	if i := strings.IndexByte(root, '.'); i >= 0 {
		root = root[:i]
	}
	_, ok := t.allow[root]
	return ok
}

// HeuristicRule returns the fallback rule for out-of-allowlist references.
func (t *Table) HeuristicRule() Heuristic {
	return t.heuristic
}

// SourceRules returns the compiled source patterns in table order.
func (t *Table) SourceRules() []*SourceRule {
	return t.source
}
