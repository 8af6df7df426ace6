package sanityml

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/sanityml/sanityml/rules"
)

// Rule ids for structural findings. Parse failures and resource-cap hits are
// reported through the same Finding channel as policy matches so that no
// artifact is ever silently skipped, but their ids and severities are fixed by
// the scanner rather than the rule table.
const (
	RuleParseError       = "parse-error"
	RuleStreamTooLarge   = "stream-too-large"
	RuleStackUnderflow   = "stack-underflow"
	RuleNoPickleStream   = "no-pickle-stream"
	RuleContainerCorrupt = "container-corrupt"
	RuleScanTimeout      = "scan-timeout"
	RuleNotebookCorrupt  = "notebook-corrupt"

	// RuleVulnerableDependency tags advisories surfaced by the dependency
	// path; the advisory id rides along in the finding's evidence.
	RuleVulnerableDependency = "vulnerable-dependency"
)

// A Finding is one classified risk observation about one artifact. Findings
// are immutable once produced and are never merged across artifacts.
type Finding struct {
	// Path is the artifact the finding belongs to.
	Path string `json:"path"`
	// Entry locates the finding inside a container: an archive member name or
	// a notebook cell label. Empty for top-level artifacts.
	Entry string `json:"entry,omitempty"`
	// Offset is the byte offset of the triggering opcode for stream findings,
	// or -1 when not applicable.
	Offset int64 `json:"offset"`
	// Line and Column locate source findings; zero when not applicable.
	Line   int `json:"line,omitempty"`
	Column int `json:"column,omitempty"`

	RuleID    string         `json:"rule"`
	Severity  rules.Severity `json:"severity"`
	Rationale string         `json:"rationale"`
	// Evidence is the matched symbol, reconstructed call, or source text.
	Evidence string `json:"evidence,omitempty"`
}

// locator renders the finding's position for deduplication and ordering.
func (f *Finding) locator() string {
	return fmt.Sprintf("%s\x00%d\x00%d\x00%d", f.Entry, f.Offset, f.Line, f.Column)
}

// dedupeFindings drops findings that duplicate an earlier (rule id, locator)
// pair. It operates within a single artifact's findings.
func dedupeFindings(findings []Finding) []Finding {
	seen := make(map[string]struct{}, len(findings))
	out := findings[:0]
	for _, f := range findings {
		key := f.RuleID + "\x00" + f.locator()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	return out
}

// SortReport applies the published report order to a merged findings slice
// and returns it. Callers that combine scan findings with findings from other
// paths use it to restore ordering before rendering.
func SortReport(findings []Finding) []Finding {
	sortFindings(findings)
	return findings
}

// sortFindings puts a report into its published order: artifact path, then
// severity descending, then locator. The sort is stable so repeated runs over
// the same inputs produce byte-identical reports.
func sortFindings(findings []Finding) {
	slices.SortStableFunc(findings, func(a, b Finding) int {
		if c := cmp.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Severity, a.Severity); c != 0 {
			return c
		}
		return cmp.Compare(a.locator(), b.locator())
	})
}
