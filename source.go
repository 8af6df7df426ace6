package sanityml

import (
	"bufio"
	"strings"

	"github.com/sanityml/sanityml/rules"
)

// A SourceToken is one matched span in source text.
type SourceToken struct {
	Line   int
	Column int
	Rule   *rules.SourceRule
	Text   string
}

// maxSourceLine bounds the length of a single scanned line. Longer lines are
// passed through unflagged rather than failing the artifact: the source
// scanner never fails fatally on malformed input.
const maxSourceLine = 1 << 20

// scanSourceText applies the table's source patterns line by line. It is a
// shallow, token-oriented matcher by design: it accepts false negatives on
// exotic formatting in exchange for never choking on broken syntax.
func scanSourceText(table *rules.Table, text string) []SourceToken {
	var tokens []SourceToken

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 64*1024), maxSourceLine)

	line := 0
	for sc.Scan() {
		line++
		raw := sc.Text()
		for _, rule := range table.SourceRules() {
			if col, match, ok := rule.Find(raw); ok {
				tokens = append(tokens, SourceToken{
					Line:   line,
					Column: col,
					Rule:   rule,
					Text:   match,
				})
			}
		}
	}
	// A scanner error means an over-long line; everything matched before it
	// still counts.

	return tokens
}

// scanSource runs the source path for one artifact (or one notebook cell) and
// converts matches to findings.
func (s *Scanner) scanSource(path, entry, text string) []Finding {
	var findings []Finding
	for _, tok := range scanSourceText(s.rules, text) {
		findings = append(findings, Finding{
			Path:      path,
			Entry:     entry,
			Offset:    -1,
			Line:      tok.Line,
			Column:    tok.Column,
			RuleID:    tok.Rule.ID,
			Severity:  tok.Rule.Severity,
			Rationale: tok.Rule.Rationale,
			Evidence:  strings.TrimSpace(tok.Text),
		})
	}
	return dedupeFindings(findings)
}
