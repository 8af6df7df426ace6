package sanityml

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sanityml/sanityml/rules"
)

func TestDedupeFindings(t *testing.T) {
	findings := []Finding{
		{Path: "a.pkl", RuleID: "process-spawn", Offset: 2, Severity: rules.Critical},
		{Path: "a.pkl", RuleID: "process-spawn", Offset: 2, Severity: rules.Critical},
		{Path: "a.pkl", RuleID: "process-spawn", Offset: 9, Severity: rules.Critical},
		{Path: "a.pkl", RuleID: "dynamic-eval", Offset: 2, Severity: rules.Critical},
	}

	deduped := dedupeFindings(findings)
	assert.Len(t, deduped, 3)
}

func TestDedupeDistinguishesEntries(t *testing.T) {
	findings := []Finding{
		{Path: "m.pt", Entry: "data.pkl", RuleID: "process-spawn", Offset: 2},
		{Path: "m.pt", Entry: "extra.pkl", RuleID: "process-spawn", Offset: 2},
	}

	assert.Len(t, dedupeFindings(findings), 2)
}

func TestSortFindings(t *testing.T) {
	findings := []Finding{
		{Path: "b.py", Line: 3, Severity: rules.Warn, RuleID: "dynamic-import"},
		{Path: "a.pkl", Offset: 7, Severity: rules.Warn, RuleID: "unexpected-module"},
		{Path: "a.pkl", Offset: 2, Severity: rules.Critical, RuleID: "process-spawn"},
		{Path: "b.py", Line: 1, Severity: rules.Critical, RuleID: "dynamic-eval"},
	}

	sortFindings(findings)

	assert.Equal(t, []string{
		"process-spawn", "unexpected-module", "dynamic-eval", "dynamic-import",
	}, []string{findings[0].RuleID, findings[1].RuleID, findings[2].RuleID, findings[3].RuleID})
}
