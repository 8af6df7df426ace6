package sanityml

import (
	"context"
	"fmt"

	"github.com/sanityml/sanityml/advisory"
	"github.com/sanityml/sanityml/rules"
)

// AuditRequirements resolves the pinned dependencies in a requirements file
// against the advisory database and reports affected pins as findings. Network
// failures degrade to a single parse-error finding on the file; the rest of
// the scan is unaffected.
func AuditRequirements(ctx context.Context, client *advisory.Client, path string, data []byte) []Finding {
	var findings []Finding
	for _, req := range advisory.ParseRequirements(data) {
		if !req.Pinned {
			continue
		}

		vulns, err := client.Query(ctx, req.Name, req.Version)
		if err != nil {
			findings = append(findings, Finding{
				Path:      path,
				Offset:    -1,
				Line:      req.Line,
				RuleID:    RuleParseError,
				Severity:  rules.Info,
				Rationale: "dependency could not be audited",
				Evidence:  err.Error(),
			})
			continue
		}

		for _, vuln := range vulns {
			findings = append(findings, Finding{
				Path:      path,
				Offset:    -1,
				Line:      req.Line,
				RuleID:    RuleVulnerableDependency,
				Severity:  rules.Warn,
				Rationale: "pinned dependency has a published vulnerability",
				Evidence:  fmt.Sprintf("%s==%s: %s %s", req.Name, req.Version, vuln.ID, vuln.Summary),
			})
		}
	}
	// Distinct advisories for one pin share a locator, so the generic dedupe
	// would collapse them; advisories are already unique by id.
	return findings
}
