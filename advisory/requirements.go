package advisory

import (
	"bufio"
	"strings"
)

// A Requirement is one dependency declaration from a requirements file. Only
// exactly pinned requirements can be audited; everything else is recorded with
// Pinned false so callers can report the gap.
type Requirement struct {
	Name    string
	Version string
	Pinned  bool
	Line    int
}

// ParseRequirements parses pip requirements text. The format is line oriented
// and forgiving: comments, blank lines, pip options, and editable or URL
// requirements are skipped rather than rejected.
func ParseRequirements(data []byte) []Requirement {
	var reqs []Requirement

	sc := bufio.NewScanner(strings.NewReader(string(data)))
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())

		if i := strings.Index(raw, "#"); i >= 0 {
			raw = strings.TrimSpace(raw[:i])
		}
		if raw == "" || strings.HasPrefix(raw, "-") {
			continue
		}
		if strings.Contains(raw, "://") || strings.HasPrefix(raw, ".") || strings.HasPrefix(raw, "/") {
			continue
		}

		// Environment markers apply the requirement conditionally; the audit
		// treats them as unconditional.
		if i := strings.Index(raw, ";"); i >= 0 {
			raw = strings.TrimSpace(raw[:i])
		}

		name, version, pinned := splitRequirement(raw)
		if name == "" {
			continue
		}
		reqs = append(reqs, Requirement{
			Name:    normalizeName(name),
			Version: version,
			Pinned:  pinned,
			Line:    line,
		})
	}
	return reqs
}

// splitRequirement separates "name[extras]==version" into its parts. "===" and
// "==" are exact pins; range operators leave the requirement unpinned.
func splitRequirement(s string) (name, version string, pinned bool) {
	nameEnd := len(s)
	for i, r := range s {
		if r == '[' || r == '=' || r == '<' || r == '>' || r == '~' || r == '!' || r == ' ' {
			nameEnd = i
			break
		}
	}
	name = s[:nameEnd]

	rest := s[nameEnd:]
	if i := strings.Index(rest, "]"); i >= 0 && strings.HasPrefix(rest, "[") {
		rest = rest[i+1:]
	}
	rest = strings.TrimSpace(rest)

	for _, op := range []string{"===", "=="} {
		if v, ok := strings.CutPrefix(rest, op); ok {
			version = strings.TrimSpace(v)
			// A trailing wildcard pin like ==1.* is a range, not a version.
			if version != "" && !strings.Contains(version, "*") && !strings.ContainsAny(version, ",<>") {
				return name, version, true
			}
			return name, "", false
		}
	}
	return name, "", false
}

// normalizeName applies PyPI name normalization: case folding with underscores
// and dots collapsed to hyphens.
func normalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "_", "-")
	name = strings.ReplaceAll(name, ".", "-")
	return name
}
