package util

import (
	"errors"
	"regexp"
	"strings"
)

// CompileGlobs compiles a set of path globs into one alternation regexp. `*`
// matches within a path segment, `**` crosses segments, `?` matches a single
// byte, and a backslash escapes glob metacharacters.
func CompileGlobs(globs []string) (*regexp.Regexp, error) {
	var pattern strings.Builder
	pattern.WriteRune('^')
	for i, g := range globs {
		if i > 0 {
			pattern.WriteRune('|')
		}
		pattern.WriteRune('(')
		if err := writeGlob(&pattern, g); err != nil {
			return nil, err
		}
		pattern.WriteRune(')')
	}
	pattern.WriteRune('$')

	return regexp.Compile(pattern.String())
}

func writeGlob(pattern *strings.Builder, g string) error {
	for i := 0; i < len(g); i++ {
		switch b := g[i]; b {
		case '\\':
			if i == len(g)-1 {
				return errors.New("invalid escape sequence")
			}
			switch c := g[i+1]; c {
			case '\\', '*', '?', '[', ']':
				pattern.WriteByte(b)
				pattern.WriteByte(c)
				i++
			default:
				return errors.New("invalid escape sequence")
			}
		case '*':
			if i < len(g)-1 && g[i+1] == '*' {
				pattern.WriteString(".*")
				i++
			} else {
				pattern.WriteString("[^/]*")
			}
		case '?':
			pattern.WriteByte('.')
		case '.', '+', '(', ')', '|', '{', '}', '^', '$', '[', ']':
			pattern.WriteByte('\\')
			pattern.WriteByte(b)
		default:
			pattern.WriteByte(b)
		}
	}
	return nil
}
