package sanityml

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/sanityml/sanityml/pickle"
	"github.com/sanityml/sanityml/rules"
)

// classifyGraph tests every global reference and reconstructed call in a
// stream's capability graph against the rule table. The classifier is pure:
// the same graph and table always produce the same findings.
func classifyGraph(table *rules.Table, path, entry string, graph *pickle.Graph) []Finding {
	// Globals consumed as a call's callee are reported through the call,
	// which carries the reconstructed arguments as evidence. Reporting both
	// would double-count a single dangerous reference.
	callees := make(map[*pickle.Value]struct{}, len(graph.Calls))
	for _, call := range graph.Calls {
		if call.Callee != nil && call.Callee.Kind == pickle.KindGlobal {
			callees[call.Callee] = struct{}{}
		}
	}

	var findings []Finding
	flag := func(id string, severity rules.Severity, rationale, evidence string, offset int64) {
		findings = append(findings, Finding{
			Path:      path,
			Entry:     entry,
			Offset:    offset,
			RuleID:    id,
			Severity:  severity,
			Rationale: rationale,
			Evidence:  evidence,
		})
	}

	classifyGlobal := func(g *pickle.Value, evidence string, offset int64) {
		if rule := table.MatchSymbol(g.Module, g.Name); rule != nil {
			flag(rule.ID, rule.Severity, rule.Rationale, evidence, offset)
			return
		}
		if !table.AllowedModule(g.Module) {
			h := table.HeuristicRule()
			flag(h.ID, h.Severity, h.Rationale, g.Symbol(), offset)
		}
	}

	for _, g := range graph.Globals {
		if _, consumed := callees[g]; consumed {
			continue
		}
		classifyGlobal(g, g.Symbol(), g.Offset)
	}

	for _, call := range graph.Calls {
		callee := call.Callee
		if callee == nil || callee.Kind != pickle.KindGlobal {
			continue
		}
		evidence := call.String()
		if cmd, ok := shellCommand(call); ok {
			evidence += " [shell: " + cmd + "]"
		}
		classifyGlobal(callee, evidence, call.Offset)
	}

	return dedupeFindings(findings)
}

// shellCommand extracts the command name from a call whose first argument is
// a string, by parsing it as shell. This names the program a process-spawning
// payload would run, which reads better in a report than the raw string.
func shellCommand(call *pickle.Value) (string, bool) {
	if len(call.Args) == 0 {
		return "", false
	}
	arg := call.Args[0]
	if arg == nil || arg.Kind != pickle.KindLiteral || arg.Literal != "str" {
		return "", false
	}
	// Only strings that look like command lines are worth parsing; a bare
	// token adds nothing over the evidence that already shows it.
	if !strings.ContainsAny(arg.Str, " \t|&;<>$`") {
		return "", false
	}

	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(arg.Str), "")
	if err != nil {
		return "", false
	}

	var name string
	syntax.Walk(file, func(node syntax.Node) bool {
		if name != "" {
			return false
		}
		if call, ok := node.(*syntax.CallExpr); ok && len(call.Args) > 0 {
			if lit := call.Args[0].Lit(); lit != "" {
				name = lit
				return false
			}
		}
		return true
	})
	if name == "" {
		return "", false
	}
	return name, true
}
