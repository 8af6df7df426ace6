package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTableLoads(t *testing.T) {
	table := Default()
	require.NotNil(t, table)
	assert.NotEmpty(t, table.SourceRules())
}

func TestMatchSymbol(t *testing.T) {
	table := Default()

	cases := []struct {
		module, name string
		id           string
		severity     Severity
	}{
		{"os", "system", "process-spawn", Critical},
		{"posix", "system", "process-spawn", Critical},
		{"subprocess", "Popen", "process-spawn", Critical},
		{"subprocess", "anything_at_all", "process-spawn", Critical},
		{"builtins", "eval", "dynamic-eval", Critical},
		{"builtins", "getattr", "attribute-injection", Critical},
		{"socket", "socket", "network-access", Warn},
		{"shutil", "rmtree", "file-tamper", Warn},
	}
	for _, c := range cases {
		rule := table.MatchSymbol(c.module, c.name)
		require.NotNilf(t, rule, "%s.%s", c.module, c.name)
		assert.Equal(t, c.id, rule.ID)
		assert.Equal(t, c.severity, rule.Severity)
	}

	assert.Nil(t, table.MatchSymbol("collections", "OrderedDict"))
	assert.Nil(t, table.MatchSymbol("torch._utils", "_rebuild_tensor_v2"))
}

func TestAllowedModule(t *testing.T) {
	table := Default()

	assert.True(t, table.AllowedModule("torch"))
	assert.True(t, table.AllowedModule("torch.nn.functional"))
	assert.True(t, table.AllowedModule("collections"))
	assert.False(t, table.AllowedModule("ftplib"))
	assert.False(t, table.AllowedModule("my_evil_module"))
}

func TestExactMatchBeatsWildcard(t *testing.T) {
	table, err := Load([]byte(`
[heuristic]
id = "unexpected-module"
severity = "warn"
rationale = "r"

[[deny]]
id = "broad"
severity = "warn"
rationale = "r"
symbols = ["mod.*"]

[[deny]]
id = "narrow"
severity = "critical"
rationale = "r"
symbols = ["mod.exact"]
`))
	require.NoError(t, err)

	assert.Equal(t, "narrow", table.MatchSymbol("mod", "exact").ID)
	assert.Equal(t, "broad", table.MatchSymbol("mod", "other").ID)
}

func TestSourceRuleFind(t *testing.T) {
	table := Default()

	var evalRule *SourceRule
	for _, rule := range table.SourceRules() {
		if rule.ID == "dynamic-eval" {
			evalRule = rule
			break
		}
	}
	require.NotNil(t, evalRule)

	col, match, ok := evalRule.Find(`result = eval(user_input)`)
	require.True(t, ok)
	assert.Equal(t, 9, col)
	assert.Contains(t, match, "eval")

	// Attribute access is not the builtin.
	_, _, ok = evalRule.Find(`model.eval()`)
	assert.False(t, ok)

	_, _, ok = evalRule.Find(`# nothing suspicious here`)
	assert.False(t, ok)
}

func TestLoadRejectsMalformedTables(t *testing.T) {
	cases := map[string]string{
		"not toml":          `{{{{`,
		"bad severity":      "[heuristic]\nid = \"h\"\nseverity = \"urgent\"\nrationale = \"r\"",
		"missing heuristic": "[[deny]]\nid = \"x\"\nseverity = \"warn\"\nrationale = \"r\"\nsymbols = [\"a.b\"]",
		"bad pattern":       "[heuristic]\nid = \"h\"\nseverity = \"warn\"\nrationale = \"r\"\n[[source]]\nid = \"s\"\nseverity = \"warn\"\nrationale = \"r\"\npattern = \"(\"",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(body))
			assert.Error(t, err)
		})
	}
}
