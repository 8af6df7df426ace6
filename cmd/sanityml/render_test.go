package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sugawarayuuta/sonnet"

	"github.com/sanityml/sanityml"
	"github.com/sanityml/sanityml/rules"
)

func TestWriteJSON(t *testing.T) {
	artifacts := []sanityml.Artifact{
		{Path: "model.pkl", Class: sanityml.ClassModel, Data: []byte{0x80, 0x02, 'N', '.'}},
	}
	findings := []sanityml.Finding{{
		Path:     "model.pkl",
		Offset:   2,
		RuleID:   "process-spawn",
		Severity: rules.Critical,
	}}

	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, ".", artifacts, findings, 42*time.Millisecond))

	var decoded struct {
		Root      string `json:"root"`
		Duration  string `json:"duration"`
		Artifacts []struct {
			Path   string `json:"path"`
			Class  string `json:"class"`
			SHA256 string `json:"sha256"`
		} `json:"artifacts"`
		Findings []struct {
			Rule     string `json:"rule"`
			Severity string `json:"severity"`
		} `json:"findings"`
	}
	require.NoError(t, sonnet.Unmarshal(buf.Bytes(), &decoded))

	assert.Equal(t, ".", decoded.Root)
	assert.Equal(t, "42ms", decoded.Duration)
	require.Len(t, decoded.Artifacts, 1)
	assert.Equal(t, "model", decoded.Artifacts[0].Class)
	assert.Len(t, decoded.Artifacts[0].SHA256, 64)
	require.Len(t, decoded.Findings, 1)
	assert.Equal(t, "critical", decoded.Findings[0].Severity)
}

func TestWriteJSONEmptyFindingsIsArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, ".", nil, nil, time.Millisecond))
	assert.Contains(t, buf.String(), `"findings": []`)
}

func TestWriteReportSummary(t *testing.T) {
	findings := []sanityml.Finding{
		{Path: "a.pkl", Offset: 2, RuleID: "process-spawn", Severity: rules.Critical, Rationale: "spawns a process"},
		{Path: "b.py", Line: 3, Column: 1, RuleID: "shell-true", Severity: rules.Warn},
	}

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, nil, findings, time.Second))

	out := buf.String()
	assert.Contains(t, out, "a.pkl")
	assert.Contains(t, out, "offset 2")
	assert.Contains(t, out, "line 3:1")
	assert.True(t, strings.Contains(out, "2 findings"))
}
