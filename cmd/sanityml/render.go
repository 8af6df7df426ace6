package main

import (
	"fmt"
	"io"
	"slices"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	fxs "github.com/pgavlin/fx/v2/slices"
	"github.com/sugawarayuuta/sonnet"

	"github.com/sanityml/sanityml"
	"github.com/sanityml/sanityml/rules"
	"github.com/sanityml/sanityml/util"
)

var severityColors = map[rules.Severity]*color.Color{
	rules.Critical: color.New(color.FgRed, color.Bold),
	rules.Warn:     color.New(color.FgYellow),
	rules.Info:     color.New(color.FgCyan),
}

func humanBytes(n int) string {
	return humanize.Bytes(uint64(n))
}

// renderer prints per-artifact progress. Worker goroutines report
// concurrently, so every print holds the lock.
type renderer struct {
	m sync.Mutex
	w io.Writer
}

func newRenderer(w io.Writer) *renderer {
	return &renderer{w: w}
}

func (r *renderer) ArtifactScanning(path string, class sanityml.Class) {
	r.m.Lock()
	defer r.m.Unlock()

	fmt.Fprintf(r.w, "scanning %s (%s)\n", path, class)
}

func (r *renderer) ArtifactScanned(path string, class sanityml.Class, findings int) {
	r.m.Lock()
	defer r.m.Unlock()

	if findings == 0 {
		fmt.Fprintf(r.w, "%s: clean\n", path)
		return
	}
	fmt.Fprintf(r.w, "%s: %d findings\n", path, findings)
}

func (r *renderer) ScanDone(artifacts, findings int) {
	r.m.Lock()
	defer r.m.Unlock()

	fmt.Fprintf(r.w, "scanned %d artifacts\n", artifacts)
}

// writeReport renders the human-readable report: findings grouped under their
// artifact, then a one-line summary.
func writeReport(w io.Writer, artifacts []sanityml.Artifact, findings []sanityml.Finding, elapsed time.Duration) error {
	tw := tabwriter.NewWriter(w, 0, 2, 1, ' ', 0)

	lastPath := ""
	for _, f := range findings {
		if f.Path != lastPath {
			if lastPath != "" {
				fmt.Fprintln(tw)
			}
			fmt.Fprintf(tw, "%s\n", color.New(color.Bold).Sprint(f.Path))
			lastPath = f.Path
		}

		label := severityColors[f.Severity].Sprint(f.Severity)
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", label, f.RuleID, location(&f), clip(f.Evidence))
		if f.Rationale != "" {
			fmt.Fprintf(tw, "  \t\t\t%s\n", f.Rationale)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(findings) > 0 {
		fmt.Fprintln(w)
	}
	_, err := fmt.Fprintf(w, "%d artifacts scanned in %s: %s\n",
		len(artifacts), elapsed.Round(time.Millisecond), summarize(findings))
	return err
}

func location(f *sanityml.Finding) string {
	switch {
	case f.Line > 0 && f.Entry != "":
		return fmt.Sprintf("%s line %d", f.Entry, f.Line)
	case f.Line > 0:
		return fmt.Sprintf("line %d:%d", f.Line, f.Column)
	case f.Offset >= 0 && f.Entry != "":
		return fmt.Sprintf("%s offset %d", f.Entry, f.Offset)
	case f.Offset >= 0:
		return fmt.Sprintf("offset %d", f.Offset)
	case f.Entry != "":
		return f.Entry
	default:
		return "-"
	}
}

// clip bounds evidence to the terminal width so one long reconstructed call
// cannot wreck the table.
func clip(s string) string {
	limit := 80
	if termWidth > 40 {
		limit = termWidth / 2
	}
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func summarize(findings []sanityml.Finding) string {
	counts := map[rules.Severity]int{}
	for _, f := range findings {
		counts[f.Severity]++
	}
	if len(findings) == 0 {
		return color.GreenString("no findings")
	}
	return fmt.Sprintf("%d findings (%s critical, %s warn, %s info)",
		len(findings),
		severityColors[rules.Critical].Sprint(counts[rules.Critical]),
		severityColors[rules.Warn].Sprint(counts[rules.Warn]),
		severityColors[rules.Info].Sprint(counts[rules.Info]))
}

type artifactReport struct {
	Path   string `json:"path"`
	Class  string `json:"class"`
	Size   int    `json:"size"`
	SHA256 string `json:"sha256"`
}

type report struct {
	Root      string             `json:"root"`
	Duration  string             `json:"duration"`
	Artifacts []artifactReport   `json:"artifacts"`
	Findings  []sanityml.Finding `json:"findings"`
}

func writeJSON(w io.Writer, root string, artifacts []sanityml.Artifact, findings []sanityml.Finding, elapsed time.Duration) error {
	r := report{
		Root:     root,
		Duration: elapsed.Round(time.Millisecond).String(),
		Artifacts: slices.Collect(fxs.Map(artifacts, func(a sanityml.Artifact) artifactReport {
			return artifactReport{
				Path:   a.Path,
				Class:  a.Class.String(),
				Size:   len(a.Data),
				SHA256: util.SHA256(a.Data),
			}
		})),
		Findings: findings,
	}
	if r.Findings == nil {
		r.Findings = []sanityml.Finding{}
	}

	enc := sonnet.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(r)
}
