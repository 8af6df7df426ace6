// Package sanityml inspects ML project artifacts (serialized models, source
// files, notebooks) for latent code-execution risk. The pickle path
// disassembles object-reconstruction streams and classifies the capability
// graph they would realize; the source path pattern-matches call and import
// shapes. Nothing is ever executed, imported, or deserialized.
package sanityml

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sanityml/sanityml/pickle"
	"github.com/sanityml/sanityml/rules"
)

// Options configures a Scanner. The zero value is usable.
type Options struct {
	// Jobs is the number of artifacts scanned concurrently. Zero selects
	// runtime.NumCPU().
	Jobs int
	// MaxStreamBytes caps bytes consumed per embedded stream. Zero selects
	// pickle.DefaultMaxBytes.
	MaxStreamBytes int64
	// Timeout bounds wall-clock time per artifact. Zero means no timeout;
	// the byte cap still bounds total work.
	Timeout time.Duration
	// Events observes scan progress. Nil discards events.
	Events Events
}

// A Scanner classifies artifacts against an immutable rule table. One Scanner
// may be shared by any number of goroutines.
type Scanner struct {
	rules *rules.Table
	opts  Options
}

// New creates a Scanner. The table is the process-wide policy, loaded once;
// the Scanner never mutates it.
func New(table *rules.Table, opts Options) *Scanner {
	if opts.Events == nil {
		opts.Events = DiscardEvents
	}
	return &Scanner{rules: table, opts: opts}
}

// ScanArtifact runs one artifact through its pipeline end-to-end and returns
// its findings. Every failure mode converts to a finding: an artifact that
// cannot be classified is reported, never silently skipped.
func (s *Scanner) ScanArtifact(ctx context.Context, a Artifact) []Finding {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	switch a.Class {
	case ClassModel:
		return s.scanModel(ctx, a)
	case ClassSource:
		return s.scanSource(a.Path, "", string(a.Data))
	case ClassNotebook:
		return s.scanNotebook(a)
	default:
		return nil
	}
}

func (s *Scanner) scanModel(ctx context.Context, a Artifact) []Finding {
	// A corrupt entry mid-archive still yields the streams extracted before
	// it; those are classified alongside the corruption finding.
	streams, err := demux(a.Data, s.opts.MaxStreamBytes)

	var findings []Finding
	if err != nil {
		findings = append(findings, errorFinding(a.Path, "", err))
	}
	for _, st := range streams {
		if st.oversize {
			findings = append(findings, Finding{
				Path:      a.Path,
				Entry:     st.entry,
				Offset:    -1,
				RuleID:    RuleStreamTooLarge,
				Severity:  rules.Warn,
				Rationale: "embedded stream exceeds the configured byte cap",
			})
			continue
		}

		graph, err := pickle.Build(ctx, st.data, pickle.Options{MaxBytes: s.opts.MaxStreamBytes})
		findings = append(findings, classifyGraph(s.rules, a.Path, st.entry, graph)...)
		if err != nil {
			findings = append(findings, errorFinding(a.Path, st.entry, err))
		}
	}
	return findings
}

func (s *Scanner) scanNotebook(a Artifact) []Finding {
	cells, err := extractCells(a.Data)
	if err != nil {
		return []Finding{errorFinding(a.Path, "", err)}
	}

	var findings []Finding
	for _, cell := range cells {
		entry := fmt.Sprintf("cell %d", cell.index)
		findings = append(findings, s.scanSource(a.Path, entry, cell.source)...)
	}
	return findings
}

// errorFinding converts an artifact-local error into the single finding that
// represents it in the report.
func errorFinding(path, entry string, err error) Finding {
	f := Finding{
		Path:     path,
		Entry:    entry,
		Offset:   -1,
		RuleID:   RuleParseError,
		Severity: rules.Warn,
		Evidence: err.Error(),
	}

	var (
		truncated  *pickle.TruncatedError
		unknown    *pickle.UnknownOpcodeError
		mismatch   *pickle.ProtocolMismatchError
		tooLarge   *pickle.TooLargeError
		underflow  *pickle.StackUnderflowError
		corrupt    *ContainerCorruptError
		noStream   *NoStreamError
		notebook   *NotebookError
	)
	switch {
	case errors.As(err, &truncated):
		f.Offset = truncated.Offset
		f.Rationale = "stream ends before its declared contents"
	case errors.As(err, &unknown):
		f.Offset = unknown.Offset
		f.Rationale = "byte does not name a known instruction"
	case errors.As(err, &mismatch):
		f.Offset = mismatch.Offset
		f.Rationale = "invalid protocol marker"
	case errors.As(err, &tooLarge):
		f.Offset = tooLarge.Offset
		f.RuleID = RuleStreamTooLarge
		f.Rationale = "stream exceeds the configured byte cap"
	case errors.As(err, &underflow):
		f.Offset = underflow.Offset
		f.RuleID = RuleStackUnderflow
		f.Rationale = "stream violates stack discipline; partial results were still classified"
	case errors.As(err, &corrupt):
		f.RuleID = RuleContainerCorrupt
		f.Rationale = "archive framing could not be parsed"
	case errors.As(err, &noStream):
		f.RuleID = RuleNoPickleStream
		f.Severity = rules.Info
		f.Rationale = "container holds no object-reconstruction stream"
	case errors.As(err, &notebook):
		f.RuleID = RuleNotebookCorrupt
		f.Rationale = "notebook cells could not be extracted"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		f.RuleID = RuleScanTimeout
		f.Rationale = "scan aborted before the artifact was fully classified"
	default:
		f.Rationale = "artifact could not be parsed"
	}
	return f
}
