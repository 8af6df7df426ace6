package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sanityml/sanityml"
	"github.com/sanityml/sanityml/advisory"
	"github.com/sanityml/sanityml/rules"
	"github.com/sanityml/sanityml/util"
)

// errFindings signals a clean run that surfaced findings at warn or above. It
// is never printed; main translates it to the exit status.
var errFindings = errors.New("findings at warn severity or above")

var (
	version   = "development"
	termWidth int
)

var opts = struct {
	jobs       int
	rulesPath  string
	maxStream  string
	timeout    time.Duration
	jsonOut    bool
	verbose    bool
	ignore     []string
	osvURL     string
	noModels   bool
	noSource   bool
	noNotebook bool
	noDeps     bool
}{}

var rootCmd = &cobra.Command{
	Version:       version,
	Use:           "sanityml [path]",
	Short:         "sanityml scans ML projects for code-execution risk without running anything.",
	Long: `Scans an ML project tree for latent code-execution risk: serialized models
are disassembled and classified instruction by instruction, Python sources and
notebooks are pattern-matched, and pinned dependencies are checked against the
OSV database. No artifact is ever executed, imported, or deserialized.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		termWidth, _, _ = term.GetSize(int(os.Stdout.Fd()))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) == 1 {
			root = args[0]
		}
		return scan(cmd.Context(), root)
	},
}

func init() {
	rootCmd.Flags().IntVarP(&opts.jobs, "jobs", "j", 0, "number of artifacts scanned concurrently (default NumCPU)")
	rootCmd.Flags().StringVar(&opts.rulesPath, "rules", "", "load the rule table from the given TOML file")
	rootCmd.Flags().StringVar(&opts.maxStream, "max-stream-bytes", "1GB", "per-stream byte cap")
	rootCmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "wall-clock bound per artifact")
	rootCmd.Flags().BoolVar(&opts.jsonOut, "json", false, "write the report as JSON")
	rootCmd.Flags().BoolVarP(&opts.verbose, "verbose", "V", false, "print per-artifact progress")
	rootCmd.Flags().StringArrayVar(&opts.ignore, "ignore", nil, "glob of paths to skip (repeatable)")
	rootCmd.Flags().StringVar(&opts.osvURL, "osv-url", "", "override the advisory service endpoint")
	rootCmd.Flags().BoolVar(&opts.noModels, "no-models", false, "skip serialized model files")
	rootCmd.Flags().BoolVar(&opts.noSource, "no-python", false, "skip Python source files")
	rootCmd.Flags().BoolVar(&opts.noNotebook, "no-notebooks", false, "skip notebooks")
	rootCmd.Flags().BoolVar(&opts.noDeps, "no-deps", false, "skip the dependency audit")

	util.Must(rootCmd.Flags().MarkHidden("osv-url"))
}

func scan(ctx context.Context, root string) error {
	table := rules.Default()
	if opts.rulesPath != "" {
		var err error
		if table, err = rules.LoadFile(opts.rulesPath); err != nil {
			return err
		}
	}

	maxBytes, err := humanize.ParseBytes(opts.maxStream)
	if err != nil {
		return fmt.Errorf("invalid --max-stream-bytes: %w", err)
	}

	start := time.Now()

	artifacts, requirements, err := collect(root)
	if err != nil {
		return err
	}

	var events sanityml.Events = sanityml.DiscardEvents
	if opts.verbose && !opts.jsonOut {
		events = newRenderer(os.Stderr)
	}

	scanner := sanityml.New(table, sanityml.Options{
		Jobs:           opts.jobs,
		MaxStreamBytes: int64(maxBytes),
		Timeout:        opts.timeout,
		Events:         events,
	})
	findings := scanner.Scan(ctx, artifacts)

	if !opts.noDeps && len(requirements) != 0 {
		client := advisory.NewClient(opts.osvURL)
		for _, req := range requirements {
			findings = append(findings, sanityml.AuditRequirements(ctx, client, req.path, req.data)...)
		}
		findings = sanityml.SortReport(findings)
	}

	elapsed := time.Since(start)
	if opts.jsonOut {
		err = writeJSON(os.Stdout, root, artifacts, findings, elapsed)
	} else {
		err = writeReport(os.Stdout, artifacts, findings, elapsed)
	}
	if err != nil {
		return err
	}

	for _, f := range findings {
		if f.Severity >= rules.Warn {
			return errFindings
		}
	}
	return nil
}
