package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bashrs-dev/bashrs/internal/config"
	"github.com/bashrs-dev/bashrs/internal/diagnostic"
	"github.com/bashrs-dev/bashrs/internal/emitter"
	"github.com/bashrs-dev/bashrs/internal/inspector"
	"github.com/bashrs-dev/bashrs/internal/linter"
	"github.com/bashrs-dev/bashrs/internal/machine"
	"github.com/bashrs-dev/bashrs/internal/parser"
	"github.com/bashrs-dev/bashrs/internal/purifier"
)

// logStage opens the --run-log file (if configured), records one Entry for
// stage via run, and closes the file again. run's error, if any, is what
// logStage itself returns, so a caller can just `return logStage(...)`.
func logStage(stage string, run func() (rewrites int, diags []diagnostic.Diagnostic, err error)) error {
	rewrites, diags, runErr := run()
	logger, openErr := openRunLog()
	if openErr != nil {
		return openErr
	}
	if logger != nil {
		defer logger.Close()
		if runErr != nil {
			_ = logger.StageFailed(stage, runErr)
		} else {
			_ = logger.StageOK(stage, rewrites, diags)
		}
	}
	return runErr
}

func newParseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "parse [file]",
		Short: "Parse a script and report syntax errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return logStage("parse", func() (int, []diagnostic.Diagnostic, error) {
				src, err := readInput(args)
				if err != nil {
					return 0, nil, err
				}
				file, err := parser.Parse(src)
				if err != nil {
					return 0, nil, err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "parsed %d top-level statements\n", len(file.Stmts))
				return 0, nil, nil
			})
		},
	}
}

func newPurifyCommand() *cobra.Command {
	var write string
	cmd := &cobra.Command{
		Use:   "purify [file]",
		Short: "Rewrite a script to remove nondeterminism and non-idempotent mutation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return logStage("purify", func() (int, []diagnostic.Diagnostic, error) {
				cfg := loadConfig()
				src, err := readInput(args)
				if err != nil {
					return 0, nil, err
				}
				file, report, err := purifier.Purify(src, purifierOptions(cfg))
				if err != nil {
					return 0, nil, err
				}
				out, err := emitter.Emit(file, emitter.Options{})
				if err != nil {
					return len(report.RewritesApplied), report.Diagnostics, err
				}
				if write != "" {
					if err := os.WriteFile(write, []byte(out), 0o644); err != nil {
						return len(report.RewritesApplied), report.Diagnostics, err
					}
				} else {
					fmt.Fprint(cmd.OutOrStdout(), out)
				}
				for _, r := range report.RewritesApplied {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s (%s)\n", r.Code, r.Description, r.Safety)
				}
				PrintDiagnostics(cmd.ErrOrStderr(), report.Diagnostics)
				return len(report.RewritesApplied), report.Diagnostics, nil
			})
		},
	}
	cmd.Flags().StringVarP(&write, "output", "o", "", "write purified script to this path instead of stdout")
	return cmd
}

func newLintCommand() *cobra.Command {
	var (
		applyFixes      bool
		withAssumptions bool
		explain         bool
	)
	cmd := &cobra.Command{
		Use:   "lint [file]",
		Short: "Report diagnostics, optionally applying the safe fixes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return logStage("lint", func() (int, []diagnostic.Diagnostic, error) {
				cfg := loadConfig()
				src, err := readInput(args)
				if err != nil {
					return 0, nil, err
				}
				file, err := parser.Parse(src)
				if err != nil {
					return 0, nil, err
				}
				reg := linter.NewRegistry()
				diags := reg.Lint(linter.Input{File: file, Source: src}, linter.Options{
					Include: cfg.Linter.Include,
					Exclude: cfg.Linter.Exclude,
				})
				if applyFixes {
					fixed := linter.ApplyFixes(src, diags, withAssumptions)
					fmt.Fprint(cmd.OutOrStdout(), string(fixed))
					PrintDiagnostics(cmd.ErrOrStderr(), diags)
					return 0, diags, nil
				}
				name := "<stdin>"
				if len(args) > 0 && args[0] != "-" {
					name = args[0]
				}
				if explain {
					PrintDetailed(cmd.OutOrStdout(), name, src, diags)
				} else {
					PrintDiagnostics(cmd.OutOrStdout(), diags)
				}
				if len(diags) > 0 {
					cmd.SilenceUsage = true
				}
				return 0, diags, nil
			})
		},
	}
	cmd.Flags().BoolVar(&applyFixes, "fix", false, "print the script with Safe fixes applied")
	cmd.Flags().BoolVar(&withAssumptions, "with-assumptions", false, "also apply SafeWithAssumptions fixes (their assumptions are printed to stderr)")
	cmd.Flags().BoolVar(&explain, "explain", false, "print long-form diagnostics with source snippets")
	return cmd
}

func newEmitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "emit [file]",
		Short: "Parse a script and print its canonical POSIX sh rendering",
		RunE: func(cmd *cobra.Command, args []string) error {
			return logStage("emit", func() (int, []diagnostic.Diagnostic, error) {
				src, err := readInput(args)
				if err != nil {
					return 0, nil, err
				}
				file, err := parser.Parse(src)
				if err != nil {
					return 0, nil, err
				}
				out, err := emitter.Emit(file, emitter.Options{})
				if err != nil {
					return 0, nil, err
				}
				fmt.Fprint(cmd.OutOrStdout(), out)
				return 0, nil, nil
			})
		},
	}
}

func newInspectCommand() *cobra.Command {
	var showTrace bool
	cmd := &cobra.Command{
		Use:   "inspect [source] [purified]",
		Short: "Verify a script against its purified form in the abstract machine",
		Long: "With one argument, purifies the script in-process, runs both the original\n" +
			"and the emitted POSIX rendering through the abstract machine, and compares\n" +
			"their final states. With two arguments, runs the two given scripts instead.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return logStage("inspect", func() (int, []diagnostic.Diagnostic, error) {
				var (
					report  inspector.EquivalenceReport
					verdict inspector.VerificationResult
				)
				if len(args) == 1 {
					src, err := os.ReadFile(args[0])
					if err != nil {
						return 0, nil, err
					}
					cfg := loadConfig()
					report, verdict, err = inspector.Inspect(src, purifierOptions(cfg))
					if err != nil {
						return 0, nil, err
					}
				} else {
					origSrc, err := os.ReadFile(args[0])
					if err != nil {
						return 0, nil, err
					}
					purifiedSrc, err := os.ReadFile(args[1])
					if err != nil {
						return 0, nil, err
					}
					origFile, err := parser.Parse(origSrc)
					if err != nil {
						return 0, nil, err
					}
					purifiedFile, err := parser.Parse(purifiedSrc)
					if err != nil {
						return 0, nil, err
					}
					origState := machine.NewState()
					purifiedState := machine.NewState()
					origErr, bugErr := inspector.RunForComparison(origState, origFile)
					if bugErr != nil {
						return 0, nil, bugErr
					}
					purifiedErr, bugErr := inspector.RunForComparison(purifiedState, purifiedFile)
					if bugErr != nil {
						return 0, nil, bugErr
					}
					report, verdict = inspector.Compare(origState, origErr, purifiedState, purifiedErr)
					report.OriginalTrace = origState.Trace
					report.PurifiedTrace = purifiedState.Trace
				}
				fmt.Fprintf(cmd.OutOrStdout(), "verdict: %s (confidence %.2f)\n", verdict.Kind, verdict.Confidence)
				for _, r := range verdict.Reasons {
					fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", r)
				}
				for _, d := range report.Diffs {
					fmt.Fprintf(cmd.OutOrStdout(), "--- %s ---\n%s\n", d.Field, d.Diff)
				}
				if showTrace {
					printTrace(cmd.OutOrStdout(), "original", report.OriginalTrace)
					printTrace(cmd.OutOrStdout(), "purified", report.PurifiedTrace)
				}
				return 0, nil, nil
			})
		},
	}
	cmd.Flags().BoolVar(&showTrace, "trace", false, "print the step-by-step execution trace of both runs")
	return cmd
}

func printTrace(w io.Writer, label string, trace []machine.TraceEntry) {
	fmt.Fprintf(w, "--- trace: %s ---\n", label)
	for i, e := range trace {
		fmt.Fprintf(w, "%3d  %s (exit %d)\n", i+1, e.Description, e.ExitCode)
	}
}

func purifierOptions(cfg config.Config) purifier.Options {
	return purifier.Options{
		SkipDet:              cfg.Purifier.SkipDet,
		SkipIdem:             cfg.Purifier.SkipIdem,
		SkipSec:              cfg.Purifier.SkipSec,
		MaxPasses:            cfg.Purifier.MaxPasses,
		SkipPermissionChecks: cfg.Purifier.SkipPermissionChecks,
		SkipTmpRewrite:       cfg.Purifier.SkipTmpRewrite,
		SkipTimestampParam:   cfg.Purifier.SkipTimestampParam,
	}
}
