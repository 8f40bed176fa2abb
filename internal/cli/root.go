package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/bashrs-dev/bashrs/internal/config"
	"github.com/bashrs-dev/bashrs/internal/runlog"
)

var (
	configPath string
	runLogPath string
)

// NewRootCommand builds the bashrs command tree: parse, purify, lint,
// emit, and inspect, each a thin front end over the matching internal
// package.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "bashrs",
		Short: "Purify bash scripts into deterministic, idempotent POSIX sh",
	}
	root.PersistentFlags().StringVar(&configPath, "config", ".bashrs.yaml", "path to config file")
	root.PersistentFlags().StringVar(&runLogPath, "run-log", "", "append a newline-delimited JSON audit trail to this file")

	root.AddCommand(
		newParseCommand(),
		newPurifyCommand(),
		newLintCommand(),
		newEmitCommand(),
		newInspectCommand(),
	)
	return root
}

// openRunLog opens the audit log configured by --run-log, or returns a nil
// *runlog.Logger (every method on a nil *Logger would panic, so callers
// must check) when the flag was left empty.
func openRunLog() (*runlog.Logger, error) {
	if runLogPath == "" {
		return nil, nil
	}
	return runlog.Open(runLogPath)
}

func loadConfig() config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bashrs: config:", err)
		os.Exit(1)
	}
	return cfg
}

func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(args[0])
}
