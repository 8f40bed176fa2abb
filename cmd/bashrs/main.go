// Command bashrs is the CLI front end for the parse/purify/lint/emit/
// inspect pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/bashrs-dev/bashrs/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "bashrs:", err)
		os.Exit(1)
	}
}
