// Package main is the entry point for the chatsync CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/poloBBQ/chatsync/internal/cli"
)

// Version information (set by goreleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	run := cli.Execute
	// Default entrypoint: launch the TUI when invoked with no args.
	if len(os.Args) == 1 {
		run = cli.ExecuteTUI
	}

	if err := run(fmt.Sprintf("%s (%s, %s)", version, commit, date)); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			if !exitErr.Printed {
				fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.Err)
			}
			os.Exit(exitErr.Code)
		}

		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.ExitCodeFailure)
	}
}
