package main

import (
	"errors"
	"fmt"
	"os"

	"timecapsule/internal/cli"
)

func main() {
	root := cli.NewRootCommand(cli.DefaultOpener)
	if err := root.Execute(); err != nil {
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			// cobra argument and flag errors
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(cli.ExitCommandError)
		}
		os.Exit(exitErr.Code)
	}
}
