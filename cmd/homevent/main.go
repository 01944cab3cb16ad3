// Command homevent runs control scripts against the event engine.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/homevent/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
