// Command loopline compiles kernel descriptions and searches for valid
// schedules.
package main

import (
	"fmt"
	"os"

	"github.com/cfelder/loopline/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
