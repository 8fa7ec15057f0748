// Command subdispatch runs GraphQL subscription scenarios against the
// dispatch engine.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/subdispatch/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
