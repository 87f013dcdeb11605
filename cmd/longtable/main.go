// Command longtable is the operator CLI for running and inspecting a
// Longtable world store.
package main

import (
	"fmt"
	"os"

	"github.com/longtable/longtable/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "longtable:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
