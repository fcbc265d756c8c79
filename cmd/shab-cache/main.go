// Command shab-cache maintains and serves a local cache of SHAB commercial
// register publications.
package main

import (
	"fmt"
	"os"

	"github.com/eunmann/shab-cache/internal/cli"
)

func main() {
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(cli.ExitCode(err))
	}
}
