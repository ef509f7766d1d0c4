// Command eventq applies entity event feeds through the merging queue.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/eventq/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
