// Command stockscan runs the barcode inventory station.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/stockscan/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
