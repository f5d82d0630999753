// Command tapevault is the tape tool: a content-addressed chunk store and
// tape pool writer, exposed as a single CLI mirroring the subcommand
// surface of pmt(1) (spec.md §6) plus a drive daemon mode.
package main

import (
	"fmt"
	"os"

	"tapevault/cmd/tapevault/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
