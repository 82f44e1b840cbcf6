package main

import (
	"os"

	"github.com/majorcontext/reef/cmd/reef/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
