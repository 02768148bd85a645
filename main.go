package main

import (
	"fmt"
	"os"

	"github.com/MathewTomberlin/SwarmTunnel/cmd"
)

func main() {
	// If no command specified, default to start
	if len(os.Args) == 1 {
		os.Args = []string{os.Args[0], "start"}
	}

	root := cmd.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cmd.ExitCode(err))
	}
}
