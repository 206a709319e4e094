// Package main provides the flowmedic command line.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	err := newCommand().Run(context.Background(), os.Args)
	if err != nil {
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:                  "flowmedic",
		Usage:                 "Orchestrate workflow executions and heal failing workflows",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			runCommand(),
			classifyCommand(),
			catalogCommand(),
		},
	}
}
