// Command metisctl is a thin demonstration front end over Metis's service
// API (spec.md §6.2): argument parsing only, no TUI/rich UX, per spec.md
// §1 Non-goals. Modeled on the teacher's cmd/tk + internal/cli dispatch
// pattern (internal/cli/run.go, internal/cli/command.go).
package main

import (
	"context"
	"os"

	"github.com/colliery-io/metis-sub002/internal/fsx"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	o := NewIO(stdout, stderr)

	cwd, err := os.Getwd()
	if err != nil {
		o.ErrPrintln("error:", err)
		return 1
	}

	fs := fsx.NewReal()
	commands := allCommands(fs, cwd)

	if len(args) < 2 || args[1] == "-h" || args[1] == "--help" {
		printUsage(o, commands)
		return 0
	}

	name := args[1]

	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd.Run(context.Background(), o, args[2:])
		}
	}

	o.ErrPrintln("error: unknown command:", name)
	printUsage(o, commands)

	return 1
}

func printUsage(o *IO, commands []*Command) {
	o.Println("metisctl — file-native project-management engine (Metis core demo CLI)")
	o.Println()
	o.Println("Usage: metisctl <command> [flags]")
	o.Println()
	o.Println("Commands:")

	for _, cmd := range commands {
		o.Println(cmd.HelpLine())
	}
}
