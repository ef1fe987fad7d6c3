// Command paddock is the CLI entry point wiring the runner core's
// collaborator-facing packages (listbuild, filterpartition, scheduler,
// dispatch) into a process: it parses already-resolved configuration
// off the command line, drives one run, and maps the outcome to an
// exit code per the dispatcher's status.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/paddock-dev/paddock/internal/inputsrc"
	"github.com/paddock-dev/paddock/internal/logging"
)

// lg is the process-wide logger, installed once in doMain before any
// subcommand runs. Mirrors the teacher's package-level lg variable.
var lg logging.Logger

func doMain() int {
	defer func() {
		if r := recover(); r != nil {
			inputsrc.RestoreAllForPanic()
			panic(r)
		}
	}()

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(newListCmd(), "")
	subcommands.Register(newRunCmd(), "")

	verbose := flag.Bool("verbose", false, "log debug-level messages")
	flag.Parse()

	level := logging.LevelInfo
	if *verbose {
		level = logging.LevelDebug
	}
	lg = logging.NewSinkLogger(level, true, logging.NewFuncSink(func(msg string) {
		fmt.Fprintln(os.Stderr, msg)
	}))

	ctx := logging.AttachLogger(context.Background(), lg)
	return int(subcommands.Execute(ctx))
}

func main() { os.Exit(doMain()) }
