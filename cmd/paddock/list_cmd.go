package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/paddock-dev/paddock/internal/filterpartition"
	"github.com/paddock-dev/paddock/internal/listbuild"
	"github.com/paddock-dev/paddock/internal/logging"
)

// listCmd implements subcommands.Command to enumerate matching test
// cases without running them.
type listCmd struct {
	binaryFlags
	filterFlags
	concurrency int
}

func newListCmd() *listCmd { return &listCmd{} }

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list discovered test cases" }
func (*listCmd) Usage() string {
	return `list <flags> [pattern] ...:
	Lists the test cases matched by zero or more name patterns.
`
}

func (c *listCmd) SetFlags(f *flag.FlagSet) {
	c.binaryFlags.register(f)
	c.filterFlags.register(f)
	f.IntVar(&c.concurrency, "j", 0, "max concurrent listing invocations (0 = unbounded)")
}

func (c *listCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	specs := c.binaryFlags.specs()
	if len(specs) == 0 {
		logging.Warnf(ctx, "missing -binary (or -host-binary); nothing to list")
		return subcommands.ExitUsageError
	}

	cat, err := listbuild.Build(ctx, specs, listbuild.Options{Concurrency: c.concurrency, Ignored: c.binaryFlags.ignored})
	if err != nil {
		logging.Warnf(ctx, "failed to list tests: %v", err)
		return subcommands.ExitFailure
	}

	opts, err := c.filterFlags.options(f.Args(), c.binaryFlags.ignored)
	if err != nil {
		logging.Warnf(ctx, "%v", err)
		return subcommands.ExitUsageError
	}
	plan := filterpartition.Apply(cat, opts)

	for _, suite := range plan.Catalog.Suites {
		matches := plan.Matches[suite.Binary.ID]
		for _, tc := range suite.Cases {
			if matches[tc.Name].Matches {
				fmt.Fprintf(os.Stdout, "%s::%s: test\n", suite.Binary.ID, tc.Name)
			}
		}
	}
	return subcommands.ExitSuccess
}
