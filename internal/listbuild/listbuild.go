// Package listbuild drives the test-listing protocol against every
// discovered binary and assembles the resulting catalog.
package listbuild

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/paddock-dev/paddock/internal/catalog"
	"github.com/paddock-dev/paddock/internal/paddockerrors"
)

// BinarySpec is one test binary to list, as discovered by the caller's
// build-catalog collaborator.
type BinarySpec struct {
	ID            catalog.BinaryId
	Path          string
	PackageID     string
	TargetName    string
	BuildPlatform catalog.BuildPlatform
}

// RunPlatform is the platform this invocation is exercising; binaries
// whose BuildPlatform differs are skipped without being invoked.
type RunPlatform = catalog.BuildPlatform

// Concurrency bounds how many binaries are listed at once; a value <= 0
// means unbounded.
type Options struct {
	Concurrency int
	Platform    RunPlatform
	Ignored     bool
}

// Build invokes the listing protocol against every spec concurrently,
// bounded by opts.Concurrency, and assembles a Catalog. It returns the
// first listing error encountered (argv, exit code, and captured
// stdout/stderr are part of the error chain); the first error cancels
// the listings still in flight, and Build waits for them to return.
// Two specs with the same BinaryId are a configuration error.
func Build(ctx context.Context, specs []BinarySpec, opts Options) (*catalog.Catalog, error) {
	limit := opts.Concurrency
	if limit <= 0 {
		limit = len(specs)
	}
	if limit <= 0 {
		limit = 1
	}

	results := make([]*catalog.TestSuite, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			suite, err := listOne(gctx, spec, opts)
			if err != nil {
				return paddockerrors.Wrapf(err, "listing %s", spec.ID)
			}
			results[i] = suite
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[catalog.BinaryId]bool, len(results))
	for _, s := range results {
		if seen[s.Binary.ID] {
			return nil, paddockerrors.Errorf("duplicate binary ID %s", s.Binary.ID)
		}
		seen[s.Binary.ID] = true
	}

	cat := &catalog.Catalog{Suites: results}
	sort.Slice(cat.Suites, func(i, j int) bool { return cat.Suites[i].Binary.ID < cat.Suites[j].Binary.ID })
	return cat, nil
}

func listOne(ctx context.Context, spec BinarySpec, opts Options) (*catalog.TestSuite, error) {
	bin := &catalog.TestBinary{
		ID:            spec.ID,
		Path:          spec.Path,
		PackageID:     spec.PackageID,
		TargetName:    spec.TargetName,
		BuildPlatform: spec.BuildPlatform,
	}

	if spec.BuildPlatform != opts.Platform {
		return &catalog.TestSuite{
			Binary:     bin,
			Status:     catalog.StatusSkipped,
			SkipReason: catalog.SkipReasonPlatformMismatch,
		}, nil
	}

	cases, err := invokeList(ctx, spec, false)
	if err != nil {
		return nil, err
	}
	if opts.Ignored {
		ignoredCases, err := invokeList(ctx, spec, true)
		if err != nil {
			return nil, err
		}
		cases = append(cases, ignoredCases...)
	}

	suite := &catalog.TestSuite{Binary: bin, Status: catalog.StatusListed, Cases: cases}
	suite.SortCases()
	return suite, nil
}

// invokeList runs `BINARY --list --format terse [--ignored]` and parses
// "<test-name>: test" lines into cases.
func invokeList(ctx context.Context, spec BinarySpec, ignored bool) ([]catalog.TestCase, error) {
	args := []string{"--list", "--format", "terse"}
	if ignored {
		args = append(args, "--ignored")
	}

	cmd := exec.CommandContext(ctx, spec.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		return nil, paddockerrors.Errorf(
			"listing failed: argv=%v exit=%v stdout=%q stderr=%q",
			cmd.Args, exitCodeOf(runErr), stdout.String(), stderr.String())
	}

	cases, err := parseTerse(stdout.String(), ignored)
	if err != nil {
		return nil, paddockerrors.Wrapf(err, "argv=%v stdout=%q", cmd.Args, stdout.String())
	}
	return cases, nil
}

func exitCodeOf(err error) int {
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}

// parseTerse parses the line format `"<test-name>: test"`. Lines that
// don't match this shape fail the whole listing, carrying the offending
// line.
func parseTerse(output string, ignored bool) ([]catalog.TestCase, error) {
	var cases []catalog.TestCase
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		name, ok := strings.CutSuffix(line, ": test")
		if !ok {
			return nil, fmt.Errorf("unparseable listing line: %q", line)
		}
		cases = append(cases, catalog.TestCase{Name: name, Ignored: ignored})
	}
	if err := sc.Err(); err != nil {
		return nil, paddockerrors.Wrapf(err, "reading listing output")
	}
	return cases, nil
}
