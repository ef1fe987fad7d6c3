// Package filterpartition turns a catalog plus a filter specification
// into a concrete, stable per-binary run plan: which cases run, which
// are skipped and why, and a deterministic partition when sharding
// across machines.
package filterpartition

import (
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/paddock-dev/paddock/internal/catalog"
)

// PatternMode selects how a NamePattern is matched against a case name.
type PatternMode int

const (
	// Substring matches if the pattern occurs anywhere in the name.
	Substring PatternMode = iota
	// Exact matches only an identical name.
	Exact
)

// NamePattern is one name filter supplied on the command line.
type NamePattern struct {
	Mode PatternMode
	Text string
}

func (p NamePattern) matches(name string) bool {
	switch p.Mode {
	case Exact:
		return name == p.Text
	default:
		return strings.Contains(name, p.Text)
	}
}

// RunIgnoredMode selects which of a case's ignored/non-ignored variants
// are eligible to run.
type RunIgnoredMode int

const (
	// Default runs only non-ignored cases.
	Default RunIgnoredMode = iota
	// IgnoredOnly runs only ignored cases.
	IgnoredOnly
	// All runs both.
	All
)

// CompiledFilter is the opaque predicate produced by the filter-compiler
// collaborator (see spec.md §6.1). The pipeline only ever evaluates it.
type CompiledFilter interface {
	Matches(id catalog.BinaryId, name string, ignored bool, platform catalog.BuildPlatform) bool
}

// CompiledFilterFunc adapts a function to CompiledFilter.
type CompiledFilterFunc func(id catalog.BinaryId, name string, ignored bool, platform catalog.BuildPlatform) bool

// Matches implements CompiledFilter.
func (f CompiledFilterFunc) Matches(id catalog.BinaryId, name string, ignored bool, platform catalog.BuildPlatform) bool {
	return f(id, name, ignored, platform)
}

// RerunInfo supplies, per binary, the set of case names that already
// passed in a prior run so a rerun can shrink its run set while keeping
// shard assignment stable.
type RerunInfo struct {
	Passing map[catalog.BinaryId]map[string]bool
}

// alreadyPassing reports whether name in binary id is marked passing.
func (r *RerunInfo) alreadyPassing(id catalog.BinaryId, name string) bool {
	if r == nil {
		return false
	}
	m, ok := r.Passing[id]
	return ok && m[name]
}

// PartitionKind selects a sharding strategy.
type PartitionKind int

const (
	// NoPartition runs every surviving case.
	NoPartition PartitionKind = iota
	// CountPartition keeps case index i (0-based, per binary) iff
	// i mod Total == Shard-1.
	CountPartition
	// HashPartition keeps a case iff xxh64(name) mod Total == Shard-1,
	// independent of ordering.
	HashPartition
	// SlicePartition applies the Count rule across the flattened,
	// binary-then-case ordered list of every surviving case in the
	// catalog.
	SlicePartition
)

// PartitionSpec configures a 1-based shard out of Total.
type PartitionSpec struct {
	Kind  PartitionKind
	Shard int
	Total int
}

func (p PartitionSpec) selects(index int) bool {
	if p.Total <= 0 {
		return true
	}
	return index%p.Total == p.Shard-1
}

// Options configures one pipeline run.
type Options struct {
	NamePatterns  []NamePattern
	RunIgnored    RunIgnoredMode
	Filter        CompiledFilter // nil means "match everything"
	PlatformOnly  *catalog.BuildPlatform
	Rerun         *RerunInfo
	Partition     *PartitionSpec
}

// SkipCounts tallies how many cases were excluded, broken down by
// MismatchReason, for reporting.
type SkipCounts map[catalog.MismatchReason]int

// TestList is the pipeline's output: a FilterMatch per (binary, case)
// plus aggregate counts. Invariant: RunCount + sum(SkipCounts) ==
// TestCount.
type TestList struct {
	Catalog    *catalog.Catalog
	Matches    map[catalog.BinaryId]map[string]catalog.FilterMatch
	TestCount  int
	RunCount   int
	SkipCounts SkipCounts
}

// Skipped returns the total number of excluded cases.
func (tl *TestList) Skipped() int {
	n := 0
	for _, c := range tl.SkipCounts {
		n += c
	}
	return n
}

type countableCase struct {
	binaryID      catalog.BinaryId
	name          string
	alreadyPassed bool
}

// Apply runs the full filter/partition pipeline over cat and returns
// the resulting TestList.
func Apply(cat *catalog.Catalog, opts Options) *TestList {
	tl := &TestList{
		Catalog:    cat,
		Matches:    make(map[catalog.BinaryId]map[string]catalog.FilterMatch),
		SkipCounts: make(SkipCounts),
	}

	suites := append([]*catalog.TestSuite(nil), cat.Suites...)
	sort.Slice(suites, func(i, j int) bool { return suites[i].Binary.ID < suites[j].Binary.ID })

	// perBinaryCountable holds, per binary, the cases that survived
	// steps 1-4 (pre-partition), in case-name order, ready for
	// Count/Hash/Slice evaluation.
	perBinaryCountable := make(map[catalog.BinaryId][]countableCase)
	var flatCountable []countableCase

	for _, s := range suites {
		if s.Status != catalog.StatusListed {
			continue
		}
		tl.Matches[s.Binary.ID] = make(map[string]catalog.FilterMatch, len(s.Cases))
		tl.TestCount += len(s.Cases)

		for i := range s.Cases {
			c := &s.Cases[i]
			if reason, ok := evalSteps1to4(s.Binary, c, opts); !ok {
				tl.Matches[s.Binary.ID][c.Name] = catalog.Mismatch(reason)
				tl.SkipCounts[reason]++
				continue
			}
			cc := countableCase{
				binaryID:      s.Binary.ID,
				name:          c.Name,
				alreadyPassed: opts.Rerun.alreadyPassing(s.Binary.ID, c.Name),
			}
			perBinaryCountable[s.Binary.ID] = append(perBinaryCountable[s.Binary.ID], cc)
			flatCountable = append(flatCountable, cc)
		}
	}

	switch {
	case opts.Partition == nil || opts.Partition.Kind == NoPartition:
		for _, cases := range perBinaryCountable {
			for _, cc := range cases {
				tl.finalize(cc)
			}
		}
	case opts.Partition.Kind == HashPartition:
		for _, cases := range perBinaryCountable {
			for _, cc := range cases {
				selected := hashSelects(*opts.Partition, cc.name)
				tl.finalizeSelected(cc, selected)
			}
		}
	case opts.Partition.Kind == CountPartition:
		for _, cases := range perBinaryCountable {
			for i, cc := range cases {
				tl.finalizeSelected(cc, opts.Partition.selects(i))
			}
		}
	case opts.Partition.Kind == SlicePartition:
		for i, cc := range flatCountable {
			tl.finalizeSelected(cc, opts.Partition.selects(i))
		}
	}

	tl.RunCount = tl.TestCount - tl.Skipped()
	return tl
}

func (tl *TestList) finalize(cc countableCase) {
	if cc.alreadyPassed {
		tl.Matches[cc.binaryID][cc.name] = catalog.Mismatch(catalog.MismatchRerunAlreadyPassed)
		tl.SkipCounts[catalog.MismatchRerunAlreadyPassed]++
		return
	}
	tl.Matches[cc.binaryID][cc.name] = catalog.Matched
}

func (tl *TestList) finalizeSelected(cc countableCase, selected bool) {
	if cc.alreadyPassed {
		// Shard-stability invariant: a rerun-already-passed case keeps
		// its own status and still occupies an index, but is never
		// itself reported as Partition-excluded.
		tl.Matches[cc.binaryID][cc.name] = catalog.Mismatch(catalog.MismatchRerunAlreadyPassed)
		tl.SkipCounts[catalog.MismatchRerunAlreadyPassed]++
		return
	}
	if selected {
		tl.Matches[cc.binaryID][cc.name] = catalog.Matched
		return
	}
	tl.Matches[cc.binaryID][cc.name] = catalog.Mismatch(catalog.MismatchPartition)
	tl.SkipCounts[catalog.MismatchPartition]++
}

func hashSelects(spec PartitionSpec, name string) bool {
	if spec.Total <= 0 {
		return true
	}
	h := xxhash.Sum64String(name)
	return h%uint64(spec.Total) == uint64(spec.Shard-1)
}

func evalSteps1to4(bin *catalog.TestBinary, c *catalog.TestCase, opts Options) (catalog.MismatchReason, bool) {
	if len(opts.NamePatterns) > 0 {
		matched := false
		for _, p := range opts.NamePatterns {
			if p.matches(c.Name) {
				matched = true
				break
			}
		}
		if !matched {
			return catalog.MismatchString, false
		}
	}

	switch opts.RunIgnored {
	case Default:
		if c.Ignored {
			return catalog.MismatchIgnored, false
		}
	case IgnoredOnly:
		if !c.Ignored {
			return catalog.MismatchIgnored, false
		}
	}

	if opts.Filter != nil && !opts.Filter.Matches(bin.ID, c.Name, c.Ignored, bin.BuildPlatform) {
		return catalog.MismatchExpression, false
	}

	if opts.PlatformOnly != nil && bin.BuildPlatform != *opts.PlatformOnly {
		return catalog.MismatchBinaryPlatform, false
	}

	return catalog.MismatchNone, true
}
