// Package catalog defines the data model for discovered test binaries
// and their test cases: the immutable catalog produced once by the list
// builder and read by every downstream component for the life of a run.
package catalog

import (
	"fmt"
	"sort"
)

// BuildPlatform distinguishes binaries that run on the build host (e.g.
// proc-macro-like helpers) from those that run on the target platform a
// run is actually exercising.
type BuildPlatform int

const (
	// Target is the platform under test; the overwhelming majority of
	// binaries are built for it.
	Target BuildPlatform = iota
	// Host is the platform the build itself runs on.
	Host
)

func (p BuildPlatform) String() string {
	if p == Host {
		return "host"
	}
	return "target"
}

// BinaryId is a stable textual identifier for a test binary, derived from
// its package name and target kind. It must be unique across the whole
// workspace; a collision is a configuration error caught at catalog
// construction time.
type BinaryId string

// TestBinary is one compiled test binary discovered by the build system,
// owned by the catalog for the entire run.
type TestBinary struct {
	ID            BinaryId
	Path          string
	PackageID     string
	TargetName    string
	BuildPlatform BuildPlatform
}

// TestCase is one test entry point inside a TestBinary's suite.
type TestCase struct {
	Name    string
	Ignored bool
}

// TestSuiteStatus describes whether a binary's suite was enumerated.
type TestSuiteStatus int

const (
	// StatusListed means the binary was invoked and its cases enumerated.
	StatusListed TestSuiteStatus = iota
	// StatusSkipped means the binary was never invoked (e.g. a
	// host/target platform mismatch).
	StatusSkipped
)

// SkipReason explains why a suite was not listed.
type SkipReason int

const (
	// SkipReasonNone is the zero value, used when the suite was listed.
	SkipReasonNone SkipReason = iota
	// SkipReasonPlatformMismatch means the binary's build platform does
	// not match the platform this run is exercising.
	SkipReasonPlatformMismatch
)

// MismatchReason explains why a FilterMatch failed, used for diagnostics
// and for the testable coverage/partition invariants in the spec.
type MismatchReason int

const (
	// MismatchNone is the zero value; never set on an actual mismatch.
	MismatchNone MismatchReason = iota
	// MismatchString means a name pattern excluded the case.
	MismatchString
	// MismatchExpression means a compiled filter expression excluded it.
	MismatchExpression
	// MismatchPartition means a partitioner excluded it.
	MismatchPartition
	// MismatchIgnored means the run-ignored mode excluded it.
	MismatchIgnored
	// MismatchRerunAlreadyPassed means rerun info marked it as already
	// passing.
	MismatchRerunAlreadyPassed
	// MismatchBinaryPlatform means the case's binary is incompatible
	// with the platform this run is exercising.
	MismatchBinaryPlatform
)

func (r MismatchReason) String() string {
	switch r {
	case MismatchString:
		return "string"
	case MismatchExpression:
		return "expression"
	case MismatchPartition:
		return "partition"
	case MismatchIgnored:
		return "ignored"
	case MismatchRerunAlreadyPassed:
		return "rerun-already-passed"
	case MismatchBinaryPlatform:
		return "binary-platform"
	default:
		return "none"
	}
}

// FilterMatch is the outcome of evaluating the filter/partition pipeline
// for one test case.
type FilterMatch struct {
	// Matches is true iff the case should run.
	Matches bool
	// Reason is meaningful only when Matches is false.
	Reason MismatchReason
}

// Matched is the shared "this case runs" result.
var Matched = FilterMatch{Matches: true}

// Mismatch constructs a FilterMatch carrying a mismatch reason.
func Mismatch(reason MismatchReason) FilterMatch {
	return FilterMatch{Matches: false, Reason: reason}
}

// TestSuite is one binary's listing outcome. FilterMatches is not filled
// in by filterpartition.Apply, which reports the per-case FilterMatch in
// its TestList.Matches instead.
type TestSuite struct {
	Binary       *TestBinary
	Status       TestSuiteStatus
	SkipReason   SkipReason
	Cases        []TestCase // ordered lexicographically by Name; empty if Skipped
	FilterMatches map[string]FilterMatch
}

// SortCases sorts Cases lexicographically by name, establishing the total
// order the spec requires within a binary.
func (s *TestSuite) SortCases() {
	sort.Slice(s.Cases, func(i, j int) bool { return s.Cases[i].Name < s.Cases[j].Name })
}

// TestInstance is a borrowed view over one (binary, case) pair: the unit
// of scheduling. It never outlives the Catalog that owns Binary and Case.
type TestInstance struct {
	Binary *TestBinary
	Case   *TestCase
}

// Key returns the (BinaryId, name) pair identifying this instance,
// unique within a Catalog.
func (t TestInstance) Key() string {
	return fmt.Sprintf("%s::%s", t.Binary.ID, t.Case.Name)
}

// Catalog is the immutable set of discovered binaries and their listed
// suites, shared by reference for the life of a run. Construct it once
// via the listbuild package; never mutate it after construction.
type Catalog struct {
	Suites []*TestSuite
}

// ByID returns the suite for a binary ID, or nil if none exists.
func (c *Catalog) ByID(id BinaryId) *TestSuite {
	for _, s := range c.Suites {
		if s.Binary.ID == id {
			return s
		}
	}
	return nil
}

// Instances returns every TestInstance across every listed suite, in
// binary-then-case order (the order required by the Slice partitioner).
func (c *Catalog) Instances() []TestInstance {
	var out []TestInstance
	for _, s := range c.Suites {
		if s.Status != StatusListed {
			continue
		}
		for i := range s.Cases {
			out = append(out, TestInstance{Binary: s.Binary, Case: &s.Cases[i]})
		}
	}
	return out
}

// DeriveBinaryID computes the BinaryId for a target per the rules in the
// spec: a library target is identified by its package name alone; an
// integration test target is "package::test_name"; any other target is
// "package::kind/name".
func DeriveBinaryID(packageName, kind, targetName string) BinaryId {
	switch kind {
	case "lib":
		return BinaryId(packageName)
	case "test":
		return BinaryId(fmt.Sprintf("%s::%s", packageName, targetName))
	default:
		return BinaryId(fmt.Sprintf("%s::%s/%s", packageName, kind, targetName))
	}
}
