// Package runconfig defines the resolved, already-parsed configuration
// values the scheduler consumes: per-test settings, retry policy,
// concurrency groups, and the fail-fast policy. Parsing these values out
// of a profile/config file is a collaborator's job (see spec.md §6.1);
// this package only defines the shapes the core reads.
package runconfig

import (
	"time"

	"github.com/paddock-dev/paddock/internal/catalog"
)

// TestGroup names a concurrency class. Tests in the same custom group
// share a max-threads limit independent of the global cap.
type TestGroup struct {
	// Name is empty for the implicit Global group.
	Name string
}

// Global is the implicit group every test belongs to in addition to any
// custom group named by its profile settings.
var Global = TestGroup{}

// IsGlobal reports whether g is the implicit Global group.
func (g TestGroup) IsGlobal() bool { return g.Name == "" }

// GroupLimit is the concurrency cap configured for a custom group.
type GroupLimit struct {
	// MaxThreads is the maximum number of concurrently-running tests in
	// this group. A value of 0 is treated as Infinite (no cap).
	MaxThreads int
	// Infinite, when true, overrides MaxThreads: the group has no cap.
	Infinite bool
}

// BackoffKind selects the retry delay strategy.
type BackoffKind int

const (
	// BackoffFixed waits the same delay before every retry.
	BackoffFixed BackoffKind = iota
	// BackoffExponential doubles the delay each retry, capped at Max,
	// optionally jittered.
	BackoffExponential
)

// Backoff configures the delay between a failed attempt and its retry.
type Backoff struct {
	Kind   BackoffKind
	Delay  time.Duration
	Max    time.Duration // only meaningful for BackoffExponential
	Jitter bool          // only meaningful for BackoffExponential
}

// DelayFor returns the backoff delay before retry attempt index a (0-based:
// a is the index of the attempt that just failed).
func (b Backoff) DelayFor(a int) time.Duration {
	if b.Kind == BackoffFixed {
		return b.Delay
	}
	d := b.Delay
	for i := 0; i < a; i++ {
		d *= 2
		if b.Max > 0 && d > b.Max {
			d = b.Max
			break
		}
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter {
		// Deterministic half-jitter based on the attempt index so retry
		// timing stays reproducible in tests: even attempt indexes wait
		// 3/4 of d, odd ones 5/4 of d. No random jitter source is used.
		d = d - d/4 + (d/2)*time.Duration(a%2)
	}
	return d
}

// RetryPolicy configures how many times a failed test is retried and how
// long to wait between attempts.
type RetryPolicy struct {
	Count   int
	Backoff Backoff
	// RetryExecFail, when false (the default per spec §9's open
	// question), means an ExecFail result consumes no retry budget.
	RetryExecFail bool
}

// TerminateMode controls what happens to already-running units once
// MaxFail's threshold is crossed.
type TerminateMode int

const (
	// Wait lets already-running units finish naturally.
	Wait TerminateMode = iota
	// Immediate broadcasts OtherCancel to running units.
	Immediate
)

// MaxFail is either "run to completion" or "stop admitting after N
// failures", optionally also cancelling in-flight units.
type MaxFail struct {
	// All, when true, disables the fail-fast check entirely.
	All bool
	N   int
	Terminate TerminateMode
}

// OutputDisplay controls when a reporter is shown a unit's captured
// output.
type OutputDisplay int

const (
	DisplayNever OutputDisplay = iota
	DisplayImmediate
	DisplayImmediateFinal
	DisplayFinal
)

// PerTestSettings is the frozen, pre-resolved configuration the
// scheduler applies to one TestInstance. It is produced by a profile
// resolver collaborator via SettingsFor; the core never parses a config
// file to build one.
type PerTestSettings struct {
	Retries            RetryPolicy
	SlowAfter          time.Duration
	TerminateAfterSlow int // 0 means unset (no timeout escalation)
	GracePeriod        time.Duration
	Group              TestGroup
	SuccessOutput      OutputDisplay
	FailureOutput      OutputDisplay
	CaptureJUnit       bool
}

// SetupScript describes a script that must run, in declaration order,
// before any test in its scope starts.
type SetupScript struct {
	Name     string
	Program  string
	Args     []string
	FailFast bool
	// Matches reports whether this script's scope covers a given
	// TestInstance. The scheduler does not consult it: every setup
	// script passed to Scheduler.Run is run, and the environment
	// published by each script that passes is merged into the
	// environment of every test in the run.
	Matches func(catalog.TestInstance) bool
}

// Resolver is the external collaborator the scheduler consumes to learn
// per-test settings and the ordered list of setup scripts. Composition
// from profile overrides happens entirely on the resolver's side.
type Resolver interface {
	SettingsFor(inst catalog.TestInstance) PerTestSettings
	SetupScripts() []SetupScript
}
