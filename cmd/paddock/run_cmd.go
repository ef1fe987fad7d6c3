package main

import (
	"context"
	"flag"
	"os"
	"sync"
	"time"

	"github.com/google/subcommands"

	"github.com/paddock-dev/paddock/internal/catalog"
	"github.com/paddock-dev/paddock/internal/dispatch"
	"github.com/paddock-dev/paddock/internal/filterpartition"
	"github.com/paddock-dev/paddock/internal/inputsrc"
	"github.com/paddock-dev/paddock/internal/listbuild"
	"github.com/paddock-dev/paddock/internal/logging"
	"github.com/paddock-dev/paddock/internal/runconfig"
	"github.com/paddock-dev/paddock/internal/runevent"
	"github.com/paddock-dev/paddock/internal/scheduler"
	"github.com/paddock-dev/paddock/internal/signalsrc"
)

// Exit codes per the dispatcher's status, forwarded by the runner
// shell (this command) once a run has settled.
const (
	exitSuccess        = 0
	exitTestFailure    = 100
	exitInternalError  = 101
	exitSetupScriptFail = 102
	exitInterrupted    = 130
)

// runCmd implements subcommands.Command to support running tests.
type runCmd struct {
	binaryFlags
	filterFlags

	testThreads   int
	retries       int
	retryExecFail bool
	backoffMs     int64
	slowAfter     time.Duration
	gracePeriod   time.Duration
	maxFail       int
	failFastKill  bool
	setupScript   stringsFlag
}

func newRunCmd() *runCmd { return &runCmd{} }

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run tests" }
func (*runCmd) Usage() string {
	return `run <flags> [pattern] ...:
	Runs the test cases matched by zero or more name patterns.
`
}

func (r *runCmd) SetFlags(f *flag.FlagSet) {
	r.binaryFlags.register(f)
	r.filterFlags.register(f)
	f.IntVar(&r.testThreads, "j", 0, "max concurrently-running tests (0 = unbounded)")
	f.IntVar(&r.retries, "retries", 0, "retry attempts per failing test")
	f.BoolVar(&r.retryExecFail, "retry-exec-fail", false, "count ExecFail results against the retry budget")
	f.Int64Var(&r.backoffMs, "retry-backoff-ms", 0, "fixed delay between retry attempts, in milliseconds")
	f.DurationVar(&r.slowAfter, "slow-after", 0, "mark a test slow after this long (0 disables)")
	f.DurationVar(&r.gracePeriod, "grace-period", 10*time.Second, "grace period before SIGKILL on termination")
	f.IntVar(&r.maxFail, "max-fail", 0, "stop admitting new tests after this many failures (0 = run to completion)")
	f.BoolVar(&r.failFastKill, "max-fail-immediate", false, "cancel already-running tests once -max-fail trips")
	f.Var(&r.setupScript, "setup-script", "path to a setup script run before any test (repeatable, in order)")
}

// defaultResolver applies one uniform PerTestSettings to every test
// instance; a real profile-override resolver is the out-of-scope
// ProfileResolver collaborator from spec.md §6.1.
type defaultResolver struct {
	settings runconfig.PerTestSettings
	scripts  []runconfig.SetupScript
}

func (d defaultResolver) SettingsFor(catalog.TestInstance) runconfig.PerTestSettings { return d.settings }
func (d defaultResolver) SetupScripts() []runconfig.SetupScript                      { return d.scripts }

// shutdownTracker wraps a Scheduler so the CLI can tell, after the run
// has settled, whether it ended because a shutdown-class signal arrived
// (exit 130) rather than ordinary completion.
type shutdownTracker struct {
	*scheduler.Scheduler
	mu   sync.Mutex
	hit  bool
}

func (t *shutdownTracker) Shutdown(evt signalsrc.Event, reason string) {
	t.mu.Lock()
	t.hit = true
	t.mu.Unlock()
	t.Scheduler.Shutdown(evt, reason)
}

func (t *shutdownTracker) signaled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hit
}

func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	specs := r.binaryFlags.specs()
	if len(specs) == 0 {
		logging.Warnf(ctx, "missing -binary (or -host-binary); nothing to run")
		return statusFor(exitInternalError)
	}

	cat, err := listbuild.Build(ctx, specs, listbuild.Options{Ignored: r.binaryFlags.ignored})
	if err != nil {
		logging.Warnf(ctx, "failed to list tests: %v", err)
		return statusFor(exitInternalError)
	}

	opts, err := r.filterFlags.options(f.Args(), r.binaryFlags.ignored)
	if err != nil {
		logging.Warnf(ctx, "%v", err)
		return statusFor(exitInternalError)
	}
	plan := filterpartition.Apply(cat, opts)

	resolver := defaultResolver{
		settings: runconfig.PerTestSettings{
			Retries: runconfig.RetryPolicy{
				Count:         r.retries,
				Backoff:       runconfig.Backoff{Kind: runconfig.BackoffFixed, Delay: time.Duration(r.backoffMs) * time.Millisecond},
				RetryExecFail: r.retryExecFail,
			},
			SlowAfter:   r.slowAfter,
			GracePeriod: r.gracePeriod,
		},
		scripts: r.setupScripts(),
	}

	maxFail := runconfig.MaxFail{All: r.maxFail <= 0, N: r.maxFail}
	if r.failFastKill {
		maxFail.Terminate = runconfig.Immediate
	}

	emit := make(chan *runevent.TestEvent, 4096)
	sched := scheduler.New(ctx, scheduler.Options{
		GlobalThreads: r.testThreads,
		MaxFail:       maxFail,
		RunID:         runevent.RunId(time.Now().Format("20060102-150405")),
	}, resolver, emit)
	tracked := &shutdownTracker{Scheduler: sched}

	sig := signalsrc.NewSource()
	defer sig.Close()
	in := inputsrc.New(os.Stdin)
	defer in.Close()

	rep := newTextReporter(os.Stdout)
	d := dispatch.New(emit, sig, in, tracked, rep)

	var stats runevent.RunStats
	done := make(chan struct{})
	go func() {
		stats = sched.Run(ctx, plan, resolver.scripts)
		close(emit)
		close(done)
	}()

	if err := d.Run(); err != nil {
		logging.Warnf(ctx, "reporter aborted the run: %v", err)
		<-done
		return statusFor(exitInternalError)
	}
	<-done

	if tracked.signaled() {
		return statusFor(exitInterrupted)
	}

	switch {
	case stats.SetupScriptFailed:
		return statusFor(exitSetupScriptFail)
	case stats.Failed > 0:
		return statusFor(exitTestFailure)
	default:
		return statusFor(exitSuccess)
	}
}

func (r *runCmd) setupScripts() []runconfig.SetupScript {
	var out []runconfig.SetupScript
	for _, path := range r.setupScript {
		out = append(out, runconfig.SetupScript{
			Name:     path,
			Program:  path,
			FailFast: true,
			Matches:  func(catalog.TestInstance) bool { return true },
		})
	}
	return out
}

func statusFor(code int) subcommands.ExitStatus { return subcommands.ExitStatus(code) }
