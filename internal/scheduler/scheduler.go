// Package scheduler decides which units may run concurrently, drives
// setup scripts ahead of tests, applies retry policies, and reacts to
// cancellation. It is the only component that owns the admission
// semaphores; everything else only reacts to the events it emits.
package scheduler

import (
	"bufio"
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/paddock-dev/paddock/internal/catalog"
	"github.com/paddock-dev/paddock/internal/execunit"
	"github.com/paddock-dev/paddock/internal/filterpartition"
	"github.com/paddock-dev/paddock/internal/logging"
	"github.com/paddock-dev/paddock/internal/runconfig"
	"github.com/paddock-dev/paddock/internal/runevent"
	"github.com/paddock-dev/paddock/internal/signalsrc"
)

// InfoCollectionWindow bounds how long CollectInfo waits for live
// executors to reply to a Query broadcast before merging whatever
// responses arrived in time.
const InfoCollectionWindow = 200 * time.Millisecond

// Options configures one Scheduler.
type Options struct {
	GlobalThreads int // 0 means "no cap" (1<<30 is used as the effective cap)
	GroupLimits   map[string]runconfig.GroupLimit
	MaxFail       runconfig.MaxFail
	RunID         runevent.RunId
}

// Scheduler drives one run's worth of setup scripts and tests to
// completion, emitting runevent.TestEvent values on Emit in causal
// order per unit.
type Scheduler struct {
	opts     Options
	resolver runconfig.Resolver
	emit     chan<- *runevent.TestEvent

	globalSem *semaphore.Weighted
	groupMu   sync.Mutex
	groupSems map[string]*semaphore.Weighted

	seq uint64 // atomic

	failedCount   int32 // atomic
	stopAdmitting int32 // atomic bool

	admitCtx    context.Context
	stopAdmit   context.CancelFunc

	liveMu sync.Mutex
	live   map[string]chan<- execunit.Control

	statsMu sync.Mutex

	shutdown       *signalsrc.ShutdownTracker
	shutdownMu     sync.Mutex
	shutdownReason string
}

// New builds a Scheduler. ctx is the run's parent context; emit is the
// channel events are pushed to (the dispatcher's consumption side).
func New(ctx context.Context, opts Options, resolver runconfig.Resolver, emit chan<- *runevent.TestEvent) *Scheduler {
	capacity := int64(opts.GlobalThreads)
	if capacity <= 0 {
		capacity = 1 << 30 // effectively unbounded
	}
	admitCtx, stopAdmit := context.WithCancel(ctx)
	return &Scheduler{
		opts:      opts,
		resolver:  resolver,
		emit:      emit,
		globalSem: semaphore.NewWeighted(capacity),
		groupSems: make(map[string]*semaphore.Weighted),
		admitCtx:  admitCtx,
		stopAdmit: stopAdmit,
		live:      make(map[string]chan<- execunit.Control),
		shutdown:  signalsrc.NewShutdownTracker(),
	}
}

func (s *Scheduler) nextSeq() uint64 {
	return atomic.AddUint64(&s.seq, 1)
}

func (s *Scheduler) push(ev *runevent.TestEvent) {
	ev.Sequence = s.nextSeq()
	ev.RunID = s.opts.RunID
	// The dispatcher channel is sized generously (see cmd/paddock wiring)
	// to approximate the spec's unbounded channel; a blocking send here
	// only ever waits on the dispatcher, never on another executor.
	s.emit <- ev
}

func (s *Scheduler) groupSemFor(g runconfig.TestGroup) *semaphore.Weighted {
	if g.IsGlobal() {
		return nil
	}
	s.groupMu.Lock()
	defer s.groupMu.Unlock()
	if sem, ok := s.groupSems[g.Name]; ok {
		return sem
	}
	limit := s.opts.GroupLimits[g.Name]
	if limit.Infinite || limit.MaxThreads <= 0 {
		s.groupSems[g.Name] = nil
		return nil
	}
	sem := semaphore.NewWeighted(int64(limit.MaxThreads))
	s.groupSems[g.Name] = sem
	return sem
}

// Run executes every setup script in order, then every admitted test
// instance concurrently, and returns the final stats after emitting
// RunFinished. Run blocks until the whole run (including cancellation
// fallout) has settled.
func (s *Scheduler) Run(ctx context.Context, plan *filterpartition.TestList, scripts []runconfig.SetupScript) runevent.RunStats {
	logging.Infof(ctx, "run starting: %d runnable of %d discovered", plan.RunCount, plan.TestCount)
	stats := &runevent.RunStats{InitialRunCount: plan.RunCount}
	s.push(&runevent.TestEvent{Kind: runevent.RunStarted, InitialRunCount: plan.RunCount, Timestamp: now()})

	publishedEnv, aborted := s.runSetupScripts(ctx, scripts, stats)
	if aborted {
		logging.Warnf(ctx, "run aborted during setup scripts")
	} else {
		s.runTests(ctx, plan, publishedEnv, stats)
	}

	logging.Infof(ctx, "run finished: passed=%d failed=%d skipped=%d", stats.Passed, stats.Failed, stats.Skipped)
	s.push(&runevent.TestEvent{Kind: runevent.RunFinished, Stats: cloneStats(stats), Timestamp: now()})
	return *stats
}

func cloneStats(s *runevent.RunStats) *runevent.RunStats {
	c := *s
	return &c
}

func (s *Scheduler) runSetupScripts(ctx context.Context, scripts []runconfig.SetupScript, stats *runevent.RunStats) (env map[string]string, aborted bool) {
	env = make(map[string]string)
	for _, script := range scripts {
		sem := semaphore.NewWeighted(1)
		if err := sem.Acquire(ctx, 1); err != nil {
			return env, true
		}

		s.push(&runevent.TestEvent{
			Kind: runevent.SetupScriptStarted,
			Unit: &runevent.UnitRef{Kind: runevent.UnitSetupScript, ScriptName: script.Name},
			Timestamp: now(),
		})

		req := execunit.Request{
			Program:     script.Program,
			Args:        script.Args,
			Env:         envSlice(env),
			CaptureMode: 0,
			Interactive: false,
		}
		onSlow := func(elapsed time.Duration) {
			s.push(&runevent.TestEvent{
				Kind:      runevent.SetupScriptSlow,
				Unit:      &runevent.UnitRef{Kind: runevent.UnitSetupScript, ScriptName: script.Name},
				Elapsed:   elapsed,
				Timestamp: now(),
			})
		}
		status := execunit.Execute(ctx, req, nil, onSlow)
		sem.Release(1)

		s.push(&runevent.TestEvent{
			Kind:   runevent.SetupScriptFinished,
			Unit:   &runevent.UnitRef{Kind: runevent.UnitSetupScript, ScriptName: script.Name},
			Status: &status,
			Timestamp: now(),
		})

		if status.Result != execunit.Pass {
			stats.SetupScriptFailed = true
			if script.FailFast {
				return env, true
			}
			continue
		}

		for k, v := range parsePublishedEnv(status.Output.Stdout.Bytes()) {
			env[k] = v
		}
	}
	return env, false
}

func parsePublishedEnv(stdout []byte) map[string]string {
	out := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(string(stdout)))
	for sc.Scan() {
		line := sc.Text()
		if k, v, ok := strings.Cut(line, "="); ok {
			out[k] = v
		}
	}
	return out
}

func envSlice(m map[string]string) []string {
	var out []string
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}

func (s *Scheduler) runTests(ctx context.Context, plan *filterpartition.TestList, publishedEnv map[string]string, stats *runevent.RunStats) {
	var wg sync.WaitGroup
	for _, inst := range plan.Catalog.Instances() {
		match := plan.Matches[inst.Binary.ID][inst.Case.Name]
		if !match.Matches {
			s.statsMu.Lock()
			stats.Skipped++
			s.statsMu.Unlock()
			continue
		}
		inst := inst
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runOneTest(ctx, inst, publishedEnv, stats)
		}()
	}
	wg.Wait()
}

// runOneTest drives the retry-loop state machine for one test instance.
func (s *Scheduler) runOneTest(ctx context.Context, inst catalog.TestInstance, publishedEnv map[string]string, stats *runevent.RunStats) {
	settings := s.resolver.SettingsFor(inst)
	group := settings.Group
	key := inst.Key()

	var attempts []execunit.Status
	for attempt := 0; ; attempt++ {
		if !s.admit(ctx, group) {
			return
		}

		s.push(&runevent.TestEvent{
			Kind:         runevent.Started,
			Unit:         &runevent.UnitRef{Kind: runevent.UnitTest, Instance: &inst},
			AttemptIndex: attempt,
			Timestamp:    now(),
		})
		s.statsMu.Lock()
		stats.Started++
		s.statsMu.Unlock()

		ctrl := make(chan execunit.Control, 4)
		s.registerLive(key, ctrl)
		req := buildRequest(inst, settings, publishedEnv)
		onSlow := func(elapsed time.Duration) {
			s.push(&runevent.TestEvent{
				Kind:         runevent.Slow,
				Unit:         &runevent.UnitRef{Kind: runevent.UnitTest, Instance: &inst},
				AttemptIndex: attempt,
				Elapsed:      elapsed,
				Timestamp:    now(),
			})
		}
		status := execunit.Execute(ctx, req, ctrl, onSlow)
		s.unregisterLive(key)
		s.release(group)

		attempts = append(attempts, status)

		if status.Result == execunit.Pass || status.Result == execunit.Leak {
			s.finishTest(inst, attempts, stats)
			return
		}

		retryEligible := status.Result != execunit.ExecFail || settings.Retries.RetryExecFail
		if attempt < settings.Retries.Count && retryEligible && !s.isShuttingDown() {
			delay := settings.Retries.Backoff.DelayFor(attempt)
			s.push(&runevent.TestEvent{
				Kind:         runevent.AttemptFailedWillRetry,
				Unit:         &runevent.UnitRef{Kind: runevent.UnitTest, Instance: &inst},
				AttemptIndex: attempt,
				Status:       &status,
				Timestamp:    now(),
			})
			if !s.sleepCancellable(ctx, delay) {
				s.finishTest(inst, attempts, stats)
				return
			}
			s.push(&runevent.TestEvent{
				Kind:         runevent.RetryStarted,
				Unit:         &runevent.UnitRef{Kind: runevent.UnitTest, Instance: &inst},
				AttemptIndex: attempt + 1,
				Timestamp:    now(),
			})
			continue
		}

		s.finishTest(inst, attempts, stats)
		return
	}
}

func buildRequest(inst catalog.TestInstance, settings runconfig.PerTestSettings, publishedEnv map[string]string) execunit.Request {
	var terminateAfter int
	if settings.TerminateAfterSlow > 0 {
		terminateAfter = settings.TerminateAfterSlow
	}
	return execunit.Request{
		Program:               inst.Binary.Path,
		Args:                  []string{"--exact", inst.Case.Name},
		Env:                   append(os.Environ(), envSlice(publishedEnv)...),
		SlowAfter:             settings.SlowAfter,
		TerminateAfterPeriods: terminateAfter,
		GracePeriod:           settings.GracePeriod,
	}
}

func (s *Scheduler) finishTest(inst catalog.TestInstance, attempts []execunit.Status, stats *runevent.RunStats) {
	last := attempts[len(attempts)-1]
	s.statsMu.Lock()
	updateStatsOnFinish(stats, last, len(attempts))
	s.statsMu.Unlock()
	if last.Result != execunit.Pass && last.Result != execunit.Leak {
		n := atomic.AddInt32(&s.failedCount, 1)
		s.maybeStopAdmitting(n)
	}
	s.push(&runevent.TestEvent{
		Kind:     runevent.Finished,
		Unit:     &runevent.UnitRef{Kind: runevent.UnitTest, Instance: &inst},
		Status:   &last,
		Attempts: attempts,
		Timestamp: now(),
	})
}

func updateStatsOnFinish(stats *runevent.RunStats, last execunit.Status, attemptCount int) {
	stats.Finished++
	switch last.Result {
	case execunit.Pass, execunit.Leak:
		stats.Passed++
		if attemptCount > 1 {
			stats.Flaky++
		}
		if last.Result == execunit.Leak {
			stats.Leaked++
		}
	case execunit.Timeout:
		stats.TimedOut++
		stats.Failed++
	case execunit.ExecFail:
		stats.ExecFailed++
		stats.Failed++
	default:
		stats.Failed++
	}
}

func (s *Scheduler) maybeStopAdmitting(failedCount int32) {
	if s.opts.MaxFail.All {
		return
	}
	if int(failedCount) < s.opts.MaxFail.N {
		return
	}
	if atomic.CompareAndSwapInt32(&s.stopAdmitting, 0, 1) {
		s.stopAdmit()
		if s.opts.MaxFail.Terminate == runconfig.Immediate {
			s.broadcast(execunit.Control{Kind: execunit.OtherCancel, Reason: "max-fail"})
		}
	}
}

// admit acquires, in order, the global then the group semaphore. It
// returns false if the run was shut down or admission was closed by
// fail-fast before a slot could be acquired.
func (s *Scheduler) admit(ctx context.Context, group runconfig.TestGroup) bool {
	if err := s.globalSem.Acquire(s.admitCtx, 1); err != nil {
		return false
	}
	if sem := s.groupSemFor(group); sem != nil {
		if err := sem.Acquire(s.admitCtx, 1); err != nil {
			s.globalSem.Release(1)
			return false
		}
	}
	return true
}

func (s *Scheduler) release(group runconfig.TestGroup) {
	if sem := s.groupSemFor(group); sem != nil {
		sem.Release(1)
	}
	s.globalSem.Release(1)
}

// sleepCancellable waits out a retry backoff, waking early if the run
// is shut down or admission is closed by fail-fast (the OtherCancel
// case from spec §4.7 step 4 — during backoff there is no live
// executor to signal, so both cancellation sources are observed
// through admitCtx/ctx directly).
func (s *Scheduler) sleepCancellable(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !s.isShuttingDown()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-s.admitCtx.Done():
		return false
	}
}

func (s *Scheduler) isShuttingDown() bool {
	select {
	case <-s.admitCtx.Done():
		return true
	default:
		return atomic.LoadInt32(&s.stopAdmitting) != 0
	}
}

func (s *Scheduler) registerLive(key string, ctrl chan<- execunit.Control) {
	s.liveMu.Lock()
	s.live[key] = ctrl
	s.liveMu.Unlock()
}

func (s *Scheduler) unregisterLive(key string) {
	s.liveMu.Lock()
	delete(s.live, key)
	s.liveMu.Unlock()
}

func (s *Scheduler) broadcast(c execunit.Control) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	for _, ch := range s.live {
		select {
		case ch <- c:
		default:
		}
	}
}

// CollectInfo broadcasts a Query to every currently live executor,
// waits up to InfoCollectionWindow for their InfoResponses, and pushes
// a single merged Info event carrying whatever responses arrived in
// time. It satisfies dispatch.ShutdownHandler.
func (s *Scheduler) CollectInfo() {
	s.liveMu.Lock()
	targets := make([]chan<- execunit.Control, 0, len(s.live))
	for _, ch := range s.live {
		targets = append(targets, ch)
	}
	s.liveMu.Unlock()

	if len(targets) == 0 {
		s.push(&runevent.TestEvent{Kind: runevent.Info, Timestamp: now()})
		return
	}

	replies := make(chan execunit.InfoResponse, len(targets))
	for _, ch := range targets {
		select {
		case ch <- execunit.Control{Kind: execunit.Query, ReplyTo: replies}:
		default:
		}
	}

	deadline := time.NewTimer(InfoCollectionWindow)
	defer deadline.Stop()
	var responses []execunit.InfoResponse
collect:
	for i := 0; i < len(targets); i++ {
		select {
		case resp := <-replies:
			responses = append(responses, resp)
		case <-deadline.C:
			break collect
		}
	}

	s.push(&runevent.TestEvent{Kind: runevent.Info, InfoResponses: responses, Timestamp: now()})
}

// Shutdown is called by the caller wiring signalsrc events to the
// scheduler. It stops admission, broadcasts the termination signal to
// every live executor, and escalates to ShutdownTwice on a repeated
// reason within the run.
func (s *Scheduler) Shutdown(evt signalsrc.Event, reason string) {
	s.shutdownMu.Lock()
	s.shutdownReason = reason
	s.shutdownMu.Unlock()

	atomic.StoreInt32(&s.stopAdmitting, 1)
	s.stopAdmit()

	kind := execunit.Shutdown
	if s.shutdown.Observe(evt) {
		kind = execunit.ShutdownTwice
	}
	s.broadcast(execunit.Control{Kind: kind, Reason: reason})
}

// JobControl forwards a Stop/Continue job-control event to every live
// executor.
func (s *Scheduler) JobControl(evt signalsrc.Event) {
	var kind execunit.ControlKind
	switch evt {
	case signalsrc.Stop:
		kind = execunit.SignalStop
	case signalsrc.Continue:
		kind = execunit.SignalContinue
	default:
		return
	}
	s.broadcast(execunit.Control{Kind: kind})
}

func now() time.Time { return time.Now() }
