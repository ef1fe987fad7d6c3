package scheduler_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/paddock-dev/paddock/internal/catalog"
	"github.com/paddock-dev/paddock/internal/filterpartition"
	"github.com/paddock-dev/paddock/internal/runconfig"
	"github.com/paddock-dev/paddock/internal/runevent"
	"github.com/paddock-dev/paddock/internal/scheduler"
	"github.com/paddock-dev/paddock/testutil"
)

type stubResolver struct {
	settings func(inst catalog.TestInstance) runconfig.PerTestSettings
	scripts  []runconfig.SetupScript
}

func (r stubResolver) SettingsFor(inst catalog.TestInstance) runconfig.PerTestSettings {
	if r.settings != nil {
		return r.settings(inst)
	}
	return runconfig.PerTestSettings{}
}

func (r stubResolver) SetupScripts() []runconfig.SetupScript { return r.scripts }

func fakeBinary(t *testing.T, body string) string {
	return testutil.ScriptFile(t, body)
}

func planFor(t *testing.T, bin string, names ...string) *filterpartition.TestList {
	t.Helper()
	s := &catalog.TestSuite{
		Binary: &catalog.TestBinary{ID: "pkg", Path: bin},
		Status: catalog.StatusListed,
	}
	for _, n := range names {
		s.Cases = append(s.Cases, catalog.TestCase{Name: n})
	}
	cat := &catalog.Catalog{Suites: []*catalog.TestSuite{s}}
	return filterpartition.Apply(cat, filterpartition.Options{})
}

func drainEvents(ch <-chan *runevent.TestEvent) []*runevent.TestEvent {
	var out []*runevent.TestEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestScheduler_AllPassingRunFinishesWithPassedCount(t *testing.T) {
	bin := fakeBinary(t, `exit 0`)
	plan := planFor(t, bin, "t1", "t2", "t3")

	emit := make(chan *runevent.TestEvent, 256)
	sched := scheduler.New(context.Background(), scheduler.Options{GlobalThreads: 2, MaxFail: runconfig.MaxFail{All: true}}, stubResolver{}, emit)
	stats := sched.Run(context.Background(), plan, nil)
	close(emit)
	events := drainEvents(emit)

	if stats.Passed != 3 || stats.Failed != 0 {
		t.Fatalf("stats = %+v, want 3 passed, 0 failed", stats)
	}
	if events[0].Kind != runevent.RunStarted {
		t.Errorf("first event = %v, want RunStarted", events[0].Kind)
	}
	if events[len(events)-1].Kind != runevent.RunFinished {
		t.Errorf("last event = %v, want RunFinished", events[len(events)-1].Kind)
	}
}

func TestScheduler_RetryEventuallyPasses(t *testing.T) {
	dir := t.TempDir()
	counter := filepath.Join(dir, "count")
	bin := fakeBinary(t, `
n=0
[ -f `+counter+` ] && n=$(cat `+counter+`)
n=$((n+1))
echo $n > `+counter+`
if [ $n -lt 3 ]; then exit 1; fi
exit 0
`)
	plan := planFor(t, bin, "flaky")

	emit := make(chan *runevent.TestEvent, 256)
	resolver := stubResolver{settings: func(inst catalog.TestInstance) runconfig.PerTestSettings {
		return runconfig.PerTestSettings{
			Retries: runconfig.RetryPolicy{Count: 3, Backoff: runconfig.Backoff{Kind: runconfig.BackoffFixed, Delay: time.Millisecond}},
		}
	}}
	sched := scheduler.New(context.Background(), scheduler.Options{GlobalThreads: 1, MaxFail: runconfig.MaxFail{All: true}}, resolver, emit)
	stats := sched.Run(context.Background(), plan, nil)
	close(emit)
	events := drainEvents(emit)

	if stats.Passed != 1 || stats.Flaky != 1 {
		t.Fatalf("stats = %+v, want 1 passed and flagged flaky", stats)
	}
	retries := 0
	for _, ev := range events {
		if ev.Kind == runevent.AttemptFailedWillRetry {
			retries++
		}
	}
	if retries != 2 {
		t.Errorf("AttemptFailedWillRetry count = %d, want 2", retries)
	}
}

func TestScheduler_MaxFailStopsAdmittingNewTests(t *testing.T) {
	bin := fakeBinary(t, `exit 1`)
	plan := planFor(t, bin, "t1", "t2", "t3", "t4", "t5")

	emit := make(chan *runevent.TestEvent, 256)
	sched := scheduler.New(context.Background(), scheduler.Options{
		GlobalThreads: 1,
		MaxFail:       runconfig.MaxFail{N: 1, Terminate: runconfig.Wait},
	}, stubResolver{}, emit)
	stats := sched.Run(context.Background(), plan, nil)
	close(emit)
	drainEvents(emit)

	if stats.Failed < 1 {
		t.Fatalf("stats = %+v, want at least 1 failure", stats)
	}
	if stats.Finished >= 5 {
		t.Errorf("Finished = %d, want fewer than all 5 tests to have run after max-fail tripped", stats.Finished)
	}
}

func TestScheduler_SetupScriptFailFastAbortsBeforeAnyTest(t *testing.T) {
	scriptBin := fakeBinary(t, `exit 1`)
	testBin := fakeBinary(t, `exit 0`)
	plan := planFor(t, testBin, "t1")

	emit := make(chan *runevent.TestEvent, 256)
	resolver := stubResolver{
		scripts: []runconfig.SetupScript{{Name: "setup", Program: scriptBin, FailFast: true}},
	}
	sched := scheduler.New(context.Background(), scheduler.Options{GlobalThreads: 1, MaxFail: runconfig.MaxFail{All: true}}, resolver, emit)
	stats := sched.Run(context.Background(), plan, resolver.SetupScripts())
	close(emit)
	events := drainEvents(emit)

	if !stats.SetupScriptFailed {
		t.Errorf("stats.SetupScriptFailed = false, want true")
	}
	for _, ev := range events {
		if ev.Kind == runevent.Started {
			t.Errorf("test Started event emitted despite fail-fast setup script abort")
		}
	}
}

func TestScheduler_SlowEventsPrecedeTimeoutFinish(t *testing.T) {
	bin := fakeBinary(t, `sleep 5`)
	plan := planFor(t, bin, "slow")

	emit := make(chan *runevent.TestEvent, 256)
	resolver := stubResolver{settings: func(inst catalog.TestInstance) runconfig.PerTestSettings {
		return runconfig.PerTestSettings{
			SlowAfter:          20 * time.Millisecond,
			TerminateAfterSlow: 2,
			GracePeriod:        20 * time.Millisecond,
		}
	}}
	sched := scheduler.New(context.Background(), scheduler.Options{GlobalThreads: 1, MaxFail: runconfig.MaxFail{All: true}}, resolver, emit)
	sched.Run(context.Background(), plan, nil)
	close(emit)
	events := drainEvents(emit)

	var kinds []runevent.Kind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}

	slowCount := 0
	finishedIdx := -1
	for i, k := range kinds {
		if k == runevent.Slow {
			slowCount++
		}
		if k == runevent.Finished {
			finishedIdx = i
		}
	}
	if slowCount != 2 {
		t.Fatalf("Slow event count = %d, want 2: kinds = %v", slowCount, kinds)
	}
	for i, k := range kinds {
		if k == runevent.Slow && i > finishedIdx {
			t.Errorf("Slow event at index %d came after Finished at %d", i, finishedIdx)
		}
	}
}

func TestScheduler_CollectInfoPushesInfoEvent(t *testing.T) {
	bin := fakeBinary(t, `sleep 1`)
	plan := planFor(t, bin, "t1")

	emit := make(chan *runevent.TestEvent, 256)
	sched := scheduler.New(context.Background(), scheduler.Options{GlobalThreads: 1, MaxFail: runconfig.MaxFail{All: true}}, stubResolver{}, emit)

	done := make(chan runevent.RunStats, 1)
	go func() { done <- sched.Run(context.Background(), plan, nil) }()

	time.Sleep(20 * time.Millisecond)
	sched.CollectInfo()
	<-done
	close(emit)
	events := drainEvents(emit)

	found := false
	for _, ev := range events {
		if ev.Kind == runevent.Info {
			found = true
			if len(ev.InfoResponses) != 1 {
				t.Errorf("InfoResponses = %d, want 1", len(ev.InfoResponses))
			}
		}
	}
	if !found {
		t.Errorf("no Info event among %d events", len(events))
	}
}

func TestScheduler_SetupScriptPublishesEnvToTests(t *testing.T) {
	scriptBin := fakeBinary(t, `echo GREETING=hello`)
	testBin := fakeBinary(t, `
case "$GREETING" in
  hello) exit 0 ;;
  *) exit 1 ;;
esac
`)
	plan := planFor(t, testBin, "t1")

	emit := make(chan *runevent.TestEvent, 256)
	resolver := stubResolver{
		scripts: []runconfig.SetupScript{{Name: "setup", Program: scriptBin}},
	}
	sched := scheduler.New(context.Background(), scheduler.Options{GlobalThreads: 1, MaxFail: runconfig.MaxFail{All: true}}, resolver, emit)
	stats := sched.Run(context.Background(), plan, resolver.SetupScripts())
	close(emit)
	drainEvents(emit)

	if stats.Passed != 1 {
		t.Fatalf("stats = %+v, want the test to observe the published env var", stats)
	}
}
