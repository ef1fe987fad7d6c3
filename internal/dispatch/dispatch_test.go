package dispatch_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/paddock-dev/paddock/internal/dispatch"
	"github.com/paddock-dev/paddock/internal/runevent"
	"github.com/paddock-dev/paddock/internal/signalsrc"
)

type fakeSignalSource struct {
	ch chan signalsrc.Event
}

func (f *fakeSignalSource) Events() <-chan signalsrc.Event { return f.ch }
func (f *fakeSignalSource) Close()                         { close(f.ch) }

type recordingReporter struct {
	mu     sync.Mutex
	events []*runevent.TestEvent
	failOn runevent.Kind
	failed bool
}

func (r *recordingReporter) ReportEvent(ev *runevent.TestEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if ev.Kind == r.failOn && !r.failed {
		r.failed = true
		return errors.New("boom")
	}
	return nil
}

func (r *recordingReporter) Finish() runevent.RunStats { return runevent.RunStats{} }

func (r *recordingReporter) kinds() []runevent.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []runevent.Kind
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

type recordingSchedHandler struct {
	mu           sync.Mutex
	shutdowns    []signalsrc.Event
	jobControls  []signalsrc.Event
	infoRequests int
}

func (h *recordingSchedHandler) Shutdown(evt signalsrc.Event, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdowns = append(h.shutdowns, evt)
}

func (h *recordingSchedHandler) JobControl(evt signalsrc.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobControls = append(h.jobControls, evt)
}

func (h *recordingSchedHandler) CollectInfo() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.infoRequests++
}

func TestDispatcher_StopThenContinueEmitsPauseEvents(t *testing.T) {
	events := make(chan *runevent.TestEvent)
	sig := &fakeSignalSource{ch: make(chan signalsrc.Event, 4)}
	rep := &recordingReporter{}
	sched := &recordingSchedHandler{}

	d := dispatch.New(events, sig, nil, sched, rep)
	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	sig.ch <- signalsrc.Stop
	sig.ch <- signalsrc.Continue
	time.Sleep(20 * time.Millisecond)
	close(events)

	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	kinds := rep.kinds()
	if len(kinds) != 2 || kinds[0] != runevent.RunPaused || kinds[1] != runevent.RunContinued {
		t.Errorf("kinds = %v, want [RunPaused RunContinued]", kinds)
	}
	if len(sched.jobControls) != 2 {
		t.Errorf("jobControls = %v, want 2 forwarded", sched.jobControls)
	}
}

func TestDispatcher_ShutdownSignalForwardedToScheduler(t *testing.T) {
	events := make(chan *runevent.TestEvent)
	sig := &fakeSignalSource{ch: make(chan signalsrc.Event, 4)}
	rep := &recordingReporter{}
	sched := &recordingSchedHandler{}

	d := dispatch.New(events, sig, nil, sched, rep)
	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	sig.ch <- signalsrc.Interrupt
	time.Sleep(20 * time.Millisecond)
	close(events)
	<-done

	if len(sched.shutdowns) != 1 || sched.shutdowns[0] != signalsrc.Interrupt {
		t.Errorf("shutdowns = %v, want [Interrupt]", sched.shutdowns)
	}
}

func TestDispatcher_InfoRequestSignalTriggersCollectInfo(t *testing.T) {
	events := make(chan *runevent.TestEvent)
	sig := &fakeSignalSource{ch: make(chan signalsrc.Event, 4)}
	rep := &recordingReporter{}
	sched := &recordingSchedHandler{}

	d := dispatch.New(events, sig, nil, sched, rep)
	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	sig.ch <- signalsrc.InfoRequest
	time.Sleep(20 * time.Millisecond)
	close(events)
	<-done

	sched.mu.Lock()
	defer sched.mu.Unlock()
	if sched.infoRequests != 1 {
		t.Errorf("infoRequests = %d, want 1", sched.infoRequests)
	}
}

func TestDispatcher_ForwardsEventsInOrderUntilChannelCloses(t *testing.T) {
	events := make(chan *runevent.TestEvent, 4)
	rep := &recordingReporter{}

	events <- &runevent.TestEvent{Kind: runevent.RunStarted}
	events <- &runevent.TestEvent{Kind: runevent.Started}
	events <- &runevent.TestEvent{Kind: runevent.Finished}
	events <- &runevent.TestEvent{Kind: runevent.RunFinished}
	close(events)

	d := dispatch.New(events, nil, nil, nil, rep)
	if err := d.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []runevent.Kind{runevent.RunStarted, runevent.Started, runevent.Finished, runevent.RunFinished}
	got := rep.kinds()
	if len(got) != len(want) {
		t.Fatalf("kinds = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("kinds[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDispatcher_ReporterErrorAbortsWithoutDeadlockingProducers(t *testing.T) {
	events := make(chan *runevent.TestEvent, 8)
	rep := &recordingReporter{failOn: runevent.Started}

	for i := 0; i < 5; i++ {
		events <- &runevent.TestEvent{Kind: runevent.Started}
	}
	close(events)

	d := dispatch.New(events, nil, nil, nil, rep)
	err := d.Run()
	if err == nil {
		t.Fatal("expected an error from the reporter")
	}
}
