// Package dispatch runs the single-consumer loop that merges scheduler
// events, signal-derived events, and info-key requests into the
// reporter-facing stream, pausing timeout accounting on Stop/Continue
// and collapsing concurrent info snapshots into one Info event.
package dispatch

import (
	"time"

	"github.com/paddock-dev/paddock/internal/inputsrc"
	"github.com/paddock-dev/paddock/internal/reporter"
	"github.com/paddock-dev/paddock/internal/runevent"
	"github.com/paddock-dev/paddock/internal/signalsrc"
)

// ShutdownHandler is notified when a shutdown-class signal arrives so
// the caller's scheduler can stop admission and broadcast termination;
// it also owns the live-executor registry a broadcast snapshot needs.
type ShutdownHandler interface {
	Shutdown(evt signalsrc.Event, reason string)
	JobControl(evt signalsrc.Event)

	// CollectInfo broadcasts a Query to every live executor, gathers the
	// InfoResponses, and pushes a single merged Info event back onto the
	// same channel the dispatcher reads events from.
	CollectInfo()
}

// Dispatcher is the single consumer of the scheduler's event channel. It
// interleaves Signal Source and Input Source occurrences without ever
// splitting a unit's causally-ordered event sequence, and forwards
// everything to a Reporter.
type Dispatcher struct {
	events  <-chan *runevent.TestEvent
	signals signalsrc.Source
	input   inputsrc.Source
	sched   ShutdownHandler
	rep     reporter.Reporter

	paused   bool
	pausedAt time.Time
}

// New builds a Dispatcher. events is the scheduler's emit channel;
// signals and input may be nil (treated as sources that never fire).
func New(events <-chan *runevent.TestEvent, signals signalsrc.Source, input inputsrc.Source, sched ShutdownHandler, rep reporter.Reporter) *Dispatcher {
	return &Dispatcher{events: events, signals: signals, input: input, sched: sched, rep: rep}
}

// Run drains the event channel until it is closed (by the scheduler's
// caller once Scheduler.Run returns), forwarding every event — plus any
// signal- and input-derived events it synthesizes — to the Reporter in
// delivery order. It returns the first WriteEventError-class error from
// the reporter, if any; the loop still drains the remaining events so
// the scheduler's goroutines are never left blocked on a full channel.
// Once the channel is closed it calls the Reporter's Finish exactly once.
func (d *Dispatcher) Run() error {
	var sigCh <-chan signalsrc.Event
	if d.signals != nil {
		sigCh = d.signals.Events()
	}
	var infoCh <-chan struct{}
	if d.input != nil {
		infoCh = d.input.InfoRequests()
	}

	var firstErr error
	report := func(ev *runevent.TestEvent) {
		if firstErr != nil {
			return
		}
		if err := d.rep.ReportEvent(ev); err != nil {
			firstErr = err
		}
	}

	for {
		select {
		case ev, ok := <-d.events:
			if !ok {
				d.rep.Finish()
				return firstErr
			}
			report(ev)

		case evt, ok := <-sigCh:
			if !ok {
				sigCh = nil
				continue
			}
			d.handleSignal(evt, report)

		case _, ok := <-infoCh:
			if !ok {
				infoCh = nil
				continue
			}
			d.requestInfo()
		}
	}
}

func (d *Dispatcher) handleSignal(evt signalsrc.Event, report func(*runevent.TestEvent)) {
	switch evt {
	case signalsrc.Stop:
		if !d.paused {
			d.paused = true
			d.pausedAt = time.Now()
			report(&runevent.TestEvent{Kind: runevent.RunPaused, Timestamp: time.Now()})
		}
		if d.sched != nil {
			d.sched.JobControl(evt)
		}
	case signalsrc.Continue:
		if d.paused {
			d.paused = false
			report(&runevent.TestEvent{Kind: runevent.RunContinued, Timestamp: time.Now()})
		}
		if d.sched != nil {
			d.sched.JobControl(evt)
		}
	case signalsrc.InfoRequest:
		d.requestInfo()
	default:
		if d.sched != nil {
			d.sched.Shutdown(evt, evt.String())
		}
	}
}

// requestInfo triggers a broadcast snapshot collection. CollectInfo
// gathers InfoResponses from every live executor and pushes the merged
// result back onto d.events itself, so Run's own select loop picks it
// up and forwards it like any other event; requestInfo only needs to
// kick it off without blocking the dispatch loop while replies trickle
// in.
func (d *Dispatcher) requestInfo() {
	if d.sched == nil {
		return
	}
	go d.sched.CollectInfo()
}
