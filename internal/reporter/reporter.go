// Package reporter defines the consumer-facing contract the dispatcher
// drives: anything that wants to observe a run's event stream
// implements Reporter. Concrete reporters (human display, JUnit,
// record) are out of scope for this module; only the boundary is.
package reporter

import (
	"github.com/paddock-dev/paddock/internal/paddockerrors"
	"github.com/paddock-dev/paddock/internal/runevent"
)

// Reporter consumes the run's totally ordered event stream.
// ReportEvent is called once per event, in order. After an error
// return the dispatcher delivers no further events to the reporter and
// returns that error once the event stream has ended; the run itself is
// not cancelled, and its remaining units still execute. Finish is
// called exactly once, after the event stream has ended.
type Reporter interface {
	ReportEvent(ev *runevent.TestEvent) error
	Finish() runevent.RunStats
}

// NullReporter discards every event. It is the safe default and is
// useful in tests that don't care about reporter output.
type NullReporter struct {
	stats runevent.RunStats
}

// ReportEvent implements Reporter; it never fails.
func (n *NullReporter) ReportEvent(ev *runevent.TestEvent) error {
	if ev.Kind == runevent.RunFinished && ev.Stats != nil {
		n.stats = *ev.Stats
	}
	return nil
}

// Finish implements Reporter.
func (n *NullReporter) Finish() runevent.RunStats {
	return n.stats
}

// TeeReporter fans every event out to a fixed list of reporters in
// order, stopping at the first one that returns an error.
type TeeReporter struct {
	reporters []Reporter
}

// NewTee builds a TeeReporter over rs.
func NewTee(rs ...Reporter) *TeeReporter {
	return &TeeReporter{reporters: rs}
}

// ReportEvent implements Reporter.
func (t *TeeReporter) ReportEvent(ev *runevent.TestEvent) error {
	for _, r := range t.reporters {
		if err := r.ReportEvent(ev); err != nil {
			return paddockerrors.Wrapf(err, "reporter failed on event %s", ev.Kind)
		}
	}
	return nil
}

// Finish implements Reporter, returning the last sub-reporter's stats
// (they are expected to agree, since they observed the same stream).
func (t *TeeReporter) Finish() runevent.RunStats {
	var stats runevent.RunStats
	for _, r := range t.reporters {
		stats = r.Finish()
	}
	return stats
}
