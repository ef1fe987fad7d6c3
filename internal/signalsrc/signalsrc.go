// Package signalsrc turns OS signals into a well-ordered stream of
// shutdown and job-control events for the dispatcher. It is the one
// place in the runner core that touches os/signal directly; every other
// component reacts to the Event values this package produces.
package signalsrc

// Event is one signal-derived occurrence delivered on a Source's channel.
type Event int

const (
	// Interrupt corresponds to SIGINT (Ctrl-C).
	Interrupt Event = iota
	// Terminate corresponds to SIGTERM.
	Terminate
	// Hangup corresponds to SIGHUP.
	Hangup
	// Quit corresponds to SIGQUIT.
	Quit
	// Stop corresponds to SIGTSTP (Ctrl-Z): a job-control pause request.
	Stop
	// Continue corresponds to SIGCONT: resumes after Stop.
	Continue
	// InfoRequest corresponds to the platform's "dump status" primitive
	// (SIGUSR1 on Unix). The Windows Source never emits it, since no
	// such signal exists there.
	InfoRequest
)

// String renders an Event for logs and test failure messages.
func (e Event) String() string {
	switch e {
	case Interrupt:
		return "Interrupt"
	case Terminate:
		return "Terminate"
	case Hangup:
		return "Hangup"
	case Quit:
		return "Quit"
	case Stop:
		return "Stop"
	case Continue:
		return "Continue"
	case InfoRequest:
		return "InfoRequest"
	default:
		return "Unknown"
	}
}

// IsShutdown reports whether e is one of the signals that begins
// cooperative cancellation (Interrupt, Terminate, Hangup, Quit).
func (e Event) IsShutdown() bool {
	switch e {
	case Interrupt, Terminate, Hangup, Quit:
		return true
	default:
		return false
	}
}

// Source produces an ordered stream of signal-derived Events. Dropping
// (calling Close on) a Source releases its OS registrations; it must be
// created at most once per process since OS signal registration is
// process-wide.
type Source interface {
	// Events returns the channel Events are delivered on. It is closed
	// when Close is called.
	Events() <-chan Event
	// Close releases the underlying OS signal registration.
	Close()
}

// ShutdownTracker turns repeated identical shutdown reasons into the
// escalation the spec calls Shutdown::Twice: a second Interrupt (or
// other shutdown-class signal) of the same kind observed during the
// same run means the caller should skip the grace period.
type ShutdownTracker struct {
	seen map[Event]bool
}

// NewShutdownTracker creates an empty tracker, one per run.
func NewShutdownTracker() *ShutdownTracker {
	return &ShutdownTracker{seen: make(map[Event]bool)}
}

// Observe records a shutdown-class event and reports whether this is the
// second (or later) occurrence of that same reason during the run.
func (t *ShutdownTracker) Observe(e Event) (twice bool) {
	if t.seen[e] {
		return true
	}
	t.seen[e] = true
	return false
}
