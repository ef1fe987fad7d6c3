// Package execunit spawns and drives one attempt of one schedulable
// unit (a test case or a setup script) as a child process: pipe wiring,
// slow/terminate timers, job-control forwarding, and the
// graceful-then-forceful termination protocol.
package execunit

import (
	"time"

	"github.com/paddock-dev/paddock/internal/outputbuf"
)

// Result classifies how an attempt ended.
type Result int

const (
	// Pass means the child exited zero.
	Pass Result = iota
	// Fail means the child exited nonzero or was terminated by a signal,
	// including the runner's own termination on shutdown or cancellation
	// (termination on a slow-period timeout is reported as Timeout).
	Fail
	// Timeout means the terminate-after-slow-periods threshold elapsed
	// before the child exited.
	Timeout
	// ExecFail means the child could not be spawned at all.
	ExecFail
	// Leak means the child exited cleanly but left an inherited output
	// handle open past the leak window.
	Leak
)

func (r Result) String() string {
	switch r {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	case Timeout:
		return "timeout"
	case ExecFail:
		return "exec-fail"
	case Leak:
		return "leak"
	default:
		return "unknown"
	}
}

// AbortStatus describes termination by signal or platform exception,
// set only on Fail results caused by something other than a nonzero
// plain exit code.
type AbortStatus struct {
	Set    bool
	Signal string
}

// Request parametrizes one attempt.
type Request struct {
	Program string
	Args    []string
	Dir     string
	Env     []string

	CaptureMode outputbuf.Mode
	NoCapture   bool // inherit the parent's stdout/stderr instead of capturing
	MaxOutput   int  // bytes per stream; 0 means use DefaultMaxOutput

	SlowAfter             time.Duration
	TerminateAfterPeriods int // 0 means "never escalate to Timeout"
	GracePeriod           time.Duration

	// DoubleSpawn is passed to configureProcGroup but does not change
	// how the child is spawned: no intermediate helper is used, and on
	// Unix the child is always placed in its own process group (Setpgid)
	// whether or not this is set. On Windows it is ignored; the child
	// always gets its own process group through CREATE_NEW_PROCESS_GROUP.
	DoubleSpawn bool

	Interactive bool // wire stdin; only set for units that declare it
}

// DefaultMaxOutput is used when Request.MaxOutput is zero.
const DefaultMaxOutput = 10 * 1024 * 1024

// DefaultLeakWindow is how long pipe readers get to report EOF after
// the child exits before a handle is declared leaked.
const DefaultLeakWindow = 100 * time.Millisecond

// ControlKind identifies a message sent on a running unit's request
// channel.
type ControlKind int

const (
	// SignalStop asks the executor to forward SIGTSTP (job-control
	// pause) to the child's process group.
	SignalStop ControlKind = iota
	// SignalContinue asks the executor to forward SIGCONT.
	SignalContinue
	// Shutdown starts the termination protocol for a run-wide shutdown
	// reason.
	Shutdown
	// ShutdownTwice starts the termination protocol but skips the grace
	// period, per the spec's Shutdown::Twice escalation.
	ShutdownTwice
	// OtherCancel starts the termination protocol only if the unit's
	// own policy opts in (e.g. immediate fail-fast termination).
	OtherCancel
	// Query asks for a snapshot without affecting execution.
	Query
)

// Control is one message delivered to a running executor.
type Control struct {
	Kind     ControlKind
	ReplyTo  chan<- InfoResponse // set only when Kind == Query
	Reason   string              // human-readable, used for Shutdown/ShutdownTwice/OtherCancel
}

// InfoResponse is a snapshot of a running unit's state, returned in
// reply to a Query control message.
type InfoResponse struct {
	State        string // "running", "paused", "terminating"
	Elapsed      time.Duration
	PartialBytes int
}

// Status is the result of one completed attempt: InternalExecuteStatus
// in the spec's vocabulary.
type Status struct {
	StartTime        time.Time
	Elapsed          time.Duration
	Result           Result
	Abort            AbortStatus
	Leaked           bool
	Output           outputbuf.Captured
	IsSlow           bool
	DelayBeforeStart time.Duration
	ExecFailReason   string
}
