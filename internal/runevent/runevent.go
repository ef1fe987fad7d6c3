// Package runevent defines the event vocabulary that flows from
// executors through the dispatcher to a reporter: the TestEvent union
// the spec calls out in its Event Dispatcher and Reporter sections.
package runevent

import (
	"time"

	"github.com/paddock-dev/paddock/internal/catalog"
	"github.com/paddock-dev/paddock/internal/execunit"
)

// RunId is a process-lifetime-unique identifier for one run, so a
// reporter can correlate events across a restart-and-resume.
type RunId string

// UnitKind distinguishes the two schedulable unit kinds.
type UnitKind int

const (
	UnitTest UnitKind = iota
	UnitSetupScript
)

func (k UnitKind) String() string {
	if k == UnitSetupScript {
		return "setup-script"
	}
	return "test"
}

// UnitRef identifies the unit an event is about. For UnitTest, Instance
// is populated; for UnitSetupScript, ScriptName is populated.
type UnitRef struct {
	Kind       UnitKind            `json:"kind"`
	Instance   *catalog.TestInstance `json:"instance,omitempty"`
	ScriptName string              `json:"script_name,omitempty"`
}

// Kind enumerates the variants of TestEvent.
type Kind int

const (
	RunStarted Kind = iota
	RunPaused
	RunContinued
	RunFinished

	SetupScriptStarted
	SetupScriptSlow
	SetupScriptFinished

	Started
	Slow
	AttemptFailedWillRetry
	RetryStarted
	Finished
	Skipped

	Info
)

func (k Kind) String() string {
	switch k {
	case RunStarted:
		return "RunStarted"
	case RunPaused:
		return "RunPaused"
	case RunContinued:
		return "RunContinued"
	case RunFinished:
		return "RunFinished"
	case SetupScriptStarted:
		return "SetupScriptStarted"
	case SetupScriptSlow:
		return "SetupScriptSlow"
	case SetupScriptFinished:
		return "SetupScriptFinished"
	case Started:
		return "Started"
	case Slow:
		return "Slow"
	case AttemptFailedWillRetry:
		return "AttemptFailedWillRetry"
	case RetryStarted:
		return "RetryStarted"
	case Finished:
		return "Finished"
	case Skipped:
		return "Skipped"
	case Info:
		return "Info"
	default:
		return "Unknown"
	}
}

// TestEvent is one occurrence in the run's totally ordered event
// stream, as seen by the reporter. Every event carries (unit, sequence,
// timestamp) so a reporter can re-serialize interleaved events if
// needed.
type TestEvent struct {
	Kind      Kind      `json:"kind"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`

	RunID RunId    `json:"run_id,omitempty"`
	Unit  *UnitRef `json:"unit,omitempty"`

	// Populated for Started/Slow/AttemptFailedWillRetry/RetryStarted.
	AttemptIndex int `json:"attempt_index,omitempty"`

	// Populated for Slow/SetupScriptSlow: time since the attempt started.
	Elapsed time.Duration `json:"elapsed,omitempty"`

	// Populated for Finished/AttemptFailedWillRetry.
	Status *execunit.Status `json:"status,omitempty"`

	// Populated for Finished: every attempt's status, in order.
	Attempts []execunit.Status `json:"attempts,omitempty"`

	// Populated for Skipped.
	SkipReason catalog.MismatchReason `json:"skip_reason,omitempty"`

	// Not set by the dispatcher: the RunPaused events it emits leave
	// RunningCount at zero.
	RunningCount int `json:"running_count,omitempty"`

	// Populated for RunStarted.
	InitialRunCount int `json:"initial_run_count,omitempty"`

	// Populated for RunFinished.
	Stats *RunStats `json:"stats,omitempty"`

	// Populated for Info: one response per unit that was live when the
	// snapshot was requested.
	InfoResponses []execunit.InfoResponse `json:"info_responses,omitempty"`
}

// RunStats are the cumulative counters the spec calls RunStats,
// monotonically non-decreasing across a run.
type RunStats struct {
	InitialRunCount  int `json:"initial_run_count"`
	Started          int `json:"started"`
	Finished         int `json:"finished"`
	Passed           int `json:"passed"`
	Flaky            int `json:"flaky"`
	Failed           int `json:"failed"`
	Skipped          int `json:"skipped"`
	ExecFailed       int `json:"exec_failed"`
	TimedOut         int `json:"timed_out"`
	Leaked           int `json:"leaked"`
	SetupScriptFailed bool `json:"setup_script_failed"`
}
