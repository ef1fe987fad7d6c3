package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/paddock-dev/paddock/internal/execunit"
	"github.com/paddock-dev/paddock/internal/reporter"
	"github.com/paddock-dev/paddock/internal/runevent"
	"github.com/paddock-dev/paddock/shutil"
)

// textReporter prints one human-readable line per event to w, in the
// style of the teacher's listCmd.printTests: plain Fprintf, no
// buffering tricks. It is the module's only concrete Reporter; JUnit,
// archive, and terminal-UI reporters are out of scope (see Non-goals).
type textReporter struct {
	mu    sync.Mutex
	w     io.Writer
	stats runevent.RunStats
}

var _ reporter.Reporter = (*textReporter)(nil)

func newTextReporter(w io.Writer) *textReporter {
	return &textReporter{w: w}
}

func (r *textReporter) ReportEvent(ev *runevent.TestEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case runevent.RunStarted:
		fmt.Fprintf(r.w, "running %d tests\n", ev.InitialRunCount)
	case runevent.RunPaused:
		fmt.Fprintln(r.w, "paused")
	case runevent.RunContinued:
		fmt.Fprintln(r.w, "continued")
	case runevent.Started:
		fmt.Fprintf(r.w, "     START %s\n", unitLabel(ev.Unit))
	case runevent.AttemptFailedWillRetry:
		fmt.Fprintf(r.w, "     RETRY %s (attempt %d: %s)\n", unitLabel(ev.Unit), ev.AttemptIndex+1, resultLabel(ev.Status))
	case runevent.Finished:
		fmt.Fprintf(r.w, "%10s %s\n", resultLabel(ev.Status), unitLabel(ev.Unit))
		if ev.Status != nil && ev.Status.Result != execunit.Pass {
			if line := rerunCommand(ev.Unit); line != "" {
				fmt.Fprintf(r.w, "           %s\n", line)
			}
		}
	case runevent.SetupScriptFinished:
		fmt.Fprintf(r.w, "%10s setup script %s\n", resultLabel(ev.Status), ev.Unit.ScriptName)
		if ev.Status != nil && ev.Status.Result != execunit.Pass {
			if line := rerunCommand(ev.Unit); line != "" {
				fmt.Fprintf(r.w, "           %s\n", line)
			}
		}
	case runevent.RunFinished:
		if ev.Stats != nil {
			r.stats = *ev.Stats
		}
		fmt.Fprintf(r.w, "finished: %d passed, %d failed, %d skipped\n", r.stats.Passed, r.stats.Failed, r.stats.Skipped)
	}
	return nil
}

func (r *textReporter) Finish() runevent.RunStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func unitLabel(u *runevent.UnitRef) string {
	if u == nil {
		return "?"
	}
	if u.Kind == runevent.UnitSetupScript {
		return u.ScriptName
	}
	if u.Instance != nil {
		return fmt.Sprintf("%s::%s", u.Instance.Binary.ID, u.Instance.Case.Name)
	}
	return "?"
}

func resultLabel(s *execunit.Status) string {
	if s == nil {
		return "?"
	}
	return s.Result.String()
}

// rerunCommand renders a copy-pasteable shell command line to reproduce
// a failing unit in isolation, matching the --exact arguments scheduler
// builds for a test instance.
func rerunCommand(u *runevent.UnitRef) string {
	if u == nil {
		return ""
	}
	if u.Kind == runevent.UnitSetupScript {
		return shutil.Escape(u.ScriptName)
	}
	if u.Instance == nil {
		return ""
	}
	return shutil.EscapeSlice([]string{u.Instance.Binary.Path, "--exact", u.Instance.Case.Name})
}
