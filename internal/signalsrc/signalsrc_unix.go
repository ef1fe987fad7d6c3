//go:build !windows

package signalsrc

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// unixSource wires os/signal.Notify to seven POSIX signals: SIGINT,
// SIGTERM, SIGHUP, SIGQUIT, SIGTSTP, SIGCONT, and SIGUSR1, which
// doubles as the info-request primitive (mirrors
// the teacher's command.InstallSignalHandler, which notifies on a fixed
// signal set and runs a callback on the first delivery).
type unixSource struct {
	raw    chan os.Signal
	events chan Event
	done   chan struct{}
}

// NewSource installs signal handlers and returns a Source. Call Close to
// release them; doing so stops signal.Notify and closes Events().
func NewSource() Source {
	s := &unixSource{
		raw:    make(chan os.Signal, 8),
		events: make(chan Event),
		done:   make(chan struct{}),
	}
	signal.Notify(s.raw,
		unix.SIGINT, unix.SIGTERM, unix.SIGHUP, unix.SIGQUIT,
		unix.SIGTSTP, unix.SIGCONT, unix.SIGUSR1,
	)
	go s.pump()
	return s
}

func (s *unixSource) pump() {
	defer close(s.events)
	for {
		select {
		case sig, ok := <-s.raw:
			if !ok {
				return
			}
			ev, ok := translate(sig)
			if !ok {
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func translate(sig os.Signal) (Event, bool) {
	switch sig {
	case unix.SIGINT:
		return Interrupt, true
	case unix.SIGTERM:
		return Terminate, true
	case unix.SIGHUP:
		return Hangup, true
	case unix.SIGQUIT:
		return Quit, true
	case unix.SIGTSTP:
		return Stop, true
	case unix.SIGCONT:
		return Continue, true
	case unix.SIGUSR1:
		return InfoRequest, true
	default:
		return 0, false
	}
}

func (s *unixSource) Events() <-chan Event { return s.events }

func (s *unixSource) Close() {
	signal.Stop(s.raw)
	close(s.done)
}
