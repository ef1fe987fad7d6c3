// Package inputsrc reads the controlling terminal for the info-request
// keypress without line buffering or echo. It degrades to a no-op
// source whenever stdin is not a TTY, or raw mode cannot be entered, so
// callers never need to special-case non-interactive runs.
package inputsrc

import (
	"os"
	"sync"

	"golang.org/x/term"
)

// infoKey is the documented character that requests an info snapshot
// while a run is in progress.
const infoKey = 't'

// Source produces an InfoRequest on its channel each time the user
// presses the info key. Close restores the terminal's original mode; it
// must be called exactly once and is safe to call from a deferred
// statement or a recovered panic handler.
type Source interface {
	InfoRequests() <-chan struct{}
	Close() error
}

// New installs a Source reading from stdin. If stdin is not a terminal,
// or raw mode cannot be entered, it returns a no-op Source instead of
// failing: an info source is a convenience, never a requirement.
func New(stdin *os.File) Source {
	fd := int(stdin.Fd())
	if !term.IsTerminal(fd) {
		return noop{}
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return noop{}
	}

	s := &ttySource{
		fd:       fd,
		oldState: oldState,
		stdin:    stdin,
		ch:       make(chan struct{}),
		done:     make(chan struct{}),
	}
	registerForPanicRestore(s)
	go s.pump()
	return s
}

type ttySource struct {
	fd       int
	oldState *term.State
	stdin    *os.File
	ch       chan struct{}
	done     chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (s *ttySource) pump() {
	buf := make([]byte, 1)
	for {
		n, err := s.stdin.Read(buf)
		if err != nil || n == 0 {
			return
		}
		if buf[0] == infoKey {
			select {
			case s.ch <- struct{}{}:
			case <-s.done:
				return
			}
		}
	}
}

func (s *ttySource) InfoRequests() <-chan struct{} { return s.ch }

func (s *ttySource) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = term.Restore(s.fd, s.oldState)
		unregisterForPanicRestore(s)
	})
	return s.closeErr
}

type noop struct{}

func (noop) InfoRequests() <-chan struct{} { return nil }
func (noop) Close() error                  { return nil }

// The process-wide registry below exists only so that a panic unwinding
// through main can still trigger terminal restoration via
// RestoreAllForPanic, called from a recover() in main.
// Go has no equivalent of a native panic=abort hook, so this covers the
// panic-and-unwind case; a hard abort (e.g. a fatal runtime error) can
// still leave the terminal in raw mode, same as any other process that
// is killed uncatchably.
var (
	registryMu sync.Mutex
	registry   = map[*ttySource]struct{}{}
)

func registerForPanicRestore(s *ttySource) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[s] = struct{}{}
}

func unregisterForPanicRestore(s *ttySource) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, s)
}

// RestoreAllForPanic restores every currently-installed terminal to its
// original mode. Call it from a recover() at the top of main so a
// panicking run does not leave the user's terminal echo-less.
func RestoreAllForPanic() {
	registryMu.Lock()
	sources := make([]*ttySource, 0, len(registry))
	for s := range registry {
		sources = append(sources, s)
	}
	registryMu.Unlock()
	for _, s := range sources {
		s.Close()
	}
}
