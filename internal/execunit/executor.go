package execunit

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/paddock-dev/paddock/internal/outputbuf"
)

// Execute spawns req as a child process and drives it to completion:
// pipe capture, slow/terminate timers, job-control forwarding, and the
// graceful-then-forceful termination protocol. It returns once the
// child has exited (or could not be spawned) and its pipes have been
// drained or declared leaked.
//
// ctrl delivers Control messages (signals, cancellation, info queries)
// for the duration of the attempt; Execute never sends on it. ctx
// cancellation is treated the same as receiving a Shutdown control.
//
// onSlow, if non-nil, is called synchronously from the event loop each
// time the slow timer fires (including the final fire that escalates
// to Timeout), with the elapsed time since the attempt started. The
// caller uses it to emit a Slow/SetupScriptSlow event without Execute
// needing to know anything about the event stream.
func Execute(ctx context.Context, req Request, ctrl <-chan Control, onSlow func(elapsed time.Duration)) Status {
	start := time.Now()

	cmd := exec.Command(req.Program, req.Args...)
	cmd.Dir = req.Dir
	cmd.Env = req.Env
	configureProcGroup(cmd, req.DoubleSpawn)

	maxOutput := req.MaxOutput
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}

	var buf *outputbuf.Buffer
	var stdoutDone, stderrDone chan struct{}

	if req.NoCapture {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		buf = outputbuf.New(req.CaptureMode, maxOutput)
		stdoutPipe, err := cmd.StdoutPipe()
		if err != nil {
			return execFailStatus(start, err)
		}
		stderrPipe, err := cmd.StderrPipe()
		if err != nil {
			return execFailStatus(start, err)
		}
		stdoutDone = make(chan struct{})
		stderrDone = make(chan struct{})
		go drainPipe(stdoutPipe, buf.StdoutSink(), stdoutDone)
		go drainPipe(stderrPipe, buf.StderrSink(), stderrDone)
	}

	if req.Interactive {
		cmd.Stdin = os.Stdin
	}

	if err := cmd.Start(); err != nil {
		return execFailStatus(start, err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var slowTimer *time.Timer
	if req.SlowAfter > 0 {
		slowTimer = time.NewTimer(req.SlowAfter)
		defer slowTimer.Stop()
	}
	slowArmedAt := start

	var (
		isSlow        bool
		slowPeriods   int
		terminating   bool
		timedOut      bool
		waitErr       error
		paused        bool
		slowRemaining time.Duration
	)

	// pauseTimers suspends the slow timer for the duration of a Stop,
	// per spec §4.8/§5: a paused run suspends all timeout accounting so
	// a stopped-for-debugging child is never declared Timeout. resumeTimers
	// re-arms it for whatever was left when Continue arrives.
	pauseTimers := func() {
		if paused || slowTimer == nil {
			return
		}
		if !slowTimer.Stop() {
			select {
			case <-slowTimer.C:
			default:
			}
		}
		slowRemaining = req.SlowAfter - time.Since(slowArmedAt)
		if slowRemaining < 0 {
			slowRemaining = 0
		}
		paused = true
	}
	resumeTimers := func() {
		if !paused {
			return
		}
		paused = false
		if slowTimer != nil {
			slowArmedAt = time.Now()
			slowTimer.Reset(slowRemaining)
		}
	}

	beginTermination := func(skipGrace bool) {
		if terminating {
			return
		}
		terminating = true
		sendGraceful(cmd)
		if skipGrace || req.GracePeriod <= 0 {
			sendForceful(cmd)
			return
		}
		grace := time.NewTimer(req.GracePeriod)
		defer grace.Stop()
		select {
		case err := <-waitCh:
			waitErr = err
			return
		case <-grace.C:
			sendForceful(cmd)
		}
	}

loop:
	for {
		var slowC <-chan time.Time
		if slowTimer != nil {
			slowC = slowTimer.C
		}
		select {
		case err := <-waitCh:
			waitErr = err
			break loop

		case <-slowC:
			slowPeriods++
			isSlow = true
			if onSlow != nil {
				onSlow(time.Since(start))
			}
			if req.TerminateAfterPeriods > 0 && slowPeriods >= req.TerminateAfterPeriods {
				timedOut = true
				beginTermination(false)
				if waitErr == nil {
					waitErr = <-waitCh
				}
				break loop
			}
			slowArmedAt = time.Now()
			slowTimer.Reset(req.SlowAfter)

		case <-ctx.Done():
			beginTermination(false)
			if waitErr == nil {
				waitErr = <-waitCh
			}
			break loop

		case c, ok := <-ctrl:
			if !ok {
				continue
			}
			switch c.Kind {
			case SignalStop:
				pauseTimers()
				sendStop(cmd)
			case SignalContinue:
				resumeTimers()
				sendContinue(cmd)
			case Shutdown:
				beginTermination(false)
				if waitErr == nil {
					waitErr = <-waitCh
				}
				break loop
			case ShutdownTwice:
				beginTermination(true)
				if waitErr == nil {
					waitErr = <-waitCh
				}
				break loop
			case OtherCancel:
				// The caller only sends OtherCancel when its policy
				// says this unit should honor it (e.g. immediate
				// fail-fast); by the time Execute sees it, the
				// decision has already been made.
				beginTermination(false)
				if waitErr == nil {
					waitErr = <-waitCh
				}
				break loop
			case Query:
				resp := InfoResponse{
					State:   stateLabel(terminating, paused),
					Elapsed: time.Since(start),
				}
				select {
				case c.ReplyTo <- resp:
				default:
				}
			}
		}
	}

	leaked := waitForPipesOrLeak(stdoutDone, stderrDone)

	elapsed := time.Since(start)
	status := Status{
		StartTime: start,
		Elapsed:   elapsed,
		IsSlow:    isSlow,
		Leaked:    leaked,
	}
	if buf != nil {
		status.Output = buf.Finish()
	}

	switch {
	case timedOut:
		status.Result = Timeout
	case waitErr == nil:
		status.Result = Pass
		if leaked {
			status.Result = Leak
		}
	default:
		status.Result = Fail
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
				if name, signaled := abortSignalName(ws); signaled {
					status.Abort = AbortStatus{Set: true, Signal: name}
				}
			}
		}
	}
	return status
}

func stateLabel(terminating, paused bool) string {
	switch {
	case terminating:
		return "terminating"
	case paused:
		return "paused"
	default:
		return "running"
	}
}

func execFailStatus(start time.Time, err error) Status {
	return Status{
		StartTime:      start,
		Elapsed:        time.Since(start),
		Result:         ExecFail,
		ExecFailReason: err.Error(),
	}
}

func drainPipe(r io.Reader, w io.Writer, done chan struct{}) {
	defer close(done)
	io.Copy(w, r)
}

// waitForPipesOrLeak gives pipe readers DefaultLeakWindow to report EOF
// after the child has exited. Handles that are still open past the
// window are considered leaked: some inherited descriptor is being held
// open by a grandchild process.
func waitForPipesOrLeak(stdoutDone, stderrDone chan struct{}) bool {
	if stdoutDone == nil && stderrDone == nil {
		return false
	}
	var wg sync.WaitGroup
	remaining := []chan struct{}{}
	for _, ch := range []chan struct{}{stdoutDone, stderrDone} {
		if ch != nil {
			remaining = append(remaining, ch)
		}
	}
	allDone := make(chan struct{})
	wg.Add(len(remaining))
	for _, ch := range remaining {
		ch := ch
		go func() {
			defer wg.Done()
			<-ch
		}()
	}
	go func() {
		wg.Wait()
		close(allDone)
	}()

	timer := time.NewTimer(DefaultLeakWindow)
	defer timer.Stop()
	select {
	case <-allDone:
		return false
	case <-timer.C:
		return true
	}
}
