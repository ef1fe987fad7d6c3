package execunit_test

import (
	"context"
	"testing"
	"time"

	"github.com/paddock-dev/paddock/internal/execunit"
	"github.com/paddock-dev/paddock/internal/outputbuf"
)

func TestExecute_Pass(t *testing.T) {
	req := execunit.Request{
		Program:     "/bin/sh",
		Args:        []string{"-c", "echo hello; echo world 1>&2"},
		CaptureMode: outputbuf.Split,
	}
	status := execunit.Execute(context.Background(), req, nil, nil)
	if status.Result != execunit.Pass {
		t.Fatalf("Result = %v, want Pass", status.Result)
	}
	if got := string(status.Output.Stdout.Bytes()); got != "hello\n" {
		t.Errorf("stdout = %q, want %q", got, "hello\n")
	}
	if got := string(status.Output.Stderr.Bytes()); got != "world\n" {
		t.Errorf("stderr = %q, want %q", got, "world\n")
	}
}

func TestExecute_Fail(t *testing.T) {
	req := execunit.Request{
		Program:     "/bin/sh",
		Args:        []string{"-c", "exit 3"},
		CaptureMode: outputbuf.Split,
	}
	status := execunit.Execute(context.Background(), req, nil, nil)
	if status.Result != execunit.Fail {
		t.Fatalf("Result = %v, want Fail", status.Result)
	}
}

func TestExecute_ExecFail(t *testing.T) {
	req := execunit.Request{
		Program:     "/nonexistent/binary/paddock-test",
		CaptureMode: outputbuf.Split,
	}
	status := execunit.Execute(context.Background(), req, nil, nil)
	if status.Result != execunit.ExecFail {
		t.Fatalf("Result = %v, want ExecFail", status.Result)
	}
	if status.ExecFailReason == "" {
		t.Errorf("ExecFailReason is empty")
	}
}

func TestExecute_Timeout(t *testing.T) {
	req := execunit.Request{
		Program:               "/bin/sh",
		Args:                  []string{"-c", "sleep 5"},
		CaptureMode:           outputbuf.Split,
		SlowAfter:             30 * time.Millisecond,
		TerminateAfterPeriods: 2,
		GracePeriod:           20 * time.Millisecond,
	}
	start := time.Now()
	status := execunit.Execute(context.Background(), req, nil, nil)
	if status.Result != execunit.Timeout {
		t.Fatalf("Result = %v, want Timeout", status.Result)
	}
	if !status.IsSlow {
		t.Errorf("IsSlow = false, want true")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("took %v, expected termination well under 2s", elapsed)
	}
}

func TestExecute_SlowEventsPrecedeTimeout(t *testing.T) {
	req := execunit.Request{
		Program:               "/bin/sh",
		Args:                  []string{"-c", "sleep 5"},
		CaptureMode:           outputbuf.Split,
		SlowAfter:             30 * time.Millisecond,
		TerminateAfterPeriods: 2,
		GracePeriod:           20 * time.Millisecond,
	}
	var elapsed []time.Duration
	status := execunit.Execute(context.Background(), req, nil, func(e time.Duration) {
		elapsed = append(elapsed, e)
	})
	if status.Result != execunit.Timeout {
		t.Fatalf("Result = %v, want Timeout", status.Result)
	}
	if len(elapsed) != 2 {
		t.Fatalf("onSlow called %d times, want 2 (one per slow period)", len(elapsed))
	}
	if elapsed[0] >= elapsed[1] {
		t.Errorf("elapsed not increasing across slow fires: %v then %v", elapsed[0], elapsed[1])
	}
}

func TestExecute_PauseSuspendsTimeout(t *testing.T) {
	ctrl := make(chan execunit.Control, 4)
	req := execunit.Request{
		Program:               "/bin/sh",
		Args:                  []string{"-c", "sleep 2"},
		CaptureMode:           outputbuf.Split,
		SlowAfter:             40 * time.Millisecond,
		TerminateAfterPeriods: 1,
		GracePeriod:           20 * time.Millisecond,
	}
	done := make(chan execunit.Status, 1)
	go func() { done <- execunit.Execute(context.Background(), req, ctrl, nil) }()

	// Stop well before the slow threshold would fire, hold it paused for
	// longer than SlowAfter, then Continue: the slow/terminate timer must
	// not have advanced while paused, so the child should still get the
	// chance to run past where an unpaused run would already be Timeout.
	time.Sleep(10 * time.Millisecond)
	ctrl <- execunit.Control{Kind: execunit.SignalStop}
	time.Sleep(100 * time.Millisecond)
	ctrl <- execunit.Control{Kind: execunit.SignalContinue}
	time.Sleep(20 * time.Millisecond)
	ctrl <- execunit.Control{Kind: execunit.Shutdown, Reason: "test cleanup"}

	select {
	case status := <-done:
		if status.Result == execunit.Timeout {
			t.Errorf("Result = Timeout, want the pause to have suspended the terminate timer")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after Shutdown")
	}
}

func TestExecute_ShutdownViaContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	req := execunit.Request{
		Program:     "/bin/sh",
		Args:        []string{"-c", "sleep 5"},
		CaptureMode: outputbuf.Split,
		GracePeriod: 20 * time.Millisecond,
	}
	done := make(chan execunit.Status, 1)
	go func() { done <- execunit.Execute(ctx, req, nil, nil) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case status := <-done:
		if status.Result != execunit.Fail {
			t.Errorf("Result = %v, want Fail (terminated by cancellation)", status.Result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after context cancellation")
	}
}

func TestExecute_OutputCapExceededDoesNotKillChild(t *testing.T) {
	req := execunit.Request{
		Program:     "/bin/sh",
		Args:        []string{"-c", "for i in $(seq 1 200); do echo line$i; done"},
		CaptureMode: outputbuf.Split,
		MaxOutput:   10,
	}
	status := execunit.Execute(context.Background(), req, nil, nil)
	if status.Result != execunit.Pass {
		t.Fatalf("Result = %v, want Pass (cap must not kill the child)", status.Result)
	}
	if len(status.Output.Stdout.Bytes()) != 10 {
		t.Errorf("len(stdout) = %d, want 10", len(status.Output.Stdout.Bytes()))
	}
	if status.Output.Stdout.TruncatedAt() == nil {
		t.Errorf("expected TruncatedAt to be set")
	}
}
