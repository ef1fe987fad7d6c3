//go:build windows

package execunit

import (
	"os/exec"
	"syscall"
)

// configureProcGroup requests a new process group via
// CREATE_NEW_PROCESS_GROUP so CTRL_BREAK can be targeted at the child
// without affecting the parent console. DoubleSpawn has no meaning on
// Windows; the flag is accepted but ignored (see spec §4.2: "When
// disabled (or on Windows), spawn directly").
func configureProcGroup(cmd *exec.Cmd, doubleSpawn bool) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= syscall.CREATE_NEW_PROCESS_GROUP
}

// sendGraceful sends CTRL_BREAK to the child's process group. Windows
// has no SIGTERM; CTRL_BREAK is the closest analog requested by the
// spec for this platform.
func sendGraceful(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.GenerateConsoleCtrlEvent(syscall.CTRL_BREAK_EVENT, uint32(cmd.Process.Pid))
}

// sendForceful terminates the job: Go's default process.Kill maps to
// TerminateProcess, which is the Windows equivalent of the job-object
// termination the spec calls for when the graceful request is ignored.
func sendForceful(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// sendStop and sendContinue are no-ops on Windows: there is no SIGTSTP
// or SIGCONT analog (spec §4.2 step 4: "do nothing (Windows)").
func sendStop(cmd *exec.Cmd) error     { return nil }
func sendContinue(cmd *exec.Cmd) error { return nil }

func abortSignalName(ws syscall.WaitStatus) (string, bool) {
	return "", false
}
