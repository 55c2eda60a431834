//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package worker

import (
	"os/exec"
	"syscall"
)

func sendSignal(pid int, signal syscall.Signal) error {
	if pgid, err := syscall.Getpgid(pid); err == nil {
		// Negative pid sends signal to all in process group
		return syscall.Kill(-pgid, signal)
	}

	return syscall.Kill(pid, signal)
}

func initCmd(cmd *exec.Cmd) {
	// run the pod in its own process group, so helpers it forks
	// are reclaimed together with it
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
