package worker

import (
	"os"
	"os/exec"
	"syscall"
)

func sendSignal(pid int, _ syscall.Signal) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	return process.Kill()
}

func initCmd(cmd *exec.Cmd) {
	// No-op on Windows.
}
