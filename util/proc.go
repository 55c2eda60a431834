package util

import (
	"os/exec"
	"strconv"
	"strings"
)

// IsProcessAlive reports whether pid names a running process. Zombies,
// which have exited but were not reaped yet, are not alive.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	out, err := exec.Command("ps", "-o", "stat=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		// ps exits non-zero if the process is not found
		return false
	}

	stat := strings.TrimSpace(string(out))

	return stat != "" && !strings.HasPrefix(stat, "Z")
}
