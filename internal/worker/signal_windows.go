//go:build windows

package worker

import (
	"os"
	"syscall"
)

// killGroup terminates a Windows process by PID. Windows has no equivalent
// of Unix process-group signals, so only the group leader is terminated and
// the escalation signal is ignored.
func killGroup(pid int, _ syscall.Signal) error {
	if pid < 0 {
		pid = -pid
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		// Process is already gone; common during rapid termination.
		return nil
	}
	return p.Kill()
}

func exitSignal(_ *os.ProcessState) string { return "" }
