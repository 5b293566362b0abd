//go:build !windows

package worker

import (
	"os"
	"syscall"
)

// killGroup signals the worker's whole process group.
func killGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

// exitSignal reports the signal that terminated the process, if any.
func exitSignal(ps *os.ProcessState) string {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ws.Signal().String()
	}
	return ""
}
