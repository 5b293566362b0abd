//go:build windows

package worker

import (
	"os/exec"
	"syscall"
)

// Windows creation flags
const createNewProcessGroup = 0x00000200

// configureSysProcAttr creates a new process group for the worker so console
// signals do not propagate from the daemon.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}
