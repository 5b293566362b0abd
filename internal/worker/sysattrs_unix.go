//go:build !windows

package worker

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the worker in its own process group so Kill can
// signal the whole tree; node workers spawn helper processes for native
// addons that must not outlive them.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
