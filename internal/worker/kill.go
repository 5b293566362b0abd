package worker

import (
	"errors"
	"fmt"
	"syscall"
	"time"
)

// Kill terminates the worker's process group: TERM first, then KILL when the
// process has not exited within termGrace. A process that is already gone is
// not an error. Kill never blocks longer than termGrace+reapGrace.
func (h *Handle) Kill() error {
	if h.pid <= 0 {
		return nil
	}
	if err := killGroup(h.pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("terminate worker pid %d: %w", h.pid, err)
	}
	select {
	case <-h.waitDone:
		return nil
	case <-time.After(termGrace):
	}
	if err := killGroup(h.pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill worker pid %d: %w", h.pid, err)
	}
	select {
	case <-h.waitDone:
	case <-time.After(reapGrace):
	}
	return nil
}
