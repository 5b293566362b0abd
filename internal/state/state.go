package state

import (
	"sync"

	"github.com/loykin/engramd/internal/worker"
)

// Status is the worker lifecycle state. The set is closed; "failed" exists
// only as a notification value, never as a stored status.
type Status string

const (
	Stopped  Status = "stopped"
	Starting Status = "starting"
	Running  Status = "running"
	Crashed  Status = "crashed"
)

// MaxRestartAttempts caps automatic restarts between healthy runs. Once the
// counter reaches this value the worker stays Crashed until a manual start.
const MaxRestartAttempts = 3

// State is the shared supervisor record: status, process handle, restart
// counter, and the worker port. One mutex guards every field and is never
// held across process or network I/O; each method is a single critical
// section.
type State struct {
	mu            sync.Mutex
	status        Status
	handle        *worker.Handle
	restarts      int
	port          int
	stopRequested bool
}

// Snapshot is a consistent copy of the observable fields.
type Snapshot struct {
	Status   Status
	PID      int
	Restarts int
	Port     int
}

func New(port int) *State {
	return &State{status: Stopped, port: port}
}

// Status returns the current lifecycle status.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Port returns the worker's configured HTTP port. The supervisor never
// mutates it.
func (s *State) Port() int {
	return s.port
}

// Restarts returns the automatic restart count.
func (s *State) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Snapshot returns a consistent view of all fields.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Status: s.status, Restarts: s.restarts, Port: s.port}
	if s.handle != nil {
		snap.PID = s.handle.PID()
	}
	return snap
}

// BeginStart transitions to Starting unless a start is already underway.
// The check and the transition happen in one critical section so concurrent
// callers cannot both proceed to spawn.
func (s *State) BeginStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == Running || s.status == Starting {
		return false
	}
	s.status = Starting
	s.stopRequested = false
	return true
}

// SetHandle stores the spawned handle. It refuses the handle when the start
// was superseded by a stop in the spawn window; the caller then owns killing
// the fresh process.
func (s *State) SetHandle(h *worker.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != Starting {
		return false
	}
	s.handle = h
	return true
}

// AdoptRunning records that a listener on the worker port was adopted in
// place of spawning. An adopted worker has no handle.
func (s *State) AdoptRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = Running
	s.restarts = 0
}

// ConfirmRunning promotes Starting to Running once the startup grace period
// has passed. healthy additionally clears the restart counter. Returns false
// when the start was superseded (crash or stop observed meanwhile) and no
// transition happened.
func (s *State) ConfirmRunning(healthy bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != Starting {
		return false
	}
	s.status = Running
	if healthy {
		s.restarts = 0
	}
	return true
}

// BeginStop atomically records a manual stop: the coming exit is marked
// expected, the handle is taken, and status and restart counter reset. The
// returned handle, if any, must be killed by the caller outside this lock.
func (s *State) BeginStop() *worker.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopRequested = true
	h := s.handle
	s.handle = nil
	s.status = Stopped
	s.restarts = 0
	return h
}

// MarkExited records an exit observed on the given instance's output stream.
// It transitions to Crashed and returns true only when that instance is still
// the current one and no stop requested the exit. A stale instance's exit and
// a manually stopped worker change nothing, so the restart policy does not
// run for them.
func (s *State) MarkExited(h *worker.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopRequested || h == nil || s.handle != h {
		return false
	}
	s.status = Crashed
	s.handle = nil
	return true
}

// MarkCrashed records a start attempt that failed before any process
// existed, such as a resolution failure.
func (s *State) MarkCrashed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = Crashed
	s.handle = nil
}

// MarkUnhealthy classifies a failed periodic probe as a crash. Only a
// Running worker is demoted. The handle, if any, is detached and returned;
// the detached process's eventual exit reads as stale in MarkExited.
func (s *State) MarkUnhealthy() (*worker.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != Running {
		return nil, false
	}
	s.status = Crashed
	h := s.handle
	s.handle = nil
	return h, true
}

// NextRestartAttempt increments the restart counter when budget remains and
// returns the attempt number. ok=false means the budget is exhausted and no
// automatic restart may be scheduled.
func (s *State) NextRestartAttempt() (attempt int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.restarts >= MaxRestartAttempts {
		return s.restarts, false
	}
	s.restarts++
	return s.restarts, true
}

// HasHandle reports whether a live process handle is stored.
func (s *State) HasHandle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}
