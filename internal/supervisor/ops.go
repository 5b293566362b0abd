package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/loykin/engramd/internal/history"
	"github.com/loykin/engramd/internal/probe"
	"github.com/loykin/engramd/internal/state"
)

// exportLimit caps how many memories one export request pulls.
const exportLimit = 10000

// ErrWorkerNotRunning is returned by operations that need a live worker.
var ErrWorkerNotRunning = errors.New("worker is not running")

// memoryFiles are the worker database files removed by ResetData.
var memoryFiles = []string{"memory.db", "memory.db-wal", "memory.db-shm"}

// Status is the merged view returned to API clients: the supervisor's
// lifecycle fields plus whatever a running worker reports about itself.
type Status struct {
	Running  bool    `json:"running"`
	Status   string  `json:"status"`
	PID      int     `json:"pid,omitempty"`
	Port     int     `json:"port"`
	Restarts int     `json:"restarts"`
	Memories uint64  `json:"memory_count"`
	Uptime   *uint64 `json:"uptime,omitempty"`
	Version  string  `json:"version"`
}

// Status merges the lifecycle snapshot with a live worker report. The report
// is only consulted while the worker counts as running; an unanswered probe
// degrades to the snapshot instead of failing.
func (s *Supervisor) Status(ctx context.Context) Status {
	snap := s.state.Snapshot()
	st := Status{
		Running:  snap.Status == state.Running,
		Status:   string(snap.Status),
		PID:      snap.PID,
		Port:     snap.Port,
		Restarts: snap.Restarts,
		Version:  "unknown",
	}
	if !st.Running {
		return st
	}
	rep, ok := probe.Fetch(ctx, snap.Port, probe.InteractiveTimeout)
	if !ok {
		return st
	}
	if rep.Status != "" {
		st.Status = rep.Status
	}
	st.Memories = rep.Memories
	uptime := rep.Uptime
	st.Uptime = &uptime
	if rep.Version != "" {
		st.Version = rep.Version
	}
	return st
}

// CheckHealth probes the worker's status endpoint once.
func (s *Supervisor) CheckHealth(ctx context.Context) bool {
	return probe.Check(ctx, s.state.Port(), probe.InteractiveTimeout)
}

// Export pulls the worker's memories as raw JSON.
func (s *Supervisor) Export(ctx context.Context) ([]byte, error) {
	if s.state.Status() != state.Running {
		return nil, ErrWorkerNotRunning
	}
	return probe.FetchMemories(ctx, s.state.Port(), exportLimit)
}

// ResetData stops the worker, deletes its database files, and starts it
// again so it boots with a fresh store.
func (s *Supervisor) ResetData() error {
	dir, err := s.dataDir()
	if err != nil {
		return err
	}
	s.log.Info("resetting worker data", "dir", dir)

	if err := s.Stop(); err != nil {
		return fmt.Errorf("stop worker before reset: %w", err)
	}
	for _, name := range memoryFiles {
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	if !s.sleep(restartPause) {
		return s.ctx.Err()
	}
	return s.Start()
}

func (s *Supervisor) dataDir() (string, error) {
	if s.cfg.DataDir != "" {
		return s.cfg.DataDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve data dir: %w", err)
	}
	return filepath.Join(home, ".engram"), nil
}

// PID returns the supervised worker's process id, 0 when no process is
// attached (stopped, crashed, or adopted).
func (s *Supervisor) PID() int {
	return s.state.Snapshot().PID
}

// Journal returns up to n recent lifecycle events, oldest first.
func (s *Supervisor) Journal(n int) []history.Event {
	return s.ring.Recent(n)
}

// Subscribe registers fn for every journaled lifecycle event. Callbacks run
// on the supervisor's run loop and must not block.
func (s *Supervisor) Subscribe(fn func(history.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}
