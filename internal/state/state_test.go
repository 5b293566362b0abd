package state

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/loykin/engramd/internal/worker"
)

// Starting or Running must make later BeginStart calls no-ops until the
// lifecycle returns to Stopped or Crashed.
func TestBeginStart_Idempotent(t *testing.T) {
	s := New(3838)
	if !s.BeginStart() {
		t.Fatalf("first BeginStart must win")
	}
	if s.BeginStart() {
		t.Fatalf("BeginStart must refuse while Starting")
	}
	if !s.ConfirmRunning(true) {
		t.Fatalf("ConfirmRunning from Starting must succeed")
	}
	if s.BeginStart() {
		t.Fatalf("BeginStart must refuse while Running")
	}
	s.BeginStop()
	if !s.BeginStart() {
		t.Fatalf("BeginStart must win again after stop")
	}
}

// Concurrent starters race for one Starting transition; exactly one may win.
func TestBeginStart_Concurrent(t *testing.T) {
	s := New(3838)
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.BeginStart() {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

// The handle must be present exactly while status is Starting or Running,
// and cleared on stop and crash.
func TestHandlePresence(t *testing.T) {
	s := New(3838)
	if s.HasHandle() || s.Status() != Stopped {
		t.Fatalf("fresh state must be Stopped without handle")
	}

	s.BeginStart()
	if !s.SetHandle(&worker.Handle{}) {
		t.Fatalf("SetHandle must accept while Starting")
	}
	if !s.HasHandle() || s.Status() != Starting {
		t.Fatalf("expected Starting with handle")
	}

	s.ConfirmRunning(true)
	if !s.HasHandle() || s.Status() != Running {
		t.Fatalf("expected Running with handle")
	}

	if h := s.BeginStop(); h == nil {
		t.Fatalf("BeginStop must return the stored handle")
	}
	if s.HasHandle() || s.Status() != Stopped {
		t.Fatalf("expected Stopped without handle after stop")
	}

	// Crash path clears the handle as soon as the exit is observed
	s.BeginStart()
	h := &worker.Handle{}
	s.SetHandle(h)
	if !s.MarkExited(h) {
		t.Fatalf("MarkExited must classify an unexpected exit as crash")
	}
	if s.HasHandle() || s.Status() != Crashed {
		t.Fatalf("expected Crashed without handle")
	}
}

// A stop racing the spawn window must win: the late handle is refused.
func TestSetHandle_RefusedAfterStop(t *testing.T) {
	s := New(3838)
	s.BeginStart()
	s.BeginStop()
	if s.SetHandle(&worker.Handle{}) {
		t.Fatalf("SetHandle must refuse after stop superseded the start")
	}
	if s.HasHandle() {
		t.Fatalf("no handle may be stored after refusal")
	}
}

// ConfirmRunning promotes only a pending start; a healthy confirmation also
// clears the restart counter.
func TestConfirmRunning(t *testing.T) {
	s := New(3838)
	if s.ConfirmRunning(true) {
		t.Fatalf("ConfirmRunning must refuse while Stopped")
	}

	s.BeginStart()
	if _, ok := s.NextRestartAttempt(); !ok {
		t.Fatalf("restart budget unexpectedly exhausted")
	}
	if !s.ConfirmRunning(false) {
		t.Fatalf("unhealthy confirmation must still promote to Running")
	}
	if s.Restarts() != 1 {
		t.Fatalf("unhealthy confirmation must not reset the counter, got %d", s.Restarts())
	}

	s.MarkUnhealthy()
	s.BeginStart()
	if !s.ConfirmRunning(true) {
		t.Fatalf("healthy confirmation must promote to Running")
	}
	if s.Restarts() != 0 {
		t.Fatalf("healthy confirmation must reset the counter, got %d", s.Restarts())
	}
}

// An exit caused by a manual stop is expected and must not become a crash.
func TestMarkExited_AfterStop(t *testing.T) {
	s := New(3838)
	s.BeginStart()
	h := &worker.Handle{}
	s.SetHandle(h)
	s.BeginStop()
	if s.MarkExited(h) {
		t.Fatalf("exit after manual stop must not be classified as crash")
	}
	if s.Status() != Stopped {
		t.Fatalf("status must stay Stopped, got %s", s.Status())
	}
}

// An exit from a superseded instance must not crash the current one.
func TestMarkExited_StaleInstance(t *testing.T) {
	s := New(3838)
	s.BeginStart()
	old := &worker.Handle{}
	s.SetHandle(old)
	s.BeginStop()

	s.BeginStart()
	cur := &worker.Handle{}
	s.SetHandle(cur)

	if s.MarkExited(old) {
		t.Fatalf("stale instance exit must be ignored")
	}
	if s.Status() != Starting || !s.HasHandle() {
		t.Fatalf("current start must be unaffected, got %s", s.Status())
	}
	if !s.MarkExited(cur) {
		t.Fatalf("current instance exit must be recorded")
	}
}

// The restart budget allows exactly MaxRestartAttempts increments, and both
// a manual stop and a healthy run reset it.
func TestNextRestartAttempt_Budget(t *testing.T) {
	s := New(3838)
	for want := 1; want <= MaxRestartAttempts; want++ {
		attempt, ok := s.NextRestartAttempt()
		if !ok || attempt != want {
			t.Fatalf("attempt %d: got (%d,%t)", want, attempt, ok)
		}
	}
	if attempt, ok := s.NextRestartAttempt(); ok {
		t.Fatalf("budget must be exhausted after %d attempts, got attempt %d", MaxRestartAttempts, attempt)
	}
	if s.Restarts() != MaxRestartAttempts {
		t.Fatalf("counter must cap at %d, got %d", MaxRestartAttempts, s.Restarts())
	}

	s.BeginStop()
	if s.Restarts() != 0 {
		t.Fatalf("stop must reset the counter, got %d", s.Restarts())
	}

	s.NextRestartAttempt()
	s.AdoptRunning()
	if s.Restarts() != 0 || s.Status() != Running {
		t.Fatalf("adoption must reset counter and mark Running, got %d/%s", s.Restarts(), s.Status())
	}
}

// Only a Running worker can be demoted by the periodic health loop, and the
// demotion hands back the stored handle for teardown.
func TestMarkUnhealthy(t *testing.T) {
	s := New(3838)
	if _, ok := s.MarkUnhealthy(); ok {
		t.Fatalf("Stopped worker must not be demoted")
	}
	s.BeginStart()
	if _, ok := s.MarkUnhealthy(); ok {
		t.Fatalf("Starting worker must not be demoted")
	}
	h := &worker.Handle{}
	s.SetHandle(h)
	s.ConfirmRunning(true)
	got, ok := s.MarkUnhealthy()
	if !ok {
		t.Fatalf("Running worker must be demoted on probe failure")
	}
	if got != h {
		t.Fatalf("demotion must hand back the stored handle")
	}
	if s.Status() != Crashed || s.HasHandle() {
		t.Fatalf("expected Crashed without handle, got %s", s.Status())
	}
}

func TestSnapshot(t *testing.T) {
	s := New(4040)
	snap := s.Snapshot()
	if snap.Status != Stopped || snap.Port != 4040 || snap.PID != 0 || snap.Restarts != 0 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	s.BeginStart()
	s.NextRestartAttempt()
	snap = s.Snapshot()
	if snap.Status != Starting || snap.Restarts != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
