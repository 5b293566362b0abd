package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/engramd/internal/history"
	"github.com/loykin/engramd/internal/locate"
	"github.com/loykin/engramd/internal/logger"
	"github.com/loykin/engramd/internal/metrics"
	"github.com/loykin/engramd/internal/probe"
	"github.com/loykin/engramd/internal/state"
	"github.com/loykin/engramd/internal/worker"
)

const (
	// graceDelay is how long a fresh worker may boot before the first probe.
	graceDelay = 5 * time.Second
	// healthDelay postpones the periodic health loop after startup.
	healthDelay = 10 * time.Second
	// healthInterval is the cadence of the periodic health loop.
	healthInterval = 30 * time.Second
	// restartPause separates the stop and start halves of a restart.
	restartPause = time.Second

	noticeBuffer = 16
	sinkTimeout  = 5 * time.Second
	drainTimeout = 5 * time.Second

	workerLogName = "engram"
)

type noticeKind int

const (
	noticeStatus noticeKind = iota
	noticeRestartNeeded
)

// notice is one message on the supervisor's internal channel: either a
// lifecycle event to journal and fan out, or a request to attempt a restart.
type notice struct {
	kind noticeKind
	ev   history.Event
}

// Config carries everything a Supervisor needs. Zero values select defaults;
// only Port matters for reaching the worker.
type Config struct {
	// Port is the worker's HTTP port.
	Port int
	// Env locates the worker's bundle or script on disk.
	Env locate.Environment
	// DataDir is the worker's data directory. Empty means ~/.engram.
	DataDir string
	// Log configures the daemon logger and the worker output files.
	Log logger.Config
	// Logger overrides the slog handler built from Log, mainly for tests.
	Logger *slog.Logger
	// History receives lifecycle events in addition to the in-memory journal.
	History history.Sink
	// JournalSize caps the in-memory journal.
	JournalSize int
	// Resolve overrides worker command resolution, mainly for tests.
	Resolve func(locate.Environment, int) (locate.CommandSpec, error)
}

// Supervisor owns the one worker process: it starts and stops it, watches
// its output stream, probes its status endpoint, and applies the restart
// policy. All lifecycle notifications flow through a single bounded channel
// consumed by Run.
type Supervisor struct {
	cfg     Config
	log     *slog.Logger
	state   *state.State
	resolve func(locate.Environment, int) (locate.CommandSpec, error)

	notices chan notice
	ring    *history.Ring
	sink    history.Sink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started atomic.Bool

	mu         sync.Mutex
	lastStatus string
	observers  []func(history.Event)
}

func New(cfg Config) *Supervisor {
	if cfg.Port <= 0 {
		cfg.Port = 3838 // the worker's own default port
	}
	log := cfg.Logger
	if log == nil {
		log = cfg.Log.NewSlogger()
	}
	resolve := cfg.Resolve
	if resolve == nil {
		resolve = locate.Locate
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:        cfg,
		log:        log,
		state:      state.New(cfg.Port),
		resolve:    resolve,
		notices:    make(chan notice, noticeBuffer),
		ring:       history.NewRing(cfg.JournalSize),
		sink:       cfg.History,
		ctx:        ctx,
		cancel:     cancel,
		lastStatus: string(state.Stopped),
	}
}

// Run consumes the notice channel and drives the restart policy. It blocks
// until Shutdown and is intended to run in its own goroutine. The periodic
// health loop is started alongside it.
func (s *Supervisor) Run() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runHealthLoop()
	}()

	s.wg.Add(1)
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case n := <-s.notices:
			switch n.kind {
			case noticeRestartNeeded:
				s.handleRestartNeeded()
			case noticeStatus:
				s.record(n.ev)
			}
		}
	}
}

// Start brings the worker up. It is a no-op when a worker is already running
// or starting. When something else already listens on the worker port, that
// listener is adopted instead of spawning a second worker.
func (s *Supervisor) Start() error {
	if !s.state.BeginStart() {
		s.log.Debug("start ignored", "status", s.state.Status())
		return nil
	}

	if probe.Listening(s.state.Port(), probe.AdoptTimeout) {
		s.state.AdoptRunning()
		s.log.Info("adopted worker already listening", "port", s.state.Port())
		s.publish(history.EventRunning, 0, "adopted existing worker")
		return nil
	}

	spec, err := s.resolve(s.cfg.Env, s.state.Port())
	if err != nil {
		s.state.MarkCrashed()
		return fmt.Errorf("resolve worker command: %w", err)
	}

	outW, errW, err := s.cfg.Log.ProcessWriters(workerLogName)
	if err != nil {
		s.log.Warn("worker output files unavailable", "error", err)
	}

	h, events := worker.Spawn(spec, outW, errW)
	if !s.state.SetHandle(h) {
		// A stop superseded this start inside the spawn window.
		s.log.Info("start superseded by stop, killing fresh worker", "pid", h.PID())
		return h.Kill()
	}

	s.log.Info("worker starting", "pid", h.PID(), "path", spec.Path)
	s.publish(history.EventStarting, h.PID(), "")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runMonitor(h, events)
	}()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.confirmAfterGrace(h)
	}()
	return nil
}

// Stop terminates the worker and marks the exit expected so the monitor does
// not classify it as a crash. Stopping an already stopped worker is a no-op.
func (s *Supervisor) Stop() error {
	prior := s.state.Snapshot()
	h := s.state.BeginStop()

	var err error
	if h != nil {
		err = h.Kill()
	}
	if prior.Status != state.Stopped {
		s.log.Info("worker stopped", "pid", prior.PID)
		s.publish(history.EventStopped, prior.PID, "")
	}
	return err
}

// Restart stops the worker, waits briefly, and starts it again.
func (s *Supervisor) Restart() error {
	s.log.Info("restarting worker")
	if err := s.Stop(); err != nil {
		s.log.Warn("stop before restart failed", "error", err)
	}
	if !s.sleep(restartPause) {
		return s.ctx.Err()
	}
	return s.Start()
}

// Shutdown stops the worker, cancels all supervisor tasks, and closes the
// history sink. It returns the worker kill error, if any.
func (s *Supervisor) Shutdown() error {
	s.cancel()

	var err error
	if h := s.state.BeginStop(); h != nil {
		err = h.Kill()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		s.log.Warn("supervisor tasks did not drain in time")
	}

	if closer, ok := s.sink.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	return err
}

// runMonitor consumes one worker instance's output stream until it closes.
// Output lines were already teed to the worker log files at spawn; here they
// only surface at debug level.
func (s *Supervisor) runMonitor(h *worker.Handle, events <-chan worker.Event) {
	for ev := range events {
		switch ev.Type {
		case worker.EventStdout:
			s.log.Debug("worker output", "stream", "stdout", "line", ev.Line)
		case worker.EventStderr:
			s.log.Debug("worker output", "stream", "stderr", "line", ev.Line)
		case worker.EventSpawnFailed, worker.EventTerminated:
			s.handleExit(h, ev)
		}
	}
}

func (s *Supervisor) handleExit(h *worker.Handle, ev worker.Event) {
	detail := describeExit(ev)
	if !s.state.MarkExited(h) {
		s.log.Info("worker exit was expected", "pid", h.PID(), "detail", detail)
		return
	}
	s.log.Warn("worker exited unexpectedly", "pid", h.PID(), "detail", detail)
	s.publish(history.EventCrashed, h.PID(), detail)
	// A failed spawn retries without backoff; a runtime crash waits it out.
	s.scheduleRestart(ev.Type == worker.EventSpawnFailed)
}

// scheduleRestart consumes one restart attempt from the budget, waits out
// the backoff unless immediate, and asks the run loop to start the worker
// again. When the budget is exhausted the worker stays down until a manual
// start.
func (s *Supervisor) scheduleRestart(immediate bool) {
	attempt, ok := s.state.NextRestartAttempt()
	if !ok {
		s.log.Error("worker restart budget exhausted", "attempts", state.MaxRestartAttempts)
		s.publish(history.EventFailed, 0, "restart attempts exhausted")
		return
	}
	if !immediate {
		delay := backoffDelay(attempt)
		s.log.Warn("scheduling worker restart", "attempt", attempt, "delay", delay)
		if !s.sleep(delay) {
			return
		}
	} else {
		s.log.Warn("scheduling immediate worker restart", "attempt", attempt)
	}
	s.notify(notice{kind: noticeRestartNeeded})
}

// backoffDelay doubles per attempt: 2s, 4s, 8s.
func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

func (s *Supervisor) handleRestartNeeded() {
	if st := s.state.Status(); st != state.Crashed {
		s.log.Info("restart no longer needed", "status", st)
		return
	}
	metrics.IncRestart()
	if err := s.Start(); err != nil {
		s.log.Error("restart attempt failed", "error", err)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.scheduleRestart(false)
		}()
	}
}

// confirmAfterGrace promotes the worker to Running once the startup grace
// period has passed. The promotion is optimistic: a worker that does not
// answer the probe yet is still considered running, it just keeps its
// restart count.
func (s *Supervisor) confirmAfterGrace(h *worker.Handle) {
	if !s.sleep(graceDelay) {
		return
	}
	healthy := probe.Check(s.ctx, s.state.Port(), probe.PeriodicTimeout)
	if !s.state.ConfirmRunning(healthy) {
		return
	}
	detail := ""
	if !healthy {
		detail = "status probe not answering yet"
		s.log.Warn("worker not answering after grace period", "pid", h.PID())
	} else {
		s.log.Info("worker running", "pid", h.PID())
	}
	s.publish(history.EventRunning, h.PID(), detail)
}

// runHealthLoop probes a Running worker on a fixed cadence and classifies a
// failed probe as a crash, handing the worker to the restart path.
func (s *Supervisor) runHealthLoop() {
	if !s.sleep(healthDelay) {
		return
	}
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.healthTick()
		}
	}
}

// healthTick runs one iteration of the health loop.
func (s *Supervisor) healthTick() {
	if s.state.Status() != state.Running {
		return
	}
	started := time.Now()
	healthy := probe.Check(s.ctx, s.state.Port(), probe.PeriodicTimeout)
	metrics.ObserveProbeDuration(time.Since(started).Seconds())
	if healthy {
		return
	}
	h, ok := s.state.MarkUnhealthy()
	if !ok {
		return
	}
	pid := 0
	if h != nil {
		pid = h.PID()
	}
	s.log.Warn("worker failed health check", "pid", pid)
	s.publish(history.EventCrashed, pid, "health check failed")
	// The loop never kills and spends no restart budget: the restart path
	// finds no live handle and spawns fresh, and the detached process's
	// eventual exit reads as stale in MarkExited.
	s.notify(notice{kind: noticeRestartNeeded})
}

// record journals one lifecycle event and fans it out to the sink, metrics,
// and subscribers.
func (s *Supervisor) record(ev history.Event) {
	s.logEvent(ev)
	s.ring.Append(ev)
	if s.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := s.sink.Send(ctx, ev); err != nil {
			s.log.Warn("history sink rejected event", "error", err)
		}
		cancel()
	}
	s.applyMetrics(ev)
	for _, fn := range s.observerList() {
		fn(ev)
	}
}

func (s *Supervisor) logEvent(ev history.Event) {
	switch ev.Type {
	case history.EventCrashed:
		s.log.Warn("worker status changed", "status", ev.Type, "pid", ev.PID, "restarts", ev.Restarts, "detail", ev.Detail)
	case history.EventFailed:
		s.log.Error("worker status changed", "status", ev.Type, "detail", ev.Detail)
	default:
		s.log.Info("worker status changed", "status", ev.Type, "pid", ev.PID)
	}
}

func (s *Supervisor) applyMetrics(ev history.Event) {
	switch ev.Type {
	case history.EventStarting:
		metrics.IncStart()
	case history.EventCrashed:
		metrics.IncCrash()
	case history.EventStopped:
		metrics.IncStop()
	}
	if ev.Type == history.EventFailed {
		// "failed" is a notification, not a state.
		return
	}
	s.mu.Lock()
	prev := s.lastStatus
	s.lastStatus = string(ev.Type)
	s.mu.Unlock()
	metrics.RecordStateTransition(prev, string(ev.Type))
	for _, st := range []string{string(state.Stopped), string(state.Starting), string(state.Running), string(state.Crashed)} {
		metrics.SetCurrentState(st, st == string(ev.Type))
	}
}

func (s *Supervisor) publish(t history.EventType, pid int, detail string) {
	s.notify(notice{kind: noticeStatus, ev: history.Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		PID:        pid,
		Restarts:   s.state.Restarts(),
		Detail:     detail,
	}})
}

// notify never blocks: when the channel is full the notice is dropped and
// logged, keeping producers (monitor, health loop) deadlock free.
func (s *Supervisor) notify(n notice) {
	select {
	case s.notices <- n:
	default:
		s.log.Warn("supervisor notice dropped", "kind", n.kind, "status", n.ev.Type)
	}
}

func (s *Supervisor) observerList() []func(history.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]func(history.Event), len(s.observers))
	copy(out, s.observers)
	return out
}

// sleep waits d unless the supervisor shuts down first.
func (s *Supervisor) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func describeExit(ev worker.Event) string {
	switch {
	case ev.Type == worker.EventSpawnFailed:
		return fmt.Sprintf("spawn failed: %v", ev.Err)
	case ev.Signal != "":
		return "terminated by signal " + ev.Signal
	case ev.Err != nil:
		return fmt.Sprintf("wait failed: %v", ev.Err)
	default:
		return fmt.Sprintf("exit code %d", ev.ExitCode)
	}
}
