package worker

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/engramd/internal/locate"
)

// EventType tags entries on a worker's output stream.
type EventType int

const (
	EventStdout EventType = iota
	EventStderr
	EventTerminated
	EventSpawnFailed
)

// Event is one entry on the stream returned by Spawn. Line is set for output
// events; ExitCode and Signal describe a Terminated event; Err carries the
// launch error of a SpawnFailed event. Exactly one terminal event
// (Terminated or SpawnFailed) is delivered, after which the stream closes.
type Event struct {
	Type     EventType
	Line     string
	ExitCode int
	Signal   string
	Err      error
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventTerminated || e.Type == EventSpawnFailed
}

const (
	// eventBuffer absorbs short consumer stalls; a permanently stalled
	// consumer will backpressure the worker's output.
	eventBuffer = 64

	// termGrace is how long Kill waits after SIGTERM before escalating.
	termGrace = 2 * time.Second
	// reapGrace is how long Kill waits for the exit to be observed after
	// SIGKILL.
	reapGrace = 200 * time.Millisecond

	maxLineSize = 1024 * 1024
)

// Handle is one spawned worker process. A Handle is immutable after Spawn
// returns; the sole Wait call happens on the stream goroutine, which closes
// waitDone when the process has been reaped.
type Handle struct {
	cmd      *exec.Cmd
	pid      int
	waitDone chan struct{}
}

// PID returns the OS process id, 0 when the spawn failed.
func (h *Handle) PID() int { return h.pid }

// WaitDone is closed once the process exit has been observed.
func (h *Handle) WaitDone() <-chan struct{} { return h.waitDone }

// Spawn launches the worker described by spec and returns its handle plus
// the output stream. Launch errors are not returned inline: a failed launch
// yields a single SpawnFailed event so the caller's monitor handles both
// failure modes in one place. Worker output is teed to outW/errW when
// non-nil; both are closed after the process exits.
func Spawn(spec locate.CommandSpec, outW, errW io.WriteCloser) (*Handle, <-chan Event) {
	events := make(chan Event, eventBuffer)
	h := &Handle{waitDone: make(chan struct{})}

	// #nosec G204 -- the command comes from the locator, not user input
	cmd := exec.Command(spec.Path, spec.Args...)
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	configureSysProcAttr(cmd)

	fail := func(err error) (*Handle, <-chan Event) {
		closeWriters(outW, errW)
		close(h.waitDone)
		events <- Event{Type: EventSpawnFailed, Err: err}
		close(events)
		return h, events
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fail(err)
	}
	if err := cmd.Start(); err != nil {
		return fail(err)
	}
	h.cmd = cmd
	h.pid = cmd.Process.Pid

	var pumps sync.WaitGroup
	pumps.Add(2)
	go pump(stdout, EventStdout, outW, events, &pumps)
	go pump(stderr, EventStderr, errW, events, &pumps)
	go func() {
		// Pipes must be drained before Wait reclaims them.
		pumps.Wait()
		err := cmd.Wait()
		close(h.waitDone)
		closeWriters(outW, errW)
		events <- terminatedEvent(cmd, err)
		close(events)
	}()
	return h, events
}

// pump scans one output pipe line by line, teeing to w when set.
func pump(r io.Reader, t EventType, w io.Writer, events chan<- Event, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := sc.Text()
		if w != nil {
			_, _ = io.WriteString(w, line+"\n")
		}
		events <- Event{Type: t, Line: line}
	}
}

func terminatedEvent(cmd *exec.Cmd, waitErr error) Event {
	ev := Event{Type: EventTerminated}
	if ps := cmd.ProcessState; ps != nil {
		ev.ExitCode = ps.ExitCode()
		ev.Signal = exitSignal(ps)
	} else {
		ev.ExitCode = -1
		ev.Err = waitErr
	}
	return ev
}

func closeWriters(ws ...io.WriteCloser) {
	for _, w := range ws {
		if w != nil {
			_ = w.Close()
		}
	}
}
