// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package scgid

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// WorkerState enumerates the lifecycle states of a worker process.
type WorkerState int32

const (
	// WorkerSpawning means the slot is reserved and the process is
	// starting but has not yet reported ready. Spawning workers count
	// toward the pool size limit.
	WorkerSpawning = WorkerState(0)
	// WorkerIdle means the worker is ready and holds no request.
	WorkerIdle = WorkerState(1)
	// WorkerBusy means the worker holds exactly one in-flight exchange.
	WorkerBusy = WorkerState(2)
	// WorkerDraining means the worker has been told to exit and holds
	// no request; it leaves the pool once its exit is confirmed.
	WorkerDraining = WorkerState(3)
	// WorkerCrashed means the worker exited unexpectedly.
	WorkerCrashed = WorkerState(4)
)

var workerStateTexts = map[WorkerState]string{
	WorkerSpawning: "SPAWNING",
	WorkerIdle:     "IDLE",
	WorkerBusy:     "BUSY",
	WorkerDraining: "DRAINING",
	WorkerCrashed:  "CRASHED",
}

func (ws WorkerState) String() string {
	if s, ok := workerStateTexts[ws]; ok {
		return s
	}
	return fmt.Sprintf("WorkerState(%d)", int32(ws))
}

// workerTransport is the byte channel to a worker process plus the
// process controls the pool needs. Production workers are
// subprocesses speaking frames over stdin/stdout; tests substitute
// pipe-backed fakes.
type workerTransport interface {
	io.Reader
	io.Writer
	// CloseWrite closes the worker-bound half of the channel, which is
	// the signal for a Draining worker to exit.
	CloseWrite() error
	// Kill forcibly terminates the worker process.
	Kill() error
	// Wait blocks until the worker process has exited. It must be
	// called exactly once.
	Wait() error
	// Pid returns the worker process id.
	Pid() int
}

// Worker is one pooled worker process. All fields below the transport
// are guarded by the owning pool's mutex except where noted.
type Worker struct {
	tr workerTransport
	br *bufio.Reader // buffered reads from tr

	pid          int
	state        int32 // WorkerState, atomic so String() stays race-free
	started      time.Time
	lastActivity time.Time // completed dispatches only, probes excluded
	lastProbe    time.Time
	served       int64
	probing      bool        // Busy due to a liveness probe, not a request
	killTimer    *time.Timer // armed while Draining
}

// attach connects a freshly started process to the reserved slot.
func (w *Worker) attach(tr workerTransport) {
	w.tr = tr
	w.br = bufio.NewReader(tr)
	w.pid = tr.Pid()
}

// State returns the worker's lifecycle state.
func (w *Worker) State() WorkerState {
	return WorkerState(atomic.LoadInt32(&w.state))
}

func (w *Worker) setState(ws WorkerState) {
	atomic.StoreInt32(&w.state, int32(ws))
}

// Pid returns the worker process id.
func (w *Worker) Pid() int { return w.pid }

func (w *Worker) String() string {
	return fmt.Sprintf("[Worker %d %s]", w.pid, w.State())
}

// awaitReady reads the single ready byte a worker must write once it
// has initialized. The read is bounded by killing the process when
// the timer fires, since pipes have no deadlines.
func (w *Worker) awaitReady(timeout time.Duration) error {
	timer := time.AfterFunc(timeout, func() { w.tr.Kill() })
	defer timer.Stop()
	c, err := w.br.ReadByte()
	if err != nil {
		if !timer.Stop() {
			return errors.WithStack(timeoutError{})
		}
		return errors.WithStack(err)
	}
	if c != ReadyByte {
		return errors.Errorf("worker %d sent %#02x instead of ready byte", w.pid, c)
	}
	return nil
}

// processTransport runs a worker as a subprocess with its stdin and
// stdout as the frame channel and its stderr relayed to the log.
type processTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// startWorkerProcess starts command and returns its transport.
func startWorkerProcess(command []string) (workerTransport, error) {
	cmd := exec.Command(command[0], command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	cmd.Stderr = &stderrRelay{name: command[0]}
	if err = cmd.Start(); err != nil {
		return nil, errors.WithStack(err)
	}
	return &processTransport{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func (pt *processTransport) Read(p []byte) (int, error)  { return pt.stdout.Read(p) }
func (pt *processTransport) Write(p []byte) (int, error) { return pt.stdin.Write(p) }
func (pt *processTransport) CloseWrite() error           { return pt.stdin.Close() }
func (pt *processTransport) Wait() error                 { return pt.cmd.Wait() }
func (pt *processTransport) Pid() int                    { return pt.cmd.Process.Pid }

func (pt *processTransport) Kill() error {
	if pt.cmd.Process != nil {
		return pt.cmd.Process.Kill()
	}
	return nil
}

// stderrRelay forwards a worker's stderr to the log line by line.
type stderrRelay struct {
	name string
	rest []byte
}

func (sr *stderrRelay) Write(p []byte) (int, error) {
	sr.rest = append(sr.rest, p...)
	for {
		idx := bytes.IndexByte(sr.rest, '\n')
		if idx < 0 {
			break
		}
		log.Printf("worker %s: %s", sr.name, sr.rest[:idx])
		sr.rest = sr.rest[idx+1:]
	}
	return len(p), nil
}
