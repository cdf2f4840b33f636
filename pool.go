// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package scgid

import (
	"context"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// probe pacing, so a large pool doesn't burst its liveness checks
const (
	probeRate  = rate.Limit(16)
	probeBurst = 4
)

// Pool owns the set of worker processes and their lifecycle: spawn,
// retire, crash reaping and health monitoring. All membership and
// state transitions are serialized under the pool mutex; exit notices
// arrive as messages from per-worker wait goroutines rather than
// shared-memory signaling.
type Pool struct {
	cfg    Config
	stats  *Stats
	events *Events

	// start creates the transport for a new worker. Tests substitute
	// pipe-backed fakes here.
	start func() (workerTransport, error)

	mu           sync.Mutex
	workers      map[*Worker]struct{}
	spawning     int
	closed       bool
	backoffCur   time.Duration
	backoffUntil time.Time

	freeCh   chan struct{} // capacity 1 signal: a worker became Idle
	exitCh   chan *Worker
	doneChan chan struct{}
	wg       sync.WaitGroup
	probeLim *rate.Limiter
}

// NewPool returns a Pool for the given configuration. The stats and
// events sinks may be nil.
func NewPool(cfg Config, stats *Stats, events *Events) *Pool {
	if stats == nil {
		stats = &Stats{}
	}
	if events == nil {
		events = NewEvents()
	}
	p := &Pool{
		cfg:      cfg,
		stats:    stats,
		events:   events,
		workers:  make(map[*Worker]struct{}),
		freeCh:   make(chan struct{}, 1),
		exitCh:   make(chan *Worker),
		doneChan: make(chan struct{}),
		probeLim: rate.NewLimiter(probeRate, probeBurst),
	}
	p.start = func() (workerTransport, error) {
		return startWorkerProcess(p.cfg.WorkerCommand)
	}
	return p
}

// Start brings the pool up to its configured minimum size and starts
// the monitor goroutine.
func (p *Pool) Start() {
	p.mu.Lock()
	for i := 0; i < p.cfg.MinProcesses; i++ {
		p.spawnLocked()
	}
	p.mu.Unlock()
	p.wg.Add(1)
	go p.monitor()
}

// Len returns the pool size, Spawning and Draining workers included.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Counts returns the number of workers per state.
func (p *Pool) Counts() (spawning, idle, busy, draining int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for w := range p.workers {
		switch w.State() {
		case WorkerSpawning:
			spawning++
		case WorkerIdle:
			idle++
		case WorkerBusy:
			busy++
		case WorkerDraining:
			draining++
		}
	}
	return
}

// signalFree tells the dispatcher a worker may be available.
func (p *Pool) signalFree() {
	select {
	case p.freeCh <- struct{}{}:
	default:
	}
}

// freed returns the channel signaled when a worker becomes Idle.
func (p *Pool) freed() <-chan struct{} { return p.freeCh }

// done returns the channel closed when the pool shuts down.
func (p *Pool) done() <-chan struct{} { return p.doneChan }

// Acquire picks the Idle worker with the least recently used activity
// timestamp and marks it Busy. Ties break on lowest pid so the choice
// is stable. It returns nil when no worker is Idle.
func (p *Pool) Acquire() *Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	var best *Worker
	for w := range p.workers {
		if w.State() != WorkerIdle {
			continue
		}
		if best == nil ||
			w.lastActivity.Before(best.lastActivity) ||
			(w.lastActivity.Equal(best.lastActivity) && w.pid < best.pid) {
			best = w
		}
	}
	if best != nil {
		best.setState(WorkerBusy)
	}
	return best
}

// RequestSpawn starts one spawn if no spawn is already pending and
// the pool is below its maximum. During spawn backoff nothing is
// started; the returned duration tells the caller how long to wait
// before asking again, zero when there is nothing to wait for.
func (p *Pool) RequestSpawn() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.spawning > 0 || p.closed || len(p.workers) >= p.cfg.MaxProcesses {
		return 0
	}
	if wait := time.Until(p.backoffUntil); wait > 0 {
		return wait
	}
	p.spawnLocked()
	return 0
}

// spawnLocked reserves a slot and starts the worker asynchronously.
// The Spawning worker counts toward MaxProcesses from this moment so
// concurrent demand cannot overshoot the limit.
func (p *Pool) spawnLocked() bool {
	if p.closed || len(p.workers) >= p.cfg.MaxProcesses {
		return false
	}
	if time.Now().Before(p.backoffUntil) {
		return false
	}
	w := &Worker{pid: -1, started: time.Now()}
	w.setState(WorkerSpawning)
	p.workers[w] = struct{}{}
	p.spawning++
	p.wg.Add(1)
	go p.runSpawn(w)
	return true
}

// armBackoffLocked doubles the spawn backoff up to its cap.
func (p *Pool) armBackoffLocked() {
	if p.backoffCur == 0 {
		p.backoffCur = p.cfg.SpawnBackoffInitial
	} else {
		p.backoffCur *= 2
		if p.backoffCur > p.cfg.SpawnBackoffMax {
			p.backoffCur = p.cfg.SpawnBackoffMax
		}
	}
	p.backoffUntil = time.Now().Add(p.backoffCur)
}

func (p *Pool) runSpawn(w *Worker) {
	defer p.wg.Done()
	p.stats.addSpawn()
	tr, err := p.start()
	if err == nil {
		p.mu.Lock()
		w.attach(tr)
		p.mu.Unlock()
		p.events.Publish(Event{Type: EventSpawned, Pid: w.pid})
		err = w.awaitReady(p.cfg.SpawnTimeout)
	}
	p.mu.Lock()
	p.spawning--
	if err != nil || p.closed {
		delete(p.workers, w)
		if err != nil {
			p.armBackoffLocked()
		}
		closed := p.closed
		p.mu.Unlock()
		if tr != nil {
			tr.Kill()
			tr.Wait()
		}
		if err != nil {
			p.stats.addSpawnFailure()
			spawnErr := errors.WithStack(SpawnError{Err: err})
			if !closed {
				log.Printf("scgid: %v", spawnErr)
			}
			p.events.Publish(Event{Type: EventSpawnFailed, Pid: w.pid, Detail: err.Error()})
			// wake the dispatcher so waiting demand learns the backoff
			// and arms its retry timer
			p.signalFree()
		}
		return
	}
	now := time.Now()
	w.setState(WorkerIdle)
	w.lastActivity = now
	w.lastProbe = now
	p.backoffCur = 0
	p.backoffUntil = time.Time{}
	p.mu.Unlock()
	p.events.Publish(Event{Type: EventReady, Pid: w.pid})
	p.wg.Add(1)
	go p.runWait(w)
	p.signalFree()
}

// runWait blocks until the worker process exits and delivers the
// exit notice to the monitor.
func (p *Pool) runWait(w *Worker) {
	defer p.wg.Done()
	w.tr.Wait()
	select {
	case p.exitCh <- w:
	case <-p.doneChan:
	}
}

// Finish returns a Busy worker after an exchange. A nil err releases
// it back to Idle. A RequestTimeout retires it, since its channel
// state after an abandoned exchange is unknown. Anything else is
// treated as a crash: the worker leaves the pool and a replacement is
// spawned if the pool fell below its minimum.
func (p *Pool) Finish(w *Worker, err error) {
	p.mu.Lock()
	if _, present := p.workers[w]; !present {
		p.mu.Unlock()
		return
	}
	if err == nil {
		if w.probing {
			w.probing = false
		} else {
			w.lastActivity = time.Now()
			w.served++
		}
		// a deadline kill may have raced the exchange finishing; a
		// Draining worker stays Draining until its exit is reaped
		idle := w.State() != WorkerDraining
		if idle {
			w.setState(WorkerIdle)
		}
		p.mu.Unlock()
		if idle {
			p.signalFree()
		}
		return
	}
	switch cause := errors.Cause(err).(type) {
	case RequestTimeout:
		retire := w.State() != WorkerDraining
		if retire {
			w.setState(WorkerDraining)
		}
		p.mu.Unlock()
		w.tr.Kill()
		if retire {
			p.stats.addRetirement()
		}
	case HealthCheckFailure:
		delete(p.workers, w)
		w.setState(WorkerCrashed)
		p.replaceLocked()
		p.mu.Unlock()
		w.tr.Kill()
		p.stats.addHealthFailure()
		p.events.Publish(Event{Type: EventHealthFailed, Pid: cause.Pid})
	default:
		delete(p.workers, w)
		w.setState(WorkerCrashed)
		p.replaceLocked()
		p.mu.Unlock()
		w.tr.Kill()
		p.stats.addCrash()
		p.events.Publish(Event{Type: EventCrashed, Pid: w.pid, Detail: err.Error()})
	}
}

// Doom retires a Busy worker whose exchange missed its deadline and
// kills its process. Marking it Draining before the kill keeps exit
// handling from counting the kill as a crash.
func (p *Pool) Doom(w *Worker) {
	p.mu.Lock()
	_, present := p.workers[w]
	if present && w.State() == WorkerBusy {
		w.setState(WorkerDraining)
		p.mu.Unlock()
		p.stats.addRetirement()
		w.tr.Kill()
		return
	}
	p.mu.Unlock()
}

// replaceLocked spawns a replacement if the pool fell below its
// minimum size.
func (p *Pool) replaceLocked() {
	if !p.closed && len(p.workers) < p.cfg.MinProcesses {
		p.spawnLocked()
	}
}

// monitor serializes exit handling and periodic pool maintenance.
func (p *Pool) monitor() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.janitorInterval())
	defer ticker.Stop()
	for {
		select {
		case w := <-p.exitCh:
			p.handleExit(w)
		case <-ticker.C:
			p.janitor(time.Now())
		case <-p.doneChan:
			return
		}
	}
}

func (p *Pool) janitorInterval() time.Duration {
	iv := p.cfg.IdleTimeout
	if p.cfg.HealthInterval < iv {
		iv = p.cfg.HealthInterval
	}
	iv /= 4
	if iv < time.Millisecond*5 {
		iv = time.Millisecond * 5
	}
	if iv > time.Second {
		iv = time.Second
	}
	return iv
}

// handleExit reaps a worker whose process has exited.
func (p *Pool) handleExit(w *Worker) {
	p.mu.Lock()
	if _, present := p.workers[w]; !present {
		p.mu.Unlock()
		return
	}
	delete(p.workers, w)
	state := w.State()
	probing := w.probing
	if w.killTimer != nil {
		w.killTimer.Stop()
		w.killTimer = nil
	}
	p.replaceLocked()
	p.mu.Unlock()
	switch {
	case state == WorkerDraining:
		p.events.Publish(Event{Type: EventRetired, Pid: w.pid})
	case probing:
		// killed by its probe timer; the probe goroutine would report
		// this too, so whichever notice lands first does the accounting
		w.setState(WorkerCrashed)
		p.stats.addHealthFailure()
		p.events.Publish(Event{Type: EventHealthFailed, Pid: w.pid})
	default:
		// unexpected exit; a Busy worker's proxy notices separately
		// through its own read error and fails the request
		w.setState(WorkerCrashed)
		p.stats.addCrash()
		p.events.Publish(Event{Type: EventCrashed, Pid: w.pid, Detail: "unexpected exit"})
	}
}

// janitor retires over-idle workers and launches liveness probes.
func (p *Pool) janitor(now time.Time) {
	p.mu.Lock()
	// top up to the minimum; failed spawns retry here once their
	// backoff expires
	for len(p.workers) < p.cfg.MinProcesses {
		if !p.spawnLocked() {
			break
		}
	}
	var idle []*Worker
	active := 0
	for w := range p.workers {
		if w.State() != WorkerDraining {
			active++
		}
		if w.State() == WorkerIdle {
			idle = append(idle, w)
		}
	}
	// most idle first, pid tie-break
	sort.Slice(idle, func(i, j int) bool {
		if !idle[i].lastActivity.Equal(idle[j].lastActivity) {
			return idle[i].lastActivity.Before(idle[j].lastActivity)
		}
		return idle[i].pid < idle[j].pid
	})
	var probes []*Worker
	for _, w := range idle {
		if now.Sub(w.lastActivity) > p.cfg.IdleTimeout && active > p.cfg.MinProcesses {
			active--
			p.retireLocked(w)
			continue
		}
		if now.Sub(w.lastProbe) >= p.cfg.HealthInterval && p.probeLim.Allow() {
			w.lastProbe = now
			w.probing = true
			w.setState(WorkerBusy)
			probes = append(probes, w)
		}
	}
	p.mu.Unlock()
	for _, w := range probes {
		p.wg.Add(1)
		go p.runProbe(w)
	}
}

// retireLocked drains one worker: close its request channel as the
// exit signal and arm a kill timer in case it ignores it. Removal
// from the pool happens when its exit is confirmed.
func (p *Pool) retireLocked(w *Worker) {
	w.setState(WorkerDraining)
	w.tr.CloseWrite()
	tr := w.tr
	w.killTimer = time.AfterFunc(p.cfg.DrainTimeout, func() { tr.Kill() })
	p.stats.addRetirement()
}

// runProbe sends one liveness probe frame and waits for a response
// frame, discarding its payload. Probes do not touch lastActivity so
// they never skew load balancing.
func (p *Pool) runProbe(w *Worker) {
	defer p.wg.Done()
	err := p.probe(w)
	if err != nil {
		err = errors.WithStack(HealthCheckFailure{Pid: w.pid})
	}
	p.Finish(w, err)
}

func (p *Pool) probe(w *Worker) error {
	timer := time.AfterFunc(p.cfg.HealthTimeout, func() { w.tr.Kill() })
	defer timer.Stop()
	fd := bufAlloc()
	fd = AppendFrame(fd, Header{{Name: HeaderPing, Value: "1"}}, nil)
	_, err := w.tr.Write(fd)
	bufFree(fd)
	if err == nil {
		nr := NewNetstringReader(w.br)
		_, err = io.Copy(io.Discard, nr)
	}
	if err != nil {
		err = errors.WithStack(err)
	}
	return err
}

// Shutdown waits for Busy workers to finish their exchanges, then
// closes the pool. It returns early with the context error if ctx
// expires first.
func (p *Pool) Shutdown(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond * 10)
	defer ticker.Stop()
	for {
		if _, _, busy, _ := p.Counts(); busy == 0 {
			return p.Close()
		}
		select {
		case <-ctx.Done():
			p.Close()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close kills every worker and stops all pool goroutines.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.doneChan)
	workers := make([]*Worker, 0, len(p.workers))
	for w := range p.workers {
		workers = append(workers, w)
		delete(p.workers, w)
	}
	p.mu.Unlock()
	for _, w := range workers {
		if w.killTimer != nil {
			w.killTimer.Stop()
		}
		if w.tr != nil {
			w.tr.Kill()
		}
	}
	p.wg.Wait()
	return nil
}
