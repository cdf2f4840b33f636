// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package scgid

import (
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// dispatcher is the load balancer: a single goroutine that drains the
// admission queue in FIFO order and assigns each request to a worker.
// Serializing all assign and spawn decisions here is what prevents
// two dispatches from racing onto the same Idle worker.
type dispatcher struct {
	adm    *Admission
	pool   *Pool
	stats  *Stats
	netLog bool

	doneChan  chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup // in-flight exchanges
}

func newDispatcher(adm *Admission, pool *Pool, stats *Stats) *dispatcher {
	return &dispatcher{
		adm:      adm,
		pool:     pool,
		stats:    stats,
		doneChan: make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

func (d *dispatcher) start() {
	go d.run()
}

func (d *dispatcher) run() {
	defer close(d.loopDone)
	for {
		req, ok := d.adm.peek(d.doneChan)
		if !ok {
			return
		}
		w, err := d.assign(req)
		d.adm.pop(req)
		if err != nil {
			if _, timedOut := errors.Cause(err).(RequestTimeout); timedOut {
				d.stats.addTimeout()
			}
			d.stats.addFailed()
			failRequest(req, err)
			continue
		}
		if d.netLog {
			log.Printf("scgid: dispatch %v -> %v", req, w)
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.exchange(w, req)
		}()
	}
}

// assign waits until an Idle worker can be acquired for the request
// at the head of the queue. When none is Idle it requests a spawn and
// holds the head request; later-arriving requests stay queued behind
// it so dispatch order remains FIFO. A spawn deferred by backoff arms
// a retry timer so the demand is re-attempted once the backoff has
// passed.
func (d *dispatcher) assign(req *Request) (*Worker, error) {
	for {
		if req.Expired(time.Now()) {
			return nil, errors.WithStack(RequestTimeout{})
		}
		if w := d.pool.Acquire(); w != nil {
			return w, nil
		}
		var retryCh, deadlineCh <-chan time.Time
		var retryTimer, deadlineTimer *time.Timer
		if wait := d.pool.RequestSpawn(); wait > 0 {
			retryTimer = time.NewTimer(wait)
			retryCh = retryTimer.C
		}
		if !req.Deadline.IsZero() {
			deadlineTimer = time.NewTimer(time.Until(req.Deadline))
			deadlineCh = deadlineTimer.C
		}
		var err error
		select {
		case <-d.pool.freed():
		case <-retryCh:
		case <-deadlineCh:
		case <-d.pool.done():
			err = errors.WithStack(poolClosedError{})
		case <-d.doneChan:
			err = errors.WithStack(serverClosedError{})
		}
		if retryTimer != nil {
			retryTimer.Stop()
		}
		if deadlineTimer != nil {
			deadlineTimer.Stop()
		}
		if err != nil {
			return nil, err
		}
	}
}

// stop ends the dispatch loop and fails everything still queued.
func (d *dispatcher) stop() {
	d.closeOnce.Do(func() { close(d.doneChan) })
	<-d.loopDone
	for _, req := range d.adm.Close() {
		d.stats.addFailed()
		failRequest(req, errors.WithStack(serverClosedError{}))
	}
}

// wait blocks until all in-flight exchanges have finished.
func (d *dispatcher) wait() {
	d.wg.Wait()
}
