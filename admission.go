// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package scgid

import (
	"sync"

	"github.com/pkg/errors"
)

// Admission bounds the number of requests accepted but not yet
// dispatched. Submissions never block: when the queue is full they
// fail immediately with an OverloadError so the caller can answer the
// client right away. Accepted requests leave the queue strictly in
// arrival order.
type Admission struct {
	depth int

	mu       sync.Mutex
	reqs     []*Request
	nonEmpty chan struct{} // capacity 1 signal
	closed   bool
}

// NewAdmission returns an admission controller with the given queue
// depth. A depth of zero rejects everything; use a negative depth for
// DefaultQueueDepth.
func NewAdmission(depth int) *Admission {
	if depth < 0 {
		depth = DefaultQueueDepth
	}
	return &Admission{
		depth:    depth,
		nonEmpty: make(chan struct{}, 1),
	}
}

// Depth returns the configured queue depth.
func (adm *Admission) Depth() int { return adm.depth }

// Len returns the number of queued requests.
func (adm *Admission) Len() int {
	adm.mu.Lock()
	defer adm.mu.Unlock()
	return len(adm.reqs)
}

// Submit queues req for dispatch. It returns an OverloadError without
// blocking when the queue is full, or a serverClosedError after Close.
func (adm *Admission) Submit(req *Request) error {
	adm.mu.Lock()
	defer adm.mu.Unlock()
	if adm.closed {
		return errors.WithStack(serverClosedError{})
	}
	if len(adm.reqs) >= adm.depth {
		return errors.WithStack(OverloadError{})
	}
	adm.reqs = append(adm.reqs, req)
	select {
	case adm.nonEmpty <- struct{}{}:
	default:
	}
	return nil
}

// peek returns the head request without removing it, blocking until
// one is queued or done is closed. The head stays queued (and counts
// toward the depth) while the dispatcher waits for a worker.
func (adm *Admission) peek(done <-chan struct{}) (req *Request, ok bool) {
	for {
		adm.mu.Lock()
		if len(adm.reqs) > 0 {
			req = adm.reqs[0]
			adm.mu.Unlock()
			return req, true
		}
		if adm.closed {
			adm.mu.Unlock()
			return nil, false
		}
		adm.mu.Unlock()
		select {
		case <-adm.nonEmpty:
		case <-done:
			return nil, false
		}
	}
}

// pop removes the head request. It panics if req is not the head,
// since that would mean dispatch order was violated.
func (adm *Admission) pop(req *Request) {
	adm.mu.Lock()
	defer adm.mu.Unlock()
	if len(adm.reqs) == 0 || adm.reqs[0] != req {
		panic("Admission.pop(): not the head request")
	}
	adm.reqs = adm.reqs[1:]
}

// Close rejects all queued requests and makes further submissions
// fail. Each drained request is returned so the caller can fail it
// with a proper response.
func (adm *Admission) Close() (drained []*Request) {
	adm.mu.Lock()
	defer adm.mu.Unlock()
	if !adm.closed {
		adm.closed = true
		drained = adm.reqs
		adm.reqs = nil
		select {
		case adm.nonEmpty <- struct{}{}:
		default:
		}
	}
	return
}
