// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package scgid

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

// spool decouples a worker producing a response from the client
// consuming it. The worker proxy writes response bytes in, the
// connection's delivery loop reads them out at client pace.
//
// While a response is still being produced, writes block once the
// backlog reaches max. The final write of a response is always
// accepted regardless of backlog, so a worker is freed the moment its
// response is complete no matter how slowly the client reads.
type spool struct {
	max int

	mu        sync.Mutex
	change    chan struct{} // closed and replaced on every state change
	buf       []byte
	consumed  int64
	closed    bool  // producer finished normally
	discarded bool  // consumer is gone; accept and drop further writes
	err       error // terminal failure, delivered after buffered data
}

func newSpool(max int) *spool {
	if max < 1 {
		max = DefaultSpoolMax
	}
	return &spool{
		max:    max,
		change: make(chan struct{}),
	}
}

// broadcastLocked wakes everyone waiting for a state change.
func (sp *spool) broadcastLocked() {
	close(sp.change)
	sp.change = make(chan struct{})
}

// write appends p to the backlog. When last is false it blocks while
// the backlog is over budget; when last is true the bytes are always
// accepted and the spool is closed for writing.
func (sp *spool) write(p []byte, last bool) error {
	for {
		sp.mu.Lock()
		switch {
		case sp.err != nil:
			err := sp.err
			sp.mu.Unlock()
			return err
		case sp.closed:
			sp.mu.Unlock()
			panic("spool.write(): write after close")
		case sp.discarded:
			sp.closed = last
			sp.mu.Unlock()
			return nil
		case last || len(sp.buf) == 0 || len(sp.buf)+len(p) <= sp.max:
			sp.buf = append(sp.buf, p...)
			sp.closed = last
			sp.broadcastLocked()
			sp.mu.Unlock()
			return nil
		}
		ch := sp.change
		sp.mu.Unlock()
		<-ch
	}
}

// consume blocks until bytes are available or the spool has reached a
// terminal state, then copies bytes into p. Buffered bytes are always
// delivered before an error; a normal end of response is io.EOF.
func (sp *spool) consume(p []byte) (n int, err error) {
	for {
		sp.mu.Lock()
		switch {
		case len(sp.buf) > 0:
			n = copy(p, sp.buf)
			sp.buf = sp.buf[n:]
			sp.consumed += int64(n)
			sp.broadcastLocked()
			sp.mu.Unlock()
			return n, nil
		case sp.closed:
			sp.mu.Unlock()
			return 0, io.EOF
		case sp.err != nil:
			err = sp.err
			sp.mu.Unlock()
			return 0, err
		case sp.discarded:
			sp.mu.Unlock()
			return 0, errors.WithStack(io.ErrClosedPipe)
		}
		ch := sp.change
		sp.mu.Unlock()
		<-ch
	}
}

// replace swaps the unconsumed backlog for b and closes the spool.
// It fails once delivery to the client has begun, so a half-sent
// response is never followed by an error response.
func (sp *spool) replace(b []byte) bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.consumed > 0 || sp.closed || sp.discarded {
		return false
	}
	sp.buf = append(sp.buf[:0], b...)
	sp.closed = true
	sp.broadcastLocked()
	return true
}

// abort fails the spool. The consumer sees err once the backlog
// drains; the producer sees it immediately.
func (sp *spool) abort(err error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.err == nil && !sp.closed {
		sp.err = err
		sp.broadcastLocked()
	}
}

// discard detaches the consumer. Further writes are accepted and
// dropped so a producer mid-response is never blocked by a client
// that has gone away.
func (sp *spool) discard() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if !sp.discarded {
		sp.discarded = true
		sp.buf = nil
		sp.broadcastLocked()
	}
}

// delivered reports how many bytes the consumer has taken so far.
func (sp *spool) delivered() int64 {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.consumed
}
