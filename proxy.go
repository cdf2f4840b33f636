// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package scgid

import (
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// exchange pumps one encoded request frame into a worker's channel
// and streams the worker's response frame back toward the originating
// connection's spool. The worker is Busy for the duration and goes
// back to Idle the moment its response frame has been fully received,
// no matter how slowly the client reads.
func (d *dispatcher) exchange(w *Worker, req *Request) {
	var timedOut int32
	var timer *time.Timer
	if !req.Deadline.IsZero() {
		timer = time.AfterFunc(time.Until(req.Deadline), func() {
			atomic.StoreInt32(&timedOut, 1)
			// the worker's channel state mid-frame is unknowable, so
			// the deadline kills the process to unblock the pump
			d.pool.Doom(w)
			req.sp.abort(errors.WithStack(RequestTimeout{}))
		})
	}
	err := pump(w, req)
	if timer != nil {
		timer.Stop()
	}
	if err != nil && atomic.LoadInt32(&timedOut) != 0 {
		err = errors.WithStack(RequestTimeout{})
	}
	d.pool.Finish(w, err)
	if err == nil {
		d.stats.addCompleted()
		if d.netLog {
			log.Printf("scgid: completed %v on %v", req, w)
		}
		return
	}
	switch errors.Cause(err).(type) {
	case RequestTimeout:
		d.stats.addTimeout()
	case WorkerCrash:
	default:
		err = errors.WithStack(WorkerCrash{Pid: w.pid, Err: errors.Cause(err)})
	}
	d.stats.addFailed()
	failRequest(req, err)
}

// pump performs the byte-level exchange: one request frame out, one
// response netstring back, forwarded verbatim into the spool. The
// final delimiter write closes the spool, which is the point the
// worker's response is complete.
func pump(w *Worker, req *Request) error {
	fd := bufAlloc()
	fd = AppendFrame(fd, req.Header, req.Body)
	_, err := w.tr.Write(fd)
	bufFree(fd)
	if err != nil {
		return errors.WithStack(err)
	}
	nr := NewNetstringReader(w.br)
	size, err := nr.Size()
	if err != nil {
		return err
	}
	prefix := AppendNetstringPrefix(nil, size)
	if err = req.sp.write(prefix, false); err != nil {
		return err
	}
	buf := make([]byte, 16384)
	for {
		var n int
		n, err = nr.Read(buf)
		if n > 0 {
			if werr := req.sp.write(buf[:n], false); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return req.sp.write([]byte{','}, true)
		}
		if err != nil {
			return err
		}
	}
}
