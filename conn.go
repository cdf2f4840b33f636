// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package scgid

import (
	"fmt"
	"io"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// serverConn drives one accepted front-end connection: decode a
// request frame, submit it, deliver the spooled response, then loop
// in case the front end reuses the connection for another request.
type serverConn struct {
	srv          *Server
	rwc          net.Conn
	dec          *Decoder
	buf          []byte
	serialNumber uint32
	StatsCollector
}

var connNextSerialNumber uint32

func newServerConn(srv *Server, rwc net.Conn) *serverConn {
	return &serverConn{
		srv:            srv,
		rwc:            rwc,
		dec:            NewDecoder(srv.Config.MaxRequestSize),
		buf:            make([]byte, 32*1024),
		serialNumber:   atomic.AddUint32(&connNextSerialNumber, 1),
		StatsCollector: &srv.Stats,
	}
}

func (sc *serverConn) String() string {
	return fmt.Sprintf("[serverConn %x %s]", sc.serialNumber, sc.rwc.RemoteAddr())
}

func (sc *serverConn) serve() {
	defer sc.srv.trackConn(sc, false)
	defer sc.rwc.Close()
	for {
		frame, err := sc.dec.Next()
		if err != nil {
			// malformed input rejects the connection before any
			// pool interaction
			sc.srv.Stats.addFrameError()
			if sc.srv.netLog() {
				log.Printf("scgid: %v rejected: %v", sc, err)
			}
			return
		}
		if frame == nil {
			if !sc.fill() {
				return
			}
			continue
		}
		if sc.srv.netLog() {
			log.Printf("scgid: %v received %v", sc, frame)
		}
		if !sc.handle(frame) {
			return
		}
	}
}

// fill reads more bytes from the client into the decoder. It returns
// false when the connection is done.
func (sc *serverConn) fill() bool {
	if t := sc.srv.Config.ReadTimeout; t > 0 {
		sc.rwc.SetReadDeadline(time.Now().Add(t))
	}
	n, err := sc.rwc.Read(sc.buf)
	if n > 0 {
		sc.dec.Write(sc.buf[:n])
		sc.AddBytesRead(int64(n))
	}
	return err == nil
}

// handle runs one decoded frame through admission and delivery. It
// returns false when the connection must close.
func (sc *serverConn) handle(frame *Frame) bool {
	now := time.Now()
	sp := newSpool(sc.srv.Config.SpoolMax)
	req := &Request{
		ID:       uuid.New(),
		Header:   frame.Header,
		Body:     frame.Body,
		Received: now,
		sp:       sp,
	}
	if t := sc.srv.Config.RequestTimeout; t > 0 {
		req.Deadline = now.Add(t)
	}
	if err := sc.srv.adm.Submit(req); err != nil {
		sc.srv.Stats.addRejected()
		if _, overloaded := errors.Cause(err).(OverloadError); overloaded {
			sc.srv.events.Publish(Event{Type: EventOverload, Detail: req.ID.String()})
		}
		resp := AppendStatusResponse(nil, errorStatusCode(err), errors.Cause(err).Error())
		return sc.send(resp)
	}
	sc.srv.Stats.addAccepted()
	return sc.deliver(sp)
}

// deliver copies the spooled response to the client at whatever pace
// the client reads.
func (sc *serverConn) deliver(sp *spool) bool {
	defer sp.discard()
	for {
		n, err := sp.consume(sc.buf)
		if n > 0 {
			if !sc.send(sc.buf[:n]) {
				return false
			}
		}
		if err == io.EOF {
			return true
		}
		if err != nil {
			return false
		}
	}
}

func (sc *serverConn) send(p []byte) bool {
	if t := sc.srv.Config.WriteTimeout; t > 0 {
		sc.rwc.SetWriteDeadline(time.Now().Add(t))
	}
	n, err := sc.rwc.Write(p)
	if n > 0 {
		sc.AddBytesWritten(int64(n))
	}
	return err == nil
}
