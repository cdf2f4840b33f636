// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package scgid

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Server accepts framed requests from front-end adapters and routes
// them through admission, dispatch and the worker pool. The zero
// value is not usable; construct with NewServer.
type Server struct {
	Config Config
	Stats  Stats

	pool   *Pool
	adm    *Admission
	disp   *dispatcher
	events *Events

	mu          sync.Mutex
	listeners   map[net.Listener]struct{}
	activeConns map[*serverConn]struct{}
	doneChan    chan struct{}
	started     bool
	netLogging  bool
}

// NewServer returns a Server for the given configuration. Unset
// fields are defaulted before validation.
func NewServer(cfg Config) (*Server, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	srv := &Server{
		Config:      cfg,
		events:      NewEvents(),
		listeners:   make(map[net.Listener]struct{}),
		activeConns: make(map[*serverConn]struct{}),
		doneChan:    make(chan struct{}),
	}
	srv.pool = NewPool(cfg, &srv.Stats, srv.events)
	srv.adm = NewAdmission(cfg.QueueDepth)
	srv.disp = newDispatcher(srv.adm, srv.pool, &srv.Stats)
	return srv, nil
}

// Events returns the pool lifecycle event broadcaster.
func (srv *Server) Events() *Events { return srv.events }

// NetLog enables or disables logging of decoded frames and dispatch
// decisions. This is a large volume of information, so it's
// recommended to redirect the log output using log.SetOutput().
func (srv *Server) NetLog(state bool) {
	srv.mu.Lock()
	srv.netLogging = state
	srv.disp.netLog = state
	srv.mu.Unlock()
}

func (srv *Server) netLog() bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.netLogging
}

// tcpKeepAliveListener sets TCP keep-alive timeouts on accepted
// network connections so dead front-end connections eventually go
// away.
type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (ln tcpKeepAliveListener) Accept() (c net.Conn, err error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return
	}
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)
	return tc, nil
}

// Listen announces on the configured network and address.
func (srv *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen(srv.Config.ListenNetwork, srv.Config.ListenAddr)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	srv.Config.ListenAddr = ln.Addr().String()
	if tl, ok := ln.(*net.TCPListener); ok {
		ln = tcpKeepAliveListener{tl}
	}
	return ln, nil
}

// ListenAndServe listens on the configured address and then calls
// Serve to handle requests on incoming connections.
func (srv *Server) ListenAndServe() (err error) {
	ln, err := srv.Listen()
	if err == nil {
		err = srv.Serve(ln)
	}
	return
}

// Start brings up the worker pool and the dispatcher without
// listening. Serve calls it as needed.
func (srv *Server) Start() {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.startLocked()
}

func (srv *Server) startLocked() {
	if !srv.started {
		srv.started = true
		srv.pool.Start()
		srv.disp.start()
	}
}

// Serve accepts incoming connections on the Listener l, creating a
// new service goroutine for each.
func (srv *Server) Serve(l net.Listener) error {
	defer l.Close()
	var tempDelay time.Duration // how long to sleep on accept failure

	if err := func() error {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		select {
		case <-srv.doneChan:
			return errors.WithStack(serverClosedError{})
		default:
		}
		srv.startLocked()
		srv.listeners[l] = struct{}{}
		return nil
	}(); err != nil {
		return err
	}
	defer srv.trackListener(l, false)

	for {
		rwc, err := l.Accept()
		if err != nil {
			select {
			case <-srv.doneChan:
				return errors.WithStack(serverClosedError{})
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				time.Sleep(tempDelay)
				continue
			}
			return errors.WithStack(err)
		}
		tempDelay = 0
		sc := newServerConn(srv, rwc)
		srv.trackConn(sc, true)
		go sc.serve()
	}
}

func (srv *Server) trackListener(ln net.Listener, add bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if add {
		srv.listeners[ln] = struct{}{}
	} else {
		delete(srv.listeners, ln)
	}
}

func (srv *Server) trackConn(sc *serverConn, add bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if add {
		srv.activeConns[sc] = struct{}{}
	} else {
		delete(srv.activeConns, sc)
	}
}

// ActiveConns returns the number of open front-end connections.
func (srv *Server) ActiveConns() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.activeConns)
}

func (srv *Server) closeDoneChanLocked() {
	select {
	case <-srv.doneChan:
	default:
		close(srv.doneChan)
	}
}

func (srv *Server) closeListenersLocked() error {
	var err error
	for ln := range srv.listeners {
		if cerr := ln.Close(); cerr != nil && err == nil {
			err = cerr
		}
		delete(srv.listeners, ln)
	}
	return err
}

func (srv *Server) closeConnsLocked() {
	for sc := range srv.activeConns {
		sc.rwc.Close()
		delete(srv.activeConns, sc)
	}
}

// Close immediately closes all listeners, connections and workers.
// Queued requests fail with a service-unavailable response.
func (srv *Server) Close() error {
	srv.mu.Lock()
	srv.closeDoneChanLocked()
	err := srv.closeListenersLocked()
	started := srv.started
	srv.mu.Unlock()
	if started {
		srv.disp.stop()
		srv.pool.Close()
		srv.disp.wait()
	}
	srv.mu.Lock()
	srv.closeConnsLocked()
	srv.mu.Unlock()
	return err
}

// Shutdown stops accepting new work, fails queued requests with a
// service-unavailable response, and lets Busy workers finish their
// exchanges until ctx expires. It then closes everything.
func (srv *Server) Shutdown(ctx context.Context) error {
	srv.mu.Lock()
	srv.closeDoneChanLocked()
	err := srv.closeListenersLocked()
	started := srv.started
	srv.mu.Unlock()
	if started {
		srv.disp.stop()
		if perr := srv.pool.Shutdown(ctx); perr != nil && err == nil {
			err = perr
		}
		srv.disp.wait()
	}
	srv.mu.Lock()
	srv.closeConnsLocked()
	srv.mu.Unlock()
	return err
}
