// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package scgid

import "fmt"

// FrameError is returned when a request frame is malformed. The
// connection that sent it is rejected at the point of detection and
// nothing is forwarded downstream.
type FrameError struct {
	Reason string
}

func (e FrameError) Error() string { return "frame error: " + e.Reason }

// OverloadError is returned by Admission.Submit when the request queue
// is at capacity. The caller must answer the client immediately rather
// than block.
type OverloadError struct{}

func (OverloadError) Error() string { return "request queue full" }

// SpawnError is returned when starting a worker process fails. It
// arms the spawn backoff but never crashes the core.
type SpawnError struct {
	Err error // underlying cause
}

func (e SpawnError) Error() string { return "spawn failed: " + e.Err.Error() }

// WorkerCrash is returned when a worker exits or closes its channel
// before producing a complete response. The in-flight request fails
// with a gateway error and is never retried on another worker, since
// the crashed worker may already have produced side effects.
type WorkerCrash struct {
	Pid int
	Err error // underlying cause, may be nil for a plain exit
}

func (e WorkerCrash) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker %d crashed: %s", e.Pid, e.Err.Error())
	}
	return fmt.Sprintf("worker %d crashed", e.Pid)
}

// RequestTimeout is returned when a request misses its deadline,
// either queued or in flight. A worker that held the request when the
// deadline expired is retired, never reused.
type RequestTimeout struct{}

func (RequestTimeout) Error() string   { return "request deadline exceeded" }
func (RequestTimeout) Timeout() bool   { return true }
func (RequestTimeout) Temporary() bool { return false }

// HealthCheckFailure is returned when an Idle worker fails to answer
// a liveness probe in time. The worker is retired and replaced if the
// pool would fall below its minimum.
type HealthCheckFailure struct {
	Pid int
}

func (e HealthCheckFailure) Error() string {
	return fmt.Sprintf("worker %d failed health check", e.Pid)
}

type serverClosedError struct{}

func (serverClosedError) Error() string { return "server closed" }

// ErrServerClosed is the cause of the error returned by Serve and
// ListenAndServe after Close or Shutdown.
var ErrServerClosed error = serverClosedError{}

type poolClosedError struct{}

func (poolClosedError) Error() string { return "pool closed" }

type timeoutError struct{}

func (timeoutError) Error() string   { return "deadline exceeded" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
