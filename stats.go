// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package scgid

import "sync/atomic"

// StatsCollector is the interface required to collect byte counters.
type StatsCollector interface {
	AddBytesWritten(int64)
	AddBytesRead(int64)
}

// Stats holds the core's operational counters. All fields are
// maintained atomically and safe for concurrent use.
type Stats struct {
	bytesRead      int64
	bytesWritten   int64
	accepted       int64
	rejected       int64
	completed      int64
	failed         int64
	frameErrors    int64
	spawns         int64
	spawnFailures  int64
	crashes        int64
	retirements    int64
	healthFailures int64
	timeouts       int64
}

// AddBytesRead adds n to the number of bytes read statistic.
func (s *Stats) AddBytesRead(n int64) { atomic.AddInt64(&s.bytesRead, n) }

// BytesRead returns the current number of bytes read.
func (s *Stats) BytesRead() int64 { return atomic.LoadInt64(&s.bytesRead) }

// AddBytesWritten adds n to the number of bytes written statistic.
func (s *Stats) AddBytesWritten(n int64) { atomic.AddInt64(&s.bytesWritten, n) }

// BytesWritten returns the current number of bytes written.
func (s *Stats) BytesWritten() int64 { return atomic.LoadInt64(&s.bytesWritten) }

func (s *Stats) addAccepted() { atomic.AddInt64(&s.accepted, 1) }

// Accepted returns the number of requests admitted to the queue.
func (s *Stats) Accepted() int64 { return atomic.LoadInt64(&s.accepted) }

func (s *Stats) addRejected() { atomic.AddInt64(&s.rejected, 1) }

// Rejected returns the number of requests refused for overload.
func (s *Stats) Rejected() int64 { return atomic.LoadInt64(&s.rejected) }

func (s *Stats) addCompleted() { atomic.AddInt64(&s.completed, 1) }

// Completed returns the number of requests answered by a worker.
func (s *Stats) Completed() int64 { return atomic.LoadInt64(&s.completed) }

func (s *Stats) addFailed() { atomic.AddInt64(&s.failed, 1) }

// Failed returns the number of accepted requests that failed terminally.
func (s *Stats) Failed() int64 { return atomic.LoadInt64(&s.failed) }

func (s *Stats) addFrameError() { atomic.AddInt64(&s.frameErrors, 1) }

// FrameErrors returns the number of connections rejected for
// malformed frames.
func (s *Stats) FrameErrors() int64 { return atomic.LoadInt64(&s.frameErrors) }

func (s *Stats) addSpawn() { atomic.AddInt64(&s.spawns, 1) }

// Spawns returns the number of worker processes started.
func (s *Stats) Spawns() int64 { return atomic.LoadInt64(&s.spawns) }

func (s *Stats) addSpawnFailure() { atomic.AddInt64(&s.spawnFailures, 1) }

// SpawnFailures returns the number of failed spawn attempts.
func (s *Stats) SpawnFailures() int64 { return atomic.LoadInt64(&s.spawnFailures) }

func (s *Stats) addCrash() { atomic.AddInt64(&s.crashes, 1) }

// Crashes returns the number of workers that exited unexpectedly.
func (s *Stats) Crashes() int64 { return atomic.LoadInt64(&s.crashes) }

func (s *Stats) addRetirement() { atomic.AddInt64(&s.retirements, 1) }

// Retirements returns the number of workers retired.
func (s *Stats) Retirements() int64 { return atomic.LoadInt64(&s.retirements) }

func (s *Stats) addHealthFailure() { atomic.AddInt64(&s.healthFailures, 1) }

// HealthFailures returns the number of failed liveness probes.
func (s *Stats) HealthFailures() int64 { return atomic.LoadInt64(&s.healthFailures) }

func (s *Stats) addTimeout() { atomic.AddInt64(&s.timeouts, 1) }

// Timeouts returns the number of requests that missed their deadline.
func (s *Stats) Timeouts() int64 { return atomic.LoadInt64(&s.timeouts) }

// StatsSnapshot is a point-in-time copy of the counters, suitable for
// JSON rendering on the status surface.
type StatsSnapshot struct {
	BytesRead      int64 `json:"bytes_read"`
	BytesWritten   int64 `json:"bytes_written"`
	Accepted       int64 `json:"accepted"`
	Rejected       int64 `json:"rejected"`
	Completed      int64 `json:"completed"`
	Failed         int64 `json:"failed"`
	FrameErrors    int64 `json:"frame_errors"`
	Spawns         int64 `json:"spawns"`
	SpawnFailures  int64 `json:"spawn_failures"`
	Crashes        int64 `json:"crashes"`
	Retirements    int64 `json:"retirements"`
	HealthFailures int64 `json:"health_failures"`
	Timeouts       int64 `json:"timeouts"`
}

// Snapshot returns a copy of the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		BytesRead:      s.BytesRead(),
		BytesWritten:   s.BytesWritten(),
		Accepted:       s.Accepted(),
		Rejected:       s.Rejected(),
		Completed:      s.Completed(),
		Failed:         s.Failed(),
		FrameErrors:    s.FrameErrors(),
		Spawns:         s.Spawns(),
		SpawnFailures:  s.SpawnFailures(),
		Crashes:        s.Crashes(),
		Retirements:    s.Retirements(),
		HealthFailures: s.HealthFailures(),
		Timeouts:       s.Timeouts(),
	}
}
