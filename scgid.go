// Package scgid implements an SCGI application server core.
package scgid

import "time"

const (
	// HeaderContentLength is the header name that must lead every
	// request frame's header block. Its value is the decimal byte
	// length of the frame body.
	HeaderContentLength = "CONTENT_LENGTH"
	// HeaderProtocol is the protocol marker header name. Every request
	// frame must carry it with the value ProtocolVersion.
	HeaderProtocol = "SCGI"
	// ProtocolVersion is the required value of the HeaderProtocol header.
	ProtocolVersion = "1"
	// HeaderPing marks a liveness probe frame. A worker receiving a
	// frame with this header set must answer with one well-formed
	// response frame without invoking application logic.
	HeaderPing = "SCGID_PING"
	// ReadyByte is the single byte a worker writes on its channel once
	// it has finished initializing and is able to accept frames.
	ReadyByte = byte('1')
	// frameLenDigitsMax bounds the decimal length prefix of a frame.
	frameLenDigitsMax = 9
	// DefaultReadTimeout is how long to wait for request bytes on an
	// established connection before giving up on it. Zero disables.
	DefaultReadTimeout = time.Duration(0)
	// DefaultWriteTimeout is how long a single response write to a
	// client may block before the client is considered gone. Zero
	// disables.
	DefaultWriteTimeout = time.Duration(0)
)

const (
	// DefaultListenNetwork is used when Config.ListenNetwork is empty.
	DefaultListenNetwork = "tcp"
	// DefaultListenAddr is used when Config.ListenAddr is empty.
	DefaultListenAddr = "127.0.0.1:4000"
	// DefaultMinProcesses is used when Config.MinProcesses is unset.
	DefaultMinProcesses = 2
	// DefaultMaxProcesses is used when Config.MaxProcesses is zero.
	DefaultMaxProcesses = 8
	// DefaultQueueDepth is used when Config.QueueDepth is zero.
	DefaultQueueDepth = 128
	// DefaultIdleTimeout is how long a worker may sit Idle before it
	// becomes eligible for retirement.
	DefaultIdleTimeout = time.Minute
	// DefaultRequestTimeout is the default per-request deadline.
	DefaultRequestTimeout = time.Second * 30
	// DefaultSpawnBackoffInitial is the first delay after a failed spawn.
	DefaultSpawnBackoffInitial = time.Millisecond * 100
	// DefaultSpawnBackoffMax caps the exponential spawn backoff.
	DefaultSpawnBackoffMax = time.Second * 10
	// DefaultSpawnTimeout is how long a new worker has to report ready.
	DefaultSpawnTimeout = time.Second * 10
	// DefaultDrainTimeout is how long a Draining worker has to exit
	// before it is killed.
	DefaultDrainTimeout = time.Second * 5
	// DefaultHealthInterval is how often Idle workers are probed.
	DefaultHealthInterval = time.Second * 15
	// DefaultHealthTimeout is how long a probed worker has to answer.
	DefaultHealthTimeout = time.Second * 5
	// DefaultSpoolMax bounds the per-connection response backlog held
	// in memory while a worker is still producing its response.
	DefaultSpoolMax = 64 * 1024
	// DefaultMaxRequestSize bounds the size of a single request frame,
	// header block and body included.
	DefaultMaxRequestSize = 1024 * 1024
)
