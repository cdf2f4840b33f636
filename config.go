// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package scgid

import (
	"time"

	"github.com/pkg/errors"
)

// Config is the recognized configuration surface of the core.
// DefaultConfig returns a fully populated Config; SetDefaults fills
// in only unset fields so a partially populated Config is usable.
type Config struct {
	ListenNetwork string // "tcp" or "unix"
	ListenAddr    string // address to listen on

	// WorkerCommand is the program to spawn for each worker, with its
	// arguments. The worker's stdin and stdout form its frame channel.
	WorkerCommand []string

	MinProcesses int // lower bound on pool size in steady state
	MaxProcesses int // upper bound on pool size, Spawning included
	QueueDepth   int // accepted-but-undispatched request bound

	IdleTimeout         time.Duration // Idle longer than this is retirement-eligible
	RequestTimeout      time.Duration // per-request deadline, queue wait included
	SpawnBackoffInitial time.Duration // first delay after a failed spawn
	SpawnBackoffMax     time.Duration // cap on the exponential spawn backoff
	SpawnTimeout        time.Duration // how long a new worker has to report ready
	DrainTimeout        time.Duration // Draining worker grace before it is killed
	HealthInterval      time.Duration // how often Idle workers are probed
	HealthTimeout       time.Duration // how long a probed worker has to answer

	SpoolMax       int // per-connection response backlog bound
	MaxRequestSize int // request frame wire size bound

	ReadTimeout  time.Duration // reading a request frame from a client
	WriteTimeout time.Duration // one response write to a client
}

// DefaultConfig returns a Config with every field set to its default.
// WorkerCommand is left empty and must be set before use.
func DefaultConfig() Config {
	return Config{
		ListenNetwork:       DefaultListenNetwork,
		ListenAddr:          DefaultListenAddr,
		MinProcesses:        DefaultMinProcesses,
		MaxProcesses:        DefaultMaxProcesses,
		QueueDepth:          DefaultQueueDepth,
		IdleTimeout:         DefaultIdleTimeout,
		RequestTimeout:      DefaultRequestTimeout,
		SpawnBackoffInitial: DefaultSpawnBackoffInitial,
		SpawnBackoffMax:     DefaultSpawnBackoffMax,
		SpawnTimeout:        DefaultSpawnTimeout,
		DrainTimeout:        DefaultDrainTimeout,
		HealthInterval:      DefaultHealthInterval,
		HealthTimeout:       DefaultHealthTimeout,
		SpoolMax:            DefaultSpoolMax,
		MaxRequestSize:      DefaultMaxRequestSize,
		ReadTimeout:         DefaultReadTimeout,
		WriteTimeout:        DefaultWriteTimeout,
	}
}

// SetDefaults fills in unset fields. MinProcesses and QueueDepth are
// left alone since zero is meaningful for both.
func (cfg *Config) SetDefaults() {
	if cfg.ListenNetwork == "" {
		cfg.ListenNetwork = DefaultListenNetwork
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.MaxProcesses == 0 {
		cfg.MaxProcesses = DefaultMaxProcesses
		if cfg.MinProcesses > cfg.MaxProcesses {
			cfg.MaxProcesses = cfg.MinProcesses
		}
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.SpawnBackoffInitial == 0 {
		cfg.SpawnBackoffInitial = DefaultSpawnBackoffInitial
	}
	if cfg.SpawnBackoffMax == 0 {
		cfg.SpawnBackoffMax = DefaultSpawnBackoffMax
	}
	if cfg.SpawnTimeout == 0 {
		cfg.SpawnTimeout = DefaultSpawnTimeout
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.HealthInterval == 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = DefaultHealthTimeout
	}
	if cfg.SpoolMax == 0 {
		cfg.SpoolMax = DefaultSpoolMax
	}
	if cfg.MaxRequestSize == 0 {
		cfg.MaxRequestSize = DefaultMaxRequestSize
	}
}

// Validate checks the configuration invariants.
func (cfg *Config) Validate() error {
	if len(cfg.WorkerCommand) < 1 {
		return errors.New("worker_command is required")
	}
	if cfg.MinProcesses < 0 {
		return errors.New("min_processes must be >= 0")
	}
	if cfg.MaxProcesses < 1 {
		return errors.New("max_processes must be >= 1")
	}
	if cfg.MaxProcesses < cfg.MinProcesses {
		return errors.New("max_processes must be >= min_processes")
	}
	if cfg.QueueDepth < 0 {
		return errors.New("queue_depth must be >= 0")
	}
	for _, d := range []struct {
		name string
		dur  time.Duration
	}{
		{"idle_timeout", cfg.IdleTimeout},
		{"request_timeout", cfg.RequestTimeout},
		{"spawn_backoff_initial", cfg.SpawnBackoffInitial},
		{"spawn_backoff_max", cfg.SpawnBackoffMax},
		{"spawn_timeout", cfg.SpawnTimeout},
		{"drain_timeout", cfg.DrainTimeout},
		{"health_interval", cfg.HealthInterval},
		{"health_timeout", cfg.HealthTimeout},
	} {
		if d.dur < 0 {
			return errors.Errorf("%s must not be negative", d.name)
		}
	}
	if cfg.SpawnBackoffMax < cfg.SpawnBackoffInitial {
		return errors.New("spawn_backoff_max must be >= spawn_backoff_initial")
	}
	if cfg.ListenNetwork != "tcp" && cfg.ListenNetwork != "unix" {
		return errors.Errorf("unsupported listen_network %q", cfg.ListenNetwork)
	}
	return nil
}
