// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

//go:build race

package scgid

// sanity check the protocol constants
func init() {
	if frameLenDigitsMax < 1 {
		panic("frameLenDigitsMax < 1")
	}
	if DefaultMaxRequestSize < 64 {
		panic("DefaultMaxRequestSize < 64")
	}
	if DefaultSpoolMax < 1 {
		panic("DefaultSpoolMax < 1")
	}
	if DefaultMinProcesses > DefaultMaxProcesses {
		panic("DefaultMinProcesses > DefaultMaxProcesses")
	}
	if DefaultSpawnBackoffInitial > DefaultSpawnBackoffMax {
		panic("DefaultSpawnBackoffInitial > DefaultSpawnBackoffMax")
	}
	if len(HeaderContentLength) < 1 {
		panic("HeaderContentLength is empty")
	}
}
