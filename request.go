// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package scgid

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HeaderField is one name/value pair in a request frame's header
// block. Names are case-sensitive and unique within a frame.
type HeaderField struct {
	Name  string
	Value string
}

// Header is the ordered header block of a request frame. Order is
// preserved exactly as received; CONTENT_LENGTH is always first in a
// well-formed frame.
type Header []HeaderField

// Get returns the value of the named header and whether it exists.
func (h Header) Get(name string) (value string, ok bool) {
	for i := range h {
		if h[i].Name == name {
			return h[i].Value, true
		}
	}
	return "", false
}

// Has returns true if the named header exists.
func (h Header) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Request is one framed request as accepted by the core. It is
// immutable once decoded; only its queue position and its response
// spool change after that.
type Request struct {
	ID       uuid.UUID // assigned on acceptance
	Header   Header    // ordered header block, CONTENT_LENGTH first
	Body     []byte    // exactly CONTENT_LENGTH bytes
	Received time.Time // when the complete frame was decoded
	Deadline time.Time // Received plus the configured request timeout

	sp *spool // response sink owned by the originating connection
}

func (req *Request) String() string {
	return fmt.Sprintf("[Request %s %d headers %d bytes]", req.ID, len(req.Header), len(req.Body))
}

// Expired returns true if the request deadline has passed.
func (req *Request) Expired(now time.Time) bool {
	return !req.Deadline.IsZero() && now.After(req.Deadline)
}
