// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

// A request frame is a single length-prefixed message:
//
//	<decimal-length> ':' <header-block> ',' <body-bytes>
//
// The decimal length covers the header block plus the body, so a
// CONTENT_LENGTH value that disagrees with the actual body length is
// detectable as a framing error. The header block is a flat sequence
// of NUL-terminated name/value pairs. The first pair must be
// CONTENT_LENGTH and a pair SCGI=1 must be present.
//
// A response frame is a plain netstring whose payload is opaque to
// the core beyond byte counting.

package scgid

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// Frame is one decoded request frame.
type Frame struct {
	Header Header
	Body   []byte
}

func (f *Frame) String() string {
	return fmt.Sprintf("[Frame %d headers %d bytes]", len(f.Header), len(f.Body))
}

func frameError(reason string) error {
	return errors.WithStack(FrameError{Reason: reason})
}

// AppendFrame appends an encoded request frame to dst and returns the
// extended slice. The CONTENT_LENGTH pair is synthesized from the
// body length (any CONTENT_LENGTH in h is ignored) and an SCGI=1 pair
// is added unless h already carries one.
func AppendFrame(dst []byte, h Header, body []byte) []byte {
	hb := bufAlloc()
	hb = append(hb, HeaderContentLength...)
	hb = append(hb, 0)
	hb = strconv.AppendInt(hb, int64(len(body)), 10)
	hb = append(hb, 0)
	if !h.Has(HeaderProtocol) {
		hb = append(hb, HeaderProtocol...)
		hb = append(hb, 0, '1', 0)
	}
	for i := range h {
		if h[i].Name == HeaderContentLength {
			continue
		}
		hb = append(hb, h[i].Name...)
		hb = append(hb, 0)
		hb = append(hb, h[i].Value...)
		hb = append(hb, 0)
	}
	dst = strconv.AppendInt(dst, int64(len(hb)+len(body)), 10)
	dst = append(dst, ':')
	dst = append(dst, hb...)
	dst = append(dst, ',')
	dst = append(dst, body...)
	bufFree(hb)
	return dst
}

// AppendNetstring appends payload to dst as a netstring.
func AppendNetstring(dst, payload []byte) []byte {
	dst = strconv.AppendInt(dst, int64(len(payload)), 10)
	dst = append(dst, ':')
	dst = append(dst, payload...)
	dst = append(dst, ',')
	return dst
}

// AppendNetstringPrefix appends the length prefix and ':' delimiter
// for a netstring of n payload bytes.
func AppendNetstringPrefix(dst []byte, n int64) []byte {
	dst = strconv.AppendInt(dst, n, 10)
	return append(dst, ':')
}

// Decoder incrementally decodes request frames from buffered bytes.
// Feed it data with Write and drain complete frames with Next; it
// never consumes bytes beyond the frame boundary, so frames may abut
// on a reused connection.
type Decoder struct {
	// MaxFrameSize bounds the wire size of a single frame. Zero means
	// DefaultMaxRequestSize.
	MaxFrameSize int
	buf          []byte
}

// NewDecoder returns a Decoder with the given frame size limit.
// A maxFrameSize of zero means DefaultMaxRequestSize.
func NewDecoder(maxFrameSize int) *Decoder {
	return &Decoder{MaxFrameSize: maxFrameSize}
}

// Write buffers p for decoding. It never fails; overlong frames are
// reported by Next.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes waiting to be decoded.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) maxFrameSize() int {
	if d.MaxFrameSize > 0 {
		return d.MaxFrameSize
	}
	return DefaultMaxRequestSize
}

// Next decodes and consumes one complete frame from the buffered
// bytes. It returns (nil, nil) when more bytes are needed. Malformed
// input fails with a FrameError; the Decoder must not be used again
// after an error.
func (d *Decoder) Next() (frame *Frame, err error) {
	length, digits, ok, err := d.parsePrefix()
	if !ok || err != nil {
		return nil, err
	}
	wireSize := digits + 2 + length
	if wireSize > d.maxFrameSize() {
		return nil, frameError("frame exceeds size limit")
	}
	if len(d.buf) < wireSize {
		return nil, nil
	}
	// region spans <header-block> ',' <body>
	region := d.buf[digits+1 : wireSize]
	frame, err = parseFrameRegion(region, length)
	if err != nil {
		return nil, err
	}
	d.buf = d.buf[wireSize:]
	return frame, nil
}

// parsePrefix scans the decimal length prefix and its ':' delimiter.
// ok is false when more bytes are needed.
func (d *Decoder) parsePrefix() (length, digits int, ok bool, err error) {
	for digits < len(d.buf) {
		c := d.buf[digits]
		if c == ':' {
			if digits == 0 {
				return 0, 0, false, frameError("empty length prefix")
			}
			return length, digits, true, nil
		}
		if c < '0' || c > '9' {
			return 0, 0, false, frameError("length prefix is not numeric")
		}
		if digits == 1 && d.buf[0] == '0' {
			return 0, 0, false, frameError("length prefix has a leading zero")
		}
		if digits >= frameLenDigitsMax {
			return 0, 0, false, frameError("length prefix too long")
		}
		length = length*10 + int(c-'0')
		digits++
	}
	if digits >= frameLenDigitsMax {
		return 0, 0, false, frameError("length prefix missing delimiter")
	}
	return 0, 0, false, nil
}

// parseFrameRegion splits region into header block and body given
// that len(headerblock)+len(body) == length and validates the header
// block. region holds exactly length+1 bytes, the extra byte being
// the ',' delimiter between header block and body.
func parseFrameRegion(region []byte, length int) (*Frame, error) {
	name, rest, err := nextString(region)
	if err != nil {
		return nil, err
	}
	if name != HeaderContentLength {
		return nil, frameError("first header is not CONTENT_LENGTH")
	}
	clVal, _, err := nextString(rest)
	if err != nil {
		return nil, err
	}
	contentLength, err := strconv.Atoi(clVal)
	if err != nil || contentLength < 0 {
		return nil, frameError("CONTENT_LENGTH is not a valid length")
	}
	headerLen := length - contentLength
	if headerLen < 1 || headerLen > len(region)-1 {
		return nil, frameError("CONTENT_LENGTH does not match body length")
	}
	if region[headerLen-1] != 0 || region[headerLen] != ',' {
		return nil, frameError("CONTENT_LENGTH does not match body length")
	}
	header, err := parseHeaderBlock(region[:headerLen])
	if err != nil {
		return nil, err
	}
	body := make([]byte, contentLength)
	copy(body, region[headerLen+1:])
	return &Frame{Header: header, Body: body}, nil
}

// parseHeaderBlock decodes the NUL-terminated name/value pairs of a
// header block and validates uniqueness and the SCGI protocol marker.
func parseHeaderBlock(block []byte) (Header, error) {
	var h Header
	seen := make(map[string]struct{})
	for len(block) > 0 {
		name, rest, err := nextString(block)
		if err != nil {
			return nil, err
		}
		if name == "" {
			return nil, frameError("empty header name")
		}
		value, rest, err := nextString(rest)
		if err != nil {
			return nil, frameError("header name without value")
		}
		if _, dup := seen[name]; dup {
			return nil, frameError("duplicate header " + name)
		}
		seen[name] = struct{}{}
		h = append(h, HeaderField{Name: name, Value: value})
		block = rest
	}
	if marker, ok := h.Get(HeaderProtocol); !ok || marker != ProtocolVersion {
		return nil, frameError("missing SCGI protocol marker")
	}
	return h, nil
}

// nextString consumes one NUL-terminated string from b.
func nextString(b []byte) (s string, rest []byte, err error) {
	for i := range b {
		if b[i] == 0 {
			return string(b[:i]), b[i+1:], nil
		}
	}
	return "", nil, frameError("unterminated header string")
}

// NetstringReader streams the payload of a single netstring from a
// buffered reader without reading past the closing delimiter. It is
// used by the worker proxy to forward a response without slurping it.
type NetstringReader struct {
	br      *bufio.Reader
	size    int64
	remain  int64
	started bool
	done    bool
}

// NewNetstringReader returns a NetstringReader reading one netstring
// from br.
func NewNetstringReader(br *bufio.Reader) *NetstringReader {
	return &NetstringReader{br: br}
}

// Size reads the length prefix if it hasn't been read yet and returns
// the payload size.
func (nr *NetstringReader) Size() (int64, error) {
	if !nr.started {
		var digits int
		for {
			c, err := nr.br.ReadByte()
			if err != nil {
				return 0, errors.WithStack(err)
			}
			if c == ':' {
				if digits == 0 {
					return 0, frameError("empty netstring length")
				}
				break
			}
			if c < '0' || c > '9' {
				return 0, frameError("netstring length is not numeric")
			}
			if digits == 1 && nr.size == 0 {
				return 0, frameError("netstring length has a leading zero")
			}
			if digits >= frameLenDigitsMax {
				return 0, frameError("netstring length too long")
			}
			nr.size = nr.size*10 + int64(c-'0')
			digits++
		}
		nr.remain = nr.size
		nr.started = true
	}
	return nr.size, nil
}

// Read reads payload bytes, returning io.EOF once the payload and its
// closing ',' have been consumed.
func (nr *NetstringReader) Read(p []byte) (n int, err error) {
	if _, err = nr.Size(); err != nil {
		return 0, err
	}
	if nr.remain <= 0 {
		if !nr.done {
			var c byte
			if c, err = nr.br.ReadByte(); err != nil {
				return 0, errors.WithStack(err)
			}
			if c != ',' {
				return 0, frameError("netstring missing closing delimiter")
			}
			nr.done = true
		}
		return 0, io.EOF
	}
	if int64(len(p)) > nr.remain {
		p = p[:nr.remain]
	}
	n, err = nr.br.Read(p)
	nr.remain -= int64(n)
	if err != nil {
		err = errors.WithStack(err)
	}
	return
}
