// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package scgid

import (
	"strconv"

	"github.com/pkg/errors"
)

// statusText maps the status codes the core generates itself.
var statusText = map[int]string{
	200: "OK",
	500: "Internal Server Error",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}

// AppendStatusResponse appends a complete response frame carrying a
// minimal CGI-style response with the given status code and a short
// plain-text body.
func AppendStatusResponse(dst []byte, code int, detail string) []byte {
	reason := statusText[code]
	if reason == "" {
		reason = "Error"
	}
	body := detail
	if body == "" {
		body = reason
	}
	body += "\r\n"
	payload := bufAlloc()
	payload = append(payload, "Status: "...)
	payload = strconv.AppendInt(payload, int64(code), 10)
	payload = append(payload, ' ')
	payload = append(payload, reason...)
	payload = append(payload, "\r\nContent-Type: text/plain\r\nContent-Length: "...)
	payload = strconv.AppendInt(payload, int64(len(body)), 10)
	payload = append(payload, "\r\n\r\n"...)
	payload = append(payload, body...)
	dst = AppendNetstring(dst, payload)
	bufFree(payload)
	return dst
}

// errorStatusCode maps a terminal request failure to the status code
// reported to the client.
func errorStatusCode(err error) int {
	switch errors.Cause(err).(type) {
	case OverloadError:
		return 503
	case WorkerCrash:
		return 502
	case HealthCheckFailure:
		return 502
	case RequestTimeout:
		return 504
	case serverClosedError, poolClosedError:
		return 503
	}
	return 500
}

// failRequest terminally fails req with a single well-formed error
// response. If delivery of a real response has already begun the
// connection is aborted instead, since a clean error response can no
// longer be framed.
func failRequest(req *Request, err error) {
	code := errorStatusCode(err)
	resp := AppendStatusResponse(nil, code, errors.Cause(err).Error())
	if !req.sp.replace(resp) {
		req.sp.abort(err)
	}
}
