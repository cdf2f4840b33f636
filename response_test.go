package scgid

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func Test_AppendStatusResponse(t *testing.T) {
	fd := AppendStatusResponse(nil, 503, "request queue full")
	payload, err := io.ReadAll(NewNetstringReader(bufio.NewReader(bytes.NewReader(fd))))
	assert.NoError(t, err)
	text := string(payload)
	assert.Contains(t, text, "Status: 503 Service Unavailable\r\n")
	assert.Contains(t, text, "Content-Type: text/plain\r\n")
	assert.Contains(t, text, "\r\n\r\nrequest queue full\r\n")
}

func Test_AppendStatusResponse_unknown_code(t *testing.T) {
	fd := AppendStatusResponse(nil, 599, "")
	assert.Contains(t, string(fd), "Status: 599 Error")
}

func Test_errorStatusCode(t *testing.T) {
	assert.Equal(t, 503, errorStatusCode(OverloadError{}))
	assert.Equal(t, 503, errorStatusCode(errors.WithStack(serverClosedError{})))
	assert.Equal(t, 502, errorStatusCode(WorkerCrash{Pid: 1}))
	assert.Equal(t, 502, errorStatusCode(HealthCheckFailure{Pid: 1}))
	assert.Equal(t, 504, errorStatusCode(RequestTimeout{}))
	assert.Equal(t, 500, errorStatusCode(errors.New("anything else")))
}

func Test_failRequest_replaces_undelivered_response(t *testing.T) {
	req := testRequest()
	failRequest(req, errors.WithStack(OverloadError{}))
	got, err := spoolReadAll(req.sp)
	assert.NoError(t, err)
	assert.Contains(t, string(got), "Status: 503")
}

func Test_failRequest_aborts_after_delivery_begun(t *testing.T) {
	req := testRequest()
	assert.NoError(t, req.sp.write([]byte("100:partial"), false))
	buf := make([]byte, 4)
	_, err := req.sp.consume(buf)
	assert.NoError(t, err)
	crash := errors.WithStack(WorkerCrash{Pid: 42})
	failRequest(req, crash)
	_, err = spoolReadAll(req.sp)
	assert.Equal(t, crash, err)
}
