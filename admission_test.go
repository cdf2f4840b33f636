package scgid

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func testRequest() *Request {
	return &Request{
		ID:       uuid.New(),
		Received: time.Now(),
		sp:       newSpool(0),
	}
}

func Test_Admission_fifo(t *testing.T) {
	adm := NewAdmission(4)
	a, b := testRequest(), testRequest()
	assert.NoError(t, adm.Submit(a))
	assert.NoError(t, adm.Submit(b))
	assert.Equal(t, 2, adm.Len())
	req, ok := adm.peek(nil)
	assert.True(t, ok)
	assert.Same(t, a, req)
	assert.Equal(t, 2, adm.Len())
	adm.pop(a)
	req, ok = adm.peek(nil)
	assert.True(t, ok)
	assert.Same(t, b, req)
	adm.pop(b)
	assert.Equal(t, 0, adm.Len())
}

func Test_Admission_overload(t *testing.T) {
	adm := NewAdmission(2)
	assert.NoError(t, adm.Submit(testRequest()))
	assert.NoError(t, adm.Submit(testRequest()))
	err := adm.Submit(testRequest())
	assert.Error(t, err)
	assert.IsType(t, OverloadError{}, errors.Cause(err))
	assert.Equal(t, 2, adm.Len())
}

func Test_Admission_zero_depth_rejects_all(t *testing.T) {
	adm := NewAdmission(0)
	err := adm.Submit(testRequest())
	assert.Error(t, err)
	assert.IsType(t, OverloadError{}, errors.Cause(err))
}

func Test_Admission_peek_blocks_until_submit(t *testing.T) {
	adm := NewAdmission(4)
	want := testRequest()
	got := make(chan *Request, 1)
	go func() {
		req, ok := adm.peek(nil)
		assert.True(t, ok)
		got <- req
	}()
	time.Sleep(time.Millisecond * 10)
	assert.NoError(t, adm.Submit(want))
	select {
	case req := <-got:
		assert.Same(t, want, req)
	case <-time.After(time.Second):
		assert.Fail(t, "peek did not wake")
	}
}

func Test_Admission_peek_aborts_on_done(t *testing.T) {
	adm := NewAdmission(4)
	done := make(chan struct{})
	okCh := make(chan bool, 1)
	go func() {
		_, ok := adm.peek(done)
		okCh <- ok
	}()
	close(done)
	select {
	case ok := <-okCh:
		assert.False(t, ok)
	case <-time.After(time.Second):
		assert.Fail(t, "peek did not abort")
	}
}

func Test_Admission_close_drains(t *testing.T) {
	adm := NewAdmission(4)
	a, b := testRequest(), testRequest()
	assert.NoError(t, adm.Submit(a))
	assert.NoError(t, adm.Submit(b))
	drained := adm.Close()
	assert.Equal(t, []*Request{a, b}, drained)
	assert.Equal(t, 0, adm.Len())
	err := adm.Submit(testRequest())
	assert.Error(t, err)
	assert.IsType(t, serverClosedError{}, errors.Cause(err))
	_, ok := adm.peek(nil)
	assert.False(t, ok)
}

func Test_Admission_pop_wrong_head_panics(t *testing.T) {
	adm := NewAdmission(4)
	a, b := testRequest(), testRequest()
	assert.NoError(t, adm.Submit(a))
	assert.NoError(t, adm.Submit(b))
	assert.Panics(t, func() { adm.pop(b) })
}
