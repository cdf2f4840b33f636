package scgid

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func spoolReadAll(sp *spool) ([]byte, error) {
	var out []byte
	buf := make([]byte, 7)
	for {
		n, err := sp.consume(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}

func Test_spool_roundtrip(t *testing.T) {
	sp := newSpool(16)
	assert.NoError(t, sp.write([]byte("hello "), false))
	assert.NoError(t, sp.write([]byte("world"), true))
	got, err := spoolReadAll(sp)
	assert.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
	assert.Equal(t, int64(11), sp.delivered())
}

func Test_spool_backpressure(t *testing.T) {
	sp := newSpool(4)
	assert.NoError(t, sp.write([]byte("aaaa"), false))
	wrote := make(chan struct{})
	go func() {
		// over budget, must block until the consumer drains
		sp.write([]byte("bbbb"), false)
		close(wrote)
	}()
	select {
	case <-wrote:
		assert.Fail(t, "write did not block while over budget")
	case <-time.After(time.Millisecond * 20):
	}
	buf := make([]byte, 4)
	n, err := sp.consume(buf)
	assert.NoError(t, err)
	assert.Equal(t, 4, n)
	select {
	case <-wrote:
	case <-time.After(time.Second):
		assert.Fail(t, "write still blocked after drain")
	}
}

func Test_spool_final_write_always_accepted(t *testing.T) {
	sp := newSpool(4)
	assert.NoError(t, sp.write([]byte("aaaa"), false))
	done := make(chan struct{})
	go func() {
		// final write exceeds the budget but must not block
		sp.write([]byte("bbbbbbbb"), true)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		assert.Fail(t, "final write blocked")
	}
	got, err := spoolReadAll(sp)
	assert.NoError(t, err)
	assert.Equal(t, "aaaabbbbbbbb", string(got))
}

func Test_spool_discard_unblocks_producer(t *testing.T) {
	sp := newSpool(4)
	assert.NoError(t, sp.write([]byte("aaaa"), false))
	done := make(chan struct{})
	go func() {
		sp.write([]byte("bbbb"), false)
		sp.write([]byte("cccc"), true)
		close(done)
	}()
	sp.discard()
	select {
	case <-done:
	case <-time.After(time.Second):
		assert.Fail(t, "producer blocked after discard")
	}
}

func Test_spool_abort_fails_producer_and_consumer(t *testing.T) {
	sp := newSpool(16)
	assert.NoError(t, sp.write([]byte("partial"), false))
	sp.abort(RequestTimeout{})
	assert.Error(t, sp.write([]byte("more"), false))
	got, err := spoolReadAll(sp)
	assert.Equal(t, "partial", string(got))
	assert.Equal(t, RequestTimeout{}, err)
}

func Test_spool_replace(t *testing.T) {
	sp := newSpool(16)
	assert.NoError(t, sp.write([]byte("original"), false))
	assert.True(t, sp.replace([]byte("rendered error")))
	got, err := spoolReadAll(sp)
	assert.NoError(t, err)
	assert.Equal(t, "rendered error", string(got))
}

func Test_spool_replace_after_delivery_begun(t *testing.T) {
	sp := newSpool(16)
	assert.NoError(t, sp.write([]byte("original"), false))
	buf := make([]byte, 4)
	_, err := sp.consume(buf)
	assert.NoError(t, err)
	assert.False(t, sp.replace([]byte("too late")))
}
