package scgid

import (
	"bufio"
	"bytes"
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func Test_WorkerState_String(t *testing.T) {
	assert.Equal(t, "SPAWNING", WorkerSpawning.String())
	assert.Equal(t, "IDLE", WorkerIdle.String())
	assert.Equal(t, "BUSY", WorkerBusy.String())
	assert.Equal(t, "DRAINING", WorkerDraining.String())
	assert.Equal(t, "CRASHED", WorkerCrashed.String())
	assert.Equal(t, "WorkerState(99)", WorkerState(99).String())
}

func Test_Worker_awaitReady(t *testing.T) {
	ft := newFakeTransport(1)
	w := &Worker{}
	w.attach(ft)
	go ft.outW.Write([]byte{ReadyByte})
	assert.NoError(t, w.awaitReady(time.Second))
	ft.exit(nil)
}

func Test_Worker_awaitReady_wrong_byte(t *testing.T) {
	ft := newFakeTransport(1)
	w := &Worker{}
	w.attach(ft)
	go ft.outW.Write([]byte{'x'})
	assert.Error(t, w.awaitReady(time.Second))
	ft.exit(nil)
}

func Test_Worker_awaitReady_timeout(t *testing.T) {
	ft := newFakeTransport(1)
	w := &Worker{}
	w.attach(ft)
	err := w.awaitReady(time.Millisecond * 20)
	if assert.Error(t, err) {
		assert.IsType(t, timeoutError{}, errors.Cause(err))
	}
}

// TestHelperProcess is not a test: re-executed as a subprocess it
// behaves like an echo worker speaking frames on stdin/stdout.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_TEST_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)
	out := bufio.NewWriter(os.Stdout)
	out.WriteByte(ReadyByte)
	out.Flush()
	dec := NewDecoder(0)
	buf := make([]byte, 4096)
	for {
		frame, err := dec.Next()
		if err != nil {
			os.Exit(1)
		}
		if frame == nil {
			n, rerr := os.Stdin.Read(buf)
			if n > 0 {
				dec.Write(buf[:n])
			}
			if rerr != nil {
				return
			}
			continue
		}
		out.Write(AppendNetstring(nil, frame.Body))
		out.Flush()
	}
}

func helperWorkerCommand() []string {
	return []string{"env", "GO_TEST_HELPER_PROCESS=1",
		os.Args[0], "-test.run=TestHelperProcess", "--"}
}

// exercises the real subprocess transport end to end
func Test_Pool_subprocess_exchange(t *testing.T) {
	defer leaktest.Check(t)()
	cfg := testPoolConfig()
	cfg.WorkerCommand = helperWorkerCommand()
	p := NewPool(cfg, nil, nil)
	p.Start()
	defer p.Close()
	waitFor(t, "an idle worker", func() bool { return idleCount(p) == 1 })

	w := p.Acquire()
	if !assert.NotNil(t, w) {
		return
	}
	assert.NotZero(t, w.Pid())
	fd := AppendFrame(nil, Header{{Name: "PATH_INFO", Value: "/live"}}, []byte("live data"))
	_, err := w.tr.Write(fd)
	assert.NoError(t, err)
	payload, err := io.ReadAll(NewNetstringReader(w.br))
	assert.NoError(t, err)
	assert.Equal(t, "live data", string(payload))
	p.Finish(w, nil)
}

func Test_stderrRelay_splits_lines(t *testing.T) {
	var buf bytes.Buffer
	old := log.Writer()
	flags := log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(old)
		log.SetFlags(flags)
	}()

	sr := &stderrRelay{name: "app"}
	sr.Write([]byte("first li"))
	assert.Zero(t, buf.Len())
	sr.Write([]byte("ne\nsecond line\ntrailing"))
	assert.Equal(t, "worker app: first line\nworker app: second line\n", buf.String())
	assert.Equal(t, []byte("trailing"), sr.rest)
}
