package stream

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	stderrTail = 4 << 10
	// waitDelay bounds how long a killed stage's stderr may be held open
	// by processes it spawned.
	waitDelay = 2 * time.Second
)

// ProcessError reports a pipeline stage that could not start or exited
// unsuccessfully.
type ProcessError struct {
	Stage  string
	Err    error
	Stderr string
}

func (e *ProcessError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Stage, e.Err, e.Stderr)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// tailBuffer keeps the last stderrTail bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - stderrTail; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

type stage struct {
	name   string
	cmd    *exec.Cmd
	stderr *tailBuffer
}

func newStage(name string, cmd *exec.Cmd) *stage {
	st := &stage{name: name, cmd: cmd, stderr: &tailBuffer{}}
	cmd.Stderr = st.stderr
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = waitDelay
	}
	return st
}

// Stream is the encoded output of a running pipeline. It owns every process
// in the pipeline: Close kills and reaps them, and a read that reaches the
// end of the output reports a failed stage as a *ProcessError.
type Stream struct {
	stdout io.ReadCloser
	cancel context.CancelFunc
	stages []*stage
	total  int

	waitOnce  sync.Once
	waitErr   error
	closeOnce sync.Once
}

// startStages starts the stages in order and returns a Stream reading the
// stdout of the last one. cancel must cancel the context the commands were
// created with.
func startStages(cancel context.CancelFunc, stages ...*stage) (*Stream, error) {
	last := stages[len(stages)-1]
	stdout, err := last.cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "stdout pipe")
	}

	s := &Stream{stdout: stdout, cancel: cancel, total: len(stages)}
	for _, st := range stages {
		if err := st.cmd.Start(); err != nil {
			_ = s.Close()
			return nil, &ProcessError{Stage: st.name, Err: err}
		}
		s.stages = append(s.stages, st)
	}
	return s, nil
}

func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if errors.Is(err, io.EOF) {
		if werr := s.wait(); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		if len(s.stages) < s.total {
			_ = s.stdout.Close()
		}
		_ = s.wait()
	})
	return nil
}

// wait reaps every started stage, last first, and returns the first failure.
func (s *Stream) wait() error {
	s.waitOnce.Do(func() {
		for i := len(s.stages) - 1; i >= 0; i-- {
			st := s.stages[i]
			if err := st.cmd.Wait(); err != nil && s.waitErr == nil {
				s.waitErr = &ProcessError{Stage: st.name, Err: err, Stderr: st.stderr.String()}
				// Upstream stages may block on a reader that is gone.
				s.cancel()
			}
		}
		s.cancel()
	})
	return s.waitErr
}
