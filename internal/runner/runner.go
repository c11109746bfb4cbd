// Package runner launches one external generator tool as a subprocess and
// exposes its standard output as a stream of lines. A Process is good for a
// single invocation: it reports exactly one Result, enforcing the configured
// timeout with a graceful-then-forceful termination sequence, and the same
// sequence on context cancellation.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/saltyhash/docpipe/internal/errors"
	"github.com/saltyhash/docpipe/internal/logging"
)

// Status classifies the outcome of one subprocess invocation.
type Status string

const (
	// StatusSucceeded means the process exited with code zero.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the process exited non-zero or failed to run.
	StatusFailed Status = "failed"
	// StatusTimedOut means the process exceeded its configured timeout and
	// was terminated.
	StatusTimedOut Status = "timed-out"
	// StatusCancelled means the invocation's context was cancelled and the
	// process was terminated.
	StatusCancelled Status = "cancelled"
)

// stderrLimit bounds how much captured standard error is carried in a
// Result. Generators can be chatty; only the tail is diagnostic.
const stderrLimit = 4096

// defaultGrace is used when Spec.Grace is zero.
const defaultGrace = 5 * time.Second

// Spec describes one subprocess invocation.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	Env     []string // appended to the inherited environment
	Timeout time.Duration
	// Grace is the window between SIGTERM and SIGKILL when the process is
	// terminated for timeout or cancellation.
	Grace time.Duration
}

// Result is the single terminal outcome of an invocation.
type Result struct {
	Status   Status
	ExitCode int // -1 if the process was terminated or never ran
	Stderr   string
	Err      error
}

// Process is one live (or finished) subprocess invocation. Callers must
// drain Lines until it is closed, then call Wait for the outcome; Wait is
// idempotent and returns the same cached Result on every call.
type Process struct {
	cmd    *exec.Cmd
	lines  chan string
	done   chan struct{}
	once   sync.Once
	result Result
	logger *logging.Logger
}

// Start launches the subprocess described by spec. The process's stdin is
// closed so a generator that tries to prompt fails fast instead of hanging.
func Start(ctx context.Context, spec Spec, logger *logging.Logger) (*Process, error) {
	if spec.Command == "" {
		return nil, errors.New("runner: command must not be empty")
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	if spec.Grace <= 0 {
		spec.Grace = defaultGrace
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &Process{
		cmd:    cmd,
		lines:  make(chan string, 256),
		done:   make(chan struct{}),
		logger: logger.With("command", spec.Command),
	}

	exited := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			p.lines <- sc.Text()
		}
		close(p.lines)
		exited <- cmd.Wait()
	}()

	go p.supervise(ctx, spec, exited, &stderr)

	return p, nil
}

// Lines returns the subprocess's standard output, one line at a time. The
// channel is closed when the output stream ends.
func (p *Process) Lines() <-chan string {
	return p.lines
}

// Wait blocks until the invocation has a terminal outcome and returns it.
// Repeated calls return the same cached Result.
func (p *Process) Wait() Result {
	<-p.done
	return p.result
}

// supervise watches for natural exit, context cancellation, and timeout,
// and records exactly one Result.
func (p *Process) supervise(ctx context.Context, spec Spec, exited <-chan error, stderr *bytes.Buffer) {
	var timeoutCh <-chan time.Time
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case err := <-exited:
		p.finish(resultFromExit(err, stderr))

	case <-ctx.Done():
		p.logger.Info("terminating subprocess on cancellation")
		p.terminate(spec.Grace, exited)
		p.finish(Result{Status: StatusCancelled, ExitCode: -1, Stderr: tail(stderr)})

	case <-timeoutCh:
		p.logger.Warn("terminating subprocess on timeout", "timeout", spec.Timeout.String())
		p.terminate(spec.Grace, exited)
		p.finish(Result{Status: StatusTimedOut, ExitCode: -1, Stderr: tail(stderr)})
	}
}

// terminate sends SIGTERM and escalates to SIGKILL if the process does not
// exit within the grace window. It returns once the process has exited.
func (p *Process) terminate(grace time.Duration, exited <-chan error) {
	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-exited:
		return
	case <-time.After(grace):
		p.logger.Warn("subprocess ignored SIGTERM, killing")
		_ = p.cmd.Process.Kill()
		<-exited
	}
}

// finish records the terminal Result exactly once.
func (p *Process) finish(res Result) {
	p.once.Do(func() {
		p.result = res
		close(p.done)
	})
}

// resultFromExit maps a cmd.Wait error to a Result for a natural exit.
func resultFromExit(err error, stderr *bytes.Buffer) Result {
	if err == nil {
		return Result{Status: StatusSucceeded, ExitCode: 0, Stderr: tail(stderr)}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{
			Status:   StatusFailed,
			ExitCode: exitErr.ExitCode(),
			Stderr:   tail(stderr),
			Err:      err,
		}
	}
	return Result{Status: StatusFailed, ExitCode: -1, Stderr: tail(stderr), Err: err}
}

// tail returns at most the last stderrLimit bytes of captured stderr.
func tail(buf *bytes.Buffer) string {
	b := buf.Bytes()
	if len(b) > stderrLimit {
		b = b[len(b)-stderrLimit:]
	}
	return string(b)
}
