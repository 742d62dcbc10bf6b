package command

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"time"
)

// Result carries the outcome of a subprocess run.
type Result struct {
	Stdout   string
	Stderr   string
	Code     int
	TimedOut bool
}

// Output returns stdout, or stderr when stdout is empty. Useful for
// error reporting.
func (r Result) Output() string {
	if strings.TrimSpace(r.Stdout) != "" {
		return r.Stdout
	}
	return r.Stderr
}

// Runner executes argv vectors. The single implementation wraps
// os/exec; tests substitute a stub.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error)
}

// ExecRunner runs commands through os/exec with a wall-clock timeout
// and an output cap. A shell is never involved.
type ExecRunner struct {
	// MaxOutputBytes caps each of stdout and stderr. Zero means the
	// 5 MiB default.
	MaxOutputBytes int64
}

const defaultMaxOutput = 5 << 20

// Run executes the argv vector. The returned error is non-nil only
// when the process could not be run at all; a non-zero exit lands in
// Result.Code with stderr captured.
func (e ExecRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	maxBytes := e.MaxOutputBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxOutput
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &cappedWriter{buf: &stdout, limit: maxBytes}
	cmd.Stderr = &cappedWriter{buf: &stderr, limit: maxBytes}

	err := cmd.Run()

	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.Code = -1
		return result, context.DeadlineExceeded
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.Code = exitErr.ExitCode()
			return result, nil
		}
		result.Code = -1
		return result, err
	}
	return result, nil
}

// cappedWriter discards bytes past the limit so a runaway subprocess
// cannot exhaust memory.
type cappedWriter struct {
	buf   *bytes.Buffer
	limit int64
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	remaining := w.limit - int64(w.buf.Len())
	if remaining <= 0 {
		return len(p), nil
	}
	if int64(len(p)) > remaining {
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	return w.buf.Write(p)
}

var _ io.Writer = (*cappedWriter)(nil)
