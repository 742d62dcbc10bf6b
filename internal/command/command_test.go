package command

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesOutput(t *testing.T) {
	t.Parallel()

	result, err := ExecRunner{}.Run(context.Background(), 5*time.Second, "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Code)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.False(t, result.TimedOut)
}

func TestRunNonZeroExit(t *testing.T) {
	t.Parallel()

	result, err := ExecRunner{}.Run(context.Background(), 5*time.Second, "false")
	require.NoError(t, err)
	assert.NotEqual(t, 0, result.Code)
}

func TestRunMissingBinary(t *testing.T) {
	t.Parallel()

	result, err := ExecRunner{}.Run(context.Background(), 5*time.Second, "definitely-not-a-binary-xyz")
	assert.Error(t, err)
	assert.Equal(t, -1, result.Code)
}

func TestRunTimeout(t *testing.T) {
	t.Parallel()

	start := time.Now()
	result, err := ExecRunner{}.Run(context.Background(), 200*time.Millisecond, "sleep", "5")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, result.TimedOut)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestOutputPrefersStdout(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "out", Result{Stdout: "out", Stderr: "err"}.Output())
	assert.Equal(t, "err", Result{Stderr: "err"}.Output())
	assert.Equal(t, "err", Result{Stdout: "  \n", Stderr: "err"}.Output())
}

func TestCappedWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := &cappedWriter{buf: &buf, limit: 4}

	n, err := w.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n) // reports full write, stores the cap
	assert.Equal(t, "abcd", buf.String())

	n, err = w.Write([]byte("xyz"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "abcd", buf.String())
}
