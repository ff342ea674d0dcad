package dispatch

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickrun/internal/job"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("command tests use sh")
	}
}

func TestCommandRunnerSuccess(t *testing.T) {
	requireUnix(t)
	r := &CommandRunner{
		Name:    "hello",
		Argv:    []string{"sh", "-c", "echo hi"},
		Timeout: 10 * time.Second,
	}
	out := r.Run(context.Background())

	require.Equal(t, job.StatusOK, out.Status)
	assert.Contains(t, out.Output, "hi")
	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, "hello", out.Job)
	assert.False(t, out.Finished.Before(out.Started))
}

func TestCommandRunnerNonZeroExit(t *testing.T) {
	requireUnix(t)
	r := &CommandRunner{
		Name:    "boom",
		Argv:    []string{"sh", "-c", "echo oops >&2; exit 3"},
		Timeout: 10 * time.Second,
	}
	out := r.Run(context.Background())

	require.Equal(t, job.StatusFailed, out.Status)
	assert.Equal(t, job.ReasonExit, out.Reason)
	assert.Equal(t, 3, out.ExitCode)
	assert.Contains(t, out.Output, "oops")
}

func TestCommandRunnerTimeout(t *testing.T) {
	requireUnix(t)
	r := &CommandRunner{
		Name:    "slow",
		Argv:    []string{"sh", "-c", "sleep 30"},
		Timeout: 100 * time.Millisecond,
	}
	start := time.Now()
	out := r.Run(context.Background())

	require.Equal(t, job.StatusTimedOut, out.Status)
	assert.Equal(t, job.ReasonTimeout, out.Reason)
	// The process must be reaped well before its natural runtime; waitDelay
	// bounds the worst case.
	assert.Less(t, time.Since(start), 15*time.Second)
}

func TestCommandRunnerLaunchFailure(t *testing.T) {
	r := &CommandRunner{
		Name:    "ghost",
		Argv:    []string{"/definitely/not/a/binary"},
		Timeout: time.Second,
	}
	out := r.Run(context.Background())

	require.Equal(t, job.StatusFailed, out.Status)
	assert.Equal(t, job.ReasonTransport, out.Reason)
	assert.NotEmpty(t, out.Err)
}

func TestCommandRunnerEnv(t *testing.T) {
	requireUnix(t)
	r := &CommandRunner{
		Name:    "env",
		Argv:    []string{"sh", "-c", "echo $TICKRUN_TEST_VALUE"},
		Env:     map[string]string{"TICKRUN_TEST_VALUE": "wired"},
		Timeout: 10 * time.Second,
	}
	out := r.Run(context.Background())

	require.Equal(t, job.StatusOK, out.Status)
	assert.Contains(t, out.Output, "wired")
}
