package dispatch

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"tickrun/internal/job"
)

// CommandRunner launches a configured argument vector as a child process
// and waits for it under the job timeout. On deadline the process is killed
// (with a short grace for its pipes to drain) and the outcome is timed_out.
type CommandRunner struct {
	Name    string
	Argv    []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
}

// waitDelay bounds how long we wait for I/O after killing a timed-out
// process, so a child that inherited our pipes cannot wedge the dispatcher.
const waitDelay = 5 * time.Second

func (r *CommandRunner) Run(ctx context.Context) job.Outcome {
	out := newOutcome(r.Name)

	runCtx := ctx
	var cancel context.CancelFunc
	if r.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, r.Argv[0], r.Argv[1:]...)
	cmd.Dir = r.Dir
	cmd.WaitDelay = waitDelay
	if len(r.Env) > 0 {
		env := os.Environ()
		for k, v := range r.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	combined, err := cmd.CombinedOutput()
	out.Finished = time.Now()
	out.Output = truncateOutput(combined)

	switch {
	case err == nil:
		out.Status = job.StatusOK
	case runCtx.Err() == context.DeadlineExceeded:
		out.Status = job.StatusTimedOut
		out.Reason = job.ReasonTimeout
		out.Err = "deadline exceeded after " + r.Timeout.String()
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.Status = job.StatusFailed
			out.Reason = job.ReasonExit
			out.ExitCode = exitErr.ExitCode()
			out.Err = err.Error()
		} else {
			// Could not launch at all (missing binary, permission, ...).
			out.Status = job.StatusFailed
			out.Reason = job.ReasonTransport
			out.Err = err.Error()
		}
	}
	return out
}
