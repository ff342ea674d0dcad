// Package dispatch executes job actions under a deadline and folds every
// failure mode into a job.Outcome. Nothing in this package propagates an
// error past Run: a dispatch either succeeds, fails, or times out, and the
// caller always gets a final outcome to log.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tickrun/internal/job"
)

// maxCapturedOutput bounds what we keep from a subprocess or response body.
// Full output still goes to the child's pipes; this is only the slice that
// lands in logs and the history store.
const maxCapturedOutput = 8 * 1024

// Runner executes one job action. Implementations are stateless across
// invocations and safe for concurrent use; per-run state lives on the stack.
type Runner interface {
	Run(ctx context.Context) job.Outcome
}

func newOutcome(name string) job.Outcome {
	return job.Outcome{
		RunID:   uuid.NewString(),
		Job:     name,
		Started: time.Now(),
	}
}

func truncateOutput(b []byte) string {
	if len(b) <= maxCapturedOutput {
		return string(b)
	}
	return string(b[:maxCapturedOutput]) + "\n... (truncated)"
}
