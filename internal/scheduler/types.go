package scheduler

import (
	"context"
	"time"

	"tickrun/internal/job"
	"tickrun/internal/registry"
)

// Config controls the poll loop.
type Config struct {
	// PollInterval is how often the loop wakes. Default 30s.
	PollInterval time.Duration

	// Location is the timezone trigger instants are evaluated in.
	// Nil means the host's local zone.
	Location *time.Location

	// CatchUpHorizon bounds how far back a late tick scans for a missed
	// trigger minute. Default 6h.
	CatchUpHorizon time.Duration

	// ShutdownGrace bounds how long in-flight dispatches may run after the
	// loop stops before their contexts are canceled. Default 30s.
	ShutdownGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.CatchUpHorizon <= 0 {
		c.CatchUpHorizon = 6 * time.Hour
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
	return c
}

// Sink receives the final outcome of every dispatch. Implementations must
// not block for long; slow consumers should queue internally.
type Sink interface {
	Record(ctx context.Context, o job.Outcome)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, o job.Outcome)

func (f SinkFunc) Record(ctx context.Context, o job.Outcome) { f(ctx, o) }

// slot is one scheduled job plus its mutable fire-state. lastFired is the
// trigger minute the job was most recently dispatched for; the zero value
// means never (process start or changed definition).
type slot struct {
	entry     *registry.Entry
	lastFired time.Time
}

// JobInfo is a read-only view of one loaded job, for status logging.
type JobInfo struct {
	Name      string
	Expr      string
	Timeout   time.Duration
	LastFired time.Time
	Next      time.Time
}

// Snapshot is a point-in-time view of the loop state.
type Snapshot struct {
	Timezone string
	Jobs     []JobInfo
}
