package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tickrun/internal/config"
	"tickrun/internal/job"
	"tickrun/internal/registry"
	logx "tickrun/pkg/logx"
)

// Service owns the job slots and the poll loop. All slot access happens
// under mu, so a hot-reload can never race a marker update.
type Service struct {
	mu       sync.Mutex
	cfg      Config
	slots    []*slot
	lastTick time.Time // minute of the previous evaluation, zero before the first

	log   logx.Logger
	sinks []Sink

	// dispatchCtx outlives the loop context by ShutdownGrace so in-flight
	// jobs can finish; after the grace it is canceled and runners fold the
	// cancellation into their final outcome.
	dispatchCtx    context.Context
	dispatchCancel context.CancelFunc
	wg             sync.WaitGroup
}

func New(cfg Config, log logx.Logger, sinks ...Sink) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:            cfg.withDefaults(),
		log:            log,
		sinks:          sinks,
		dispatchCtx:    ctx,
		dispatchCancel: cancel,
	}
}

// Reload swaps the job list. Slots whose definition is unchanged keep their
// last-fired marker; new, changed, or re-added jobs start clean.
func (s *Service) Reload(entries []*registry.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := make(map[string]*slot, len(s.slots))
	for _, sl := range s.slots {
		old[sl.entry.Def.Name] = sl
	}

	next := make([]*slot, 0, len(entries))
	kept := 0
	for _, e := range entries {
		sl := &slot{entry: e}
		if prev, ok := old[e.Def.Name]; ok && config.SameDefinition(prev.entry.Def, e.Def) {
			sl.lastFired = prev.lastFired
			kept++
		}
		next = append(next, sl)
	}
	s.slots = next

	s.log.Info("jobs loaded",
		logx.Int("jobs", len(next)),
		logx.Int("markers_kept", kept),
		logx.String("tz", s.cfg.Location.String()),
	)
}

// JobNames returns the loaded job names in order.
func (s *Service) JobNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.slots))
	for i, sl := range s.slots {
		names[i] = sl.entry.Def.Name
	}
	return names
}

// RunOnce executes one named job immediately and synchronously, bypassing
// its schedule. Used by the on-demand CLI mode.
func (s *Service) RunOnce(ctx context.Context, name string) (job.Outcome, error) {
	s.mu.Lock()
	var e *registry.Entry
	for _, sl := range s.slots {
		if sl.entry.Def.Name == name {
			e = sl.entry
			break
		}
	}
	s.mu.Unlock()

	if e == nil {
		return job.Outcome{}, fmt.Errorf("unknown job %q", name)
	}

	s.log.Info("running job on demand", logx.String("job", name))
	out := e.Runner.Run(ctx)
	s.record(ctx, out)
	return out, nil
}

// Snapshot reports the loaded jobs, their markers, and next fire instants.
func (s *Service) Snapshot(now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Timezone: s.cfg.Location.String()}
	for _, sl := range s.slots {
		snap.Jobs = append(snap.Jobs, JobInfo{
			Name:      sl.entry.Def.Name,
			Expr:      sl.entry.Trigger.Expr,
			Timeout:   sl.entry.Timeout,
			LastFired: sl.lastFired,
			Next:      sl.entry.Trigger.NextAfter(now),
		})
	}
	return snap
}

func (s *Service) record(ctx context.Context, out job.Outcome) {
	lvl := s.log.Info
	if !out.Succeeded() {
		lvl = s.log.Error
	}
	lvl("job finished",
		logx.String("job", out.Job),
		logx.String("run_id", out.RunID),
		logx.String("status", string(out.Status)),
		logx.String("reason", string(out.Reason)),
		logx.Int("exit_code", out.ExitCode),
		logx.Int("http_status", out.HTTPStatus),
		logx.Duration("dur", out.Duration()),
	)
	for _, sink := range s.sinks {
		sink.Record(ctx, out)
	}
}
