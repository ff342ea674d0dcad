package scheduler

import (
	"context"
	"time"

	logx "tickrun/pkg/logx"
)

// Run drives the poll loop until ctx is canceled, then gives in-flight
// dispatches ShutdownGrace to finish before canceling them. It always
// returns nil; dispatch failures are outcomes, not loop errors.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("scheduler started",
		logx.Duration("poll_interval", s.cfg.PollInterval),
		logx.String("tz", s.cfg.Location.String()),
	)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	// Evaluate once immediately so a job due in the startup minute is not
	// skipped by ticker alignment.
	s.evaluate(time.Now())

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case now := <-ticker.C:
			s.evaluate(now)
		}
	}
}

func (s *Service) shutdown() {
	s.log.Info("scheduler stopping; waiting for in-flight jobs",
		logx.Duration("grace", s.cfg.ShutdownGrace))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGrace):
		s.log.Warn("grace period elapsed; canceling in-flight jobs")
		s.dispatchCancel()
		<-done
	}
	s.dispatchCancel()
	s.log.Info("scheduler stopped")
}

// evaluate is one tick: find each job's due minute, mark it fired, and hand
// it off. Exposed to tests via the package; the loop is its only caller
// otherwise.
func (s *Service) evaluate(now time.Time) int {
	nowMin := now.In(s.cfg.Location).Truncate(time.Minute)

	s.mu.Lock()
	prev := s.lastTick
	firstOfMinute := !nowMin.Equal(prev)
	s.lastTick = nowMin

	// Scan window is (prev, nowMin]. On the first tick only the current
	// minute is considered: triggers from before process start are not ours
	// to fire. A late wake scans backwards at most CatchUpHorizon. Re-polls
	// inside one minute keep the window at just that minute; the per-job
	// marker is what prevents a duplicate fire there.
	switch {
	case prev.IsZero() || !prev.Before(nowMin):
		prev = nowMin.Add(-time.Minute)
	case nowMin.Sub(prev) > s.cfg.CatchUpHorizon:
		prev = nowMin.Add(-s.cfg.CatchUpHorizon)
	}

	type firing struct {
		sl  *slot
		due time.Time
	}
	var due []firing

	for _, sl := range s.slots {
		for m := nowMin; m.After(prev); m = m.Add(-time.Minute) {
			if !m.After(sl.lastFired) {
				// Already dispatched for this minute or a later one.
				break
			}
			if sl.entry.Trigger.Matches(m) {
				// Marker moves before dispatch starts: a slow run can
				// never cause a second trigger for the same minute.
				sl.lastFired = m
				due = append(due, firing{sl: sl, due: m})
				break
			}
		}
	}
	jobCount := len(s.slots)
	s.mu.Unlock()

	for _, f := range due {
		f := f
		s.log.Info("job due",
			logx.String("job", f.sl.entry.Def.Name),
			logx.Time("minute", f.due),
		)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			out := f.sl.entry.Runner.Run(s.dispatchCtx)
			s.record(s.dispatchCtx, out)
		}()
	}

	// Hourly heartbeat so quiet deployments still show signs of life.
	if nowMin.Minute() == 0 && firstOfMinute {
		s.log.Info("tick status",
			logx.Time("minute", nowMin),
			logx.Int("jobs", jobCount),
			logx.Int("dispatched", len(due)),
		)
	} else {
		s.log.Debug("tick",
			logx.Time("minute", nowMin),
			logx.Int("dispatched", len(due)),
		)
	}

	return len(due)
}
