package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tickrun/internal/dispatch"
	"tickrun/internal/job"
	"tickrun/internal/registry"
	"tickrun/internal/schedule"
	logx "tickrun/pkg/logx"
)

// stubRunner counts runs and optionally blocks until released.
type stubRunner struct {
	name  string
	runs  atomic.Int32
	block chan struct{} // nil means return immediately
}

func (r *stubRunner) Run(ctx context.Context) job.Outcome {
	r.runs.Add(1)
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
		}
	}
	now := time.Now()
	return job.Outcome{RunID: "test", Job: r.name, Status: job.StatusOK, Started: now, Finished: now}
}

func testEntry(t *testing.T, name, expr string, r dispatch.Runner) *registry.Entry {
	t.Helper()
	trig, err := schedule.ParseCron(expr, time.UTC)
	if err != nil {
		t.Fatalf("ParseCron(%q): %v", expr, err)
	}
	return &registry.Entry{
		Def:     job.Definition{Name: name, Schedule: expr, Type: job.TypeCommand, Command: []string{"true"}},
		Trigger: trig,
		Runner:  r,
		Timeout: time.Minute,
	}
}

func newTestService(entries ...*registry.Entry) *Service {
	s := New(Config{Location: time.UTC}, logx.Nop())
	s.Reload(entries)
	return s
}

// drain waits for in-flight dispatch goroutines so counters are stable.
func drain(s *Service) { s.wg.Wait() }

func TestEvaluateDispatchesMatchingMinute(t *testing.T) {
	r := &stubRunner{name: "everyminute"}
	s := newTestService(testEntry(t, "everyminute", "* * * * *", r))

	at := time.Date(2026, 8, 25, 6, 0, 10, 0, time.UTC)
	if got := s.evaluate(at); got != 1 {
		t.Fatalf("dispatched = %d, want 1", got)
	}
	drain(s)
	if r.runs.Load() != 1 {
		t.Fatalf("runs = %d, want 1", r.runs.Load())
	}
}

func TestNoDoubleDispatchWithinMinute(t *testing.T) {
	r := &stubRunner{name: "everyminute"}
	s := newTestService(testEntry(t, "everyminute", "* * * * *", r))

	base := time.Date(2026, 8, 25, 6, 0, 0, 0, time.UTC)
	total := 0
	// Several polls landing inside the same matching minute.
	for _, offset := range []time.Duration{5 * time.Second, 25 * time.Second, 55 * time.Second} {
		total += s.evaluate(base.Add(offset))
	}
	if total != 1 {
		t.Fatalf("dispatched = %d, want 1", total)
	}

	// The next minute fires again.
	if got := s.evaluate(base.Add(65 * time.Second)); got != 1 {
		t.Fatalf("next minute dispatched = %d, want 1", got)
	}
	drain(s)
}

func TestNoDoubleDispatchWhileRunning(t *testing.T) {
	r := &stubRunner{name: "slow", block: make(chan struct{})}
	s := newTestService(testEntry(t, "slow", "* * * * *", r))

	at := time.Date(2026, 8, 25, 6, 0, 10, 0, time.UTC)
	if got := s.evaluate(at); got != 1 {
		t.Fatalf("dispatched = %d, want 1", got)
	}
	// Marker was set before the run finished, so a second poll in the same
	// minute does nothing even though the job is still executing.
	if got := s.evaluate(at.Add(30 * time.Second)); got != 0 {
		t.Fatalf("second poll dispatched = %d, want 0", got)
	}
	close(r.block)
	drain(s)
	if r.runs.Load() != 1 {
		t.Fatalf("runs = %d, want 1", r.runs.Load())
	}
}

func TestCatchUpFiresOnceAfterStall(t *testing.T) {
	r := &stubRunner{name: "everyminute"}
	s := newTestService(testEntry(t, "everyminute", "* * * * *", r))

	base := time.Date(2026, 8, 25, 6, 0, 5, 0, time.UTC)
	if got := s.evaluate(base); got != 1 {
		t.Fatalf("first tick dispatched = %d, want 1", got)
	}
	// Process suspended across five matching minutes; exactly one catch-up
	// dispatch, not five.
	if got := s.evaluate(base.Add(5 * time.Minute)); got != 1 {
		t.Fatalf("catch-up dispatched = %d, want 1", got)
	}
	drain(s)
	if r.runs.Load() != 2 {
		t.Fatalf("runs = %d, want 2", r.runs.Load())
	}
}

func TestCatchUpRecoversMissedMinute(t *testing.T) {
	r := &stubRunner{name: "morning"}
	s := newTestService(testEntry(t, "morning", "30 6 * * *", r))

	// Tick before the trigger minute, then a wake three minutes past it.
	if got := s.evaluate(time.Date(2026, 8, 25, 6, 28, 10, 0, time.UTC)); got != 0 {
		t.Fatalf("pre-trigger dispatched = %d, want 0", got)
	}
	if got := s.evaluate(time.Date(2026, 8, 25, 6, 33, 20, 0, time.UTC)); got != 1 {
		t.Fatalf("late wake dispatched = %d, want 1", got)
	}
	// Following ticks do not re-fire for the caught-up minute.
	if got := s.evaluate(time.Date(2026, 8, 25, 6, 33, 50, 0, time.UTC)); got != 0 {
		t.Fatalf("follow-up dispatched = %d, want 0", got)
	}
	drain(s)
}

func TestCatchUpBoundedByHorizon(t *testing.T) {
	r := &stubRunner{name: "morning"}
	s := newTestService(testEntry(t, "morning", "30 6 * * *", r))

	if got := s.evaluate(time.Date(2026, 8, 25, 6, 0, 0, 0, time.UTC)); got != 0 {
		t.Fatalf("pre-trigger dispatched = %d, want 0", got)
	}
	// A wake far beyond the horizon only considers the current minute.
	if got := s.evaluate(time.Date(2026, 8, 25, 23, 0, 0, 0, time.UTC)); got != 0 {
		t.Fatalf("stale wake dispatched = %d, want 0", got)
	}
	if r.runs.Load() != 0 {
		t.Fatalf("runs = %d, want 0", r.runs.Load())
	}
}

func TestSlowJobDoesNotBlockSiblings(t *testing.T) {
	slow := &stubRunner{name: "slow", block: make(chan struct{})}
	fast := &stubRunner{name: "fast"}
	s := newTestService(
		testEntry(t, "slow", "* * * * *", slow),
		testEntry(t, "fast", "* * * * *", fast),
	)

	at := time.Date(2026, 8, 25, 6, 0, 10, 0, time.UTC)
	if got := s.evaluate(at); got != 2 {
		t.Fatalf("dispatched = %d, want 2", got)
	}

	// The fast sibling completes while the slow one is stuck.
	deadline := time.After(2 * time.Second)
	for fast.runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("fast job never ran")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	close(slow.block)
	drain(s)
}

func TestReloadKeepsMarkersForUnchangedJobs(t *testing.T) {
	r := &stubRunner{name: "everyminute"}
	mk := func(runner *stubRunner) *registry.Entry {
		return testEntry(t, "everyminute", "* * * * *", runner)
	}
	s := newTestService(mk(r))

	at := time.Date(2026, 8, 25, 6, 0, 10, 0, time.UTC)
	if got := s.evaluate(at); got != 1 {
		t.Fatalf("dispatched = %d, want 1", got)
	}
	drain(s)

	// Reload with an identical definition mid-minute: marker survives, no
	// duplicate fire.
	r2 := &stubRunner{name: "everyminute"}
	s.Reload([]*registry.Entry{mk(r2)})
	if got := s.evaluate(at.Add(20 * time.Second)); got != 0 {
		t.Fatalf("post-reload dispatched = %d, want 0", got)
	}

	// A changed definition resets the marker and may fire again.
	changed := testEntry(t, "everyminute", "*/1 * * * *", r2)
	s.Reload([]*registry.Entry{changed})
	if got := s.evaluate(at.Add(40 * time.Second)); got != 1 {
		t.Fatalf("changed-def dispatched = %d, want 1", got)
	}
	drain(s)
}

func TestRunOnce(t *testing.T) {
	r := &stubRunner{name: "target"}
	s := newTestService(testEntry(t, "target", "0 1 * * *", r))

	out, err := s.RunOnce(context.Background(), "target")
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if out.Status != job.StatusOK {
		t.Fatalf("Status = %s, want ok", out.Status)
	}
	if r.runs.Load() != 1 {
		t.Fatalf("runs = %d, want 1", r.runs.Load())
	}

	if _, err := s.RunOnce(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestSinksReceiveOutcomes(t *testing.T) {
	var mu sync.Mutex
	var got []job.Outcome
	sink := SinkFunc(func(_ context.Context, o job.Outcome) {
		mu.Lock()
		got = append(got, o)
		mu.Unlock()
	})

	r := &stubRunner{name: "everyminute"}
	s := New(Config{Location: time.UTC}, logx.Nop(), sink)
	s.Reload([]*registry.Entry{testEntry(t, "everyminute", "* * * * *", r)})

	s.evaluate(time.Date(2026, 8, 25, 6, 0, 10, 0, time.UTC))
	drain(s)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("sink outcomes = %d, want 1", len(got))
	}
	if got[0].Job != "everyminute" || got[0].Status != job.StatusOK {
		t.Fatalf("unexpected outcome: %+v", got[0])
	}
}
