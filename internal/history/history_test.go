package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tickrun/internal/job"
	"tickrun/pkg/logx"
)

func outcome(name string, st job.Status) job.Outcome {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return job.Outcome{
		RunID:    "run-" + name,
		Job:      name,
		Status:   st,
		Output:   "done",
		Started:  now.Add(-time.Second),
		Finished: now,
	}
}

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q) error: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) = %T, want nil", driver, st)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		if err := st.Append(ctx, outcome(name, job.StatusOK)); err != nil {
			t.Fatalf("Append(%s): %v", name, err)
		}
	}

	got, err := st.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent len = %d, want 2", len(got))
	}
	// Newest first.
	if got[0].Job != "c" || got[1].Job != "b" {
		t.Fatalf("Recent order = %s,%s, want c,b", got[0].Job, got[1].Job)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	o := outcome("backup", job.StatusFailed)
	o.Reason = job.ReasonExit
	o.ExitCode = 3
	if err := st.Append(ctx, o); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Recent len = %d, want 1", len(got))
	}
	r := got[0]
	if r.Job != "backup" || r.Status != job.StatusFailed || r.Reason != job.ReasonExit || r.ExitCode != 3 {
		t.Fatalf("unexpected row: %+v", r)
	}
	if !r.Started.Before(r.Finished) {
		t.Fatalf("timestamps not preserved: %s / %s", r.Started, r.Finished)
	}
}
