package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickrun/internal/job"
	"tickrun/pkg/logx"
)

func testOutcome(name string, st job.Status) job.Outcome {
	now := time.Now()
	return job.Outcome{
		RunID:    "r-" + name,
		Job:      name,
		Status:   st,
		Started:  now.Add(-time.Second),
		Finished: now,
	}
}

func TestNotifierDeliversOutcome(t *testing.T) {
	var (
		mu   sync.Mutex
		got  []job.Outcome
		done = make(chan struct{}, 8)
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var o job.Outcome
		require.NoError(t, json.NewDecoder(r.Body).Decode(&o))
		mu.Lock()
		got = append(got, o)
		mu.Unlock()
		done <- struct{}{}
	}))
	defer srv.Close()

	n := New(Config{Enabled: true, URL: srv.URL, RatePerSec: 100}, logx.Nop())
	n.Start(context.Background())
	defer n.Stop(context.Background())

	n.Record(context.Background(), testOutcome("nightly-backup", job.StatusFailed))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not called")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "nightly-backup", got[0].Job)
	assert.Equal(t, job.StatusFailed, got[0].Status)
	assert.Equal(t, "r-nightly-backup", got[0].RunID)
}

func TestNotifierOnlyFailedSkipsSuccess(t *testing.T) {
	calls := make(chan struct{}, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls <- struct{}{}
	}))
	defer srv.Close()

	n := New(Config{Enabled: true, URL: srv.URL, RatePerSec: 100, OnlyFailed: true}, logx.Nop())
	n.Start(context.Background())

	n.Record(context.Background(), testOutcome("ok-job", job.StatusOK))
	n.Record(context.Background(), testOutcome("bad-job", job.StatusTimedOut))

	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("failed outcome was not delivered")
	}

	// Drain remaining in-flight sends before asserting nothing else arrived.
	n.Stop(context.Background())
	select {
	case <-calls:
		t.Fatal("successful outcome should have been filtered")
	default:
	}
}

func TestNotifierDisabledDropsSilently(t *testing.T) {
	n := New(Config{Enabled: false, URL: "http://127.0.0.1:1/hook"}, logx.Nop())
	n.Start(context.Background())
	// No queue exists; Record must not panic or block.
	n.Record(context.Background(), testOutcome("a", job.StatusOK))
	n.Stop(context.Background())
}

func TestNotifierRecordNeverBlocksWhenFull(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	n := New(Config{Enabled: true, URL: srv.URL, RatePerSec: 100, QueueSize: 1}, logx.Nop())
	n.Start(context.Background())

	start := time.Now()
	for i := 0; i < 10; i++ {
		n.Record(context.Background(), testOutcome("spam", job.StatusFailed))
	}
	assert.Less(t, time.Since(start), time.Second, "Record must not block on a full queue")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	n.Stop(ctx)
}

func TestNotifierApplyTogglesEnabled(t *testing.T) {
	n := New(Config{Enabled: true, URL: "http://example.invalid/hook"}, logx.Nop())
	require.True(t, n.Enabled())
	n.Apply(Config{Enabled: false})
	require.False(t, n.Enabled())
}
