// Package notify posts run outcomes to an external webhook.
//
// Delivery is asynchronous: Record enqueues without blocking the caller and
// a single worker drains the queue under a token-bucket rate limit. A full
// queue drops the newest outcome rather than stalling the scheduler.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tickrun/internal/job"
	"tickrun/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type Config struct {
	Enabled    bool
	URL        string
	RatePerSec int
	OnlyFailed bool
	Timeout    time.Duration
	QueueSize  int
}

// Notifier is an async webhook pipeline: queue + worker + rate limit.
// It is safe for concurrent use and implements scheduler.Sink.
type Notifier struct {
	mu sync.Mutex

	log    logx.Logger
	client *http.Client

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan job.Outcome
	stopDone  chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

func New(cfg Config, log logx.Logger) *Notifier {
	n := &Notifier{
		log:    log.With(logx.String("component", "notify")),
		client: &http.Client{},
	}
	n.applyLocked(cfg)
	return n
}

func (n *Notifier) Enabled() bool {
	n.mu.Lock()
	en := n.cfg.Enabled
	n.mu.Unlock()
	return en
}

// Apply swaps in a new configuration. Takes effect for sends that have not
// started yet; the queue and worker are untouched.
func (n *Notifier) Apply(cfg Config) {
	n.mu.Lock()
	n.applyLocked(cfg)
	n.mu.Unlock()
}

func (n *Notifier) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	n.cfg = cfg
	// Token bucket: burst = rate per sec, so a burst of simultaneous
	// outcomes doesn't stall the worker too hard.
	n.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (n *Notifier) Start(ctx context.Context) {
	n.mu.Lock()
	if n.queue != nil {
		// already running
		n.mu.Unlock()
		return
	}
	if !n.cfg.Enabled {
		n.mu.Unlock()
		return
	}
	n.queue = make(chan job.Outcome, n.cfg.QueueSize)
	n.accepting = true
	n.stopDone = make(chan struct{})
	n.runCtx, n.runCancel = context.WithCancel(ctx)
	n.mu.Unlock()

	n.workerWG.Add(1)
	go func() {
		defer n.workerWG.Done()
		n.workerLoop()
	}()
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (n *Notifier) Stop(ctx context.Context) {
	n.mu.Lock()
	q := n.queue
	done := n.stopDone
	cancel := n.runCancel
	if q == nil {
		n.mu.Unlock()
		return
	}
	n.accepting = false
	n.mu.Unlock()

	// Wait for in-flight enqueues before closing the queue.
	n.sendWG.Wait()
	close(q)
	go func() {
		n.workerWG.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
	if cancel != nil {
		cancel()
	}

	n.mu.Lock()
	n.queue = nil
	n.stopDone = nil
	n.runCtx = nil
	n.runCancel = nil
	n.mu.Unlock()
}

// Record implements scheduler.Sink. It never blocks: when the queue is full
// the outcome is dropped with a warning.
func (n *Notifier) Record(_ context.Context, o job.Outcome) {
	if err := n.enqueue(o); err != nil {
		switch {
		case errors.Is(err, ErrDisabled), errors.Is(err, ErrStopped):
		default:
			n.log.Warn("outcome notification dropped",
				logx.String("job", o.Job),
				logx.Err(err))
		}
	}
}

func (n *Notifier) enqueue(o job.Outcome) error {
	n.mu.Lock()
	if !n.cfg.Enabled {
		n.mu.Unlock()
		return ErrDisabled
	}
	if !n.accepting || n.queue == nil {
		n.mu.Unlock()
		return ErrStopped
	}
	if n.cfg.OnlyFailed && o.Succeeded() {
		n.mu.Unlock()
		return nil
	}
	q := n.queue
	n.sendWG.Add(1)
	n.mu.Unlock()
	defer n.sendWG.Done()

	select {
	case q <- o:
		return nil
	default:
		return ErrQueueFull
	}
}

func (n *Notifier) workerLoop() {
	n.mu.Lock()
	q := n.queue
	runCtx := n.runCtx
	n.mu.Unlock()

	for o := range q {
		if runCtx != nil {
			select {
			case <-runCtx.Done():
				return
			default:
			}
		}
		n.send(runCtx, o)
	}
}

func (n *Notifier) send(runCtx context.Context, o job.Outcome) {
	n.mu.Lock()
	cfg := n.cfg
	lim := n.limiter
	n.mu.Unlock()

	if cfg.URL == "" {
		return
	}

	wctx := runCtx
	if wctx == nil {
		wctx = context.Background()
	}
	if err := lim.Wait(wctx); err != nil {
		return
	}

	body, err := json.Marshal(o)
	if err != nil {
		n.log.Error("encode outcome payload", logx.Err(err))
		return
	}

	callCtx, cancel := context.WithTimeout(wctx, cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		n.log.Error("build webhook request", logx.Err(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn("webhook delivery failed",
			logx.String("job", o.Job),
			logx.Err(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n.log.Warn("webhook rejected outcome",
			logx.String("job", o.Job),
			logx.Int("status", resp.StatusCode))
		return
	}
	n.log.Debug("outcome delivered",
		logx.String("job", o.Job),
		logx.String("run_id", o.RunID),
		logx.String("status", string(o.Status)))
}
