// Package app wires the configuration manager, registry, scheduler, history
// store and notifier into one runnable unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"tickrun/internal/config"
	"tickrun/internal/history"
	"tickrun/internal/job"
	"tickrun/internal/notify"
	"tickrun/internal/registry"
	"tickrun/internal/scheduler"
	"tickrun/pkg/logx"
)

type App struct {
	env  config.Env
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	sched *scheduler.Service
	notif *notify.Notifier
	store history.Store

	httpClient *http.Client
	grace      time.Duration
}

// New loads the config file at path, applies env overrides and builds every
// component. Malformed jobs are logged and skipped; a malformed top-level
// config is fatal.
func New(path string, env config.Env) (*App, error) {
	cfgm := config.NewManager(path)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	env.ApplyTo(cfg)

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console || !cfg.Logging.File.Enabled,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("component", "app"))

	loc, err := cfg.Location()
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	poll, err := cfg.PollEvery()
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	defTimeout, err := cfg.JobTimeout()
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	grace, err := config.ParseDurationOrDefault("TICKRUN_SHUTDOWN_GRACE", env.ShutdownGrace, 30*time.Second)
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	store, err := OpenHistory(cfg, log.With(logx.String("component", "history")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	notif := notify.New(notifyConfig(cfg), log)

	client := &http.Client{}

	a := &App{
		env:        env,
		cfgm:       cfgm,
		logs:       logSvc,
		log:        log,
		notif:      notif,
		store:      store,
		httpClient: client,
		grace:      grace,
	}

	sinks := []scheduler.Sink{notif}
	if store != nil {
		sinks = append(sinks, historySink{store: store, log: log})
	}

	a.sched = scheduler.New(scheduler.Config{
		PollInterval:  poll,
		Location:      loc,
		ShutdownGrace: grace,
	}, log.With(logx.String("component", "scheduler")), sinks...)

	entries, err := registry.Load(cfg.Jobs, registry.Options{
		Location:       loc,
		DefaultTimeout: defTimeout,
		HTTPClient:     client,
	})
	logJobErrors(log, err)
	a.sched.Reload(entries)

	return a, nil
}

// Run starts the poll loop, the config watcher and the reload consumer, and
// blocks until ctx is canceled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.cfgm.SetLogger(a.log.With(logx.String("component", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return ValidateConfig(cfg)
	})

	a.notif.Start(ctx)

	g, runCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.sched.Run(runCtx) })
	g.Go(func() error { return a.cfgm.Watch(runCtx) })
	g.Go(func() error { return a.reloadLoop(runCtx) })

	// systemd integration is a no-op outside a unit with Type=notify.
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd ready notification failed", logx.Err(err))
	} else if sent {
		a.log.Debug("systemd notified ready")
	}
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		g.Go(func() error { return watchdogLoop(runCtx, interval) })
	}

	a.log.Info("tickrun started",
		logx.String("config", a.cfgm.Path()),
		logx.Int("jobs", len(a.sched.JobNames())))

	err := g.Wait()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.shutdown()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// RunJob executes one job by name and returns its outcome, bypassing the
// loop. Used by the -job flag.
func (a *App) RunJob(ctx context.Context, name string) (job.Outcome, error) {
	a.notif.Start(ctx)
	out, err := a.sched.RunOnce(ctx, name)
	a.shutdown()
	return out, err
}

// Close releases resources without running anything. Run and RunJob shut
// down on their own; Close covers the paths that never start.
func (a *App) Close() {
	a.shutdown()
}

func (a *App) shutdown() {
	stopCtx, cancel := context.WithTimeout(context.Background(), a.grace)
	defer cancel()
	a.notif.Stop(stopCtx)
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("closing history store", logx.Err(err))
		}
		a.store = nil
	}
	a.logs.Close()
}

// reloadLoop applies config changes published by the watcher: logging level,
// notifier settings and the job list. Poll interval, timezone source for the
// loop clock and the storage driver stay fixed until restart.
func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case newCfg, ok := <-sub:
			if !ok {
				return nil
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			cfg := *newCfg
			a.env.ApplyTo(&cfg)

			sections, attrs, changed := config.SummarizeChange(lastApplied, &cfg)
			lastApplied = &cfg

			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console || !cfg.Logging.File.Enabled,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.notif.Apply(notifyConfig(&cfg))

			a.applyJobs(&cfg)

			if len(sections) > 0 {
				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				if len(changed) > 0 {
					fields = append(fields, logx.Any("jobs", changed))
				}
				a.log.Info("config reloaded", fields...)
			} else {
				a.log.Info("config reloaded (no changes)")
			}
		}
	}
}

func (a *App) applyJobs(cfg *config.Config) {
	loc, err := cfg.Location()
	if err != nil {
		a.log.Error("reload rejected: bad timezone", logx.Err(err))
		return
	}
	defTimeout, err := cfg.JobTimeout()
	if err != nil {
		a.log.Error("reload rejected: bad default_timeout", logx.Err(err))
		return
	}
	entries, err := registry.Load(cfg.Jobs, registry.Options{
		Location:       loc,
		DefaultTimeout: defTimeout,
		HTTPClient:     a.httpClient,
	})
	logJobErrors(a.log, err)
	a.sched.Reload(entries)
}

// ValidateConfig rejects a config whose scheduler-wide settings are
// unusable. Per-job errors are not fatal here; the registry isolates them
// so one bad job never blocks the rest.
func ValidateConfig(cfg *config.Config) error {
	if _, err := cfg.Location(); err != nil {
		return err
	}
	if _, err := cfg.PollEvery(); err != nil {
		return err
	}
	if _, err := cfg.JobTimeout(); err != nil {
		return err
	}
	if cfg.Notify != nil && cfg.Notify.Enabled && strings.TrimSpace(cfg.Notify.URL) == "" {
		return fmt.Errorf("notify.url: required when notify is enabled")
	}
	if cfg.Storage != nil {
		if _, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0); err != nil {
			return err
		}
	}
	return nil
}

func logJobErrors(log logx.Logger, err error) {
	if err == nil {
		return
	}
	for _, line := range strings.Split(err.Error(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			log.Warn("job skipped", logx.String("reason", line))
		}
	}
}

// OpenHistory opens the run-history store for cfg. Returns (nil, nil) when
// no storage driver is configured.
func OpenHistory(cfg *config.Config, log logx.Logger) (history.Store, error) {
	return history.Open(storageConfig(cfg), log)
}

func storageConfig(cfg *config.Config) history.Config {
	if cfg.Storage == nil {
		return history.Config{}
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		busy = 0
	}
	keep := cfg.Storage.KeepRuns
	if keep <= 0 {
		keep = config.DefaultHistoryKeepRun
	}
	return history.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
		KeepRuns:    keep,
	}
}

func notifyConfig(cfg *config.Config) notify.Config {
	if cfg.Notify == nil {
		return notify.Config{}
	}
	timeout, err := config.ParseDurationOrDefault("notify.timeout", cfg.Notify.Timeout, config.DefaultNotifyTimeout)
	if err != nil {
		timeout = config.DefaultNotifyTimeout
	}
	rate := cfg.Notify.RatePerSec
	if rate <= 0 {
		rate = config.DefaultNotifyRate
	}
	return notify.Config{
		Enabled:    cfg.Notify.Enabled,
		URL:        cfg.Notify.URL,
		RatePerSec: rate,
		OnlyFailed: cfg.Notify.OnlyFailed,
		Timeout:    timeout,
	}
}

func watchdogLoop(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}

// historySink persists every outcome to the run-history store.
type historySink struct {
	store history.Store
	log   logx.Logger
}

func (h historySink) Record(ctx context.Context, o job.Outcome) {
	if err := h.store.Append(ctx, o); err != nil {
		h.log.Warn("recording run history", logx.String("job", o.Job), logx.Err(err))
	}
}
