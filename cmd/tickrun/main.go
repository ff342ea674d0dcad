package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tickrun/internal/app"
	"tickrun/internal/config"
	"tickrun/internal/job"
	"tickrun/internal/registry"
	"tickrun/pkg/logx"
)

const defaultConfigPath = "./tickrun.yaml"

func main() {
	var (
		cfgPath string
		jobName string
		check   bool
		histN   int
	)
	flag.StringVar(&cfgPath, "config", defaultConfigPath, "path to config file (yaml or json)")
	flag.StringVar(&jobName, "job", "", "run a single job by name and exit")
	flag.BoolVar(&check, "check", false, "validate the config file and exit")
	flag.IntVar(&histN, "history", 0, "print the N most recent run outcomes and exit")
	flag.Parse()

	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if cfgPath == defaultConfigPath && env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	switch {
	case check:
		os.Exit(runCheck(cfgPath, env))
	case histN > 0:
		os.Exit(runHistory(cfgPath, env, histN))
	case jobName != "":
		os.Exit(runJob(cfgPath, env, jobName))
	default:
		os.Exit(runDaemon(cfgPath, env))
	}
}

func runDaemon(cfgPath string, env config.Env) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath, env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 1
	}

	if err := a.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 1
	}
	return 0
}

func runJob(cfgPath string, env config.Env, name string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath, env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 1
	}

	out, err := a.RunJob(ctx, name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 1
	}
	if out.Succeeded() {
		return 0
	}
	if out.Reason == job.ReasonExit && out.ExitCode > 0 {
		return out.ExitCode
	}
	return 1
}

// runHistory prints the most recent persisted outcomes, newest first.
func runHistory(cfgPath string, env config.Env, n int) int {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Parse()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}
	env.ApplyTo(cfg)

	store, err := app.OpenHistory(cfg, logx.NewConsole("warn"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "history:", err)
		return 1
	}
	if store == nil {
		fmt.Fprintln(os.Stderr, "history: no storage driver configured")
		return 1
	}
	defer store.Close()

	ctx := context.Background()
	runs, err := store.Recent(ctx, n)
	if err != nil {
		fmt.Fprintln(os.Stderr, "history:", err)
		return 1
	}
	for _, o := range runs {
		line := fmt.Sprintf("%s  %-24s %-9s", o.Finished.Format(time.RFC3339), o.Job, o.Status)
		switch o.Reason {
		case job.ReasonExit:
			line += fmt.Sprintf(" exit=%d", o.ExitCode)
		case job.ReasonHTTPStatus:
			line += fmt.Sprintf(" status=%d", o.HTTPStatus)
		case job.ReasonTimeout, job.ReasonTransport:
			line += " " + string(o.Reason)
		}
		fmt.Println(line)
	}
	if len(runs) == 0 {
		fmt.Println("no recorded runs")
	}
	return 0
}

// runCheck parses and validates the config, reporting a verdict per job.
func runCheck(cfgPath string, env config.Env) int {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Parse()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}
	env.ApplyTo(cfg)

	if err := app.ValidateConfig(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}

	loc, err := cfg.Location()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}
	defTimeout, err := cfg.JobTimeout()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}

	entries, err := registry.Load(cfg.Jobs, registry.Options{
		Location:       loc,
		DefaultTimeout: defTimeout,
	})
	for _, e := range entries {
		fmt.Printf("ok    %-24s %s\n", e.Def.Name, e.Trigger.Expr)
	}
	if err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				fmt.Printf("error %s\n", line)
			}
		}
		return 1
	}
	fmt.Printf("%d job(s) valid, timezone %s\n", len(entries), loc)
	return 0
}
