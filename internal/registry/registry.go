// Package registry turns raw job definitions into scheduled entries.
//
// Loading validates every job independently: a malformed entry is reported
// and excluded, and its siblings still load. Schedules are normalized and
// actions resolved into runners exactly once here, so the scheduler's hot
// loop never inspects job types again.
package registry

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tickrun/internal/config"
	"tickrun/internal/dispatch"
	"tickrun/internal/job"
	"tickrun/internal/schedule"
)

// Entry is one validated, schedulable job.
type Entry struct {
	Def     job.Definition
	Trigger *schedule.Trigger
	Runner  dispatch.Runner
	Timeout time.Duration
}

// JobError ties a validation failure to the job and field it came from.
type JobError struct {
	Job   string
	Field string
	Err   error
}

func (e *JobError) Error() string {
	name := e.Job
	if strings.TrimSpace(name) == "" {
		name = "?"
	}
	if e.Field != "" {
		return fmt.Sprintf("job %q: %s: %v", name, e.Field, e.Err)
	}
	return fmt.Sprintf("job %q: %v", name, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// Options configure loading.
type Options struct {
	Location       *time.Location
	DefaultTimeout time.Duration

	// HTTPClient is shared by all http runners. Nil means http.DefaultClient.
	HTTPClient *http.Client
}

// Load validates defs and returns the valid entries plus a joined error
// covering every rejected job. Valid entries are returned even when some
// jobs fail; err == nil means the whole list loaded.
func Load(defs []job.Definition, opts Options) ([]*Entry, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	entries := make([]*Entry, 0, len(defs))
	var errs []error
	seen := make(map[string]bool, len(defs))

	for i, d := range defs {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			errs = append(errs, &JobError{Job: fmt.Sprintf("#%d", i), Field: "name", Err: errors.New("required")})
			continue
		}
		if seen[name] {
			errs = append(errs, &JobError{Job: name, Field: "name", Err: errors.New("duplicate job name")})
			continue
		}
		// Names are claimed before validation so a later job can never reuse
		// the name of an earlier invalid one.
		seen[name] = true

		e, err := build(d, loc, opts)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		entries = append(entries, e)
	}

	return entries, errors.Join(errs...)
}

func build(d job.Definition, loc *time.Location, opts Options) (*Entry, error) {
	trig, err := buildTrigger(d, loc)
	if err != nil {
		return nil, err
	}

	timeout, err := config.ParseDurationOrDefault("timeout", d.Timeout, opts.DefaultTimeout)
	if err != nil {
		return nil, &JobError{Job: d.Name, Field: "timeout", Err: err}
	}

	runner, err := buildRunner(d, timeout, opts.HTTPClient)
	if err != nil {
		return nil, err
	}

	return &Entry{Def: d, Trigger: trig, Runner: runner, Timeout: timeout}, nil
}

func buildTrigger(d job.Definition, loc *time.Location) (*schedule.Trigger, error) {
	hasCron := strings.TrimSpace(d.Schedule) != ""
	hasLegacy := d.Hour != nil || d.Minute != nil || strings.TrimSpace(d.Days) != ""

	switch {
	case hasCron && hasLegacy:
		return nil, &JobError{Job: d.Name, Field: "schedule", Err: errors.New("cron expression and hour/minute/days are mutually exclusive")}
	case hasCron:
		trig, err := schedule.ParseCron(d.Schedule, loc)
		if err != nil {
			return nil, wrapScheduleErr(d.Name, err)
		}
		return trig, nil
	case hasLegacy:
		if d.Hour == nil || d.Minute == nil {
			return nil, &JobError{Job: d.Name, Field: "schedule", Err: errors.New("legacy schedule needs both hour and minute")}
		}
		trig, err := schedule.ParseLegacy(*d.Hour, *d.Minute, d.Days, loc)
		if err != nil {
			return nil, wrapScheduleErr(d.Name, err)
		}
		return trig, nil
	default:
		return nil, &JobError{Job: d.Name, Field: "schedule", Err: errors.New("required (cron expression or hour/minute/days)")}
	}
}

func wrapScheduleErr(name string, err error) error {
	var pe *schedule.ParseError
	if errors.As(err, &pe) {
		return &JobError{Job: name, Field: pe.Field, Err: errors.New(pe.Reason)}
	}
	return &JobError{Job: name, Field: "schedule", Err: err}
}

func buildRunner(d job.Definition, timeout time.Duration, client *http.Client) (dispatch.Runner, error) {
	switch d.EffectiveType() {
	case job.TypeCommand:
		if len(d.Command) == 0 {
			return nil, &JobError{Job: d.Name, Field: "command", Err: errors.New("must be a non-empty argument vector")}
		}
		return &dispatch.CommandRunner{
			Name:    d.Name,
			Argv:    d.Command,
			Dir:     d.Dir,
			Env:     d.Env,
			Timeout: timeout,
		}, nil
	case job.TypeHTTP:
		if d.HTTP == nil || strings.TrimSpace(d.HTTP.URL) == "" {
			return nil, &JobError{Job: d.Name, Field: "http.url", Err: errors.New("required for http jobs")}
		}
		return &dispatch.HTTPRunner{
			Name:    d.Name,
			Action:  *d.HTTP,
			Timeout: timeout,
			Client:  client,
		}, nil
	default:
		return nil, &JobError{Job: d.Name, Field: "type", Err: fmt.Errorf("unknown type %q (want command or http)", d.Type)}
	}
}
