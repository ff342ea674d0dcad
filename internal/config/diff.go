package config

import (
	"encoding/json"
	"reflect"
	"strings"

	"tickrun/internal/job"
	logx "tickrun/pkg/logx"
)

// SummarizeChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging, and (3) the names of jobs whose
// definitions were added, removed, or modified.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	if strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) ||
		strings.TrimSpace(oldCfg.PollInterval) != strings.TrimSpace(newCfg.PollInterval) ||
		strings.TrimSpace(oldCfg.DefaultTimeout) != strings.TrimSpace(newCfg.DefaultTimeout) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Timezone)),
			logx.String("scheduler.poll_interval", strings.TrimSpace(newCfg.PollInterval)),
			logx.String("scheduler.default_timeout", strings.TrimSpace(newCfg.DefaultTimeout)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs,
				logx.String("storage.driver", newCfg.Storage.Driver),
				logx.String("storage.path", newCfg.Storage.Path),
			)
		}
	}

	// Notify: never log the URL, it may embed a token.
	if !reflect.DeepEqual(oldCfg.Notify, newCfg.Notify) {
		changed = append(changed, "notify")
		if newCfg.Notify != nil {
			attrs = append(attrs,
				logx.Bool("notify.enabled", newCfg.Notify.Enabled),
				logx.Bool("notify.url_set", strings.TrimSpace(newCfg.Notify.URL) != ""),
			)
		}
	}

	jobNames := changedJobs(oldCfg.Jobs, newCfg.Jobs)
	if len(jobNames) > 0 {
		changed = append(changed, "jobs")
		attrs = append(attrs, logx.Int("jobs.changed", len(jobNames)))
	}

	return changed, attrs, jobNames
}

// changedJobs diffs job lists by name. Comparison is by canonical JSON so
// field order in the source file does not matter.
func changedJobs(oldJobs, newJobs []job.Definition) []string {
	oldByName := make(map[string]job.Definition, len(oldJobs))
	for _, j := range oldJobs {
		oldByName[j.Name] = j
	}

	names := make([]string, 0, 4)
	seen := make(map[string]bool, len(newJobs))
	for _, j := range newJobs {
		seen[j.Name] = true
		prev, ok := oldByName[j.Name]
		if !ok || !sameDefinition(prev, j) {
			names = append(names, j.Name)
		}
	}
	for _, j := range oldJobs {
		if !seen[j.Name] {
			names = append(names, j.Name)
		}
	}
	return names
}

// SameDefinition reports whether two definitions are byte-identical after
// canonical JSON encoding. Used by both the change summary and the marker
// merge on hot-reload.
func SameDefinition(a, b job.Definition) bool { return sameDefinition(a, b) }

func sameDefinition(a, b job.Definition) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return string(ab) == string(bb)
}
