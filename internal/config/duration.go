package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationOrDefault resolves a duration-string config field
// (poll_interval, default_timeout, notify.timeout, storage.busy_timeout)
// against its default. Empty or zero means the default; negative values
// are rejected. path names the field in errors.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
