package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickrun/internal/dispatch"
	"tickrun/internal/job"
)

func intp(v int) *int { return &v }

func cmdDef(name, sched string) job.Definition {
	return job.Definition{
		Name:     name,
		Schedule: sched,
		Type:     job.TypeCommand,
		Command:  []string{"true"},
	}
}

func TestLoadValidJobs(t *testing.T) {
	defs := []job.Definition{
		cmdDef("nightly", "0 1 * * *"),
		{
			Name:   "legacy",
			Hour:   intp(6),
			Minute: intp(30),
			Days:   "weekdays",
			Type:   job.TypeHTTP,
			HTTP:   &job.HTTPAction{URL: "http://localhost:9/hook"},
		},
	}
	entries, err := Load(defs, Options{Location: time.UTC, DefaultTimeout: 2 * time.Minute})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.IsType(t, &dispatch.CommandRunner{}, entries[0].Runner)
	assert.IsType(t, &dispatch.HTTPRunner{}, entries[1].Runner)
	assert.Equal(t, "30 6 * * 1-5", entries[1].Trigger.Expr)
	assert.Equal(t, 2*time.Minute, entries[0].Timeout)
}

func TestLoadMalformedJobDoesNotBlockSiblings(t *testing.T) {
	defs := []job.Definition{
		cmdDef("good-a", "*/5 * * * *"),
		cmdDef("broken", "61 * * * *"),
		cmdDef("good-b", "0 12 * * *"),
	}
	entries, err := Load(defs, Options{Location: time.UTC, DefaultTimeout: time.Minute})

	require.Error(t, err)
	assert.Contains(t, err.Error(), `job "broken"`)
	assert.Contains(t, err.Error(), "minute")

	require.Len(t, entries, 2)
	assert.Equal(t, "good-a", entries[0].Def.Name)
	assert.Equal(t, "good-b", entries[1].Def.Name)
}

func TestLoadAccumulatesAllFailures(t *testing.T) {
	defs := []job.Definition{
		{Name: "", Schedule: "* * * * *", Command: []string{"true"}},
		{Name: "no-sched", Command: []string{"true"}},
		{Name: "no-cmd", Schedule: "* * * * *", Type: job.TypeCommand},
		{Name: "no-url", Schedule: "* * * * *", Type: job.TypeHTTP},
	}
	entries, err := Load(defs, Options{Location: time.UTC, DefaultTimeout: time.Minute})

	assert.Empty(t, entries)
	require.Error(t, err)
	for _, want := range []string{"name", "schedule", "command", "http.url"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadDuplicateName(t *testing.T) {
	defs := []job.Definition{
		cmdDef("twin", "0 1 * * *"),
		cmdDef("twin", "0 2 * * *"),
	}
	entries, err := Load(defs, Options{Location: time.UTC, DefaultTimeout: time.Minute})

	require.Len(t, entries, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate job name")
}

func TestLoadDuplicateNameOfInvalidJob(t *testing.T) {
	// The first "twin" fails validation; the second must still be rejected
	// as a duplicate rather than silently taking over the name.
	defs := []job.Definition{
		cmdDef("twin", "61 * * * *"),
		cmdDef("twin", "0 2 * * *"),
	}
	entries, err := Load(defs, Options{Location: time.UTC, DefaultTimeout: time.Minute})

	assert.Empty(t, entries)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate job name")
}

func TestLoadMutuallyExclusiveSchedules(t *testing.T) {
	d := cmdDef("both", "0 1 * * *")
	d.Hour = intp(1)
	d.Minute = intp(0)

	entries, err := Load([]job.Definition{d}, Options{Location: time.UTC, DefaultTimeout: time.Minute})
	assert.Empty(t, entries)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestLoadTimeoutOverride(t *testing.T) {
	d := cmdDef("patient", "0 1 * * *")
	d.Timeout = "90s"

	entries, err := Load([]job.Definition{d}, Options{Location: time.UTC, DefaultTimeout: time.Minute})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 90*time.Second, entries[0].Timeout)

	d.Timeout = "soon"
	_, err = Load([]job.Definition{d}, Options{Location: time.UTC, DefaultTimeout: time.Minute})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestLoadImplicitType(t *testing.T) {
	// Legacy configs omit type and only carry a command vector.
	d := job.Definition{
		Name:    "implicit",
		Hour:    intp(1),
		Minute:  intp(0),
		Days:    "daily",
		Command: []string{"python3", "/app/scripts/export.py"},
	}
	entries, err := Load([]job.Definition{d}, Options{Location: time.UTC, DefaultTimeout: time.Minute})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.IsType(t, &dispatch.CommandRunner{}, entries[0].Runner)
}
