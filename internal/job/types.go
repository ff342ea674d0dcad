// Package job holds the shared job model: definitions as loaded from
// configuration and outcomes as produced by dispatch.
package job

import (
	"strings"
	"time"
)

// Type discriminates how a job's action is executed.
type Type string

const (
	TypeCommand Type = "command"
	TypeHTTP    Type = "http"
)

// Definition is one job as declared in the config file.
// It is immutable once loaded; the registry validates it and resolves the
// schedule and action exactly once.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Schedule is a five-field cron expression. Mutually exclusive with the
	// legacy hour/minute/days triple below.
	Schedule string `json:"schedule,omitempty"`

	// Legacy schedule form: exact hour/minute plus a days selector
	// ("daily", "weekdays", or a comma-separated weekday list).
	Hour   *int   `json:"hour,omitempty"`
	Minute *int   `json:"minute,omitempty"`
	Days   string `json:"days,omitempty"`

	Type Type `json:"type,omitempty"`

	// Command payload (type "command").
	Command []string          `json:"command,omitempty"`
	Dir     string            `json:"dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// HTTP payload (type "http").
	HTTP *HTTPAction `json:"http,omitempty"`

	// Timeout is a Go duration string (e.g. "90s"). Empty means the
	// registry default.
	Timeout string `json:"timeout,omitempty"`
}

// HTTPAction describes an outbound request job.
type HTTPAction struct {
	Method  string            `json:"method,omitempty"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`

	// ExpectStatus is the set of response codes treated as success.
	// Empty means any 2xx.
	ExpectStatus []int `json:"expect_status,omitempty"`
}

// EffectiveType defaults the discriminant for legacy configs that only ever
// carried a command vector.
func (d Definition) EffectiveType() Type {
	if strings.TrimSpace(string(d.Type)) == "" {
		if d.HTTP != nil {
			return TypeHTTP
		}
		return TypeCommand
	}
	return Type(strings.ToLower(strings.TrimSpace(string(d.Type))))
}

// Status is the terminal state of one dispatch.
type Status string

const (
	StatusOK       Status = "ok"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed_out"
)

// Reason refines a non-ok status.
type Reason string

const (
	ReasonExit       Reason = "exit"        // non-zero exit code
	ReasonHTTPStatus Reason = "http_status" // response outside the expected set
	ReasonTimeout    Reason = "timeout"     // deadline exceeded, resource reclaimed
	ReasonTransport  Reason = "transport"   // spawn failure / network unreachable
)

// Outcome is the structured result of one dispatch attempt. It is the only
// thing the dispatcher ever returns; execution errors are folded into it
// rather than propagated.
type Outcome struct {
	RunID string `json:"run_id"`
	Job   string `json:"job"`

	Status Status `json:"status"`
	Reason Reason `json:"reason,omitempty"`

	ExitCode   int `json:"exit_code,omitempty"`
	HTTPStatus int `json:"http_status,omitempty"`

	// Output is combined stdout/stderr (command) or a response body prefix
	// (http), truncated for logs and storage.
	Output string `json:"output,omitempty"`
	Err    string `json:"err,omitempty"`

	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

func (o Outcome) Duration() time.Duration { return o.Finished.Sub(o.Started) }

// Succeeded reports whether the dispatch completed with StatusOK.
func (o Outcome) Succeeded() bool { return o.Status == StatusOK }
