package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tickrun/internal/job"
)

// HTTPRunner issues one outbound request per dispatch. The response status
// is compared against the expected set; anything else is a failure with the
// observed code recorded.
type HTTPRunner struct {
	Name    string
	Action  job.HTTPAction
	Timeout time.Duration

	// Client is shared across runs; per-run deadlines come from the
	// request context, not from Client.Timeout.
	Client *http.Client
}

func (r *HTTPRunner) Run(ctx context.Context) job.Outcome {
	out := newOutcome(r.Name)

	runCtx := ctx
	var cancel context.CancelFunc
	if r.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	method := strings.ToUpper(strings.TrimSpace(r.Action.Method))
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if r.Action.Body != "" {
		body = strings.NewReader(r.Action.Body)
	}

	req, err := http.NewRequestWithContext(runCtx, method, r.Action.URL, body)
	if err != nil {
		out.Finished = time.Now()
		out.Status = job.StatusFailed
		out.Reason = job.ReasonTransport
		out.Err = err.Error()
		return out
	}
	for k, v := range r.Action.Headers {
		req.Header.Set(k, v)
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		out.Finished = time.Now()
		if errors.Is(err, context.DeadlineExceeded) || runCtx.Err() == context.DeadlineExceeded {
			out.Status = job.StatusTimedOut
			out.Reason = job.ReasonTimeout
			out.Err = "deadline exceeded after " + r.Timeout.String()
		} else {
			out.Status = job.StatusFailed
			out.Reason = job.ReasonTransport
			out.Err = err.Error()
		}
		return out
	}
	defer resp.Body.Close()

	// Keep a bounded prefix of the body for logs; drain the rest so the
	// connection can be reused.
	prefix, _ := io.ReadAll(io.LimitReader(resp.Body, maxCapturedOutput+1))
	_, _ = io.Copy(io.Discard, resp.Body)

	out.Finished = time.Now()
	out.HTTPStatus = resp.StatusCode
	out.Output = truncateOutput(prefix)

	if statusAccepted(resp.StatusCode, r.Action.ExpectStatus) {
		out.Status = job.StatusOK
	} else {
		out.Status = job.StatusFailed
		out.Reason = job.ReasonHTTPStatus
		out.Err = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return out
}

// statusAccepted applies the configured expected-status set; an empty set
// means any 2xx counts as success.
func statusAccepted(code int, expect []int) bool {
	if len(expect) == 0 {
		return code >= 200 && code <= 299
	}
	for _, want := range expect {
		if code == want {
			return true
		}
	}
	return false
}
