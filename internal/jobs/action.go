package jobs

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"krontab/internal/platform/httpclient"
	"krontab/pkg/retry"
)

// maxOutput caps the output kept per run.
const maxOutput = 16 << 10

// Action is the work a job performs on every activation.
type Action interface {
	// Run performs the action once and returns a short output excerpt.
	Run(ctx context.Context) (string, error)
	// Retryable decides whether a failed attempt is repeated.
	Retryable(err error) bool
	// Kind is "shell" or "http".
	Kind() string
	// Target describes what the action runs, for listings.
	Target() string
}

// ShellAction runs a command through `sh -c`.
type ShellAction struct {
	Command string
	Dir     string
	Env     []string
	// WaitDelay bounds how long output pipes may stay open after the
	// process is killed on timeout.
	WaitDelay time.Duration
}

func newShellAction(s *ShellSpec) *ShellAction {
	env := make([]string, 0, len(s.Env))
	for k, v := range s.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return &ShellAction{Command: s.Command, Dir: s.Dir, Env: env, WaitDelay: 5 * time.Second}
}

func (a *ShellAction) Run(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", a.Command)
	cmd.Dir = a.Dir
	if len(a.Env) > 0 {
		cmd.Env = append(os.Environ(), a.Env...)
	}
	cmd.WaitDelay = a.WaitDelay

	out := &cappedBuffer{limit: maxOutput}
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out.String(), fmt.Errorf("shell: %w (%w)", ctxErr, err)
		}
		return out.String(), fmt.Errorf("shell: %w", err)
	}
	return out.String(), nil
}

// Retryable repeats every failure except cancellation.
func (a *ShellAction) Retryable(err error) bool { return retry.Always(err) }

func (a *ShellAction) Kind() string { return "shell" }

func (a *ShellAction) Target() string { return a.Command }

// HTTPAction sends one request through the shared client.
type HTTPAction struct {
	Client  *httpclient.Client
	Request httpclient.Request
}

func newHTTPAction(s *HTTPSpec, client *httpclient.Client) *HTTPAction {
	method := s.Method
	if method == "" {
		method = http.MethodGet
	}
	var body []byte
	if s.Body != "" {
		body = []byte(s.Body)
	}
	return &HTTPAction{
		Client: client,
		Request: httpclient.Request{
			Method:  method,
			URL:     s.URL,
			Headers: s.Headers,
			Body:    body,
		},
	}
}

func (a *HTTPAction) Run(ctx context.Context) (string, error) {
	resp, err := a.Client.Do(ctx, a.Request)
	if err != nil {
		return string(resp.Body), err
	}
	out := fmt.Sprintf("%d %s", resp.Status, http.StatusText(resp.Status))
	if len(resp.Body) > 0 {
		out += "\n" + string(bytes.ToValidUTF8(resp.Body, nil))
	}
	return out, nil
}

// Retryable repeats transport errors and temporary statuses only.
func (a *HTTPAction) Retryable(err error) bool { return httpclient.Retryable(err) }

func (a *HTTPAction) Kind() string { return "http" }

func (a *HTTPAction) Target() string { return a.Request.Method + " " + a.Request.URL }

// cappedBuffer keeps the first limit bytes written to it and drops the rest.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room < len(p) {
		if room > 0 {
			b.buf.Write(p[:room])
		}
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := string(bytes.ToValidUTF8(b.buf.Bytes(), nil))
	if b.truncated {
		s += "\n[output truncated]"
	}
	return s
}
