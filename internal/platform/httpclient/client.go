// Package httpclient performs the outbound requests of HTTP job actions.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/url"
	"time"

	"krontab/internal/shared"
	"krontab/pkg/retry"
)

// DefaultMaxBody caps how much of a response body is kept.
const DefaultMaxBody = 64 << 10

// Client wraps http.Client with logging and error classification.
type Client struct {
	hc          *stdhttp.Client
	log         *slog.Logger
	headers     map[string]string
	maxBody     int64
	urlRedactor func(*url.URL) string
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(t time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = t }
}

// WithLogger sets logger used by client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithHeaders adds default headers to each request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			if c.headers == nil {
				c.headers = make(map[string]string)
			}
			c.headers[k] = v
		}
	}
}

// WithTransport sets custom transport.
func WithTransport(rt stdhttp.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.hc.Transport = rt
		}
	}
}

// WithMaxBody limits the response body kept in Response.Body.
func WithMaxBody(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithURLRedactor sets URL redactor for logs.
func WithURLRedactor(f func(*url.URL) string) Option {
	return func(c *Client) { c.urlRedactor = f }
}

// New creates configured Client.
func New(opts ...Option) *Client {
	tr := stdhttp.DefaultTransport.(*stdhttp.Transport).Clone()
	tr.MaxIdleConnsPerHost = 10
	tr.IdleConnTimeout = 90 * time.Second
	tr.TLSHandshakeTimeout = 10 * time.Second
	tr.ResponseHeaderTimeout = 30 * time.Second

	c := &Client{
		hc: &stdhttp.Client{
			Timeout:   time.Minute,
			Transport: tr,
		},
		log:     slog.Default(),
		maxBody: DefaultMaxBody,
		headers: map[string]string{"User-Agent": "krontab"},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Request describes a single outbound call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is a fully read response.
type Response struct {
	Status int
	Body   []byte
	// Truncated is set when the body was longer than the client's limit.
	Truncated bool
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.Status, e.Body)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	switch e.Status {
	case stdhttp.StatusRequestTimeout, stdhttp.StatusTooEarly, stdhttp.StatusTooManyRequests:
		return true
	}
	return e.Status >= 500
}

// Retryable retries transient transport errors and temporary statuses.
func Retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return retry.Transient(err)
}

// Do sends req once. Non-2xx statuses yield a *StatusError.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	method := req.Method
	if method == "" {
		method = stdhttp.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	r, err := stdhttp.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return Response{}, shared.MarkKind(fmt.Errorf("httpclient: build request: %w", err), shared.KindValidation)
	}
	for k, v := range c.headers {
		r.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		r.Header.Set(k, v)
	}
	u := c.redactURL(r.URL)

	start := time.Now()
	resp, err := c.hc.Do(r)
	if err != nil {
		c.log.Warn("http request error", slog.String("method", method), slog.String("url", u), slog.Any("error", err))
		return Response{}, err
	}
	defer resp.Body.Close()

	out := Response{Status: resp.StatusCode}
	out.Body, err = io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return Response{}, fmt.Errorf("httpclient: read body: %w", err)
	}
	if int64(len(out.Body)) > c.maxBody {
		out.Body, out.Truncated = out.Body[:c.maxBody], true
		_, _ = io.CopyN(io.Discard, resp.Body, 512<<10)
	}
	c.log.Info("http request", slog.String("method", method), slog.String("url", u),
		slog.Int("status", resp.StatusCode), slog.Duration("dur", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &StatusError{Method: method, URL: u, Status: resp.StatusCode, Body: snippet(out.Body)}
	}
	return out, nil
}

func (c *Client) redactURL(u *url.URL) string {
	if c.urlRedactor != nil {
		return c.urlRedactor(u)
	}
	return u.Redacted()
}

func snippet(b []byte) string {
	const limit = 256
	if len(b) > limit {
		b = b[:limit]
	}
	return string(bytes.ToValidUTF8(bytes.TrimSpace(b), nil))
}
