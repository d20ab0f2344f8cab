// Package fractalapi talks to the remote fractal service: login, job submission and status checks.
package fractalapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PeladoCollado/fractalload/orchestrator/logger"
	"github.com/PeladoCollado/fractalload/types"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

const (
	DefaultLoginTimeout  = 30 * time.Second
	DefaultSubmitTimeout = 30 * time.Second
	DefaultStatusTimeout = 10 * time.Second

	maxErrorBody = 3000
)

type Options struct {
	BaseURL string
	RunID   string

	LoginTimeout  time.Duration
	SubmitTimeout time.Duration
	StatusTimeout time.Duration

	// Retries applies to submit and status calls only. Login is never retried.
	Retries      int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// HTTPClient replaces the underlying transport client, mostly for tests.
	HTTPClient *http.Client
}

type Client struct {
	baseURL *url.URL
	runID   string

	loginClient *retryablehttp.Client
	apiClient   *retryablehttp.Client

	loginTimeout  time.Duration
	submitTimeout time.Duration
	statusTimeout time.Duration
}

func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", opts.BaseURL, err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base URL must be absolute: %s", opts.BaseURL)
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = 100 * time.Millisecond
	}
	if opts.RetryWaitMax <= 0 {
		opts.RetryWaitMax = 2 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Client{
		baseURL:       base,
		runID:         opts.RunID,
		loginClient:   newRetryableClient(opts, 0),
		apiClient:     newRetryableClient(opts, opts.Retries),
		loginTimeout:  durationOrDefault(opts.LoginTimeout, DefaultLoginTimeout),
		submitTimeout: durationOrDefault(opts.SubmitTimeout, DefaultSubmitTimeout),
		statusTimeout: durationOrDefault(opts.StatusTimeout, DefaultStatusTimeout),
	}, nil
}

func newRetryableClient(opts Options, retries int) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retries
	client.RetryWaitMin = opts.RetryWaitMin
	client.RetryWaitMax = opts.RetryWaitMax
	client.Logger = zapLeveledLogger{}
	// keep the final response so callers can report the status code and body
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if opts.HTTPClient != nil {
		client.HTTPClient = opts.HTTPClient
	}
	return client
}

func (c *Client) endpoint(path string, query url.Values) string {
	resolved := *c.baseURL
	resolved.Path = c.baseURL.Path + path
	if query != nil {
		resolved.RawQuery = query.Encode()
	}
	return resolved.String()
}

func (c *Client) newRequest(ctx context.Context, method string, endpoint string, body interface{}) (*retryablehttp.Request, error) {
	request, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("X-Request-Id", uuid.NewString())
	if c.runID != "" {
		request.Header.Set("X-Run-Id", c.runID)
	}
	return request, nil
}

func authorize(request *retryablehttp.Request, session types.Session) {
	request.Header.Set("Authorization", "Bearer "+session.Token)
}

// StatusError is returned when the service answers with a status the caller cannot use.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Op, e.Code, e.Body)
}

func newStatusError(op string, resp *http.Response) *StatusError {
	return &StatusError{Op: op, Code: resp.StatusCode, Body: readErrorBody(resp.Body)}
}

func readErrorBody(body io.Reader) string {
	limit := io.LimitReader(body, maxErrorBody)
	bytesRead, err := io.ReadAll(limit)
	if err != nil {
		return fmt.Sprintf("Unable to read error message from response %v", err)
	}
	return strings.TrimSpace(string(bytesRead))
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<16))
	_ = body.Close()
}

func durationOrDefault(value time.Duration, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

type zapLeveledLogger struct{}

func (zapLeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	logger.Logger.Errorw(msg, keysAndValues...)
}

func (zapLeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Logger.Debugw(msg, keysAndValues...)
}

func (zapLeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	logger.Logger.Debugw(msg, keysAndValues...)
}

func (zapLeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	logger.Logger.Warnw(msg, keysAndValues...)
}
