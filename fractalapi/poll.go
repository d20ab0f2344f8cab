package fractalapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/PeladoCollado/fractalload/orchestrator/logger"
	"github.com/PeladoCollado/fractalload/types"
)

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultMaxPollAttempts = 40
)

const (
	statusPending    = "pending"
	statusGenerating = "generating"
	statusComplete   = "complete"
	statusFailed     = "failed"
	statusTooComplex = "too_complex"
	statusNotFound   = "not_found"
)

type StatusReport struct {
	Status  string `json:"status"`
	URL     string `json:"url"`
	Message string `json:"message"`
}

type StatusChecker interface {
	CheckStatus(ctx context.Context, session types.Session, hash string) (StatusReport, error)
}

// CheckStatus issues one GET /fractal/status/{hash}.
func (c *Client) CheckStatus(ctx context.Context, session types.Session, hash string) (StatusReport, error) {
	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	request, err := c.newRequest(ctx, http.MethodGet, c.endpoint("/fractal/status/"+url.PathEscape(hash), nil), nil)
	if err != nil {
		return StatusReport{}, fmt.Errorf("build status request: %w", err)
	}
	authorize(request, session)

	resp, err := c.apiClient.Do(request)
	if err != nil {
		return StatusReport{}, fmt.Errorf("status request failed: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return StatusReport{}, newStatusError("status", resp)
	}
	var report StatusReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return StatusReport{}, fmt.Errorf("%w: decode status response: %v", ErrMalformedResponse, err)
	}
	return report, nil
}

// Poller drives a queued job to complete, failed or timed_out.
//
// Attempts are scheduled at fixed offsets from the start of polling (attempt k at (k-1)*Interval) and
// the whole poll is bounded by a deadline of MaxAttempts*Interval. Errors from a single check are
// treated as transient and only consume that attempt.
type Poller struct {
	Checker     StatusChecker
	Interval    time.Duration
	MaxAttempts int

	// OnAttempt, if set, is called after every status check with its error (nil on a usable answer).
	OnAttempt func(err error)
}

func NewPoller(checker StatusChecker, interval time.Duration, maxAttempts int) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxPollAttempts
	}
	return &Poller{Checker: checker, Interval: interval, MaxAttempts: maxAttempts}
}

// Budget is the worst-case wall clock time of one Poll call.
func (p *Poller) Budget() time.Duration {
	return time.Duration(p.MaxAttempts) * p.Interval
}

// Poll returns a terminal result, or a queued result carrying ctx.Err() when ctx is cancelled.
func (p *Poller) Poll(ctx context.Context, session types.Session, handle types.JobHandle) types.PollResult {
	start := time.Now()
	pollCtx, cancel := context.WithDeadline(ctx, start.Add(p.Budget()))
	defer cancel()

	timer := time.NewTimer(p.Interval)
	timer.Stop()
	defer timer.Stop()

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if wait := time.Until(start.Add(time.Duration(attempt-1) * p.Interval)); wait > 0 {
			timer.Reset(wait)
			select {
			case <-pollCtx.Done():
				return p.stopped(ctx, attempts, lastErr)
			case <-timer.C:
			}
		}
		if pollCtx.Err() != nil {
			return p.stopped(ctx, attempts, lastErr)
		}

		attempts = attempt
		report, err := p.Checker.CheckStatus(pollCtx, session, handle.Hash)
		if p.OnAttempt != nil {
			p.OnAttempt(err)
		}
		if ctx.Err() != nil {
			return types.PollResult{State: types.JobQueued, Attempts: attempts, Err: ctx.Err()}
		}
		if err != nil {
			lastErr = err
			logger.Logger.Debugw("Transient error polling job status",
				"hash", handle.Hash, "attempt", attempt, "error", err)
			continue
		}

		switch report.Status {
		case statusComplete:
			return types.PollResult{State: types.JobComplete, URL: report.URL, Attempts: attempts}
		case statusFailed, statusTooComplex, statusNotFound:
			return types.PollResult{
				State:    types.JobFailed,
				Attempts: attempts,
				Err:      &JobFailedError{Hash: handle.Hash, Status: report.Status, Message: report.Message},
			}
		}
	}
	return types.PollResult{State: types.JobTimedOut, Attempts: attempts, Err: timeoutError(attempts, lastErr)}
}

func (p *Poller) stopped(ctx context.Context, attempts int, lastErr error) types.PollResult {
	if ctx.Err() != nil {
		return types.PollResult{State: types.JobQueued, Attempts: attempts, Err: ctx.Err()}
	}
	return types.PollResult{State: types.JobTimedOut, Attempts: attempts, Err: timeoutError(attempts, lastErr)}
}

var ErrPollExhausted = errors.New("poll budget exhausted before completion")

func timeoutError(attempts int, lastErr error) error {
	if lastErr == nil {
		return fmt.Errorf("%w after %d attempts", ErrPollExhausted, attempts)
	}
	return fmt.Errorf("%w after %d attempts, last error: %v", ErrPollExhausted, attempts, lastErr)
}
