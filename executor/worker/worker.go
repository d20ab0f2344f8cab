package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PeladoCollado/fractalload/metrics"
	"github.com/PeladoCollado/fractalload/orchestrator/logger"
	"github.com/PeladoCollado/fractalload/types"
)

type Allocator interface {
	Next() types.WorkItem
}

type Submitter interface {
	Submit(ctx context.Context, session types.Session, params types.JobParams) types.Submission
}

type Poller interface {
	Poll(ctx context.Context, session types.Session, handle types.JobHandle) types.PollResult
}

type OutcomeRecorder interface {
	RecordOutcome(outcome types.JobOutcome)
}

// Limiter paces submissions across workers; golang.org/x/time/rate.Limiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Worker owns one authenticated session and runs one job at a time until its context is cancelled
// or MaxJobs jobs have been recorded.
type Worker struct {
	Session   types.Session
	Initial   types.WorkItem
	Allocator Allocator
	Submitter Submitter
	Poller    Poller
	Params    types.ParamsSource
	Recorder  OutcomeRecorder
	Metrics   metrics.MetricsCollector
	Limiter   Limiter

	// MaxJobs stops the loop after that many jobs; 0 runs until cancelled.
	MaxJobs int
}

func (w *Worker) Run(ctx context.Context) error {
	collector := w.collector()
	collector.WorkerStarted()
	defer collector.WorkerStopped()

	logger.Logger.Infow("Worker starting", "user", w.Session.Username, "iterations", int(w.Initial))
	for jobs := 0; w.MaxJobs <= 0 || jobs < w.MaxJobs; jobs++ {
		if ctx.Err() != nil {
			break
		}
		item := w.Initial
		if jobs > 0 {
			item = w.Allocator.Next()
			collector.RecordAllocation(int(item))
		}
		outcome, finished := w.RunJob(ctx, item)
		if !finished {
			break
		}
		w.record(outcome)
	}
	logger.Logger.Infow("Worker stopped", "user", w.Session.Username)
	return nil
}

// RunJob consumes one work item: submit, poll when queued, and return the terminal outcome.
// finished is false when ctx was cancelled before a terminal state was observed.
func (w *Worker) RunJob(ctx context.Context, item types.WorkItem) (outcome types.JobOutcome, finished bool) {
	outcome = types.JobOutcome{Username: w.Session.Username, Iterations: int(item), State: types.JobFailed}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			outcome.State = types.JobFailed
			outcome.Error = fmt.Sprintf("panic: %v", r)
			outcome.Duration = time.Since(start)
			finished = true
		}
	}()

	params, err := w.Params.Next()
	if err != nil {
		outcome.Error = fmt.Sprintf("unable to build job parameters: %v", err)
		return outcome, true
	}
	params.Iterations = int(item)

	if w.Limiter != nil {
		if err := w.Limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return outcome, false
			}
			outcome.Error = fmt.Sprintf("rate limiter: %v", err)
			return outcome, true
		}
		start = time.Now()
	}

	submission := w.Submitter.Submit(ctx, w.Session, params)
	if ctx.Err() != nil {
		return outcome, false
	}
	w.collector().RecordSubmission(submission.Status)

	switch submission.Status {
	case types.SubmissionReady:
		outcome.State = types.JobComplete
		outcome.Cached = true
		outcome.URL = submission.URL
		outcome.Hash = submission.Hash
	case types.SubmissionQueued:
		outcome.Hash = submission.Handle.Hash
		result := w.Poller.Poll(ctx, w.Session, submission.Handle)
		if !result.State.Terminal() {
			return outcome, false
		}
		outcome.State = result.State
		outcome.URL = result.URL
		outcome.Attempts = result.Attempts
		if result.Err != nil {
			outcome.Error = result.Err.Error()
		}
	default:
		err := submission.Err
		if err == nil {
			err = errors.New("submission failed")
		}
		outcome.Error = err.Error()
	}
	outcome.Duration = time.Since(start)
	return outcome, true
}

func (w *Worker) record(outcome types.JobOutcome) {
	if w.Recorder != nil {
		w.Recorder.RecordOutcome(outcome)
	}
	w.collector().RecordOutcome(outcome)

	fields := []interface{}{
		"user", outcome.Username,
		"iterations", outcome.Iterations,
		"state", outcome.State,
		"durationMillis", outcome.Duration.Milliseconds(),
	}
	if outcome.Hash != "" {
		fields = append(fields, "hash", outcome.Hash)
	}
	switch {
	case outcome.State == types.JobComplete:
		fields = append(fields, "cached", outcome.Cached, "url", outcome.URL, "attempts", outcome.Attempts)
		logger.Logger.Infow("Job completed", fields...)
	default:
		fields = append(fields, "attempts", outcome.Attempts, "error", outcome.Error)
		logger.Logger.Warnw("Job did not complete", fields...)
	}
}

func (w *Worker) collector() metrics.MetricsCollector {
	if w.Metrics == nil {
		return metrics.Discard{}
	}
	return w.Metrics
}
