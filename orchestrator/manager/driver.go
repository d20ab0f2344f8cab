package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/PeladoCollado/fractalload/executor/worker"
	"github.com/PeladoCollado/fractalload/metrics"
	"github.com/PeladoCollado/fractalload/orchestrator/logger"
	"github.com/PeladoCollado/fractalload/types"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNoCredentials = errors.New("no users configured")
	ErrNoSessions    = errors.New("no users authenticated successfully")
)

type Authenticator interface {
	Login(ctx context.Context, credential types.UserCredential) (types.Session, error)
}

type Runnable interface {
	Run(ctx context.Context) error
}

// WorkerFactory builds the loop for one authenticated session and its initial work item.
type WorkerFactory func(session types.Session, initial types.WorkItem) (Runnable, error)

type AuthFailure struct {
	Username string
	Err      error
}

type RunSummary struct {
	Authenticated []types.Session
	Failed        []AuthFailure
	Report        RunReport
}

type Driver struct {
	Auth      Authenticator
	Allocator *Allocator
	Reports   *Reports
	Metrics   metrics.MetricsCollector
	NewWorker WorkerFactory

	// LoginConcurrency caps simultaneous logins; 0 logs everyone in at once.
	LoginConcurrency int
}

// Run authenticates every credential concurrently, then runs one worker per successful session until
// ctx is cancelled or every worker returns.
func (d *Driver) Run(ctx context.Context, credentials []types.UserCredential) (RunSummary, error) {
	if len(credentials) == 0 {
		return RunSummary{}, ErrNoCredentials
	}
	collector := d.Metrics
	if collector == nil {
		collector = metrics.Discard{}
	}

	sessions, failures := d.authenticate(ctx, credentials, collector)
	summary := RunSummary{Authenticated: sessions, Failed: failures}
	if err := ctx.Err(); err != nil {
		summary.Report = d.snapshot()
		return summary, err
	}
	logger.Logger.Infow("Authentication finished",
		"succeeded", len(sessions), "failed", len(failures))
	if len(sessions) == 0 {
		summary.Report = d.snapshot()
		return summary, fmt.Errorf("%w: %w", ErrNoSessions, loginErrors(failures))
	}

	// initial items are handed out in registration order before any worker starts
	runners := make([]Runnable, 0, len(sessions))
	for _, session := range sessions {
		initial := d.Allocator.Next()
		collector.RecordAllocation(int(initial))
		runner, err := d.NewWorker(session, initial)
		if err != nil {
			summary.Report = d.snapshot()
			return summary, fmt.Errorf("create worker for %s: %w", session.Username, err)
		}
		runners = append(runners, runner)
	}

	var group errgroup.Group
	for i := range runners {
		runner := runners[i]
		group.Go(func() error {
			return runner.Run(ctx)
		})
	}
	err := group.Wait()
	summary.Report = d.snapshot()
	return summary, err
}

func (d *Driver) authenticate(ctx context.Context,
	credentials []types.UserCredential,
	collector metrics.MetricsCollector) ([]types.Session, []AuthFailure) {
	type loginResult struct {
		session types.Session
		err     error
	}
	results := make([]loginResult, len(credentials))

	var group errgroup.Group
	if d.LoginConcurrency > 0 {
		group.SetLimit(d.LoginConcurrency)
	}
	for i := range credentials {
		idx := i
		group.Go(func() error {
			credential := credentials[idx]
			logger.Logger.Infow("Logging in", "user", credential.Username)
			session, err := d.Auth.Login(ctx, credential)
			results[idx] = loginResult{session: session, err: err}
			return nil
		})
	}
	_ = group.Wait()

	sessions := make([]types.Session, 0, len(credentials))
	failures := make([]AuthFailure, 0)
	for idx, result := range results {
		username := credentials[idx].Username
		collector.RecordLogin(result.err == nil)
		if result.err != nil {
			logger.Logger.Warnw("Login failed- user removed from the run", "user", username, "error", result.err)
			failures = append(failures, AuthFailure{Username: username, Err: result.err})
			if d.Reports != nil {
				d.Reports.RecordAuthFailure(username, result.err)
			}
			continue
		}
		logger.Logger.Infow("Login successful", "user", username)
		sessions = append(sessions, result.session)
		if d.Reports != nil {
			d.Reports.RecordAuthSuccess(username)
		}
	}
	return sessions, failures
}

func loginErrors(failures []AuthFailure) error {
	var result *multierror.Error
	for _, failure := range failures {
		result = multierror.Append(result, fmt.Errorf("%s: %w", failure.Username, failure.Err))
	}
	return result.ErrorOrNil()
}

func (d *Driver) snapshot() RunReport {
	if d.Reports == nil {
		return RunReport{Allocated: d.Allocator.Issued()}
	}
	return d.Reports.Snapshot(d.Allocator.Issued())
}

// NewWorkerFactory wires the standard worker loop. paramsFactory is called once per worker so that
// no parameter source is shared between workers.
func NewWorkerFactory(allocator *Allocator,
	submitter worker.Submitter,
	poller worker.Poller,
	paramsFactory func() (types.ParamsSource, error),
	recorder worker.OutcomeRecorder,
	collector metrics.MetricsCollector,
	limiter worker.Limiter,
	maxJobs int) WorkerFactory {
	return func(session types.Session, initial types.WorkItem) (Runnable, error) {
		params, err := paramsFactory()
		if err != nil {
			return nil, fmt.Errorf("initialize job parameters: %w", err)
		}
		w := &worker.Worker{
			Session:   session,
			Initial:   initial,
			Allocator: allocator,
			Submitter: submitter,
			Poller:    poller,
			Params:    params,
			Recorder:  recorder,
			Metrics:   collector,
			Limiter:   limiter,
			MaxJobs:   maxJobs,
		}
		return w, nil
	}
}
