package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/PeladoCollado/fractalload/executor/worker"
	"github.com/PeladoCollado/fractalload/fractalapi"
	"github.com/PeladoCollado/fractalload/metrics"
	"github.com/PeladoCollado/fractalload/orchestrator/api"
	"github.com/PeladoCollado/fractalload/orchestrator/logger"
	"github.com/PeladoCollado/fractalload/orchestrator/manager"
	"github.com/PeladoCollado/fractalload/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

type RunOptions struct {
	ParamsSourceFactory ParamsSourceFactory

	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	// Getenv replaces os.Getenv; when nil the dotenv file from the config is loaded first.
	Getenv func(string) string
	// HTTPClient replaces the transport used to reach the fractal API.
	HTTPClient *http.Client
	// OnComplete receives the final summary once all workers have returned.
	OnComplete func(manager.RunSummary)
}

func Run(ctx context.Context, cfg Config, opts RunOptions) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}

	getenv := opts.Getenv
	if getenv == nil {
		if err := LoadDotEnv(cfg.EnvFile); err != nil {
			return fmt.Errorf("load environment: %w", err)
		}
		getenv = os.Getenv
	}
	env, err := ResolveEnvironment(cfg, getenv)
	if err != nil {
		return fmt.Errorf("resolve environment: %w", err)
	}

	runID := uuid.NewString()
	logger.Logger.Infow("Starting load run",
		"runId", runID,
		"baseUrl", env.BaseURL,
		"users", len(env.Credentials),
		"startIterations", cfg.StartIterations)

	registerer := opts.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	harnessMetrics := metrics.NewHarnessMetrics(registerer)

	client, err := fractalapi.NewClient(fractalapi.Options{
		BaseURL:       env.BaseURL,
		RunID:         runID,
		LoginTimeout:  cfg.LoginTimeout,
		SubmitTimeout: cfg.SubmitTimeout,
		StatusTimeout: cfg.StatusTimeout,
		Retries:       cfg.HTTPRetries,
		HTTPClient:    opts.HTTPClient,
	})
	if err != nil {
		return fmt.Errorf("initialize fractal api client: %w", err)
	}

	poller := fractalapi.NewPoller(client, cfg.PollInterval, cfg.MaxPollAttempts)
	poller.OnAttempt = func(err error) {
		harnessMetrics.RecordPollAttempt(err != nil)
	}

	var limiter worker.Limiter
	if cfg.SubmitRate > 0 {
		burst := int(math.Ceil(cfg.SubmitRate))
		limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRate), burst)
	}

	sourceFactory := paramsSourceFactoryOrDefault(opts.ParamsSourceFactory)
	var workerIndex atomic.Int64
	newParams := func() (types.ParamsSource, error) {
		index := int(workerIndex.Add(1) - 1)
		return sourceFactory.NewParamsSource(cfg, index)
	}

	allocator := manager.NewAllocator(cfg.StartIterations)
	reports := manager.NewReports(runID)
	driver := &manager.Driver{
		Auth:             client,
		Allocator:        allocator,
		Reports:          reports,
		Metrics:          harnessMetrics,
		LoginConcurrency: cfg.LoginConcurrency,
		NewWorker: manager.NewWorkerFactory(
			allocator,
			client,
			poller,
			newParams,
			reports,
			harnessMetrics,
			limiter,
			cfg.MaxJobs,
		),
	}

	stopServer := startServer(cfg.ListenPort, gatherer, api.ReportSourceFunc(func() manager.RunReport {
		return reports.Snapshot(allocator.Issued())
	}))
	defer stopServer()

	summary, err := driver.Run(ctx, env.Credentials)
	logSummary(summary)
	if opts.OnComplete != nil {
		opts.OnComplete(summary)
	}
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			logger.Logger.Infow("Run interrupted", "runId", runID)
			return nil
		}
		return err
	}
	return nil
}

// startServer exposes /metrics, /report and /healthz until the returned stop function is called.
// A port of 0 disables the server.
func startServer(port int, gatherer prometheus.Gatherer, source api.ReportSource) func() {
	if port == 0 {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/", api.NewHandler(source))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger.Warnw("Harness report server failed", "port", port, "error", err)
		}
	}()

	return func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Warnw("Unable to gracefully shutdown report server", "error", err)
		}
	}
}

func logSummary(summary manager.RunSummary) {
	report := summary.Report
	if report.StartedAt.IsZero() {
		return
	}
	logger.Logger.Infow("Run finished",
		"runId", report.RunID,
		"authenticated", len(summary.Authenticated),
		"authFailures", len(summary.Failed),
		"allocated", report.Allocated,
		"jobs", report.TotalJobs,
		"elapsed", time.Since(report.StartedAt).Round(time.Millisecond))
	for _, user := range report.Users {
		if user.AuthError != "" {
			logger.Logger.Infow("User summary", "user", user.Username, "authError", user.AuthError)
			continue
		}
		logger.Logger.Infow("User summary",
			"user", user.Username,
			"jobs", user.Jobs,
			"cached", user.Cached,
			"generated", user.Generated,
			"failed", user.Failed,
			"timedOut", user.TimedOut,
			"p99Millis", user.P99LatencyMillis)
	}
}
