package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PeladoCollado/fractalload/executor/worker"
	"github.com/PeladoCollado/fractalload/fractalapi"
	"github.com/PeladoCollado/fractalload/orchestrator/app"
	"github.com/PeladoCollado/fractalload/orchestrator/logger"
	"github.com/PeladoCollado/fractalload/orchestrator/manager"
	"github.com/PeladoCollado/fractalload/orchestrator/params"
	"github.com/PeladoCollado/fractalload/types"
	"github.com/google/uuid"
)

var errNotComplete = errors.New("job did not complete")

// executor logs in a single user, generates one fractal and prints the outcome as JSON.
func main() {
	cfg := app.DefaultConfig()
	var username string
	var iterations int
	flag.StringVar(&cfg.BaseURL, "base-url", "", "API base URL (defaults to API_BASE_URL or SERVER_IP)")
	flag.StringVar(&cfg.EnvFile, "env-file", cfg.EnvFile, "Dotenv file to load before reading the environment")
	flag.StringVar(&username, "user", "", "User to log in as (defaults to USER_1_NAME)")
	flag.IntVar(&iterations, "iterations", cfg.StartIterations, "Iterations of the generated fractal")
	flag.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Delay between status checks")
	flag.IntVar(&cfg.MaxPollAttempts, "max-poll-attempts", cfg.MaxPollAttempts, "Status checks before giving up")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Enable development logging")
	flag.Parse()

	if err := logger.Init(cfg.Verbose); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.LoadDotEnv(cfg.EnvFile); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to load environment: %v\n", err)
		os.Exit(1)
	}
	env, err := app.ResolveEnvironment(cfg, os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to resolve environment: %v\n", err)
		os.Exit(1)
	}
	credential, err := pickCredential(env, username, os.Getenv("TEST_PASSWORD"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	client, err := fractalapi.NewClient(fractalapi.Options{
		BaseURL:       env.BaseURL,
		RunID:         uuid.NewString(),
		LoginTimeout:  cfg.LoginTimeout,
		SubmitTimeout: cfg.SubmitTimeout,
		StatusTimeout: cfg.StatusTimeout,
		Retries:       cfg.HTTPRetries,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to create API client: %v\n", err)
		os.Exit(1)
	}
	poller := fractalapi.NewPoller(client, cfg.PollInterval, cfg.MaxPollAttempts)

	outcome, err := generate(ctx, client, client, poller, credential, params.DefaultJobParams(), types.WorkItem(iterations))
	if outcome.Username != "" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		_ = encoder.Encode(outcome)
	}
	if err != nil {
		logger.Logger.Errorw("Fractal generation failed", "user", credential.Username, "error", err)
		os.Exit(1)
	}
}

func pickCredential(env app.Environment, username string, password string) (types.UserCredential, error) {
	if username != "" {
		return types.UserCredential{Username: username, Password: password}, nil
	}
	if len(env.Credentials) == 0 {
		return types.UserCredential{}, fmt.Errorf("no user given: set -user or USER_1_NAME")
	}
	return env.Credentials[0], nil
}

// generate runs exactly one job through the same path the load workers use.
func generate(ctx context.Context,
	auth manager.Authenticator,
	submitter worker.Submitter,
	poller worker.Poller,
	credential types.UserCredential,
	jobParams types.JobParams,
	item types.WorkItem) (types.JobOutcome, error) {
	session, err := auth.Login(ctx, credential)
	if err != nil {
		return types.JobOutcome{}, fmt.Errorf("login %s: %w", credential.Username, err)
	}

	w := &worker.Worker{
		Session:   session,
		Initial:   item,
		Submitter: submitter,
		Poller:    poller,
		Params:    params.NewFixedSource(jobParams),
	}
	start := time.Now()
	outcome, finished := w.RunJob(ctx, item)
	if !finished {
		return outcome, ctx.Err()
	}
	logger.Logger.Infow("Fractal generation finished",
		"user", credential.Username,
		"iterations", int(item),
		"state", outcome.State,
		"cached", outcome.Cached,
		"elapsed", time.Since(start).Round(time.Millisecond))
	if outcome.State != types.JobComplete {
		return outcome, fmt.Errorf("%w: %s %s", errNotComplete, outcome.State, outcome.Error)
	}
	return outcome, nil
}
