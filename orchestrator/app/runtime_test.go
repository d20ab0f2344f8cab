package app

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/PeladoCollado/fractalload/orchestrator/manager"
	"github.com/PeladoCollado/fractalload/stubservice"
	"github.com/prometheus/client_golang/prometheus"
)

func startStub(t *testing.T, opts stubservice.Options) (*stubservice.Service, string) {
	t.Helper()
	service := stubservice.New(opts)
	server := httptest.NewServer(service.Handler())
	t.Cleanup(server.Close)
	return service, server.URL + "/api"
}

func testConfig(baseURL string) Config {
	cfg := DefaultConfig()
	cfg.ListenPort = 0
	cfg.BaseURL = baseURL
	cfg.StartIterations = 701
	cfg.PollInterval = 5 * time.Millisecond
	cfg.MaxPollAttempts = 20
	cfg.HTTPRetries = 0
	return cfg
}

func threeUsers(key string) string {
	return map[string]string{
		"TEST_PASSWORD": "pw",
		"USER_1_NAME":   "alice",
		"USER_2_NAME":   "bob",
		"USER_3_NAME":   "carol",
	}[key]
}

func TestRunContinuesWithoutRejectedUser(t *testing.T) {
	service, baseURL := startStub(t, stubservice.Options{
		Password:        "pw",
		Users:           []string{"alice", "carol"},
		GenerationPolls: 2,
	})
	cfg := testConfig(baseURL)
	cfg.MaxJobs = 2

	registry := prometheus.NewRegistry()
	var summary manager.RunSummary
	err := Run(context.Background(), cfg, RunOptions{
		Registerer: registry,
		Gatherer:   registry,
		Getenv:     threeUsers,
		OnComplete: func(s manager.RunSummary) {
			summary = s
		},
	})
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	if len(summary.Authenticated) != 2 || len(summary.Failed) != 1 || summary.Failed[0].Username != "bob" {
		t.Fatalf("unexpected authentication summary: %+v", summary)
	}
	if summary.Report.Allocated != 4 || summary.Report.TotalJobs != 4 {
		t.Fatalf("expected 4 allocated and 4 jobs, got %+v", summary.Report)
	}
	if summary.Report.AuthFailures != 1 {
		t.Fatalf("expected one auth failure, got %d", summary.Report.AuthFailures)
	}
	for _, user := range summary.Report.Users {
		if user.Username == "bob" {
			continue
		}
		if user.Jobs != 2 || user.Generated != 2 {
			t.Fatalf("unexpected user report %+v", user)
		}
	}
	if service.Submissions() != 4 {
		t.Fatalf("expected 4 submissions, got %d", service.Submissions())
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("unable to gather metrics: %v", err)
	}
	var polls float64
	for _, family := range families {
		if family.GetName() != "fractalload_poll_attempts_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			polls += metric.GetCounter().GetValue()
		}
	}
	if polls != 8 {
		t.Fatalf("expected 8 poll attempts, got %v", polls)
	}
}

func TestRunAbortsWhenNoUserAuthenticates(t *testing.T) {
	service, baseURL := startStub(t, stubservice.Options{Password: "other"})
	registry := prometheus.NewRegistry()

	err := Run(context.Background(), testConfig(baseURL), RunOptions{
		Registerer: registry,
		Gatherer:   registry,
		Getenv:     threeUsers,
	})
	if !errors.Is(err, manager.ErrNoSessions) {
		t.Fatalf("expected ErrNoSessions, got %v", err)
	}
	if service.Submissions() != 0 {
		t.Fatalf("expected no submissions, got %d", service.Submissions())
	}
}

func TestRunRequiresPassword(t *testing.T) {
	_, baseURL := startStub(t, stubservice.Options{})
	registry := prometheus.NewRegistry()

	err := Run(context.Background(), testConfig(baseURL), RunOptions{
		Registerer: registry,
		Gatherer:   registry,
		Getenv: func(key string) string {
			if key == "USER_1_NAME" {
				return "alice"
			}
			return ""
		},
	})
	if !errors.Is(err, ErrMissingPassword) {
		t.Fatalf("expected ErrMissingPassword, got %v", err)
	}
}

func TestRunStopsOnCancellation(t *testing.T) {
	service, baseURL := startStub(t, stubservice.Options{})
	cfg := testConfig(baseURL)
	cfg.SubmitRate = 200
	registry := prometheus.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var lock sync.Mutex
	var summary manager.RunSummary
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, cfg, RunOptions{
			Registerer: registry,
			Gatherer:   registry,
			Getenv:     threeUsers,
			OnComplete: func(s manager.RunSummary) {
				lock.Lock()
				summary = s
				lock.Unlock()
			},
		})
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for run to return")
	}
	if service.Submissions() == 0 {
		t.Fatalf("expected submissions before cancellation")
	}
	lock.Lock()
	defer lock.Unlock()
	if len(summary.Authenticated) != 3 {
		t.Fatalf("expected all users to authenticate, got %+v", summary.Authenticated)
	}
}
