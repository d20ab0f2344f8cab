package stubservice

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/PeladoCollado/fractalload/fractalapi"
	"github.com/PeladoCollado/fractalload/types"
)

func newTestClient(t *testing.T, service *Service) *fractalapi.Client {
	t.Helper()
	server := httptest.NewServer(service.Handler())
	t.Cleanup(server.Close)
	client, err := fractalapi.NewClient(fractalapi.Options{BaseURL: server.URL + "/api"})
	if err != nil {
		t.Fatalf("unable to create client: %v", err)
	}
	return client
}

func login(t *testing.T, client *fractalapi.Client, username string) types.Session {
	t.Helper()
	session, err := client.Login(context.Background(), types.UserCredential{Username: username, Password: "pw"})
	if err != nil {
		t.Fatalf("unexpected login error: %v", err)
	}
	return session
}

func TestLoginOutcomes(t *testing.T) {
	client := newTestClient(t, New(Options{Password: "pw", Users: []string{"alice", "otp"}, MFAUsers: []string{"otp"}}))

	if session := login(t, client, "alice"); session.Token == "" {
		t.Fatalf("expected token for alice")
	}

	_, err := client.Login(context.Background(), types.UserCredential{Username: "otp", Password: "pw"})
	if !errors.Is(err, fractalapi.ErrMFAUnsupported) {
		t.Fatalf("expected MFA challenge, got %v", err)
	}

	_, err = client.Login(context.Background(), types.UserCredential{Username: "alice", Password: "wrong"})
	var statusErr *fractalapi.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 status error, got %v", err)
	}
}

func TestQueuedJobCompletesAfterGenerationPolls(t *testing.T) {
	service := New(Options{GenerationPolls: 3})
	client := newTestClient(t, service)
	session := login(t, client, "alice")

	submission := client.Submit(context.Background(), session, types.JobParams{Width: 800, Height: 600, Iterations: 701})
	if submission.Status != types.SubmissionQueued || submission.Handle.Hash == "" {
		t.Fatalf("expected queued submission, got %+v", submission)
	}

	// a second submit of the same options reports the in-flight job
	again := client.Submit(context.Background(), session, types.JobParams{Width: 800, Height: 600, Iterations: 701})
	if again.Status != types.SubmissionQueued || again.Hash != submission.Hash {
		t.Fatalf("expected in-flight job to be reported as queued, got %+v", again)
	}

	poller := fractalapi.NewPoller(client, 5*time.Millisecond, 10)
	result := poller.Poll(context.Background(), session, submission.Handle)
	if result.State != types.JobComplete || result.Attempts != 3 || result.URL == "" {
		t.Fatalf("unexpected poll result %+v", result)
	}

	cached := client.Submit(context.Background(), session, types.JobParams{Width: 800, Height: 600, Iterations: 701})
	if cached.Status != types.SubmissionReady || cached.URL != result.URL {
		t.Fatalf("expected cached result, got %+v", cached)
	}
	if service.Submissions() != 3 {
		t.Fatalf("expected 3 submissions, got %d", service.Submissions())
	}
}

func TestImmediateCompletion(t *testing.T) {
	client := newTestClient(t, New(Options{}))
	session := login(t, client, "alice")

	submission := client.Submit(context.Background(), session, types.JobParams{Iterations: 501})
	if submission.Status != types.SubmissionReady || submission.URL == "" {
		t.Fatalf("expected ready submission, got %+v", submission)
	}
}

func TestTooComplexJobFailsPolling(t *testing.T) {
	client := newTestClient(t, New(Options{GenerationPolls: 2, TooComplexAbove: 1000}))
	session := login(t, client, "alice")

	submission := client.Submit(context.Background(), session, types.JobParams{Iterations: 5000})
	if submission.Status != types.SubmissionQueued {
		t.Fatalf("expected queued submission, got %+v", submission)
	}
	poller := fractalapi.NewPoller(client, 5*time.Millisecond, 10)
	result := poller.Poll(context.Background(), session, submission.Handle)
	if result.State != types.JobFailed {
		t.Fatalf("expected failed state, got %+v", result)
	}

	resubmitted := client.Submit(context.Background(), session, types.JobParams{Iterations: 5000})
	if resubmitted.Status != types.SubmissionFailed {
		t.Fatalf("expected too_complex resubmission to fail, got %+v", resubmitted)
	}
}

func TestUnknownHashIsNotFound(t *testing.T) {
	client := newTestClient(t, New(Options{}))
	session := login(t, client, "alice")

	report, err := client.CheckStatus(context.Background(), session, "missing")
	if err != nil {
		t.Fatalf("unexpected status error: %v", err)
	}
	if report.Status != "not_found" {
		t.Fatalf("expected not_found, got %+v", report)
	}
}

func TestRejectsMissingToken(t *testing.T) {
	handler := New(Options{}).Handler()
	req := httptest.NewRequest(http.MethodGet, "/api/fractal?iterations=1", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()

	healthHandler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if got := resp.Body.String(); got != "ok" {
		t.Fatalf("expected ok body, got %q", got)
	}
}
