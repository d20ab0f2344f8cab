package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/PeladoCollado/fractalload/types"
	"github.com/google/go-cmp/cmp"
)

type counterAllocator struct {
	lock sync.Mutex
	next int
}

func (c *counterAllocator) Next() types.WorkItem {
	c.lock.Lock()
	defer c.lock.Unlock()
	value := c.next
	c.next++
	return types.WorkItem(value)
}

type fakeSubmitter struct {
	lock       sync.Mutex
	iterations []int
	respond    func(call int) types.Submission
}

func (f *fakeSubmitter) Submit(ctx context.Context, session types.Session, params types.JobParams) types.Submission {
	f.lock.Lock()
	call := len(f.iterations)
	f.iterations = append(f.iterations, params.Iterations)
	f.lock.Unlock()
	return f.respond(call)
}

func (f *fakeSubmitter) submitted() []int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]int(nil), f.iterations...)
}

type fakePoller struct {
	lock   sync.Mutex
	calls  int
	result types.PollResult
	block  bool
}

func (f *fakePoller) Poll(ctx context.Context, session types.Session, handle types.JobHandle) types.PollResult {
	f.lock.Lock()
	f.calls++
	f.lock.Unlock()
	if f.block {
		<-ctx.Done()
		return types.PollResult{State: types.JobQueued, Err: ctx.Err()}
	}
	return f.result
}

func (f *fakePoller) callCount() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.calls
}

type fakeRecorder struct {
	lock     sync.Mutex
	outcomes []types.JobOutcome
}

func (f *fakeRecorder) RecordOutcome(outcome types.JobOutcome) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

func (f *fakeRecorder) recorded() []types.JobOutcome {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]types.JobOutcome(nil), f.outcomes...)
}

type staticParams struct{}

func (staticParams) Next() (types.JobParams, error) {
	return types.JobParams{Width: 100, Height: 100, Iterations: 1}, nil
}

func (staticParams) Reset() error {
	return nil
}

func newWorker(submitter *fakeSubmitter, poller *fakePoller, recorder *fakeRecorder, maxJobs int) *Worker {
	return &Worker{
		Session:   types.Session{Username: "alice", Token: "t"},
		Initial:   701,
		Allocator: &counterAllocator{next: 704},
		Submitter: submitter,
		Poller:    poller,
		Params:    staticParams{},
		Recorder:  recorder,
		MaxJobs:   maxJobs,
	}
}

func TestReadySubmissionNeverPolls(t *testing.T) {
	submitter := &fakeSubmitter{respond: func(int) types.Submission {
		return types.Submission{Status: types.SubmissionReady, URL: "https://bucket/a.png", Hash: "a"}
	}}
	poller := &fakePoller{}
	recorder := &fakeRecorder{}

	if err := newWorker(submitter, poller, recorder, 2).Run(context.Background()); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if poller.callCount() != 0 {
		t.Fatalf("expected no polling for ready submissions, got %d polls", poller.callCount())
	}
	outcomes := recorder.recorded()
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if !outcomes[0].Cached || outcomes[0].State != types.JobComplete || outcomes[0].URL != "https://bucket/a.png" {
		t.Fatalf("unexpected cached outcome %+v", outcomes[0])
	}
}

func TestWorkerConsumesInitialItemThenAllocator(t *testing.T) {
	submitter := &fakeSubmitter{respond: func(int) types.Submission {
		return types.Submission{Status: types.SubmissionQueued, Handle: types.JobHandle{Hash: "h"}}
	}}
	poller := &fakePoller{result: types.PollResult{State: types.JobComplete, URL: "u", Attempts: 3}}
	recorder := &fakeRecorder{}

	if err := newWorker(submitter, poller, recorder, 3).Run(context.Background()); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	expected := []int{701, 704, 705}
	if diff := cmp.Diff(expected, submitter.submitted()); diff != "" {
		t.Fatalf("unexpected submission order (-want +got):\n%s", diff)
	}
	if poller.callCount() != 3 {
		t.Fatalf("expected 3 polls, got %d", poller.callCount())
	}
	for _, outcome := range recorder.recorded() {
		if outcome.State != types.JobComplete || outcome.Cached || outcome.Attempts != 3 {
			t.Fatalf("unexpected outcome %+v", outcome)
		}
	}
}

func TestFailedSubmissionMovesToNextItem(t *testing.T) {
	submitter := &fakeSubmitter{respond: func(call int) types.Submission {
		if call == 0 {
			return types.Submission{Status: types.SubmissionFailed, Err: errors.New("status 500")}
		}
		return types.Submission{Status: types.SubmissionReady, URL: "u"}
	}}
	recorder := &fakeRecorder{}

	if err := newWorker(submitter, &fakePoller{}, recorder, 2).Run(context.Background()); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	outcomes := recorder.recorded()
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].State != types.JobFailed || outcomes[0].Error != "status 500" {
		t.Fatalf("unexpected failed outcome %+v", outcomes[0])
	}
	if outcomes[1].State != types.JobComplete || outcomes[1].Iterations != 704 {
		t.Fatalf("unexpected second outcome %+v", outcomes[1])
	}
}

func TestTimedOutJobIsRecorded(t *testing.T) {
	submitter := &fakeSubmitter{respond: func(int) types.Submission {
		return types.Submission{Status: types.SubmissionQueued, Handle: types.JobHandle{Hash: "slow"}}
	}}
	poller := &fakePoller{result: types.PollResult{State: types.JobTimedOut, Attempts: 40, Err: errors.New("exhausted")}}
	recorder := &fakeRecorder{}

	if err := newWorker(submitter, poller, recorder, 1).Run(context.Background()); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	outcomes := recorder.recorded()
	if len(outcomes) != 1 || outcomes[0].State != types.JobTimedOut || outcomes[0].Hash != "slow" {
		t.Fatalf("unexpected outcomes %+v", outcomes)
	}
}

func TestCancellationAbandonsInFlightPoll(t *testing.T) {
	submitter := &fakeSubmitter{respond: func(int) types.Submission {
		return types.Submission{Status: types.SubmissionQueued, Handle: types.JobHandle{Hash: "h"}}
	}}
	poller := &fakePoller{block: true}
	recorder := &fakeRecorder{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- newWorker(submitter, poller, recorder, 0).Run(ctx)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop after cancellation")
	}
	if len(recorder.recorded()) != 0 {
		t.Fatalf("abandoned jobs must not be recorded, got %+v", recorder.recorded())
	}
	if got := submitter.submitted(); len(got) != 1 {
		t.Fatalf("expected a single in-flight submission, got %v", got)
	}
}

func TestPanicIsIsolatedToOneJob(t *testing.T) {
	submitter := &fakeSubmitter{respond: func(call int) types.Submission {
		if call == 0 {
			panic("boom")
		}
		return types.Submission{Status: types.SubmissionReady, URL: "u"}
	}}
	recorder := &fakeRecorder{}

	if err := newWorker(submitter, &fakePoller{}, recorder, 2).Run(context.Background()); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	outcomes := recorder.recorded()
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].State != types.JobFailed || outcomes[0].Error != "panic: boom" {
		t.Fatalf("unexpected panic outcome %+v", outcomes[0])
	}
}
