package manager

import (
	"slices"
	"sync"
	"time"

	"github.com/PeladoCollado/fractalload/types"
	"gonum.org/v1/gonum/stat"
)

const maxLatencySamples = 1024

type UserReport struct {
	Username  string `json:"username"`
	AuthError string `json:"authError,omitempty"`

	Jobs      int `json:"jobs"`
	Cached    int `json:"cached"`
	Generated int `json:"generated"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timedOut"`

	LastIterations    int     `json:"lastIterations,omitempty"`
	MeanLatencyMillis float64 `json:"meanLatencyMillis"`
	P50LatencyMillis  float64 `json:"p50LatencyMillis"`
	P99LatencyMillis  int64   `json:"p99LatencyMillis"`
}

type RunReport struct {
	RunID        string       `json:"runId"`
	StartedAt    time.Time    `json:"startedAt"`
	Allocated    int          `json:"allocated"`
	AuthFailures int          `json:"authFailures"`
	TotalJobs    int          `json:"totalJobs"`
	Users        []UserReport `json:"users"`
}

type userAggregate struct {
	report    UserReport
	latencies []int64
	next      int
}

// Reports aggregates per-user outcomes for the run. Users are kept in the order they were first seen.
type Reports struct {
	lock      sync.Mutex
	runID     string
	startedAt time.Time
	users     map[string]*userAggregate
	order     []string
}

func NewReports(runID string) *Reports {
	return &Reports{
		runID:     runID,
		startedAt: time.Now(),
		users:     make(map[string]*userAggregate),
	}
}

func (r *Reports) RecordAuthFailure(username string, err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.user(username).report.AuthError = err.Error()
}

func (r *Reports) RecordAuthSuccess(username string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.user(username)
}

func (r *Reports) RecordOutcome(outcome types.JobOutcome) {
	r.lock.Lock()
	defer r.lock.Unlock()
	aggregate := r.user(outcome.Username)
	aggregate.report.Jobs++
	aggregate.report.LastIterations = outcome.Iterations
	switch outcome.State {
	case types.JobComplete:
		if outcome.Cached {
			aggregate.report.Cached++
		} else {
			aggregate.report.Generated++
		}
	case types.JobTimedOut:
		aggregate.report.TimedOut++
	default:
		aggregate.report.Failed++
	}
	aggregate.addLatency(outcome.Duration.Milliseconds())
}

// Snapshot returns a copy of the current tallies, safe to encode while workers keep recording.
func (r *Reports) Snapshot(allocated int) RunReport {
	r.lock.Lock()
	defer r.lock.Unlock()
	report := RunReport{
		RunID:     r.runID,
		StartedAt: r.startedAt,
		Allocated: allocated,
		Users:     make([]UserReport, 0, len(r.order)),
	}
	for _, username := range r.order {
		aggregate := r.users[username]
		user := aggregate.report
		latencies := append([]int64(nil), aggregate.latencies...)
		slices.Sort(latencies)
		user.P99LatencyMillis = p99Latency(latencies)
		if len(latencies) > 0 {
			samples := make([]float64, len(latencies))
			for i, latency := range latencies {
				samples[i] = float64(latency)
			}
			user.MeanLatencyMillis = stat.Mean(samples, nil)
			user.P50LatencyMillis = stat.Quantile(0.5, stat.Empirical, samples, nil)
		}
		if user.AuthError != "" {
			report.AuthFailures++
		}
		report.TotalJobs += user.Jobs
		report.Users = append(report.Users, user)
	}
	return report
}

func (r *Reports) user(username string) *userAggregate {
	aggregate, ok := r.users[username]
	if !ok {
		aggregate = &userAggregate{report: UserReport{Username: username}}
		r.users[username] = aggregate
		r.order = append(r.order, username)
	}
	return aggregate
}

// addLatency keeps the most recent samples in a fixed size ring.
func (u *userAggregate) addLatency(millis int64) {
	if len(u.latencies) < maxLatencySamples {
		u.latencies = append(u.latencies, millis)
		return
	}
	u.latencies[u.next] = millis
	u.next = (u.next + 1) % maxLatencySamples
}

func p99Latency(sortedLatencies []int64) int64 {
	if len(sortedLatencies) == 0 {
		return 0
	}
	index := (len(sortedLatencies)*99 + 99) / 100
	if index <= 0 {
		index = 1
	}
	if index > len(sortedLatencies) {
		index = len(sortedLatencies)
	}
	return sortedLatencies[index-1]
}
