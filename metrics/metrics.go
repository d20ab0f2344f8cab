package metrics

import (
	"github.com/PeladoCollado/fractalload/types"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fractalload"

type MetricsCollector interface {
	RecordLogin(success bool)
	RecordSubmission(status types.SubmissionStatus)
	RecordPollAttempt(transient bool)
	RecordOutcome(outcome types.JobOutcome)
	RecordAllocation(value int)
	WorkerStarted()
	WorkerStopped()
}

type HarnessMetrics struct {
	logins        *prometheus.CounterVec
	submissions   *prometheus.CounterVec
	pollAttempts  *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	activeWorkers prometheus.Gauge
	lastAllocated prometheus.Gauge
}

func NewHarnessMetrics(r prometheus.Registerer) *HarnessMetrics {
	m := &HarnessMetrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result",
		}, []string{"result"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Fractal submissions by response kind",
		}, []string{"status"}),
		pollAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_attempts_total",
			Help:      "Status checks issued while polling queued jobs",
		}, []string{"result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_outcomes_total",
			Help:      "Terminal job states",
		}, []string{"state", "cached"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_millis",
			Help:      "Time from submission to terminal state",
			Buckets:   timeBuckets(),
		}, []string{"state"}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workers",
			Help:      "Worker loops currently running",
		}),
		lastAllocated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_allocated_iterations",
			Help:      "Most recent iterations value handed out by the allocator",
		}),
	}
	r.MustRegister(m.logins, m.submissions, m.pollAttempts, m.outcomes, m.jobDuration, m.activeWorkers, m.lastAllocated)
	return m
}

func (m *HarnessMetrics) RecordLogin(success bool) {
	m.logins.WithLabelValues(resultLabel(success)).Inc()
}

func (m *HarnessMetrics) RecordSubmission(status types.SubmissionStatus) {
	m.submissions.WithLabelValues(status.String()).Inc()
}

func (m *HarnessMetrics) RecordPollAttempt(transient bool) {
	if transient {
		m.pollAttempts.WithLabelValues("transient_error").Inc()
		return
	}
	m.pollAttempts.WithLabelValues("ok").Inc()
}

func (m *HarnessMetrics) RecordOutcome(outcome types.JobOutcome) {
	cached := "false"
	if outcome.Cached {
		cached = "true"
	}
	m.outcomes.WithLabelValues(string(outcome.State), cached).Inc()
	m.jobDuration.WithLabelValues(string(outcome.State)).Observe(float64(outcome.Duration.Milliseconds()))
}

// RecordAllocation is called outside the allocator's critical section, so the gauge may briefly lag.
func (m *HarnessMetrics) RecordAllocation(value int) {
	m.lastAllocated.Set(float64(value))
}

func (m *HarnessMetrics) WorkerStarted() {
	m.activeWorkers.Inc()
}

func (m *HarnessMetrics) WorkerStopped() {
	m.activeWorkers.Dec()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// timeBuckets covers the worst case poll window of several minutes.
func timeBuckets() []float64 {
	bucket := float64(10)
	buckets := make([]float64, 0, 160)
	for bucket <= 300000 {
		buckets = append(buckets, bucket)
		if bucket < 100 {
			bucket += 10
		} else if bucket < 1000 {
			bucket += 50
		} else if bucket < 10000 {
			bucket += 500
		} else if bucket < 60000 {
			bucket += 2500
		} else {
			bucket += 15000
		}
	}
	return buckets
}

// Discard satisfies MetricsCollector without recording anything.
type Discard struct{}

func (Discard) RecordLogin(bool)                        {}
func (Discard) RecordSubmission(types.SubmissionStatus) {}
func (Discard) RecordPollAttempt(bool)                  {}
func (Discard) RecordOutcome(types.JobOutcome)          {}
func (Discard) RecordAllocation(int)                    {}
func (Discard) WorkerStarted()                          {}
func (Discard) WorkerStopped()                          {}
