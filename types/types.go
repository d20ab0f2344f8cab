package types

import (
	"net/url"
	"strconv"
	"time"
)

type UserCredential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Session is an authenticated user. The token is reused for every request the owning worker makes.
type Session struct {
	Username string
	Token    string
}

// WorkItem is the iterations value assigned to exactly one submitted job.
type WorkItem int

type JobParams struct {
	Width      int     `json:"width" yaml:"width"`
	Height     int     `json:"height" yaml:"height"`
	Iterations int     `json:"iterations" yaml:"iterations"`
	Power      float64 `json:"power" yaml:"power"`
	Real       float64 `json:"real" yaml:"real"`
	Imag       float64 `json:"imag" yaml:"imag"`
	Scale      float64 `json:"scale" yaml:"scale"`
	OffsetX    float64 `json:"offsetX" yaml:"offsetX"`
	OffsetY    float64 `json:"offsetY" yaml:"offsetY"`
	Color      string  `json:"color" yaml:"color"`
}

// Query encodes the parameters for GET /fractal. Zero values are left out so the server applies its defaults,
// except iterations which is always sent.
func (p JobParams) Query() url.Values {
	values := url.Values{}
	if p.Width > 0 {
		values.Set("width", strconv.Itoa(p.Width))
	}
	if p.Height > 0 {
		values.Set("height", strconv.Itoa(p.Height))
	}
	values.Set("iterations", strconv.Itoa(p.Iterations))
	setFloat(values, "power", p.Power, false)
	setFloat(values, "real", p.Real, false)
	setFloat(values, "imag", p.Imag, false)
	setFloat(values, "scale", p.Scale, false)
	setFloat(values, "offsetX", p.OffsetX, true)
	setFloat(values, "offsetY", p.OffsetY, true)
	if p.Color != "" {
		values.Set("color", p.Color)
	}
	return values
}

func setFloat(values url.Values, key string, value float64, keepZero bool) {
	if value == 0 && !keepZero {
		return
	}
	values.Set(key, strconv.FormatFloat(value, 'f', -1, 64))
}

type ParamsSource interface {
	Next() (JobParams, error)
	Reset() error
}

type JobHandle struct {
	Hash string
}

type SubmissionStatus int

const (
	SubmissionFailed SubmissionStatus = iota
	SubmissionReady
	SubmissionQueued
)

func (s SubmissionStatus) String() string {
	switch s {
	case SubmissionReady:
		return "ready"
	case SubmissionQueued:
		return "queued"
	default:
		return "failed"
	}
}

// Submission is the result of one submit call. Exactly one of the variants applies:
// Ready carries URL (and Hash when the server sent one), Queued carries Handle, Failed carries Err.
type Submission struct {
	Status SubmissionStatus
	URL    string
	Hash   string
	Handle JobHandle
	Err    error
}

type JobState string

const (
	JobQueued   JobState = "queued"
	JobComplete JobState = "complete"
	JobFailed   JobState = "failed"
	JobTimedOut JobState = "timed_out"
)

func (s JobState) Terminal() bool {
	return s == JobComplete || s == JobFailed || s == JobTimedOut
}

// PollResult is the terminal state reached by the completion poller.
type PollResult struct {
	State    JobState
	URL      string
	Attempts int
	Err      error
}

// JobOutcome is recorded once per consumed work item.
type JobOutcome struct {
	Username   string        `json:"username"`
	Iterations int           `json:"iterations"`
	Hash       string        `json:"hash,omitempty"`
	URL        string        `json:"url,omitempty"`
	State      JobState      `json:"state"`
	Cached     bool          `json:"cached"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}
