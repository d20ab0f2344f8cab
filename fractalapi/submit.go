package fractalapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/PeladoCollado/fractalload/types"
)

var ErrMalformedResponse = errors.New("malformed response")

type fractalResponse struct {
	Hash    string `json:"hash"`
	URL     string `json:"url"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Submit issues one start-or-fetch-cached request. It never returns an error; failures are
// carried by the Failed variant of the returned Submission.
func (c *Client) Submit(ctx context.Context, session types.Session, params types.JobParams) types.Submission {
	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	request, err := c.newRequest(ctx, http.MethodGet, c.endpoint("/fractal", params.Query()), nil)
	if err != nil {
		return failed(fmt.Errorf("build fractal request: %w", err))
	}
	authorize(request, session)

	resp, err := c.apiClient.Do(request)
	if err != nil {
		return failed(fmt.Errorf("fractal request failed: %w", err))
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return failed(newStatusError("fractal", resp))
	}

	var body fractalResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return failed(fmt.Errorf("%w: decode fractal response: %v", ErrMalformedResponse, err))
	}
	return interpretSubmission(resp.StatusCode, body)
}

func interpretSubmission(code int, body fractalResponse) types.Submission {
	if code == http.StatusAccepted {
		if body.Hash == "" {
			return failed(fmt.Errorf("%w: queued response without hash", ErrMalformedResponse))
		}
		return types.Submission{Status: types.SubmissionQueued, Hash: body.Hash, Handle: types.JobHandle{Hash: body.Hash}}
	}
	if body.URL != "" {
		return types.Submission{Status: types.SubmissionReady, URL: body.URL, Hash: body.Hash}
	}
	// a 200 without a url describes a job the service already knows about
	switch body.Status {
	case statusPending, statusGenerating:
		if body.Hash != "" {
			return types.Submission{Status: types.SubmissionQueued, Hash: body.Hash, Handle: types.JobHandle{Hash: body.Hash}}
		}
	case statusFailed, statusTooComplex:
		return failed(&JobFailedError{Hash: body.Hash, Status: body.Status, Message: body.Message})
	}
	return failed(fmt.Errorf("%w: status %q without url", ErrMalformedResponse, body.Status))
}

func failed(err error) types.Submission {
	return types.Submission{Status: types.SubmissionFailed, Err: err}
}

// JobFailedError is a definitive failure reported by the service for a job.
type JobFailedError struct {
	Hash    string
	Status  string
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job %s reported %s", e.Hash, e.Status)
	}
	return fmt.Sprintf("job %s reported %s: %s", e.Hash, e.Status, e.Message)
}
