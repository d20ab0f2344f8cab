package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/PeladoCollado/fractalload/orchestrator/logger"
	"github.com/PeladoCollado/fractalload/orchestrator/manager"
)

type HttpError struct {
	code int
	err  error
}

func (h *HttpError) Error() string {
	return h.err.Error()
}

// ReportSource provides a consistent snapshot of the running harness.
type ReportSource interface {
	Report() manager.RunReport
}

type ReportSourceFunc func() manager.RunReport

func (f ReportSourceFunc) Report() manager.RunReport {
	return f()
}

func NewHandler(source ReportSource) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/report", reportHandler(source))
	mux.HandleFunc("/healthz", healthHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// reportHandler serves the whole run report, or a single user's report with ?user=<name>.
func reportHandler(source ReportSource) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		report := source.Report()

		var body any = report
		if username := r.URL.Query().Get("user"); username != "" {
			userReport, httpError := findUser(report, username)
			if httpError != nil {
				w.WriteHeader(httpError.code)
				_, _ = fmt.Fprint(w, httpError.Error())
				return
			}
			body = userReport
		}

		w.Header().Set("Content-Type", "application/json")
		encoder := json.NewEncoder(w)
		if err := encoder.Encode(body); err != nil {
			logger.Logger.Errorw("Unable to encode report response", "error", err)
		}
	}
}

func findUser(report manager.RunReport, username string) (manager.UserReport, *HttpError) {
	for _, user := range report.Users {
		if user.Username == username {
			return user, nil
		}
	}
	return manager.UserReport{}, &HttpError{
		code: http.StatusNotFound,
		err:  fmt.Errorf("unable to find user %s in the run", username),
	}
}
