// Package stubservice is an in-memory stand-in for the fractal API: login, start-or-fetch and status.
package stubservice

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	statusPending    = "pending"
	statusGenerating = "generating"
	statusComplete   = "complete"
	statusTooComplex = "too_complex"
	statusNotFound   = "not_found"
)

type Options struct {
	// Password is shared by every user. Empty accepts any password.
	Password string
	// Users limits who may log in. Empty accepts any username.
	Users []string
	// MFAUsers answer the login with an EMAIL_OTP challenge instead of a token.
	MFAUsers []string
	// GenerationPolls is the number of status checks a new job spends pending or generating.
	GenerationPolls int
	// TooComplexAbove marks jobs with more iterations as too_complex. 0 disables the check.
	TooComplexAbove int
	URLPrefix       string
}

type job struct {
	status     string
	remaining  int
	tooComplex bool
	url        string
}

// Service keeps tokens and jobs in memory. Jobs are keyed by the hash of their normalised options,
// so identical requests from any user share one job.
type Service struct {
	opts Options

	lock        sync.Mutex
	users       map[string]bool
	mfaUsers    map[string]bool
	tokens      map[string]string
	jobs        map[string]*job
	submissions int
}

func New(opts Options) *Service {
	if opts.URLPrefix == "" {
		opts.URLPrefix = "https://fractals.local/"
	}
	s := &Service{
		opts:     opts,
		users:    make(map[string]bool),
		mfaUsers: make(map[string]bool),
		tokens:   make(map[string]string),
		jobs:     make(map[string]*job),
	}
	for _, user := range opts.Users {
		s.users[user] = true
	}
	for _, user := range opts.MFAUsers {
		s.mfaUsers[user] = true
	}
	return s
}

// Handler serves the API under /api.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", s.loginHandler)
	mux.HandleFunc("GET /api/fractal", s.fractalHandler)
	mux.HandleFunc("GET /api/fractal/status/{hash}", s.statusHandler)
	mux.HandleFunc("GET /healthz", healthHandler)
	return mux
}

func (s *Service) Submissions() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.submissions
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Service) loginHandler(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" || body.Password == "" {
		http.Error(w, "Username and password are required.", http.StatusBadRequest)
		return
	}
	if len(s.users) > 0 && !s.users[body.Username] {
		http.Error(w, "Incorrect username or password.", http.StatusUnauthorized)
		return
	}
	if s.opts.Password != "" && body.Password != s.opts.Password {
		http.Error(w, "Incorrect username or password.", http.StatusUnauthorized)
		return
	}
	if s.mfaUsers[body.Username] {
		writeJSON(w, http.StatusAccepted, map[string]string{
			"challengeName": "EMAIL_OTP",
			"session":       uuid.NewString(),
		})
		return
	}

	token := uuid.NewString()
	s.lock.Lock()
	s.tokens[token] = body.Username
	s.lock.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"idToken":   token,
		"tokenType": "Bearer",
		"expiresIn": 3600,
	})
}

func (s *Service) fractalHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	requested := parseOptions(r)
	hash := requested.hash()

	s.lock.Lock()
	defer s.lock.Unlock()
	s.submissions++

	existing, ok := s.jobs[hash]
	if !ok {
		created := &job{
			status:     statusPending,
			remaining:  s.opts.GenerationPolls,
			tooComplex: s.opts.TooComplexAbove > 0 && requested.MaxIterations > s.opts.TooComplexAbove,
		}
		s.jobs[hash] = created
		if created.remaining <= 0 && !created.tooComplex {
			s.finish(hash, created)
			writeJSON(w, http.StatusOK, map[string]string{"hash": hash, "url": created.url, "status": created.status})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"hash":    hash,
			"status":  statusPending,
			"message": "Fractal generation has been queued.",
		})
		return
	}

	switch existing.status {
	case statusComplete:
		writeJSON(w, http.StatusOK, map[string]string{
			"hash":    hash,
			"url":     existing.url,
			"status":  existing.status,
			"message": "Fractal already exists.",
		})
	case statusTooComplex:
		writeJSON(w, http.StatusOK, map[string]string{
			"hash":    hash,
			"status":  existing.status,
			"message": "Fractal is too complex to generate.",
		})
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"hash":    hash,
			"status":  existing.status,
			"message": fmt.Sprintf("Fractal is %s. Check status endpoint for updates.", existing.status),
		})
	}
}

func (s *Service) statusHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}
	hash := r.PathValue("hash")

	s.lock.Lock()
	defer s.lock.Unlock()
	existing, ok := s.jobs[hash]
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": statusNotFound})
		return
	}
	if existing.status == statusPending || existing.status == statusGenerating {
		existing.remaining--
		if existing.remaining <= 0 {
			s.finish(hash, existing)
		} else if existing.remaining <= s.opts.GenerationPolls/2 {
			existing.status = statusGenerating
		}
	}

	body := map[string]string{"status": existing.status}
	if existing.url != "" {
		body["url"] = existing.url
	}
	if existing.status == statusTooComplex {
		body["message"] = "Fractal is too complex to generate."
	}
	writeJSON(w, http.StatusOK, body)
}

// finish moves a job to its terminal state. Callers hold the lock.
func (s *Service) finish(hash string, j *job) {
	if j.tooComplex {
		j.status = statusTooComplex
		return
	}
	j.status = statusComplete
	j.url = s.opts.URLPrefix + hash + ".png"
}

func (s *Service) authorized(w http.ResponseWriter, r *http.Request) bool {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		http.Error(w, "Access denied. No token provided.", http.StatusUnauthorized)
		return false
	}
	s.lock.Lock()
	_, ok := s.tokens[token]
	s.lock.Unlock()
	if !ok {
		http.Error(w, "Invalid token.", http.StatusForbidden)
		return false
	}
	return true
}

// options mirrors the defaults the real service applies before hashing a request.
type options struct {
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	MaxIterations int     `json:"maxIterations"`
	Power         float64 `json:"power"`
	Real          float64 `json:"real"`
	Imag          float64 `json:"imag"`
	Scale         float64 `json:"scale"`
	OffsetX       float64 `json:"offsetX"`
	OffsetY       float64 `json:"offsetY"`
	ColourScheme  string  `json:"colourScheme"`
}

func parseOptions(r *http.Request) options {
	query := r.URL.Query()
	color := query.Get("color")
	if color == "" {
		color = "rainbow"
	}
	return options{
		Width:         intOr(query.Get("width"), 1920),
		Height:        intOr(query.Get("height"), 1080),
		MaxIterations: intOr(query.Get("iterations"), 500),
		Power:         floatOr(query.Get("power"), 2),
		Real:          floatOr(query.Get("real"), 0.285),
		Imag:          floatOr(query.Get("imag"), 0.01),
		Scale:         floatOr(query.Get("scale"), 1),
		OffsetX:       floatOr(query.Get("offsetX"), 0),
		OffsetY:       floatOr(query.Get("offsetY"), 0),
		ColourScheme:  color,
	}
}

func (o options) hash() string {
	payload, _ := json.Marshal(o)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func intOr(value string, fallback int) int {
	number, err := strconv.Atoi(value)
	if err != nil || number == 0 {
		return fallback
	}
	return number
}

func floatOr(value string, fallback float64) float64 {
	number, err := strconv.ParseFloat(value, 64)
	if err != nil || number == 0 {
		return fallback
	}
	return number
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
