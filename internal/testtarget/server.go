// Package testtarget is a small HTTP server to point ramp at: during
// development from cmd/ramp-target, and from tests through httptest.
package testtarget

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Options shapes the responses of the root endpoint.
type Options struct {
	// Latency is added before every response.
	Latency time.Duration

	// Status is the response code of "/" (default 200).
	Status int

	// FailEvery makes every Nth request to "/" answer 503. Zero disables.
	FailEvery int64

	// BodySize pads the body of "/" to this many bytes.
	BodySize int
}

// Target serves:
//
//	/               per Options
//	/status/{code}  the given status code
//	/delay/{ms}     200 after ms milliseconds
//	/health         200 "healthy"
//	/stats          request counters as JSON
type Target struct {
	opts   Options
	logger *zap.Logger
	mux    *http.ServeMux

	requests atomic.Int64
	failures atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

// Stats are the counters served on /stats.
type Stats struct {
	Requests     int64 `json:"requests"`
	Failures     int64 `json:"failures"`
	InFlight     int64 `json:"inFlight"`
	PeakInFlight int64 `json:"peakInFlight"`
}

// New builds a target. A nil logger disables logging.
func New(opts Options, logger *zap.Logger) *Target {
	if opts.Status == 0 {
		opts.Status = http.StatusOK
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Target{opts: opts, logger: logger, mux: http.NewServeMux()}
	t.mux.HandleFunc("/", t.tracked(t.handleRoot))
	t.mux.HandleFunc("GET /status/{code}", t.tracked(t.handleStatus))
	t.mux.HandleFunc("GET /delay/{ms}", t.tracked(t.handleDelay))
	t.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "healthy")
	})
	t.mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(t.Stats())
	})
	return t
}

// ServeHTTP implements http.Handler.
func (t *Target) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.mux.ServeHTTP(w, r)
}

// Stats returns the counters.
func (t *Target) Stats() Stats {
	return Stats{
		Requests:     t.requests.Load(),
		Failures:     t.failures.Load(),
		InFlight:     t.inFlight.Load(),
		PeakInFlight: t.peak.Load(),
	}
}

// Requests is the number of requests to the load endpoints.
func (t *Target) Requests() int64 {
	return t.requests.Load()
}

func (t *Target) tracked(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t.requests.Add(1)
		n := t.inFlight.Add(1)
		defer t.inFlight.Add(-1)
		for {
			peak := t.peak.Load()
			if n <= peak || t.peak.CompareAndSwap(peak, n) {
				break
			}
		}
		h(w, r)
	}
}

func (t *Target) handleRoot(w http.ResponseWriter, r *http.Request) {
	n := t.requests.Load()
	if !t.wait(r, t.opts.Latency) {
		return
	}

	status := t.opts.Status
	if t.opts.FailEvery > 0 && n%t.opts.FailEvery == 0 {
		status = http.StatusServiceUnavailable
	}
	t.respond(w, status, t.opts.BodySize)
}

func (t *Target) handleStatus(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(r.PathValue("code"))
	if err != nil || code < 100 || code > 599 {
		http.Error(w, "invalid status code", http.StatusBadRequest)
		return
	}
	if !t.wait(r, t.opts.Latency) {
		return
	}
	t.respond(w, code, 0)
}

func (t *Target) handleDelay(w http.ResponseWriter, r *http.Request) {
	ms, err := strconv.Atoi(r.PathValue("ms"))
	if err != nil || ms < 0 {
		http.Error(w, "invalid delay", http.StatusBadRequest)
		return
	}
	if !t.wait(r, time.Duration(ms)*time.Millisecond) {
		return
	}
	t.respond(w, http.StatusOK, 0)
}

// wait sleeps for d unless the client goes away first.
func (t *Target) wait(r *http.Request, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-r.Context().Done():
		t.logger.Debug("client went away", zap.String("path", r.URL.Path))
		return false
	}
}

func (t *Target) respond(w http.ResponseWriter, status, size int) {
	if status >= 400 {
		t.failures.Add(1)
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	if size <= 0 {
		fmt.Fprint(w, "OK")
		return
	}
	body := make([]byte, size)
	for i := range body {
		body[i] = 'x'
	}
	_, _ = w.Write(body)
}
