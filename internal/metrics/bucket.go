package metrics

import (
	"sync"
	"time"

	"github.com/wesleyorama2/ramp/internal/ramp"
)

// TimeBucket is one point of the run's time series. Totals are cumulative
// since the engine started; Interval fields cover only the bucket's window.
type TimeBucket struct {
	Timestamp time.Time     `json:"timestamp"`
	Elapsed   time.Duration `json:"elapsed"`

	TotalRequests int64 `json:"totalRequests"`
	TotalFailures int64 `json:"totalFailures"`
	TotalBytes    int64 `json:"totalBytes"`

	IntervalRequests  int64   `json:"intervalRequests"`
	IntervalFailures  int64   `json:"intervalFailures"`
	IntervalRPS       float64 `json:"intervalRps"`
	IntervalErrorRate float64 `json:"intervalErrorRate"`

	LatencyP50 time.Duration `json:"latencyP50"`
	LatencyP95 time.Duration `json:"latencyP95"`
	LatencyP99 time.Duration `json:"latencyP99"`

	ActiveVUs int        `json:"activeVUs"`
	TargetVUs int        `json:"targetVUs"`
	Phase     ramp.Phase `json:"phase"`
}

// bucketRing keeps the most recent buckets, oldest dropped first.
type bucketRing struct {
	mu      sync.RWMutex
	buckets []TimeBucket
	head    int
	count   int

	lastTime     time.Time
	lastRequests int64
	lastFailures int64
}

func newBucketRing(size int, start time.Time) *bucketRing {
	if size <= 0 {
		size = 3600
	}
	return &bucketRing{
		buckets:  make([]TimeBucket, size),
		lastTime: start,
	}
}

// push derives the interval fields from the previous bucket and stores b.
func (r *bucketRing) push(b TimeBucket) TimeBucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	b.IntervalRequests = b.TotalRequests - r.lastRequests
	b.IntervalFailures = b.TotalFailures - r.lastFailures

	window := b.Timestamp.Sub(r.lastTime).Seconds()
	if window <= 0 {
		window = 1
	}
	b.IntervalRPS = float64(b.IntervalRequests) / window
	if b.IntervalRequests > 0 {
		b.IntervalErrorRate = float64(b.IntervalFailures) / float64(b.IntervalRequests)
	}

	r.buckets[r.head] = b
	r.head = (r.head + 1) % len(r.buckets)
	if r.count < len(r.buckets) {
		r.count++
	}

	r.lastTime = b.Timestamp
	r.lastRequests = b.TotalRequests
	r.lastFailures = b.TotalFailures
	return b
}

// all returns the buckets in chronological order.
func (r *bucketRing) all() []TimeBucket {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TimeBucket, r.count)
	start := 0
	if r.count == len(r.buckets) {
		start = r.head
	}
	for i := range out {
		out[i] = r.buckets[(start+i)%len(r.buckets)]
	}
	return out
}

// latest returns the newest bucket.
func (r *bucketRing) latest() (TimeBucket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return TimeBucket{}, false
	}
	return r.buckets[(r.head-1+len(r.buckets))%len(r.buckets)], true
}

// steadyRPS averages the interval rate over buckets taken in a steady phase.
func steadyRPS(buckets []TimeBucket) (float64, int) {
	var sum float64
	n := 0
	for _, b := range buckets {
		if b.Phase == ramp.PhaseSteady {
			sum += b.IntervalRPS
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
