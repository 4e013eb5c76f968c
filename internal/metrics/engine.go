// Package metrics holds the outcome sinks a run reports into: a latency and
// throughput summary engine, a reachability monitor, a Prometheus collector
// and an NDJSON outcome stream.
package metrics

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/ramp/internal/ramp"
)

// EngineConfig contains configuration for the summary engine.
type EngineConfig struct {
	// BucketInterval is the time-series resolution (default 1s).
	BucketInterval time.Duration

	// MaxBuckets bounds the retained time series (default 3600).
	MaxBuckets int

	// Histogram bounds in microseconds and precision.
	HistogramMin     int64
	HistogramMax     int64
	HistogramSigFigs int
}

// DefaultEngineConfig tracks latencies from 1µs to 1h with 3 significant
// figures.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
		HistogramMin:     1,
		HistogramMax:     int64(time.Hour / time.Microsecond),
		HistogramSigFigs: 3,
	}
}

// PhaseChange records a phase transition.
type PhaseChange struct {
	Phase     ramp.Phase `json:"phase"`
	Timestamp time.Time  `json:"timestamp"`
	Requests  int64      `json:"requests"`
}

// LatencyStats summarises the latency histogram.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// Snapshot is a point-in-time view of everything the engine has seen.
type Snapshot struct {
	TotalRequests   int64 `json:"totalRequests"`
	SuccessRequests int64 `json:"successRequests"`
	FailedRequests  int64 `json:"failedRequests"`
	// TransportErrors counts failures without an HTTP response.
	TransportErrors int64         `json:"transportErrors"`
	StatusCodes     map[int]int64 `json:"statusCodes,omitempty"`
	TotalBytes      int64         `json:"totalBytes"`

	Latency        LatencyStats `json:"latency"`
	RPS            float64      `json:"rps"`
	SteadyStateRPS float64      `json:"steadyStateRps"`
	ErrorRate      float64      `json:"errorRate"`

	ActiveVUs    int        `json:"activeVUs"`
	TargetVUs    int        `json:"targetVUs"`
	CurrentPhase ramp.Phase `json:"currentPhase"`

	StartTime time.Time     `json:"startTime"`
	Elapsed   time.Duration `json:"elapsed"`
	Timestamp time.Time     `json:"timestamp"`
}

// Engine aggregates outcomes. It is a ramp.Sink for requests and a
// ramp.Observer for the VU level and phase. Safe for concurrent use.
type Engine struct {
	config    EngineConfig
	startTime time.Time

	histMu sync.Mutex
	hist   *hdrhistogram.Histogram

	total     atomic.Int64
	success   atomic.Int64
	failed    atomic.Int64
	transport atomic.Int64
	bytes     atomic.Int64

	statusMu sync.Mutex
	statuses map[int]int64

	activeVUs atomic.Int32
	targetVUs atomic.Int32

	phaseMu sync.RWMutex
	phase   ramp.Phase
	phases  []PhaseChange

	ring *bucketRing

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewEngine starts an engine with the default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig starts an engine. Stop must be called to release the
// bucket emitter.
func NewEngineWithConfig(config EngineConfig) *Engine {
	def := DefaultEngineConfig()
	if config.BucketInterval <= 0 {
		config.BucketInterval = def.BucketInterval
	}
	if config.HistogramMin <= 0 {
		config.HistogramMin = def.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = def.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = def.HistogramSigFigs
	}

	now := time.Now()
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		config:    config,
		startTime: now,
		hist:      hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		statuses:  make(map[int]int64),
		phase:     ramp.PhaseInit,
		ring:      newBucketRing(config.MaxBuckets, now),
		cancel:    cancel,
	}

	e.wg.Add(1)
	go e.emit(ctx)

	return e
}

// Record adds one outcome.
func (e *Engine) Record(o ramp.Outcome) {
	micros := o.Duration.Microseconds()
	micros = max(micros, e.config.HistogramMin)
	micros = min(micros, e.config.HistogramMax)

	// RecordValue is not safe for concurrent use.
	e.histMu.Lock()
	_ = e.hist.RecordValue(micros)
	e.histMu.Unlock()

	e.total.Add(1)
	e.bytes.Add(o.BytesReceived)
	if o.Success() {
		e.success.Add(1)
	} else {
		e.failed.Add(1)
	}

	if o.Err != nil && o.StatusCode == 0 {
		e.transport.Add(1)
		return
	}
	e.statusMu.Lock()
	e.statuses[o.StatusCode]++
	e.statusMu.Unlock()
}

// ObserveTick follows the scheduler's VU level and phase.
func (e *Engine) ObserveTick(stats ramp.Stats) {
	e.SetActiveVUs(stats.LiveVUs)
	e.targetVUs.Store(int32(stats.TargetVUs))
	e.SetPhase(stats.Phase)
}

// SetPhase records a phase transition. Repeating the current phase is a no-op.
func (e *Engine) SetPhase(phase ramp.Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.phase == phase {
		return
	}
	e.phase = phase
	e.phases = append(e.phases, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.total.Load(),
	})
}

// Phase returns the current phase.
func (e *Engine) Phase() ramp.Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.phase
}

// PhaseHistory returns every recorded transition in order.
func (e *Engine) PhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	out := make([]PhaseChange, len(e.phases))
	copy(out, e.phases)
	return out
}

// SetActiveVUs sets the live VU gauge.
func (e *Engine) SetActiveVUs(n int) {
	e.activeVUs.Store(int32(n))
}

func (e *Engine) emit(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.flush()
		}
	}
}

// flush appends a bucket with the current totals.
func (e *Engine) flush() TimeBucket {
	lat := e.latency()
	now := time.Now()

	return e.ring.push(TimeBucket{
		Timestamp:     now,
		Elapsed:       now.Sub(e.startTime),
		TotalRequests: e.total.Load(),
		TotalFailures: e.failed.Load(),
		TotalBytes:    e.bytes.Load(),
		LatencyP50:    lat.P50,
		LatencyP95:    lat.P95,
		LatencyP99:    lat.P99,
		ActiveVUs:     int(e.activeVUs.Load()),
		TargetVUs:     int(e.targetVUs.Load()),
		Phase:         e.Phase(),
	})
}

func (e *Engine) latency() LatencyStats {
	e.histMu.Lock()
	defer e.histMu.Unlock()

	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return LatencyStats{
		Min:    us(e.hist.Min()),
		Max:    us(e.hist.Max()),
		Mean:   us(int64(e.hist.Mean())),
		StdDev: us(int64(e.hist.StdDev())),
		P50:    us(e.hist.ValueAtQuantile(50)),
		P90:    us(e.hist.ValueAtQuantile(90)),
		P95:    us(e.hist.ValueAtQuantile(95)),
		P99:    us(e.hist.ValueAtQuantile(99)),
		Count:  e.hist.TotalCount(),
	}
}

// Snapshot returns the current totals and latency summary. RPS is the
// steady-state rate when any steady bucket exists, the overall rate otherwise.
func (e *Engine) Snapshot() Snapshot {
	now := time.Now()
	elapsed := now.Sub(e.startTime)
	total := e.total.Load()
	failed := e.failed.Load()

	s := Snapshot{
		TotalRequests:   total,
		SuccessRequests: e.success.Load(),
		FailedRequests:  failed,
		TransportErrors: e.transport.Load(),
		StatusCodes:     e.StatusCodes(),
		TotalBytes:      e.bytes.Load(),
		Latency:         e.latency(),
		ActiveVUs:       int(e.activeVUs.Load()),
		TargetVUs:       int(e.targetVUs.Load()),
		CurrentPhase:    e.Phase(),
		StartTime:       e.startTime,
		Elapsed:         elapsed,
		Timestamp:       now,
	}

	if elapsed > 0 {
		s.RPS = float64(total) / elapsed.Seconds()
	}
	if steady, n := steadyRPS(e.ring.all()); n > 0 {
		s.SteadyStateRPS = steady
		s.RPS = steady
	}
	if total > 0 {
		s.ErrorRate = float64(failed) / float64(total)
	}
	return s
}

// StatusCodes returns a copy of the per-status response counts.
func (e *Engine) StatusCodes() map[int]int64 {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()

	out := make(map[int]int64, len(e.statuses))
	for code, n := range e.statuses {
		out[code] = n
	}
	return out
}

// SortedStatusCodes returns the observed status codes in ascending order.
func (s Snapshot) SortedStatusCodes() []int {
	codes := make([]int, 0, len(s.StatusCodes))
	for code := range s.StatusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

// TimeSeries returns the retained buckets in chronological order.
func (e *Engine) TimeSeries() []TimeBucket {
	return e.ring.all()
}

// LatestBucket returns the newest bucket, if any.
func (e *Engine) LatestBucket() (TimeBucket, bool) {
	return e.ring.latest()
}

// Stop halts the emitter and appends a final bucket. Safe to call twice.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.cancel()
		e.wg.Wait()
		e.flush()
	})
}
