package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"

	"github.com/wesleyorama2/ramp/internal/ramp"
)

const namespace = "ramp"

// Outcome classes used for the result label.
const (
	resultSuccess = "success"
	resultFailure = "failure" // HTTP response outside 2xx
	resultError   = "error"   // no HTTP response
)

// PrometheusSink exposes outcomes and the VU level as Prometheus metrics.
type PrometheusSink struct {
	registry *prometheus.Registry
	logger   *zap.Logger

	duration  prometheus.Histogram
	requests  *prometheus.CounterVec
	responses *prometheus.CounterVec
	bytes     prometheus.Counter
	activeVUs prometheus.Gauge
	targetVUs prometheus.Gauge
	spawnFail prometheus.Gauge
}

// NewPrometheusSink registers the ramp metrics on registry. A nil registry
// gets a fresh one so that parallel runs in one process never collide.
func NewPrometheusSink(registry *prometheus.Registry, logger *zap.Logger) *PrometheusSink {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &PrometheusSink{
		registry: registry,
		logger:   logger,
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request duration, including reading the response body.",
			Buckets:   prometheus.ExponentialBucketsRange(0.001, 60, 24),
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests issued, by result.",
		}, []string{"result"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "HTTP responses received, by status code.",
		}, []string{"code"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_bytes_total",
			Help:      "Response body bytes received.",
		}),
		activeVUs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_vus",
			Help:      "Virtual users currently running.",
		}),
		targetVUs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_vus",
			Help:      "Virtual users the schedule currently asks for.",
		}),
		spawnFail: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vu_spawn_failures",
			Help:      "VU spawn attempts that failed so far in the run.",
		}),
	}
	registry.MustRegister(s.duration, s.requests, s.responses, s.bytes, s.activeVUs, s.targetVUs, s.spawnFail)
	return s
}

// Record implements ramp.Sink.
func (s *PrometheusSink) Record(o ramp.Outcome) {
	s.duration.Observe(o.Duration.Seconds())
	s.bytes.Add(float64(o.BytesReceived))

	switch {
	case o.Err != nil && o.StatusCode == 0:
		s.requests.WithLabelValues(resultError).Inc()
		return
	case o.Success():
		s.requests.WithLabelValues(resultSuccess).Inc()
	default:
		s.requests.WithLabelValues(resultFailure).Inc()
	}
	s.responses.WithLabelValues(strconv.Itoa(o.StatusCode)).Inc()
}

// ObserveTick implements ramp.Observer.
func (s *PrometheusSink) ObserveTick(stats ramp.Stats) {
	s.activeVUs.Set(float64(stats.LiveVUs))
	s.targetVUs.Set(float64(stats.TargetVUs))
	s.spawnFail.Set(float64(stats.SpawnFailures))
}

// WatchReachability exports the monitor's state as ramp_target_unreachable,
// 1 while the target is flagged unreachable and 0 otherwise.
func (s *PrometheusSink) WatchReachability(m *ReachabilityMonitor) {
	s.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "target_unreachable",
		Help:      "Whether the target is currently considered unreachable.",
	}, func() float64 {
		if m.Unreachable() {
			return 1
		}
		return 0
	}))
}

// Handler serves the registry in the Prometheus exposition format.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Push sends the current values to a Pushgateway, grouped by run ID. The
// request is retried on transient failures.
func (s *PrometheusSink) Push(ctx context.Context, gatewayURL, job, runID string) error {
	pusher := push.New(gatewayURL, job).
		Gatherer(s.registry).
		Grouping("run_id", runID).
		Client(newPushClient(s.logger))

	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", gatewayURL, err)
	}
	s.logger.Debug("pushed metrics", zap.String("gateway", gatewayURL), zap.String("job", job))
	return nil
}

func newPushClient(logger *zap.Logger) *http.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = retryLogger{logger.Sugar()}
	return client.StandardClient()
}

// retryLogger adapts zap to retryablehttp.LeveledLogger.
type retryLogger struct {
	s *zap.SugaredLogger
}

func (l retryLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
