package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/ramp/internal/config"
	"github.com/wesleyorama2/ramp/internal/history"
	"github.com/wesleyorama2/ramp/internal/metrics"
	"github.com/wesleyorama2/ramp/internal/output"
	"github.com/wesleyorama2/ramp/internal/ramp"
	"github.com/wesleyorama2/ramp/internal/report"
)

const (
	defaultPushJob = "ramp"
	pushTimeout    = 30 * time.Second
	serverShutdown = 5 * time.Second
)

// runOptions holds the flags of the run command.
type runOptions struct {
	configFile string

	url     string
	stages  string
	method  string
	name    string
	headers []string

	timeout  time.Duration
	tick     time.Duration
	grace    time.Duration
	maxVUs   int
	insecure bool
	noReuse  bool

	metricsAddr string
	pushGateway string
	pushJob     string
	outcomes    string
	htmlReport  string

	jsonOutput  bool
	quiet       bool
	noColor     bool
	refresh     time.Duration
	historyFile string
	noHistory   bool
}

func newRunCmd() *cobra.Command {
	o := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a staged load test",
		Long: `Run a staged load test from a plan file or from flags.

Config file mode:
  ramp run --config average-load.yaml

Quick CLI mode:
  ramp run --url http://172.19.255.201/productpage \
    --stages "2m:100,5m:200,2m:100"

Flags given alongside --config override the file's settings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoadTest(cmd, o)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.configFile, "config", "c", "", "plan file (YAML or JSON)")
	f.StringVarP(&o.url, "url", "u", "", "target URL")
	f.StringVarP(&o.stages, "stages", "s", "", `stages as duration:target pairs, e.g. "30s:10,2m:10,30s:0"`)
	f.StringVarP(&o.method, "method", "X", "", "HTTP method (default GET)")
	f.StringVar(&o.name, "name", "", "run name")
	f.StringArrayVarP(&o.headers, "header", "H", nil, "request header as key=value or 'Key: value' (repeatable)")
	f.DurationVar(&o.timeout, "timeout", 0, "per-request timeout (default 30s)")
	f.DurationVar(&o.tick, "tick", 0, "VU adjustment interval (default 1s)")
	f.DurationVar(&o.grace, "grace", 0, "graceful stop period for in-flight requests (default 30s)")
	f.IntVar(&o.maxVUs, "max-vus", 0, "cap on VU goroutines, 0 for none")
	f.BoolVar(&o.insecure, "insecure", false, "skip TLS certificate verification")
	f.BoolVar(&o.noReuse, "no-reuse", false, "disable connection reuse")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	f.StringVar(&o.pushGateway, "push-gateway", "", "push final metrics to this Pushgateway URL")
	f.StringVar(&o.pushJob, "push-job", defaultPushJob, "Pushgateway job name")
	f.StringVar(&o.outcomes, "outcomes", "", "write every request outcome as NDJSON to this file")
	f.StringVar(&o.htmlReport, "html", "", "write an HTML report to this file")
	f.BoolVar(&o.jsonOutput, "json", false, "print the final report as JSON")
	f.BoolVarP(&o.quiet, "quiet", "q", false, "only print the final outcome")
	f.BoolVar(&o.noColor, "no-color", false, "disable colored output")
	f.DurationVar(&o.refresh, "refresh", time.Second, "live display refresh interval")
	f.StringVar(&o.historyFile, "history-file", "", "run history database (default ~/.ramp/history.db)")
	f.BoolVar(&o.noHistory, "no-history", false, "do not record the run in the history")

	return cmd
}

// runReport is the --json output.
type runReport struct {
	Result       *ramp.Result               `json:"result"`
	Metrics      metrics.Snapshot           `json:"metrics"`
	Reachability metrics.ReachabilityReport `json:"reachability"`
	TimeSeries   []metrics.TimeBucket       `json:"timeSeries,omitempty"`
	Phases       []metrics.PhaseChange      `json:"phases,omitempty"`
}

func runLoadTest(cmd *cobra.Command, o *runOptions) error {
	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := o.planConfig(cmd)
	if err != nil {
		return err
	}
	config.ApplyDefaults(cfg)

	plan, opts, err := cfg.ToPlan()
	if err != nil {
		return err
	}

	engine := metrics.NewEngine()
	defer engine.Stop()
	monitor := metrics.NewReachabilityMonitor(metrics.DefaultUnreachableThreshold, logger)
	promSink := metrics.NewPrometheusSink(prometheus.NewRegistry(), logger)
	promSink.WatchReachability(monitor)

	sinks := ramp.Sinks{engine, monitor, promSink}
	if o.outcomes != "" {
		f, err := os.Create(o.outcomes)
		if err != nil {
			return fmt.Errorf("failed to create outcomes file: %w", err)
		}
		nd := metrics.NewNDJSONWriter(f, logger)
		defer func() {
			if err := nd.Close(); err != nil {
				logger.Warn("failed to close outcomes file", zap.Error(err))
			}
		}()
		sinks = append(sinks, nd)
	}

	opts.Sink = sinks
	opts.Observers = []ramp.Observer{engine, promSink}
	opts.Logger = logger

	run, err := ramp.NewRun(plan, opts)
	if err != nil {
		return err
	}

	// Bind before starting so a bad address fails the command up front.
	var listener net.Listener
	if o.metricsAddr != "" {
		listener, err = net.Listen("tcp", o.metricsAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", o.metricsAddr, err)
		}
		logger.Info("serving metrics", zap.String("addr", listener.Addr().String()))
	}

	out := cmd.OutOrStdout()
	console := output.NewConsole(output.ConsoleConfig{
		Writer:  out,
		Quiet:   o.quiet || o.jsonOutput,
		NoColor: o.noColor,
	})
	console.PrintHeader(cfg.Name, plan.Target.Method, plan.Target.URL, plan.Stages)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		result *ramp.Result
		runErr error
	)
	done := make(chan struct{})
	go releaseSignals(ctx, stop, done)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(done)
		result, runErr = run.Execute(gctx)
		return nil
	})

	refresh := o.refresh
	if refresh <= 0 {
		refresh = time.Second
	}
	g.Go(func() error {
		ticker := time.NewTicker(refresh)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return nil
			case <-ticker.C:
				console.Update(output.StatsFrom(run.Stats(), engine.Snapshot(), monitor.Unreachable()))
			}
		}
	})

	if listener != nil {
		srv := &http.Server{
			Handler:           newMetricsMux(run, engine, promSink),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-done
			shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdown)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	waitErr := g.Wait()
	engine.Stop()

	snap := engine.Snapshot()
	reach := monitor.Report()

	if o.pushGateway != "" {
		pushCtx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		if err := promSink.Push(pushCtx, o.pushGateway, o.pushJob, run.ID()); err != nil {
			logger.Warn("failed to push metrics", zap.String("gateway", o.pushGateway), zap.Error(err))
		}
		cancel()
	}

	if result != nil && !o.noHistory {
		if err := o.saveHistory(cfg, result, snap, reach); err != nil {
			logger.Warn("failed to record run history", zap.Error(err))
		}
	}

	if o.htmlReport != "" && result != nil {
		if err := report.WriteFile(o.htmlReport, report.Data{
			Name:         cfg.Name,
			Method:       plan.Target.Method,
			Target:       plan.Target.URL,
			Stages:       plan.Stages,
			Result:       result,
			Metrics:      snap,
			Reachability: reach,
			TimeSeries:   engine.TimeSeries(),
			Phases:       engine.PhaseHistory(),
		}); err != nil {
			logger.Warn("failed to write HTML report", zap.String("path", o.htmlReport), zap.Error(err))
		}
	}

	if o.jsonOutput {
		if err := writeJSON(out, runReport{
			Result:       result,
			Metrics:      snap,
			Reachability: reach,
			TimeSeries:   engine.TimeSeries(),
			Phases:       engine.PhaseHistory(),
		}); err != nil {
			return err
		}
	} else {
		console.PrintSummary(output.Summary{
			Name:         cfg.Name,
			Target:       plan.Target.URL,
			Method:       plan.Target.Method,
			Stages:       plan.Stages,
			Result:       result,
			Metrics:      snap,
			Reachability: reach,
		})
	}

	if waitErr != nil {
		return waitErr
	}
	return runErr
}

// releaseSignals restores the default signal behaviour as soon as ctx is
// cancelled, so a second interrupt during the graceful stop kills the process.
func releaseSignals(ctx context.Context, stop context.CancelFunc, done <-chan struct{}) {
	select {
	case <-ctx.Done():
		stop()
	case <-done:
	}
}

// planConfig builds the plan from --config or from the quick flags. Flags
// explicitly set alongside --config override the file.
func (o *runOptions) planConfig(cmd *cobra.Command) (*config.PlanConfig, error) {
	var cfg *config.PlanConfig

	switch {
	case o.configFile != "":
		loaded, err := config.LoadConfig(o.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		if o.url != "" {
			cfg.Target.URL = o.url
		}
		if o.stages != "" {
			stages, err := config.ParseStages(o.stages)
			if err != nil {
				return nil, fmt.Errorf("%w: --stages: %v", config.ErrInvalidConfig, err)
			}
			cfg.Stages = stages
		}
	case o.url != "":
		if o.stages == "" {
			return nil, usageErrorf("--stages is required with --url")
		}
		built, err := buildConfigFromFlags(o.url, o.stages)
		if err != nil {
			return nil, err
		}
		cfg = built
	default:
		return nil, usageErrorf("either --config or --url is required")
	}

	flags := cmd.Flags()
	if o.name != "" {
		cfg.Name = o.name
	}
	if o.method != "" {
		cfg.Target.Method = o.method
	}
	if len(o.headers) > 0 {
		headers, err := parseHeaders(o.headers)
		if err != nil {
			return nil, err
		}
		if cfg.Target.Headers == nil {
			cfg.Target.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			cfg.Target.Headers[k] = v
		}
	}
	if flags.Changed("timeout") {
		cfg.Settings.Timeout = config.Duration(o.timeout)
	}
	if flags.Changed("tick") {
		cfg.Settings.TickInterval = config.Duration(o.tick)
	}
	if flags.Changed("grace") {
		cfg.Settings.GracefulStop = config.Duration(o.grace)
	}
	if flags.Changed("max-vus") {
		cfg.Settings.MaxVUs = o.maxVUs
	}
	if o.insecure {
		cfg.Settings.InsecureSkipVerify = true
	}
	if o.noReuse {
		cfg.Settings.NoConnectionReuse = true
	}
	return cfg, nil
}

// buildConfigFromFlags creates a plan for the quick CLI mode.
func buildConfigFromFlags(url, stages string) (*config.PlanConfig, error) {
	parsed, err := config.ParseStages(stages)
	if err != nil {
		return nil, fmt.Errorf("%w: --stages: %v", config.ErrInvalidConfig, err)
	}

	return &config.PlanConfig{
		Name:   "CLI Test",
		Target: config.TargetConfig{URL: url},
		Stages: parsed,
	}, nil
}

// parseHeaders accepts "Key=value" and "Key: value".
func parseHeaders(raw []string) (map[string]string, error) {
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		sep := strings.IndexAny(h, ":=")
		if sep <= 0 {
			return nil, usageErrorf("invalid header %q, expected key=value", h)
		}
		key := strings.TrimSpace(h[:sep])
		if key == "" {
			return nil, usageErrorf("invalid header %q, empty name", h)
		}
		headers[key] = strings.TrimSpace(h[sep+1:])
	}
	return headers, nil
}

func (o *runOptions) saveHistory(cfg *config.PlanConfig, result *ramp.Result, snap metrics.Snapshot, reach metrics.ReachabilityReport) error {
	store, err := openHistory(o.historyFile)
	if err != nil {
		return err
	}
	defer store.Close()

	stages := make([]history.StageSummary, len(cfg.Stages))
	for i, s := range cfg.Stages {
		stages[i] = history.StageSummary{Duration: s.StageDuration(), Target: s.Target}
	}

	return store.Save(history.Record{
		ID:            result.ID,
		Name:          cfg.Name,
		Target:        cfg.Target.URL,
		Method:        cfg.Target.Method,
		Stages:        stages,
		StartTime:     result.StartTime,
		Duration:      result.Duration,
		Cancelled:     result.Cancelled,
		TotalRequests: snap.TotalRequests,
		Failed:        snap.FailedRequests,
		RPS:           snap.RPS,
		P50:           snap.Latency.P50,
		P95:           snap.Latency.P95,
		P99:           snap.Latency.P99,
		PeakVUs:       result.PeakVUs,
		Unreachable:   reach.Episodes > 0,
	})
}

// newMetricsMux serves /metrics for scraping and /stats with the live view.
func newMetricsMux(run *ramp.Run, engine *metrics.Engine, sink *metrics.PrometheusSink) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", sink.Handler())
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = writeJSON(w, struct {
			Run     ramp.Stats       `json:"run"`
			Metrics metrics.Snapshot `json:"metrics"`
		}{run.Stats(), engine.Snapshot()})
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
	})
	return mux
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
