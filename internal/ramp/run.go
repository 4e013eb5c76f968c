// Package ramp turns an ordered list of stages into a time-driven VU
// schedule and drives a pool of closed-loop virtual users against a target.
package ramp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultGracefulStop bounds how long stopping VUs may take to finish
	// their in-flight request before it is aborted.
	DefaultGracefulStop = 30 * time.Second

	// abortWait bounds the wait for VUs after in-flight requests were aborted.
	abortWait = 5 * time.Second
)

// Plan is what to run: the stages and the endpoint.
type Plan struct {
	Name   string `json:"name,omitempty" yaml:"name,omitempty"`
	Stages []Stage `json:"stages" yaml:"stages"`
	Target Target  `json:"target" yaml:"target"`
}

// Validate checks the stages and target.
func (p Plan) Validate() error {
	if _, err := NewSchedule(p.Stages); err != nil {
		return err
	}
	return p.Target.Validate()
}

// Options controls how a plan is run.
type Options struct {
	// TickInterval is how often the VU count is adjusted (default 1s).
	TickInterval time.Duration

	// GracefulStop is how long stopping VUs may keep their in-flight
	// request before it is aborted (default 30s).
	GracefulStop time.Duration

	// MaxVUs caps the number of VU goroutines, including VUs still
	// draining after a stop request. Zero means unlimited.
	MaxVUs int

	// HTTP configures the client. Unset fields take their value from
	// DefaultHTTPClientConfig.
	HTTP HTTPClientConfig

	// Sink receives every request outcome.
	Sink Sink

	// Observers are notified after every tick.
	Observers []Observer

	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.GracefulStop <= 0 {
		o.GracefulStop = DefaultGracefulStop
	}
	o.HTTP = o.HTTP.withDefaults()
	if o.Sink == nil {
		o.Sink = Discard
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Stats is a point-in-time view of a run.
type Stats struct {
	ID            string        `json:"id"`
	StartTime     time.Time     `json:"startTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`
	Progress      float64       `json:"progress"`

	LiveVUs     int `json:"liveVUs"`
	DrainingVUs int `json:"drainingVUs"`
	TargetVUs   int `json:"targetVUs"`
	PeakVUs     int `json:"peakVUs"`

	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName,omitempty"`
	TotalStages      int    `json:"totalStages"`
	Phase            Phase  `json:"phase"`

	Iterations    int64 `json:"iterations"`
	SpawnFailures int64 `json:"spawnFailures"`
	Running       bool  `json:"running"`
}

// Result summarises a finished run.
type Result struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	StartTime     time.Time     `json:"startTime"`
	EndTime       time.Time     `json:"endTime"`
	Duration      time.Duration `json:"duration"`
	Cancelled     bool          `json:"cancelled"`
	Iterations    int64         `json:"iterations"`
	PeakVUs       int           `json:"peakVUs"`
	SpawnFailures int64         `json:"spawnFailures"`
	// Unterminated counts VUs still alive when Execute returned.
	Unterminated int `json:"unterminated"`
}

// Run executes a Plan once. It owns the schedule and the set of live VUs.
//
// A single scheduling goroutine adjusts the VU count every tick; it is the
// only writer of the target level and of the VU set. VUs never touch the set,
// they only signal their own exit.
type Run struct {
	id       string
	plan     Plan
	schedule *Schedule
	opts     Options
	client   *http.Client
	logger   *zap.Logger

	started  atomic.Bool
	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}

	startMu   sync.RWMutex
	startTime time.Time

	// Owned by the scheduling goroutine.
	vus      []*VirtualUser
	draining []*VirtualUser
	nextID   int
	wg       sync.WaitGroup

	liveVUs       atomic.Int32
	drainingVUs   atomic.Int32
	targetVUs     atomic.Int32
	peakVUs       atomic.Int32
	currentStage  atomic.Int32
	iterations    atomic.Int64
	spawnFailures atomic.Int64
}

// NewRun validates the plan and prepares a run. Nothing is sent until
// Execute is called.
func NewRun(plan Plan, opts Options) (*Run, error) {
	schedule, err := NewSchedule(plan.Stages)
	if err != nil {
		return nil, err
	}
	if err := plan.Target.Validate(); err != nil {
		return nil, err
	}
	if opts.MaxVUs < 0 {
		return nil, fmt.Errorf("%w: maxVUs cannot be negative", ErrInvalidPlan)
	}

	opts = opts.withDefaults()
	id := uuid.NewString()

	r := &Run{
		id:       id,
		plan:     plan,
		schedule: schedule,
		opts:     opts,
		logger:   opts.Logger.With(zap.String("run_id", id)),
		stopCh:   make(chan struct{}),
	}
	if !opts.HTTP.PerVUClients {
		r.client = newHTTPClient(opts.HTTP)
	}
	return r, nil
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Schedule returns the run's schedule.
func (r *Run) Schedule() *Schedule { return r.schedule }

// Stop requests an early end of the run. It is safe to call more than once
// and from any goroutine.
func (r *Run) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Execute runs the plan and blocks until the schedule is exhausted or the run
// is cancelled through ctx or Stop. Either way all VUs are asked to stop and
// given GracefulStop to finish their in-flight request.
//
// A cancelled run returns its Result together with ErrCancelled.
func (r *Run) Execute(ctx context.Context) (*Result, error) {
	if !r.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}

	start := time.Now()
	r.startMu.Lock()
	r.startTime = start
	r.startMu.Unlock()
	r.running.Store(true)

	runCtx, cancel := context.WithTimeout(ctx, r.schedule.Total())
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		select {
		case <-r.stopCh:
			close(stopped)
			cancel()
		case <-runCtx.Done():
		}
	}()

	// Requests are not tied to runCtx so that ending the schedule never
	// aborts an in-flight request. hardCtx is only cancelled once the
	// graceful stop period expires.
	hardCtx, hardCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer hardCancel()

	r.logger.Info("run started",
		zap.String("name", r.plan.Name),
		zap.String("target", r.plan.Target.URL),
		zap.Int("stages", len(r.plan.Stages)),
		zap.Duration("total", r.schedule.Total()),
		zap.Int("max_target", r.schedule.MaxTarget()),
	)

	r.control(runCtx, hardCtx)

	cancelled := ctx.Err() != nil
	select {
	case <-stopped:
		cancelled = true
	default:
	}

	unterminated := r.shutdown(hardCancel)
	r.running.Store(false)
	r.notify()

	end := time.Now()
	result := &Result{
		ID:            r.id,
		Name:          r.plan.Name,
		StartTime:     start,
		EndTime:       end,
		Duration:      end.Sub(start),
		Cancelled:     cancelled,
		Iterations:    r.iterations.Load(),
		PeakVUs:       int(r.peakVUs.Load()),
		SpawnFailures: r.spawnFailures.Load(),
		Unterminated:  unterminated,
	}

	r.logger.Info("run finished",
		zap.Bool("cancelled", cancelled),
		zap.Duration("duration", result.Duration),
		zap.Int64("iterations", result.Iterations),
		zap.Int("peak_vus", result.PeakVUs),
		zap.Int("unterminated", unterminated),
	)

	if cancelled {
		return result, ErrCancelled
	}
	return result, nil
}

// control is the scheduling loop. It ticks immediately and then every
// TickInterval until ctx is done.
func (r *Run) control(ctx, hardCtx context.Context) {
	ticker := time.NewTicker(r.opts.TickInterval)
	defer ticker.Stop()

	r.tick(hardCtx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(hardCtx)
		}
	}
}

func (r *Run) tick(hardCtx context.Context) {
	elapsed := time.Since(r.startTime)
	desired := r.schedule.TargetAt(elapsed)

	r.targetVUs.Store(int32(desired))
	r.currentStage.Store(int32(r.schedule.StageAt(elapsed)))

	r.reap()
	r.scale(hardCtx, desired)
	r.notify()
}

func (r *Run) notify() {
	if len(r.opts.Observers) == 0 {
		return
	}
	stats := r.Stats()
	for _, o := range r.opts.Observers {
		o.ObserveTick(stats)
	}
}

// scale spawns or stops VUs so that the live count matches desired.
func (r *Run) scale(hardCtx context.Context, desired int) {
	live := len(r.vus)

	switch {
	case desired > live:
		for i := live; i < desired; i++ {
			vu, err := r.spawn()
			if err != nil {
				r.spawnFailures.Add(1)
				r.logger.Warn("failed to spawn VU, retrying next tick",
					zap.Error(err),
					zap.Int("live", len(r.vus)),
					zap.Int("desired", desired),
				)
				break
			}
			r.vus = append(r.vus, vu)
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				vu.loop(hardCtx, func() { r.iterations.Add(1) })
			}()
		}

	case desired < live:
		// Stop the most recently spawned VUs first.
		for _, vu := range r.vus[desired:] {
			vu.RequestStop()
			r.draining = append(r.draining, vu)
		}
		r.vus = r.vus[:desired]
	}

	r.liveVUs.Store(int32(len(r.vus)))
	r.drainingVUs.Store(int32(len(r.draining)))
	if n := int32(len(r.vus)); n > r.peakVUs.Load() {
		r.peakVUs.Store(n)
	}
}

func (r *Run) spawn() (*VirtualUser, error) {
	if r.opts.MaxVUs > 0 && len(r.vus)+len(r.draining) >= r.opts.MaxVUs {
		return nil, fmt.Errorf("%w: %d VUs alive (%d draining)", ErrVULimit, len(r.vus)+len(r.draining), len(r.draining))
	}

	r.nextID++
	var vu *VirtualUser
	if r.client != nil {
		vu = NewVirtualUser(r.nextID, r.plan.Target, r.client, r.opts.Sink)
	} else {
		vu = NewVirtualUser(r.nextID, r.plan.Target, newHTTPClient(r.opts.HTTP), r.opts.Sink)
		vu.ownsClient = true
	}
	vu.userAgent = r.opts.HTTP.UserAgent
	return vu, nil
}

// reap drops draining VUs that have exited.
func (r *Run) reap() {
	kept := r.draining[:0]
	for _, vu := range r.draining {
		if !vu.Exited() {
			kept = append(kept, vu)
		}
	}
	for i := len(kept); i < len(r.draining); i++ {
		r.draining[i] = nil
	}
	r.draining = kept
	r.drainingVUs.Store(int32(len(r.draining)))
}

// shutdown stops every VU and waits for them, first for GracefulStop and
// then, after aborting in-flight requests, for at most abortWait. It returns
// the number of VUs still alive.
func (r *Run) shutdown(hardCancel context.CancelFunc) int {
	for _, vu := range r.vus {
		vu.RequestStop()
	}
	r.draining = append(r.draining, r.vus...)
	r.vus = nil
	r.liveVUs.Store(0)
	r.targetVUs.Store(0)
	r.drainingVUs.Store(int32(len(r.draining)))

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	grace := time.NewTimer(r.opts.GracefulStop)
	defer grace.Stop()

	select {
	case <-done:
	case <-grace.C:
		r.logger.Warn("graceful stop expired, aborting in-flight requests",
			zap.Duration("graceful_stop", r.opts.GracefulStop),
			zap.Int("draining", r.countAlive()),
		)
		hardCancel()

		select {
		case <-done:
		case <-time.After(abortWait):
		}
	}

	alive := r.countAlive()
	r.reap()
	if r.client != nil {
		r.client.CloseIdleConnections()
	}
	return alive
}

func (r *Run) countAlive() int {
	alive := 0
	for _, vu := range r.draining {
		if !vu.Exited() {
			alive++
		}
	}
	return alive
}

// Stats returns a snapshot of the run. Safe to call from any goroutine.
func (r *Run) Stats() Stats {
	r.startMu.RLock()
	start := r.startTime
	r.startMu.RUnlock()

	total := r.schedule.Total()
	stats := Stats{
		ID:            r.id,
		StartTime:     start,
		TotalDuration: total,
		LiveVUs:       int(r.liveVUs.Load()),
		DrainingVUs:   int(r.drainingVUs.Load()),
		TargetVUs:     int(r.targetVUs.Load()),
		PeakVUs:       int(r.peakVUs.Load()),
		CurrentStage:  int(r.currentStage.Load()),
		TotalStages:   len(r.plan.Stages),
		Iterations:    r.iterations.Load(),
		SpawnFailures: r.spawnFailures.Load(),
		Running:       r.running.Load(),
		Phase:         PhaseInit,
	}
	if stats.CurrentStage < len(r.plan.Stages) {
		stats.CurrentStageName = r.plan.Stages[stats.CurrentStage].Name
	}

	if start.IsZero() {
		return stats
	}

	stats.Elapsed = time.Since(start)
	stats.Phase = r.schedule.PhaseAt(stats.Elapsed)
	if !stats.Running {
		stats.Phase = PhaseDone
	}
	stats.Progress = 1
	if stats.Running && total > 0 {
		stats.Progress = min(float64(stats.Elapsed)/float64(total), 1)
	}
	return stats
}

// IsCancelled reports whether err is the result of an external stop.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
