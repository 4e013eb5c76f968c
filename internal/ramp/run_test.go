package ramp_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/ramp/internal/ramp"
)

// outcomeRecorder is a concurrency-safe Sink for tests.
type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []ramp.Outcome
}

func (r *outcomeRecorder) Record(o ramp.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *outcomeRecorder) all() []ramp.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ramp.Outcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// tickRecorder keeps every Stats seen by the scheduling loop.
type tickRecorder struct {
	mu    sync.Mutex
	ticks []ramp.Stats
}

func (r *tickRecorder) ObserveTick(s ramp.Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, s)
}

func (r *tickRecorder) all() []ramp.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ramp.Stats, len(r.ticks))
	copy(out, r.ticks)
	return out
}

func newTestServer(delay time.Duration, status int) (*httptest.Server, *atomic.Int64) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	return server, &hits
}

func TestNewRun_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		plan ramp.Plan
		opts ramp.Options
	}{
		{
			name: "no stages",
			plan: ramp.Plan{Target: ramp.Target{URL: "http://localhost"}},
		},
		{
			name: "bad url",
			plan: ramp.Plan{
				Stages: []ramp.Stage{{Duration: time.Second, Target: 1}},
				Target: ramp.Target{URL: "localhost/path"},
			},
		},
		{
			name: "negative max vus",
			plan: ramp.Plan{
				Stages: []ramp.Stage{{Duration: time.Second, Target: 1}},
				Target: ramp.Target{URL: "http://localhost"},
			},
			opts: ramp.Options{MaxVUs: -1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run, err := ramp.NewRun(tt.plan, tt.opts)
			assert.Nil(t, run)
			assert.ErrorIs(t, err, ramp.ErrInvalidPlan)
		})
	}
}

func TestRun_CompletesSchedule(t *testing.T) {
	server, hits := newTestServer(time.Millisecond, http.StatusOK)
	defer server.Close()

	sink := &outcomeRecorder{}
	ticks := &tickRecorder{}

	plan := ramp.Plan{
		Name: "ramp-test",
		Stages: []ramp.Stage{
			{Duration: 300 * time.Millisecond, Target: 4},
			{Duration: 300 * time.Millisecond, Target: 4},
			{Duration: 300 * time.Millisecond, Target: 1},
		},
		Target: ramp.Target{URL: server.URL},
	}

	run, err := ramp.NewRun(plan, ramp.Options{
		TickInterval: 20 * time.Millisecond,
		GracefulStop: time.Second,
		Sink:         sink,
		Observers:    []ramp.Observer{ticks},
	})
	require.NoError(t, err)

	result, err := run.Execute(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.False(t, result.Cancelled)
	assert.Equal(t, run.ID(), result.ID)
	assert.Equal(t, 0, result.Unterminated)
	assert.Equal(t, 4, result.PeakVUs)
	assert.InDelta(t, float64(900*time.Millisecond), float64(result.Duration), float64(300*time.Millisecond))

	outcomes := sink.all()
	require.NotEmpty(t, outcomes)
	assert.Equal(t, hits.Load(), int64(len(outcomes)))
	assert.Equal(t, result.Iterations, int64(len(outcomes)))
	for _, o := range outcomes {
		assert.True(t, o.Success(), "outcome %+v", o)
		assert.Positive(t, o.VU)
		assert.Positive(t, o.Iteration)
	}

	for _, s := range ticks.all() {
		assert.LessOrEqual(t, s.LiveVUs, 4)
		assert.GreaterOrEqual(t, s.LiveVUs, 0)
	}

	final := run.Stats()
	assert.False(t, final.Running)
	assert.Equal(t, ramp.PhaseDone, final.Phase)
	assert.Equal(t, 0, final.LiveVUs)
	assert.Equal(t, 1.0, final.Progress)
}

func TestRun_ExecuteTwice(t *testing.T) {
	server, _ := newTestServer(0, http.StatusOK)
	defer server.Close()

	run, err := ramp.NewRun(ramp.Plan{
		Stages: []ramp.Stage{{Duration: 50 * time.Millisecond, Target: 1}},
		Target: ramp.Target{URL: server.URL},
	}, ramp.Options{TickInterval: 10 * time.Millisecond})
	require.NoError(t, err)

	_, err = run.Execute(context.Background())
	require.NoError(t, err)

	_, err = run.Execute(context.Background())
	assert.ErrorIs(t, err, ramp.ErrAlreadyStarted)
}

func TestRun_RequestFailuresDoNotStopRun(t *testing.T) {
	server, _ := newTestServer(0, http.StatusInternalServerError)
	defer server.Close()

	sink := &outcomeRecorder{}
	run, err := ramp.NewRun(ramp.Plan{
		Stages: []ramp.Stage{{Duration: 200 * time.Millisecond, Target: 2}},
		Target: ramp.Target{URL: server.URL},
	}, ramp.Options{TickInterval: 10 * time.Millisecond, Sink: sink})
	require.NoError(t, err)

	result, err := run.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Cancelled)

	outcomes := sink.all()
	require.NotEmpty(t, outcomes)
	for _, o := range outcomes {
		assert.False(t, o.Success())
		assert.Equal(t, http.StatusInternalServerError, o.StatusCode)
		assert.NoError(t, o.Err)
	}
}

func TestRun_UnreachableTargetIsNotFatal(t *testing.T) {
	server, _ := newTestServer(0, http.StatusOK)
	url := server.URL
	server.Close()

	sink := &outcomeRecorder{}
	run, err := ramp.NewRun(ramp.Plan{
		Stages: []ramp.Stage{{Duration: 100 * time.Millisecond, Target: 1}},
		Target: ramp.Target{URL: url},
	}, ramp.Options{TickInterval: 10 * time.Millisecond, Sink: sink})
	require.NoError(t, err)

	result, err := run.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Cancelled)

	outcomes := sink.all()
	require.NotEmpty(t, outcomes)
	assert.Error(t, outcomes[0].Err)
}

func TestRun_ContextCancellation(t *testing.T) {
	server, _ := newTestServer(5*time.Millisecond, http.StatusOK)
	defer server.Close()

	run, err := ramp.NewRun(ramp.Plan{
		Stages: []ramp.Stage{{Duration: time.Minute, Target: 5}},
		Target: ramp.Target{URL: server.URL},
	}, ramp.Options{
		TickInterval: 10 * time.Millisecond,
		GracefulStop: 500 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	result, err := run.Execute(ctx)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ramp.ErrCancelled)
	assert.True(t, ramp.IsCancelled(err))
	require.NotNil(t, result)
	assert.True(t, result.Cancelled)
	assert.Equal(t, 0, result.Unterminated)
	assert.Less(t, elapsed, 200*time.Millisecond+500*time.Millisecond+200*time.Millisecond)
}

func TestRun_StopWaitsForInFlightRequest(t *testing.T) {
	server, _ := newTestServer(300*time.Millisecond, http.StatusOK)
	defer server.Close()

	sink := &outcomeRecorder{}
	run, err := ramp.NewRun(ramp.Plan{
		Stages: []ramp.Stage{
			{Duration: time.Millisecond, Target: 1},
			{Duration: time.Minute, Target: 1},
		},
		Target: ramp.Target{URL: server.URL},
	}, ramp.Options{
		TickInterval: 5 * time.Millisecond,
		GracefulStop: 2 * time.Second,
		Sink:         sink,
	})
	require.NoError(t, err)

	time.AfterFunc(100*time.Millisecond, run.Stop)

	result, err := run.Execute(context.Background())
	assert.ErrorIs(t, err, ramp.ErrCancelled)
	assert.Equal(t, 0, result.Unterminated)

	// The request in flight when Stop was called completes normally.
	outcomes := sink.all()
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Success())
}

func TestRun_GracePeriodAbortsSlowRequests(t *testing.T) {
	server, _ := newTestServer(3*time.Second, http.StatusOK)
	defer server.Close()

	run, err := ramp.NewRun(ramp.Plan{
		Stages: []ramp.Stage{
			{Duration: time.Millisecond, Target: 2},
			{Duration: time.Minute, Target: 2},
		},
		Target: ramp.Target{URL: server.URL},
	}, ramp.Options{
		TickInterval: 5 * time.Millisecond,
		GracefulStop: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	time.AfterFunc(50*time.Millisecond, run.Stop)

	start := time.Now()
	result, err := run.Execute(context.Background())
	assert.ErrorIs(t, err, ramp.ErrCancelled)
	assert.Equal(t, 0, result.Unterminated)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRun_StopBeforeExecute(t *testing.T) {
	server, hits := newTestServer(0, http.StatusOK)
	defer server.Close()

	run, err := ramp.NewRun(ramp.Plan{
		Stages: []ramp.Stage{{Duration: time.Minute, Target: 10}},
		Target: ramp.Target{URL: server.URL},
	}, ramp.Options{TickInterval: 10 * time.Millisecond})
	require.NoError(t, err)

	run.Stop()
	run.Stop()

	result, err := run.Execute(context.Background())
	assert.ErrorIs(t, err, ramp.ErrCancelled)
	assert.True(t, result.Cancelled)
	assert.Zero(t, hits.Load())
}

func TestRun_MaxVUsCountsSpawnFailures(t *testing.T) {
	server, _ := newTestServer(time.Millisecond, http.StatusOK)
	defer server.Close()

	ticks := &tickRecorder{}
	run, err := ramp.NewRun(ramp.Plan{
		Stages: []ramp.Stage{
			{Duration: time.Millisecond, Target: 5},
			{Duration: 200 * time.Millisecond, Target: 5},
		},
		Target: ramp.Target{URL: server.URL},
	}, ramp.Options{
		TickInterval: 10 * time.Millisecond,
		MaxVUs:       3,
		Observers:    []ramp.Observer{ticks},
	})
	require.NoError(t, err)

	result, err := run.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.PeakVUs)
	assert.Positive(t, result.SpawnFailures)

	for _, s := range ticks.all() {
		assert.LessOrEqual(t, s.LiveVUs+s.DrainingVUs, 3)
	}
}

func TestRun_RampDownStopsExcessVUs(t *testing.T) {
	server, _ := newTestServer(time.Millisecond, http.StatusOK)
	defer server.Close()

	ticks := &tickRecorder{}
	run, err := ramp.NewRun(ramp.Plan{
		Stages: []ramp.Stage{
			{Duration: time.Millisecond, Target: 6},
			{Duration: 150 * time.Millisecond, Target: 6},
			{Duration: time.Millisecond, Target: 2},
			{Duration: 150 * time.Millisecond, Target: 2},
		},
		Target: ramp.Target{URL: server.URL},
	}, ramp.Options{TickInterval: 10 * time.Millisecond, Observers: []ramp.Observer{ticks}})
	require.NoError(t, err)

	_, err = run.Execute(context.Background())
	require.NoError(t, err)

	seen := ticks.all()
	require.NotEmpty(t, seen)

	var sawSix, sawTwoAfterSix bool
	for _, s := range seen {
		if s.LiveVUs == 6 {
			sawSix = true
		}
		if sawSix && s.Running && s.LiveVUs == 2 {
			sawTwoAfterSix = true
		}
	}
	assert.True(t, sawSix)
	assert.True(t, sawTwoAfterSix)
}

// newConnCountingServer reports how many client connections are open on
// the server side.
func newConnCountingServer(t *testing.T) (*httptest.Server, func() int64) {
	t.Helper()
	var open atomic.Int64
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	server.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		switch state {
		case http.StateNew:
			open.Add(1)
		case http.StateClosed, http.StateHijacked:
			open.Add(-1)
		}
	}
	server.Start()
	t.Cleanup(server.Close)
	return server, open.Load
}

func TestRun_PerVUClients(t *testing.T) {
	server, openConns := newConnCountingServer(t)

	sink := &outcomeRecorder{}
	run, err := ramp.NewRun(ramp.Plan{
		Stages: []ramp.Stage{{Duration: 200 * time.Millisecond, Target: 8}},
		Target: ramp.Target{URL: server.URL},
	}, ramp.Options{
		TickInterval: 10 * time.Millisecond,
		HTTP:         ramp.HTTPClientConfig{PerVUClients: true, Timeout: time.Second},
		Sink:         sink,
	})
	require.NoError(t, err)

	result, err := run.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, result.PeakVUs)
	require.NotEmpty(t, sink.all())
	assert.True(t, sink.all()[0].Success())

	assert.Eventually(t, func() bool { return openConns() == 0 }, 2*time.Second, 10*time.Millisecond,
		"connections of stopped VUs are still open")
}

func TestRun_PerVUClientsClosedOnRampDown(t *testing.T) {
	server, openConns := newConnCountingServer(t)

	ticks := &tickRecorder{}
	run, err := ramp.NewRun(ramp.Plan{
		Stages: []ramp.Stage{
			{Duration: time.Millisecond, Target: 6},
			{Duration: 100 * time.Millisecond, Target: 6},
			{Duration: time.Millisecond, Target: 0},
			{Duration: 400 * time.Millisecond, Target: 0},
		},
		Target: ramp.Target{URL: server.URL},
	}, ramp.Options{
		TickInterval: 10 * time.Millisecond,
		HTTP:         ramp.HTTPClientConfig{PerVUClients: true},
		Observers:    []ramp.Observer{ticks},
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = run.Execute(context.Background())
	}()

	// The run is still going, so only the VUs themselves can have closed
	// their connections.
	assert.Eventually(t, func() bool {
		s := run.Stats()
		return s.Running && s.PeakVUs == 6 && s.LiveVUs == 0 && s.DrainingVUs == 0 && openConns() == 0
	}, 350*time.Millisecond, 5*time.Millisecond)
	<-done
}

func TestNewRun_PartialHTTPConfig(t *testing.T) {
	tests := []struct {
		name string
		http ramp.HTTPClientConfig
	}{
		{name: "zero value", http: ramp.HTTPClientConfig{}},
		{name: "timeout only", http: ramp.HTTPClientConfig{Timeout: 2 * time.Second}},
		{name: "user agent only", http: ramp.HTTPClientConfig{UserAgent: "ramp-test"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, openConns := newConnCountingServer(t)

			run, err := ramp.NewRun(ramp.Plan{
				Stages: []ramp.Stage{{Duration: 200 * time.Millisecond, Target: 8}},
				Target: ramp.Target{URL: server.URL},
			}, ramp.Options{TickInterval: 10 * time.Millisecond, HTTP: tt.http})
			require.NoError(t, err)

			_, err = run.Execute(context.Background())
			require.NoError(t, err)

			// One shared pool, closed when the run ends.
			assert.Eventually(t, func() bool { return openConns() == 0 }, 2*time.Second, 10*time.Millisecond)
		})
	}
}
