package ramp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	outcomes []Outcome
}

func (c *captureSink) Record(o Outcome) { c.outcomes = append(c.outcomes, o) }

func TestVirtualUser_RunIteration(t *testing.T) {
	var gotHeader, gotUA, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Test")
		gotUA = r.Header.Get("User-Agent")
		gotMethod = r.Method
		_, _ = w.Write([]byte("hello"))
	}))
	defer server.Close()

	sink := &captureSink{}
	target := Target{URL: server.URL, Method: "post", Headers: map[string]string{"X-Test": "yes"}}
	vu := NewVirtualUser(1, target, server.Client(), sink)
	vu.userAgent = "ramp-test/1.0"

	assert.Equal(t, VUStateIdle, vu.GetState())
	require.NoError(t, vu.RunIteration(context.Background()))

	assert.Equal(t, VUStateIdle, vu.GetState())
	assert.Equal(t, int64(1), vu.GetIteration())
	assert.Equal(t, "yes", gotHeader)
	assert.Equal(t, "ramp-test/1.0", gotUA)
	assert.Equal(t, http.MethodPost, gotMethod)

	require.Len(t, sink.outcomes, 1)
	o := sink.outcomes[0]
	assert.True(t, o.Success())
	assert.Equal(t, http.StatusOK, o.StatusCode)
	assert.Equal(t, int64(5), o.BytesReceived)
	assert.Equal(t, 1, o.VU)
	assert.Equal(t, int64(1), o.Iteration)
	assert.Positive(t, o.Duration)
}

func TestVirtualUser_HeaderUserAgentWins(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer server.Close()

	target := Target{URL: server.URL, Headers: map[string]string{"User-Agent": "custom"}}
	vu := NewVirtualUser(1, target, server.Client(), nil)
	vu.userAgent = "ramp"

	require.NoError(t, vu.RunIteration(context.Background()))
	assert.Equal(t, "custom", gotUA)
}

func TestVirtualUser_CancelledRequestNotRecorded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	sink := &captureSink{}
	vu := NewVirtualUser(1, Target{URL: server.URL}, server.Client(), sink)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := vu.RunIteration(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, sink.outcomes)
}

func TestVirtualUser_StopLifecycle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
	}))
	defer server.Close()

	sink := &captureSink{}
	vu := NewVirtualUser(7, Target{URL: server.URL}, server.Client(), SinkFunc(func(o Outcome) {
		sink.Record(o)
	}))

	var iterations int
	go vu.loop(context.Background(), func() { iterations++ })

	time.Sleep(30 * time.Millisecond)
	vu.RequestStop()
	vu.RequestStop()

	select {
	case <-vu.Done():
	case <-time.After(time.Second):
		t.Fatal("VU did not exit after stop request")
	}

	assert.True(t, vu.Exited())
	assert.Equal(t, VUStateStopped, vu.GetState())
	assert.Equal(t, int64(iterations), vu.GetIteration())
	assert.Len(t, sink.outcomes, iterations)

	select {
	case <-vu.Stopping():
	default:
		t.Fatal("stopping channel should be closed")
	}

	err := vu.RunIteration(context.Background())
	assert.Error(t, err)
}

func TestVirtualUser_LoopExitsOnContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	vu := NewVirtualUser(1, Target{URL: server.URL}, server.Client(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go vu.loop(ctx, nil)
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-vu.Done():
	case <-time.After(time.Second):
		t.Fatal("VU did not exit after cancel")
	}
	assert.Equal(t, VUStateStopped, vu.GetState())

	// Stop after exit must not panic on the closed channel.
	vu.RequestStop()
}

func TestVUState_String(t *testing.T) {
	assert.Equal(t, "idle", VUStateIdle.String())
	assert.Equal(t, "running", VUStateRunning.String())
	assert.Equal(t, "stopping", VUStateStopping.String())
	assert.Equal(t, "stopped", VUStateStopped.String())
	assert.Equal(t, "unknown", VUState(42).String())
}
