package ramp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is between requests.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU has a request in flight.
	VUStateRunning
	// VUStateStopping indicates the VU will exit after its in-flight request.
	VUStateStopping
	// VUStateStopped indicates the VU goroutine has exited.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser issues requests against a Target in a closed loop: the next
// request starts as soon as the previous one completes.
type VirtualUser struct {
	ID int

	target    Target
	client    *http.Client
	sink      Sink
	userAgent string
	// ownsClient is set when client is private to this VU.
	ownsClient bool

	state     atomic.Int32
	iteration atomic.Int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewVirtualUser creates an idle VU.
func NewVirtualUser(id int, target Target, client *http.Client, sink Sink) *VirtualUser {
	if sink == nil {
		sink = Discard
	}
	return &VirtualUser{
		ID:     id,
		target: target,
		client: client,
		sink:   sink,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// RunIteration issues one request and records its outcome.
//
// Request failures are recorded, not returned. An error is returned only when
// the VU is stopping or ctx was cancelled; in the latter case the aborted
// request is not recorded.
func (vu *VirtualUser) RunIteration(ctx context.Context) error {
	if !vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateRunning)) {
		return fmt.Errorf("VU %d is %s", vu.ID, vu.GetState())
	}
	iteration := vu.iteration.Add(1)

	outcome := vu.do(ctx)
	outcome.VU = vu.ID
	outcome.Iteration = iteration

	// RequestStop may have moved us to stopping while the request was in
	// flight; only return to idle if that did not happen.
	vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateIdle))

	if ctx.Err() != nil {
		return ctx.Err()
	}
	vu.sink.Record(outcome)
	return nil
}

func (vu *VirtualUser) do(ctx context.Context) Outcome {
	start := time.Now()
	outcome := Outcome{Timestamp: start}

	req, err := vu.target.newRequest(ctx, vu.userAgent)
	if err != nil {
		outcome.Err = fmt.Errorf("failed to build request: %w", err)
		outcome.Duration = time.Since(start)
		return outcome
	}

	resp, err := vu.client.Do(req)
	if err != nil {
		outcome.Err = err
		outcome.Duration = time.Since(start)
		return outcome
	}
	defer resp.Body.Close()

	outcome.StatusCode = resp.StatusCode
	n, err := io.Copy(io.Discard, resp.Body)
	outcome.BytesReceived = n
	outcome.Duration = time.Since(start)
	if err != nil {
		outcome.Err = fmt.Errorf("failed to read response body: %w", err)
	}
	return outcome
}

// RequestStop asks the VU to exit once its in-flight request completes.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VUStateRunning), int32(VUStateStopping)) ||
		vu.state.CompareAndSwap(int32(VUStateIdle), int32(VUStateStopping)) {
		close(vu.stopCh)
	}
}

// Stopping returns a channel closed once a stop was requested.
func (vu *VirtualUser) Stopping() <-chan struct{} {
	return vu.stopCh
}

// Done returns a channel closed when the VU goroutine has exited.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

// Exited reports whether the VU goroutine has exited.
func (vu *VirtualUser) Exited() bool {
	select {
	case <-vu.doneCh:
		return true
	default:
		return false
	}
}

// markStopped is called by the goroutine running the VU on its way out.
func (vu *VirtualUser) markStopped() {
	if vu.ownsClient {
		vu.client.CloseIdleConnections()
	}
	prev := VUState(vu.state.Swap(int32(VUStateStopped)))
	if prev == VUStateIdle || prev == VUStateRunning {
		close(vu.stopCh)
	}
	close(vu.doneCh)
}

// loop runs iterations until a stop is requested or ctx is cancelled.
func (vu *VirtualUser) loop(ctx context.Context, onIteration func()) {
	defer vu.markStopped()

	for {
		select {
		case <-ctx.Done():
			return
		case <-vu.stopCh:
			return
		default:
		}

		if err := vu.RunIteration(ctx); err != nil {
			return
		}
		if onIteration != nil {
			onIteration()
		}
	}
}
