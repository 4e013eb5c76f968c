package ramp

import "time"

// Outcome is the result of a single request issued by a virtual user.
type Outcome struct {
	Timestamp     time.Time     `json:"timestamp"`
	Duration      time.Duration `json:"duration"`
	StatusCode    int           `json:"statusCode,omitempty"`
	Err           error         `json:"-"`
	VU            int           `json:"vu"`
	Iteration     int64         `json:"iteration"`
	BytesReceived int64         `json:"bytesReceived"`
}

// Success reports whether the request completed with a 2xx status.
func (o Outcome) Success() bool {
	return o.Err == nil && o.StatusCode >= 200 && o.StatusCode < 300
}

// Sink accepts outcomes. Implementations must be safe for concurrent use;
// every worker records into the same sink.
type Sink interface {
	Record(o Outcome)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(o Outcome)

// Record calls f(o).
func (f SinkFunc) Record(o Outcome) { f(o) }

// Sinks fans an outcome out to several sinks in order.
type Sinks []Sink

// Record forwards o to every sink.
func (s Sinks) Record(o Outcome) {
	for _, sink := range s {
		sink.Record(o)
	}
}

// Discard drops every outcome.
var Discard Sink = SinkFunc(func(Outcome) {})

// Observer is notified by the scheduling loop after each tick.
type Observer interface {
	ObserveTick(stats Stats)
}

// ObserverFunc adapts a function to an Observer.
type ObserverFunc func(stats Stats)

// ObserveTick calls f(stats).
func (f ObserverFunc) ObserveTick(stats Stats) { f(stats) }
