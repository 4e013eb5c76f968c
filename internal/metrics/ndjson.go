package metrics

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/ramp/internal/ramp"
)

// OutcomeLine is the NDJSON form of a ramp.Outcome.
type OutcomeLine struct {
	Timestamp  time.Time `json:"ts"`
	VU         int       `json:"vu"`
	Iteration  int64     `json:"iter"`
	DurationMS float64   `json:"durationMs"`
	Status     int       `json:"status,omitempty"`
	Bytes      int64     `json:"bytes"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
}

// NDJSONWriter streams one JSON object per outcome. Lines are buffered;
// Close flushes them.
type NDJSONWriter struct {
	mu     sync.Mutex
	w      *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
	logger *zap.Logger

	lines  int64
	failed bool
}

// NewNDJSONWriter writes to w. If w is an io.Closer, Close closes it.
func NewNDJSONWriter(w io.Writer, logger *zap.Logger) *NDJSONWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	bw := bufio.NewWriter(w)
	n := &NDJSONWriter{w: bw, enc: json.NewEncoder(bw), logger: logger}
	if c, ok := w.(io.Closer); ok {
		n.closer = c
	}
	return n
}

// Record implements ramp.Sink. The first write error is logged and further
// outcomes are dropped.
func (n *NDJSONWriter) Record(o ramp.Outcome) {
	line := OutcomeLine{
		Timestamp:  o.Timestamp,
		VU:         o.VU,
		Iteration:  o.Iteration,
		DurationMS: float64(o.Duration) / float64(time.Millisecond),
		Status:     o.StatusCode,
		Bytes:      o.BytesReceived,
		OK:         o.Success(),
	}
	if o.Err != nil {
		line.Error = o.Err.Error()
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.failed {
		return
	}
	if err := n.enc.Encode(line); err != nil {
		n.failed = true
		n.logger.Error("failed to write outcome, dropping further outcomes", zap.Error(err))
		return
	}
	n.lines++
}

// Lines returns the number of outcomes written.
func (n *NDJSONWriter) Lines() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lines
}

// Close flushes buffered lines and closes the underlying writer.
func (n *NDJSONWriter) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	err := n.w.Flush()
	if n.closer != nil {
		if cerr := n.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
