// Package report renders a finished run as a standalone HTML page.
package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"os"
	"time"

	"github.com/wesleyorama2/ramp/internal/metrics"
	"github.com/wesleyorama2/ramp/internal/output"
	"github.com/wesleyorama2/ramp/internal/ramp"
)

// Data is everything the report shows.
type Data struct {
	Name         string
	Method       string
	Target       string
	Stages       []ramp.Stage
	Result       *ramp.Result
	Metrics      metrics.Snapshot
	Reachability metrics.ReachabilityReport
	TimeSeries   []metrics.TimeBucket
	Phases       []metrics.PhaseChange
}

// templateData is Data plus the chart series.
type templateData struct {
	Data
	TimeSeriesJSON template.JS
	GeneratedAt    time.Time
}

// seriesPoint is one chart sample.
type seriesPoint struct {
	Elapsed    float64 `json:"t"`
	RPS        float64 `json:"rps"`
	ErrorRate  float64 `json:"errorRate"`
	P50        float64 `json:"p50"`
	P95        float64 `json:"p95"`
	P99        float64 `json:"p99"`
	ActiveVUs  int     `json:"vus"`
	TargetVUs  int     `json:"targetVus"`
	Phase      string  `json:"phase"`
	IntervalRq int64   `json:"requests"`
}

var reportTemplate = template.Must(template.New("report").Funcs(templateFuncs()).Parse(htmlTemplate))

// WriteFile renders the report to path.
func WriteFile(path string, data Data) error {
	var buf bytes.Buffer
	if err := Render(&buf, data); err != nil {
		return err
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write HTML report: %w", err)
	}
	return nil
}

// Render writes the report to w.
func Render(w io.Writer, data Data) error {
	if data.Result == nil {
		return errors.New("report needs a run result")
	}

	series, err := timeSeriesJSON(data.TimeSeries)
	if err != nil {
		return fmt.Errorf("failed to convert time series: %w", err)
	}

	td := templateData{
		Data:           data,
		TimeSeriesJSON: template.JS(series),
		GeneratedAt:    time.Now(),
	}
	if err := reportTemplate.Execute(w, td); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}

func timeSeriesJSON(buckets []metrics.TimeBucket) (string, error) {
	points := make([]seriesPoint, len(buckets))
	for i, b := range buckets {
		points[i] = seriesPoint{
			Elapsed:    b.Elapsed.Seconds(),
			RPS:        b.IntervalRPS,
			ErrorRate:  b.IntervalErrorRate * 100,
			P50:        millis(b.LatencyP50),
			P95:        millis(b.LatencyP95),
			P99:        millis(b.LatencyP99),
			ActiveVUs:  b.ActiveVUs,
			TargetVUs:  b.TargetVUs,
			Phase:      string(b.Phase),
			IntervalRq: b.IntervalRequests,
		}
	}

	data, err := json.Marshal(points)
	if err != nil {
		return "[]", err
	}
	return string(data), nil
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatDuration": output.FormatDuration,
		"formatLatency":  output.FormatLatency,
		"formatNumber":   output.FormatNumber,
		"formatBytes":    output.FormatBytes,
		"percent":        func(f float64) string { return fmt.Sprintf("%.2f%%", f*100) },
		"successRate":    successRate,
		"add":            func(a, b int) int { return a + b },
		"startLevel":     startLevel,
	}
}

func successRate(m metrics.Snapshot) string {
	if m.TotalRequests == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", float64(m.SuccessRequests)/float64(m.TotalRequests)*100)
}

// startLevel is the VU level stage i ramps from.
func startLevel(stages []ramp.Stage, i int) int {
	if i == 0 {
		return 0
	}
	return stages[i-1].Target
}
