// Package output renders a run's live progress and final summary.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/wesleyorama2/ramp/internal/history"
	"github.com/wesleyorama2/ramp/internal/metrics"
	"github.com/wesleyorama2/ramp/internal/ramp"
)

const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	ruleChar       = "━"
	boxHorizontal  = "─"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"
	progressFilled = "█"
	progressEmpty  = "░"

	ruleWidth = 56
	boxWidth  = 57
)

// LiveStats is what the live display shows.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	LiveVUs     int
	DrainingVUs int
	TargetVUs   int

	CurrentRPS    float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	Phase        ramp.Phase
	StageName    string
	CurrentStage int // 1-indexed
	TotalStages  int

	Unreachable bool
}

// StatsFrom combines the scheduler's view with the metrics engine's.
func StatsFrom(stats ramp.Stats, snap metrics.Snapshot, unreachable bool) LiveStats {
	remaining := stats.TotalDuration - stats.Elapsed
	if remaining < 0 || !stats.Running {
		remaining = 0
	}

	return LiveStats{
		Progress:      stats.Progress,
		Elapsed:       stats.Elapsed,
		Remaining:     remaining,
		LiveVUs:       stats.LiveVUs,
		DrainingVUs:   stats.DrainingVUs,
		TargetVUs:     stats.TargetVUs,
		CurrentRPS:    snap.RPS,
		TotalRequests: snap.TotalRequests,
		Errors:        snap.FailedRequests,
		ErrorRate:     snap.ErrorRate,
		LatencyP95:    snap.Latency.P95,
		LatencyAvg:    snap.Latency.Mean,
		Phase:         stats.Phase,
		StageName:     stats.CurrentStageName,
		CurrentStage:  stats.CurrentStage + 1,
		TotalStages:   stats.TotalStages,
		Unreachable:   unreachable,
	}
}

// Summary is everything printed once a run is over.
type Summary struct {
	Name         string
	Target       string
	Method       string
	Stages       []ramp.Stage
	Result       *ramp.Result
	Metrics      metrics.Snapshot
	Reachability metrics.ReachabilityReport
}

// ConsoleConfig configures a Console.
type ConsoleConfig struct {
	Writer io.Writer
	Quiet  bool

	// ForceTTY redraws in place even if Writer is not a terminal.
	ForceTTY bool

	// NoColor and ForceColors override terminal detection.
	NoColor     bool
	ForceColors bool
}

// Console writes the run display. On a terminal the live stats box is
// redrawn in place; otherwise each update is a single line.
type Console struct {
	w      io.Writer
	colors *ColorScheme
	isTTY  bool
	quiet  bool

	mu    sync.Mutex
	lines int
}

// NewConsole creates a console. A nil Writer means stdout.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	isTTY := cfg.ForceTTY || isTerminal(cfg.Writer)

	var scheme *ColorScheme
	switch {
	case cfg.NoColor:
		scheme = NoColorScheme()
	case cfg.ForceColors || (isTTY && supportsColors()):
		scheme = forcedColorScheme()
	default:
		scheme = NoColorScheme()
	}

	return &Console{
		w:      cfg.Writer,
		colors: scheme,
		isTTY:  isTTY,
		quiet:  cfg.Quiet,
	}
}

// IsTTY reports whether updates are redrawn in place.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the plan before the run starts.
func (c *Console) PrintHeader(name, method, target string, stages []ramp.Stage) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if name == "" {
		name = "ramp"
	}
	var total time.Duration
	for _, s := range stages {
		total += s.Duration
	}

	rule := c.colors.Rule.Sprint(strings.Repeat(ruleChar, ruleWidth))
	c.println(rule)
	c.println(c.colors.Title.Sprintf("%s - Running", name))
	c.println(rule)
	c.printf("Target:   %s %s\n", c.colors.Accent.Sprint(method), c.colors.Value.Sprint(target))
	c.printf("Duration: %s over %d stage(s)\n", c.colors.Value.Sprint(FormatDuration(total)), len(stages))

	level := 0
	for i, s := range stages {
		label := s.Name
		if label == "" {
			label = fmt.Sprintf("stage %d", i+1)
		}
		c.printf("  %s %-12s %8s  %d → %d VUs\n",
			c.colors.Dim.Sprint(fmt.Sprintf("%d.", i+1)), label, FormatDuration(s.Duration), level, s.Target)
		level = s.Target
	}
	c.println("")
}

// Update shows the latest stats.
func (c *Console) Update(stats LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isTTY {
		c.println(c.statusLine(stats))
		return
	}

	c.clear()
	lines := c.renderLive(stats)
	for _, line := range lines {
		c.println(line)
	}
	c.lines = len(lines)
}

// statusLine is the one-line form used when not on a terminal.
func (c *Console) statusLine(s LiveStats) string {
	line := fmt.Sprintf("[%s] %.0f%% | stage %d/%d %s | VUs: %d/%d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | P95: %s",
		FormatDuration(s.Elapsed),
		s.Progress*100,
		s.CurrentStage, s.TotalStages, s.Phase,
		s.LiveVUs, s.TargetVUs,
		s.TotalRequests,
		s.CurrentRPS,
		s.Errors, s.ErrorRate*100,
		FormatLatency(s.LatencyP95))
	if s.Unreachable {
		line += " | TARGET UNREACHABLE"
	}
	return line
}

func (c *Console) renderLive(s LiveStats) []string {
	var lines []string

	bar := c.progressBar(s.Progress, 40)
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		c.colors.Good.Sprint(bar),
		c.colors.Title.Sprintf("%.0f%%", s.Progress*100),
		c.colors.Dim.Sprintf("%s / %s", FormatDuration(s.Elapsed), FormatDuration(s.Elapsed+s.Remaining))))

	stage := fmt.Sprintf("%s (%d/%d)", s.Phase, s.CurrentStage, s.TotalStages)
	if s.StageName != "" {
		stage = fmt.Sprintf("%s %s", s.StageName, stage)
	}
	lines = append(lines, "Stage:    "+c.colors.Accent.Sprint(stage))
	if s.Unreachable {
		lines = append(lines, c.colors.Bad.Sprint("Target unreachable: requests are failing without a response"))
	}
	lines = append(lines, "")

	lines = append(lines, c.colors.Dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	vus := fmt.Sprintf("VUs:     %s / %d", c.colors.Value.Sprint(s.LiveVUs), s.TargetVUs)
	if s.DrainingVUs > 0 {
		vus += c.colors.Dim.Sprintf(" (+%d)", s.DrainingVUs)
	}
	lines = append(lines, c.boxRow(vus, "Requests: "+c.colors.Value.Sprint(FormatNumber(s.TotalRequests))))

	errColor := c.colors.rate(s.ErrorRate)
	lines = append(lines, c.boxRow(
		"RPS:     "+c.colors.Good.Sprintf("%.1f", s.CurrentRPS),
		"Errors:   "+errColor.Sprintf("%d (%.1f%%)", s.Errors, s.ErrorRate*100)))

	lines = append(lines, c.boxRow(
		"P95:     "+c.colors.Latency.Sprint(FormatLatency(s.LatencyP95)),
		"Avg:      "+c.colors.Latency.Sprint(FormatLatency(s.LatencyAvg))))

	lines = append(lines, c.colors.Dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))
	return lines
}

func (c *Console) boxRow(left, right string) string {
	col := (boxWidth - 5) / 2
	pad := func(s string) string {
		return s + strings.Repeat(" ", max(col-visibleWidth(s), 0))
	}
	bar := c.colors.Dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s %s%s", bar, pad(left), bar, pad(right), bar)
}

func (c *Console) progressBar(progress float64, width int) string {
	progress = min(max(progress, 0), 1)
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// clear erases the live box. Callers hold c.mu.
func (c *Console) clear() {
	if c.lines == 0 {
		return
	}
	fmt.Fprintf(c.w, cursorUp, c.lines)
	for i := 0; i < c.lines; i++ {
		fmt.Fprint(c.w, clearLine+"\n")
	}
	fmt.Fprintf(c.w, cursorUp, c.lines)
	c.lines = 0
}

// PrintSummary prints the final report. In quiet mode only the outcome line
// is printed.
func (c *Console) PrintSummary(s Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, statusColor := "Completed ✓", c.colors.Good
	if s.Result != nil && s.Result.Cancelled {
		status, statusColor = "Cancelled ✗", c.colors.Warn
	}

	if c.quiet {
		c.println(statusColor.Sprint(strings.ToUpper(strings.Fields(status)[0])))
		return
	}

	if c.isTTY {
		c.clear()
	}

	name := s.Name
	if name == "" {
		name = "ramp"
	}
	m := s.Metrics

	rule := c.colors.Rule.Sprint(strings.Repeat(ruleChar, ruleWidth))
	c.println("")
	c.println(rule)
	c.printf("%s - %s\n", c.colors.Title.Sprint(name), statusColor.Sprint(status))
	c.println(rule)
	c.println("")

	if s.Result != nil {
		c.printf("Run ID:        %s\n", c.colors.Dim.Sprint(s.Result.ID))
		c.printf("Duration:      %s\n", c.colors.Value.Sprint(FormatDuration(s.Result.Duration)))
		c.printf("Peak VUs:      %s\n", c.colors.Value.Sprint(s.Result.PeakVUs))
		c.printf("Iterations:    %s\n", c.colors.Value.Sprint(FormatNumber(s.Result.Iterations)))
		if s.Result.SpawnFailures > 0 {
			c.printf("Spawn fails:   %s\n", c.colors.Warn.Sprint(FormatNumber(s.Result.SpawnFailures)))
		}
		if s.Result.Unterminated > 0 {
			c.printf("Unterminated:  %s\n", c.colors.Bad.Sprint(s.Result.Unterminated))
		}
	}
	c.printf("Total Reqs:    %s\n", c.colors.Value.Sprint(FormatNumber(m.TotalRequests)))
	c.printf("Throughput:    %s\n", c.colors.Value.Sprintf("%.1f req/s", m.RPS))
	c.printf("Received:      %s\n", c.colors.Value.Sprint(FormatBytes(m.TotalBytes)))

	successRate := 1.0
	if m.TotalRequests > 0 {
		successRate = 1 - m.ErrorRate
	}
	c.printf("Success Rate:  %s\n", c.colors.rate(1-successRate).Sprintf("%.1f%%", successRate*100))
	c.println("")

	if m.Latency.Count > 0 {
		c.println(c.colors.Title.Sprint("Latency Distribution:"))
		for _, row := range []struct {
			label string
			d     time.Duration
		}{
			{"Min", m.Latency.Min},
			{"P50", m.Latency.P50},
			{"P90", m.Latency.P90},
			{"P95", m.Latency.P95},
			{"P99", m.Latency.P99},
			{"Max", m.Latency.Max},
		} {
			c.printf("  %-5s %s\n", row.label+":", c.colors.Latency.Sprint(FormatLatency(row.d)))
		}
		c.println("")
	}

	if len(m.StatusCodes) > 0 || m.TransportErrors > 0 {
		c.println(c.colors.Title.Sprint("Responses:"))
		for _, code := range m.SortedStatusCodes() {
			col := c.colors.Good
			if code < 200 || code >= 300 {
				col = c.colors.Warn
			}
			c.printf("  %s %s\n", col.Sprintf("%d", code), FormatNumber(m.StatusCodes[code]))
		}
		if m.TransportErrors > 0 {
			c.printf("  %s %s\n", c.colors.Bad.Sprint("err"), FormatNumber(m.TransportErrors))
		}
		c.println("")
	}

	if r := s.Reachability; r.Episodes > 0 {
		state := "recovered"
		col := c.colors.Warn
		if r.Unreachable {
			state, col = "still unreachable at end of run", c.colors.Bad
		}
		c.printf("%s target unreachable %d time(s), %s (longest streak %d errors, last: %s)\n",
			col.Sprint("!"), r.Episodes, state, r.MaxConsecutive, r.LastError)
		c.println("")
	}
}

// PrintHistory lists recorded runs as a table.
func (c *Console) PrintHistory(records []history.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(records) == 0 {
		c.println("No runs recorded.")
		return
	}

	tw := tabwriter.NewWriter(c.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tNAME\tDURATION\tPEAK VUS\tREQUESTS\tFAILED\tP95\tSTATUS\tID")
	for _, r := range records {
		status := "completed"
		if r.Cancelled {
			status = "cancelled"
		}
		name := r.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			r.StartTime.Local().Format("2006-01-02 15:04:05"),
			name,
			FormatDuration(r.Duration),
			r.PeakVUs,
			FormatNumber(r.TotalRequests),
			FormatNumber(r.Failed),
			FormatLatency(r.P95),
			status,
			r.ID)
	}
	_ = tw.Flush()
}

func (c *Console) println(s string) {
	fmt.Fprintln(c.w, s)
}

func (c *Console) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.w, format, args...)
}
