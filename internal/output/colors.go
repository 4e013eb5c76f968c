package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for the run display.
type ColorScheme struct {
	Title   *color.Color
	Rule    *color.Color
	Label   *color.Color
	Value   *color.Color
	Accent  *color.Color
	Dim     *color.Color
	Good    *color.Color
	Warn    *color.Color
	Bad     *color.Color
	Latency *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:   color.New(color.Bold),
		Rule:    color.New(color.FgCyan),
		Label:   color.New(color.FgWhite),
		Value:   color.New(color.FgCyan),
		Accent:  color.New(color.FgMagenta),
		Dim:     color.New(color.Faint),
		Good:    color.New(color.FgGreen),
		Warn:    color.New(color.FgYellow),
		Bad:     color.New(color.FgRed, color.Bold),
		Latency: color.New(color.FgBlue),
	}
}

// NoColorScheme returns a scheme that prints plain text.
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.DisableColor()
	}
	return scheme
}

// forcedColorScheme colors output even when the writer is not a terminal.
func forcedColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.EnableColor()
	}
	return scheme
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Title, s.Rule, s.Label, s.Value, s.Accent, s.Dim, s.Good, s.Warn, s.Bad, s.Latency}
}

// rate picks Good, Warn or Bad for an error rate.
func (s *ColorScheme) rate(errorRate float64) *color.Color {
	switch {
	case errorRate > 0.05:
		return s.Bad
	case errorRate > 0.01:
		return s.Warn
	default:
		return s.Good
	}
}
