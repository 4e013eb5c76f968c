// Package config loads and validates ramp plan files.
//
// A plan file names the endpoint to hit, the ordered stages of the VU ramp
// and run settings:
//
//	name: average-load
//	target:
//	  url: http://172.19.255.201/productpage
//	stages:
//	  - duration: 2m
//	    target: 100
//	  - duration: 5m
//	    target: 200
//	  - duration: 2m
//	    target: 100
//	settings:
//	  gracefulStop: 30s
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PlanConfig is the root of a plan file.
type PlanConfig struct {
	Name        string        `json:"name,omitempty" yaml:"name,omitempty"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Target      TargetConfig  `json:"target" yaml:"target"`
	Stages      []StageConfig `json:"stages" yaml:"stages"`
	Settings    Settings      `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// TargetConfig is the endpoint every virtual user requests.
type TargetConfig struct {
	URL     string            `json:"url" yaml:"url"`
	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// StageConfig is one step of the ramp. Exactly one of Duration and
// DurationSeconds is set.
type StageConfig struct {
	Name            string   `json:"name,omitempty" yaml:"name,omitempty"`
	Duration        Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	DurationSeconds int      `json:"durationSeconds,omitempty" yaml:"durationSeconds,omitempty"`
	Target          int      `json:"target" yaml:"target"`
}

// StageDuration returns whichever duration form the stage uses.
func (s StageConfig) StageDuration() time.Duration {
	if s.DurationSeconds != 0 {
		return time.Duration(s.DurationSeconds) * time.Second
	}
	return time.Duration(s.Duration)
}

// Settings controls the run and the HTTP client.
type Settings struct {
	// Timeout bounds each request.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// TickInterval is how often the VU count is adjusted.
	TickInterval Duration `json:"tickInterval,omitempty" yaml:"tickInterval,omitempty"`

	// GracefulStop is how long stopping VUs may finish their request.
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// MaxVUs caps the VU pool. 0 means unlimited.
	MaxVUs int `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	MaxConnsPerHost    int    `json:"maxConnsPerHost,omitempty" yaml:"maxConnsPerHost,omitempty"`
	NoConnectionReuse  bool   `json:"noConnectionReuse,omitempty" yaml:"noConnectionReuse,omitempty"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
	UserAgent          string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
}

// Duration is a time.Duration that reads either a Go duration string
// ("2m30s") or a bare number of seconds, and writes the string form.
type Duration time.Duration

// GetDuration returns the duration, or defaultValue when unset.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*d = 0
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string or a number of seconds", value.Line)
	}

	dur, err := ParseDurationString(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(dur)
	return nil
}
