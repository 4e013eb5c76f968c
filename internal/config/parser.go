package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/ramp/internal/ramp"
)

// ErrInvalidConfig is wrapped by errors caused by the content of a plan
// file, as opposed to I/O failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// Defaults applied by ApplyDefaults.
const (
	DefaultUserAgent    = "ramp/0.1.0"
	DefaultTimeout      = 30 * time.Second
	DefaultTickInterval = ramp.DefaultTickInterval
	DefaultGracefulStop = ramp.DefaultGracefulStop
)

// LoadConfig reads and parses a plan file. Defaults are not applied.
func LoadConfig(path string) (*PlanConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig parses plan data. The format follows the extension of path:
// .json is JSON, anything else is YAML. The document is checked against the
// plan schema before it is decoded.
func ParseConfig(data []byte, path string) (*PlanConfig, error) {
	var (
		raw    interface{}
		config PlanConfig
		isJSON = strings.EqualFold(filepath.Ext(path), ".json")
	)

	if isJSON {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: failed to parse JSON config: %v", ErrInvalidConfig, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: failed to parse YAML config: %v", ErrInvalidConfig, err)
		}
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: config is empty", ErrInvalidConfig)
	}

	doc, err := toJSONDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := checkStructure(doc); err != nil {
		return nil, err
	}

	if isJSON {
		err = json.Unmarshal(data, &config)
	} else {
		err = yaml.Unmarshal(data, &config)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &config, nil
}

// ParseDurationString parses a Go duration ("30s", "2m", "1h30m") or a bare
// integer number of seconds ("30"). An empty string is zero.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ParseStages parses the compact CLI form "30s:10,2m:10,30s:0", one
// duration:target pair per stage.
func ParseStages(s string) ([]StageConfig, error) {
	var stages []StageConfig

	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		durStr, targetStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("stage %d: expected duration:target, got %q", i+1, part)
		}

		duration, err := ParseDurationString(durStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i+1, err)
		}

		target, err := strconv.Atoi(strings.TrimSpace(targetStr))
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target %q", i+1, targetStr)
		}

		stages = append(stages, StageConfig{Duration: Duration(duration), Target: target})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("no stages in %q", s)
	}
	return stages, nil
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(config *PlanConfig) {
	if config.Target.Method == "" {
		config.Target.Method = "GET"
	}
	config.Target.Method = strings.ToUpper(config.Target.Method)

	if config.Settings.Timeout == 0 {
		config.Settings.Timeout = Duration(DefaultTimeout)
	}
	if config.Settings.TickInterval == 0 {
		config.Settings.TickInterval = Duration(DefaultTickInterval)
	}
	if config.Settings.GracefulStop == 0 {
		config.Settings.GracefulStop = Duration(DefaultGracefulStop)
	}
	if config.Settings.UserAgent == "" {
		config.Settings.UserAgent = DefaultUserAgent
	}

	for i := range config.Stages {
		if config.Stages[i].Name == "" {
			config.Stages[i].Name = fmt.Sprintf("stage-%d", i+1)
		}
	}
}

// ToPlan validates the config and converts it into what a ramp.Run needs.
// Call ApplyDefaults first.
func (c *PlanConfig) ToPlan() (ramp.Plan, ramp.Options, error) {
	if err := c.Validate(); err != nil {
		return ramp.Plan{}, ramp.Options{}, err
	}

	stages := make([]ramp.Stage, len(c.Stages))
	for i, s := range c.Stages {
		stages[i] = ramp.Stage{Duration: s.StageDuration(), Target: s.Target, Name: s.Name}
	}

	headers := make(map[string]string, len(c.Target.Headers))
	for k, v := range c.Target.Headers {
		headers[k] = v
	}

	plan := ramp.Plan{
		Name:   c.Name,
		Stages: stages,
		Target: ramp.Target{URL: c.Target.URL, Method: c.Target.Method, Headers: headers},
	}

	httpCfg := ramp.DefaultHTTPClientConfig()
	httpCfg.Timeout = c.Settings.Timeout.GetDuration(DefaultTimeout)
	httpCfg.MaxConnsPerHost = c.Settings.MaxConnsPerHost
	httpCfg.DisableKeepAlives = c.Settings.NoConnectionReuse
	httpCfg.InsecureSkipVerify = c.Settings.InsecureSkipVerify
	httpCfg.UserAgent = c.Settings.UserAgent

	opts := ramp.Options{
		TickInterval: c.Settings.TickInterval.GetDuration(DefaultTickInterval),
		GracefulStop: c.Settings.GracefulStop.GetDuration(DefaultGracefulStop),
		MaxVUs:       c.Settings.MaxVUs,
		HTTP:         httpCfg,
	}

	return plan, opts, nil
}
