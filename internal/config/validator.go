package config

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/wesleyorama2/ramp/internal/ramp"
)

// ValidationError is one problem with a plan.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors collects every problem found in a plan.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e *ValidationErrors) Unwrap() error {
	return ErrInvalidConfig
}

// Add appends an error.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors reports whether any error was added.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

var validMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}

// Validate checks the whole plan and returns a *ValidationErrors listing
// every problem, or nil.
func (c *PlanConfig) Validate() error {
	errs := &ValidationErrors{}

	validateTarget(&c.Target, errs)

	if len(c.Stages) == 0 {
		errs.Add("stages", "at least one stage is required")
	}
	peak := 0
	for i, stage := range c.Stages {
		validateStage(i, stage, errs)
		peak = max(peak, stage.Target)
	}

	validateSettings(&c.Settings, peak, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateTarget(t *TargetConfig, errs *ValidationErrors) {
	if t.URL == "" {
		errs.Add("target.url", "url is required")
	} else if u, err := url.Parse(t.URL); err != nil {
		errs.Add("target.url", fmt.Sprintf("invalid url: %v", err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("target.url", fmt.Sprintf("url must use http or https: %s", t.URL))
	} else if u.Host == "" {
		errs.Add("target.url", fmt.Sprintf("url has no host: %s", t.URL))
	}

	if t.Method != "" && !validMethods[strings.ToUpper(t.Method)] {
		errs.Add("target.method", fmt.Sprintf("unsupported method: %s", t.Method))
	}

	for name := range t.Headers {
		if strings.TrimSpace(name) == "" {
			errs.Add("target.headers", "header name cannot be empty")
		}
	}
}

func validateStage(i int, stage StageConfig, errs *ValidationErrors) {
	prefix := fmt.Sprintf("stages[%d]", i)

	switch {
	case stage.Duration != 0 && stage.DurationSeconds != 0:
		errs.Add(prefix, "set either duration or durationSeconds, not both")
	case stage.StageDuration() <= 0:
		errs.Add(prefix+".duration", "duration must be positive")
	}

	switch {
	case stage.Target < 0:
		errs.Add(prefix+".target", "target cannot be negative")
	case stage.Target > ramp.MaxStageTarget:
		errs.Add(prefix+".target", fmt.Sprintf("target cannot exceed %d", ramp.MaxStageTarget))
	}
}

func validateSettings(s *Settings, peak int, errs *ValidationErrors) {
	if s.Timeout < 0 {
		errs.Add("settings.timeout", "timeout cannot be negative")
	}
	if s.TickInterval < 0 {
		errs.Add("settings.tickInterval", "tickInterval cannot be negative")
	}
	if s.GracefulStop < 0 {
		errs.Add("settings.gracefulStop", "gracefulStop cannot be negative")
	}
	if s.MaxConnsPerHost < 0 {
		errs.Add("settings.maxConnsPerHost", "maxConnsPerHost cannot be negative")
	}

	switch {
	case s.MaxVUs < 0:
		errs.Add("settings.maxVUs", "maxVUs cannot be negative")
	case s.MaxVUs > 0 && s.MaxVUs < peak:
		errs.Add("settings.maxVUs", fmt.Sprintf("maxVUs (%d) is below the peak stage target (%d)", s.MaxVUs, peak))
	}
}
