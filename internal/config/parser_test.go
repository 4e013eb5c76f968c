package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/ramp/internal/ramp"
)

func TestLoadConfig_AverageLoad(t *testing.T) {
	cfg, err := LoadConfig("testdata/average-load.yaml")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Name != "average-load" {
		t.Errorf("Name = %q, want average-load", cfg.Name)
	}
	if cfg.Target.URL != "http://172.19.255.201/productpage" {
		t.Errorf("Target.URL = %q", cfg.Target.URL)
	}

	want := []struct {
		d      time.Duration
		target int
	}{
		{2 * time.Minute, 100},
		{5 * time.Minute, 200},
		{2 * time.Minute, 100},
	}
	if len(cfg.Stages) != len(want) {
		t.Fatalf("got %d stages, want %d", len(cfg.Stages), len(want))
	}
	for i, w := range want {
		if got := cfg.Stages[i].StageDuration(); got != w.d {
			t.Errorf("stage %d duration = %v, want %v", i, got, w.d)
		}
		if cfg.Stages[i].Target != w.target {
			t.Errorf("stage %d target = %d, want %d", i, cfg.Stages[i].Target, w.target)
		}
	}

	if got := time.Duration(cfg.Settings.GracefulStop); got != 30*time.Second {
		t.Errorf("GracefulStop = %v, want 30s", got)
	}
}

func TestLoadConfig_JSON(t *testing.T) {
	cfg, err := LoadConfig("testdata/spike.json")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if len(cfg.Stages) != 3 {
		t.Fatalf("got %d stages, want 3", len(cfg.Stages))
	}
	if got := cfg.Stages[0].StageDuration(); got != 30*time.Second {
		t.Errorf("durationSeconds stage = %v, want 30s", got)
	}
	if got := cfg.Stages[2].StageDuration(); got != time.Minute {
		t.Errorf("numeric duration stage = %v, want 1m", got)
	}
	if cfg.Target.Headers["Accept"] != "application/json" {
		t.Errorf("Headers = %v", cfg.Target.Headers)
	}
	if got := time.Duration(cfg.Settings.TickInterval); got != 500*time.Millisecond {
		t.Errorf("TickInterval = %v, want 500ms", got)
	}
	if !cfg.Settings.NoConnectionReuse {
		t.Error("NoConnectionReuse = false, want true")
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig("testdata/missing.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want os.ErrNotExist", err)
	}
	if errors.Is(err, ErrInvalidConfig) {
		t.Error("a missing file is not a configuration error")
	}
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		path      string
		wantField string
	}{
		{"malformed yaml", "target: [", "plan.yaml", ""},
		{"malformed json", `{"target":`, "plan.json", ""},
		{"empty document", "", "plan.yaml", ""},
		{"missing stages", "target:\n  url: http://localhost\n", "plan.yaml", ""},
		{"unknown field", "target:\n  url: http://localhost\nstages: []\nthreads: 4\n", "plan.yaml", ""},
		{"wrong type", "target:\n  url: http://localhost\nstages:\n  - duration: 1m\n    target: lots\n", "plan.yaml", "stages[0].target"},
		{"bad duration", "target:\n  url: http://localhost\nstages:\n  - duration: soon\n    target: 1\n", "plan.yaml", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.data), tt.path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error %v does not wrap ErrInvalidConfig", err)
			}

			if tt.wantField == "" {
				return
			}
			var verrs *ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("error %T is not *ValidationErrors", err)
			}
			found := false
			for _, e := range verrs.Errors {
				if e.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("no error on %s in %v", tt.wantField, verrs)
			}
		})
	}
}

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"30s", 30 * time.Second, false},
		{"2m", 2 * time.Minute, false},
		{"1h30m", 90 * time.Minute, false},
		{"500ms", 500 * time.Millisecond, false},
		{"45", 45 * time.Second, false},
		{" 10s ", 10 * time.Second, false},
		{"", 0, false},
		{"1.5", 0, true},
		{"ten", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDurationString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDurationString(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDurationString(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseStages(t *testing.T) {
	stages, err := ParseStages("2m:100, 5m:200,2m:100")
	if err != nil {
		t.Fatalf("ParseStages() error = %v", err)
	}
	if len(stages) != 3 {
		t.Fatalf("got %d stages, want 3", len(stages))
	}
	if stages[1].StageDuration() != 5*time.Minute || stages[1].Target != 200 {
		t.Errorf("stage 2 = %+v", stages[1])
	}

	for _, bad := range []string{"", "2m", "2m:x", "later:10", ","} {
		if _, err := ParseStages(bad); err == nil {
			t.Errorf("ParseStages(%q) expected error", bad)
		}
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &PlanConfig{
		Target: TargetConfig{URL: "http://localhost", Method: "post"},
		Stages: []StageConfig{{Duration: Duration(time.Second), Target: 1}, {Name: "hold", Duration: Duration(time.Second), Target: 1}},
	}
	ApplyDefaults(cfg)

	if cfg.Target.Method != "POST" {
		t.Errorf("Method = %q, want POST", cfg.Target.Method)
	}
	if time.Duration(cfg.Settings.Timeout) != DefaultTimeout {
		t.Errorf("Timeout = %v", cfg.Settings.Timeout)
	}
	if time.Duration(cfg.Settings.TickInterval) != time.Second {
		t.Errorf("TickInterval = %v", cfg.Settings.TickInterval)
	}
	if time.Duration(cfg.Settings.GracefulStop) != 30*time.Second {
		t.Errorf("GracefulStop = %v", cfg.Settings.GracefulStop)
	}
	if cfg.Settings.UserAgent != DefaultUserAgent {
		t.Errorf("UserAgent = %q", cfg.Settings.UserAgent)
	}
	if cfg.Stages[0].Name != "stage-1" || cfg.Stages[1].Name != "hold" {
		t.Errorf("stage names = %q, %q", cfg.Stages[0].Name, cfg.Stages[1].Name)
	}
}

func TestToPlan(t *testing.T) {
	cfg, err := LoadConfig("testdata/spike.json")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	ApplyDefaults(cfg)

	plan, opts, err := cfg.ToPlan()
	if err != nil {
		t.Fatalf("ToPlan() error = %v", err)
	}

	if plan.Name != "spike" || plan.Target.Method != "POST" {
		t.Errorf("plan = %+v", plan)
	}
	wantStages := []ramp.Stage{
		{Duration: 30 * time.Second, Target: 10, Name: "warm"},
		{Duration: 10 * time.Second, Target: 500, Name: "spike"},
		{Duration: time.Minute, Target: 0, Name: "recover"},
	}
	for i, w := range wantStages {
		if plan.Stages[i] != w {
			t.Errorf("stage %d = %+v, want %+v", i, plan.Stages[i], w)
		}
	}

	if opts.TickInterval != 500*time.Millisecond {
		t.Errorf("TickInterval = %v", opts.TickInterval)
	}
	if opts.GracefulStop != DefaultGracefulStop {
		t.Errorf("GracefulStop = %v", opts.GracefulStop)
	}
	if opts.MaxVUs != 600 {
		t.Errorf("MaxVUs = %d", opts.MaxVUs)
	}
	if opts.HTTP.Timeout != 5*time.Second || !opts.HTTP.DisableKeepAlives || opts.HTTP.UserAgent != "spike-test" {
		t.Errorf("HTTP = %+v", opts.HTTP)
	}

	if err := plan.Validate(); err != nil {
		t.Errorf("converted plan is invalid: %v", err)
	}
}

func TestToPlan_Invalid(t *testing.T) {
	cfg, err := LoadConfig("testdata/invalid.yaml")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	ApplyDefaults(cfg)

	if _, _, err := cfg.ToPlan(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestDuration_RoundTrip(t *testing.T) {
	stage := StageConfig{Duration: Duration(90 * time.Second), Target: 5}

	data, err := json.Marshal(stage)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"duration":"1m30s"`) {
		t.Errorf("JSON = %s", data)
	}

	out, err := yaml.Marshal(stage)
	if err != nil {
		t.Fatalf("yaml.Marshal() error = %v", err)
	}
	var back StageConfig
	if err := yaml.Unmarshal(out, &back); err != nil {
		t.Fatalf("yaml.Unmarshal() error = %v", err)
	}
	if back.StageDuration() != 90*time.Second {
		t.Errorf("round trip = %v", back.StageDuration())
	}
}

func TestLoadConfig_WrittenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yml")
	data := "target:\n  url: http://localhost:8080/\nstages:\n  - duration: 30\n    target: 5\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Stages[0].StageDuration() != 30*time.Second {
		t.Errorf("duration = %v, want 30s", cfg.Stages[0].StageDuration())
	}
}
