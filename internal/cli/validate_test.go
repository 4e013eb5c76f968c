package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantOut  []string
		wantErr  string
	}{
		{
			name:     "yaml plan as argument",
			args:     []string{"validate", "../config/testdata/average-load.yaml"},
			wantCode: ExitOK,
			wantOut:  []string{"is valid", "GET http://172.19.255.201/productpage", "3, 9m0s total", "peak VUs: 200", "graceful stop 30s"},
		},
		{
			name:     "json plan with flag",
			args:     []string{"validate", "--config", "../config/testdata/spike.json"},
			wantCode: ExitOK,
			wantOut:  []string{"is valid", "POST", "peak VUs: 500", "tick:     500ms"},
		},
		{
			name:     "invalid plan",
			args:     []string{"validate", "../config/testdata/invalid.yaml"},
			wantCode: ExitInvalidConfig,
			wantErr:  "validation errors",
		},
		{
			name:     "no plan",
			args:     []string{"validate"},
			wantCode: ExitInvalidConfig,
			wantErr:  "a plan file is required",
		},
		{
			name:     "missing file",
			args:     []string{"validate", "nope.yaml"},
			wantCode: ExitError,
			wantErr:  "failed to read config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := execute(t, context.Background(), tt.args...)
			assert.Equal(t, tt.wantCode, code, stderr)
			for _, want := range tt.wantOut {
				assert.Contains(t, stdout, want)
			}
			if tt.wantErr != "" {
				assert.Contains(t, stderr, tt.wantErr)
			}
		})
	}
}

func TestRootHelpAndVersion(t *testing.T) {
	code, stdout, _ := execute(t, context.Background())
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, "population of virtual users")
	assert.Contains(t, stdout, "validate")

	code, stdout, _ = execute(t, context.Background(), "--version")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout, version)

	code, _, stderr := execute(t, context.Background(), "nosuchcommand")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "unknown command")
}
