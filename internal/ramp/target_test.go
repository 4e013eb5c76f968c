package ramp

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTarget_Validate(t *testing.T) {
	tests := []struct {
		name    string
		target  Target
		wantErr bool
	}{
		{"http url", Target{URL: "http://172.19.255.201/productpage"}, false},
		{"https url with method", Target{URL: "https://example.com/api", Method: "post"}, false},
		{"empty url", Target{}, true},
		{"relative url", Target{URL: "/productpage"}, true},
		{"missing host", Target{URL: "http://"}, true},
		{"ftp scheme", Target{URL: "ftp://example.com/file"}, true},
		{"unsupported method", Target{URL: "http://example.com", Method: "TRACE"}, true},
		{"garbage", Target{URL: "http://[::1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPlan)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTarget_NewRequest(t *testing.T) {
	target := Target{
		URL:     "http://example.com/path?q=1",
		Headers: map[string]string{"Authorization": "Bearer token"},
	}

	req, err := target.newRequest(context.Background(), "ramp/1.0")
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "example.com", req.URL.Host)
	assert.Equal(t, "Bearer token", req.Header.Get("Authorization"))
	assert.Equal(t, "ramp/1.0", req.Header.Get("User-Agent"))
}

func TestNewHTTPClient(t *testing.T) {
	cfg := DefaultHTTPClientConfig()
	cfg.Timeout = 5 * time.Second
	cfg.InsecureSkipVerify = true
	cfg.DisableKeepAlives = true

	client := newHTTPClient(cfg)
	assert.Equal(t, 5*time.Second, client.Timeout)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.True(t, transport.DisableKeepAlives)
	require.NotNil(t, transport.TLSClientConfig)
	assert.True(t, transport.TLSClientConfig.InsecureSkipVerify)
	assert.Equal(t, 100, transport.MaxIdleConnsPerHost)
}
