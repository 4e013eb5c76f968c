package ramp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Target describes the endpoint every virtual user hits. It is read-only
// once a run starts.
type Target struct {
	// URL must be absolute with an http or https scheme.
	URL string `json:"url" yaml:"url"`

	// Method defaults to GET.
	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	// Headers are added to every request.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

var supportedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}

// Validate checks the URL and method.
func (t Target) Validate() error {
	if t.URL == "" {
		return fmt.Errorf("%w: target url is required", ErrInvalidPlan)
	}

	u, err := url.Parse(t.URL)
	if err != nil {
		return fmt.Errorf("%w: invalid target url %q: %v", ErrInvalidPlan, t.URL, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%w: target url must be absolute: %s", ErrInvalidPlan, t.URL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported target url scheme %q", ErrInvalidPlan, u.Scheme)
	}

	if m := t.method(); !supportedMethods[m] {
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidPlan, m)
	}
	return nil
}

func (t Target) method() string {
	if t.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(t.Method)
}

// newRequest builds the request for one iteration.
func (t Target) newRequest(ctx context.Context, userAgent string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, t.method(), t.URL, nil)
	if err != nil {
		return nil, err
	}
	for key, value := range t.Headers {
		req.Header.Set(key, value)
	}
	if userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}
	return req, nil
}

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// Timeout bounds every request, including reading the body.
	Timeout time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	DisableKeepAlives  bool
	InsecureSkipVerify bool

	// PerVUClients gives every VU its own transport instead of one shared
	// connection pool. A VU closes its idle connections when it exits.
	PerVUClients bool

	// UserAgent is set on requests that do not carry one in Target.Headers.
	UserAgent string
}

// DefaultHTTPClientConfig returns defaults suited to load generation.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// withDefaults fills the unset fields from DefaultHTTPClientConfig.
func (c HTTPClientConfig) withDefaults() HTTPClientConfig {
	def := DefaultHTTPClientConfig()
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = def.MaxIdleConns
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if c.IdleConnTimeout <= 0 {
		c.IdleConnTimeout = def.IdleConnTimeout
	}
	return c
}

func newHTTPClient(cfg HTTPClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}
