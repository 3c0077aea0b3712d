// Package httpx holds the one HTTP client used for every outbound API call.
package httpx

import (
	"net/http"
	"time"
)

const defaultExternalHTTPTimeout = 90 * time.Second

// DefaultUserAgent is sent when a request sets none. GitHub rejects requests
// without one.
const DefaultUserAgent = "changelabel"

var externalHTTPClient = &http.Client{
	Timeout:   defaultExternalHTTPTimeout,
	Transport: &userAgentTransport{agent: DefaultUserAgent},
}

type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if req.Header.Get("User-Agent") != "" {
		return base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return base.RoundTrip(req)
}

// ExternalHTTPClient is shared by the model, GitHub, GitLab and libraries.io
// clients.
func ExternalHTTPClient() *http.Client {
	return externalHTTPClient
}

// ConfigureExternalHTTPClient applies the configured timeout; zero or less
// keeps the default. It returns the timeout in effect.
func ConfigureExternalHTTPClient(timeoutSeconds int) time.Duration {
	timeout := defaultExternalHTTPTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	externalHTTPClient.Timeout = timeout
	return timeout
}
