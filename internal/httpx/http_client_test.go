package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestConfigureExternalHTTPClient(t *testing.T) {
	original := externalHTTPClient.Timeout
	t.Cleanup(func() {
		externalHTTPClient.Timeout = original
	})

	if got := ConfigureExternalHTTPClient(0); got != defaultExternalHTTPTimeout {
		t.Fatalf("ConfigureExternalHTTPClient(0) = %s, want %s", got, defaultExternalHTTPTimeout)
	}
	if externalHTTPClient.Timeout != defaultExternalHTTPTimeout {
		t.Fatalf("configured timeout = %s, want %s", externalHTTPClient.Timeout, defaultExternalHTTPTimeout)
	}

	if got := ConfigureExternalHTTPClient(45); got != 45*time.Second {
		t.Fatalf("ConfigureExternalHTTPClient(45) = %s, want 45s", got)
	}
	if ExternalHTTPClient().Timeout != 45*time.Second {
		t.Fatalf("shared client timeout = %s, want 45s", ExternalHTTPClient().Timeout)
	}
}

func TestUserAgentIsDefaultedNotOverridden(t *testing.T) {
	agents := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents <- r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := ExternalHTTPClient().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	req, _ = http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "custom/1.0")
	resp, err = ExternalHTTPClient().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	if first, second := <-agents, <-agents; first != DefaultUserAgent || second != "custom/1.0" {
		t.Fatalf("unexpected user agents: %q, %q", first, second)
	}
	if req.Header.Get("User-Agent") != "custom/1.0" {
		t.Fatal("caller request must not be mutated")
	}
}
