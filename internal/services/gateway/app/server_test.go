package server

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/parleyhq/parley/internal/platform/timeouts"
)

func testConfig() Config {
	return Config{
		HTTPAddr: ":0",
		Registry: &stubRegistry{},
		Provider: &stubProvider{},
		Logger:   log.New(io.Discard, "", 0),
	}
}

func TestNewServerValidatesConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "missing addr",
			mutate: func(c *Config) { c.HTTPAddr = "  " },
			want:   "http address",
		},
		{
			name:   "missing registry",
			mutate: func(c *Config) { c.Registry = nil },
			want:   "registry",
		},
		{
			name:   "missing provider",
			mutate: func(c *Config) { c.Provider = nil },
			want:   "provider",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			config := testConfig()
			tc.mutate(&config)

			if _, err := NewServer(config); err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("NewServer error = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestNewServerAppliesTimeoutDefaults(t *testing.T) {
	srv, err := NewServer(testConfig())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	if got := srv.httpServer.ReadHeaderTimeout; got != timeouts.ReadHeader {
		t.Fatalf("read header timeout = %v, want %v", got, timeouts.ReadHeader)
	}
	if got := srv.shutdownTimeout; got != timeouts.Shutdown {
		t.Fatalf("shutdown timeout = %v, want %v", got, timeouts.Shutdown)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	srv := httptest.NewServer(newHandler(testConfig()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "OK" {
		t.Fatalf("body = %q, want OK", body)
	}
}

func TestWSRejectsNonGET(t *testing.T) {
	srv := httptest.NewServer(newHandler(testConfig()))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/ws", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST /ws: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
	if got := resp.Header.Get("Allow"); got != http.MethodGet {
		t.Fatalf("Allow = %q, want %q", got, http.MethodGet)
	}
}
