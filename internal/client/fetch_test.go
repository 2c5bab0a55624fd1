package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chromaaudit-proxy/internal/blocklist"
	"chromaaudit-proxy/internal/config"
	"chromaaudit-proxy/internal/metrics"
)

func testConfig() *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  10,
			IdleConnections: 10,
			MaxRedirects:    20,
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetchClient_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %q, want GET", r.Method)
		}
		if ua := r.Header.Get("User-Agent"); ua != "test-agent" {
			t.Errorf("User-Agent = %q, want %q", ua, "test-agent")
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	c := NewFetchClient(testConfig(), discardLogger(), nil)

	header := http.Header{}
	header.Set("User-Agent", "test-agent")
	resp, err := c.Get(context.Background(), srv.URL+"/page", header)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != "<html></html>" {
		t.Errorf("body = %q, want %q", string(body), "<html></html>")
	}
}

func TestFetchClient_Get_Error(t *testing.T) {
	c := NewFetchClient(testConfig(), discardLogger(), nil)

	_, err := c.Get(context.Background(), "http://127.0.0.1:1/nonexistent", http.Header{})
	if err == nil {
		t.Fatal("Get() expected error for unreachable host, got nil")
	}
}

func TestFetchClient_Get_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewFetchClient(testConfig(), discardLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err := c.Get(ctx, srv.URL+"/slow", http.Header{})
	if err == nil {
		t.Fatal("Get() expected error for canceled context, got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Get() error = %v, want context.Canceled", err)
	}
}

func TestFetchClient_FollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/end", http.StatusFound)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("arrived"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewFetchClient(testConfig(), discardLogger(), nil)

	resp, err := c.Get(context.Background(), srv.URL+"/start", http.Header{})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "arrived" {
		t.Errorf("body = %q, want %q", string(body), "arrived")
	}
}

func TestFetchClient_MaxRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Upstream.MaxRedirects = 3
	c := NewFetchClient(cfg, discardLogger(), nil)

	_, err := c.Get(context.Background(), srv.URL+"/loop", http.Header{})
	if err == nil {
		t.Fatal("Get() expected error for redirect loop, got nil")
	}
	if !strings.Contains(err.Error(), "stopped after 3 redirects") {
		t.Errorf("error = %q, want mention of redirect limit", err)
	}
}

func TestFetchClient_BlockPrivateRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://169.254.169.254/latest/meta-data/", http.StatusFound)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Upstream.BlockPrivateRedirects = true
	c := NewFetchClient(cfg, discardLogger(), nil)

	_, err := c.Get(context.Background(), srv.URL+"/start", http.Header{})
	if err == nil {
		t.Fatal("Get() expected error for redirect to link-local address, got nil")
	}
	if !errors.Is(err, ErrBlockedRedirect) {
		t.Errorf("Get() error = %v, want ErrBlockedRedirect", err)
	}
}

func TestFetchClient_BlockPrivateRedirects_NumericHosts(t *testing.T) {
	for _, location := range []string{
		"http://2130706433/",
		"http://0x7f000001/admin",
		"http://127.1:8080/",
		"http://0xa9.0xfe.0xa9.0xfe/latest/meta-data/",
		"http://ｌｏｃａｌｈｏｓｔ/",
	} {
		t.Run(location, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, location, http.StatusFound)
			}))
			defer srv.Close()

			cfg := testConfig()
			cfg.Upstream.BlockPrivateRedirects = true
			c := NewFetchClient(cfg, discardLogger(), nil)

			_, err := c.Get(context.Background(), srv.URL, http.Header{})
			if !errors.Is(err, ErrBlockedRedirect) {
				t.Errorf("Get() error = %v, want ErrBlockedRedirect", err)
			}
		})
	}
}

func TestFetchClient_BlockPrivateRedirects_InvalidHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "http://999.0.0.1/", http.StatusFound)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Upstream.BlockPrivateRedirects = true
	c := NewFetchClient(cfg, discardLogger(), nil)

	_, err := c.Get(context.Background(), srv.URL, http.Header{})
	if !errors.Is(err, blocklist.ErrInvalidHost) {
		t.Errorf("Get() error = %v, want ErrInvalidHost", err)
	}
}

func TestNewFetchClient_IdleConnections(t *testing.T) {
	cfg := testConfig()
	cfg.Upstream.IdleConnections = 37
	c := NewFetchClient(cfg, discardLogger(), nil)

	transport, ok := c.httpClient.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("Transport = %T, want *http.Transport", c.httpClient.Transport)
	}
	if transport.MaxIdleConns != 37 {
		t.Errorf("MaxIdleConns = %d, want 37", transport.MaxIdleConns)
	}
	if transport.MaxIdleConnsPerHost != 37 {
		t.Errorf("MaxIdleConnsPerHost = %d, want 37", transport.MaxIdleConnsPerHost)
	}
}

func TestFetchClient_RecordsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	m := metrics.New()
	c := NewFetchClient(testConfig(), discardLogger(), m)

	resp, err := c.Get(context.Background(), srv.URL, http.Header{})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	_ = resp.Body.Close()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	for _, f := range families {
		if f.GetName() != "chromaaudit_proxy_upstream_responses_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "status_class" && lp.GetValue() == "4xx" {
					if v := metric.GetCounter().GetValue(); v != 1 {
						t.Errorf("counter value = %v, want 1", v)
					}
					return
				}
			}
		}
	}
	t.Error("expected chromaaudit_proxy_upstream_responses_total with status_class=4xx")
}
