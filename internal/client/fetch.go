// Package client provides the outbound HTTP client used to fetch targets.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"chromaaudit-proxy/internal/blocklist"
	"chromaaudit-proxy/internal/config"
	"chromaaudit-proxy/internal/metrics"
	"chromaaudit-proxy/internal/model"
)

// ErrBlockedRedirect is returned when a redirect points at a blocklisted host.
var ErrBlockedRedirect = errors.New("redirect to private/local host blocked")

// FetchClient sends GET requests to arbitrary targets.
type FetchClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewFetchClient creates a FetchClient with connection pooling and a redirect policy.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
//
// No client-level timeout is set: callers bound each fetch with a context
// deadline so that reading the body is covered too.
func NewFetchClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *FetchClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	c := &FetchClient{
		logger:  logger.With("component", "fetch_client"),
		metrics: m,
	}
	c.httpClient = &http.Client{
		Transport:     transport,
		CheckRedirect: c.redirectPolicy(cfg.Upstream.MaxRedirects, cfg.Upstream.BlockPrivateRedirects),
	}
	return c
}

// redirectPolicy follows up to maxRedirects redirects. With screen set, every hop's
// host is canonicalized and checked against the default blocklist, and the hop is
// sent to the canonical host.
func (c *FetchClient) redirectPolicy(maxRedirects int, screen bool) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		if screen {
			host, blocked, err := blocklist.Default.Screen(req.URL.Hostname())
			if err != nil {
				return fmt.Errorf("redirect to %q: %w", req.URL.Host, err)
			}
			if blocked {
				return fmt.Errorf("%w: %s", ErrBlockedRedirect, host)
			}
			if port := req.URL.Port(); port != "" {
				req.URL.Host = net.JoinHostPort(host, port)
			} else if !strings.Contains(host, ":") {
				req.URL.Host = host
			}
		}
		c.logger.Debug("following redirect",
			"to_host", req.URL.Host,
			"hop", len(via),
		)
		return nil
	}
}

// Do executes an HTTP request against the target and returns the raw response.
// The caller is responsible for closing the response body.
func (c *FetchClient) Do(req *http.Request) (*model.FetchResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via FetchResponse
	duration := time.Since(start).Seconds()

	if c.metrics != nil {
		c.metrics.UpstreamDuration.Observe(duration)
	}
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(metrics.StatusClass(resp.StatusCode)).Inc()
	}

	return &model.FetchResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// Get issues a GET to target with the given headers. The provided context
// controls the lifetime of the upstream request, including reading the body.
// The caller is responsible for closing the returned body.
func (c *FetchClient) Get(ctx context.Context, target string, header http.Header) (*model.FetchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	return c.Do(req)
}
