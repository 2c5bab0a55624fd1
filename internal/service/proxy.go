// Package service implements target validation and the fetch pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"chromaaudit-proxy/internal/blocklist"
	"chromaaudit-proxy/internal/client"
	"chromaaudit-proxy/internal/config"
	"chromaaudit-proxy/internal/model"
)

// ProxyService validates targets and fetches them.
type ProxyService struct {
	client  *client.FetchClient
	cfg     *config.Config
	logger  *slog.Logger
	blocked blocklist.Blocklist
}

// NewProxyService creates a ProxyService that rejects targets on the default blocklist.
func NewProxyService(c *client.FetchClient, cfg *config.Config, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client:  c,
		cfg:     cfg,
		logger:  logger.With("component", "proxy_service"),
		blocked: blocklist.Default,
	}
}

// NewProxyServiceForTest creates a ProxyService without a blocklist.
// This is intended only for tests that use httptest servers on localhost.
func NewProxyServiceForTest(c *client.FetchClient, cfg *config.Config, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client: c,
		cfg:    cfg,
		logger: logger.With("component", "proxy_service"),
	}
}

// ParseTarget validates the raw value of the url query parameter. Checks run
// in order: presence, absolute URL syntax, http/https scheme, port range,
// blocklist. The returned URL carries the canonical host, so numeric and
// Unicode spellings are fetched as the address the blocklist judged.
func (s *ProxyService) ParseTarget(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, ErrMissingURL
	}

	u, err := url.Parse(escapeStrayPercents(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("%w: not absolute", ErrInvalidURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	port := u.Port()
	if port != "" {
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return nil, fmt.Errorf("%w: port %s out of range", ErrInvalidURL, port)
		}
	}

	host, blocked, err := s.blocked.Screen(u.Hostname())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if blocked {
		return nil, fmt.Errorf("%w: %s", ErrPrivateURL, host)
	}

	switch {
	case port != "":
		u.Host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		u.Host = "[" + host + "]"
	default:
		u.Host = host
	}
	return u, nil
}

// escapeStrayPercents rewrites a '%' that does not start a two-digit hex
// escape as "%25". Only the part after the authority is touched; a stray '%'
// in the host still fails to parse.
func escapeStrayPercents(raw string) string {
	start := 0
	if i := strings.Index(raw, "://"); i >= 0 {
		start = i + len("://")
	}
	j := strings.IndexAny(raw[start:], "/?#")
	if j < 0 {
		return raw
	}
	start += j
	if !strings.Contains(raw[start:], "%") {
		return raw
	}

	var b strings.Builder
	b.Grow(len(raw) + 8)
	b.WriteString(raw[:start])
	for i := start; i < len(raw); i++ {
		if raw[i] == '%' && (i+2 >= len(raw) || !isHex(raw[i+1]) || !isHex(raw[i+2])) {
			b.WriteString("%25")
			continue
		}
		b.WriteByte(raw[i])
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

// Fetch GETs the target and reads its body. The whole exchange, body
// included, is bounded by the upstream timeout; cancellation of req.Ctx is
// propagated.
func (s *ProxyService) Fetch(req *model.FetchRequest) (*model.FetchResult, error) {
	ctx, cancel := context.WithTimeout(req.Ctx, s.cfg.Upstream.Timeout())
	defer cancel()

	s.logger.Debug("fetching target", "host", req.Target.Host)

	resp, err := s.client.Get(ctx, req.Target.String(), s.outboundHeader())
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	limit := s.cfg.Upstream.MaxBodyBytes
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("read body: %w", err))
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, limit)
	}

	return &model.FetchResult{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// classify turns a transport error into one of the service's error kinds.
// ctx is the per-fetch context carrying the upstream deadline.
func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrUpstreamTimeout, err)
	}
	if errors.Is(err, client.ErrBlockedRedirect) {
		return fmt.Errorf("%w: %w", ErrPrivateURL, err)
	}
	return fmt.Errorf("fetch target: %w", err)
}

// outboundHeader builds the fixed header set sent to every target.
func (s *ProxyService) outboundHeader() http.Header {
	h := make(http.Header, 3)
	h.Set("User-Agent", s.cfg.Upstream.UserAgent)
	h.Set("Accept", s.cfg.Upstream.Accept)
	h.Set("Accept-Language", s.cfg.Upstream.AcceptLanguage)
	return h
}
