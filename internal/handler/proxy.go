package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"chromaaudit-proxy/internal/config"
	"chromaaudit-proxy/internal/metrics"
	"chromaaudit-proxy/internal/model"
	"chromaaudit-proxy/internal/service"
)

const contentTypeText = "text/plain; charset=utf-8"

// ProxyHandler fetches the target named by the url query parameter and
// returns its body as plain text.
type ProxyHandler struct {
	service *service.ProxyService
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		cfg:     cfg,
		logger:  logger.With("component", "proxy_handler"),
		metrics: m,
	}
}

// Handle validates the request, fetches the target and relays its body.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	if req.Method != http.MethodGet {
		h.countRejection("method_not_allowed")
		c.Response().Header().Set(echo.HeaderAllow, http.MethodGet)
		return c.String(http.StatusMethodNotAllowed, "Method not allowed")
	}

	target, err := h.service.ParseTarget(c.QueryParam("url"))
	if err != nil {
		return h.mapError(c, err)
	}

	res, err := h.service.Fetch(&model.FetchRequest{
		Ctx:    req.Context(),
		Target: target,
	})
	if err != nil {
		return h.mapError(c, err)
	}

	h.logger.Debug("fetched target",
		"host", target.Host,
		"bytes", len(res.Body),
		"upstream_content_type", res.ContentType,
	)

	header := c.Response().Header()
	header.Set(echo.HeaderAccessControlAllowOrigin, "*")
	header.Set("Cache-Control", h.cfg.Response.CacheControl())
	return c.Blob(http.StatusOK, contentTypeText, res.Body)
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	var statusErr *service.StatusError

	switch {
	case errors.Is(err, service.ErrMissingURL):
		return h.fail(c, err, http.StatusBadRequest, "missing_url", "Missing ?url= parameter")
	case errors.Is(err, service.ErrInvalidURL):
		return h.fail(c, err, http.StatusBadRequest, "invalid_url", "Invalid URL")
	case errors.Is(err, service.ErrUnsupportedScheme):
		return h.fail(c, err, http.StatusBadRequest, "unsupported_scheme", "Only http/https allowed")
	case errors.Is(err, service.ErrPrivateURL):
		return h.fail(c, err, http.StatusForbidden, "private_url", "Private/local URLs not allowed")
	case errors.Is(err, service.ErrUpstreamTimeout):
		return h.fail(c, err, http.StatusBadGateway, "upstream_timeout",
			fmt.Sprintf("Request timed out (%ds)", h.cfg.Upstream.TimeoutSeconds))
	case errors.As(err, &statusErr):
		return h.fail(c, err, http.StatusBadGateway, "upstream_status",
			fmt.Sprintf("Target returned HTTP %d", statusErr.StatusCode))
	case errors.Is(err, service.ErrBodyTooLarge):
		return h.fail(c, err, http.StatusBadGateway, "upstream_too_large",
			fmt.Sprintf("Target response exceeds %d bytes", h.cfg.Upstream.MaxBodyBytes))
	}

	return h.fail(c, err, http.StatusBadGateway, "upstream_transport", transportMessage(err))
}

// fail logs and counts a rejection, then writes the JSON error body.
func (h *ProxyHandler) fail(c echo.Context, err error, status int, reason, message string) error {
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(c.Request().Context(), level, "proxy rejected",
		"reason", reason,
		"status", status,
		"err", err.Error(),
	)
	h.countRejection(reason)

	return c.JSON(status, map[string]string{"error": message})
}

func (h *ProxyHandler) countRejection(reason string) {
	if h.metrics != nil {
		h.metrics.Rejections.WithLabelValues(reason).Inc()
	}
}

// transportMessage extracts the underlying failure description from a
// transport error, without the wrapping added along the way.
func transportMessage(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err.Error()
	}
	for inner := errors.Unwrap(err); inner != nil; inner = errors.Unwrap(inner) {
		err = inner
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Fetch failed"
}
