// Package handler implements the HTTP endpoints of the proxy.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"chromaaudit-proxy/internal/blocklist"
	"chromaaudit-proxy/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

type statusResponse struct {
	Status                string   `json:"status"`
	Version               string   `json:"version"`
	Timeout               string   `json:"timeout"`
	MaxBodyBytes          int64    `json:"max_body_bytes"`
	MaxRedirects          int      `json:"max_redirects"`
	BlockPrivateRedirects bool     `json:"block_private_redirects"`
	Blocklist             []string `json:"blocklist"`
	CacheControl          string   `json:"cache_control"`
}

// Healthz returns a simple OK response for liveness checks.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports the version and the fetch limits currently in force.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:                "ok",
		Version:               string(h.version),
		Timeout:               h.cfg.Upstream.Timeout().String(),
		MaxBodyBytes:          h.cfg.Upstream.MaxBodyBytes,
		MaxRedirects:          h.cfg.Upstream.MaxRedirects,
		BlockPrivateRedirects: h.cfg.Upstream.BlockPrivateRedirects,
		Blocklist:             blocklist.Default,
		CacheControl:          h.cfg.Response.CacheControl(),
	})
}
