package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const version = "0.1.0"

// ListTools returns tool schemas and plugin metadata.
// GET /v1/tools
func (h *Handler) ListTools(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"tools":   h.tools.ListSchemas(),
		"plugins": h.tools.Plugins(),
	})
}

// Health reports liveness with the model backend probe. An unreachable
// model yields "degraded" with status 200.
// GET /health
func (h *Handler) Health(c echo.Context) error {
	started := time.Now()
	modelOK := h.model.HealthCheck(c.Request().Context())

	status := "healthy"
	if !modelOK {
		status = "degraded"
	}
	resp := map[string]interface{}{
		"status":  status,
		"version": version,
		"model": map[string]interface{}{
			"reachable":  modelOK,
			"breaker":    h.model.BreakerState(),
			"latency_ms": time.Since(started).Milliseconds(),
		},
	}
	if h.conns != nil {
		conns, chats := h.conns.Stats()
		resp["connections"] = conns
		resp["chats"] = chats
	}
	return c.JSON(http.StatusOK, resp)
}
