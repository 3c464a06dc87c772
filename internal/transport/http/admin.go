package http

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/gogo/gateway/internal/domain"
)

// UserIDHeader identifies the caller of admin endpoints. The caller must also
// present the admin key as "Authorization: Bearer <key>".
const UserIDHeader = "X-User-ID"

func (h *Handler) adminAuth() echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(key string, c echo.Context) (bool, error) {
			if h.adminKey == "" {
				return false, nil
			}
			return subtle.ConstantTimeCompare([]byte(key), []byte(h.adminKey)) == 1, nil
		},
		ErrorHandler: func(err error, c echo.Context) error {
			h.log.V(1).Info("admin request rejected", "path", c.Path(), "reason", err.Error())
			return errorJSON(c, http.StatusUnauthorized, "invalid or missing admin key")
		},
	})
}

func callerID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Request().Header.Get(UserIDHeader), 10, 64)
	return id, err == nil && id != 0
}

// GetSystemPrompt returns the effective persona prompt.
// GET /v1/admin/system_prompt
func (h *Handler) GetSystemPrompt(c echo.Context) error {
	userID, ok := callerID(c)
	if !ok {
		return errorJSON(c, http.StatusUnauthorized, UserIDHeader+" header is required")
	}
	prompt, err := h.commands.GetSystemPrompt(c.Request().Context(), userID)
	if errors.Is(err, domain.ErrForbidden) {
		return errorJSON(c, http.StatusForbidden, err.Error())
	}
	if err != nil {
		h.log.Error(err, "failed to get system prompt")
		return errorJSON(c, http.StatusInternalServerError, "failed to get system prompt")
	}
	return c.JSON(http.StatusOK, map[string]string{"prompt": prompt})
}

// SystemPromptRequest is the body of PUT /v1/admin/system_prompt.
type SystemPromptRequest struct {
	Prompt string `json:"prompt"`
}

// PutSystemPrompt replaces the active system prompt.
// PUT /v1/admin/system_prompt
func (h *Handler) PutSystemPrompt(c echo.Context) error {
	userID, ok := callerID(c)
	if !ok {
		return errorJSON(c, http.StatusUnauthorized, UserIDHeader+" header is required")
	}
	var req SystemPromptRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	sp, err := h.commands.SetSystemPrompt(c.Request().Context(), userID, req.Prompt)
	switch {
	case errors.Is(err, domain.ErrForbidden):
		return errorJSON(c, http.StatusForbidden, err.Error())
	case err == nil:
		return c.JSON(http.StatusOK, sp)
	case strings.TrimSpace(req.Prompt) == "":
		return errorJSON(c, http.StatusBadRequest, "prompt is required")
	default:
		h.log.Error(err, "failed to set system prompt", "user_id", userID)
		return errorJSON(c, http.StatusInternalServerError, "failed to set system prompt")
	}
}

// GetRateLimit returns a user's request counts.
// GET /v1/admin/rate_limits/:user_id
func (h *Handler) GetRateLimit(c echo.Context) error {
	adminID, ok := callerID(c)
	if !ok {
		return errorJSON(c, http.StatusUnauthorized, UserIDHeader+" header is required")
	}
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid user_id")
	}

	user, global, err := h.commands.RateLimitUsage(c.Request().Context(), adminID, userID)
	if errors.Is(err, domain.ErrForbidden) {
		return errorJSON(c, http.StatusForbidden, err.Error())
	}
	if err != nil {
		h.log.Error(err, "failed to read rate limit usage", "user_id", userID)
		return errorJSON(c, http.StatusServiceUnavailable, "rate limit store unavailable")
	}
	return c.JSON(http.StatusOK, map[string]int64{
		"user_id": userID,
		"user":    int64(user),
		"global":  int64(global),
	})
}

// ResetRateLimit clears a user's request counter.
// DELETE /v1/admin/rate_limits/:user_id
func (h *Handler) ResetRateLimit(c echo.Context) error {
	adminID, ok := callerID(c)
	if !ok {
		return errorJSON(c, http.StatusUnauthorized, UserIDHeader+" header is required")
	}
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid user_id")
	}

	err = h.commands.ResetRateLimit(c.Request().Context(), adminID, userID)
	if errors.Is(err, domain.ErrForbidden) {
		return errorJSON(c, http.StatusForbidden, err.Error())
	}
	if err != nil {
		h.log.Error(err, "failed to reset rate limit", "user_id", userID)
		return errorJSON(c, http.StatusServiceUnavailable, "rate limit store unavailable")
	}
	return c.NoContent(http.StatusNoContent)
}
