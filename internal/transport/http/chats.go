package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/gateway/internal/domain"
)

// PostMessageRequest is the body of POST /v1/chats/:chat_id/messages.
type PostMessageRequest struct {
	RequestID string `json:"request_id,omitempty"`
	UserID    int64  `json:"user_id"`
	Text      string `json:"text"`
	IsGroup   bool   `json:"is_group,omitempty"`
	Addressed bool   `json:"addressed,omitempty"`
}

// PostMessage runs one message through commands or the pipeline and returns the reply.
// Group messages that are not addressed to the assistant get 204.
// POST /v1/chats/:chat_id/messages
func (h *Handler) PostMessage(c echo.Context) error {
	ctx := c.Request().Context()
	chatID, err := chatIDParam(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid chat_id")
	}

	var req PostMessageRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == 0 {
		return errorJSON(c, http.StatusBadRequest, "user_id is required")
	}
	if strings.TrimSpace(req.Text) == "" {
		return errorJSON(c, http.StatusBadRequest, "text is required")
	}

	in := domain.IncomingMessage{
		RequestID: req.RequestID,
		ChatID:    chatID,
		UserID:    req.UserID,
		Text:      req.Text,
		IsGroup:   req.IsGroup,
		Addressed: req.Addressed,
	}

	if reply, handled := h.commands.Handle(ctx, in); handled {
		return c.JSON(http.StatusOK, domain.Reply{ChatID: chatID, Text: reply, Kind: domain.ReplyKindDirect})
	}

	reply, ok := h.chat.ProcessMessage(ctx, in)
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, reply)
}

// GetTurns returns the newest turns of a chat, oldest first.
// GET /v1/chats/:chat_id/turns
func (h *Handler) GetTurns(c echo.Context) error {
	ctx := c.Request().Context()
	chatID, err := chatIDParam(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid chat_id")
	}

	sess, err := h.sessions.SessionForChat(ctx, chatID)
	if errors.Is(err, domain.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, "chat not found")
	}
	if err != nil {
		h.log.Error(err, "failed to get session", "chat_id", chatID)
		return errorJSON(c, http.StatusInternalServerError, "failed to get session")
	}

	turns, err := h.sessions.History(ctx, sess.SessionID, limitParam(c, 50, 200))
	if err != nil {
		h.log.Error(err, "failed to get turns", "chat_id", chatID)
		return errorJSON(c, http.StatusInternalServerError, "failed to get turns")
	}
	if turns == nil {
		turns = []domain.Turn{}
	}
	total, err := h.sessions.TurnCount(ctx, sess.SessionID)
	if err != nil {
		h.log.Error(err, "failed to count turns", "chat_id", chatID)
		return errorJSON(c, http.StatusInternalServerError, "failed to count turns")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": sess.SessionID,
		"turns":      turns,
		"total":      total,
		"has_more":   total > len(turns),
	})
}

// GetToolExecutions returns the tool audit log of a chat, newest first.
// GET /v1/chats/:chat_id/tool_executions
func (h *Handler) GetToolExecutions(c echo.Context) error {
	ctx := c.Request().Context()
	chatID, err := chatIDParam(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid chat_id")
	}

	sess, err := h.sessions.SessionForChat(ctx, chatID)
	if errors.Is(err, domain.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, "chat not found")
	}
	if err != nil {
		h.log.Error(err, "failed to get session", "chat_id", chatID)
		return errorJSON(c, http.StatusInternalServerError, "failed to get session")
	}

	execs, err := h.store.ListToolExecutions(ctx, sess.SessionID, limitParam(c, 50, 200))
	if err != nil {
		h.log.Error(err, "failed to list tool executions", "chat_id", chatID)
		return errorJSON(c, http.StatusInternalServerError, "failed to list tool executions")
	}
	if execs == nil {
		execs = []domain.ToolExecution{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"executions": execs,
	})
}

// ResetChat clears the chat history.
// POST /v1/chats/:chat_id/reset
func (h *Handler) ResetChat(c echo.Context) error {
	chatID, err := chatIDParam(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid chat_id")
	}
	if err := h.commands.Reset(c.Request().Context(), chatID); err != nil {
		h.log.Error(err, "failed to reset chat", "chat_id", chatID)
		return errorJSON(c, http.StatusInternalServerError, "failed to reset chat")
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// ActiveToolsRequest is the body of PUT /v1/chats/:chat_id/active_tools.
type ActiveToolsRequest struct {
	Tools []string `json:"tools"`
}

// PutActiveTools records the chat's preferred tools. Unknown names are rejected.
// PUT /v1/chats/:chat_id/active_tools
func (h *Handler) PutActiveTools(c echo.Context) error {
	ctx := c.Request().Context()
	chatID, err := chatIDParam(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid chat_id")
	}
	var req ActiveToolsRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	known := make(map[string]bool)
	for _, s := range h.tools.ListSchemas() {
		known[s.Function.Name] = true
	}
	for _, name := range req.Tools {
		if !known[name] {
			return errorJSON(c, http.StatusBadRequest, "unknown tool: "+name)
		}
	}

	sess, err := h.sessions.GetOrCreateSession(ctx, chatID)
	if err != nil {
		h.log.Error(err, "failed to get session", "chat_id", chatID)
		return errorJSON(c, http.StatusInternalServerError, "failed to get session")
	}
	sess, err = h.sessions.SetActiveTools(ctx, sess.SessionID, req.Tools)
	if err != nil {
		h.log.Error(err, "failed to set active tools", "chat_id", chatID)
		return errorJSON(c, http.StatusInternalServerError, "failed to set active tools")
	}
	return c.JSON(http.StatusOK, sess)
}
