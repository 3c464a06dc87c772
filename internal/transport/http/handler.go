package http

import (
	"context"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/gateway/internal/domain"
	"github.com/xiaot623/gogo/gateway/internal/repository"
	"github.com/xiaot623/gogo/gateway/internal/session"
)

// Chat runs the synchronous message pipeline.
type Chat interface {
	ProcessMessage(ctx context.Context, in domain.IncomingMessage) (domain.Reply, bool)
}

// Commands is the command and admin surface.
type Commands interface {
	Handle(ctx context.Context, in domain.IncomingMessage) (string, bool)
	Reset(ctx context.Context, chatID int64) error
	GetSystemPrompt(ctx context.Context, userID int64) (string, error)
	SetSystemPrompt(ctx context.Context, userID int64, prompt string) (*domain.SystemPrompt, error)
	RateLimitUsage(ctx context.Context, adminID, userID int64) (user, global int, err error)
	ResetRateLimit(ctx context.Context, adminID, userID int64) error
}

// Tools lists what the model may call.
type Tools interface {
	ListSchemas() []domain.ToolSchema
	Plugins() []domain.PluginInfo
}

// ModelHealth reports model backend state.
type ModelHealth interface {
	HealthCheck(ctx context.Context) bool
	BreakerState() string
}

// ConnStats reports live WebSocket occupancy.
type ConnStats interface {
	Stats() (connections, chats int)
}

// Handler handles HTTP requests.
type Handler struct {
	chat     Chat
	commands Commands
	sessions *session.Manager
	store    store.Store
	tools    Tools
	model    ModelHealth
	conns    ConnStats
	adminKey string
	log      logr.Logger
}

// NewHandler creates a new handler. conns may be nil.
func NewHandler(chat Chat, commands Commands, sessions *session.Manager, st store.Store, tools Tools, model ModelHealth, conns ConnStats, log logr.Logger) *Handler {
	return &Handler{
		chat:     chat,
		commands: commands,
		sessions: sessions,
		store:    st,
		tools:    tools,
		model:    model,
		conns:    conns,
		log:      log.WithName("http"),
	}
}

// SetAdminKey sets the bearer key required on /v1/admin routes.
// With no key set every admin request is rejected.
func (h *Handler) SetAdminKey(key string) {
	h.adminKey = key
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/chats/:chat_id/messages", h.PostMessage)
	e.GET("/v1/chats/:chat_id/turns", h.GetTurns)
	e.GET("/v1/chats/:chat_id/tool_executions", h.GetToolExecutions)
	e.POST("/v1/chats/:chat_id/reset", h.ResetChat)
	e.PUT("/v1/chats/:chat_id/active_tools", h.PutActiveTools)

	admin := e.Group("/v1/admin", h.adminAuth())
	admin.GET("/system_prompt", h.GetSystemPrompt)
	admin.PUT("/system_prompt", h.PutSystemPrompt)
	admin.GET("/rate_limits/:user_id", h.GetRateLimit)
	admin.DELETE("/rate_limits/:user_id", h.ResetRateLimit)

	e.GET("/v1/tools", h.ListTools)
	e.GET("/health", h.Health)
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

func chatIDParam(c echo.Context) (int64, error) {
	return strconv.ParseInt(c.Param("chat_id"), 10, 64)
}

func limitParam(c echo.Context, def, max int) int {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
