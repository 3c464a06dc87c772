package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/gateway/internal/domain"
	"github.com/xiaot623/gogo/gateway/internal/repository"
	"github.com/xiaot623/gogo/gateway/internal/session"
	"github.com/xiaot623/gogo/gateway/tests/helpers"
)

type fakeChat struct {
	last domain.IncomingMessage
}

func (f *fakeChat) ProcessMessage(ctx context.Context, in domain.IncomingMessage) (domain.Reply, bool) {
	f.last = in
	if in.IsGroup && !in.Addressed {
		return domain.Reply{}, false
	}
	return domain.Reply{ChatID: in.ChatID, Text: "answer to " + in.Text, Kind: domain.ReplyKindDirect}, true
}

type fakeCommands struct {
	reset  []int64
	prompt string
	usage  map[int64]int
}

func (f *fakeCommands) Handle(ctx context.Context, in domain.IncomingMessage) (string, bool) {
	if in.Text == "/start" {
		return "welcome", true
	}
	return "", false
}

func (f *fakeCommands) Reset(ctx context.Context, chatID int64) error {
	f.reset = append(f.reset, chatID)
	return nil
}

func (f *fakeCommands) GetSystemPrompt(ctx context.Context, userID int64) (string, error) {
	if userID != 1 {
		return "", domain.ErrForbidden
	}
	return f.prompt, nil
}

func (f *fakeCommands) SetSystemPrompt(ctx context.Context, userID int64, prompt string) (*domain.SystemPrompt, error) {
	if userID != 1 {
		return nil, domain.ErrForbidden
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.New("prompt must not be empty")
	}
	f.prompt = prompt
	return &domain.SystemPrompt{ID: 1, Prompt: prompt, SetBy: userID, Active: true}, nil
}

func (f *fakeCommands) RateLimitUsage(ctx context.Context, adminID, userID int64) (int, int, error) {
	if adminID != 1 {
		return 0, 0, domain.ErrForbidden
	}
	return f.usage[userID], 10, nil
}

func (f *fakeCommands) ResetRateLimit(ctx context.Context, adminID, userID int64) error {
	if adminID != 1 {
		return domain.ErrForbidden
	}
	delete(f.usage, userID)
	return nil
}

type fakeTools struct{}

func (fakeTools) ListSchemas() []domain.ToolSchema {
	return []domain.ToolSchema{{Type: "function", Function: domain.ToolFunction{Name: "web_search"}}}
}

func (fakeTools) Plugins() []domain.PluginInfo {
	return []domain.PluginInfo{{Name: "web", Enabled: true, Tools: []string{"web_search"}}}
}

type fakeModel struct{ up bool }

func (f fakeModel) HealthCheck(ctx context.Context) bool { return f.up }
func (f fakeModel) BreakerState() string                 { return "closed" }

type fakeConns struct{}

func (fakeConns) Stats() (int, int) { return 3, 2 }

type testEnv struct {
	h        *Handler
	store    *store.SQLiteStore
	chat     *fakeChat
	commands *fakeCommands
}

func newTestEnv(t *testing.T, modelUp bool) *testEnv {
	t.Helper()
	st := helpers.NewTestSQLiteStore(t)
	env := &testEnv{store: st, chat: &fakeChat{}, commands: &fakeCommands{usage: map[int64]int{9: 4}}}
	env.h = NewHandler(env.chat, env.commands, session.NewManager(st, 10, testr.New(t)), st, fakeTools{}, fakeModel{up: modelUp}, fakeConns{}, testr.New(t))
	return env
}

func doRequest(t *testing.T, handler echo.HandlerFunc, method, target, body string, params map[string]string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	for k, v := range params {
		c.SetParamNames(k)
		c.SetParamValues(v)
	}
	require.NoError(t, handler(c))
	return rec
}

func TestPostMessage(t *testing.T) {
	env := newTestEnv(t, true)
	params := map[string]string{"chat_id": "42"}

	rec := doRequest(t, env.h.PostMessage, http.MethodPost, "/v1/chats/42/messages", `{"user_id":7,"text":"hello"}`, params, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var reply domain.Reply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "answer to hello", reply.Text)
	assert.Equal(t, int64(42), env.chat.last.ChatID)
	assert.Equal(t, int64(7), env.chat.last.UserID)

	rec = doRequest(t, env.h.PostMessage, http.MethodPost, "/v1/chats/42/messages", `{"user_id":7,"text":"/start"}`, params, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "welcome", reply.Text)

	rec = doRequest(t, env.h.PostMessage, http.MethodPost, "/v1/chats/42/messages", `{"user_id":7,"text":"chatter","is_group":true}`, params, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestPostMessageValidation(t *testing.T) {
	env := newTestEnv(t, true)

	tests := []struct {
		name   string
		chatID string
		body   string
	}{
		{"bad chat id", "abc", `{"user_id":7,"text":"hi"}`},
		{"missing user", "1", `{"text":"hi"}`},
		{"blank text", "1", `{"user_id":7,"text":"  "}`},
		{"broken body", "1", `{"user_id":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, env.h.PostMessage, http.MethodPost, "/v1/chats/"+tt.chatID+"/messages", tt.body, map[string]string{"chat_id": tt.chatID}, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetTurns(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := t.Context()

	rec := doRequest(t, env.h.GetTurns, http.MethodGet, "/v1/chats/9/turns", "", map[string]string{"chat_id": "9"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	sess, err := env.store.GetOrCreateSession(ctx, 9)
	require.NoError(t, err)
	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, env.store.AppendTurn(ctx, &domain.Turn{SessionID: sess.SessionID, Role: domain.RoleUser, Content: text}))
	}

	rec = doRequest(t, env.h.GetTurns, http.MethodGet, "/v1/chats/9/turns?limit=2", "", map[string]string{"chat_id": "9"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Turns   []domain.Turn `json:"turns"`
		Total   int           `json:"total"`
		HasMore bool          `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Turns, 2)
	assert.Equal(t, 3, resp.Total)
	assert.True(t, resp.HasMore)
	assert.Equal(t, "two", resp.Turns[0].Content)
	assert.Equal(t, "three", resp.Turns[1].Content)
}

func TestGetToolExecutions(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := t.Context()

	sess, err := env.store.GetOrCreateSession(ctx, 9)
	require.NoError(t, err)
	require.NoError(t, env.store.CreateToolExecution(ctx, &domain.ToolExecution{
		ExecutionID: "exec-1",
		SessionID:   sess.SessionID,
		ToolName:    "web_search",
		Status:      domain.ToolStatusSucceeded,
	}))

	rec := doRequest(t, env.h.GetToolExecutions, http.MethodGet, "/v1/chats/9/tool_executions", "", map[string]string{"chat_id": "9"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Executions []domain.ToolExecution `json:"executions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Executions, 1)
	assert.Equal(t, "web_search", resp.Executions[0].ToolName)
}

func TestResetChat(t *testing.T) {
	env := newTestEnv(t, true)

	rec := doRequest(t, env.h.ResetChat, http.MethodPost, "/v1/chats/5/reset", "", map[string]string{"chat_id": "5"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{5}, env.commands.reset)
}

func TestSystemPromptEndpoints(t *testing.T) {
	env := newTestEnv(t, true)
	admin := map[string]string{UserIDHeader: "1"}
	user := map[string]string{UserIDHeader: "2"}

	rec := doRequest(t, env.h.GetSystemPrompt, http.MethodGet, "/v1/admin/system_prompt", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, env.h.GetSystemPrompt, http.MethodGet, "/v1/admin/system_prompt", "", nil, user)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, env.h.PutSystemPrompt, http.MethodPut, "/v1/admin/system_prompt", `{"prompt":"be brief"}`, nil, user)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, env.h.PutSystemPrompt, http.MethodPut, "/v1/admin/system_prompt", `{"prompt":" "}`, nil, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, env.h.PutSystemPrompt, http.MethodPut, "/v1/admin/system_prompt", `{"prompt":"be brief"}`, nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, env.h.GetSystemPrompt, http.MethodGet, "/v1/admin/system_prompt", "", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"prompt":"be brief"}`, rec.Body.String())
}

func TestListToolsAndHealth(t *testing.T) {
	env := newTestEnv(t, false)

	rec := doRequest(t, env.h.ListTools, http.MethodGet, "/v1/tools", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"web_search"`)

	rec = doRequest(t, env.h.Health, http.MethodGet, "/health", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp["status"])
	assert.EqualValues(t, 3, resp["connections"])
	model := resp["model"].(map[string]any)
	assert.Equal(t, false, model["reachable"])
	assert.Equal(t, "closed", model["breaker"])
}

func TestRateLimitEndpoints(t *testing.T) {
	env := newTestEnv(t, true)
	admin := map[string]string{UserIDHeader: "1"}
	params := map[string]string{"user_id": "9"}

	rec := doRequest(t, env.h.GetRateLimit, http.MethodGet, "/v1/admin/rate_limits/9", "", params, map[string]string{UserIDHeader: "2"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, env.h.GetRateLimit, http.MethodGet, "/v1/admin/rate_limits/x", "", map[string]string{"user_id": "x"}, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, env.h.GetRateLimit, http.MethodGet, "/v1/admin/rate_limits/9", "", params, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_id":9,"user":4,"global":10}`, rec.Body.String())

	rec = doRequest(t, env.h.ResetRateLimit, http.MethodDelete, "/v1/admin/rate_limits/9", "", params, admin)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotContains(t, env.commands.usage, int64(9))
}

func TestPutActiveTools(t *testing.T) {
	env := newTestEnv(t, true)
	params := map[string]string{"chat_id": "12"}

	rec := doRequest(t, env.h.PutActiveTools, http.MethodPut, "/v1/chats/12/active_tools", `{"tools":["rm_rf"]}`, params, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, env.h.PutActiveTools, http.MethodPut, "/v1/chats/12/active_tools", `{"tools":["web_search"]}`, params, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sess domain.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, int64(12), sess.ChatID)
	assert.Equal(t, []string{"web_search"}, sess.ActiveTools)
}

func TestAdminRoutesRequireKey(t *testing.T) {
	env := newTestEnv(t, true)
	env.commands.prompt = "be kind"
	e := echo.New()
	env.h.SetAdminKey("adm1n")
	env.h.RegisterRoutes(e)

	serve := func(method, target, auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, nil)
		req.Header.Set(UserIDHeader, "1")
		if auth != "" {
			req.Header.Set(echo.HeaderAuthorization, auth)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, serve(http.MethodGet, "/v1/admin/system_prompt", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(http.MethodGet, "/v1/admin/system_prompt", "Bearer wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(http.MethodDelete, "/v1/admin/rate_limits/9", "Bearer wrong").Code)
	assert.Contains(t, env.commands.usage, int64(9))

	rec := serve(http.MethodGet, "/v1/admin/system_prompt", "Bearer adm1n")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "be kind")

	rec = serve(http.MethodDelete, "/v1/admin/rate_limits/9", "Bearer adm1n")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotContains(t, env.commands.usage, int64(9))

	// Public routes stay open.
	assert.Equal(t, http.StatusOK, serve(http.MethodGet, "/v1/tools", "").Code)
}

func TestAdminRoutesClosedWithoutKey(t *testing.T) {
	env := newTestEnv(t, true)
	e := echo.New()
	env.h.RegisterRoutes(e)

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/system_prompt", nil)
	req.Header.Set(UserIDHeader, "1")
	req.Header.Set(echo.HeaderAuthorization, "Bearer ")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
