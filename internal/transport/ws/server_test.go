package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/gateway/internal/domain"
)

type echoProcessor struct {
	mu     sync.Mutex
	server *Server
	seen   []domain.IncomingMessage
}

func (p *echoProcessor) HandleIncomingMessage(ctx context.Context, in domain.IncomingMessage) {
	p.mu.Lock()
	p.seen = append(p.seen, in)
	p.mu.Unlock()
	_ = p.server.SendReply(ctx, domain.Reply{ChatID: in.ChatID, Text: "**echo:** " + in.Text, Kind: domain.ReplyKindDirect})
}

func (p *echoProcessor) messages() []domain.IncomingMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.IncomingMessage(nil), p.seen...)
}

type pingCommands struct{}

func (pingCommands) Handle(ctx context.Context, in domain.IncomingMessage) (string, bool) {
	if in.Text == "/ping" {
		return "pong", true
	}
	return "", false
}

func newTestServer(t *testing.T, apiKey string) (*httptest.Server, *echoProcessor) {
	t.Helper()
	return newTestServerWithOptions(t, Options{APIKey: apiKey, ProcessingTimeout: 5 * time.Second})
}

func newTestServerWithOptions(t *testing.T, opts Options) (*httptest.Server, *echoProcessor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(testr.New(t))
	go hub.Run(ctx)

	proc := &echoProcessor{}
	srv := NewServer(opts, hub, nil, pingCommands{}, testr.New(t))
	proc.server = srv
	srv.SetProcessor(proc)

	e := echo.New()
	e.GET("/ws", srv.HandleWebSocket)
	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)
	return ts, proc
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func receive(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func hello(chatID, userID int64, format string) map[string]any {
	return map[string]any{"type": TypeHello, "chat_id": chatID, "user_id": userID, "format": format}
}

func TestHelloAndReply(t *testing.T) {
	ts, proc := newTestServer(t, "")
	conn := dial(t, ts)

	send(t, conn, hello(0, 42, ""))
	ack := receive(t, conn)
	assert.Equal(t, TypeHelloAck, ack["type"])
	assert.EqualValues(t, 42, ack["chat_id"], "private chat defaults to the user id")
	assert.Equal(t, "markdown", ack["format"])

	send(t, conn, map[string]any{"type": TypeMessage, "request_id": "r1", "text": "hi"})
	reply := receive(t, conn)
	assert.Equal(t, TypeReply, reply["type"])
	assert.Equal(t, "**echo:** hi", reply["text"])

	msgs := proc.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "r1", msgs[0].RequestID)
	assert.Equal(t, int64(42), msgs[0].UserID)
	assert.Equal(t, int64(42), msgs[0].ChatID)
}

func TestReplyBroadcastPerFormat(t *testing.T) {
	ts, _ := newTestServer(t, "")
	a := dial(t, ts)
	b := dial(t, ts)

	send(t, a, hello(-100, 1, "markdown"))
	receive(t, a)
	send(t, b, hello(-100, 2, "plain"))
	receive(t, b)

	send(t, a, map[string]any{"type": TypeMessage, "text": "hey bot", "is_group": true, "addressed": true})

	assert.Equal(t, "**echo:** hey bot", receive(t, a)["text"])
	assert.Equal(t, "echo: hey bot", receive(t, b)["text"])
}

func TestCommandHandledWithoutPipeline(t *testing.T) {
	ts, proc := newTestServer(t, "")
	conn := dial(t, ts)

	send(t, conn, hello(5, 5, ""))
	receive(t, conn)
	send(t, conn, map[string]any{"type": TypeMessage, "text": "/ping"})

	assert.Equal(t, "pong", receive(t, conn)["text"])
	assert.Empty(t, proc.messages())
}

func TestProtocolErrors(t *testing.T) {
	ts, _ := newTestServer(t, "secret")
	conn := dial(t, ts)

	send(t, conn, map[string]any{"type": TypeMessage, "text": "too early"})
	assert.Equal(t, ErrorCodeSessionRequired, receive(t, conn)["code"])

	msg := hello(1, 1, "")
	msg["api_key"] = "wrong"
	send(t, conn, msg)
	assert.Equal(t, ErrorCodeUnauthorized, receive(t, conn)["code"])

	send(t, conn, map[string]any{"type": "bogus"})
	assert.Equal(t, ErrorCodeInvalidMessage, receive(t, conn)["code"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, ErrorCodeInvalidMessage, receive(t, conn)["code"])

	msg["api_key"] = "secret"
	send(t, conn, msg)
	assert.Equal(t, TypeHelloAck, receive(t, conn)["type"])

	send(t, conn, map[string]any{"type": TypeMessage, "text": "  "})
	assert.Equal(t, ErrorCodeInvalidMessage, receive(t, conn)["code"])
}

func TestGroupMentionMarksAddressed(t *testing.T) {
	ts, proc := newTestServerWithOptions(t, Options{ProcessingTimeout: 5 * time.Second, BotUsername: "gateway_bot", BotName: "Gogo"})
	conn := dial(t, ts)
	send(t, conn, hello(-200, 5, "plain"))
	receive(t, conn)

	send(t, conn, map[string]any{"type": TypeMessage, "request_id": "m1", "text": "hey @Gateway_Bot what's up", "is_group": true})
	assert.Equal(t, "echo: hey what's up", receive(t, conn)["text"])

	send(t, conn, map[string]any{"type": TypeMessage, "request_id": "m2", "text": "gogo, weather?", "is_group": true})
	assert.Equal(t, "echo: weather?", receive(t, conn)["text"])

	msgs := proc.messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].Addressed)
	assert.Equal(t, "hey what's up", msgs[0].Text)
	assert.True(t, msgs[1].Addressed)
}
