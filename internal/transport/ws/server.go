// Package ws serves the WebSocket chat transport.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/gateway/internal/domain"
	"github.com/xiaot623/gogo/gateway/internal/format"
	"github.com/xiaot623/gogo/gateway/pkg/logger"
)

// Processor runs the message pipeline and delivers replies asynchronously.
type Processor interface {
	HandleIncomingMessage(ctx context.Context, in domain.IncomingMessage)
}

// CommandHandler answers slash commands. handled is false for ordinary text.
type CommandHandler interface {
	Handle(ctx context.Context, in domain.IncomingMessage) (reply string, handled bool)
}

// Options configures connection handling.
type Options struct {
	APIKey            string
	PingInterval      time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	MaxMessageSize    int64
	ProcessingTimeout time.Duration
	// BotUsername and BotName let the server mark group messages that
	// mention the bot as addressed.
	BotUsername string
	BotName     string
}

// Server handles WebSocket connections.
type Server struct {
	opts      Options
	address   addressing
	hub       *Hub
	processor Processor
	commands  CommandHandler
	upgrader  websocket.Upgrader
	log       logr.Logger
}

// NewServer creates a WebSocket server.
func NewServer(opts Options, h *Hub, processor Processor, commands CommandHandler, log logr.Logger) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	if opts.ProcessingTimeout <= 0 {
		opts.ProcessingTimeout = 2 * time.Minute
	}
	return &Server{
		opts:      opts,
		address:   newAddressing(opts.BotUsername, opts.BotName),
		hub:       h,
		processor: processor,
		commands:  commands,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.WithName("ws"),
	}
}

// SetProcessor sets the pipeline. It must be called before serving.
func (s *Server) SetProcessor(p Processor) {
	s.processor = p
}

// HandleWebSocket upgrades the request and starts the connection pumps.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Error(err, "failed to upgrade websocket")
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)

	if s.opts.MaxMessageSize > 0 {
		ws.SetReadLimit(s.opts.MaxMessageSize)
	}

	go s.writePump(conn)
	go s.readPump(conn)
	return nil
}

// SendReply delivers a pipeline reply to every connection bound to the chat,
// rendered in each connection's format.
func (s *Server) SendReply(ctx context.Context, reply domain.Reply) error {
	if !s.hub.HasConnections(reply.ChatID) {
		logger.FromContext(ctx).V(1).Info("no connections for reply", "chat_id", reply.ChatID)
		return nil
	}
	now := time.Now().UnixMilli()
	s.hub.Broadcast(reply.ChatID, func(conn *Connection) ([]byte, error) {
		_, _, f := conn.Identity()
		return json.Marshal(ReplyMessage{
			BaseMessage: BaseMessage{Type: TypeReply, Ts: now, ChatID: reply.ChatID},
			Text:        format.Apply(f, reply.Text),
			Kind:        string(reply.Kind),
			ToolCalled:  reply.ToolCalled,
			Tools:       reply.ToolNames,
		})
	})
	return nil
}

func (s *Server) readPump(conn *Connection) {
	defer func() {
		s.hub.Unregister(conn)
		_ = conn.Close()
	}()

	_ = conn.Conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.Conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Error(err, "websocket read failed", "conn_id", conn.ID)
			}
			return
		}
		s.handleMessage(conn, message)
	}
}

func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			writeDeadline(conn, s.opts.WriteTimeout)
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.log.Error(err, "failed to write message", "conn_id", conn.ID)
				return
			}
		case <-ticker.C:
			writeDeadline(conn, s.opts.WriteTimeout)
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleMessage(conn *Connection, data []byte) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch base.Type {
	case TypeHello:
		s.handleHello(conn, data)
	case TypeMessage:
		s.handleChatMessage(conn, data)
	default:
		s.sendError(conn, base.RequestID, ErrorCodeInvalidMessage, "unknown message type: "+base.Type)
	}
}

func (s *Server) handleHello(conn *Connection, data []byte) {
	var msg HelloMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid hello message")
		return
	}
	if s.opts.APIKey != "" && msg.APIKey != s.opts.APIKey {
		s.sendError(conn, msg.RequestID, ErrorCodeUnauthorized, "invalid api_key")
		return
	}
	if msg.UserID == 0 {
		s.sendError(conn, msg.RequestID, ErrorCodeInvalidMessage, "user_id is required")
		return
	}

	chatID := msg.ChatID
	if chatID == 0 {
		chatID = msg.UserID
	}
	f := format.ParseFormat(msg.Format)
	if err := s.hub.BindChat(conn, chatID, msg.UserID, f); err != nil {
		s.log.Error(err, "failed to bind chat", "conn_id", conn.ID)
		return
	}

	_ = s.hub.SendJSON(conn, HelloAckMessage{
		BaseMessage: BaseMessage{Type: TypeHelloAck, Ts: time.Now().UnixMilli(), RequestID: msg.RequestID, ChatID: chatID},
		UserID:      msg.UserID,
		Format:      string(f),
	})
	s.log.Info("hello handshake completed", "conn_id", conn.ID, "chat_id", chatID, "user_id", msg.UserID)
}

func (s *Server) handleChatMessage(conn *Connection, data []byte) {
	var msg ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, "", ErrorCodeInvalidMessage, "invalid message")
		return
	}
	chatID, userID, _ := conn.Identity()
	if chatID == 0 {
		s.sendError(conn, msg.RequestID, ErrorCodeSessionRequired, "must send hello first")
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		s.sendError(conn, msg.RequestID, ErrorCodeInvalidMessage, "text is required")
		return
	}

	requestID := msg.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	text, addressed := msg.Text, msg.Addressed
	if msg.IsGroup && !strings.HasPrefix(strings.TrimSpace(text), "/") {
		if ok, cleaned := s.address.detect(text); ok {
			text, addressed = cleaned, true
		}
	}
	in := domain.IncomingMessage{
		RequestID: requestID,
		ChatID:    chatID,
		UserID:    userID,
		Text:      text,
		IsGroup:   msg.IsGroup,
		Addressed: addressed,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.ProcessingTimeout)
		defer cancel()

		if s.commands != nil {
			if reply, handled := s.commands.Handle(ctx, in); handled {
				_ = s.SendReply(ctx, domain.Reply{ChatID: chatID, Text: reply, Kind: domain.ReplyKindDirect})
				return
			}
		}
		if s.processor == nil {
			s.sendError(conn, requestID, ErrorCodeInternalError, "message processing is not available")
			return
		}
		s.processor.HandleIncomingMessage(ctx, in)
	}()
}

func (s *Server) sendError(conn *Connection, requestID, code, message string) {
	chatID, _, _ := conn.Identity()
	err := s.hub.SendJSON(conn, ErrorMessage{
		BaseMessage: BaseMessage{Type: TypeError, Ts: time.Now().UnixMilli(), RequestID: requestID, ChatID: chatID},
		Code:        code,
		Message:     message,
	})
	if err != nil {
		s.log.V(1).Info("failed to send error", "conn_id", conn.ID, "error", err.Error())
	}
}

// Stats reports hub occupancy for health output.
func (s *Server) Stats() (connections, chats int) {
	return s.hub.ConnectionCount(), s.hub.ChatCount()
}
