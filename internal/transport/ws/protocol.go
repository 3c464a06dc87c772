package ws

// Message types from client to gateway.
const (
	TypeHello   = "hello"
	TypeMessage = "message"
)

// Message types from gateway to client.
const (
	TypeHelloAck = "hello_ack"
	TypeReply    = "reply"
	TypeError    = "error"
)

// Error codes.
const (
	ErrorCodeInvalidMessage  = "invalid_message"
	ErrorCodeUnauthorized    = "unauthorized"
	ErrorCodeSessionRequired = "session_required"
	ErrorCodeInternalError   = "internal_error"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	RequestID string `json:"request_id,omitempty"`
	ChatID    int64  `json:"chat_id,omitempty"`
}

// HelloMessage binds a connection to a chat. A missing chat_id means the
// user's private chat.
type HelloMessage struct {
	BaseMessage
	UserID int64  `json:"user_id"`
	APIKey string `json:"api_key,omitempty"`
	Format string `json:"format,omitempty"`
}

// HelloAckMessage confirms a hello.
type HelloAckMessage struct {
	BaseMessage
	UserID int64  `json:"user_id"`
	Format string `json:"format"`
}

// ChatMessage carries one user message.
type ChatMessage struct {
	BaseMessage
	Text      string `json:"text"`
	IsGroup   bool   `json:"is_group,omitempty"`
	Addressed bool   `json:"addressed,omitempty"`
}

// ReplyMessage carries the assistant's answer to every connection of a chat.
type ReplyMessage struct {
	BaseMessage
	Text       string   `json:"text"`
	Kind       string   `json:"kind,omitempty"`
	ToolCalled bool     `json:"tool_called,omitempty"`
	Tools      []string `json:"tools,omitempty"`
}

// ErrorMessage reports a protocol error.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}
