package domain

// Message is one entry of a model request.
type Message struct {
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolName  string            `json:"tool_name,omitempty"`
}

// ModelReply is the normalized output of a model call.
type ModelReply struct {
	Text      string            `json:"text"`
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
}

// HasToolCalls reports whether the model asked for tool execution.
func (r ModelReply) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// IncomingMessage is a single user message delivered by a transport.
type IncomingMessage struct {
	RequestID string `json:"request_id,omitempty"`
	ChatID    int64  `json:"chat_id"`
	UserID    int64  `json:"user_id"`
	Text      string `json:"text"`
	IsGroup   bool   `json:"is_group"`
	// Addressed is computed by the transport (mention or reply to the bot).
	Addressed bool `json:"addressed"`
}

// Reply is the outcome of processing one incoming message.
type Reply struct {
	ChatID     int64     `json:"chat_id"`
	Text       string    `json:"text"`
	Kind       ReplyKind `json:"kind"`
	ToolCalled bool      `json:"tool_called"`
	ToolNames  []string  `json:"tool_names,omitempty"`
}
