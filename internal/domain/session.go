package domain

import (
	"encoding/json"
	"time"
)

// Session is a conversation scoped to one chat and shared by every participant in it.
type Session struct {
	SessionID    int64           `json:"session_id"`
	ChatID       int64           `json:"chat_id"`
	ActiveTools  []string        `json:"active_tools,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	LastActiveAt time.Time       `json:"last_active_at"`
}

// Turn is one persisted message of a session. Turns are immutable once written.
type Turn struct {
	TurnID     int64           `json:"turn_id"`
	SessionID  int64           `json:"session_id"`
	Role       Role            `json:"role"`
	Content    string          `json:"content"`
	TokenCount *int            `json:"token_count,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// SystemPrompt is an administrator supplied override for the default system prompt.
type SystemPrompt struct {
	ID        int64     `json:"id"`
	Prompt    string    `json:"prompt"`
	SetBy     int64     `json:"set_by"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
