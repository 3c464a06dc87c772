// Package store provides persistence for sessions, turns and audit records.
package store

import (
	"context"

	"github.com/xiaot623/gogo/gateway/internal/domain"
)

// Store defines the persistence operations used by the gateway.
type Store interface {
	// Sessions
	GetOrCreateSession(ctx context.Context, chatID int64) (*domain.Session, error)
	GetSession(ctx context.Context, sessionID int64) (*domain.Session, error)
	GetSessionByChat(ctx context.Context, chatID int64) (*domain.Session, error)
	SetActiveTools(ctx context.Context, sessionID int64, tools []string) error

	// Turns
	AppendTurn(ctx context.Context, turn *domain.Turn) error
	RecentTurns(ctx context.Context, sessionID int64, limit int) ([]domain.Turn, error)
	CountTurns(ctx context.Context, sessionID int64) (int, error)
	ClearSession(ctx context.Context, sessionID int64) (int64, error)

	// System prompts
	GetActiveSystemPrompt(ctx context.Context) (*domain.SystemPrompt, error)
	SetSystemPrompt(ctx context.Context, prompt string, setBy int64) (*domain.SystemPrompt, error)

	// Tool executions
	CreateToolExecution(ctx context.Context, exec *domain.ToolExecution) error
	ListToolExecutions(ctx context.Context, sessionID int64, limit int) ([]domain.ToolExecution, error)

	Close() error
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
