// Package session owns conversation history and the token-bounded context window.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/xiaot623/gogo/gateway/internal/domain"
	"github.com/xiaot623/gogo/gateway/internal/repository"
)

// DefaultHistoryLimit is the recency cap applied before the token budget.
const DefaultHistoryLimit = 10

// Manager implements the context store on top of a persistent Store.
type Manager struct {
	store        store.Store
	historyLimit int
	log          logr.Logger
}

// NewManager creates a Manager. A non-positive historyLimit selects DefaultHistoryLimit.
func NewManager(s store.Store, historyLimit int, log logr.Logger) *Manager {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Manager{store: s, historyLimit: historyLimit, log: log.WithName("session")}
}

// GetOrCreateSession returns the chat's session, creating it lazily.
func (m *Manager) GetOrCreateSession(ctx context.Context, chatID int64) (*domain.Session, error) {
	sess, err := m.store.GetOrCreateSession(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("%w: get session for chat %d: %w", domain.ErrPersistence, chatID, err)
	}
	return sess, nil
}

// SessionForChat returns the chat's session without creating one.
func (m *Manager) SessionForChat(ctx context.Context, chatID int64) (*domain.Session, error) {
	sess, err := m.store.GetSessionByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup chat %d: %w", domain.ErrPersistence, chatID, err)
	}
	if sess == nil {
		return nil, domain.ErrNotFound
	}
	return sess, nil
}

// GetContextWindow returns the most recent turns that fit maxTokens, oldest first.
// Turns are kept or dropped whole.
func (m *Manager) GetContextWindow(ctx context.Context, sessionID int64, maxTokens int) ([]domain.Message, error) {
	turns, err := m.store.RecentTurns(ctx, sessionID, m.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: load turns: %w", domain.ErrPersistence, err)
	}
	kept := fitBudget(turns, maxTokens)
	if dropped := len(turns) - len(kept); dropped > 0 {
		m.log.V(1).Info("context window trimmed", "session_id", sessionID, "dropped", dropped, "max_tokens", maxTokens)
	}

	messages := make([]domain.Message, 0, len(kept))
	for _, t := range kept {
		messages = append(messages, domain.Message{Role: t.Role, Content: t.Content})
	}
	return messages, nil
}

// AppendTurn durably stores a turn before returning. metadata may be nil.
func (m *Manager) AppendTurn(ctx context.Context, sessionID int64, role domain.Role, content string, tokenCount *int, metadata any) (*domain.Turn, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	turn := &domain.Turn{
		SessionID:  sessionID,
		Role:       role,
		Content:    content,
		TokenCount: tokenCount,
	}
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode turn metadata: %w", err)
		}
		turn.Metadata = raw
	}
	if err := m.store.AppendTurn(ctx, turn); err != nil {
		return nil, fmt.Errorf("%w: append %s turn: %w", domain.ErrPersistence, role, err)
	}
	return turn, nil
}

// ClearSession deletes all turns of the session atomically. It is safe to repeat.
func (m *Manager) ClearSession(ctx context.Context, sessionID int64) error {
	deleted, err := m.store.ClearSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%w: clear session %d: %w", domain.ErrPersistence, sessionID, err)
	}
	m.log.Info("session cleared", "session_id", sessionID, "deleted", deleted)
	return nil
}

// SetActiveTools records the tools a chat prefers. The list is advisory;
// the pipeline still offers every registered tool.
func (m *Manager) SetActiveTools(ctx context.Context, sessionID int64, tools []string) (*domain.Session, error) {
	if tools == nil {
		tools = []string{}
	}
	if err := m.store.SetActiveTools(ctx, sessionID, tools); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: set active tools: %w", domain.ErrPersistence, err)
	}
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: reload session %d: %w", domain.ErrPersistence, sessionID, err)
	}
	if sess == nil {
		return nil, domain.ErrNotFound
	}
	return sess, nil
}

// TurnCount returns the number of persisted turns of the session.
func (m *Manager) TurnCount(ctx context.Context, sessionID int64) (int, error) {
	n, err := m.store.CountTurns(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("%w: count turns: %w", domain.ErrPersistence, err)
	}
	return n, nil
}

// History returns up to limit of the newest persisted turns, oldest first.
func (m *Manager) History(ctx context.Context, sessionID int64, limit int) ([]domain.Turn, error) {
	turns, err := m.store.RecentTurns(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: load history: %w", domain.ErrPersistence, err)
	}
	return turns, nil
}
