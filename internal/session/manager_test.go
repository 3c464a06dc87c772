package session

import (
	"context"
	"errors"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/gateway/internal/domain"
	"github.com/xiaot623/gogo/gateway/tests/helpers"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(helpers.NewTestSQLiteStore(t), 0, testr.New(t))
}

func intPtr(n int) *int { return &n }

func TestContextWindowTokenBudget(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	sess, err := m.GetOrCreateSession(ctx, 100)
	require.NoError(t, err)

	for _, c := range []string{"t1", "t2", "t3", "t4", "t5"} {
		_, err := m.AppendTurn(ctx, sess.SessionID, domain.RoleUser, c, intPtr(50), nil)
		require.NoError(t, err)
	}

	window, err := m.GetContextWindow(ctx, sess.SessionID, 120)
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, "t4", window[0].Content)
	assert.Equal(t, "t5", window[1].Content)
}

func TestContextWindowRecencyCap(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	sess, err := m.GetOrCreateSession(ctx, 101)
	require.NoError(t, err)

	for i := 0; i < 15; i++ {
		_, err := m.AppendTurn(ctx, sess.SessionID, domain.RoleUser, "x", nil, nil)
		require.NoError(t, err)
	}

	window, err := m.GetContextWindow(ctx, sess.SessionID, 100000)
	require.NoError(t, err)
	assert.Len(t, window, DefaultHistoryLimit)
}

func TestContextWindowEstimatesMissingCounts(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	sess, err := m.GetOrCreateSession(ctx, 102)
	require.NoError(t, err)

	// 40 chars -> 10 tokens, 1 char -> 1 token
	_, err = m.AppendTurn(ctx, sess.SessionID, domain.RoleUser, "0123456789012345678901234567890123456789", nil, nil)
	require.NoError(t, err)
	_, err = m.AppendTurn(ctx, sess.SessionID, domain.RoleAssistant, "k", nil, nil)
	require.NoError(t, err)

	window, err := m.GetContextWindow(ctx, sess.SessionID, 10)
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, domain.RoleAssistant, window[0].Role)

	window, err = m.GetContextWindow(ctx, sess.SessionID, 11)
	require.NoError(t, err)
	assert.Len(t, window, 2)
}

func TestClearSessionTwice(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	sess, err := m.GetOrCreateSession(ctx, 103)
	require.NoError(t, err)

	_, err = m.AppendTurn(ctx, sess.SessionID, domain.RoleUser, "hello", nil, map[string]string{"chat_type": "private"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, m.ClearSession(ctx, sess.SessionID))
		window, err := m.GetContextWindow(ctx, sess.SessionID, 1000)
		require.NoError(t, err)
		assert.Empty(t, window)
	}
}

func TestAppendTurnRejectsUnknownRole(t *testing.T) {
	m := newTestManager(t)
	_, err := m.AppendTurn(context.Background(), 1, domain.Role("narrator"), "x", nil, nil)
	assert.Error(t, err)
}

func TestAppendTurnWrapsPersistenceErrors(t *testing.T) {
	m := newTestManager(t)
	_, err := m.AppendTurn(context.Background(), 4242, domain.RoleUser, "x", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPersistence))
}

func TestSessionForChatNotFound(t *testing.T) {
	m := newTestManager(t)
	_, err := m.SessionForChat(context.Background(), 555)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("ab"))
	assert.Equal(t, 2, EstimateTokens("abcdefghi"))
	assert.Equal(t, 1, EstimateTokens("привет"))
}

func TestSetActiveToolsAndTurnCount(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	sess, err := m.GetOrCreateSession(ctx, 300)
	require.NoError(t, err)

	updated, err := m.SetActiveTools(ctx, sess.SessionID, []string{"web_search", "fetch_url"})
	require.NoError(t, err)
	assert.Equal(t, []string{"web_search", "fetch_url"}, updated.ActiveTools)

	_, err = m.SetActiveTools(ctx, 9999, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	for _, c := range []string{"a", "b"} {
		_, err := m.AppendTurn(ctx, sess.SessionID, domain.RoleUser, c, nil, nil)
		require.NoError(t, err)
	}
	n, err := m.TurnCount(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
