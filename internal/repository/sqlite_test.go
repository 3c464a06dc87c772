package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/xiaot623/gogo/gateway/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestSQLiteStoreSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	first, err := store.GetOrCreateSession(ctx, 42)
	if err != nil {
		t.Fatalf("GetOrCreateSession failed: %v", err)
	}
	if first.ChatID != 42 || first.SessionID == 0 {
		t.Fatalf("unexpected session: %+v", first)
	}

	again, err := store.GetOrCreateSession(ctx, 42)
	if err != nil {
		t.Fatalf("GetOrCreateSession failed: %v", err)
	}
	if again.SessionID != first.SessionID {
		t.Fatalf("expected session %d to be reused, got %d", first.SessionID, again.SessionID)
	}

	missing, err := store.GetSession(ctx, 999)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil session, got %+v", missing)
	}

	if err := store.SetActiveTools(ctx, first.SessionID, []string{"web_search"}); err != nil {
		t.Fatalf("SetActiveTools failed: %v", err)
	}
	got, err := store.GetSession(ctx, first.SessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if len(got.ActiveTools) != 1 || got.ActiveTools[0] != "web_search" {
		t.Fatalf("unexpected active tools: %v", got.ActiveTools)
	}
}

func TestSQLiteStoreTurnsKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	session, err := store.GetOrCreateSession(ctx, 1)
	if err != nil {
		t.Fatalf("GetOrCreateSession failed: %v", err)
	}

	// Identical timestamps must not change read order.
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, content := range []string{"a", "b", "c"} {
		turn := &domain.Turn{SessionID: session.SessionID, Role: domain.RoleUser, Content: content, CreatedAt: ts}
		if err := store.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("AppendTurn failed: %v", err)
		}
		if turn.TurnID == 0 {
			t.Fatalf("expected turn id to be assigned")
		}
	}

	turns, err := store.RecentTurns(ctx, session.SessionID, 2)
	if err != nil {
		t.Fatalf("RecentTurns failed: %v", err)
	}
	if len(turns) != 2 || turns[0].Content != "b" || turns[1].Content != "c" {
		t.Fatalf("unexpected turns: %+v", turns)
	}

	touched, err := store.GetSession(ctx, session.SessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if !touched.LastActiveAt.Equal(ts) {
		t.Fatalf("expected last_active_at %v, got %v", ts, touched.LastActiveAt)
	}
}

func TestSQLiteStoreTurnMetadataAndTokens(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	session, _ := store.GetOrCreateSession(ctx, 5)
	tokens := 12
	turn := &domain.Turn{
		SessionID:  session.SessionID,
		Role:       domain.RoleTool,
		Content:    "result",
		TokenCount: &tokens,
		Metadata:   json.RawMessage(`{"tool_name":"web_search"}`),
	}
	if err := store.AppendTurn(ctx, turn); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	turns, err := store.RecentTurns(ctx, session.SessionID, 0)
	if err != nil {
		t.Fatalf("RecentTurns failed: %v", err)
	}
	if len(turns) != 1 || turns[0].TokenCount == nil || *turns[0].TokenCount != 12 {
		t.Fatalf("unexpected turns: %+v", turns)
	}
	if string(turns[0].Metadata) != `{"tool_name":"web_search"}` {
		t.Fatalf("unexpected metadata: %s", turns[0].Metadata)
	}
}

func TestSQLiteStoreAppendToUnknownSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	err := store.AppendTurn(ctx, &domain.Turn{SessionID: 77, Role: domain.RoleUser, Content: "x"})
	if err == nil {
		t.Fatalf("expected error appending to unknown session")
	}
}

func TestSQLiteStoreClearSessionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	session, _ := store.GetOrCreateSession(ctx, 9)
	for i := 0; i < 3; i++ {
		if err := store.AppendTurn(ctx, &domain.Turn{SessionID: session.SessionID, Role: domain.RoleUser, Content: "hi"}); err != nil {
			t.Fatalf("AppendTurn failed: %v", err)
		}
	}

	deleted, err := store.ClearSession(ctx, session.SessionID)
	if err != nil || deleted != 3 {
		t.Fatalf("first clear: deleted=%d err=%v", deleted, err)
	}
	deleted, err = store.ClearSession(ctx, session.SessionID)
	if err != nil || deleted != 0 {
		t.Fatalf("second clear: deleted=%d err=%v", deleted, err)
	}
	n, err := store.CountTurns(ctx, session.SessionID)
	if err != nil || n != 0 {
		t.Fatalf("expected no turns, got %d (%v)", n, err)
	}
}

func TestSQLiteStoreSystemPrompts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	p, err := store.GetActiveSystemPrompt(ctx)
	if err != nil || p != nil {
		t.Fatalf("expected no prompt, got %+v (%v)", p, err)
	}

	if _, err := store.SetSystemPrompt(ctx, "first", 1); err != nil {
		t.Fatalf("SetSystemPrompt failed: %v", err)
	}
	if _, err := store.SetSystemPrompt(ctx, "second", 2); err != nil {
		t.Fatalf("SetSystemPrompt failed: %v", err)
	}

	p, err = store.GetActiveSystemPrompt(ctx)
	if err != nil {
		t.Fatalf("GetActiveSystemPrompt failed: %v", err)
	}
	if p == nil || p.Prompt != "second" || p.SetBy != 2 || !p.Active {
		t.Fatalf("unexpected prompt: %+v", p)
	}
}

func TestSQLiteStoreToolExecutions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	session, _ := store.GetOrCreateSession(ctx, 3)
	exec := &domain.ToolExecution{
		ExecutionID: "ex_1",
		SessionID:   session.SessionID,
		ToolName:    "web_search",
		Status:      domain.ToolStatusFailed,
		Args:        json.RawMessage(`{"query":"go"}`),
		Result:      "Error: boom",
		DurationMs:  15,
	}
	if err := store.CreateToolExecution(ctx, exec); err != nil {
		t.Fatalf("CreateToolExecution failed: %v", err)
	}

	execs, err := store.ListToolExecutions(ctx, session.SessionID, 10)
	if err != nil {
		t.Fatalf("ListToolExecutions failed: %v", err)
	}
	if len(execs) != 1 || execs[0].Status != domain.ToolStatusFailed || execs[0].Result != "Error: boom" {
		t.Fatalf("unexpected executions: %+v", execs)
	}
}
