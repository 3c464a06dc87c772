package ws

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/gateway/internal/format"
)

func TestHubBindAndUnregister(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(testr.New(t))
	go h.Run(ctx)

	conn := h.NewConnection(nil)
	assert.ErrorIs(t, h.BindChat(conn, 1, 1, format.Plain), ErrNotRegistered)

	h.Register(conn)
	require.NoError(t, h.BindChat(conn, 1, 1, format.Plain))
	assert.True(t, h.HasConnections(1))
	assert.Equal(t, 1, h.ChatCount())

	require.NoError(t, h.BindChat(conn, 2, 1, format.Plain))
	assert.False(t, h.HasConnections(1))
	assert.True(t, h.HasConnections(2))

	require.NoError(t, h.BroadcastJSON(2, map[string]string{"type": "reply"}))
	select {
	case data := <-conn.Send:
		assert.JSONEq(t, `{"type":"reply"}`, string(data))
	case <-time.After(time.Second):
		t.Fatal("broadcast not delivered")
	}

	h.Unregister(conn)
	assert.Eventually(t, func() bool { return h.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
	assert.False(t, h.HasConnections(2))
	assert.ErrorIs(t, h.SendJSON(conn, "x"), ErrNotRegistered)
}

func TestHubStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(testr.New(t))
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	conn := h.NewConnection(nil)
	h.Register(conn)
	cancel()
	<-stopped

	_, open := <-conn.Send
	assert.False(t, open)
	h.Unregister(conn)
}
