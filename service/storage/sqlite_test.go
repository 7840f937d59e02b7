package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PetChat/protocol"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteMessagesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendMessage(ctx, &protocol.ChatMessage{
			Type:     protocol.KindChatMessage,
			SenderID: "alice", SenderName: "Alice",
			Target:  protocol.TargetPublic,
			Content: fmt.Sprintf("msg-%d", i),
		}))
	}

	msgs, err := s.RecentMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	// 时间正序
	assert.Equal(t, "msg-0", msgs[0].Content)
	assert.Equal(t, "msg-2", msgs[2].Content)
	assert.Equal(t, protocol.KindChatMessage, msgs[0].Type)
	assert.Equal(t, "alice", msgs[0].SenderID)
}

func TestSQLiteRecentMessagesLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.AppendMessage(ctx, &protocol.ChatMessage{
			SenderID: "alice", Target: protocol.TargetPublic,
			Content: fmt.Sprintf("msg-%d", i),
		}))
	}

	msgs, err := s.RecentMessages(ctx, 4)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	// 限额保留最新的一段
	assert.Equal(t, "msg-6", msgs[0].Content)
	assert.Equal(t, "msg-9", msgs[3].Content)
}

func TestSQLiteUpsertUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertUser(ctx, protocol.UserInfo{UserID: "alice", UserName: "Alice"}))
	require.NoError(t, s.UpsertUser(ctx, protocol.UserInfo{UserID: "alice", UserName: "Alice Lee", Avatar: "cat"}))

	var name, avatar string
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT user_name, avatar FROM users WHERE user_id = ?`, "alice").Scan(&name, &avatar))
	assert.Equal(t, "Alice Lee", name)
	assert.Equal(t, "cat", avatar)

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLiteMemories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveMemory(ctx, protocol.MemoryItem{Content: "约好周末聚餐", Category: "agreement"}))
	require.NoError(t, s.SaveMemory(ctx, protocol.MemoryItem{Content: "下周出差", Category: "event"}))

	items, err := s.Memories(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	// 最新在前
	assert.Equal(t, "下周出差", items[0].Content)
	assert.Equal(t, "event", items[0].Category)
}

func TestSQLiteEmptyReads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msgs, err := s.RecentMessages(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	items, err := s.Memories(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestEventSinkPersists(t *testing.T) {
	s := newTestStore(t)
	sink := NewEventSink(s)

	sink.OnClientConnected("alice", "Alice", "127.0.0.1:1234")
	sink.OnChatMessage(&protocol.ChatMessage{
		SenderID: "alice", Target: protocol.TargetPublic, Content: "hello",
	})

	ctx := context.Background()
	msgs, err := s.RecentMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count))
	assert.Equal(t, 1, count)
}
