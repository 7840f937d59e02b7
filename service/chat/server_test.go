package chat

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PetChat/protocol"
	"PetChat/service/ai"
)

func startTestServer(t *testing.T, dispatcher *ai.Dispatcher) *Server {
	t.Helper()
	srv := NewServer(Config{Host: "127.0.0.1", Port: 0}, dispatcher, NopEvents{})
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialTestClient(t *testing.T, srv *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(env protocol.Envelope) {
	c.t.Helper()
	payload, err := protocol.Encode(env)
	require.NoError(c.t, err)
	_, err = c.conn.Write(payload)
	require.NoError(c.t, err)
}

func (c *testClient) sendRaw(raw []byte) {
	c.t.Helper()
	_, err := c.conn.Write(raw)
	require.NoError(c.t, err)
}

func (c *testClient) register(userID, userName string) {
	c.t.Helper()
	c.send(protocol.NewRegister(userID, userName, ""))
}

// expect reads frames until one of the wanted kind arrives. Other kinds are
// skipped so tests stay independent of broadcast interleaving.
func (c *testClient) expect(kind protocol.Kind) protocol.Envelope {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	require.NoError(c.t, c.conn.SetReadDeadline(deadline))
	for {
		payload, err := protocol.ReadFrame(c.r)
		require.NoError(c.t, err)
		env, err := protocol.Decode(payload)
		require.NoError(c.t, err)
		if env.Kind() == kind {
			return env
		}
	}
}

// expectSilence asserts no frame arrives within d.
func (c *testClient) expectSilence(d time.Duration) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(d)))
	_, err := protocol.ReadFrame(c.r)
	require.Error(c.t, err)
	ne, ok := err.(net.Error)
	require.True(c.t, ok && ne.Timeout(), "expected read timeout, got %v", err)
}

func TestRegisterAndOnlineUsers(t *testing.T) {
	srv := startTestServer(t, nil)

	alice := dialTestClient(t, srv)
	alice.register("alice", "Alice")
	ou := alice.expect(protocol.KindOnlineUsers).(*protocol.OnlineUsers)
	assert.Empty(t, ou.Users)

	bob := dialTestClient(t, srv)
	bob.register("bob", "Bob")
	ou = bob.expect(protocol.KindOnlineUsers).(*protocol.OnlineUsers)
	require.Len(t, ou.Users, 1)
	assert.Equal(t, "alice", ou.Users[0].UserID)

	// joined 广播不回发给新人自己
	joined := alice.expect(protocol.KindUserJoined).(*protocol.UserJoined)
	assert.Equal(t, "bob", joined.UserID)
	assert.Equal(t, "Bob", joined.UserName)
}

func TestPublicBroadcastExcludesSender(t *testing.T) {
	srv := startTestServer(t, nil)

	alice := dialTestClient(t, srv)
	alice.register("alice", "Alice")
	alice.expect(protocol.KindOnlineUsers)
	bob := dialTestClient(t, srv)
	bob.register("bob", "Bob")
	bob.expect(protocol.KindOnlineUsers)
	alice.expect(protocol.KindUserJoined)

	alice.send(&protocol.ChatMessage{
		Type: protocol.KindChatMessage, SenderID: "alice", SenderName: "Alice",
		Target: protocol.TargetPublic, Content: "hello all",
	})

	msg := bob.expect(protocol.KindChatMessage).(*protocol.ChatMessage)
	assert.Equal(t, "hello all", msg.Content)
	assert.Equal(t, "alice", msg.SenderID)

	alice.expectSilence(200 * time.Millisecond)
}

func TestUnicastAndOfflineDrop(t *testing.T) {
	srv := startTestServer(t, nil)

	alice := dialTestClient(t, srv)
	alice.register("alice", "Alice")
	alice.expect(protocol.KindOnlineUsers)
	bob := dialTestClient(t, srv)
	bob.register("bob", "Bob")
	bob.expect(protocol.KindOnlineUsers)
	alice.expect(protocol.KindUserJoined)

	alice.send(&protocol.ChatMessage{
		Type: protocol.KindChatMessage, SenderID: "alice",
		Target: "bob", Content: "psst",
	})
	msg := bob.expect(protocol.KindChatMessage).(*protocol.ChatMessage)
	assert.Equal(t, "psst", msg.Content)

	// 目标离线：静默丢弃，发送方不收到任何回执
	alice.send(&protocol.ChatMessage{
		Type: protocol.KindChatMessage, SenderID: "alice",
		Target: "nobody", Content: "lost",
	})
	alice.expectSilence(200 * time.Millisecond)
}

func TestPingPong(t *testing.T) {
	srv := startTestServer(t, nil)

	alice := dialTestClient(t, srv)
	alice.register("alice", "Alice")
	alice.expect(protocol.KindOnlineUsers)

	alice.send(protocol.NewPing())
	alice.expect(protocol.KindPong)
}

func TestUserLeftOnDisconnect(t *testing.T) {
	srv := startTestServer(t, nil)

	alice := dialTestClient(t, srv)
	alice.register("alice", "Alice")
	alice.expect(protocol.KindOnlineUsers)
	bob := dialTestClient(t, srv)
	bob.register("bob", "Bob")
	bob.expect(protocol.KindOnlineUsers)
	alice.expect(protocol.KindUserJoined)

	require.NoError(t, bob.conn.Close())

	left := alice.expect(protocol.KindUserLeft).(*protocol.UserLeft)
	assert.Equal(t, "bob", left.UserID)
}

func TestReRegisterTakesOverConnection(t *testing.T) {
	srv := startTestServer(t, nil)

	first := dialTestClient(t, srv)
	first.register("alice", "Alice")
	first.expect(protocol.KindOnlineUsers)

	second := dialTestClient(t, srv)
	second.register("alice", "Alice")
	second.expect(protocol.KindOnlineUsers)

	// 旧连接被服务端主动关闭
	require.NoError(t, first.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, err := protocol.ReadFrame(first.r); err != nil {
			ne, ok := err.(net.Error)
			require.False(t, ok && ne.Timeout(), "old connection was not closed")
			break
		}
	}

	// 接管不会触发 user_left，新连接继续可用
	second.send(protocol.NewPing())
	second.expect(protocol.KindPong)
	assert.Equal(t, 1, srv.Registry().Count())
}

func TestCorruptFrameKeepsConnection(t *testing.T) {
	srv := startTestServer(t, nil)

	alice := dialTestClient(t, srv)
	alice.register("alice", "Alice")
	alice.expect(protocol.KindOnlineUsers)

	// 构造 CRC 错误的帧：负载翻转一个字节
	payload, err := protocol.Encode(protocol.NewPing())
	require.NoError(t, err)
	payload[len(payload)-1] ^= 0xFF
	alice.sendRaw(payload)

	// 连接仍然存活，后续帧正常处理
	alice.send(protocol.NewPing())
	alice.expect(protocol.KindPong)
}

func TestUnknownEnvelopeIgnored(t *testing.T) {
	srv := startTestServer(t, nil)

	alice := dialTestClient(t, srv)
	alice.register("alice", "Alice")
	alice.expect(protocol.KindOnlineUsers)

	body := []byte(`{"type":"no_such_thing","x":1}`)
	alice.sendRaw(protocol.Frame(body))

	alice.send(protocol.NewPing())
	alice.expect(protocol.KindPong)
}

func TestMessagesBeforeRegisterIgnored(t *testing.T) {
	srv := startTestServer(t, nil)

	c := dialTestClient(t, srv)
	c.send(&protocol.ChatMessage{
		Type: protocol.KindChatMessage, SenderID: "ghost",
		Target: protocol.TargetPublic, Content: "too early",
	})
	c.send(protocol.NewPing())
	c.expectSilence(200 * time.Millisecond)

	// 之后注册照常生效
	c.register("ghost", "Ghost")
	ou := c.expect(protocol.KindOnlineUsers).(*protocol.OnlineUsers)
	assert.Empty(t, ou.Users)
}

func TestAIRequestDispatched(t *testing.T) {
	// 三路分析并发执行，按提示词内容路由应答
	mock := &ai.MockProvider{Fn: func(msgs []ai.Message) (string, error) {
		switch {
		case strings.Contains(msgs[0].Content, "情绪"):
			return `{"neutral": 0.1, "happy": 0.9, "tense": 0.0, "negative": 0.0}`, nil
		case strings.Contains(msgs[0].Content, "信息提取"):
			return `[{"content":"约好周末一起出去玩","category":"agreement"},{"content":"明天讨论计划","category":"event"}]`, nil
		default:
			return `{"title": "Plan it", "content": "Book a table", "type": "suggestion"}`, nil
		}
	}}
	dispatcher := ai.NewDispatcherWithProvider(ai.DispatcherConfig{}, mock)
	srv := startTestServer(t, dispatcher)

	alice := dialTestClient(t, srv)
	alice.register("alice", "Alice")
	alice.expect(protocol.KindOnlineUsers)

	alice.send(&protocol.AIAnalysisRequest{
		Type:           protocol.KindAIAnalysisRequest,
		ConversationID: "conv-1",
		SenderID:       "alice",
		ContextSnapshot: []protocol.ContextMessage{
			{Sender: "alice", Content: "明天有什么计划吗"},
			{Sender: "bob", Content: "周末一起出去玩吧"},
		},
	})

	got := map[protocol.Kind]protocol.Envelope{}
	deadline := time.Now().Add(3 * time.Second)
	for len(got) < 3 && time.Now().Before(deadline) {
		require.NoError(t, alice.conn.SetReadDeadline(deadline))
		payload, err := protocol.ReadFrame(alice.r)
		require.NoError(t, err)
		env, err := protocol.Decode(payload)
		require.NoError(t, err)
		switch env.Kind() {
		case protocol.KindAIEmotion, protocol.KindAIMemory, protocol.KindAISuggestion:
			got[env.Kind()] = env
		}
	}
	require.Len(t, got, 3)

	emotion := got[protocol.KindAIEmotion].(*protocol.AIEmotion)
	assert.Equal(t, "conv-1", emotion.ConversationID)
	assert.InDelta(t, 0.9, emotion.Scores["happy"], 1e-9)

	memory := got[protocol.KindAIMemory].(*protocol.AIMemory)
	assert.Len(t, memory.Memories, 2)

	sug := got[protocol.KindAISuggestion].(*protocol.AISuggestion)
	assert.Equal(t, "Plan it", sug.Title)
	assert.Equal(t, "suggestion", sug.SuggestionType)
}

func TestServerStopUnblocksClients(t *testing.T) {
	srv := startTestServer(t, nil)

	alice := dialTestClient(t, srv)
	alice.register("alice", "Alice")
	alice.expect(protocol.KindOnlineUsers)

	done := make(chan struct{})
	go func() {
		srv.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
}


type memStore struct {
	mu       sync.Mutex
	memories []protocol.MemoryItem
}

func (s *memStore) RecentMessages(context.Context, int) ([]protocol.ChatMessage, error) {
	return nil, nil
}

func (s *memStore) SaveMemory(_ context.Context, item protocol.MemoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories = append(s.memories, item)
	return nil
}

func (s *memStore) Memories(context.Context, int) ([]protocol.MemoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.MemoryItem, len(s.memories))
	copy(out, s.memories)
	return out, nil
}

func TestExtractedMemoriesPersisted(t *testing.T) {
	mock := &ai.MockProvider{Fn: func(msgs []ai.Message) (string, error) {
		if strings.Contains(msgs[0].Content, "信息提取") {
			return `[{"content":"下周一起学习","category":"agreement"}]`, nil
		}
		return `{"neutral":1.0}`, nil
	}}
	dispatcher := ai.NewDispatcherWithProvider(ai.DispatcherConfig{}, mock)

	srv := NewServer(Config{Host: "127.0.0.1", Port: 0}, dispatcher, NopEvents{})
	store := &memStore{}
	srv.AttachStore(store)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	alice := dialTestClient(t, srv)
	alice.register("alice", "Alice")
	alice.expect(protocol.KindOnlineUsers)

	alice.send(&protocol.AIAnalysisRequest{
		Type:           protocol.KindAIAnalysisRequest,
		ConversationID: "conv-1",
		SenderID:       "alice",
		ContextSnapshot: []protocol.ContextMessage{
			{Sender: "alice", Content: "下周一起学习吧"},
			{Sender: "bob", Content: "好啊"},
		},
	})
	alice.expect(protocol.KindAIMemory)

	items, err := store.Memories(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "下周一起学习", items[0].Content)
}
