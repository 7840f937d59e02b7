package protocol

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PetChat/tools/errs"
)

func roundTrip(t *testing.T, in Envelope) Envelope {
	t.Helper()
	frame, err := Encode(in)
	require.NoError(t, err)
	payload, err := ReadFrame(bytes.NewReader(frame))
	require.NoError(t, err)
	out, err := Decode(payload)
	require.NoError(t, err)
	return out
}

func TestEnvelopeRoundTrip(t *testing.T) {
	cases := []Envelope{
		NewRegister("u1", "Alice", "cat"),
		NewUserJoined("u2", "Bob", "dog"),
		NewUserLeft("u1"),
		NewOnlineUsers([]UserInfo{{UserID: "u2", UserName: "Bob", Avatar: "dog"}}),
		&ChatMessage{Type: KindChatMessage, SenderID: "u1", SenderName: "Alice", SenderAvatar: "cat", Target: TargetPublic, Content: "你好"},
		&TypingStatus{Type: KindTypingStatus, SenderID: "u1", SenderName: "Alice", IsTyping: true},
		&AIAnalysisRequest{
			Type:           KindAIAnalysisRequest,
			ConversationID: "c1",
			SenderID:       "u1",
			SenderName:     "Alice",
			ContextSnapshot: []ContextMessage{
				{Sender: "Alice", Content: "周末出去玩吗"},
				{Sender: "Bob", Content: "好啊"},
			},
		},
		&AISuggestion{Type: KindAISuggestion, ConversationID: "c1", Title: "周末计划", Content: "...", SuggestionType: "plan"},
		&AIEmotion{Type: KindAIEmotion, ConversationID: "c1", Scores: map[string]float64{"happy": 0.7, "neutral": 0.3}},
		&AIMemory{Type: KindAIMemory, ConversationID: "c1", Memories: []MemoryItem{{Content: "周末出游", Category: "event"}}},
		NewPing(),
		NewPong(),
		NewRelayRegister("room-1", "host"),
		&RelayAck{Type: KindRelayAck, RoomID: "room-1", Role: "host", ActiveInRoom: 1, ActiveTotal: 3},
		&RelayError{Type: KindRelayError, Code: "REGISTER_FAILED", Message: "role host already connected"},
	}

	for _, c := range cases {
		t.Run(string(c.Kind()), func(t *testing.T) {
			out := roundTrip(t, c)
			assert.Equal(t, c, out)
			assert.Equal(t, c.Kind(), out.Kind())
		})
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"frobnicate","x":1}`))
	assert.ErrorIs(t, err, errs.ErrUnknownEnvelope)
}

func TestDecodeMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"content":"hi"}`))
	assert.ErrorIs(t, err, errs.ErrUnknownEnvelope)
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`{"type":`))
	assert.ErrorIs(t, err, errs.ErrInvalidPayload)
}

func TestChatMessageWireShape(t *testing.T) {
	msg := &ChatMessage{
		Type:         KindChatMessage,
		SenderID:     "u1",
		SenderName:   "Alice",
		SenderAvatar: "cat",
		Target:       "u2",
		Content:      "hi",
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	// Flat keys, no nesting.
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "chat_message", m["type"])
	assert.Equal(t, "u1", m["sender_id"])
	assert.Equal(t, "u2", m["target"])
	assert.Equal(t, "hi", m["content"])
}

func TestPeekKind(t *testing.T) {
	k, err := PeekKind([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, KindPing, k)
}
