package client

import "PetChat/protocol"

// Events is the client-side observer. Callbacks run on the receive
// goroutine; implementations must not block.
type Events interface {
	OnConnectionStateChanged(state State)
	OnMessage(msg *protocol.ChatMessage)
	OnUserJoined(user protocol.UserInfo)
	OnUserLeft(userID string)
	OnOnlineUsers(users []protocol.UserInfo)
	OnTyping(status *protocol.TypingStatus)
	OnAIEmotion(e *protocol.AIEmotion)
	OnAIMemory(m *protocol.AIMemory)
	OnAISuggestion(s *protocol.AISuggestion)
}

// NopEvents satisfies Events with no-ops; embed it to pick only the
// callbacks you care about.
type NopEvents struct{}

func (NopEvents) OnConnectionStateChanged(State) {}
func (NopEvents) OnMessage(*protocol.ChatMessage) {}
func (NopEvents) OnUserJoined(protocol.UserInfo) {}
func (NopEvents) OnUserLeft(string) {}
func (NopEvents) OnOnlineUsers([]protocol.UserInfo) {}
func (NopEvents) OnTyping(*protocol.TypingStatus) {}
func (NopEvents) OnAIEmotion(*protocol.AIEmotion) {}
func (NopEvents) OnAIMemory(*protocol.AIMemory) {}
func (NopEvents) OnAISuggestion(*protocol.AISuggestion) {}
