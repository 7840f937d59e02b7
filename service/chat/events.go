package chat

import (
	"PetChat/logger"
	"PetChat/protocol"
)

// ServerEvents is the observer the application layer implements to watch the
// server without pulling protocol concerns into itself.
type ServerEvents interface {
	OnClientConnected(userID, userName, remote string)
	OnClientDisconnected(userID string)
	OnChatMessage(msg *protocol.ChatMessage)
	OnAIRequest(userID string, req *protocol.AIAnalysisRequest)
	OnStats(msgCount, aiReqCount int64)
}

// NopEvents implements ServerEvents with no-ops; embed it to pick only the
// callbacks you care about.
type NopEvents struct{}

func (NopEvents) OnClientConnected(string, string, string) {}
func (NopEvents) OnClientDisconnected(string) {}
func (NopEvents) OnChatMessage(*protocol.ChatMessage) {}
func (NopEvents) OnAIRequest(string, *protocol.AIAnalysisRequest) {}
func (NopEvents) OnStats(int64, int64) {}

// LoggingEvents is the always-on observer writing lifecycle events to zap.
type LoggingEvents struct {
	NopEvents
}

func (LoggingEvents) OnClientConnected(userID, userName, remote string) {
	logger.Infof("[Server] user registered: %s (%s) from %s", userName, userID, remote)
}

func (LoggingEvents) OnClientDisconnected(userID string) {
	logger.Infof("[Server] user disconnected: %s", userID)
}

func (LoggingEvents) OnChatMessage(msg *protocol.ChatMessage) {
	logger.Debugf("[Server] chat %s -> %s (%d bytes)", msg.SenderID, msg.Target, len(msg.Content))
}

func (LoggingEvents) OnAIRequest(userID string, req *protocol.AIAnalysisRequest) {
	logger.Debugf("[Server] ai request from %s conversation=%s snapshot=%d", userID, req.ConversationID, len(req.ContextSnapshot))
}

// multiEvents fans one event out to every registered observer.
type multiEvents []ServerEvents

func (m multiEvents) OnClientConnected(userID, userName, remote string) {
	for _, e := range m {
		e.OnClientConnected(userID, userName, remote)
	}
}

func (m multiEvents) OnClientDisconnected(userID string) {
	for _, e := range m {
		e.OnClientDisconnected(userID)
	}
}

func (m multiEvents) OnChatMessage(msg *protocol.ChatMessage) {
	for _, e := range m {
		e.OnChatMessage(msg)
	}
}

func (m multiEvents) OnAIRequest(userID string, req *protocol.AIAnalysisRequest) {
	for _, e := range m {
		e.OnAIRequest(userID, req)
	}
}

func (m multiEvents) OnStats(msgCount, aiReqCount int64) {
	for _, e := range m {
		e.OnStats(msgCount, aiReqCount)
	}
}
