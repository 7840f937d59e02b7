// Package storage persists chat history, known users and extracted memories.
// Two backends exist: an embedded SQLite file for single-node runs and Redis
// for deployments that already carry one.
package storage

import (
	"context"

	"PetChat/protocol"
)

// Store is the persistence surface used by the server. Implementations must
// be safe for concurrent use.
type Store interface {
	AppendMessage(ctx context.Context, msg *protocol.ChatMessage) error
	RecentMessages(ctx context.Context, limit int) ([]protocol.ChatMessage, error)
	UpsertUser(ctx context.Context, user protocol.UserInfo) error
	SaveMemory(ctx context.Context, item protocol.MemoryItem) error
	Memories(ctx context.Context, limit int) ([]protocol.MemoryItem, error)
	Close() error
}

// EventSink adapts a Store into server lifecycle events so persistence can
// be plugged in as just another observer.
type EventSink struct {
	store Store
}

func NewEventSink(store Store) *EventSink { return &EventSink{store: store} }

func (s *EventSink) OnClientConnected(userID, userName, remote string) {
	_ = s.store.UpsertUser(context.Background(), protocol.UserInfo{UserID: userID, UserName: userName})
}

func (s *EventSink) OnClientDisconnected(string) {}

func (s *EventSink) OnChatMessage(msg *protocol.ChatMessage) {
	_ = s.store.AppendMessage(context.Background(), msg)
}

func (s *EventSink) OnAIRequest(string, *protocol.AIAnalysisRequest) {}

func (s *EventSink) OnStats(int64, int64) {}
