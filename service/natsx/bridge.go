// Package natsx publishes server lifecycle events onto NATS subjects so
// external consumers (moderation, analytics) can follow the room without
// touching the socket path.
package natsx

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"PetChat/logger"
	"PetChat/protocol"
	"PetChat/tools/errs"
)

// Bridge implements chat.ServerEvents on top of a NATS connection. Publish
// failures are logged and never propagate back into the serving path.
type Bridge struct {
	conn   *nats.Conn
	prefix string
}

// NewBridge connects to url and publishes under prefix (default "petchat").
func NewBridge(url, prefix string) (*Bridge, error) {
	if prefix == "" {
		prefix = "petchat"
	}
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, errs.Wrap(err, "nats connect")
	}
	return &Bridge{conn: conn, prefix: prefix}, nil
}

func (b *Bridge) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

func (b *Bridge) publish(subject string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := b.conn.Publish(b.prefix+"."+subject, raw); err != nil {
		logger.Debugf("[NATS] publish %s failed: %v", subject, err)
	}
}

func (b *Bridge) OnClientConnected(userID, userName, remote string) {
	b.publish("user_joined", map[string]string{
		"user_id": userID, "user_name": userName, "remote": remote,
	})
}

func (b *Bridge) OnClientDisconnected(userID string) {
	b.publish("user_left", map[string]string{"user_id": userID})
}

func (b *Bridge) OnChatMessage(msg *protocol.ChatMessage) {
	b.publish("chat_message", msg)
}

func (b *Bridge) OnAIRequest(userID string, req *protocol.AIAnalysisRequest) {
	b.publish("ai_request", map[string]any{
		"user_id":         userID,
		"conversation_id": req.ConversationID,
		"context_len":     len(req.ContextSnapshot),
	})
}

func (b *Bridge) OnStats(msgCount, aiReqCount int64) {
	b.publish("stats", map[string]int64{
		"messages": msgCount, "ai_requests": aiReqCount,
	})
}
