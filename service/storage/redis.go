package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"PetChat/protocol"
	"PetChat/tools/errs"
)

const (
	keyMessages = "petchat:messages"
	keyMemories = "petchat:memories"
	keyUsers    = "petchat:users"

	// 滚动窗口上限
	maxStoredMessages = 1000
	maxStoredMemories = 500
)

// RedisStore keeps history in capped Redis lists and users in a hash.
type RedisStore struct {
	client *redis.Client
}

// RedisOptions mirrors the fields the config file exposes.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errs.Wrap(err, "redis ping")
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) AppendMessage(ctx context.Context, msg *protocol.ChatMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return errs.Wrap(err, "marshal message")
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, keyMessages, raw)
	pipe.LTrim(ctx, keyMessages, 0, maxStoredMessages-1)
	_, err = pipe.Exec(ctx)
	return errs.Wrap(err, "append message")
}

func (s *RedisStore) RecentMessages(ctx context.Context, limit int) ([]protocol.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	raws, err := s.client.LRange(ctx, keyMessages, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, errs.Wrap(err, "range messages")
	}
	// LPUSH 存储为倒序，读出后翻转为时间正序
	out := make([]protocol.ChatMessage, 0, len(raws))
	for i := len(raws) - 1; i >= 0; i-- {
		var m protocol.ChatMessage
		if json.Unmarshal([]byte(raws[i]), &m) != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *RedisStore) UpsertUser(ctx context.Context, user protocol.UserInfo) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return errs.Wrap(err, "marshal user")
	}
	return errs.Wrap(s.client.HSet(ctx, keyUsers, user.UserID, raw).Err(), "upsert user")
}

func (s *RedisStore) SaveMemory(ctx context.Context, item protocol.MemoryItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return errs.Wrap(err, "marshal memory")
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, keyMemories, raw)
	pipe.LTrim(ctx, keyMemories, 0, maxStoredMemories-1)
	_, err = pipe.Exec(ctx)
	return errs.Wrap(err, "save memory")
}

func (s *RedisStore) Memories(ctx context.Context, limit int) ([]protocol.MemoryItem, error) {
	if limit <= 0 {
		limit = 100
	}
	raws, err := s.client.LRange(ctx, keyMemories, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, errs.Wrap(err, "range memories")
	}
	out := make([]protocol.MemoryItem, 0, len(raws))
	for _, raw := range raws {
		var m protocol.MemoryItem
		if json.Unmarshal([]byte(raw), &m) != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
