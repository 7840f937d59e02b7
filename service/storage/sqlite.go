package storage

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"PetChat/protocol"
	"PetChat/tools/errs"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id   TEXT NOT NULL,
	sender_name TEXT NOT NULL DEFAULT '',
	target      TEXT NOT NULL,
	content     TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);

CREATE TABLE IF NOT EXISTS users (
	user_id   TEXT PRIMARY KEY,
	user_name TEXT NOT NULL DEFAULT '',
	avatar    TEXT NOT NULL DEFAULT '',
	last_seen INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS memories (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	content    TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
`

// SQLiteStore persists to a local SQLite file (or :memory: in tests). The
// pure-Go driver keeps the binary cgo-free.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(err, "open sqlite")
	}
	// 单写者，避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(err, "apply schema")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *protocol.ChatMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (sender_id, sender_name, target, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.SenderID, msg.SenderName, msg.Target, msg.Content, time.Now().UnixMilli())
	return errs.Wrap(err, "append message")
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, limit int) ([]protocol.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT sender_id, sender_name, target, content
		 FROM messages ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errs.Wrap(err, "query messages")
	}
	defer rows.Close()

	var out []protocol.ChatMessage
	for rows.Next() {
		var m protocol.ChatMessage
		m.Type = protocol.KindChatMessage
		if err := rows.Scan(&m.SenderID, &m.SenderName, &m.Target, &m.Content); err != nil {
			return nil, errs.Wrap(err, "scan message")
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(err, "iterate messages")
	}
	// 按时间正序返回
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLiteStore) UpsertUser(ctx context.Context, user protocol.UserInfo) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, user_name, avatar, last_seen) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET user_name = excluded.user_name,
		   avatar = excluded.avatar, last_seen = excluded.last_seen`,
		user.UserID, user.UserName, user.Avatar, time.Now().UnixMilli())
	return errs.Wrap(err, "upsert user")
}

func (s *SQLiteStore) SaveMemory(ctx context.Context, item protocol.MemoryItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (content, category, created_at) VALUES (?, ?, ?)`,
		item.Content, item.Category, time.Now().UnixMilli())
	return errs.Wrap(err, "save memory")
}

func (s *SQLiteStore) Memories(ctx context.Context, limit int) ([]protocol.MemoryItem, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT content, category FROM memories ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errs.Wrap(err, "query memories")
	}
	defer rows.Close()

	var out []protocol.MemoryItem
	for rows.Next() {
		var m protocol.MemoryItem
		if err := rows.Scan(&m.Content, &m.Category); err != nil {
			return nil, errs.Wrap(err, "scan memory")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
