package chat

import (
	"sync"

	"PetChat/protocol"
)

// Registry is the single source of truth for routing: user_id → live session.
// All mutation goes through it; broadcasts snapshot the recipient list under
// the lock and do their I/O outside it.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]*Session)}
}

// Put inserts or replaces the session for s.UserID and returns the session it
// displaced, if any. The caller decides what to do with the old connection.
func (r *Registry) Put(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.byUser[s.UserID]
	r.byUser[s.UserID] = s
	if old == s {
		return nil
	}
	return old
}

// RemoveIfConn drops the entry for userID only when it still routes to connID.
// A session superseded by re-registration must not tear down its replacement.
func (r *Registry) RemoveIfConn(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byUser[userID]
	if !ok || cur.ConnID != connID {
		return false
	}
	delete(r.byUser, userID)
	return true
}

func (r *Registry) Get(userID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byUser[userID]
}

// Snapshot copies every session except excludeUser.
func (r *Registry) Snapshot(excludeUser string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byUser))
	for uid, s := range r.byUser {
		if uid == excludeUser {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Users lists user infos except excludeUser, for online_users envelopes.
func (r *Registry) Users(excludeUser string) []protocol.UserInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.UserInfo, 0, len(r.byUser))
	for uid, s := range r.byUser {
		if uid == excludeUser {
			continue
		}
		out = append(out, s.Info())
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
