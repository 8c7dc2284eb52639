package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps users and messages in process memory. Locks held here do not
// survive a restart and are not shared between instances; it backs development runs
// without DATABASE_URL and tests.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	nextID   int64
	users    map[int64]ChatUser
	messages map[int64][]ChatMessage
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      func() time.Time { return time.Now().UTC() },
		users:    make(map[int64]ChatUser),
		messages: make(map[int64][]ChatMessage),
	}
}

func (s *MemoryStore) GetUser(ctx context.Context, chatID int64) (*ChatUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[chatID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, user ChatUser) (*ChatUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ChatID]; ok {
		return nil, ErrUserExists
	}
	s.users[user.ChatID] = user
	return &user, nil
}

func (s *MemoryStore) AcquireLock(ctx context.Context, chatID int64, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[chatID]
	if !ok || u.IsLocking {
		return false, nil
	}
	now := s.now()
	u.IsLocking = true
	u.LockedAt = &now
	u.LockToken = token
	s.users[chatID] = u
	return true, nil
}

func (s *MemoryStore) ReleaseLock(ctx context.Context, chatID int64, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[chatID]
	if !ok || !u.IsLocking || u.LockToken != token {
		return false, nil
	}
	s.users[chatID] = unlocked(u)
	return true, nil
}

func (s *MemoryStore) ReleaseStaleLocks(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, u := range s.users {
		if u.IsLocking && u.LockedAt != nil && u.LockedAt.Before(before) {
			s.users[id] = unlocked(u)
			n++
		}
	}
	return n, nil
}

func unlocked(u ChatUser) ChatUser {
	u.IsLocking = false
	u.LockedAt = nil
	u.LockToken = ""
	return u
}

func (s *MemoryStore) InsertMessage(ctx context.Context, msg ChatMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg.ID = s.nextID
	msg.Entities = append([]Entity(nil), msg.Entities...)
	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], msg)
	return msg.ID, nil
}

func (s *MemoryStore) RecentMessages(ctx context.Context, chatID int64, limit int, beforeID int64) ([]ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ChatMessage
	for _, m := range s.messages[chatID] {
		if beforeID > 0 && m.ID >= beforeID {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	// copy so callers cannot mutate stored rows
	return append([]ChatMessage(nil), out...), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() {}
