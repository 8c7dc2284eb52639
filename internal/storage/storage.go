package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUserExists is returned by CreateUser when a user row for the chat already exists.
var ErrUserExists = errors.New("chat user already exists")

// ChatUser is the per-chat identity row. IsLocking is the session lock flag and is
// only mutated through AcquireLock, ReleaseLock and ReleaseStaleLocks. LockToken
// identifies the holder of the current lock.
type ChatUser struct {
	ChatID    int64      `json:"chat_id"`
	Username  string     `json:"username"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	IsLocking bool       `json:"is_locking"`
	LockedAt  *time.Time `json:"locked_at,omitempty"`
	LockToken string     `json:"-"`
}

// Sender describes who wrote a message. JSON names follow the Telegram user object so
// the stored "from" column reads the same as the webhook payload.
type Sender struct {
	ID           int64  `json:"id"`
	IsBot        bool   `json:"is_bot"`
	Username     string `json:"username,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// Entity is a platform annotation over a span of the message text.
type Entity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	URL    string `json:"url,omitempty"`
}

// ChatMessage is one persisted turn. Two are written per exchange: the inbound
// message and the bot's answer. Records are immutable once written and ID grows
// monotonically with insertion order.
type ChatMessage struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	Text      string    `json:"text"`
	From      Sender    `json:"from"`
	Entities  []Entity  `json:"entities"`
	Date      time.Time `json:"date"`
	MessageID int       `json:"message_id"`
}

// Store abstracts persistence of chat users and messages.
// AcquireLock records token as the lock holder; ReleaseLock clears the lock only while
// token still holds it and reports whether it did.
// RecentMessages returns rows oldest first.
// Implementations must be safe for concurrent use.
type Store interface {
	GetUser(ctx context.Context, chatID int64) (*ChatUser, error)
	CreateUser(ctx context.Context, user ChatUser) (*ChatUser, error)

	AcquireLock(ctx context.Context, chatID int64, token string) (bool, error)
	ReleaseLock(ctx context.Context, chatID int64, token string) (bool, error)
	ReleaseStaleLocks(ctx context.Context, before time.Time) (int64, error)

	InsertMessage(ctx context.Context, msg ChatMessage) (int64, error)
	RecentMessages(ctx context.Context, chatID int64, limit int, beforeID int64) ([]ChatMessage, error)

	Ping(ctx context.Context) error
	Close()
}

// EnsureUser returns the stored user for the chat, creating it when absent. Two
// concurrent first events for the same chat may both take the create branch; the
// loser's insert hits the unique constraint and falls back to reading the winner's row.
func EnsureUser(ctx context.Context, s Store, user ChatUser) (*ChatUser, error) {
	existing, err := s.GetUser(ctx, user.ChatID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if existing != nil {
		return existing, nil
	}
	user.IsLocking = false
	user.LockedAt = nil
	created, err := s.CreateUser(ctx, user)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, ErrUserExists) {
		return nil, fmt.Errorf("create user: %w", err)
	}
	existing, err = s.GetUser(ctx, user.ChatID)
	if err != nil {
		return nil, fmt.Errorf("get user after create race: %w", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("user %d vanished after create race", user.ChatID)
	}
	return existing, nil
}
