// Package session serializes work per chat through the persisted is_locking flag.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"webhook-chatter/internal/metrics"
	"webhook-chatter/internal/storage"
)

// Notifier delivers the busy notice to a chat.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text, parseMode string) (int, error)
}

// Manager is a per-chat mutex whose state lives in the store, so every server
// instance sharing the database sees the same lock.
type Manager struct {
	store    storage.Store
	notifier Notifier
	busyText string
	logger   zerolog.Logger

	releaseAttempts uint64
	releaseDelay    time.Duration
}

func NewManager(store storage.Store, notifier Notifier, busyText string, logger zerolog.Logger) *Manager {
	return &Manager{
		store:           store,
		notifier:        notifier,
		busyText:        busyText,
		logger:          logger.With().Str("component", "session").Logger(),
		releaseAttempts: 3,
		releaseDelay:    200 * time.Millisecond,
	}
}

// Lease is one successful acquisition of a chat lock. Token identifies the holder so
// a release never clears a lock that was swept and taken by a later event.
type Lease struct {
	ChatID int64
	Token  string
}

// TryAcquire makes sure the chat has a user row and takes its lock. When the lock is
// already held the busy notice is sent and false is returned; nothing is written.
func (m *Manager) TryAcquire(ctx context.Context, user storage.ChatUser) (Lease, bool, error) {
	if _, err := storage.EnsureUser(ctx, m.store, user); err != nil {
		return Lease{}, false, fmt.Errorf("ensure chat user %d: %w", user.ChatID, err)
	}
	lease := Lease{ChatID: user.ChatID, Token: uuid.NewString()}
	ok, err := m.store.AcquireLock(ctx, user.ChatID, lease.Token)
	if err != nil {
		return Lease{}, false, fmt.Errorf("acquire lock for chat %d: %w", user.ChatID, err)
	}
	if !ok {
		metrics.BusyRejections.Inc()
		m.logger.Info().Int64("chat_id", user.ChatID).Msg("chat busy, rejecting event")
		if m.notifier != nil {
			if _, err := m.notifier.SendMessage(ctx, user.ChatID, m.busyText, ""); err != nil {
				m.logger.Warn().Err(err).Int64("chat_id", user.ChatID).Msg("failed to send busy notice")
			}
		}
		return Lease{}, false, nil
	}
	metrics.LockAcquisitions.Inc()
	return lease, true, nil
}

// Release clears the lock held by lease. It ignores cancellation of ctx and retries
// briefly, because a lock left set locks the chat out until the sweeper runs. A lease
// whose lock was already swept is not an error.
func (m *Manager) Release(ctx context.Context, lease Lease) error {
	ctx = context.WithoutCancel(ctx)
	attempts := m.releaseAttempts
	if attempts == 0 {
		attempts = 1
	}
	var released bool
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(m.releaseDelay), attempts-1), ctx)
	err := backoff.Retry(func() error {
		var err error
		released, err = m.store.ReleaseLock(ctx, lease.ChatID, lease.Token)
		return err
	}, b)
	if err != nil {
		metrics.LockReleases.WithLabelValues("error").Inc()
		m.logger.Error().Err(err).Int64("chat_id", lease.ChatID).Msg("failed to release chat lock")
		return fmt.Errorf("release lock for chat %d: %w", lease.ChatID, err)
	}
	if !released {
		metrics.LockReleases.WithLabelValues("lost").Inc()
		m.logger.Warn().Int64("chat_id", lease.ChatID).Msg("chat lock was swept before release")
		return nil
	}
	metrics.LockReleases.WithLabelValues("ok").Inc()
	return nil
}

// Do runs fn while holding the chat lock. Release happens exactly once on every exit
// path after a successful acquire, including a panic inside fn, which is recovered
// and reported as an error. acquired is false when the chat was busy.
func (m *Manager) Do(ctx context.Context, user storage.ChatUser, fn func(ctx context.Context) error) (acquired bool, err error) {
	lease, ok, err := m.TryAcquire(ctx, user)
	if err != nil || !ok {
		return false, err
	}
	acquired = true
	defer func() {
		if rerr := m.Release(ctx, lease); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while holding lock for chat %d: %v", user.ChatID, r)
		}
	}()
	return true, fn(ctx)
}
