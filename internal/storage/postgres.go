package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store on the users and chats tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) GetUser(ctx context.Context, chatID int64) (*ChatUser, error) {
	u := &ChatUser{}
	err := s.pool.QueryRow(ctx, `
		SELECT chat_id, username, first_name, last_name, is_locking, locked_at
		FROM users WHERE chat_id = $1
	`, chatID).Scan(
		&u.ChatID,
		&u.Username,
		&u.FirstName,
		&u.LastName,
		&u.IsLocking,
		&u.LockedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user ChatUser) (*ChatUser, error) {
	u := &ChatUser{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (chat_id, username, first_name, last_name, is_locking)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING chat_id, username, first_name, last_name, is_locking, locked_at
	`, user.ChatID, user.Username, user.FirstName, user.LastName).Scan(
		&u.ChatID,
		&u.Username,
		&u.FirstName,
		&u.LastName,
		&u.IsLocking,
		&u.LockedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return u, nil
}

// AcquireLock flips is_locking from false to true in a single conditional update, so
// of two racing acquirers at most one sees a changed row.
func (s *PostgresStore) AcquireLock(ctx context.Context, chatID int64, token string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET is_locking = TRUE, locked_at = NOW(), lock_token = $2
		WHERE chat_id = $1 AND is_locking = FALSE
	`, chatID, token)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLock clears the lock only while token still holds it. A lock that was swept
// and taken by another event is left alone.
func (s *PostgresStore) ReleaseLock(ctx context.Context, chatID int64, token string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET is_locking = FALSE, locked_at = NULL, lock_token = NULL
		WHERE chat_id = $1 AND is_locking AND lock_token = $2
	`, chatID, token)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ReleaseStaleLocks(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET is_locking = FALSE, locked_at = NULL, lock_token = NULL
		WHERE is_locking AND locked_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, msg ChatMessage) (int64, error) {
	from, err := json.Marshal(msg.From)
	if err != nil {
		return 0, fmt.Errorf("encode from: %w", err)
	}
	entities := msg.Entities
	if entities == nil {
		entities = []Entity{}
	}
	ents, err := json.Marshal(entities)
	if err != nil {
		return 0, fmt.Errorf("encode entities: %w", err)
	}
	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO chats (chat_id, text, "from", entities, date, message_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, msg.ChatID, msg.Text, from, ents, msg.Date, msg.MessageID).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *PostgresStore) RecentMessages(ctx context.Context, chatID int64, limit int, beforeID int64) ([]ChatMessage, error) {
	var lim any = limit
	if limit <= 0 {
		lim = nil // LIMIT NULL returns every row
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, chat_id, text, "from", entities, date, message_id FROM (
			SELECT id, chat_id, text, "from", entities, date, message_id
			FROM chats
			WHERE chat_id = $1 AND ($2::bigint = 0 OR id < $2::bigint)
			ORDER BY id DESC
			LIMIT $3
		) recent
		ORDER BY id ASC
	`, chatID, beforeID, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatMessage
	for rows.Next() {
		var (
			m         ChatMessage
			from      []byte
			ents      []byte
			messageID int64
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Text, &from, &ents, &m.Date, &messageID); err != nil {
			return nil, err
		}
		if len(from) > 0 {
			if err := json.Unmarshal(from, &m.From); err != nil {
				return nil, fmt.Errorf("decode from of row %d: %w", m.ID, err)
			}
		}
		if len(ents) > 0 {
			if err := json.Unmarshal(ents, &m.Entities); err != nil {
				return nil, fmt.Errorf("decode entities of row %d: %w", m.ID, err)
			}
		}
		m.MessageID = int(messageID)
		out = append(out, m)
	}
	return out, rows.Err()
}
