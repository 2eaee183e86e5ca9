package message

import (
	"context"
	"fmt"
	"time"

	"github.com/christopherjohns/groupchat/internal/common"
	"github.com/christopherjohns/groupchat/internal/dbx"
)

// SQLiteStore keeps created_at as unix nanoseconds so ordering and
// round-tripping do not depend on the driver's time formatting.
type SQLiteStore struct {
	db  dbx.DBTX
	now func() time.Time
}

func NewSQLiteStore(db dbx.DBTX) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// Append inserts msg. The stored created_at is never earlier than the
// previous row's; the clamp runs inside the INSERT so concurrent appenders
// cannot interleave between reading the clock and writing the row.
func (s *SQLiteStore) Append(ctx context.Context, msg *Message) error {
	at := msg.CreatedAt
	if at.IsZero() {
		at = s.now()
	}

	var id, nanos int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (author, body, created_at)
		VALUES (?, ?, MAX(?, COALESCE(
			(SELECT created_at FROM messages ORDER BY id DESC LIMIT 1), 0)))
		RETURNING id, created_at`,
		msg.Author, msg.Body, at.UnixNano()).Scan(&id, &nanos)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w: %w", common.ErrStorageUnavailable, err)
	}

	msg.ID = id
	msg.CreatedAt = time.Unix(0, nanos).UTC()
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]*Message, error) {
	if limit <= 0 {
		return []*Message{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, author, body, created_at FROM (
			SELECT id, author, body, created_at FROM messages
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w: %w", common.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	msgs := make([]*Message, 0, limit)
	for rows.Next() {
		var (
			m     Message
			nanos int64
		)
		if err := rows.Scan(&m.ID, &m.Author, &m.Body, &nanos); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w: %w", common.ErrStorageUnavailable, err)
		}
		m.CreatedAt = time.Unix(0, nanos).UTC()
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w: %w", common.ErrStorageUnavailable, err)
	}
	return msgs, nil
}
