package message

import (
	"context"
	"fmt"

	"github.com/christopherjohns/groupchat/internal/common"
	"github.com/christopherjohns/groupchat/internal/dbx"
)

type PostgresStore struct {
	db dbx.DBTX
}

func NewPostgresStore(db dbx.DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts the message; id and created_at come from the column defaults.
func (s *PostgresStore) Append(ctx context.Context, msg *Message) error {
	query :=
		`INSERT INTO messages (author, body)
		 VALUES ($1, $2)
		 RETURNING id, created_at
		 `

	err := s.db.QueryRowContext(ctx, query, msg.Author, msg.Body).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w: %w", common.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]*Message, error) {
	if limit <= 0 {
		return []*Message{}, nil
	}

	query :=
		`SELECT id, author, body, created_at FROM (
		   SELECT id, author, body, created_at FROM messages
		   ORDER BY id DESC
		   LIMIT $1
		 ) recent
		 ORDER BY id ASC
		 `

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w: %w", common.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	msgs := make([]*Message, 0, limit)
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.Author, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w: %w", common.ErrStorageUnavailable, err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w: %w", common.ErrStorageUnavailable, err)
	}
	return msgs, nil
}
