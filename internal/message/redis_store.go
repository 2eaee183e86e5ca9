package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/christopherjohns/groupchat/internal/common"
	"github.com/redis/go-redis/v9"
)

const (
	redisListKey = "chat:messages"
	redisSeqKey  = "chat:messages:seq"

	// redisAppendRetries bounds optimistic-lock retries when appenders race.
	redisAppendRetries = 1000
)

// RedisStore persists messages in a single Redis list, oldest at the head.
type RedisStore struct {
	client  redis.UniversalClient
	maxSize int64
	now     func() time.Time
}

// NewRedisStore creates a RedisStore that retains up to maxSize messages.
// A maxSize of 0 keeps everything.
func NewRedisStore(client redis.UniversalClient, maxSize int) *RedisStore {
	return &RedisStore{
		client:  client,
		maxSize: int64(maxSize),
		now:     time.Now,
	}
}

// Append assigns the next sequence number and pushes the message, trimming
// to maxSize when set. Sequence, timestamp and push commit in one
// transaction watched on the sequence key, so list order matches ID order
// and created_at never decreases along the list.
func (s *RedisStore) Append(ctx context.Context, msg *Message) error {
	for i := 0; i < redisAppendRetries; i++ {
		var stored Message
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			m, err := s.appendTx(ctx, tx, *msg)
			if err != nil {
				return err
			}
			stored = m
			return nil
		}, redisSeqKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis: append message: %w: %w", common.ErrStorageUnavailable, err)
		}
		*msg = stored
		return nil
	}
	return fmt.Errorf("redis: append message: %w: too many concurrent writers", common.ErrStorageUnavailable)
}

func (s *RedisStore) appendTx(ctx context.Context, tx *redis.Tx, m Message) (Message, error) {
	seq, err := tx.Get(ctx, redisSeqKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return m, err
	}
	seq++
	if m.ID == 0 {
		m.ID = seq
	}
	if m.CreatedAt.IsZero() {
		last, err := s.lastCreatedAt(ctx, tx)
		if err != nil {
			return m, err
		}
		at := s.now().UTC()
		if at.Before(last) {
			at = last
		}
		m.CreatedAt = at
	}

	data, err := json.Marshal(m)
	if err != nil {
		return m, fmt.Errorf("marshal message: %w", err)
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisSeqKey, seq, 0)
		pipe.RPush(ctx, redisListKey, data)
		if s.maxSize > 0 {
			pipe.LTrim(ctx, redisListKey, -s.maxSize, -1)
		}
		return nil
	})
	return m, err
}

// lastCreatedAt returns the timestamp of the newest stored message, or the
// zero time when the list is empty.
func (s *RedisStore) lastCreatedAt(ctx context.Context, tx *redis.Tx) (time.Time, error) {
	v, err := tx.LIndex(ctx, redisListKey, -1).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	var last Message
	if err := json.Unmarshal([]byte(v), &last); err != nil {
		return time.Time{}, nil
	}
	return last.CreatedAt, nil
}

// Recent returns the last n messages.
func (s *RedisStore) Recent(ctx context.Context, n int) ([]*Message, error) {
	if n <= 0 {
		return []*Message{}, nil
	}

	vals, err := s.client.LRange(ctx, redisListKey, int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read recent messages: %w: %w", common.ErrStorageUnavailable, err)
	}

	msgs := make([]*Message, 0, len(vals))
	for _, v := range vals {
		var m Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			continue
		}
		msgs = append(msgs, &m)
	}
	return msgs, nil
}

// Count returns the number of stored messages.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.LLen(ctx, redisListKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count messages: %w: %w", common.ErrStorageUnavailable, err)
	}
	return int(n), nil
}
