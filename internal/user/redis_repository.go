package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/christopherjohns/groupchat/internal/common"
	"github.com/redis/go-redis/v9"
)

const redisUsersKey = "chat:users"

type redisUser struct {
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// RedisRepository stores users in one hash keyed by username. HSETNX makes
// registration atomic.
type RedisRepository struct {
	client redis.Cmdable
}

func NewRedisRepository(client redis.Cmdable) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) Create(ctx context.Context, u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(redisUser{PasswordHash: u.PasswordHash, CreatedAt: u.CreatedAt})
	if err != nil {
		return fmt.Errorf("redis: marshal user: %w", err)
	}

	created, err := r.client.HSetNX(ctx, redisUsersKey, u.Username, data).Result()
	if err != nil {
		return fmt.Errorf("redis: create user: %w: %w", common.ErrStorageUnavailable, err)
	}
	if !created {
		return fmt.Errorf("create user %q: %w", u.Username, common.ErrDuplicateUsername)
	}
	return nil
}

func (r *RedisRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	raw, err := r.client.HGet(ctx, redisUsersKey, username).Result()
	if errors.Is(err, redis.Nil) {
		return nil, common.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get user: %w: %w", common.ErrStorageUnavailable, err)
	}

	var ru redisUser
	if err := json.Unmarshal([]byte(raw), &ru); err != nil {
		return nil, fmt.Errorf("redis: decode user %q: %w", username, err)
	}
	return &User{Username: username, PasswordHash: ru.PasswordHash, CreatedAt: ru.CreatedAt}, nil
}
