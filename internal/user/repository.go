package user

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/christopherjohns/groupchat/internal/common"
)

// Repository persists users. Create must fail with common.ErrDuplicateUsername
// when the username is taken, enforced atomically by the backend.
// GetByUsername returns common.ErrUserNotFound for unknown users.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByUsername(ctx context.Context, username string) (*User, error)
}

// MemoryRepository keeps users in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]User)}
}

func (r *MemoryRepository) Create(_ context.Context, u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[u.Username]; ok {
		return fmt.Errorf("create user %q: %w", u.Username, common.ErrDuplicateUsername)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	r.users[u.Username] = *u
	return nil
}

func (r *MemoryRepository) GetByUsername(_ context.Context, username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[username]
	if !ok {
		return nil, common.ErrUserNotFound
	}
	return &u, nil
}
