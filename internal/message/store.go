package message

import (
	"context"
	"sync"
	"time"
)

// Store is the interface for message persistence backends.
type Store interface {
	// Append persists msg, filling in ID and CreatedAt when unset.
	Append(ctx context.Context, msg *Message) error
	// Recent returns up to limit most recently inserted messages, oldest first.
	Recent(ctx context.Context, limit int) ([]*Message, error)
}

// MemoryStore keeps messages in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	msgs    []*Message
	nextID  int64
	lastAt  time.Time
	maxSize int
	now     func() time.Time
}

// NewMemoryStore creates a store that retains up to maxSize messages.
// A maxSize of 0 keeps everything.
func NewMemoryStore(maxSize int) *MemoryStore {
	return &MemoryStore{
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Append adds a message to the history.
func (s *MemoryStore) Append(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	if msg.ID == 0 {
		msg.ID = s.nextID
	}
	if msg.CreatedAt.IsZero() {
		at := s.now().UTC()
		// Wall clock can step backwards; keep timestamps non-decreasing.
		if at.Before(s.lastAt) {
			at = s.lastAt
		}
		msg.CreatedAt = at
	}
	if msg.CreatedAt.After(s.lastAt) {
		s.lastAt = msg.CreatedAt
	}

	stored := *msg
	s.msgs = append(s.msgs, &stored)
	if s.maxSize > 0 && len(s.msgs) > s.maxSize {
		s.msgs = s.msgs[len(s.msgs)-s.maxSize:]
	}
	return nil
}

// Recent returns the last n messages.
func (s *MemoryStore) Recent(_ context.Context, n int) ([]*Message, error) {
	if n <= 0 {
		return []*Message{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if len(s.msgs) > n {
		start = len(s.msgs) - n
	}
	result := make([]*Message, 0, len(s.msgs)-start)
	for _, m := range s.msgs[start:] {
		c := *m
		result = append(result, &c)
	}
	return result, nil
}

// Count returns the number of stored messages.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}
