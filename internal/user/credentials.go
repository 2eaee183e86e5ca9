// Package user implements the credential store: registration and password
// verification on top of a pluggable user repository.
package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/christopherjohns/groupchat/internal/common"
)

// CredentialStore registers users and verifies their passwords.
type CredentialStore struct {
	repo   Repository
	hasher Hasher
}

func NewCredentialStore(repo Repository, hasher Hasher) *CredentialStore {
	return &CredentialStore{repo: repo, hasher: hasher}
}

// Register stores username with a digest of secret. Concurrent registrations
// of one username are settled by the repository: exactly one wins and the
// rest get common.ErrDuplicateUsername.
func (s *CredentialStore) Register(ctx context.Context, username, secret string) error {
	if strings.TrimSpace(username) == "" || secret == "" {
		return common.ErrMalformedInput
	}

	digest, err := s.hasher.Hash(secret)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.repo.Create(ctx, &User{Username: username, PasswordHash: digest}); err != nil {
		if errors.Is(err, common.ErrDuplicateUsername) {
			return common.ErrDuplicateUsername
		}
		return err
	}
	return nil
}

// Verify checks secret against the stored digest and returns the username.
func (s *CredentialStore) Verify(ctx context.Context, username, secret string) (string, error) {
	if strings.TrimSpace(username) == "" || secret == "" {
		return "", common.ErrMalformedInput
	}

	u, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	if !s.hasher.Compare(u.PasswordHash, secret) {
		return "", common.ErrInvalidCredential
	}
	return u.Username, nil
}
