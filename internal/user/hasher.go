package user

import (
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/crypto/bcrypt"
)

// maxBcryptSecret is the longest input bcrypt accepts.
const maxBcryptSecret = 72

// Hasher turns secrets into one-way digests and checks them.
type Hasher interface {
	Hash(secret string) (string, error)
	// Compare returns true when secret matches digest.
	Compare(digest, secret string) bool
}

type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher using cost, clamped to bcrypt's valid range.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(secret string) (string, error) {
	b, err := bcrypt.GenerateFromPassword(bcryptInput(secret), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h *BcryptHasher) Compare(digest, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), bcryptInput(secret)) == nil
}

// bcryptInput passes short secrets through unchanged. Longer ones are
// reduced to the base64 of their SHA-256 so every byte still counts.
func bcryptInput(secret string) []byte {
	if len(secret) <= maxBcryptSecret {
		return []byte(secret)
	}
	sum := sha256.Sum256([]byte(secret))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}
