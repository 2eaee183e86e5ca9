package user

import "time"

// User is a registered account. PasswordHash is a bcrypt digest.
type User struct {
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}
