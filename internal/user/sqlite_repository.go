package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/christopherjohns/groupchat/internal/common"
	"github.com/christopherjohns/groupchat/internal/dbx"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Create(ctx context.Context, u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		u.Username, u.PasswordHash, u.CreatedAt.UnixNano())
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return fmt.Errorf("create user %q: %w", u.Username, common.ErrDuplicateUsername)
		}
		return fmt.Errorf("failed to insert user: %w: %w", common.ErrStorageUnavailable, err)
	}
	return nil
}

func (r *SQLiteRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	var (
		u     User
		nanos int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT username, password_hash, created_at FROM users WHERE username = ?`, username).
		Scan(&u.Username, &u.PasswordHash, &nanos)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %q: %w: %w", username, common.ErrStorageUnavailable, err)
	}
	u.CreatedAt = time.Unix(0, nanos).UTC()
	return &u, nil
}

// isSQLiteUniqueViolation matches both the extended code and the primary
// SQLITE_CONSTRAINT code, depending on whether extended codes are enabled.
// users has no other constraint that valid input can trip.
func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}
